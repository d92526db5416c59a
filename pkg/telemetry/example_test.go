package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/tasktree/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Engine started")

	fmt.Println("Telemetry ready")
	// Output: Telemetry ready
}

// Example_eventPublishing demonstrates synchronous event delivery.
func Example_eventPublishing() {
	tel := telemetry.NewNopTelemetry()
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		if event.TaskID == "" {
			fmt.Println(event.Type)
			return
		}
		fmt.Printf("%s %s\n", event.Type, event.TaskID)
	}, nil)

	_ = tel.Events.PublishTreeCreated("tree-1", "shop", 6)
	_ = tel.Events.PublishTaskStatusChanged("tree-1", "task-7", "pending", "coding")
	_ = tel.Events.PublishCheckpointCreated("tree-1", "task-7", "cp-1", "before refactor")

	// Output:
	// tree:created
	// task:status-changed task-7
	// checkpoint:created task-7
}

// Example_eventFiltering demonstrates subscriber filters.
func Example_eventFiltering() {
	tel := telemetry.NewNopTelemetry()
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Tree b: %s\n", event.Type)
	}, telemetry.FilterByTreeID("tree-b"))

	_ = tel.Events.PublishTreeCreated("tree-a", "a", 3)
	_ = tel.Events.PublishTasksInterruptedReset("tree-a", []string{"t1"})
	_ = tel.Events.PublishTreeDeleted("tree-b")

	// Output:
	// Important: tasks:interrupted-reset
	// Tree b: tree:deleted
}

// Example_instrumentedOperation demonstrates wrapping work in an Operation.
func Example_instrumentedOperation() {
	tel := telemetry.NewNopTelemetry()
	defer tel.Shutdown(context.Background())

	op := tel.StartOperation(context.Background(), "create_tree",
		telemetry.AttrTreeID.String("tree-1"),
	)
	op.Logger.Info("Building tree")
	op.End(nil)

	failed := tel.StartOperation(context.Background(), "restore_checkpoint")
	failed.End(errors.New("checkpoint not found"))

	fmt.Println("Operations recorded")
	// Output: Operations recorded
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	cfg.ServiceVersion = "1.2.3"

	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1

	cfg.Metrics.ListenAddress = ":9090"

	cfg.Events.EnableAsync = true
	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}
