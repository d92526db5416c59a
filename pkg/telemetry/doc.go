// Package telemetry provides observability for the task-tree engine.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and lifecycle event publishing behind one Telemetry
// value that the orchestrator owns.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger.WithTask(treeID, taskID).Info("status updated")
//
// Log levels: trace, debug, info, warn, error, fatal.
//
// # Tracing
//
// Every facade operation runs inside an Operation, which opens a span,
// scopes a logger and feeds the operation duration histogram:
//
//	op := tel.StartOperation(ctx, "update_task_status",
//	    telemetry.AttrTreeID.String(treeID))
//	defer func() { op.End(err) }()
//
// Supported exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// All collectors live on a private registry exposed through Metrics.Handler.
// Methods on a disabled or nil *Metrics are no-ops.
//
// # Events
//
// EventPublisher delivers tree lifecycle events (tree:created,
// task:status-changed, checkpoint:restored, ...) to subscribers. Delivery
// is synchronous by default so subscribers see events in mutation order;
// EnableAsync moves delivery onto a single background goroutine.
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    // re-query executable tasks
//	}, telemetry.FilterByTreeID(treeID))
package telemetry
