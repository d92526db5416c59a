package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a lifecycle event of a task tree.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// TreeID is the tree the event concerns.
	TreeID string `json:"tree_id,omitempty"`

	// TaskID is the task the event concerns, if any.
	TaskID string `json:"task_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types published by the orchestrator.
const (
	EventTypeTreeCreated              = "tree:created"
	EventTypeTreeDeleted              = "tree:deleted"
	EventTypeTaskCreated              = "task:created"
	EventTypeTaskStatusChanged        = "task:status-changed"
	EventTypeTaskTestResult           = "task:test-result"
	EventTypeTaskAcceptanceTestsSet   = "task:acceptance-tests-set"
	EventTypeTaskArtifactAdded        = "task:artifact-added"
	EventTypeCheckpointCreated        = "checkpoint:created"
	EventTypeCheckpointRestored       = "checkpoint:restored"
	EventTypeGlobalCheckpointCreated  = "global-checkpoint:created"
	EventTypeGlobalCheckpointRestored = "global-checkpoint:restored"
	EventTypeTasksReset               = "tasks:reset"
	EventTypeTasksInterruptedReset    = "tasks:interrupted-reset"
	EventTypeGenerationFailed         = "generation:failed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

const eventSource = "orchestrator"

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
//
// In synchronous mode (the default) subscribers run on the publishing
// goroutine in publish order, so a subscriber observes every event of a
// mutation before the mutating call returns. In async mode a single
// background goroutine delivers batches, preserving order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = eventSource
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishTreeCreated publishes a tree created event.
func (ep *EventPublisher) PublishTreeCreated(treeID, name string, totalTasks int) error {
	return ep.Publish(Event{
		Type:    EventTypeTreeCreated,
		TreeID:  treeID,
		Message: fmt.Sprintf("Tree %s created for %s with %d tasks", treeID, name, totalTasks),
		Data: map[string]interface{}{
			"name":        name,
			"total_tasks": totalTasks,
		},
	})
}

// PublishTreeDeleted publishes a tree deleted event.
func (ep *EventPublisher) PublishTreeDeleted(treeID string) error {
	return ep.Publish(Event{
		Type:    EventTypeTreeDeleted,
		TreeID:  treeID,
		Message: fmt.Sprintf("Tree %s deleted", treeID),
	})
}

// PublishTaskCreated publishes a task created event for dynamic refinement.
func (ep *EventPublisher) PublishTaskCreated(treeID, taskID, parentID, name string) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskCreated,
		TreeID:  treeID,
		TaskID:  taskID,
		Message: fmt.Sprintf("Task %s (%s) added under %s", taskID, name, parentID),
		Data: map[string]interface{}{
			"parent_id": parentID,
			"name":      name,
		},
	})
}

// PublishTaskStatusChanged publishes a status change event.
func (ep *EventPublisher) PublishTaskStatusChanged(treeID, taskID, previous, current string) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskStatusChanged,
		TreeID:  treeID,
		TaskID:  taskID,
		Message: fmt.Sprintf("Task %s status changed from %s to %s", taskID, previous, current),
		Data: map[string]interface{}{
			"previous_status": previous,
			"new_status":      current,
		},
	})
}

// PublishTaskTestResult publishes a test result event.
func (ep *EventPublisher) PublishTaskTestResult(treeID, taskID string, passed bool, testID string) error {
	level := EventLevelInfo
	if !passed {
		level = EventLevelWarning
	}
	data := map[string]interface{}{"passed": passed}
	if testID != "" {
		data["test_id"] = testID
	}
	return ep.Publish(Event{
		Type:    EventTypeTaskTestResult,
		TreeID:  treeID,
		TaskID:  taskID,
		Message: fmt.Sprintf("Task %s test result recorded (passed=%t)", taskID, passed),
		Level:   level,
		Data:    data,
	})
}

// PublishAcceptanceTestsSet publishes an event when generated tests are attached.
func (ep *EventPublisher) PublishAcceptanceTestsSet(treeID, taskID string, count int) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskAcceptanceTestsSet,
		TreeID:  treeID,
		TaskID:  taskID,
		Message: fmt.Sprintf("Task %s received %d acceptance tests", taskID, count),
		Data: map[string]interface{}{
			"count": count,
		},
	})
}

// PublishArtifactAdded publishes an artifact append event.
func (ep *EventPublisher) PublishArtifactAdded(treeID, taskID, artifactID, path string) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskArtifactAdded,
		TreeID:  treeID,
		TaskID:  taskID,
		Message: fmt.Sprintf("Task %s produced artifact %s", taskID, path),
		Data: map[string]interface{}{
			"artifact_id": artifactID,
			"path":        path,
		},
	})
}

// PublishCheckpointCreated publishes a per-task checkpoint event.
func (ep *EventPublisher) PublishCheckpointCreated(treeID, taskID, checkpointID, name string) error {
	return ep.Publish(Event{
		Type:    EventTypeCheckpointCreated,
		TreeID:  treeID,
		TaskID:  taskID,
		Message: fmt.Sprintf("Checkpoint %s created for task %s", name, taskID),
		Data: map[string]interface{}{
			"checkpoint_id": checkpointID,
			"name":          name,
		},
	})
}

// PublishCheckpointRestored publishes a per-task rollback event.
func (ep *EventPublisher) PublishCheckpointRestored(treeID, taskID, checkpointID, previous, current string) error {
	return ep.Publish(Event{
		Type:    EventTypeCheckpointRestored,
		TreeID:  treeID,
		TaskID:  taskID,
		Message: fmt.Sprintf("Task %s restored to checkpoint %s", taskID, checkpointID),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"checkpoint_id":   checkpointID,
			"previous_status": previous,
			"new_status":      current,
		},
	})
}

// PublishGlobalCheckpointCreated publishes a whole-tree snapshot event.
func (ep *EventPublisher) PublishGlobalCheckpointCreated(treeID, checkpointID, name string, files int) error {
	return ep.Publish(Event{
		Type:    EventTypeGlobalCheckpointCreated,
		TreeID:  treeID,
		Message: fmt.Sprintf("Global checkpoint %s created for tree %s", name, treeID),
		Data: map[string]interface{}{
			"checkpoint_id": checkpointID,
			"name":          name,
			"file_changes":  files,
		},
	})
}

// PublishGlobalCheckpointRestored publishes a whole-tree rollback event.
func (ep *EventPublisher) PublishGlobalCheckpointRestored(treeID, checkpointID string, files int) error {
	return ep.Publish(Event{
		Type:    EventTypeGlobalCheckpointRestored,
		TreeID:  treeID,
		Message: fmt.Sprintf("Tree %s restored to global checkpoint %s", treeID, checkpointID),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"checkpoint_id": checkpointID,
			"file_changes":  files,
		},
	})
}

// PublishTasksReset publishes a failed-task reset event.
func (ep *EventPublisher) PublishTasksReset(treeID string, taskIDs []string, retriesReset bool) error {
	return ep.Publish(Event{
		Type:    EventTypeTasksReset,
		TreeID:  treeID,
		Message: fmt.Sprintf("Reset %d failed tasks in tree %s", len(taskIDs), treeID),
		Data: map[string]interface{}{
			"task_ids":      taskIDs,
			"retries_reset": retriesReset,
		},
	})
}

// PublishTasksInterruptedReset publishes an interrupted-task recovery event.
func (ep *EventPublisher) PublishTasksInterruptedReset(treeID string, taskIDs []string) error {
	return ep.Publish(Event{
		Type:    EventTypeTasksInterruptedReset,
		TreeID:  treeID,
		Message: fmt.Sprintf("Reset %d interrupted tasks in tree %s", len(taskIDs), treeID),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"task_ids": taskIDs,
		},
	})
}

// PublishGenerationFailed publishes an acceptance-test generation failure.
func (ep *EventPublisher) PublishGenerationFailed(treeID, taskID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeGenerationFailed,
		TreeID:  treeID,
		TaskID:  taskID,
		Message: fmt.Sprintf("Acceptance test generation failed for task %s: %s", taskID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches until shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		if len(batch) > 0 {
			ep.flushBatch(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}

		case <-tick:
			flush()

		case <-ep.ctx.Done():
			// Drain what was accepted before shutdown.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	entries := make([]subscriberEntry, len(ep.subscribers))
	copy(entries, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByTreeID creates a filter that only allows events for a specific tree.
func FilterByTreeID(treeID string) EventFilter {
	return func(event Event) bool {
		return event.TreeID == treeID
	}
}

// FilterByTaskID creates a filter that only allows events for a specific task.
func FilterByTaskID(taskID string) EventFilter {
	return func(event Event) bool {
		return event.TaskID == taskID
	}
}
