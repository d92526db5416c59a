package stores

import (
	"context"
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
)

// TreeSummary is the listing view of a persisted tree. It is derived from
// the tree at save time so listing never decodes documents.
type TreeSummary struct {
	ID                string            `json:"id"`
	BlueprintID       string            `json:"blueprint_id"`
	Name              string            `json:"name"`
	Status            engine.TreeStatus `json:"status"`
	TotalTasks        int               `json:"total_tasks"`
	CompletionPercent float64           `json:"completion_percent"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// StoredEvent is an append-only journal entry for a tree lifecycle event.
type StoredEvent struct {
	ID        int64     `json:"id"`
	TreeID    string    `json:"tree_id"`
	TaskID    *string   `json:"task_id,omitempty"`
	Type      string    `json:"type"`
	Payload   *string   `json:"payload,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// TreeStore persists whole trees, one record per tree keyed by tree ID.
// Every save replaces the record with the full codec document.
type TreeStore interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Tree operations
	SaveTree(ctx context.Context, tree *engine.TaskTree) error
	LoadTree(ctx context.Context, id string) (*engine.TaskTree, error)
	DeleteTree(ctx context.Context, id string) error
	ListTrees(ctx context.Context) ([]TreeSummary, error)
}

// EventJournal is implemented by stores that keep an audit trail of events.
type EventJournal interface {
	AppendEvent(ctx context.Context, event *StoredEvent) error
	ListEvents(ctx context.Context, treeID string, limit, offset int) ([]*StoredEvent, error)
}

// Summarize derives the listing view of a tree.
func Summarize(tree *engine.TaskTree) TreeSummary {
	s := TreeSummary{
		ID:                tree.ID,
		BlueprintID:       tree.BlueprintID,
		Status:            tree.Status,
		TotalTasks:        tree.Stats.TotalTasks,
		CompletionPercent: tree.Stats.CompletionPercent,
		CreatedAt:         tree.CreatedAt,
		UpdatedAt:         tree.UpdatedAt,
	}
	if tree.Root != nil {
		s.Name = tree.Root.Name
	}
	return s
}

// encode validates and serializes a tree for storage.
func encode(tree *engine.TaskTree) ([]byte, error) {
	if tree == nil || tree.ID == "" {
		return nil, engine.NewPermanentError("tree has no ID", nil).WithCode(engine.ErrCodeValidation)
	}
	return engine.DefaultCodec.Encode(tree)
}

func notFound(id string) error {
	return engine.NewNotFoundError("tree", id).WithTree(id)
}

func persistenceError(op, id string, err error) error {
	return engine.NewTransientError(op, err).WithCode(engine.ErrCodePersistence).WithTree(id)
}
