package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/openfroyo/tasktree/pkg/engine"
)

// MemoryStore implements TreeStore and EventJournal in process memory.
// Documents are kept encoded, so a loaded tree never aliases a saved one.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string][]byte
	sums    map[string]TreeSummary
	events  []*StoredEvent
	eventID int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string][]byte),
		sums: make(map[string]TreeSummary),
	}
}

func (s *MemoryStore) Init(_ context.Context) error        { return nil }
func (s *MemoryStore) Close() error                         { return nil }
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

func (s *MemoryStore) SaveTree(_ context.Context, tree *engine.TaskTree) error {
	doc, err := encode(tree)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[tree.ID] = doc
	s.sums[tree.ID] = Summarize(tree)
	return nil
}

func (s *MemoryStore) LoadTree(_ context.Context, id string) (*engine.TaskTree, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return engine.DefaultCodec.Decode(doc)
}

func (s *MemoryStore) DeleteTree(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return notFound(id)
	}
	delete(s.docs, id)
	delete(s.sums, id)
	return nil
}

func (s *MemoryStore) ListTrees(_ context.Context) ([]TreeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trees := make([]TreeSummary, 0, len(s.sums))
	for _, sum := range s.sums {
		trees = append(trees, sum)
	}
	sort.Slice(trees, func(i, j int) bool {
		if !trees[i].CreatedAt.Equal(trees[j].CreatedAt) {
			return trees[i].CreatedAt.Before(trees[j].CreatedAt)
		}
		return trees[i].ID < trees[j].ID
	})
	return trees, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event *StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventID++
	event.ID = s.eventID
	stored := *event
	s.events = append(s.events, &stored)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, treeID string, limit, offset int) ([]*StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := []*StoredEvent{}
	skipped := 0
	for _, e := range s.events {
		if e.TreeID != treeID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(events) >= limit {
			break
		}
		c := *e
		events = append(events, &c)
	}
	return events, nil
}
