package stores

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/tasktree/pkg/engine"
)

const treeFileExt = ".json"

// FileStore implements TreeStore as one <id>.json document per tree in a
// directory. Writes go to a temporary file that is renamed into place, so
// a reader never sees a partial document.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the tree documents.
func (s *FileStore) Dir() string {
	return s.dir
}

// Init creates the store directory.
func (s *FileStore) Init(_ context.Context) error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("create store directory %s: %w", s.dir, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// HealthCheck verifies the store directory exists.
func (s *FileStore) HealthCheck(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("store directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", s.dir)
	}
	return nil
}

// TreePath returns the document path for a tree ID.
func (s *FileStore) TreePath(id string) string {
	return filepath.Join(s.dir, id+treeFileExt)
}

// SaveTree writes the tree document atomically.
func (s *FileStore) SaveTree(_ context.Context, tree *engine.TaskTree) error {
	doc, err := encode(tree)
	if err != nil {
		return err
	}
	if err := validateFileID(tree.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.TreePath(tree.ID)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, doc, 0644); err != nil {
		return persistenceError("write temp file", tree.ID, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return persistenceError("rename temp file", tree.ID, err)
	}

	return nil
}

// LoadTree reads and decodes a tree document.
func (s *FileStore) LoadTree(_ context.Context, id string) (*engine.TaskTree, error) {
	if err := validateFileID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.TreePath(id))
	s.mu.Unlock()

	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, persistenceError("read tree file", id, err)
	}
	return engine.DefaultCodec.Decode(data)
}

// DeleteTree removes a tree document.
func (s *FileStore) DeleteTree(_ context.Context, id string) error {
	if err := validateFileID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.TreePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return notFound(id)
	}
	if err != nil {
		return persistenceError("remove tree file", id, err)
	}
	return nil
}

// ListTrees decodes every document in the directory, ordered by creation
// time. Unreadable documents are skipped.
func (s *FileStore) ListTrees(ctx context.Context) ([]TreeSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, persistenceError("read store directory", "", err)
	}

	trees := []TreeSummary{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, treeFileExt) {
			continue
		}
		tree, err := s.LoadTree(ctx, strings.TrimSuffix(name, treeFileExt))
		if err != nil {
			continue
		}
		trees = append(trees, Summarize(tree))
	}

	sort.Slice(trees, func(i, j int) bool {
		if !trees[i].CreatedAt.Equal(trees[j].CreatedAt) {
			return trees[i].CreatedAt.Before(trees[j].CreatedAt)
		}
		return trees[i].ID < trees[j].ID
	})
	return trees, nil
}

// validateFileID rejects IDs that would escape the store directory.
func validateFileID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return engine.NewPermanentError(fmt.Sprintf("invalid tree ID for file store: %q", id), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}
