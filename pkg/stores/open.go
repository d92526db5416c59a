package stores

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Backend names a TreeStore implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBadger Backend = "badger"
	BackendFile   Backend = "file"
	BackendMemory Backend = "memory"
)

// Open creates and initializes the store for a backend. For sqlite, path is
// a directory and the database lives in tasktree.db inside it; for badger
// and file, path is the data directory itself.
func Open(ctx context.Context, backend Backend, path string, logger *zerolog.Logger) (TreeStore, error) {
	var (
		store TreeStore
		err   error
	)

	switch backend {
	case BackendSQLite:
		dbPath := path
		if dbPath != ":memory:" {
			dbPath = filepath.Join(path, "tasktree.db")
			if err := (&FileStore{dir: path}).Init(ctx); err != nil {
				return nil, err
			}
		}
		store, err = NewSQLiteStore(Config{Path: dbPath})
	case BackendBadger:
		cfg := DefaultBadgerConfig(path)
		cfg.Logger = logger
		store, err = NewBadgerStore(cfg)
	case BackendFile:
		store, err = NewFileStore(path)
	case BackendMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend: %q", backend)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", backend, err)
	}
	return store, nil
}
