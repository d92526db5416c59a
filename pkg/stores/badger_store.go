package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/openfroyo/tasktree/pkg/engine"
)

const (
	treeKeyPrefix    = "tree/"
	summaryKeyPrefix = "summary/"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Data is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often the value log is garbage collected.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the rewrite threshold passed to RunValueLogGC.
	GCDiscardRatio float64

	// Logger receives badger's internal logs. Nil silences them.
	Logger *zerolog.Logger
}

// DefaultBadgerConfig returns a durable configuration for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests and ephemeral runs.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore implements TreeStore on an embedded BadgerDB. Each tree is
// one key, tree/<id>, holding the codec document; a small summary/<id> key
// serves listings without decoding documents.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	stopGC chan struct{}
	gcDone chan struct{}
}

// NewBadgerStore creates a store; Init opens the database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	return &BadgerStore{cfg: cfg}, nil
}

// zerologAdapter routes badger's logger interface into zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (l *zerologAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *zerologAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *zerologAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *zerologAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Init opens the database and starts value log GC when configured.
func (s *BadgerStore) Init(_ context.Context) error {
	var opts badger.Options
	if s.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.cfg.Path, 0750); err != nil {
			return fmt.Errorf("create database directory %s: %w", s.cfg.Path, err)
		}
		opts = badger.DefaultOptions(s.cfg.Path)
	}

	opts = opts.WithSyncWrites(s.cfg.SyncWrites).WithNumVersionsToKeep(1)
	if s.cfg.Logger != nil {
		opts = opts.WithLogger(&zerologAdapter{logger: s.cfg.Logger.With().Str("component", "badger").Logger()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db

	if s.cfg.GCInterval > 0 && !s.cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC()
	}
	return nil
}

func (s *BadgerStore) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.cfg.Logger != nil {
				s.cfg.Logger.Warn().Err(err).Msg("badger value log GC error")
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database is open.
func (s *BadgerStore) HealthCheck(_ context.Context) error {
	if s.db == nil || s.db.IsClosed() {
		return fmt.Errorf("database not initialized")
	}
	return nil
}

// SaveTree writes the document and summary in one transaction.
func (s *BadgerStore) SaveTree(_ context.Context, tree *engine.TaskTree) error {
	doc, err := encode(tree)
	if err != nil {
		return err
	}
	sum, err := json.Marshal(Summarize(tree))
	if err != nil {
		return persistenceError("failed to encode tree summary", tree.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(treeKeyPrefix+tree.ID), doc); err != nil {
			return err
		}
		return txn.Set([]byte(summaryKeyPrefix+tree.ID), sum)
	})
	if err != nil {
		return persistenceError("failed to save tree", tree.ID, err)
	}
	return nil
}

// LoadTree reads and decodes a tree by ID.
func (s *BadgerStore) LoadTree(_ context.Context, id string) (*engine.TaskTree, error) {
	var doc []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(treeKeyPrefix + id))
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, persistenceError("failed to load tree", id, err)
	}
	return engine.DefaultCodec.Decode(doc)
}

// DeleteTree removes a tree's document and summary.
func (s *BadgerStore) DeleteTree(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(treeKeyPrefix + id)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(treeKeyPrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(summaryKeyPrefix + id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound(id)
	}
	if err != nil {
		return persistenceError("failed to delete tree", id, err)
	}
	return nil
}

// ListTrees scans the summary keys. Results are ordered by tree ID.
func (s *BadgerStore) ListTrees(_ context.Context) ([]TreeSummary, error) {
	trees := []TreeSummary{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(summaryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sum TreeSummary
				if err := json.Unmarshal(val, &sum); err != nil {
					return err
				}
				trees = append(trees, sum)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, persistenceError("failed to list trees", "", err)
	}
	return trees, nil
}
