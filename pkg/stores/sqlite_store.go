package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/tasktree/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements TreeStore and EventJournal using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database, enables WAL mode and applies migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveTree inserts or replaces the tree's record.
func (s *SQLiteStore) SaveTree(ctx context.Context, tree *engine.TaskTree) error {
	doc, err := encode(tree)
	if err != nil {
		return err
	}
	sum := Summarize(tree)

	query := `
		INSERT INTO task_trees (
			id, blueprint_id, name, status, total_tasks, completion_percent, document, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			blueprint_id = excluded.blueprint_id,
			name = excluded.name,
			status = excluded.status,
			total_tasks = excluded.total_tasks,
			completion_percent = excluded.completion_percent,
			document = excluded.document,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		sum.ID,
		sum.BlueprintID,
		sum.Name,
		sum.Status,
		sum.TotalTasks,
		sum.CompletionPercent,
		string(doc),
		sum.CreatedAt,
		sum.UpdatedAt,
	)
	if err != nil {
		return persistenceError("failed to save tree", tree.ID, err)
	}

	return nil
}

// LoadTree reads and decodes a tree by ID.
func (s *SQLiteStore) LoadTree(ctx context.Context, id string) (*engine.TaskTree, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM task_trees WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, persistenceError("failed to load tree", id, err)
	}

	return engine.DefaultCodec.Decode([]byte(doc))
}

// DeleteTree removes a tree's record. Journal entries are kept.
func (s *SQLiteStore) DeleteTree(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM task_trees WHERE id = ?`, id)
	if err != nil {
		return persistenceError("failed to delete tree", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return notFound(id)
	}

	return nil
}

// ListTrees lists tree summaries, oldest first.
func (s *SQLiteStore) ListTrees(ctx context.Context) ([]TreeSummary, error) {
	query := `
		SELECT id, blueprint_id, name, status, total_tasks, completion_percent, created_at, updated_at
		FROM task_trees
		ORDER BY created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistenceError("failed to list trees", "", err)
	}
	defer rows.Close()

	trees := []TreeSummary{}
	for rows.Next() {
		var sum TreeSummary
		err := rows.Scan(
			&sum.ID,
			&sum.BlueprintID,
			&sum.Name,
			&sum.Status,
			&sum.TotalTasks,
			&sum.CompletionPercent,
			&sum.CreatedAt,
			&sum.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tree: %w", err)
		}
		trees = append(trees, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trees: %w", err)
	}

	return trees, nil
}

// AppendEvent appends a new event to the journal
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *StoredEvent) error {
	query := `
		INSERT INTO tree_events (tree_id, task_id, type, payload, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.TreeID,
		event.TaskID,
		event.Type,
		event.Payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents returns a tree's journal in append order with pagination.
// A non-positive limit returns every event.
func (s *SQLiteStore) ListEvents(ctx context.Context, treeID string, limit, offset int) ([]*StoredEvent, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, tree_id, task_id, type, payload, timestamp
		FROM tree_events
		WHERE tree_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, treeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*StoredEvent{}
	for rows.Next() {
		event := &StoredEvent{}
		err := rows.Scan(
			&event.ID,
			&event.TreeID,
			&event.TaskID,
			&event.Type,
			&event.Payload,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
