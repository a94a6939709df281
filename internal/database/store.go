package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"immich-migrate/internal/config"
	"immich-migrate/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MigrationRun is one recorded invocation of the migrate command.
type MigrationRun struct {
	ID            int64
	RunID         string
	RootPath      string
	ServerURL     string
	DryRun        bool
	Status        string // "running", "success", "partial" or "interrupted"
	AlbumsCreated int64
	FilesUploaded int64
	FilesSkipped  int64
	FilesFailed   int64
	StartedAt     time.Time
	FinishedAt    sql.NullTime
}

// Store keeps the history of migration runs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the history database at path and brings its
// schema up to date. path can be ":memory:" for tests.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromConfig creates a Store based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig) (*Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewStore(filepath.Join(cfg.DataDir, "history.db"))
	case "memory":
		return NewStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// CreateRun inserts a new run in "running" state and returns it with its
// database id filled in.
func (s *Store) CreateRun(runID, rootPath, serverURL string, dryRun bool, startedAt time.Time) (*MigrationRun, error) {
	res, err := s.db.Exec(
		`INSERT INTO migration_runs (run_id, root_path, server_url, dry_run, status, started_at)
		 VALUES (?, ?, ?, ?, 'running', ?)`,
		runID, rootPath, serverURL, dryRun, startedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting migration run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading inserted run id: %w", err)
	}

	return &MigrationRun{
		ID:        id,
		RunID:     runID,
		RootPath:  rootPath,
		ServerURL: serverURL,
		DryRun:    dryRun,
		Status:    "running",
		StartedAt: startedAt,
	}, nil
}

// FinishRun records the final status and counters for a run.
func (s *Store) FinishRun(id int64, status string, albumsCreated, filesUploaded, filesSkipped, filesFailed int, finishedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE migration_runs
		 SET status = ?, albums_created = ?, files_uploaded = ?, files_skipped = ?, files_failed = ?, finished_at = ?
		 WHERE id = ?`,
		status, albumsCreated, filesUploaded, filesSkipped, filesFailed, finishedAt, id,
	)
	if err != nil {
		return fmt.Errorf("finishing migration run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*MigrationRun, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, root_path, server_url, dry_run, status,
		        albums_created, files_uploaded, files_skipped, files_failed,
		        started_at, finished_at
		 FROM migration_runs
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing migration runs: %w", err)
	}
	defer rows.Close()

	var runs []*MigrationRun
	for rows.Next() {
		var run MigrationRun
		if err := rows.Scan(
			&run.ID, &run.RunID, &run.RootPath, &run.ServerURL, &run.DryRun, &run.Status,
			&run.AlbumsCreated, &run.FilesUploaded, &run.FilesSkipped, &run.FilesFailed,
			&run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning migration run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migration runs: %w", err)
	}
	return runs, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
