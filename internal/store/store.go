// File: internal/store/store.go

// Package store archives finished runs for audit. The archive is
// write-only from the agent's point of view: a stored transcript is never
// loaded back into a new run.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// New builds the configured repository. An empty backend disables
// archiving and returns nil, which callers treat as "no archive".
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.Repository, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "file":
		return NewFileStore(cfg.Dir, logger)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return NewPGStore(ctx, pool, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// FileStore appends one JSON document per run under a runs directory.
type FileStore struct {
	dir string
	log *zap.Logger
}

var _ schemas.Repository = (*FileStore)(nil)

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir, log: logger.Named("store.file")}, nil
}

// SaveRun writes the record as a standalone, timestamped JSON file.
func (s *FileStore) SaveRun(_ context.Context, rec *schemas.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record requires an id")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", rec.StartedAt.UTC().Format("20060102-150405"), rec.ID)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	s.log.Debug("Archived run.", zap.String("run_id", rec.ID), zap.String("path", path))
	return nil
}

func (s *FileStore) Close() {}

// DBPool abstracts the pgxpool.Pool so pgxmock can drive the unit tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	task        TEXT NOT NULL,
	status      TEXT NOT NULL,
	result      TEXT NOT NULL DEFAULT '',
	question    TEXT NOT NULL DEFAULT '',
	iterations  INT NOT NULL,
	transcript  JSONB NOT NULL DEFAULT '[]',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);`

const insertRun = `
INSERT INTO runs (id, task, status, result, question, iterations, transcript, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING;`

// PGStore archives runs in a Postgres table, one row per run with the
// transcript stored as JSONB.
type PGStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Repository = (*PGStore)(nil)

// NewPGStore verifies the connection and ensures the runs table exists.
func NewPGStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, runsSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure runs table: %w", err)
	}
	return &PGStore{pool: pool, log: logger.Named("store.postgres")}, nil
}

func (s *PGStore) SaveRun(ctx context.Context, rec *schemas.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record requires an id")
	}
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if len(transcript) == 0 || string(transcript) == "null" {
		transcript = []byte("[]")
	}

	_, err = s.pool.Exec(ctx, insertRun,
		rec.ID, rec.Task, string(rec.Status), rec.Result, rec.Question,
		rec.Iterations, transcript, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", rec.ID, err)
	}
	s.log.Debug("Archived run.", zap.String("run_id", rec.ID))
	return nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}
