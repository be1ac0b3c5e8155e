// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

const defaultTable = "harvest_state"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StateStoreConfig controls the Postgres connection pool used for state rows.
type StateStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type poolConn interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// StateStore keeps one row per state key:
//
//	harvest_state(key text primary key, finished bool, files jsonb, updated_at timestamptz)
type StateStore struct {
	pool  poolConn
	table string
	now   func() time.Time
}

// NewStateStore creates a Postgres-backed StateStore using the provided config.
func NewStateStore(ctx context.Context, cfg StateStoreConfig) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &StateStore{pool: pool, table: table, now: time.Now}, nil
}

// NewStateStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStateStoreWithPool(pool poolConn, table string, now func() time.Time) (*StateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &StateStore{pool: pool, table: name, now: now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// GetState reads the row for key. A missing row reports found=false.
func (s *StateStore) GetState(ctx context.Context, key string) (harvest.CrawlState, bool, error) {
	query := fmt.Sprintf(`SELECT finished, files FROM %s WHERE key = $1`, s.table)

	var (
		state harvest.CrawlState
		files []byte
	)
	if err := s.pool.QueryRow(ctx, query, key).Scan(&state.Finished, &files); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.CrawlState{}, false, nil
		}
		return harvest.CrawlState{}, false, fmt.Errorf("select state %s: %w", key, err)
	}
	if len(files) > 0 {
		if err := json.Unmarshal(files, &state.Files); err != nil {
			return harvest.CrawlState{}, false, fmt.Errorf("decode files for %s: %w", key, err)
		}
	}
	if state.Files == nil {
		state.Files = []string{}
	}
	return state, true, nil
}

// PutState upserts the whole state under key.
func (s *StateStore) PutState(ctx context.Context, key string, state harvest.CrawlState) error {
	if key == "" {
		return fmt.Errorf("state key is required")
	}
	files := state.Files
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, finished, files, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET finished = EXCLUDED.finished,
	files = EXCLUDED.files,
	updated_at = EXCLUDED.updated_at`, s.table)

	if _, err := s.pool.Exec(ctx, query, key, state.Finished, filesJSON, s.now().UTC()); err != nil {
		return fmt.Errorf("upsert state %s: %w", key, err)
	}
	return nil
}
