package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state"
)

const (
	component = "state.postgres"

	// DefaultTable holds one row per engine instance
	DefaultTable = "engine_snapshots"
	// DefaultInstance is the row key when a single engine runs against the database
	DefaultInstance = "default"
)

// Store persists engine snapshots as JSONB, one upserted row per instance.
type Store struct {
	pool     *pgxpool.Pool
	table    string
	instance string
}

var _ state.Store = (*Store)(nil)

// NewPool creates a connection pool and verifies it with a ping
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewStore creates the store and its table when missing
func NewStore(ctx context.Context, pool *pgxpool.Pool, table, instance string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if instance == "" {
		instance = DefaultInstance
	}
	s := &Store{
		pool:     pool,
		table:    pgx.Identifier{table}.Sanitize(),
		instance: instance,
	}
	if err := s.migrate(ctx); err != nil {
		return nil, boterrors.NewPersistenceError(component, "migrate", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			instance   TEXT PRIMARY KEY,
			version    TEXT NOT NULL,
			saved_at   TIMESTAMPTZ NOT NULL,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Save upserts the snapshot row
func (s *Store) Save(ctx context.Context, snap *state.Snapshot) error {
	if snap == nil {
		return boterrors.NewPersistenceError(component, "save", errors.New("cannot save nil snapshot"))
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return boterrors.NewPersistenceError(component, "save", fmt.Errorf("marshal snapshot: %w", err))
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (instance, version, saved_at, payload, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (instance) DO UPDATE
		SET version = EXCLUDED.version,
		    saved_at = EXCLUDED.saved_at,
		    payload = EXCLUDED.payload,
		    updated_at = NOW()
	`, s.instance, snap.Version, snap.SavedAt, payload)
	if err != nil {
		return boterrors.NewPersistenceError(component, "save", err)
	}
	return nil
}

// Load returns the stored snapshot or state.ErrNoSnapshot
func (s *Store) Load(ctx context.Context) (*state.Snapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM `+s.table+` WHERE instance = $1
	`, s.instance).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, state.ErrNoSnapshot
	}
	if err != nil {
		return nil, boterrors.NewPersistenceError(component, "load", err)
	}

	var snap state.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, boterrors.NewPersistenceError(component, "load", fmt.Errorf("decode snapshot: %w", err))
	}
	if err := snap.Validate(); err != nil {
		return nil, boterrors.NewPersistenceError(component, "load", err)
	}
	return &snap, nil
}
