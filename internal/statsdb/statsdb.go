// Package statsdb persists periodic snapshots of server statistics
// (connection and stream counts, keyed by server id) to Postgres. It is
// the "statistics store" boundary spec §1 names as a thin collaborator:
// configuration itself is never persisted to a database (spec Non-goals),
// only the counts internal/resource.Manager already tracks in memory.
package statsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Snapshot is one point-in-time observation of server load, handed to the
// store as an opaque record — statsdb does not interpret the counts, only
// persists and retrieves them.
type Snapshot struct {
	ServerID       string
	ObservedAt     time.Time
	ActiveConns    int
	ActiveStreams  int
	ListenerCounts map[string]int
}

// Store persists Snapshots to Postgres.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

const defaultOperationTimeout = 5 * time.Second

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	timeout time.Duration
}

// WithTimeout bounds how long a single operation waits on Postgres.
func WithTimeout(timeout time.Duration) Option {
	return func(o *storeOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// Open connects a Store to the Postgres instance described by dsn.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("statsdb: dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("statsdb: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("statsdb: open pool: %w", err)
	}
	options := storeOptions{timeout: defaultOperationTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	store := &Store{pool: pool, timeout: options.timeout}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("statsdb: ensure schema: %w", err)
	}
	return store, nil
}

// ensureSchema creates the server_stats table when it does not already
// exist. Unlike the rest of this tree's domain this package has no
// deployment-owned migrations directory to run against, so it bootstraps
// its own single table on open.
func (s *Store) ensureSchema(ctx context.Context) error {
	ctx, cancel := s.operationContext(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS server_stats (
	server_id       text NOT NULL,
	observed_at     timestamptz NOT NULL,
	active_conns    integer NOT NULL,
	active_streams  integer NOT NULL,
	listener_counts jsonb
)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
CREATE INDEX IF NOT EXISTS server_stats_server_id_observed_at_idx
	ON server_stats (server_id, observed_at DESC)`)
	return err
}

// Close releases the connection pool, honoring ctx cancellation.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Ping checks connectivity to the backing Postgres instance.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("statsdb: pool not configured")
	}
	ctx, cancel := s.operationContext(ctx)
	defer cancel()
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	_, err = conn.Exec(ctx, "SELECT 1")
	return err
}

// Record inserts one Snapshot into the server_stats table.
func (s *Store) Record(ctx context.Context, snap Snapshot) error {
	if snap.ServerID == "" {
		return fmt.Errorf("statsdb: server id required")
	}
	if s.pool == nil {
		return fmt.Errorf("statsdb: pool not configured")
	}
	listenerCounts, err := json.Marshal(snap.ListenerCounts)
	if err != nil {
		return fmt.Errorf("statsdb: marshal listener counts: %w", err)
	}
	ctx, cancel := s.operationContext(ctx)
	defer cancel()
	_, err = s.pool.Exec(ctx, `
INSERT INTO server_stats (server_id, observed_at, active_conns, active_streams, listener_counts)
VALUES ($1, $2, $3, $4, $5)
`, snap.ServerID, snap.ObservedAt.UTC(), snap.ActiveConns, snap.ActiveStreams, listenerCounts)
	return err
}

// Latest returns the most recent Snapshot recorded for serverID.
func (s *Store) Latest(ctx context.Context, serverID string) (Snapshot, bool, error) {
	if s.pool == nil {
		return Snapshot{}, false, fmt.Errorf("statsdb: pool not configured")
	}
	ctx, cancel := s.operationContext(ctx)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
SELECT server_id, observed_at, active_conns, active_streams, listener_counts
FROM server_stats
WHERE server_id = $1
ORDER BY observed_at DESC
LIMIT 1
`, serverID)
	var snap Snapshot
	var listenerCounts []byte
	if err := row.Scan(&snap.ServerID, &snap.ObservedAt, &snap.ActiveConns, &snap.ActiveStreams, &listenerCounts); err != nil {
		if isNoRows(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	if len(listenerCounts) > 0 {
		if err := json.Unmarshal(listenerCounts, &snap.ListenerCounts); err != nil {
			return Snapshot{}, false, fmt.Errorf("statsdb: unmarshal listener counts: %w", err)
		}
	}
	return snap, true, nil
}

// Prune deletes snapshots older than cutoff, bounding table growth for a
// server that has been running a long time.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("statsdb: pool not configured")
	}
	ctx, cancel := s.operationContext(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM server_stats WHERE observed_at <= $1`, cutoff.UTC())
	return err
}

func (s *Store) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return err == pgx.ErrNoRows
}
