package configstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Configurator backed by PostgreSQL. Each leaf is one row keyed
// by its absolute path; seq preserves insertion order so registration order
// survives a round trip.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects, verifies the connection and creates the table
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitor_conf (
		path TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		seq BIGSERIAL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_monitor_conf_seq ON monitor_conf(seq);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// GetConf rebuilds the subtree at key from its leaf rows
func (s *PGStore) GetConf(ctx context.Context, key string) (*Node, error) {
	parts, err := SplitPath(key)
	if err != nil {
		return nil, err
	}
	prefix := JoinPath(parts...)

	query := `
		SELECT path, value
		FROM monitor_conf
		WHERE path = $1 OR path LIKE $2
		ORDER BY seq
	`
	rows, err := s.pool.Query(ctx, query, prefix, escapeLike(prefix)+"/%")
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", prefix, err)
	}

	type leaf struct{ path, value string }
	leaves, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (leaf, error) {
		var l leaf
		err := row.Scan(&l.path, &l.value)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", prefix, err)
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}

	root := &Node{Name: parts[len(parts)-1]}
	for _, l := range leaves {
		rel, err := SplitPath(l.path[len(prefix):])
		if err != nil {
			root.Value = l.value
			continue
		}
		n := root
		for _, p := range rel {
			n = n.ensure(p)
		}
		n.Value = l.value
	}
	return root, nil
}

// SetConf upserts the leaf at path
func (s *PGStore) SetConf(ctx context.Context, path, value string) error {
	parts, err := SplitPath(path)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO monitor_conf (path, value)
		VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, JoinPath(parts...), value); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Import writes every leaf of root in tree order inside one transaction. It
// is how a YAML seed is loaded into a fresh database.
func (s *PGStore) Import(ctx context.Context, root *Node) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	err = root.Walk("", func(path, value string) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO monitor_conf (path, value)
			VALUES ($1, $2)
			ON CONFLICT (path) DO NOTHING
		`, path, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to import: %w", err)
	}
	return tx.Commit(ctx)
}

// Ping checks database connectivity
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
