package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GhostMapRepository persists hashes of maps that are not locally
// installed so the host can still open battles on them.
type GhostMapRepository struct {
	pool *pgxpool.Pool
}

// NewGhostMapRepository creates the repository.
func NewGhostMapRepository(pool *pgxpool.Pool) *GhostMapRepository {
	return &GhostMapRepository{pool: pool}
}

// Put stores or refreshes a map hash.
func (r *GhostMapRepository) Put(ctx context.Context, name string, hash int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ghost_maps (name, hash) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET hash = $2`, name, hash)
	if err != nil {
		return fmt.Errorf("storing ghost map %q: %w", name, err)
	}
	return nil
}

// Get returns the stored hash of a map, or ok=false.
func (r *GhostMapRepository) Get(ctx context.Context, name string) (int64, bool, error) {
	var hash int64
	err := r.pool.QueryRow(ctx, `SELECT hash FROM ghost_maps WHERE name = $1`, name).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("querying ghost map %q: %w", name, err)
	}
	return hash, true, nil
}

// All returns every persisted ghost map.
func (r *GhostMapRepository) All(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, hash FROM ghost_maps`)
	if err != nil {
		return nil, fmt.Errorf("loading ghost maps: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var hash int64
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, fmt.Errorf("scanning ghost map row: %w", err)
		}
		out[name] = hash
	}
	return out, rows.Err()
}
