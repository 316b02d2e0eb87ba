package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BanRow is a persisted dynamic ban: the filter and action serialized as
// JSON documents, keyed by the short stable hash over both.
type BanRow struct {
	Hash       string
	FilterJSON []byte
	ActionJSON []byte
}

// BanRepository persists the dynamic ban list.
type BanRepository struct {
	pool *pgxpool.Pool
}

// NewBanRepository creates the repository.
func NewBanRepository(pool *pgxpool.Pool) *BanRepository {
	return &BanRepository{pool: pool}
}

// Upsert stores a ban row.
func (r *BanRepository) Upsert(ctx context.Context, row BanRow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO bans (hash, filter_json, action_json) VALUES ($1, $2, $3)
		 ON CONFLICT (hash) DO UPDATE SET filter_json = $2, action_json = $3`,
		row.Hash, row.FilterJSON, row.ActionJSON,
	)
	if err != nil {
		return fmt.Errorf("storing ban %s: %w", row.Hash, err)
	}
	return nil
}

// Delete removes a ban by hash; reports whether a row existed.
func (r *BanRepository) Delete(ctx context.Context, hash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bans WHERE hash = $1`, hash)
	if err != nil {
		return false, fmt.Errorf("deleting ban %s: %w", hash, err)
	}
	return tag.RowsAffected() > 0, nil
}

// All loads every persisted ban.
func (r *BanRepository) All(ctx context.Context) ([]BanRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT hash, filter_json, action_json FROM bans`)
	if err != nil {
		return nil, fmt.Errorf("loading bans: %w", err)
	}
	defer rows.Close()
	var out []BanRow
	for rows.Next() {
		var row BanRow
		if err := rows.Scan(&row.Hash, &row.FilterJSON, &row.ActionJSON); err != nil {
			return nil, fmt.Errorf("scanning ban row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
