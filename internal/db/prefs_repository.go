package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PrefsRepository persists per-account preferences as (accountKey, name,
// value) rows. Deleting a preference restores the configured default.
type PrefsRepository struct {
	pool *pgxpool.Pool
}

// NewPrefsRepository creates the repository.
func NewPrefsRepository(pool *pgxpool.Pool) *PrefsRepository {
	return &PrefsRepository{pool: pool}
}

// Get returns the stored value, or ok=false when unset.
func (r *PrefsRepository) Get(ctx context.Context, accountKey, name string) (string, bool, error) {
	var v string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM preferences WHERE account_key = $1 AND name = $2`,
		accountKey, name,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("querying pref %s/%s: %w", accountKey, name, err)
	}
	return v, true, nil
}

// GetAll returns every stored preference of an account.
func (r *PrefsRepository) GetAll(ctx context.Context, accountKey string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, value FROM preferences WHERE account_key = $1`, accountKey)
	if err != nil {
		return nil, fmt.Errorf("querying prefs of %s: %w", accountKey, err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning pref row: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

// Set stores a preference value.
func (r *PrefsRepository) Set(ctx context.Context, accountKey, name, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO preferences (account_key, name, value) VALUES ($1, $2, $3)
		 ON CONFLICT (account_key, name) DO UPDATE SET value = $3`,
		accountKey, name, value,
	)
	if err != nil {
		return fmt.Errorf("storing pref %s/%s: %w", accountKey, name, err)
	}
	return nil
}

// Delete removes a preference, restoring the default.
func (r *PrefsRepository) Delete(ctx context.Context, accountKey, name string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM preferences WHERE account_key = $1 AND name = $2`,
		accountKey, name,
	)
	if err != nil {
		return fmt.Errorf("deleting pref %s/%s: %w", accountKey, name, err)
	}
	return nil
}
