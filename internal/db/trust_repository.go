package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrustRepository persists the TLS certificate trust store: SHA-256
// fingerprints accepted per lobby host.
type TrustRepository struct {
	pool *pgxpool.Pool
}

// NewTrustRepository creates the repository.
func NewTrustRepository(pool *pgxpool.Pool) *TrustRepository {
	return &TrustRepository{pool: pool}
}

// Add trusts a fingerprint for a host.
func (r *TrustRepository) Add(ctx context.Context, host, sha256hex string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trusted_certificates (host, sha256) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, host, sha256hex)
	if err != nil {
		return fmt.Errorf("trusting certificate %s for %s: %w", sha256hex, host, err)
	}
	return nil
}

// Revoke removes a fingerprint; reports whether it was present.
func (r *TrustRepository) Revoke(ctx context.Context, host, sha256hex string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM trusted_certificates WHERE host = $1 AND sha256 = $2`, host, sha256hex)
	if err != nil {
		return false, fmt.Errorf("revoking certificate %s for %s: %w", sha256hex, host, err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns the trusted fingerprints, optionally restricted to host.
func (r *TrustRepository) List(ctx context.Context, host string) (map[string][]string, error) {
	query := `SELECT host, sha256 FROM trusted_certificates`
	args := []any{}
	if host != "" {
		query += ` WHERE host = $1`
		args = append(args, host)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing trusted certificates: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var h, fp string
		if err := rows.Scan(&h, &fp); err != nil {
			return nil, fmt.Errorf("scanning trust row: %w", err)
		}
		out[h] = append(out[h], fp)
	}
	return out, rows.Err()
}

// Trusted reports whether the fingerprint is accepted for the host.
func (r *TrustRepository) Trusted(ctx context.Context, host, sha256hex string) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM trusted_certificates WHERE host = $1 AND sha256 = $2`,
		host, sha256hex,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking certificate trust: %w", err)
	}
	return n > 0, nil
}
