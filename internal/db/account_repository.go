package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRecord is the persistent view of a lobby account.
type AccountRecord struct {
	AccountKey  string
	LastRank    int
	LastCountry string
	LastClient  string
	LastSeen    time.Time
}

// SeenEntry is one name or IP observation with its recency.
type SeenEntry struct {
	Value    string
	LastSeen time.Time
}

// AccountRepository persists account history: per-account names, IPs,
// rank, country and lobby client, subject to the retention policy.
type AccountRepository struct {
	pool *pgxpool.Pool

	// Retention windows; zero means keep forever.
	accountDays int
	ipDays      int
}

// NewAccountRepository creates the repository with the given retention
// windows in days.
func NewAccountRepository(pool *pgxpool.Pool, accountDays, ipDays int) *AccountRepository {
	return &AccountRepository{pool: pool, accountDays: accountDays, ipDays: ipDays}
}

// Touch upserts the account record and its current name observation.
func (r *AccountRepository) Touch(ctx context.Context, key, name string, rank int, country, client string) error {
	now := time.Now()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (account_key, last_rank, last_country, last_client, last_seen)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (account_key) DO UPDATE
		 SET last_rank = $2, last_country = $3, last_client = $4, last_seen = $5`,
		key, rank, country, client, now,
	)
	if err != nil {
		return fmt.Errorf("touching account %q: %w", key, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO account_names (account_key, name, last_seen) VALUES ($1, $2, $3)
		 ON CONFLICT (account_key, name) DO UPDATE SET last_seen = $3`,
		key, name, now,
	)
	if err != nil {
		return fmt.Errorf("recording name %q for %q: %w", name, key, err)
	}
	return nil
}

// RecordIP stores an IP observation for the account.
func (r *AccountRepository) RecordIP(ctx context.Context, key, ip string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO account_ips (account_key, ip, last_seen) VALUES ($1, $2, $3)
		 ON CONFLICT (account_key, ip) DO UPDATE SET last_seen = $3`,
		key, ip, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("recording ip for %q: %w", key, err)
	}
	return nil
}

// Get returns the account record, or nil when unknown.
func (r *AccountRepository) Get(ctx context.Context, key string) (*AccountRecord, error) {
	var rec AccountRecord
	err := r.pool.QueryRow(ctx,
		`SELECT account_key, last_rank, last_country, last_client, last_seen
		 FROM accounts WHERE account_key = $1`, key,
	).Scan(&rec.AccountKey, &rec.LastRank, &rec.LastCountry, &rec.LastClient, &rec.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying account %q: %w", key, err)
	}
	return &rec, nil
}

// Names returns all recorded names of an account, most recent first.
func (r *AccountRepository) Names(ctx context.Context, key string) ([]SeenEntry, error) {
	return r.seenEntries(ctx,
		`SELECT name, last_seen FROM account_names
		 WHERE account_key = $1 ORDER BY last_seen DESC`, key)
}

// IPs returns all recorded IPs of an account, most recent first.
func (r *AccountRepository) IPs(ctx context.Context, key string) ([]SeenEntry, error) {
	return r.seenEntries(ctx,
		`SELECT ip, last_seen FROM account_ips
		 WHERE account_key = $1 ORDER BY last_seen DESC`, key)
}

func (r *AccountRepository) seenEntries(ctx context.Context, query, key string) ([]SeenEntry, error) {
	rows, err := r.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("querying history for %q: %w", key, err)
	}
	defer rows.Close()
	var out []SeenEntry
	for rows.Next() {
		var e SeenEntry
		if err := rows.Scan(&e.Value, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SearchNames returns account keys whose recorded names contain the given
// substring (case-insensitive), capped at limit.
func (r *AccountRepository) SearchNames(ctx context.Context, substr string, limit int) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT account_key, name FROM account_names
		 WHERE lower(name) LIKE '%' || lower($1) || '%'
		 ORDER BY last_seen DESC LIMIT $2`, substr, limit)
	if err != nil {
		return nil, fmt.Errorf("searching names %q: %w", substr, err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		out[key] = append(out[key], name)
	}
	return out, rows.Err()
}

// SearchIPs returns account keys having recorded the given IP (exact or
// substring), capped at limit.
func (r *AccountRepository) SearchIPs(ctx context.Context, substr string, limit int) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT account_key, ip FROM account_ips
		 WHERE ip LIKE '%' || $1 || '%'
		 ORDER BY last_seen DESC LIMIT $2`, substr, limit)
	if err != nil {
		return nil, fmt.Errorf("searching ips %q: %w", substr, err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var key, ip string
		if err := rows.Scan(&key, &ip); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		out[key] = append(out[key], ip)
	}
	return out, rows.Err()
}

// AccountsByIPs returns, for each given IP, the set of account keys that
// used it, with the observation recency. Input order is not preserved.
func (r *AccountRepository) AccountsByIPs(ctx context.Context, ips []string) (map[string][]SeenEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ip, account_key, last_seen FROM account_ips WHERE ip = ANY($1)`, ips)
	if err != nil {
		return nil, fmt.Errorf("querying accounts by ips: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]SeenEntry)
	for rows.Next() {
		var ip string
		var e SeenEntry
		if err := rows.Scan(&ip, &e.Value, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning ip linkage row: %w", err)
		}
		out[ip] = append(out[ip], e)
	}
	return out, rows.Err()
}

// Purge drops history older than the retention windows. A zero window
// keeps entries forever.
func (r *AccountRepository) Purge(ctx context.Context) error {
	if r.ipDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -r.ipDays)
		if _, err := r.pool.Exec(ctx, `DELETE FROM account_ips WHERE last_seen < $1`, cutoff); err != nil {
			return fmt.Errorf("purging ip history: %w", err)
		}
	}
	if r.accountDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -r.accountDays)
		if _, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE last_seen < $1`, cutoff); err != nil {
			return fmt.Errorf("purging accounts: %w", err)
		}
	}
	return nil
}
