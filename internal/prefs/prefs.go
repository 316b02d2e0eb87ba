// Package prefs manages per-user preferences and the sliding-window flood
// counters.
package prefs

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/udisondev/autohost/internal/db"
)

// Known preference names. Unknown names are rejected so typos surface to
// the user instead of silently storing dead rows.
var knownPrefs = map[string]string{
	"password":        "",
	"voteMode":        "normal", // normal|away
	"votePvMsg":       "on",
	"voteRingDelay":   "60",
	"ringDelay":       "30",
	"spoofProtection": "warn", // off|warn|kick
	"clan":            "",
	"shareId":         "",
	"rankMode":        "account", // account|ip|manual
	"skillMode":       "rank",    // rank|TrueSkill
	"ircColors":       "on",
	"autoSetVoteMode": "off",
}

// Prefs resolves preference values: stored per-account value first, then
// the configured default. Identity is the latest observed accountKey.
type Prefs struct {
	repo     *db.PrefsRepository
	defaults map[string]string

	mu            sync.Mutex
	authenticated map[string]bool // accountKey → passed !auth this process
}

// New creates the preference manager. overrides replaces built-in
// defaults for the listed names (global settings may shadow them).
func New(repo *db.PrefsRepository, overrides map[string]string) *Prefs {
	defaults := make(map[string]string, len(knownPrefs))
	for k, v := range knownPrefs {
		defaults[k] = v
	}
	for k, v := range overrides {
		defaults[k] = v
	}
	return &Prefs{repo: repo, defaults: defaults, authenticated: make(map[string]bool)}
}

// Known reports whether name is a valid preference, resolving it
// case-insensitively to its canonical spelling.
func Known(name string) (string, bool) {
	for k := range knownPrefs {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}

// Names returns the canonical preference names, sorted.
func Names() []string {
	out := make([]string, 0, len(knownPrefs))
	for k := range knownPrefs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns the effective value of a preference for the account.
func (p *Prefs) Get(ctx context.Context, accountKey, name string) (string, error) {
	canonical, ok := Known(name)
	if !ok {
		return "", fmt.Errorf("unknown preference %q", name)
	}
	if p.repo != nil {
		v, found, err := p.repo.Get(ctx, accountKey, canonical)
		if err != nil {
			return "", err
		}
		if found {
			return v, nil
		}
	}
	return p.defaults[canonical], nil
}

// GetAll returns every effective preference of the account.
func (p *Prefs) GetAll(ctx context.Context, accountKey string) (map[string]string, error) {
	out := make(map[string]string, len(p.defaults))
	for k, v := range p.defaults {
		out[k] = v
	}
	if p.repo != nil {
		stored, err := p.repo.GetAll(ctx, accountKey)
		if err != nil {
			return nil, err
		}
		for k, v := range stored {
			out[k] = v
		}
	}
	return out, nil
}

// Set stores a preference. An empty value resets to the default. The
// password preference is stored hashed, never in clear.
func (p *Prefs) Set(ctx context.Context, accountKey, name, value string) error {
	canonical, ok := Known(name)
	if !ok {
		return fmt.Errorf("unknown preference %q", name)
	}
	if p.repo == nil {
		return fmt.Errorf("preference storage unavailable")
	}
	if value == "" {
		return p.repo.Delete(ctx, accountKey, canonical)
	}
	if canonical == "password" {
		value = HashPassword(value)
	}
	return p.repo.Set(ctx, accountKey, canonical, value)
}

// HashPassword hashes a cleartext password: base64 of its MD5 digest.
func HashPassword(cleartext string) string {
	sum := md5.Sum([]byte(cleartext))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Authenticate checks pw against the stored password preference and, on
// success, marks the account as authenticated for this process.
func (p *Prefs) Authenticate(ctx context.Context, accountKey, pw string) (bool, error) {
	stored, err := p.Get(ctx, accountKey, "password")
	if err != nil {
		return false, err
	}
	if stored == "" || HashPassword(pw) != stored {
		return false, nil
	}
	p.mu.Lock()
	p.authenticated[accountKey] = true
	p.mu.Unlock()
	return true, nil
}

// Authenticated reports whether the account passed !auth this process.
func (p *Prefs) Authenticated(accountKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated[accountKey]
}
