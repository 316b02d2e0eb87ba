package users

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/udisondev/autohost/internal/db"
)

// Store is the online user table backed by the persistent account
// repository. All mutations flow through lobby events on the main loop;
// the mutex only guards against reads from worker completions.
type Store struct {
	repo *db.AccountRepository

	mu     sync.Mutex
	online map[string]*User // keyed by name
}

// NewStore creates the store.
func NewStore(repo *db.AccountRepository) *Store {
	return &Store{repo: repo, online: make(map[string]*User)}
}

// Add registers an online user (ADDUSER) and records the observation in
// the persistent account history.
func (s *Store) Add(ctx context.Context, u *User) {
	s.mu.Lock()
	s.online[u.Name] = u
	s.mu.Unlock()

	if s.repo == nil {
		return
	}
	if err := s.repo.Touch(ctx, u.AccountKey(), u.Name, u.Status.Rank, u.Country, u.LobbyClient); err != nil {
		slog.Warn("recording account history", "user", u.Name, "err", err)
	}
}

// Remove drops an online user (REMOVEUSER).
func (s *Store) Remove(name string) {
	s.mu.Lock()
	delete(s.online, name)
	s.mu.Unlock()
}

// Get returns the online user, or nil.
func (s *Store) Get(name string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[name]
}

// SetStatus updates the status bits of an online user.
func (s *Store) SetStatus(name string, st ClientStatus) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.online[name]
	if u != nil {
		u.Status = st
	}
	return u
}

// SetIP records an observed IP for the user, both online and in the
// persistent history.
func (s *Store) SetIP(ctx context.Context, name, ip string) {
	s.mu.Lock()
	u := s.online[name]
	if u != nil {
		u.IP = ip
	}
	s.mu.Unlock()
	if u == nil || s.repo == nil {
		return
	}
	if err := s.repo.RecordIP(ctx, u.AccountKey(), ip); err != nil {
		slog.Warn("recording ip history", "user", name, "err", err)
	}
}

// Count returns the number of online users.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.online)
}

// Names returns the online user names, sorted.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.online))
	for n := range s.online {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// searchLimit caps search results per the lobby answer length.
const searchLimit = 40

// SearchResult is one account matched by a name or IP search.
type SearchResult struct {
	AccountKey string
	Matches    []string
}

// Search looks up accounts by name substring or IP fragment in the
// persistent history, capped at 40 results.
func (s *Store) Search(ctx context.Context, query string) ([]SearchResult, error) {
	var (
		found map[string][]string
		err   error
	)
	if looksLikeIP(query) {
		found, err = s.repo.SearchIPs(ctx, query, searchLimit)
	} else {
		found, err = s.repo.SearchNames(ctx, query, searchLimit)
	}
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]SearchResult, 0, len(keys))
	for _, k := range keys {
		out = append(out, SearchResult{AccountKey: k, Matches: found[k]})
	}
	if len(out) > searchLimit {
		out = out[:searchLimit]
	}
	return out, nil
}

func looksLikeIP(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return strings.ContainsRune(s, '.')
}
