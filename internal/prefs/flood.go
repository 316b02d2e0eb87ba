package prefs

import (
	"sync"
	"time"
)

// FloodKind selects one of the independent flood counters.
type FloodKind int

const (
	FloodMsg FloodKind = iota
	FloodStatus
	FloodKick
	FloodCmd
	FloodJSONRPC
)

// FloodSpec is one counter's threshold: count events inside window, with
// an optional sanction duration.
type FloodSpec struct {
	Count    int
	Window   time.Duration
	Sanction time.Duration
}

// FloodGuard maintains the per-user sliding windows and the resulting
// sanctions (ignore timers). The JSON-RPC counter has one-shot
// semantics: crossing the threshold ignores the user for the window and
// further calls are rejected without counting.
type FloodGuard struct {
	specs map[FloodKind]FloodSpec

	mu           sync.Mutex
	events       map[FloodKind]map[string][]time.Time
	ignoredUntil map[FloodKind]map[string]time.Time
}

// NewFloodGuard creates the guard from per-kind specs.
func NewFloodGuard(specs map[FloodKind]FloodSpec) *FloodGuard {
	g := &FloodGuard{
		specs:        specs,
		events:       make(map[FloodKind]map[string][]time.Time),
		ignoredUntil: make(map[FloodKind]map[string]time.Time),
	}
	for k := range specs {
		g.events[k] = make(map[string][]time.Time)
		g.ignoredUntil[k] = make(map[string]time.Time)
	}
	return g
}

// Record counts one event for the user at time now and reports whether
// the threshold was crossed by this event.
func (g *FloodGuard) Record(kind FloodKind, user string, now time.Time) bool {
	spec, ok := g.specs[kind]
	if !ok || spec.Count <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if kind == FloodJSONRPC {
		if until, ignored := g.ignoredUntil[kind][user]; ignored && now.Before(until) {
			return true
		}
	}

	cutoff := now.Add(-spec.Window)
	evs := g.events[kind][user]
	i := 0
	for i < len(evs) && evs[i].Before(cutoff) {
		i++
	}
	evs = append(evs[i:], now)
	g.events[kind][user] = evs

	if len(evs) <= spec.Count {
		return false
	}
	if kind == FloodJSONRPC {
		// One-shot transition into the ignored state for the window.
		g.ignoredUntil[kind][user] = now.Add(spec.Window)
		g.events[kind][user] = nil
	}
	return true
}

// Ignore sanctions the user on a counter until now+d (cmd flood, kick
// auto-ban bookkeeping).
func (g *FloodGuard) Ignore(kind FloodKind, user string, until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.ignoredUntil[kind]; ok {
		m[user] = until
	}
}

// Ignored reports whether the user is currently sanctioned on a counter.
func (g *FloodGuard) Ignored(kind FloodKind, user string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.ignoredUntil[kind][user]
	return ok && now.Before(until)
}

// Sanction returns the configured sanction duration of a counter.
func (g *FloodGuard) Sanction(kind FloodKind) time.Duration {
	return g.specs[kind].Sanction
}

// Purge drops windows and expired sanctions older than now. Called
// hourly.
func (g *FloodGuard) Purge(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind, spec := range g.specs {
		cutoff := now.Add(-spec.Window)
		for user, evs := range g.events[kind] {
			i := 0
			for i < len(evs) && evs[i].Before(cutoff) {
				i++
			}
			if i == len(evs) {
				delete(g.events[kind], user)
			} else if i > 0 {
				g.events[kind][user] = evs[i:]
			}
		}
		for user, until := range g.ignoredUntil[kind] {
			if now.After(until) {
				delete(g.ignoredUntil[kind], user)
			}
		}
	}
}
