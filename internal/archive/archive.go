// Package archive enumerates the locally installed maps and mods and
// resolves mod specifications: literal names, "~regex" patterns and rapid
// tags. Enumeration runs in a worker goroutine under the archive-cache
// lock; completion is posted back to the main loop as a callback.
package archive

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/udisondev/autohost/internal/lock"
)

// StartPos is one map start position.
type StartPos struct {
	X, Z int
}

// MapInfo is the cached metadata of one map archive.
type MapInfo struct {
	Name     string
	Hash     int64
	Width    int
	Height   int
	StartPos []StartPos
	Options  map[string]string
	// Ghost maps are not locally installed; only the hash is known.
	Ghost bool
}

// ModInfo is the cached metadata of one mod archive.
type ModInfo struct {
	Name    string
	Hash    int64
	Options map[string]string
}

// Mode selects what a load enumerates.
type Mode int

const (
	ModeFull Mode = iota // maps + mod
	ModeGameOnly
)

// Result is a completed enumeration.
type Result struct {
	Maps []MapInfo
	Mod  *ModInfo
	Err  error
}

// GhostStore provides the persisted hashes of maps that are configured
// but not installed.
type GhostStore interface {
	All(ctx context.Context) (map[string]int64, error)
}

// Loader owns the archive caches.
type Loader struct {
	dataDirs    []string
	archiveLock *lock.FileLock
	ghosts      GhostStore

	maps     map[string]MapInfo
	mod      *ModInfo
	loadedAt time.Time
	loading  bool
}

// NewLoader creates the loader sharing the process-global archive-cache
// lock.
func NewLoader(dataDirs []string, archiveLock *lock.FileLock, ghosts GhostStore) *Loader {
	return &Loader{
		dataDirs:    dataDirs,
		archiveLock: archiveLock,
		ghosts:      ghosts,
		maps:        make(map[string]MapInfo),
	}
}

// Loading reports whether an enumeration is in flight.
func (l *Loader) Loading() bool { return l.loading }

// Map returns the cached metadata for a map, ghost entries included.
func (l *Loader) Map(name string) (MapInfo, bool) {
	m, ok := l.maps[name]
	return m, ok
}

// Mod returns the current mod metadata.
func (l *Loader) Mod() *ModInfo { return l.mod }

// MapNames returns the cached map names, sorted, ghosts included.
func (l *Loader) MapNames() []string {
	out := make([]string, 0, len(l.maps))
	for n := range l.maps {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Load runs an enumeration in a worker goroutine under the archive-cache
// lock and posts the completion to done. A launch holding the lock makes
// the worker wait; the caller must ignore results that arrive while a
// launch holds the lock.
func (l *Loader) Load(ctx context.Context, mode Mode, modSpec string, done func(Result)) {
	if l.loading {
		done(Result{Err: fmt.Errorf("archive load already in progress")})
		return
	}
	l.loading = true
	go func() {
		res := l.enumerate(ctx, mode, modSpec)
		done(res)
	}()
}

// Abort discards an in-flight or completed enumeration without touching
// the caches (a launch held the lock while it ran).
func (l *Loader) Abort() { l.loading = false }

// Apply installs a completed result into the caches (the post-action,
// run on the main loop) and merges the persisted ghost maps.
func (l *Loader) Apply(ctx context.Context, res Result) error {
	l.loading = false
	if res.Err != nil {
		return res.Err
	}
	maps := make(map[string]MapInfo, len(res.Maps))
	for _, m := range res.Maps {
		maps[m.Name] = m
	}
	if l.ghosts != nil {
		ghosts, err := l.ghosts.All(ctx)
		if err != nil {
			return fmt.Errorf("loading ghost maps: %w", err)
		}
		for name, hash := range ghosts {
			if _, installed := maps[name]; !installed {
				maps[name] = MapInfo{Name: name, Hash: hash, Ghost: true}
			}
		}
	}
	l.maps = maps
	if res.Mod != nil {
		l.mod = res.Mod
	}
	l.loadedAt = time.Now()
	slog.Info("archive caches updated", "maps", len(l.maps), "mod_resolved", res.Mod != nil)
	return nil
}

func (l *Loader) enumerate(ctx context.Context, mode Mode, modSpec string) Result {
	if err := l.archiveLock.Acquire(2 * time.Minute); err != nil {
		return Result{Err: fmt.Errorf("acquiring archive cache lock: %w", err)}
	}
	defer l.archiveLock.Release()

	var res Result
	if mode == ModeFull {
		maps, err := l.scanMaps(ctx)
		if err != nil {
			return Result{Err: err}
		}
		res.Maps = maps
	}
	mod, err := l.resolveMod(modSpec)
	if err != nil {
		return Result{Err: err}
	}
	res.Mod = mod
	return res
}

// scanMaps walks the data dirs' maps/ directories and records the name
// and hash of each archive only; width, height, start positions and
// options are left empty.
func (l *Loader) scanMaps(ctx context.Context) ([]MapInfo, error) {
	var out []MapInfo
	for _, dir := range l.dataDirs {
		entries, err := os.ReadDir(filepath.Join(dir, "maps"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading maps dir in %s: %w", dir, err)
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			name := e.Name()
			ext := filepath.Ext(name)
			if ext != ".sd7" && ext != ".sdz" {
				continue
			}
			base := strings.TrimSuffix(name, ext)
			out = append(out, MapInfo{
				Name: base,
				Hash: archiveHash(filepath.Join(dir, "maps", name)),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// archiveHash derives the stable archive hash the lobby publishes.
func archiveHash(path string) int64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	h := crc32.NewIEEE()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return int64(h.Sum32())
}

// resolveMod resolves a mod spec: "~pattern" picks the max-matching
// installed name, "rapid://group:version" resolves through the rapid
// indexes, anything else is a literal archive name.
func (l *Loader) resolveMod(spec string) (*ModInfo, error) {
	if spec == "" {
		return nil, nil
	}
	if tag, ok := ParseRapidTag(spec); ok && strings.HasPrefix(spec, "rapid://") {
		name, err := ResolveRapid(l.dataDirs, tag)
		if err != nil {
			return nil, err
		}
		return &ModInfo{Name: name}, nil
	}
	if pattern, ok := strings.CutPrefix(spec, "~"); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid mod pattern %q: %w", pattern, err)
		}
		names := l.installedGames()
		best := ""
		for _, n := range names {
			if re.MatchString(n) && n > best {
				best = n
			}
		}
		if best == "" {
			return nil, fmt.Errorf("no installed game matches %q", pattern)
		}
		return &ModInfo{Name: best}, nil
	}
	return &ModInfo{Name: spec}, nil
}

func (l *Loader) installedGames() []string {
	var out []string
	for _, dir := range l.dataDirs {
		entries, err := os.ReadDir(filepath.Join(dir, "games"))
		if err != nil {
			continue
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if ext == ".sd7" || ext == ".sdz" {
				out = append(out, strings.TrimSuffix(e.Name(), ext))
			}
		}
	}
	sort.Strings(out)
	return out
}
