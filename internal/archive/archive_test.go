package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/autohost/internal/lock"
)

func writeVersionsGz(t *testing.T, dir, group string, lines string) {
	t.Helper()
	path := filepath.Join(dir, "rapid", "repo.example.org", group)
	require.NoError(t, os.MkdirAll(path, 0o755))
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(lines))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(filepath.Join(path, "versions.gz"), buf.Bytes(), 0o644))
}

func TestParseRapidTag(t *testing.T) {
	tag, ok := ParseRapidTag("rapid://ba:stable")
	require.True(t, ok)
	assert.Equal(t, RapidTag{Group: "ba", Version: "stable"}, tag)

	_, ok = ParseRapidTag("rapid://nocolon")
	assert.False(t, ok)
}

func TestResolveRapid(t *testing.T) {
	dir := t.TempDir()
	writeVersionsGz(t, dir, "ba", "ba:stable,abcdef,,Balanced Annihilation V9.46\nba:test,123456,,Balanced Annihilation V9.50\n")

	name, err := ResolveRapid([]string{dir}, RapidTag{Group: "ba", Version: "stable"})
	require.NoError(t, err)
	assert.Equal(t, "Balanced Annihilation V9.46", name)

	_, err = ResolveRapid([]string{dir}, RapidTag{Group: "ba", Version: "nope"})
	assert.Error(t, err, "no matching entry yields an empty target mod")
}

func newTestLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	return NewLoader([]string{dir}, lock.New(filepath.Join(t.TempDir(), "unitsync.lock")), nil)
}

func TestResolveMod_Literal(t *testing.T) {
	l := newTestLoader(t, t.TempDir())
	mod, err := l.resolveMod("BA 9.46")
	require.NoError(t, err)
	assert.Equal(t, "BA 9.46", mod.Name)
}

func TestResolveMod_RegexPicksMaxName(t *testing.T) {
	dir := t.TempDir()
	games := filepath.Join(dir, "games")
	require.NoError(t, os.MkdirAll(games, 0o755))
	for _, n := range []string{"BA V9.44.sd7", "BA V9.46.sd7", "ZK v1.0.sdz"} {
		require.NoError(t, os.WriteFile(filepath.Join(games, n), []byte("x"), 0o644))
	}

	l := newTestLoader(t, dir)
	mod, err := l.resolveMod("~BA V9.*")
	require.NoError(t, err)
	assert.Equal(t, "BA V9.46", mod.Name, "max-matching name wins")

	_, err = l.resolveMod("~Nothing.*")
	assert.Error(t, err)
}

func TestLoader_LoadAndApply(t *testing.T) {
	dir := t.TempDir()
	maps := filepath.Join(dir, "maps")
	require.NoError(t, os.MkdirAll(maps, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(maps, "DeltaSiege.sd7"), []byte("mapdata"), 0o644))

	l := newTestLoader(t, dir)
	done := make(chan Result, 1)
	l.Load(context.Background(), ModeFull, "SomeMod", func(r Result) { done <- r })

	res := <-done
	require.NoError(t, res.Err)
	require.NoError(t, l.Apply(context.Background(), res))

	m, ok := l.Map("DeltaSiege")
	require.True(t, ok)
	assert.False(t, m.Ghost)
	assert.NotZero(t, m.Hash)
	assert.Equal(t, "SomeMod", l.Mod().Name)
	assert.Equal(t, []string{"DeltaSiege"}, l.MapNames())
	assert.False(t, l.Loading())
}

type fakeGhosts map[string]int64

func (f fakeGhosts) All(context.Context) (map[string]int64, error) { return f, nil }

func TestLoader_GhostMapsMergedFromStore(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader([]string{dir}, lock.New(filepath.Join(t.TempDir(), "unitsync.lock")),
		fakeGhosts{"PhantomMap": 777})

	require.NoError(t, l.Apply(context.Background(), Result{}))
	m, ok := l.Map("PhantomMap")
	require.True(t, ok)
	assert.True(t, m.Ghost)
	assert.Equal(t, int64(777), m.Hash)
}
