package prefs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testGuard() *FloodGuard {
	return NewFloodGuard(map[FloodKind]FloodSpec{
		FloodMsg:     {Count: 3, Window: 4 * time.Second},
		FloodCmd:     {Count: 2, Window: 6 * time.Second, Sanction: 10 * time.Minute},
		FloodJSONRPC: {Count: 2, Window: 10 * time.Second},
	})
}

func TestFloodGuard_ThresholdInsideWindow(t *testing.T) {
	g := testGuard()
	now := time.Now()

	assert.False(t, g.Record(FloodMsg, "u", now))
	assert.False(t, g.Record(FloodMsg, "u", now.Add(time.Second)))
	assert.False(t, g.Record(FloodMsg, "u", now.Add(2*time.Second)))
	assert.True(t, g.Record(FloodMsg, "u", now.Add(3*time.Second)), "fourth message in 4s window floods")
}

func TestFloodGuard_WindowSlides(t *testing.T) {
	g := testGuard()
	now := time.Now()

	for i := range 3 {
		assert.False(t, g.Record(FloodMsg, "u", now.Add(time.Duration(i)*time.Second)))
	}
	// 5s later the first events fell out of the window.
	assert.False(t, g.Record(FloodMsg, "u", now.Add(7*time.Second)))
}

func TestFloodGuard_UsersIndependent(t *testing.T) {
	g := testGuard()
	now := time.Now()
	for range 3 {
		g.Record(FloodMsg, "a", now)
	}
	assert.False(t, g.Record(FloodMsg, "b", now))
}

func TestFloodGuard_IgnoreSanction(t *testing.T) {
	g := testGuard()
	now := time.Now()

	g.Ignore(FloodCmd, "u", now.Add(g.Sanction(FloodCmd)))
	assert.True(t, g.Ignored(FloodCmd, "u", now))
	assert.False(t, g.Ignored(FloodCmd, "u", now.Add(11*time.Minute)))
}

func TestFloodGuard_JSONRPCOneShot(t *testing.T) {
	g := testGuard()
	now := time.Now()

	assert.False(t, g.Record(FloodJSONRPC, "u", now))
	assert.False(t, g.Record(FloodJSONRPC, "u", now))
	assert.True(t, g.Record(FloodJSONRPC, "u", now), "threshold crossing flips to ignored")
	// Further calls inside the window keep failing without re-counting.
	assert.True(t, g.Record(FloodJSONRPC, "u", now.Add(time.Second)))
	assert.True(t, g.Ignored(FloodJSONRPC, "u", now.Add(time.Second)))
	// After the window the user recovers.
	assert.False(t, g.Record(FloodJSONRPC, "u", now.Add(11*time.Second)))
}

func TestFloodGuard_Purge(t *testing.T) {
	g := testGuard()
	now := time.Now()
	g.Record(FloodMsg, "u", now)
	g.Purge(now.Add(time.Hour))
	assert.False(t, g.Record(FloodMsg, "u", now.Add(time.Hour)))
}

func TestHashPassword(t *testing.T) {
	// base64(md5("secret"))
	assert.Equal(t, "Xr4ilOzQ4PCOq3aQ0qbuaQ==", HashPassword("secret"))
}
