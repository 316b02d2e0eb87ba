package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/autohost/internal/config"
)

func testLobbyConfig() config.LobbyConfig {
	return config.LobbyConfig{
		Host:                "lobby.example.org",
		Port:                8200,
		ReconnectDelay:      "10-30",
		SendRecordPeriod:    10,
		MaxBytesSent:        4096,
		MaxLowPrioBytesSent: 2048,
	}
}

func TestNeedPing_SendIdle(t *testing.T) {
	now := time.Now()
	lastSend := now.Add(-6 * time.Second)
	lastRecv := now.Add(-1 * time.Second)

	assert.True(t, needPing(now, lastSend, lastRecv, time.Time{}))
	// A ping 2s ago suppresses another one.
	assert.False(t, needPing(now, lastSend, lastRecv, now.Add(-2*time.Second)))
}

func TestNeedPing_RecvIdle(t *testing.T) {
	now := time.Now()
	lastSend := now.Add(-2 * time.Second)
	lastRecv := now.Add(-29 * time.Second)

	assert.True(t, needPing(now, lastSend, lastRecv, time.Time{}))
	assert.False(t, needPing(now, lastSend, lastRecv, now.Add(-10*time.Second)))
	// 29s since the previous ping clears the 28s gate again.
	assert.True(t, needPing(now, lastSend, lastRecv, now.Add(-29*time.Second)))
}

func TestNeedPing_Quiet(t *testing.T) {
	now := time.Now()
	assert.False(t, needPing(now, now.Add(-time.Second), now.Add(-time.Second), time.Time{}))
}

func TestNextReconnectDelay_Range(t *testing.T) {
	c := NewConn(testLobbyConfig(), nil, false)
	for range 50 {
		d, err := c.NextReconnectDelay()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 30*time.Second)
	}
}

func TestNextReconnectDelay_Fixed(t *testing.T) {
	cfg := testLobbyConfig()
	cfg.ReconnectDelay = "0"
	c := NewConn(cfg, nil, false)
	d, err := c.NextReconnectDelay()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestRetarget(t *testing.T) {
	c := NewConn(testLobbyConfig(), nil, false)
	c.Retarget("192.0.2.1", 9000)
	host, port := c.Target()
	assert.Equal(t, "192.0.2.1", host)
	assert.Equal(t, 9000, port)
	assert.Equal(t, Disconnected, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "BattleOpened", BattleOpened.String())
}
