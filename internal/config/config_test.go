package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
instance_dir: /var/lib/autohost
log_level: debug
lobby:
  host: lobby.example.org
  port: 8200
  login: MyHost
  password: secret
  tls: true
  reconnect_delay: "10-30"
retention: "180;90"
skill_bot_name: SLDB
default_preset: team
presets:
  team:
    teamSize: ["8", "1-16"]
    autoLock: ["off", "on", "advanced"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autohost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, "lobby.example.org", cfg.Lobby.Host)
	assert.True(t, cfg.Lobby.TLS)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "team", cfg.DefaultPreset)

	account, ip, err := cfg.RetentionDays()
	require.NoError(t, err)
	assert.Equal(t, 180, account)
	assert.Equal(t, 90, ip)

	// Defaults survive a partial file.
	assert.Equal(t, 10, cfg.Lobby.SendRecordPeriod)
	assert.Equal(t, 4096, cfg.Lobby.MaxBytesSent)
}

func TestLoad_MacroOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig), []string{"lobby.port=9999", "log_level=warn"})
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Lobby.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, []string{"lobby.port=9999", "log_level=warn"}, cfg.Macros)

	_, err = Load(writeConfig(t, sampleConfig), []string{"no_such=1"})
	assert.Error(t, err, "unknown macros fail the start")

	_, err = Load(writeConfig(t, sampleConfig), []string{"notanassignment"})
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	_, err := Load(writeConfig(t, "lobby:\n  login: x\n"), nil)
	assert.Error(t, err, "missing host")

	_, err = Load(writeConfig(t, "lobby:\n  host: h\n"), nil)
	assert.Error(t, err, "missing login")

	bad := sampleConfig + "\n"
	_, err = Load(writeConfig(t, bad), []string{"lobby.reconnect_delay=30-10"})
	assert.Error(t, err, "inverted reconnect range")
}

func TestApplyPreset(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)

	s := NewSettings()
	require.NoError(t, s.ApplyPreset(ScopePreset, cfg.Presets["team"]))
	v, ok := s.Get(ScopePreset, "teamSize")
	require.True(t, ok)
	assert.Equal(t, "8", v)
	require.NoError(t, s.Set(ScopePreset, "teamSize", "4"))
	assert.Error(t, s.Set(ScopePreset, "teamSize", "17"))
}
