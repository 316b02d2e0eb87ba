// Package config loads the agent configuration and manages the scoped
// settings tree (global, preset, hosting preset, battle preset, map preset
// and per-plugin settings).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent holds the static configuration of one autohost instance.
type Agent struct {
	// Instance
	InstanceDir string `yaml:"instance_dir"`
	LogLevel    string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// Lobby connection
	Lobby LobbyConfig `yaml:"lobby"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Game engine
	Engine EngineConfig `yaml:"engine"`

	// Retention policy "accountDays;ipDays"
	Retention string `yaml:"retention"`

	// Skill bot account name, e.g. "SLDB"; empty disables TrueSkill lookups.
	SkillBotName string `yaml:"skill_bot_name"`

	// Flood protection thresholds
	Flood FloodConfig `yaml:"flood"`

	// Static access levels by user name; everybody else gets the base
	// level while online.
	Admins    map[string]int `yaml:"admins"`
	BaseLevel int            `yaml:"base_level"`

	// Settings tree bootstrap
	Presets       map[string]Preset `yaml:"presets"`
	DefaultPreset string            `yaml:"default_preset"`

	// Macro overrides from the command line, preserved for re-exec.
	Macros []string `yaml:"-"`
}

// LobbyConfig describes the lobby server session.
type LobbyConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	Login    string `yaml:"login"`
	Password string `yaml:"password"`

	// ReconnectDelay is either a fixed number of seconds or a "a-b" range
	// re-rolled uniformly on each cycle. 0 disables reconnecting.
	ReconnectDelay string `yaml:"reconnect_delay"`
	FollowRedirect bool   `yaml:"follow_redirect"`

	// Outbound rate budget
	SendRecordPeriod    int `yaml:"send_record_period"`      // seconds, default 10
	MaxBytesSent        int `yaml:"max_bytes_sent"`          // default 4096
	MaxLowPrioBytesSent int `yaml:"max_low_prio_bytes_sent"` // default 2048
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// EngineConfig locates the game engine and its data directories.
type EngineConfig struct {
	Binary       string   `yaml:"binary"`
	Version      string   `yaml:"version"`
	DataDirs     []string `yaml:"data_dirs"`
	AutoHostPort int      `yaml:"autohost_port"` // UDP loopback port for the spawned server
	LogFile      string   `yaml:"log_file"`
}

// FloodConfig carries the four sliding-window flood thresholds plus the
// JSON-RPC relay limit. Each value is "count;windowSeconds" with an
// optional third sanction field (minutes).
type FloodConfig struct {
	Msg     string `yaml:"msg"`     // kick from battle
	Status  string `yaml:"status"`  // kick from battle
	Kicks   string `yaml:"kicks"`   // third field: autoBanMinutes
	Cmd     string `yaml:"cmd"`     // third field: ignoreMinutes
	JSONRPC string `yaml:"jsonrpc"` // one-shot ignore for the window
}

// Preset is a named bundle of setting constraints. The first allowed value
// of each entry is the default applied when the preset loads.
type Preset map[string][]string

// Load reads the agent configuration from path and applies macro overrides
// of the form name=value.
func Load(path string, macros []string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAgent()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Macros = append([]string(nil), macros...)

	for _, m := range macros {
		name, value, ok := strings.Cut(m, "=")
		if !ok {
			return nil, fmt.Errorf("invalid macro %q: want name=value", m)
		}
		if err := cfg.applyMacro(name, value); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultAgent() *Agent {
	return &Agent{
		InstanceDir: ".",
		LogLevel:    "info",
		Lobby: LobbyConfig{
			Port:                8200,
			ReconnectDelay:      "10-30",
			SendRecordPeriod:    10,
			MaxBytesSent:        4096,
			MaxLowPrioBytesSent: 2048,
		},
		Retention: "0;0",
		Flood: FloodConfig{
			Msg:     "8;4",
			Status:  "8;4",
			Kicks:   "3;300;5",
			Cmd:     "12;6;10",
			JSONRPC: "20;10",
		},
	}
}

// Validate checks the loaded configuration for consistency.
func (c *Agent) Validate() error {
	if c.Lobby.Host == "" {
		return fmt.Errorf("config: lobby.host is required")
	}
	if c.Lobby.Login == "" {
		return fmt.Errorf("config: lobby.login is required")
	}
	if _, _, err := ParseReconnectDelay(c.Lobby.ReconnectDelay); err != nil {
		return fmt.Errorf("config: lobby.reconnect_delay: %w", err)
	}
	if _, _, err := c.RetentionDays(); err != nil {
		return err
	}
	if c.DefaultPreset != "" {
		if _, ok := c.Presets[c.DefaultPreset]; !ok {
			return fmt.Errorf("config: default_preset %q not defined", c.DefaultPreset)
		}
	}
	return nil
}

// RetentionDays parses the "accountDays;ipDays" retention field.
// Zero means unlimited retention.
func (c *Agent) RetentionDays() (account, ip int, err error) {
	parts := strings.Split(c.Retention, ";")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("config: retention %q: want accountDays;ipDays", c.Retention)
	}
	if account, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("config: retention account days: %w", err)
	}
	if ip, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("config: retention ip days: %w", err)
	}
	return account, ip, nil
}

// ParseReconnectDelay parses a reconnect delay spec: a plain integer or a
// "min-max" range in seconds.
func ParseReconnectDelay(s string) (min, max int, err error) {
	if lowS, highS, ok := strings.Cut(s, "-"); ok {
		min, err = strconv.Atoi(lowS)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range %q: %w", s, err)
		}
		max, err = strconv.Atoi(highS)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range %q: %w", s, err)
		}
		if min > max || min < 0 {
			return 0, 0, fmt.Errorf("invalid range %q", s)
		}
		return min, max, nil
	}
	min, err = strconv.Atoi(s)
	if err != nil || min < 0 {
		return 0, 0, fmt.Errorf("invalid delay %q", s)
	}
	return min, min, nil
}

// ParseFloodSpec parses a "count;windowSeconds[;minutes]" flood threshold.
func ParseFloodSpec(s string) (count, windowSec, minutes int, err error) {
	parts := strings.Split(s, ";")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("invalid flood spec %q", s)
	}
	if count, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid flood count in %q: %w", s, err)
	}
	if windowSec, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid flood window in %q: %w", s, err)
	}
	if len(parts) == 3 {
		if minutes, err = strconv.Atoi(parts[2]); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid flood sanction in %q: %w", s, err)
		}
	}
	return count, windowSec, minutes, nil
}

// applyMacro overrides a scalar field by its dotted yaml name.
// Unknown names are an error: a misspelled macro silently ignored is worse
// than a failed start.
func (c *Agent) applyMacro(name, value string) error {
	switch name {
	case "instance_dir":
		c.InstanceDir = value
	case "log_level":
		c.LogLevel = value
	case "lobby.host":
		c.Lobby.Host = value
	case "lobby.port":
		p, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("macro lobby.port: %w", err)
		}
		c.Lobby.Port = p
	case "lobby.login":
		c.Lobby.Login = value
	case "lobby.password":
		c.Lobby.Password = value
	case "lobby.tls":
		c.Lobby.TLS = value == "true" || value == "1"
	case "lobby.reconnect_delay":
		c.Lobby.ReconnectDelay = value
	case "default_preset":
		c.DefaultPreset = value
	case "skill_bot_name":
		c.SkillBotName = value
	case "engine.binary":
		c.Engine.Binary = value
	case "engine.version":
		c.Engine.Version = value
	default:
		return fmt.Errorf("unknown macro %q", name)
	}
	return nil
}
