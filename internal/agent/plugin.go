package agent

import (
	"log/slog"

	"github.com/udisondev/autohost/internal/users"
)

// Plugin is the capability interface extensions register against. Every
// method but Name is optional: embed NopPlugin, implement Name and
// override what you need.
// Plugins are invoked in registration order; a panicking plugin is
// logged and skipped, the core continues.
type Plugin interface {
	Name() string
	OnLobbyConnected()
	// OnJoinBattleRequest may veto a join with a reason.
	OnJoinBattleRequest(c users.Candidate) (deny bool, reason string)
	OnVoteStart(initiator string, command []string)
	// OnVoteStop receives +1 on pass, -1 on fail, 0 on cancel.
	OnVoteStop(result int)
	// ChangeUserAccessLevel may override a user's access level.
	ChangeUserAccessLevel(user string) (level int, ok bool)
	OnGameEnd(report any)
}

// NopPlugin is the no-op base for plugin implementations.
type NopPlugin struct{}

func (NopPlugin) OnLobbyConnected()                                  {}
func (NopPlugin) OnJoinBattleRequest(users.Candidate) (bool, string) { return false, "" }
func (NopPlugin) OnVoteStart(string, []string)                       {}
func (NopPlugin) OnVoteStop(int)                                     {}
func (NopPlugin) ChangeUserAccessLevel(string) (int, bool)           { return 0, false }
func (NopPlugin) OnGameEnd(any)                                      {}

// PluginRegistry keeps plugins in deterministic registration order.
type PluginRegistry struct {
	plugins []Plugin
}

// Register appends a plugin.
func (r *PluginRegistry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
}

// Each invokes f for every plugin in order, recovering panics.
func (r *PluginRegistry) Each(f func(Plugin)) {
	for _, p := range r.plugins {
		func() {
			defer func() {
				if err := recover(); err != nil {
					slog.Error("plugin panicked", "plugin", p.Name(), "err", err)
				}
			}()
			f(p)
		}()
	}
}

// Names lists the registered plugins in order.
func (r *PluginRegistry) Names() []string {
	out := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Name())
	}
	return out
}
