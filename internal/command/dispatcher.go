package command

import (
	"fmt"
	"sort"
	"strings"
)

// Context is the invocation context handed to a handler. With CheckOnly
// set the handler must report feasibility without side effects.
type Context struct {
	Source    Source
	User      string
	Params    []string
	CheckOnly bool
}

// Result is the tri-value every handler returns; handlers never raise.
type Result struct {
	Ok        bool
	Canonical []string // canonical command form, used for vote identity
	Reason    string   // deny/failure reason shown to the caller
}

// Handler executes one command.
type Handler func(ctx *Context) Result

// VoteBridge is the dispatcher's view of the voting engine.
type VoteBridge interface {
	// InProgress reports whether a vote on exactly this command runs.
	InProgress(command []string) bool
	// CastYes records a yes ballot for user on the running vote.
	CastYes(user string) (string, bool)
	// Start calls a new vote on the command.
	Start(user string, source Source, command []string) (string, bool)
	// CancelDirect cancels a running vote on command because user
	// executed it directly.
	CancelDirect(command []string, user string)
}

// ShortcutResolver maps a bare setting name to the set-command of the
// scope declaring it (settings shortcuts). Hidden settings resolve to
// ok=false.
type ShortcutResolver func(name string) (setCmd string, ok bool)

// BossOverride exempts (cmd, user) pairs from the boss-mode access drop,
// e.g. endvote by the vote initiator or boss by the sole active boss.
type BossOverride func(cmd, user string) bool

// Dispatcher routes parsed commands through the right matrix to their
// handlers.
type Dispatcher struct {
	handlers map[string]Handler
	quoted   map[string]bool
	aliases  Aliases
	rights   RightsMatrix

	access       func(user string) int
	pluginAccess []func(user string) (int, bool)

	bossActive   func() bool
	isBoss       func(user string) bool
	bossOverride BossOverride

	shortcut ShortcutResolver
	votes    VoteBridge
}

// NewDispatcher builds an empty dispatcher; wire the hooks then Register
// handlers.
func NewDispatcher(rights RightsMatrix, aliases Aliases, access func(string) int) *Dispatcher {
	return &Dispatcher{
		handlers:   make(map[string]Handler),
		quoted:     make(map[string]bool),
		aliases:    aliases,
		rights:     rights,
		access:     access,
		bossActive: func() bool { return false },
		isBoss:     func(string) bool { return false },
	}
}

// Register adds a handler. quoted enables shell-like argument parsing.
func (d *Dispatcher) Register(cmd string, quoted bool, h Handler) {
	d.handlers[cmd] = h
	if quoted {
		d.quoted[cmd] = true
	}
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	out := make([]string, 0, len(d.handlers))
	for c := range d.handlers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SetVotes wires the voting engine.
func (d *Dispatcher) SetVotes(v VoteBridge) { d.votes = v }

// SetShortcuts wires the settings shortcut resolver.
func (d *Dispatcher) SetShortcuts(r ShortcutResolver) { d.shortcut = r }

// SetBoss wires the boss-mode overlay.
func (d *Dispatcher) SetBoss(active func() bool, isBoss func(string) bool, override BossOverride) {
	d.bossActive = active
	d.isBoss = isBoss
	d.bossOverride = override
}

// AddPluginAccess registers a plugin access-level override; the effective
// level is the maximum over all providers.
func (d *Dispatcher) AddPluginAccess(f func(user string) (int, bool)) {
	d.pluginAccess = append(d.pluginAccess, f)
}

// EffectiveAccess resolves the caller's access level: the maximum of the
// static rules and plugin overrides, dropped to 0 by boss mode for
// non-bosses unless the command is boss-exempt.
func (d *Dispatcher) EffectiveAccess(cmd, user string) int {
	level := d.access(user)
	for _, p := range d.pluginAccess {
		if l, ok := p(user); ok && l > level {
			level = l
		}
	}
	if d.bossActive() && !d.isBoss(user) {
		if d.bossOverride == nil || !d.bossOverride(cmd, user) {
			return 0
		}
	}
	return level
}

// parseBody tokenizes, alias-expands and shortcut-resolves a command
// line into (cmd, params, handler).
func (d *Dispatcher) parseBody(body string) (string, []string, Handler, string) {
	name, rest, _ := strings.Cut(body, " ")
	tokens, err := Tokenize(rest, d.quoted[name])
	if err != nil {
		return "", nil, nil, fmt.Sprintf("Invalid command syntax: %v", err)
	}
	tokens = append([]string{name}, tokens...)

	tokens, err = d.aliases.Expand(tokens)
	if err != nil {
		return "", nil, nil, fmt.Sprintf("Invalid alias: %v", err)
	}

	// Settings shortcut: "!teamSize 2" becomes "!bSet teamSize 2".
	if _, known := d.handlers[tokens[0]]; !known && d.shortcut != nil {
		if setCmd, ok := d.shortcut(tokens[0]); ok {
			tokens = append([]string{setCmd}, tokens...)
		}
	}

	h, ok := d.handlers[tokens[0]]
	if !ok {
		return "", nil, nil, fmt.Sprintf("Unknown command %q", tokens[0])
	}
	return tokens[0], tokens[1:], h, ""
}

// Execute runs a command's handler directly, bypassing the right matrix.
// Used for host-internal execution of passed vote commands.
func (d *Dispatcher) Execute(src Source, user, body string) string {
	cmd, params, h, errMsg := d.parseBody(body)
	if errMsg != "" {
		return errMsg
	}
	res := h(&Context{Source: src, User: user, Params: params})
	if res.Ok && d.votes != nil {
		canonical := res.Canonical
		if canonical == nil {
			canonical = append([]string{cmd}, params...)
		}
		d.votes.CancelDirect(canonical, user)
	}
	return res.Reason
}

// Dispatch processes one !command line and returns the user-visible
// reply, if any.
func (d *Dispatcher) Dispatch(src Source, user string, ps PlayerStatus, gs GameState, body string) string {
	cmd, params, h, errMsg := d.parseBody(body)
	if errMsg != "" {
		return errMsg
	}

	access := d.EffectiveAccess(cmd, user)
	levels := d.rights.Lookup(cmd, src, ps, gs)

	full := append([]string{cmd}, params...)
	// An identical request while the same vote runs counts as a yes.
	if d.votes != nil && d.votes.InProgress(full) {
		msg, _ := d.votes.CastYes(user)
		return msg
	}

	switch levels.Gate(access) {
	case Direct:
		res := h(&Context{Source: src, User: user, Params: params})
		if !res.Ok {
			return res.Reason
		}
		if d.votes != nil {
			canonical := res.Canonical
			if canonical == nil {
				canonical = full
			}
			d.votes.CancelDirect(canonical, user)
		}
		return res.Reason
	case ByVote:
		if d.votes == nil {
			return "Vote system unavailable"
		}
		res := h(&Context{Source: src, User: user, Params: params, CheckOnly: true})
		if !res.Ok {
			return res.Reason
		}
		canonical := res.Canonical
		if canonical == nil {
			canonical = full
		}
		msg, _ := d.votes.Start(user, src, canonical)
		return msg
	default:
		return fmt.Sprintf("%s is not allowed to run %q from %s", user, cmd, src)
	}
}
