package battle

import (
	"strconv"
	"time"

	"github.com/udisondev/autohost/internal/balance"
	"github.com/udisondev/autohost/internal/protocol"
	"github.com/udisondev/autohost/internal/users"
)

// PolicyConfig is the slice of battle-preset settings the membership
// policies read each tick.
type PolicyConfig struct {
	NbTeams      int
	TeamSize     int
	NbPlayerByID int
	MinTeamSize  int
	MinPlayers   int

	MaxSpecs             int // -1 unlimited
	SpecImmunityLevel    int // spectators at or above this access level are never kicked
	MaxBots              int // -1 unlimited
	MaxLocalBots         int
	MaxRemoteBots        int
	AutoSpecExtraPlayers bool

	AutoLock              string // off | on | advanced | whenEmpty | whenTeamSizeEven
	AutoLockClients       int    // lock when this many clients joined; 0 disables
	AutoLockRunningBattle bool

	AutoStart string // off | on | advanced
}

// AccessLookup resolves a member's access level for spec immunity.
type AccessLookup func(name string) int

// Policies computes the per-tick enforcement for a room.
type Policies struct {
	cfg    PolicyConfig
	access AccessLookup

	// last UPDATEBATTLEINFO payload, to send only on change
	lastSpecCount int
	lastLocked    bool
	lastMap       string
	sentOnce      bool
}

// NewPolicies creates the policy engine.
func NewPolicies(cfg PolicyConfig, access AccessLookup) *Policies {
	return &Policies{cfg: cfg, access: access}
}

// SetConfig swaps the policy settings (preset change).
func (p *Policies) SetConfig(cfg PolicyConfig) { p.cfg = cfg }

// Config returns the active policy settings.
func (p *Policies) Config() PolicyConfig { return p.cfg }

// Structure computes the current target structure of the room.
func (p *Policies) Structure(r *Room) balance.Structure {
	return balance.TargetStructure(len(r.Players())+len(r.bots),
		p.cfg.NbTeams, p.cfg.TeamSize, p.cfg.NbPlayerByID, p.cfg.MinTeamSize)
}

// GameType classifies the room under the current target structure.
func (p *Policies) GameType(r *Room) balance.GameType {
	return p.Structure(r).GameType()
}

// Tick runs every membership policy in order and returns the outbound
// commands. All mutations from the triggering events are already applied;
// the UPDATEBATTLEINFO, if any, is produced last (batching).
func (p *Policies) Tick(r *Room, hostInGame bool) []protocol.Command {
	var out []protocol.Command
	out = append(out, p.enforceExtraPlayers(r)...)
	out = append(out, p.enforceMaxSpecs(r)...)
	out = append(out, p.enforceMaxBots(r)...)
	p.evaluateAutoLock(r, hostInGame)
	if cmd, ok := p.updateBattleInfo(r); ok {
		out = append(out, cmd)
	}
	return out
}

// enforceExtraPlayers spec-forces the newest players above the target
// slot count, after removing the newest auto-added local bots first.
func (p *Policies) enforceExtraPlayers(r *Room) []protocol.Command {
	if !p.cfg.AutoSpecExtraPlayers {
		return nil
	}
	slots := p.cfg.NbTeams * p.cfg.TeamSize * p.cfg.NbPlayerByID
	players := r.Players()
	excess := len(players) + countAutoBots(r) - slots
	if excess <= 0 {
		return nil
	}

	var out []protocol.Command
	// Newest auto-added local bots go first.
	bots := r.Bots()
	for i := len(bots) - 1; i >= 0 && excess > 0; i-- {
		b := bots[i]
		if b.AutoAdded && b.Local(r.HostName) {
			r.RemoveBot(b.Name)
			out = append(out, protocol.New("REMOVEBOT", b.Name))
			excess--
		}
	}
	// Then the newest players are force-spec'd.
	for i := len(players) - 1; i >= 0 && excess > 0; i-- {
		out = append(out, protocol.New("FORCESPECTATORMODE", players[i].User.Name))
		excess--
	}
	return out
}

func countAutoBots(r *Room) int {
	n := 0
	for _, b := range r.Bots() {
		if b.AutoAdded && b.Local(r.HostName) {
			n++
		}
	}
	return n
}

// enforceMaxSpecs kicks the newest spectators below the immunity level
// until the count fits.
func (p *Policies) enforceMaxSpecs(r *Room) []protocol.Command {
	if p.cfg.MaxSpecs < 0 {
		return nil
	}
	specs := r.Specs()
	var out []protocol.Command
	for i := len(specs) - 1; i >= 0 && len(specs)-len(out) > p.cfg.MaxSpecs; i-- {
		name := specs[i].User.Name
		if p.access != nil && p.access(name) >= p.cfg.SpecImmunityLevel {
			continue
		}
		out = append(out, protocol.New("KICKFROMBATTLE", name))
	}
	return out
}

// enforceMaxBots removes the newest bots of each violating class.
func (p *Policies) enforceMaxBots(r *Room) []protocol.Command {
	var out []protocol.Command
	removeNewest := func(match func(*Bot) bool, over int) {
		bots := r.Bots()
		for i := len(bots) - 1; i >= 0 && over > 0; i-- {
			if !match(bots[i]) {
				continue
			}
			r.RemoveBot(bots[i].Name)
			out = append(out, protocol.New("REMOVEBOT", bots[i].Name))
			over--
		}
	}

	if p.cfg.MaxBots >= 0 {
		if over := len(r.bots) - p.cfg.MaxBots; over > 0 {
			removeNewest(func(*Bot) bool { return true }, over)
		}
	}
	if p.cfg.MaxLocalBots >= 0 {
		local := 0
		for _, b := range r.bots {
			if b.Local(r.HostName) {
				local++
			}
		}
		if over := local - p.cfg.MaxLocalBots; over > 0 {
			removeNewest(func(b *Bot) bool { return b.Local(r.HostName) }, over)
		}
	}
	if p.cfg.MaxRemoteBots >= 0 {
		remote := 0
		for _, b := range r.bots {
			if !b.Local(r.HostName) {
				remote++
			}
		}
		if over := remote - p.cfg.MaxRemoteBots; over > 0 {
			removeNewest(func(b *Bot) bool { return !b.Local(r.HostName) }, over)
		}
	}
	return out
}

// evaluateAutoLock computes the target locked state.
func (p *Policies) evaluateAutoLock(r *Room, hostInGame bool) {
	players := len(r.Players())
	slots := p.cfg.NbTeams * p.cfg.TeamSize * p.cfg.NbPlayerByID

	if players < p.cfg.MinPlayers {
		r.Locked = false
	}

	switch p.cfg.AutoLock {
	case "on", "advanced":
		r.Locked = players >= slots && players >= p.cfg.MinPlayers
	case "whenEmpty":
		if players == 0 {
			r.Locked = true
		} else if players >= p.cfg.MinPlayers {
			r.Locked = false
		}
	case "whenTeamSizeEven":
		r.Locked = players >= p.cfg.MinPlayers && players%p.cfg.NbTeams == 0
	}

	if p.cfg.AutoLockClients > 0 && r.MemberCount() >= p.cfg.AutoLockClients {
		r.Locked = true
	}
	if p.cfg.AutoLockRunningBattle && hostInGame {
		r.Locked = true
	}
}

// updateBattleInfo emits UPDATEBATTLEINFO only when the published tuple
// (spectator count, locked, map) changed.
func (p *Policies) updateBattleInfo(r *Room) (protocol.Command, bool) {
	specCount := r.NonPlayerCount()
	if p.sentOnce && specCount == p.lastSpecCount && r.Locked == p.lastLocked && r.MapName == p.lastMap {
		return protocol.Command{}, false
	}
	p.sentOnce = true
	p.lastSpecCount = specCount
	p.lastLocked = r.Locked
	p.lastMap = r.MapName

	locked := "0"
	if r.Locked {
		locked = "1"
	}
	return protocol.New("UPDATEBATTLEINFO",
		strconv.Itoa(specCount), locked, strconv.FormatInt(r.MapHash, 10),
	).WithSentences(r.MapName), true
}

// AutoStartReady reports whether the room satisfies the balanced-ready
// predicate: team divisibility holds, minPlayers is met, and at least one
// non-host participant is in player mode.
func (p *Policies) AutoStartReady(r *Room) bool {
	if p.cfg.AutoStart == "off" || p.cfg.AutoStart == "" {
		return false
	}
	players := len(r.Players()) + len(r.bots)
	if players == 0 || len(r.Players()) == 0 {
		return false
	}
	if players < p.cfg.MinPlayers {
		return false
	}
	minTeamSize := p.cfg.MinTeamSize
	if minTeamSize < 1 {
		minTeamSize = p.cfg.TeamSize
	}
	divisible := (minTeamSize == 1 && players%p.cfg.NbTeams == 0) ||
		(minTeamSize > 1 && players%minTeamSize == 0)
	return divisible
}

// JoinDecision is the outcome of a join request.
type JoinDecision struct {
	Deny   bool
	Reason string
}

// EvaluateJoin applies the joining policy: a dynamic ban of type battle
// or stricter denies with the ban reason; plugins may veto afterwards.
func EvaluateJoin(c users.Candidate, bans *users.BanList, now time.Time, vetoes []func(users.Candidate) (bool, string)) JoinDecision {
	if b := bans.Find(c, now); b != nil && b.Action.BanType <= users.BanBattle {
		return JoinDecision{Deny: true, Reason: b.Action.Reason}
	}
	for _, veto := range vetoes {
		if deny, reason := veto(c); deny {
			return JoinDecision{Deny: true, Reason: reason}
		}
	}
	return JoinDecision{}
}
