// Package agent wires the subsystems into the autohost core: one context
// struct owned by a cooperative main loop, fed by the lobby session, the
// autohost UDP channel and timers.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/autohost/internal/archive"
	"github.com/udisondev/autohost/internal/battle"
	"github.com/udisondev/autohost/internal/command"
	"github.com/udisondev/autohost/internal/config"
	"github.com/udisondev/autohost/internal/exitcode"
	"github.com/udisondev/autohost/internal/game"
	"github.com/udisondev/autohost/internal/lobby"
	"github.com/udisondev/autohost/internal/prefs"
	"github.com/udisondev/autohost/internal/protocol"
	"github.com/udisondev/autohost/internal/quit"
	"github.com/udisondev/autohost/internal/skill"
	"github.com/udisondev/autohost/internal/users"
	"github.com/udisondev/autohost/internal/vote"
)

// tickPeriod is the main loop cadence.
const tickPeriod = 500 * time.Millisecond

// policyPeriod spaces the membership policy sweeps.
const policyPeriod = 2 * time.Second

// floodPurgePeriod spaces the flood-window purges.
const floodPurgePeriod = time.Hour

// BanStore persists dynamic ban mutations.
type BanStore interface {
	Save(ctx context.Context, b *users.Ban) error
	Remove(ctx context.Context, hash string) (bool, error)
}

// Deps bundles the constructed subsystems the agent owns.
type Deps struct {
	Config   *config.Agent
	Settings *config.Settings
	Conn     *lobby.Conn
	Users    *users.Store
	Prefs    *prefs.Prefs
	Flood    *prefs.FloodGuard
	Bans     *users.BanList
	BanStore BanStore
	Launcher *game.Launcher
	Loader   *archive.Loader
}

// Agent is the core context: every subsystem hangs off it and every
// handler receives it by reference through closures.
type Agent struct {
	cfg      *config.Agent
	settings *config.Settings

	conn     *lobby.Conn
	users    *users.Store
	prefs    *prefs.Prefs
	flood    *prefs.FloodGuard
	bans     *users.BanList
	banStore BanStore

	room     *battle.Room
	policies *battle.Policies

	dispatcher *command.Dispatcher
	facade     *command.Facade
	votes      *VoteEngine
	skills     *skill.Bridge
	plugins    *PluginRegistry

	launcher *game.Launcher
	loader   *archive.Loader
	channel  *game.Channel
	run      *game.Run

	archiveResults chan archive.Result

	intent *quit.Intent

	needRebalance  bool
	lastPolicyTick time.Time
	lastFloodPurge time.Time
	loginRetries   int

	// prematureEnd keeps the crash path armed when the process died while
	// the autohost socket still reported an active game.
	prematureEnd *time.Time

	ctx context.Context
}

// New builds the agent around its dependencies.
func New(d Deps) *Agent {
	a := &Agent{
		cfg:      d.Config,
		settings: d.Settings,
		conn:     d.Conn,
		users:    d.Users,
		prefs:    d.Prefs,
		flood:    d.Flood,
		bans:     d.Bans,
		banStore: d.BanStore,
		launcher: d.Launcher,
		loader:   d.Loader,

		archiveResults: make(chan archive.Result, 1),
		plugins:        &PluginRegistry{},
		intent:         quit.New(),
		ctx:            context.Background(),
	}
	a.room = battle.NewRoom(d.Config.Lobby.Login)
	a.policies = battle.NewPolicies(a.policyConfig(), a.accessOf)

	a.skills = skill.NewBridge(d.Config.SkillBotName, privateSender{a}, func(player string) {
		if m := a.room.Member(player); m != nil && m.Status.Mode == battle.Player {
			a.needRebalance = true
		}
	})

	a.votes = NewVoteEngine(a.voteConfigFor, a.eligibleVoters, a.executeVoted, a.SayBattle, a.plugins)
	a.votes.SetReminders(
		func(user string) { a.send(protocol.New("RING", user), lobby.Normal) },
		func(user, text string) {
			if u := a.users.Get(user); u != nil && !u.Status.InGame {
				a.SayPrivate(user, text)
			}
		},
	)
	a.votes.SetAwayLookups(
		func(user string) bool { return a.prefOf(user, "voteMode") == "away" },
		func(user string) bool { return a.prefOf(user, "autoSetVoteMode") == "on" },
	)

	a.dispatcher = command.NewDispatcher(defaultRights(), command.DefaultAliases(), a.accessOf)
	a.dispatcher.SetVotes(a.votes)
	a.dispatcher.SetShortcuts(a.settingShortcut)
	a.dispatcher.SetBoss(a.room.BossMode, a.room.IsBoss, a.bossOverride)
	a.dispatcher.AddPluginAccess(func(user string) (int, bool) {
		level, ok := 0, false
		a.plugins.Each(func(p Plugin) {
			if l, o := p.ChangeUserAccessLevel(user); o && l > level {
				level, ok = l, true
			}
		})
		return level, ok
	})
	a.registerHandlers()
	a.facade = command.NewFacade(a.rpcAllow)
	a.registerRPC()
	return a
}

// Plugins exposes the registry for extension wiring at startup.
func (a *Agent) Plugins() *PluginRegistry { return a.plugins }

// Intent exposes the quit/rehost controller.
func (a *Agent) Intent() *quit.Intent { return a.intent }

// Room exposes the battle room (tests, status handlers).
func (a *Agent) Room() *battle.Room { return a.room }

// send enqueues an outbound lobby command.
func (a *Agent) send(cmd protocol.Command, p lobby.Priority) {
	a.conn.Send(cmd, p)
}

// SayBattle broadcasts into the battle room.
func (a *Agent) SayBattle(text string) {
	a.send(protocol.New("SAYBATTLE").WithSentences(Strip(Sanitize(text))), lobby.Normal)
}

// SayPrivate messages one user on the low-priority queue.
func (a *Agent) SayPrivate(user, text string) {
	styled := NewStyler(a.prefOf(user, "ircColors") == "on").Render(Sanitize(text))
	a.send(protocol.New("SAYPRIVATE", user).WithSentences(styled), lobby.Low)
}

type privateSender struct{ a *Agent }

func (s privateSender) SendPrivate(to, message string) error {
	s.a.send(protocol.New("SAYPRIVATE", to).WithSentences(message), lobby.Normal)
	return nil
}

// prefOf resolves a preference for an online user.
func (a *Agent) prefOf(name, pref string) string {
	u := a.users.Get(name)
	if u == nil {
		return ""
	}
	v, err := a.prefs.Get(a.ctx, u.AccountKey(), pref)
	if err != nil {
		return ""
	}
	return v
}

// accessOf resolves the static access level of a user.
func (a *Agent) accessOf(name string) int {
	if level, ok := a.cfg.Admins[name]; ok {
		if pw := a.prefOf(name, "password"); pw != "" {
			// A protected admin level requires !auth this session.
			u := a.users.Get(name)
			if u == nil || !a.prefs.Authenticated(u.AccountKey()) {
				return a.cfg.BaseLevel
			}
		}
		return level
	}
	if a.users.Get(name) != nil {
		return a.cfg.BaseLevel
	}
	return 0
}

// bossOverride exempts specific pairs from the boss-mode drop: the vote
// initiator may always !endvote, and the sole boss may always !boss.
func (a *Agent) bossOverride(cmd, user string) bool {
	if cmd == "endvote" && a.votes.Active() && a.votes.Current().Initiator == user {
		return true
	}
	if cmd == "boss" {
		bosses := a.room.Bosses()
		return len(bosses) == 1 && bosses[0] == user
	}
	return false
}

// settingShortcut maps a bare setting name to its scope's set command.
func (a *Agent) settingShortcut(name string) (string, bool) {
	scope, ok := a.settings.ScopeOf(name)
	if !ok {
		return "", false
	}
	switch scope {
	case config.ScopeHostingPreset:
		return "hSet", true
	case config.ScopeBattlePreset:
		return "bSet", true
	default:
		return "set", true
	}
}

// policyConfig reads the battle-preset settings into the policy slice.
func (a *Agent) policyConfig() battle.PolicyConfig {
	get := func(name string, def int) int {
		return a.settings.GetInt(config.ScopeBattlePreset, name, def)
	}
	getS := func(name, def string) string {
		if v, ok := a.settings.Get(config.ScopeBattlePreset, name); ok {
			return v
		}
		return def
	}
	return battle.PolicyConfig{
		NbTeams:               get("nbTeams", 2),
		TeamSize:              get("teamSize", 8),
		NbPlayerByID:          get("nbPlayerById", 1),
		MinTeamSize:           get("minTeamSize", 1),
		MinPlayers:            get("minPlayers", 2),
		MaxSpecs:              get("maxSpecs", -1),
		SpecImmunityLevel:     get("specImmunityLevel", 100),
		MaxBots:               get("maxBots", -1),
		MaxLocalBots:          get("maxLocalBots", -1),
		MaxRemoteBots:         get("maxRemoteBots", -1),
		AutoSpecExtraPlayers:  getS("autoSpecExtraPlayers", "off") == "on",
		AutoLock:              getS("autoLock", "off"),
		AutoLockClients:       get("autoLockClients", 0),
		AutoLockRunningBattle: getS("autoLockRunningBattle", "off") == "on",
		AutoStart:             getS("autoStart", "off"),
	}
}

// voteConfigFor resolves the vote settings for a command.
func (a *Agent) voteConfigFor(cmd []string) vote.Config {
	voteTime := time.Duration(a.settings.GetInt(config.ScopeGlobal, "voteTime", 40)) * time.Second
	awaySpec, _ := a.settings.Get(config.ScopeGlobal, "awayVoteDelay")
	awayDelay, err := vote.ParseAwayVoteDelay(awaySpec, voteTime)
	if err != nil {
		awayDelay = 0
	}
	partSpec, _ := a.settings.Get(config.ScopeGlobal, "minVoteParticipation")
	part, err := vote.ParseMinParticipation(partSpec, a.GameRunning())
	if err != nil {
		part = 0
	}
	return vote.Config{
		VoteTime:         voteTime,
		AwayVoteDelay:    awayDelay,
		Margin:           a.settings.GetInt(config.ScopeGlobal, "majorityVoteMargin", 0),
		MinParticipation: part,
		RingDelay:        time.Duration(a.settings.GetInt(config.ScopeGlobal, "voteRingDelay", 20)) * time.Second,
		NotifyDelay:      time.Duration(a.settings.GetInt(config.ScopeGlobal, "voteNotifyDelay", 30)) * time.Second,
		MinRingDelay:     time.Duration(a.settings.GetInt(config.ScopeGlobal, "minRingDelay", 60)) * time.Second,
	}
}

// eligibleVoters lists the members allowed to vote, minus the initiator
// and the host.
func (a *Agent) eligibleVoters(initiator string) []string {
	var out []string
	for _, m := range a.room.Members() {
		name := m.User.Name
		if name == initiator || name == a.room.HostName {
			continue
		}
		out = append(out, name)
	}
	return out
}

// executeVoted runs a passed vote command through the dispatcher's
// handler directly.
func (a *Agent) executeVoted(cmd []string, initiator string) {
	body := strings.Join(cmd, " ")
	a.dispatchInternal(command.SourceBattle, a.room.HostName, body)
	slog.Info("vote command executed", "cmd", body, "initiator", initiator)
}

// dispatchInternal invokes a handler bypassing access checks (host self).
func (a *Agent) dispatchInternal(src command.Source, user, body string) {
	reply := a.dispatcher.Execute(src, user, body)
	if reply != "" {
		a.SayBattle(reply)
	}
}

// GameRunning reports whether the engine process is alive.
func (a *Agent) GameRunning() bool { return a.run != nil }

func (a *Agent) gameState() command.GameState {
	switch {
	case a.votes.Active():
		return command.GameVoting
	case a.GameRunning():
		return command.GameRunning
	default:
		return command.GameStopped
	}
}

func (a *Agent) playerStatus(name string) command.PlayerStatus {
	m := a.room.Member(name)
	if m == nil {
		return command.StatusOutside
	}
	if u := a.users.Get(name); u != nil && u.Status.InGame {
		return command.StatusPlaying
	}
	if m.Status.Mode == battle.Player {
		return command.StatusPlayer
	}
	return command.StatusSpec
}

// Run drives the agent until ctx ends or the quit intent fires. The
// returned exit code comes from the intent.
func (a *Agent) Run(ctx context.Context) (int, error) {
	a.ctx = ctx
	g, ctx := errgroup.WithContext(ctx)

	events := make(chan protocol.Command, 256)
	g.Go(func() error { return a.connectionLoop(ctx, events) })

	autohostEvents := make(chan game.Event, 256)
	if a.cfg.Engine.AutoHostPort > 0 {
		ch, err := game.Listen(a.cfg.Engine.AutoHostPort)
		if err != nil {
			return exitcode.System, err
		}
		a.channel = ch
		g.Go(func() error { return a.autohostLoop(ctx, autohostEvents) })
	}

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return a.intent.ExitCode, nil
		case cmd := <-events:
			a.HandleLobby(cmd)
		case res := <-a.archiveResults:
			// A launch holding the archive lock invalidates the result.
			if a.GameRunning() {
				slog.Debug("ignoring archive enumeration completed during a game")
				a.loader.Abort()
				continue
			}
			if err := a.loader.Apply(ctx, res); err != nil {
				slog.Error("archive load failed", "err", err)
			} else if a.loader.Mod() != nil && a.loader.Mod().Name != "" {
				a.room.ModArchive = a.loader.Mod().Name
			}
		case ev := <-autohostEvents:
			a.HandleAutohost(ev)
		case now := <-ticker.C:
			if stop := a.Tick(now); stop {
				return a.intent.ExitCode, nil
			}
		}
	}
}

// connectionLoop dials, reads and redials per the reconnect policy.
func (a *Agent) connectionLoop(ctx context.Context, events chan<- protocol.Command) error {
	attempts := 0
	for ctx.Err() == nil {
		if attempts > 0 {
			delay, err := a.conn.NextReconnectDelay()
			if err != nil {
				return err
			}
			if delay == 0 {
				a.intent.Merge(quit.ActionShutdown, quit.CondNow, exitcode.Remote)
				return fmt.Errorf("lobby connection lost and reconnecting disabled")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		attempts++

		if err := a.conn.Connect(ctx); err != nil {
			slog.Warn("lobby connect failed", "err", err)
			continue
		}
		a.login()
		err := a.conn.ReadLines(ctx, func(cmd protocol.Command) {
			select {
			case events <- cmd:
			case <-ctx.Done():
			}
		})
		a.conn.Close()
		if err != nil && ctx.Err() == nil {
			slog.Warn("lobby session ended", "err", err)
		}
	}
	return ctx.Err()
}

func (a *Agent) login() {
	a.send(protocol.New("LOGIN", a.cfg.Lobby.Login, prefs.HashPassword(a.cfg.Lobby.Password),
		"0", "*").WithSentences("autohost"), lobby.Normal)
}

// autohostLoop pumps decoded engine datagrams to the main loop.
func (a *Agent) autohostLoop(ctx context.Context, events chan<- game.Event) error {
	buf := make([]byte, 64*1024)
	for ctx.Err() == nil {
		ev, err := a.channel.Receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("autohost receive failed", "err", err)
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	return nil
}

// Tick runs the periodic work; returns true when the loop must stop.
func (a *Agent) Tick(now time.Time) bool {
	if !a.conn.Flush(now) && a.conn.State() != lobby.Disconnected {
		a.conn.Close()
	}
	a.votes.Tick(now)
	a.skills.Tick(now)

	if a.prematureEnd != nil && now.Sub(*a.prematureEnd) >= game.PrematureGrace {
		a.prematureEnd = nil
		a.finishCrash()
	}

	if now.Sub(a.lastPolicyTick) >= policyPeriod && a.conn.State() == lobby.BattleOpened {
		a.lastPolicyTick = now
		a.policies.SetConfig(a.policyConfig())
		hostInGame := false
		if u := a.users.Get(a.room.HostName); u != nil {
			hostInGame = u.Status.InGame
		}
		for _, cmd := range a.policies.Tick(a.room, hostInGame) {
			a.send(cmd, lobby.Normal)
		}
		if a.needRebalance {
			a.needRebalance = false
			a.applyBalance(false)
		}
		if !a.GameRunning() && !a.votes.Active() && a.policies.AutoStartReady(a.room) {
			a.tryLaunch(true)
		}
	}

	if now.Sub(a.lastFloodPurge) >= floodPurgePeriod {
		a.lastFloodPurge = now
		a.flood.Purge(now)
		for _, h := range a.bans.PruneExpired(now) {
			slog.Info("dynamic ban expired", "hash", h)
		}
	}

	if a.intent.ShouldStop(quit.RoomState{
		GameRunning:  a.GameRunning(),
		AutohostBusy: false,
		PlayerCount:  len(a.room.Players()),
		MemberCount:  a.room.MemberCount(),
	}) {
		slog.Info("quit condition reached", "action", a.intent.Action, "exit", a.intent.ExitCode)
		return true
	}
	return false
}
