package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/autohost/internal/archive"
	"github.com/udisondev/autohost/internal/battle"
	"github.com/udisondev/autohost/internal/command"
	"github.com/udisondev/autohost/internal/config"
	"github.com/udisondev/autohost/internal/exitcode"
	"github.com/udisondev/autohost/internal/lobby"
	"github.com/udisondev/autohost/internal/prefs"
	"github.com/udisondev/autohost/internal/protocol"
	"github.com/udisondev/autohost/internal/quit"
	"github.com/udisondev/autohost/internal/users"
	"github.com/udisondev/autohost/internal/vote"
)

// defaultRights is the built-in right matrix. Level conventions: 0
// everyone, 10 players, 100 admins, 140 owners.
func defaultRights() command.RightsMatrix {
	anyCtx := func(l command.Levels) []command.RightsRule {
		return []command.RightsRule{{Levels: l}}
	}
	return command.RightsMatrix{
		"help":           anyCtx(command.Levels{Direct: 0, Vote: -1}),
		"status":         anyCtx(command.Levels{Direct: 0, Vote: -1}),
		"ring":           anyCtx(command.Levels{Direct: 10, Vote: -1}),
		"auth":           {{Source: "pv", Levels: command.Levels{Direct: 0, Vote: -1}}},
		"pset":           anyCtx(command.Levels{Direct: 0, Vote: -1}),
		"vote":           anyCtx(command.Levels{Direct: 0, Vote: -1}),
		"callvote":       anyCtx(command.Levels{Direct: 0, Vote: -1}),
		"endvote":        anyCtx(command.Levels{Direct: 100, Vote: -1}),
		"set":            anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"hSet":           anyCtx(command.Levels{Direct: 100, Vote: -1}),
		"bSet":           anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"pSet":           anyCtx(command.Levels{Direct: 0, Vote: -1}),
		"map":            anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"start":          anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"stop":           anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"forceStart":     anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"balance":        anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"fixColors":      anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"force":          anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"kick":           anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"ban":            anyCtx(command.Levels{Direct: 100, Vote: -1}),
		"unban":          anyCtx(command.Levels{Direct: 100, Vote: -1}),
		"bans":           anyCtx(command.Levels{Direct: 100, Vote: -1}),
		"boss":           anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"lock":           anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"unlock":         anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"startBox":       anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"smurfs":         anyCtx(command.Levels{Direct: 100, Vote: -1}),
		"search":         anyCtx(command.Levels{Direct: 100, Vote: -1}),
		"rehost":         anyCtx(command.Levels{Direct: 100, Vote: 10}),
		"reloadArchives": anyCtx(command.Levels{Direct: 100, Vote: -1}),
		"quit":           anyCtx(command.Levels{Direct: 140, Vote: -1}),
		"restart":        anyCtx(command.Levels{Direct: 140, Vote: -1}),
	}
}

func okResult() command.Result { return command.Result{Ok: true} }

func deny(format string, args ...any) command.Result {
	return command.Result{Reason: fmt.Sprintf(format, args...)}
}

func (a *Agent) registerHandlers() {
	d := a.dispatcher

	d.Register("help", false, func(ctx *command.Context) command.Result {
		return command.Result{Ok: true,
			Reason: "Available commands: " + strings.Join(d.Commands(), ", ")}
	})

	d.Register("status", false, func(ctx *command.Context) command.Result {
		return command.Result{Ok: true, Reason: a.room.Summary()}
	})

	d.Register("ring", false, func(ctx *command.Context) command.Result {
		target := ctx.User
		if len(ctx.Params) > 0 {
			target = ctx.Params[0]
		}
		if ctx.CheckOnly {
			return okResult()
		}
		a.send(protocol.New("RING", target), lobby.Normal)
		return okResult()
	})

	d.Register("auth", false, func(ctx *command.Context) command.Result {
		if len(ctx.Params) != 1 {
			return deny("Usage: auth <password>")
		}
		u := a.users.Get(ctx.User)
		if u == nil {
			return deny("Unknown user")
		}
		before := a.accessOf(ctx.User)
		ok, err := a.prefs.Authenticate(a.ctx, u.AccountKey(), ctx.Params[0])
		if err != nil || !ok {
			return deny("Authentication failed")
		}
		after := a.accessOf(ctx.User)
		if after != before {
			return command.Result{Ok: true, Reason: fmt.Sprintf("Authenticated (access level %d -> %d)", before, after)}
		}
		return command.Result{Ok: true, Reason: "Authenticated"}
	})

	d.Register("pSet", true, func(ctx *command.Context) command.Result {
		return a.handlePSet(ctx)
	})
	d.Register("pset", true, func(ctx *command.Context) command.Result {
		return a.handlePSet(ctx)
	})

	settingsHandler := func(cmdName string, scope config.Scope) command.Handler {
		return func(ctx *command.Context) command.Result {
			if len(ctx.Params) < 2 {
				return deny("Usage: %s <name> <value>", cmdName)
			}
			name := ctx.Params[0]
			value := strings.Join(ctx.Params[1:], " ")
			if ctx.CheckOnly {
				if cur, ok := a.settings.Get(scope, name); ok && cur == value {
					return deny("Setting %s is already %s", name, value)
				}
				if !a.settingAllowed(scope, name, value) {
					return deny("Value %q not allowed for %s", value, name)
				}
				return command.Result{Ok: true, Canonical: []string{cmdName, name, value}}
			}
			if err := a.settings.Set(scope, name, value); err != nil {
				return deny("%v", err)
			}
			return command.Result{Ok: true, Reason: fmt.Sprintf("Setting %s set to %s", name, value)}
		}
	}
	d.Register("set", true, settingsHandler("set", config.ScopeGlobal))
	d.Register("hSet", true, settingsHandler("hSet", config.ScopeHostingPreset))
	d.Register("bSet", true, settingsHandler("bSet", config.ScopeBattlePreset))

	d.Register("map", true, func(ctx *command.Context) command.Result {
		if len(ctx.Params) != 1 {
			return deny("Usage: map <name>")
		}
		if a.loader != nil {
			if _, known := a.loader.Map(ctx.Params[0]); !known {
				return deny("Unknown map %q", ctx.Params[0])
			}
		}
		if ctx.CheckOnly {
			return command.Result{Ok: true, Canonical: []string{"map", ctx.Params[0]}}
		}
		a.room.MapName = ctx.Params[0]
		if a.loader != nil {
			if info, ok := a.loader.Map(ctx.Params[0]); ok {
				a.room.MapHash = info.Hash
			}
		}
		for _, c := range a.room.ClearStartRects() {
			a.send(c, lobby.Normal)
		}
		return command.Result{Ok: true, Reason: "Map changed to " + ctx.Params[0]}
	})

	d.Register("start", false, func(ctx *command.Context) command.Result {
		if a.GameRunning() {
			return deny("A game is already running")
		}
		if ctx.CheckOnly {
			return okResult()
		}
		a.tryLaunch(false)
		return okResult()
	})

	d.Register("forceStart", false, func(ctx *command.Context) command.Result {
		if ctx.CheckOnly {
			if !a.GameRunning() {
				return deny("No game is loading")
			}
			return okResult()
		}
		if a.channel != nil {
			a.channel.Send("/forcestart")
		}
		return okResult()
	})

	d.Register("stop", false, func(ctx *command.Context) command.Result {
		if !a.GameRunning() {
			return deny("No game is running")
		}
		if ctx.CheckOnly {
			return okResult()
		}
		if a.channel != nil {
			a.channel.Send("/kill")
		}
		return okResult()
	})

	d.Register("balance", false, func(ctx *command.Context) command.Result {
		if ctx.CheckOnly {
			return okResult()
		}
		a.applyBalance(true)
		return okResult()
	})

	d.Register("fixColors", false, func(ctx *command.Context) command.Result {
		if ctx.CheckOnly {
			return okResult()
		}
		a.applyColors()
		return okResult()
	})

	d.Register("force", false, func(ctx *command.Context) command.Result {
		return a.handleForce(ctx)
	})

	d.Register("kick", false, func(ctx *command.Context) command.Result {
		if len(ctx.Params) != 1 {
			return deny("Usage: kick <user>")
		}
		target := ctx.Params[0]
		if a.room.Member(target) == nil {
			return deny("%s is not in the battle", target)
		}
		if ctx.CheckOnly {
			return okResult()
		}
		a.send(protocol.New("KICKFROMBATTLE", target), lobby.Normal)
		// Repeated kicks inside the window escalate to a timed battle ban.
		if a.flood.Record(prefs.FloodKick, target, time.Now()) {
			end := time.Now().Add(a.flood.Sanction(prefs.FloodKick))
			a.bans.AddDynamic(&users.Ban{
				Filter: users.BanFilter{Name: target},
				Action: users.BanAction{BanType: users.BanBattle, StartDate: time.Now(),
					EndDate: &end, Reason: "kicked repeatedly"},
			})
			a.SayBattle(target + " banned from battle (repeated kicks)")
		}
		return okResult()
	})

	d.Register("ban", true, func(ctx *command.Context) command.Result {
		return a.handleBan(ctx)
	})

	d.Register("unban", false, func(ctx *command.Context) command.Result {
		if len(ctx.Params) != 1 {
			return deny("Usage: unban <hash>")
		}
		if ctx.CheckOnly {
			return okResult()
		}
		if !a.bans.RemoveDynamic(ctx.Params[0]) {
			return deny("No ban with hash %s", ctx.Params[0])
		}
		if a.banStore != nil {
			if _, err := a.banStore.Remove(a.ctx, ctx.Params[0]); err != nil {
				return deny("Ban removed but not persisted: %v", err)
			}
		}
		return command.Result{Ok: true, Reason: "Ban " + ctx.Params[0] + " removed"}
	})

	d.Register("bans", false, func(ctx *command.Context) command.Result {
		if len(a.bans.Dynamic) == 0 {
			return command.Result{Ok: true, Reason: "No dynamic bans"}
		}
		var b strings.Builder
		for _, ban := range a.bans.Dynamic {
			fmt.Fprintf(&b, "[%s] %s %s; ", ban.Hash(), ban.Action.BanType, ban.Action.Reason)
		}
		return command.Result{Ok: true, Reason: b.String()}
	})

	d.Register("boss", false, func(ctx *command.Context) command.Result {
		if ctx.CheckOnly {
			return okResult()
		}
		if len(ctx.Params) == 0 {
			a.room.ClearBosses()
			return command.Result{Ok: true, Reason: "Boss mode disabled"}
		}
		target := ctx.Params[0]
		if a.room.Member(target) == nil {
			return deny("%s is not in the battle", target)
		}
		a.room.SetBoss(target, true)
		return command.Result{Ok: true, Reason: "Boss mode enabled for " + target}
	})

	d.Register("lock", false, func(ctx *command.Context) command.Result {
		if ctx.CheckOnly {
			return okResult()
		}
		a.room.Locked = true
		return okResult()
	})
	d.Register("unlock", false, func(ctx *command.Context) command.Result {
		if ctx.CheckOnly {
			return okResult()
		}
		a.room.Locked = false
		return okResult()
	})

	d.Register("startBox", false, func(ctx *command.Context) command.Result {
		return a.handleStartBox(ctx)
	})

	d.Register("smurfs", false, func(ctx *command.Context) command.Result {
		if len(ctx.Params) != 1 {
			return deny("Usage: smurfs <user>")
		}
		u := a.users.Get(ctx.Params[0])
		if u == nil {
			return deny("Unknown user %s", ctx.Params[0])
		}
		if ctx.CheckOnly {
			return okResult()
		}
		matches, err := a.users.Smurfs(a.ctx, u.AccountKey())
		if err != nil {
			return deny("Smurf lookup failed: %v", err)
		}
		if len(matches) == 0 {
			return command.Result{Ok: true, Reason: "No probable smurfs found"}
		}
		var b strings.Builder
		for _, m := range matches {
			fmt.Fprintf(&b, "%s(%d%%) ", m.AccountKey, m.Confidence)
		}
		return command.Result{Ok: true, Reason: "Probable alt accounts: " + b.String()}
	})

	d.Register("search", false, func(ctx *command.Context) command.Result {
		if len(ctx.Params) != 1 {
			return deny("Usage: search <name or ip fragment>")
		}
		if ctx.CheckOnly {
			return okResult()
		}
		results, err := a.users.Search(a.ctx, ctx.Params[0])
		if err != nil {
			return deny("Search failed: %v", err)
		}
		if len(results) == 0 {
			return command.Result{Ok: true, Reason: "No match"}
		}
		var b strings.Builder
		for _, r := range results {
			fmt.Fprintf(&b, "%s[%s] ", r.AccountKey, strings.Join(r.Matches, ","))
		}
		return command.Result{Ok: true, Reason: b.String()}
	})

	d.Register("vote", false, func(ctx *command.Context) command.Result {
		if len(ctx.Params) != 1 {
			return deny("Usage: vote y|n|b")
		}
		b, err := vote.ParseBallot(ctx.Params[0])
		if err != nil {
			return deny("%v", err)
		}
		if ctx.CheckOnly {
			return okResult()
		}
		msg, _ := a.votes.Cast(ctx.User, b)
		return command.Result{Ok: true, Reason: msg}
	})

	d.Register("callvote", true, func(ctx *command.Context) command.Result {
		if len(ctx.Params) == 0 {
			return deny("Usage: callvote <command...>")
		}
		if ctx.CheckOnly {
			return okResult()
		}
		msg, _ := a.votes.Start(ctx.User, ctx.Source, ctx.Params)
		return command.Result{Ok: true, Reason: msg}
	})

	d.Register("endvote", false, func(ctx *command.Context) command.Result {
		if !a.votes.Active() {
			return deny("No vote in progress")
		}
		if ctx.CheckOnly {
			return okResult()
		}
		a.votes.Cancel("cancelled by " + ctx.User)
		return okResult()
	})

	quitHandler := func(action quit.Action) command.Handler {
		return func(ctx *command.Context) command.Result {
			cond := quit.CondNow
			if len(ctx.Params) > 0 {
				switch ctx.Params[0] {
				case "onlySpec", "whenOnlySpec":
					cond = quit.CondOnlySpec
				case "empty", "whenEmpty":
					cond = quit.CondEmpty
				}
			}
			if ctx.CheckOnly {
				return okResult()
			}
			a.intent.Merge(action, cond, exitcode.OK)
			return command.Result{Ok: true,
				Reason: fmt.Sprintf("%s scheduled (condition: %s)", a.intent.Action, a.intent.Condition)}
		}
	}
	d.Register("reloadArchives", false, func(ctx *command.Context) command.Result {
		if a.loader == nil {
			return deny("Archive loader unavailable")
		}
		if a.loader.Loading() {
			return deny("Archive reload already in progress")
		}
		if ctx.CheckOnly {
			return okResult()
		}
		mod, _ := a.settings.Get(config.ScopeHostingPreset, "modName")
		a.loader.Load(a.ctx, archive.ModeFull, mod, func(res archive.Result) {
			a.archiveResults <- res
		})
		return command.Result{Ok: true, Reason: "Reloading archives..."}
	})

	d.Register("quit", false, quitHandler(quit.ActionShutdown))
	d.Register("restart", false, quitHandler(quit.ActionRestart))
	d.Register("rehost", false, func(ctx *command.Context) command.Result {
		if ctx.CheckOnly {
			return okResult()
		}
		a.send(a.room.CloseCommand(), lobby.Normal)
		a.conn.SetState(lobby.Synchronized)
		a.openBattle()
		return command.Result{Ok: true, Reason: "Rehosting battle"}
	})
}

func (a *Agent) settingAllowed(scope config.Scope, name, value string) bool {
	// Probe through a scratch set: Set validates without a dry-run API.
	cur, ok := a.settings.Get(scope, name)
	if !ok {
		return false
	}
	if err := a.settings.Set(scope, name, value); err != nil {
		return false
	}
	a.settings.Set(scope, name, cur)
	return true
}

func (a *Agent) handlePSet(ctx *command.Context) command.Result {
	u := a.users.Get(ctx.User)
	if u == nil {
		return deny("Unknown user")
	}
	if len(ctx.Params) == 0 {
		all, err := a.prefs.GetAll(a.ctx, u.AccountKey())
		if err != nil {
			return deny("Preference lookup failed: %v", err)
		}
		var b strings.Builder
		for _, name := range prefs.Names() {
			if name == "password" {
				continue
			}
			fmt.Fprintf(&b, "%s=%s ", name, all[name])
		}
		return command.Result{Ok: true, Reason: b.String()}
	}
	name := ctx.Params[0]
	if len(ctx.Params) == 1 {
		v, err := a.prefs.Get(a.ctx, u.AccountKey(), name)
		if err != nil {
			return deny("%v", err)
		}
		return command.Result{Ok: true, Reason: fmt.Sprintf("%s=%s", name, v)}
	}
	if ctx.CheckOnly {
		return okResult()
	}
	value := strings.Join(ctx.Params[1:], " ")
	if err := a.prefs.Set(a.ctx, u.AccountKey(), name, value); err != nil {
		return deny("%v", err)
	}
	return command.Result{Ok: true, Reason: "Preference " + name + " updated"}
}

// handleForce implements "force <user> spec|ally <n>|id <n>".
func (a *Agent) handleForce(ctx *command.Context) command.Result {
	if len(ctx.Params) < 2 {
		return deny("Usage: force <user> spec|ally <n>|id <n>")
	}
	target := ctx.Params[0]
	m := a.room.Member(target)
	if m == nil {
		return deny("%s is not in the battle", target)
	}
	switch ctx.Params[1] {
	case "spec":
		if ctx.CheckOnly {
			return command.Result{Ok: true, Canonical: []string{"force", target, "spec"}}
		}
		a.send(protocol.New("FORCESPECTATORMODE", target), lobby.Normal)
	case "ally":
		if len(ctx.Params) != 3 {
			return deny("Usage: force <user> ally <n>")
		}
		n, err := strconv.Atoi(ctx.Params[2])
		if err != nil {
			return deny("Invalid ally team %q", ctx.Params[2])
		}
		if ctx.CheckOnly {
			return command.Result{Ok: true, Canonical: []string{"force", target, "ally", ctx.Params[2]}}
		}
		a.send(protocol.New("FORCEALLYNO", target, strconv.Itoa(n)), lobby.Normal)
	case "id":
		if len(ctx.Params) != 3 {
			return deny("Usage: force <user> id <n>")
		}
		n, err := strconv.Atoi(ctx.Params[2])
		if err != nil {
			return deny("Invalid id %q", ctx.Params[2])
		}
		if ctx.CheckOnly {
			return command.Result{Ok: true, Canonical: []string{"force", target, "id", ctx.Params[2]}}
		}
		a.send(protocol.New("FORCETEAMNO", target, strconv.Itoa(n)), lobby.Normal)
	default:
		return deny("Unknown force mode %q", ctx.Params[1])
	}
	return okResult()
}

// handleStartBox implements "startBox <shape> <size>" and
// "startBox <team> <l> <t> <r> <b>".
func (a *Agent) handleStartBox(ctx *command.Context) command.Result {
	switch len(ctx.Params) {
	case 2:
		size, err := strconv.Atoi(ctx.Params[1])
		if err != nil {
			return deny("Invalid size %q", ctx.Params[1])
		}
		rects, err := battle.ExpandStartRects(ctx.Params[0], size)
		if err != nil {
			return deny("%v", err)
		}
		if ctx.CheckOnly {
			return okResult()
		}
		for _, c := range a.room.ClearStartRects() {
			a.send(c, lobby.Normal)
		}
		for team, r := range rects {
			a.send(a.room.SetStartRect(team, r), lobby.Normal)
		}
		return okResult()
	case 5:
		team, err := strconv.Atoi(ctx.Params[0])
		if err != nil {
			return deny("Invalid team %q", ctx.Params[0])
		}
		rect, err := battle.ParseStartRect(ctx.Params[1:])
		if err != nil {
			return deny("%v", err)
		}
		if ctx.CheckOnly {
			return okResult()
		}
		a.send(a.room.SetStartRect(team, rect), lobby.Normal)
		return okResult()
	default:
		return deny("Usage: startBox <shape> <size> | startBox <team> <l> <t> <r> <b>")
	}
}

// handleBan implements "ban <name|#id|ip> [type] [minutes|Ngames] [reason...]".
func (a *Agent) handleBan(ctx *command.Context) command.Result {
	if len(ctx.Params) < 1 {
		return deny("Usage: ban <name|#accountId|ip> [full|battle|spec] [minutes|<n>g] [reason]")
	}
	filter := users.BanFilter{}
	target := ctx.Params[0]
	switch {
	case strings.HasPrefix(target, "#"):
		filter.AccountID = target[1:]
	case strings.Count(target, ".") == 3:
		filter.IP = target
	default:
		filter.Name = target
	}

	action := users.BanAction{BanType: users.BanBattle, StartDate: time.Now()}
	rest := ctx.Params[1:]
	if len(rest) > 0 {
		if t, err := users.ParseBanType(rest[0]); err == nil {
			action.BanType = t
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		if games, ok := strings.CutSuffix(rest[0], "g"); ok {
			if n, err := strconv.Atoi(games); err == nil && n > 0 {
				action.RemainingGames = &n
				rest = rest[1:]
			}
		} else if minutes, err := strconv.Atoi(rest[0]); err == nil && minutes > 0 {
			end := time.Now().Add(time.Duration(minutes) * time.Minute)
			action.EndDate = &end
			rest = rest[1:]
		}
	}
	action.Reason = strings.Join(rest, " ")

	if filter.Empty() {
		return deny("Empty ban filter")
	}
	if ctx.CheckOnly {
		return okResult()
	}

	b := &users.Ban{Filter: filter, Action: action}
	a.bans.AddDynamic(b)
	if a.banStore != nil {
		if err := a.banStore.Save(a.ctx, b); err != nil {
			return deny("Ban added but not persisted: %v", err)
		}
	}

	// An already-present matching member is removed right away.
	if action.BanType <= users.BanBattle && filter.Name != "" {
		if a.room.Member(filter.Name) != nil {
			a.send(protocol.New("KICKFROMBATTLE", filter.Name), lobby.Normal)
		}
	}
	return command.Result{Ok: true, Reason: "Ban added with hash " + b.Hash()}
}

// registerRPC wires the JSON-RPC façade methods.
func (a *Agent) registerRPC() {
	a.facade.RegisterMethod("getPreferences", func(user string, _ json.RawMessage) (any, *command.RPCError) {
		u := a.users.Get(user)
		if u == nil {
			return nil, &command.RPCError{Code: command.CodeUnknown, Message: "unknown user"}
		}
		all, err := a.prefs.GetAll(a.ctx, u.AccountKey())
		if err != nil {
			return nil, &command.RPCError{Code: command.CodeInternalError, Message: "Internal error"}
		}
		delete(all, "password")
		return all, nil
	})

	a.facade.RegisterMethod("getSettings", func(_ string, _ json.RawMessage) (any, *command.RPCError) {
		out := map[string]string{}
		for _, name := range []string{"nbTeams", "teamSize", "minPlayers", "autoLock", "autoStart", "balanceMode"} {
			if v, ok := a.settings.Get(config.ScopeBattlePreset, name); ok {
				out[name] = v
			}
		}
		return out, nil
	})

	a.facade.RegisterMethod("getVoteSettings", func(_ string, _ json.RawMessage) (any, *command.RPCError) {
		cfg := a.voteConfigFor(nil)
		return map[string]any{
			"voteTime":             cfg.VoteTime.Seconds(),
			"awayVoteDelay":        cfg.AwayVoteDelay.Seconds(),
			"majorityVoteMargin":   cfg.Margin,
			"minVoteParticipation": cfg.MinParticipation,
		}, nil
	})

	a.facade.RegisterMethod("status", func(_ string, _ json.RawMessage) (any, *command.RPCError) {
		return map[string]any{
			"lobbyState":  a.conn.State().String(),
			"gameRunning": a.GameRunning(),
			"players":     len(a.room.Players()),
			"specs":       len(a.room.Specs()),
			"bots":        len(a.room.Bots()),
			"map":         a.room.MapName,
		}, nil
	})
}

// rpcAllow gates JSON-RPC calls: access level then the one-shot rate
// counter.
func (a *Agent) rpcAllow(user, method string) *command.RPCError {
	if a.accessOf(user) <= 0 {
		return &command.RPCError{Code: command.CodeForbidden, Message: "FORBIDDEN"}
	}
	if a.flood.Record(prefs.FloodJSONRPC, user, time.Now()) {
		return &command.RPCError{Code: command.CodeRateLimit, Message: "RATE_LIMIT_EXCEEDED"}
	}
	return nil
}
