package agent

import (
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/autohost/internal/balance"
	"github.com/udisondev/autohost/internal/battle"
	"github.com/udisondev/autohost/internal/command"
	"github.com/udisondev/autohost/internal/config"
	"github.com/udisondev/autohost/internal/exitcode"
	"github.com/udisondev/autohost/internal/lobby"
	"github.com/udisondev/autohost/internal/prefs"
	"github.com/udisondev/autohost/internal/protocol"
	"github.com/udisondev/autohost/internal/quit"
	"github.com/udisondev/autohost/internal/users"
)

// loginMaxRetries bounds the "already logged in" retry cycle.
const loginMaxRetries = 3

// HandleLobby routes one inbound lobby command.
func (a *Agent) HandleLobby(cmd protocol.Command) {
	switch cmd.Name {
	case "TASSERVER":
		// Greeting; LOGIN is already queued by the connection loop.
	case "ACCEPTED":
		a.conn.SetState(lobby.LoggedIn)
		a.loginRetries = 0
	case "DENIED":
		reason := ""
		if len(cmd.Sentences) > 0 {
			reason = cmd.Sentences[0]
		}
		if strings.Contains(strings.ToLower(reason), "already logged in") && a.loginRetries < loginMaxRetries {
			a.loginRetries++
			slog.Warn("login denied, session busy, retrying", "attempt", a.loginRetries)
			time.AfterFunc(5*time.Second, a.login)
			return
		}
		slog.Error("login denied", "reason", reason)
		a.intent.Merge(quit.ActionShutdown, quit.CondNow, exitcode.Login)
	case "AGREEMENTEND":
		a.send(protocol.New("CONFIRMAGREEMENT"), lobby.Normal)
	case "LOGININFOEND":
		a.conn.SetState(lobby.Synchronized)
		a.plugins.Each(func(p Plugin) { p.OnLobbyConnected() })
		a.openBattle()
	case "REDIRECT":
		a.handleRedirect(cmd)
	case "ADDUSER":
		a.handleAddUser(cmd)
	case "REMOVEUSER":
		name := cmd.Arg(0)
		a.users.Remove(name)
		a.skills.Forget(name)
	case "CLIENTSTATUS":
		a.handleClientStatus(cmd)
	case "CLIENTIPPORT":
		a.users.SetIP(a.ctx, cmd.Arg(0), cmd.Arg(1))
	case "OPENBATTLE":
		a.conn.SetState(lobby.BattleOpened)
		slog.Info("battle opened", "id", cmd.Arg(0))
	case "OPENBATTLEFAILED":
		slog.Error("open battle failed", "reason", strings.Join(cmd.Sentences, " "))
		a.conn.SetState(lobby.Synchronized)
	case "JOINBATTLEREQUEST":
		a.handleJoinRequest(cmd)
	case "JOINEDBATTLE":
		a.handleJoinedBattle(cmd)
	case "LEFTBATTLE":
		if cmd.Arg(1) != "" {
			a.room.Leave(cmd.Arg(1))
			a.needRebalance = a.autoBalanceOn()
		}
	case "CLIENTBATTLESTATUS":
		a.handleBattleStatus(cmd)
	case "ADDBOT":
		a.handleAddBot(cmd)
	case "REMOVEBOT":
		a.room.RemoveBot(cmd.Arg(1))
		a.needRebalance = a.autoBalanceOn()
	case "UPDATEBOT":
		a.handleUpdateBot(cmd)
	case "SAIDPRIVATE":
		a.handleSaidPrivate(cmd)
	case "SAIDBATTLE":
		a.handleSaid(command.SourceBattle, cmd.Arg(0), sentence(cmd))
	case "SAID":
		if len(cmd.Words) >= 2 {
			a.handleSaid(command.SourceChannel, cmd.Words[1], sentence(cmd))
		}
	case "KICKFROMBATTLE":
		a.room.Leave(cmd.Arg(1))
	case "BATTLECLOSED":
		a.conn.SetState(lobby.Synchronized)
	}
}

func sentence(cmd protocol.Command) string {
	return strings.Join(cmd.Sentences, "\t")
}

func (a *Agent) handleRedirect(cmd protocol.Command) {
	if !a.cfg.Lobby.FollowRedirect {
		slog.Warn("ignoring lobby redirect", "target", cmd.Arg(0))
		return
	}
	ip := net.ParseIP(cmd.Arg(0))
	port, err := strconv.Atoi(cmd.Arg(1))
	if ip == nil || ip.To4() == nil || err != nil || port <= 0 || port > 65535 {
		slog.Warn("invalid redirect target", "ip", cmd.Arg(0), "port", cmd.Arg(1))
		return
	}
	slog.Info("following lobby redirect", "ip", ip, "port", port)
	a.conn.Retarget(ip.String(), port)
}

func (a *Agent) handleAddUser(cmd protocol.Command) {
	accountID, _ := strconv.Atoi(cmd.Arg(3))
	u := &users.User{
		Name:        cmd.Arg(0),
		Country:     cmd.Arg(1),
		AccountID:   accountID,
		LobbyClient: cmd.Arg(4),
	}
	a.users.Add(a.ctx, u)
}

func (a *Agent) handleClientStatus(cmd protocol.Command) {
	v, err := strconv.Atoi(cmd.Arg(1))
	if err != nil {
		return
	}
	name := cmd.Arg(0)
	old := a.users.Get(name)
	oldRank := 0
	if old != nil {
		oldRank = old.Status.Rank
	}
	u := a.users.SetStatus(name, users.ParseStatus(v))
	if u == nil {
		return
	}
	if u.Status.Rank != oldRank {
		if m := a.room.Member(name); m != nil && m.Status.Mode == battle.Player {
			a.needRebalance = a.autoBalanceOn()
		}
	}
}

func (a *Agent) handleJoinRequest(cmd protocol.Command) {
	name := cmd.Arg(0)
	candidate := a.candidateFor(name, cmd.Arg(1))
	vetoes := []func(users.Candidate) (bool, string){}
	a.plugins.Each(func(p Plugin) {
		vetoes = append(vetoes, p.OnJoinBattleRequest)
	})
	d := battle.EvaluateJoin(candidate, a.bans, time.Now(), vetoes)
	if d.Deny {
		deny := protocol.New("JOINBATTLEDENY", name)
		if d.Reason != "" {
			deny = deny.WithSentences(d.Reason)
		}
		a.send(deny, lobby.Normal)
		return
	}
	a.send(protocol.New("JOINBATTLEACCEPT", name), lobby.Normal)
}

func (a *Agent) candidateFor(name, ip string) users.Candidate {
	c := users.Candidate{Name: name, IP: ip, Access: a.accessOf(name)}
	if u := a.users.Get(name); u != nil {
		c.AccountID = u.AccountID
		c.Country = u.Country
		c.Rank = u.Status.Rank
		c.Bot = u.Status.Bot
		if c.IP == "" {
			c.IP = u.IP
		}
		c.Skill = a.skills.Get(name, a.policies.GameType(a.room), u.Status.Rank).Skill
	}
	return c
}

func (a *Agent) handleJoinedBattle(cmd protocol.Command) {
	name := cmd.Arg(1)
	u := a.users.Get(name)
	if u == nil {
		return
	}
	a.room.Join(u, cmd.Arg(2))

	// A spec-only ban forces spectator mode on arrival.
	if b := a.bans.Find(a.candidateFor(name, u.IP), time.Now()); b != nil && b.Action.BanType == users.BanSpec {
		a.send(protocol.New("FORCESPECTATORMODE", name), lobby.Normal)
	}

	if a.prefOf(name, "skillMode") == "TrueSkill" {
		a.skills.Request(name, u.AccountKey(), u.IP, u.Status.Rank)
	}
	a.needRebalance = a.autoBalanceOn()
}

func (a *Agent) handleBattleStatus(cmd protocol.Command) {
	name := cmd.Arg(0)
	v, err := strconv.Atoi(cmd.Arg(1))
	if err != nil {
		return
	}
	if a.flood.Record(prefs.FloodStatus, name, time.Now()) {
		a.send(protocol.New("KICKFROMBATTLE", name), lobby.Normal)
		a.SayBattle(name + " kicked (battle status flood)")
		return
	}
	st := decodeBattleStatus(v)
	a.room.SetStatus(name, st)
	if st.Mode == battle.Player {
		a.needRebalance = a.autoBalanceOn()
	}
}

// decodeBattleStatus unpacks the CLIENTBATTLESTATUS bitfield.
func decodeBattleStatus(v int) battle.Status {
	mode := battle.Spectator
	if v&(1<<10) != 0 {
		mode = battle.Player
	}
	return battle.Status{
		Mode:  mode,
		Ready: v&2 != 0,
		ID:    (v >> 2) & 15,
		Team:  (v >> 6) & 15,
		Sync:  (v>>22)&3 == 1,
		Side:  (v >> 24) & 15,
	}
}

// encodeBattleStatus packs a battle.Status back into the wire bitfield.
func encodeBattleStatus(st battle.Status) int {
	v := 0
	if st.Mode == battle.Player {
		v |= 1 << 10
	}
	if st.Ready {
		v |= 2
	}
	v |= (st.ID & 15) << 2
	v |= (st.Team & 15) << 6
	if st.Sync {
		v |= 1 << 22
	}
	v |= (st.Side & 15) << 24
	return v
}

func (a *Agent) handleAddBot(cmd protocol.Command) {
	name := cmd.Arg(1)
	owner := cmd.Arg(2)
	st, _ := strconv.Atoi(cmd.Arg(3))
	aiSpec := ""
	if len(cmd.Sentences) > 0 {
		aiSpec = cmd.Sentences[len(cmd.Sentences)-1]
	}
	a.room.AddBot(name, owner, aiSpec, decodeBattleStatus(st), balance.Color{}, false)
	a.needRebalance = a.autoBalanceOn()
}

func (a *Agent) handleUpdateBot(cmd protocol.Command) {
	name := cmd.Arg(1)
	if b := a.room.Bot(name); b != nil {
		if st, err := strconv.Atoi(cmd.Arg(2)); err == nil {
			b.Status = decodeBattleStatus(st)
		}
	}
}

func (a *Agent) handleSaidPrivate(cmd protocol.Command) {
	from := cmd.Arg(0)
	text := sentence(cmd)

	if from == a.skills.BotName() && a.skills.Enabled() {
		if err := a.skills.HandleReply(text); err != nil {
			slog.Debug("skill bot message ignored", "err", err)
		}
		return
	}

	if replies, handled := a.facade.HandleMessage(from, text); handled {
		for _, r := range replies {
			a.send(protocol.New("SAYPRIVATE", from).WithSentences(r), lobby.Low)
		}
		return
	}

	a.handleSaid(command.SourcePrivate, from, text)
}

// handleSaid routes a chat line: !-commands to the dispatcher, with the
// flood guards applied first.
func (a *Agent) handleSaid(src command.Source, from, text string) {
	if from == a.room.HostName {
		return
	}
	now := time.Now()

	body, isCmd := command.IsCommand(text)
	if !isCmd {
		if src == command.SourceBattle && a.flood.Record(prefs.FloodMsg, from, now) {
			a.send(protocol.New("KICKFROMBATTLE", from), lobby.Normal)
			a.SayBattle(from + " kicked (message flood)")
		}
		return
	}

	if a.flood.Ignored(prefs.FloodCmd, from, now) {
		return
	}
	if a.flood.Record(prefs.FloodCmd, from, now) {
		a.flood.Ignore(prefs.FloodCmd, from, now.Add(a.flood.Sanction(prefs.FloodCmd)))
		a.SayPrivate(from, "You are now ignored (command flood)")
		return
	}

	reply := a.dispatcher.Dispatch(src, from, a.playerStatus(from), a.gameState(), body)
	if reply == "" {
		return
	}
	switch src {
	case command.SourcePrivate:
		a.SayPrivate(from, reply)
	case command.SourceGame:
		if a.channel != nil {
			a.channel.Send(reply)
		}
	default:
		a.SayBattle(reply)
	}
}

// openBattle opens the hosted room once the lobby session synchronizes.
func (a *Agent) openBattle() {
	if a.conn.State() != lobby.Synchronized {
		return
	}
	a.conn.SetState(lobby.OpeningBattle)

	a.room.Title, _ = a.settings.Get(config.ScopeHostingPreset, "battleName")
	if a.room.Title == "" {
		a.room.Title = a.cfg.Lobby.Login
	}
	a.room.Password, _ = a.settings.Get(config.ScopeHostingPreset, "password")
	a.room.EngineVersion = a.cfg.Engine.Version
	a.room.MaxPlayers = a.settings.GetInt(config.ScopeHostingPreset, "maxPlayers", 16)
	if mod, ok := a.settings.Get(config.ScopeHostingPreset, "modName"); ok {
		a.room.ModArchive = mod
	}
	if m, ok := a.settings.Get(config.ScopeBattlePreset, "map"); ok && m != "" {
		a.room.MapName = m
	}
	if a.loader != nil {
		if info, ok := a.loader.Map(a.room.MapName); ok {
			a.room.MapHash = info.Hash
		}
	}
	a.room.SetScriptTag("game/startpostype", "2")

	for _, cmd := range a.room.OpenCommands(0, 0) {
		a.send(cmd, lobby.Normal)
	}
}

func (a *Agent) autoBalanceOn() bool {
	v, _ := a.settings.Get(config.ScopeBattlePreset, "autoBalance")
	return v == "on" || v == "advanced"
}
