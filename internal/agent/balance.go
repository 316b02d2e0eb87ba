package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/udisondev/autohost/internal/balance"
	"github.com/udisondev/autohost/internal/command"
	"github.com/udisondev/autohost/internal/config"
	"github.com/udisondev/autohost/internal/game"
	"github.com/udisondev/autohost/internal/lobby"
	"github.com/udisondev/autohost/internal/protocol"
	"github.com/udisondev/autohost/internal/users"
)

// balanceEntities builds the balancer input from the current room.
func (a *Agent) balanceEntities() []balance.Entity {
	gt := a.policies.GameType(a.room)
	var out []balance.Entity
	for _, m := range a.room.Players() {
		name := m.User.Name
		sk := a.skills.Get(name, gt, m.User.Status.Rank)
		out = append(out, balance.Entity{
			Name:          name,
			Skill:         sk.Skill,
			ClanTag:       clanTagOf(name),
			ClanPref:      a.prefOf(name, "clan"),
			ShareID:       a.prefOf(name, "shareId"),
			LobbyRank:     m.User.Status.Rank,
			EffectiveRank: effectiveRank(sk.Skill),
		})
	}
	botsRank := a.settings.GetInt(config.ScopeBattlePreset, "botsRank", 3)
	for _, b := range a.room.Bots() {
		out = append(out, balance.Entity{
			Name:  b.Name,
			Bot:   true,
			Skill: balance.SkillForRank(botsRank),
		})
	}
	return out
}

// clanTagOf extracts a leading [TAG] clan marker from a lobby name.
func clanTagOf(name string) string {
	if len(name) > 2 && name[0] == '[' {
		for i := 1; i < len(name); i++ {
			if name[i] == ']' {
				return name[1:i]
			}
		}
	}
	return ""
}

// effectiveRank folds a skill value back onto the rank scale for the
// smurf indicator.
func effectiveRank(skill float64) int {
	for r := len(balance.RankSkill) - 1; r >= 0; r-- {
		if skill >= balance.RankSkill[r] {
			return r
		}
	}
	return 0
}

func (a *Agent) balanceOptions() balance.Options {
	cfg := a.policies.Config()
	mode, _ := a.settings.Get(config.ScopeBattlePreset, "balanceMode")
	if mode == "" {
		mode = "skill"
	}
	clanMode, _ := a.settings.Get(config.ScopeBattlePreset, "clanMode")
	idShare, _ := a.settings.Get(config.ScopeBattlePreset, "idShareMode")
	if idShare == "" {
		idShare = "auto"
	}
	return balance.Options{
		Mode:         mode,
		ClanMode:     clanMode,
		IDShareMode:  idShare,
		Seed:         uint64(a.settings.GetInt(config.ScopeGlobal, "balRandSeed", 1)),
		NbTeams:      cfg.NbTeams,
		TeamSize:     cfg.TeamSize,
		NbPlayerByID: cfg.NbPlayerByID,
		MinTeamSize:  cfg.MinTeamSize,
	}
}

// applyBalance computes the target and sends only the differences. With
// announce set the unbalance indicator is broadcast.
func (a *Agent) applyBalance(announce bool) balance.Result {
	res := balance.Compute(a.balanceEntities(), a.balanceOptions())

	for _, m := range a.room.Players() {
		p, ok := res.Placement[m.User.Name]
		if !ok {
			continue
		}
		if m.Status.Team != p.AllyTeam {
			a.send(protocol.New("FORCEALLYNO", m.User.Name, strconv.Itoa(p.AllyTeam)), lobby.Normal)
		}
		if m.Status.ID != p.ID {
			a.send(protocol.New("FORCETEAMNO", m.User.Name, strconv.Itoa(p.ID)), lobby.Normal)
		}
	}
	for _, b := range a.room.Bots() {
		p, ok := res.Placement[b.Name]
		if !ok {
			continue
		}
		if b.Status.Team != p.AllyTeam || b.Status.ID != p.ID {
			st := b.Status
			st.Team = p.AllyTeam
			st.ID = p.ID
			a.send(protocol.New("UPDATEBOT", b.Name,
				strconv.Itoa(encodeBattleStatus(st)), colorWord(b.Color)), lobby.Normal)
		}
	}

	if announce {
		a.SayBattle(fmt.Sprintf("Balancing teams... (deviation: %.0f%%, smurfs: %d)",
			res.Unbalance, res.NbSmurfs))
	}
	return res
}

// isBalanceTargetApplied reports whether every member and bot already
// sits on its target slot.
func (a *Agent) isBalanceTargetApplied() bool {
	res := balance.Compute(a.balanceEntities(), a.balanceOptions())
	for _, m := range a.room.Players() {
		p, ok := res.Placement[m.User.Name]
		if !ok || m.Status.Team != p.AllyTeam || m.Status.ID != p.ID {
			return false
		}
	}
	for _, b := range a.room.Bots() {
		p, ok := res.Placement[b.Name]
		if !ok || b.Status.Team != p.AllyTeam || b.Status.ID != p.ID {
			return false
		}
	}
	return true
}

// applyColors assigns and sends team colors where they differ.
func (a *Agent) applyColors() {
	sensitivity := a.settings.GetInt(config.ScopeBattlePreset, "colorSensitivity", 20000)
	seed := uint64(a.settings.GetInt(config.ScopeGlobal, "balRandSeed", 1))

	idSet := map[int]bool{}
	for _, m := range a.room.Players() {
		idSet[m.Status.ID] = true
	}
	for _, b := range a.room.Bots() {
		idSet[b.Status.ID] = true
	}
	ids := make([]int, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	colors := balance.AssignColors(ids, sensitivity, seed)

	for _, m := range a.room.Players() {
		c := colors[m.Status.ID]
		if m.Color != c {
			a.room.SetColor(m.User.Name, c)
			a.send(protocol.New("FORCETEAMCOLOR", m.User.Name, colorWord(c)), lobby.Normal)
		}
	}
	for _, b := range a.room.Bots() {
		c := colors[b.Status.ID]
		if b.Color != c {
			b.Color = c
			a.send(protocol.New("UPDATEBOT", b.Name,
				strconv.Itoa(encodeBattleStatus(b.Status)), colorWord(c)), lobby.Normal)
		}
	}
}

// colorWord packs a color the lobby way: a decimal 0x00BBGGRR integer.
func colorWord(c balance.Color) string {
	return strconv.Itoa(c.B<<16 | c.G<<8 | c.R)
}

// tryLaunch runs the pre-flight and, when ready, acquires the archive
// lock and spawns the engine.
func (a *Agent) tryLaunch(auto bool) {
	inGame := func(name string) bool {
		u := a.users.Get(name)
		return u != nil && u.Status.InGame
	}
	cfg := a.policies.Config()
	state := game.PreFlight(a.room, cfg.MinPlayers, inGame)
	if state != game.StateReady {
		if !auto {
			a.SayBattle(fmt.Sprintf("Unable to start game (battle state %d)", state))
		}
		return
	}

	if a.room.StartPosType() == 2 && len(a.room.StartRects()) == 0 {
		if !auto {
			a.SayBattle("Unable to start: no start boxes set (use !forceStart to override)")
		}
		return
	}
	if a.autoBalanceOn() && !a.isBalanceTargetApplied() {
		a.applyBalance(true)
		return
	}
	if v, _ := a.settings.Get(config.ScopeBattlePreset, "autoFixColors"); v == "on" {
		a.applyColors()
	}

	ok, err := a.launcher.TryLock()
	if err != nil {
		slog.Error("archive lock failed", "err", err)
		return
	}
	if !ok {
		a.SayBattle("Preparing to launch game...")
		a.votes.Cancel("game launch in progress")
		if err := a.launcher.WaitLock(); err != nil {
			a.SayBattle("Unable to start game (archive cache busy)")
			return
		}
	}
	defer a.launcher.ReleaseLock()

	a.startGame()
}

// startGame freezes the room, records the ban consumption and spawns.
func (a *Agent) startGame() {
	gt := a.policies.GameType(a.room)
	snap := game.TakeSnapshot(a.room, a.policies.Structure(a.room), func(name string) (float64, float64, int) {
		u := a.users.Get(name)
		rank := 0
		if u != nil {
			rank = u.Status.Rank
		}
		v := a.skills.Get(name, gt, rank)
		return v.Skill, v.Sigma, rank
	}, a.cfg.Engine.Version)

	scriptTags := a.room.ScriptTags()
	for _, p := range snap.Players {
		if p.Spectator {
			continue
		}
		lc := lowerName(p.Name)
		scriptTags["game/players/"+lc+"/skill"] = fmt.Sprintf("%.2f", p.Skill)
		scriptTags["game/players/"+lc+"/skilluncertainty"] = fmt.Sprintf("%.2f", p.Sigma)
	}

	pid, err := a.launcher.Spawn(snap, scriptTags, "127.0.0.1", 8452, a.cfg.Engine.AutoHostPort)
	if err != nil {
		slog.Error("engine spawn failed", "err", err)
		a.SayBattle("Unable to start game (engine spawn failed)")
		return
	}

	var candidates []users.Candidate
	for _, p := range snap.Players {
		if !p.Spectator {
			candidates = append(candidates, a.candidateFor(p.Name, p.IP))
		}
	}
	a.bans.ConsumeGame(candidates, time.Now())

	a.run = game.NewRun(snap, time.Now())
	slog.Info("game launched", "pid", pid, "players", snap.PlayerCount(), "type", gt)

	go func() {
		kind := a.launcher.Wait()
		a.onProcessExit(kind)
	}()
}

func lowerName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// onProcessExit handles the engine process end on the main loop's next
// tick via the premature-end grace: a crash while the autohost socket
// still reports an active game waits 5s before cleanup.
func (a *Agent) onProcessExit(kind game.ExitKind) {
	switch kind {
	case game.ExitNormal:
		// SERVER_QUIT normally arrives first and clears the run; if the
		// process died without one the grace timer cleans up.
		if a.run != nil {
			now := time.Now()
			a.prematureEnd = &now
		}
	case game.ExitSyncErrors:
		slog.Warn("engine exited with sync errors")
		now := time.Now()
		a.prematureEnd = &now
	case game.ExitCrash:
		slog.Error("engine crashed", "alert", game.CrashAlert)
		a.SayBattle(game.CrashBroadcast)
		now := time.Now()
		a.prematureEnd = &now
	}
}

// finishCrash runs the crash cleanup path after the grace delay.
func (a *Agent) finishCrash() {
	if a.run == nil {
		return
	}
	sum := a.run.Summarize(time.Now(), 0)
	rep := a.run.BuildReport(sum, false)
	a.plugins.Each(func(p Plugin) { p.OnGameEnd(rep) })
	a.run = nil
	a.SayBattle("Game ended (engine terminated)")
	a.updateHostStatus(false)
}

func (a *Agent) updateHostStatus(inGame bool) {
	st := users.ClientStatus{InGame: inGame, Bot: true}
	a.send(protocol.New("MYSTATUS", strconv.Itoa(users.EncodeStatus(st))), lobby.Normal)
}

// HandleAutohost routes one decoded engine event.
func (a *Agent) HandleAutohost(ev game.Event) {
	if a.run == nil && ev.Kind != game.ServerStarted {
		return
	}
	switch ev.Kind {
	case game.ServerStarted:
		a.updateHostStatus(true)
	case game.ServerStartPlaying:
		if a.run != nil {
			a.run.Playing = true
		}
	case game.PlayerJoined:
		a.run.MarkConnected(ev.Player)
		a.armForceStart()
	case game.PlayerLeft:
		a.run.MarkLeft(ev.Player)
	case game.PlayerReady:
		a.run.MarkReady(ev.Player, ev.Dest != 0)
	case game.ServerMessage:
		a.handleServerMessage(ev.Text)
	case game.PlayerChat:
		a.handleGameChat(ev)
	case game.GameTeamStat:
		a.run.AccumulateStat(ev.Stat)
	case game.ServerGameOver:
		a.run.RecordGameOver(ev.Player, ev.Winners)
	case game.ServerQuit:
		a.finishGame()
	}
}

// armForceStart arms the auto /forcestart timer once every expected
// player connected, with startpostype=2 and no AI in the room.
func (a *Agent) armForceStart() {
	if a.run == nil || a.run.Playing || !a.run.ForceStartArmedAt.IsZero() {
		return
	}
	if a.room.StartPosType() != 2 || len(a.room.Bots()) > 0 {
		return
	}
	if a.run.AllExpectedConnected() {
		a.run.ForceStartArmedAt = time.Now()
		time.AfterFunc(5*time.Second, func() {
			if a.run == nil || a.run.Playing {
				return
			}
			if a.votes.Active() && a.votes.Current().IsCommand([]string{"forceStart"}) {
				a.votes.Cancel("game is being force-started")
			}
			a.SayBattle("Forcing game start...")
			if a.channel != nil {
				a.channel.Send("/forcestart")
			}
		})
	}
}

func (a *Agent) handleServerMessage(text string) {
	id, ip, ok := game.ParseConnectionEstablished(text)
	if !ok {
		return
	}
	name, found := a.run.PlayerName(id)
	if !found || ip == "" {
		return
	}
	u := a.users.Get(name)
	if u == nil {
		return
	}

	// Spoof protection: in-game IP vs lobby IP.
	if u.IP != "" && u.IP != ip {
		switch a.prefOf(name, "spoofProtection") {
		case "kick":
			a.channel.Send("/kick " + name)
			a.SayBattle(name + " kicked (IP spoof protection)")
		case "warn":
			a.SayBattle(fmt.Sprintf("Warning: %s connected from an unexpected address", name))
		}
	}
	a.users.SetIP(a.ctx, name, ip)

	// Re-check bans with the in-game address.
	if b := a.bans.Find(a.candidateFor(name, ip), time.Now()); b != nil && b.Action.BanType <= users.BanBattle {
		a.channel.Send("/kick " + name)
		reason := b.Action.Reason
		if reason == "" {
			reason = "banned"
		}
		a.SayBattle(fmt.Sprintf("%s kicked (%s)", name, reason))
	}
}

func (a *Agent) handleGameChat(ev game.Event) {
	name, ok := a.run.PlayerName(ev.Player)
	if !ok {
		return
	}
	if _, isCmd := command.IsCommand(ev.Text); isCmd {
		a.handleSaid(command.SourceGame, name, ev.Text)
		return
	}
	// Public in-game chat is mirrored to the battle room.
	if ev.Dest == 252 {
		a.SayBattle(fmt.Sprintf("<%s> %s", name, ev.Text))
	}
}

// finishGame closes the run on SERVER_QUIT: summary, awards, GDR.
func (a *Agent) finishGame() {
	if a.run == nil {
		return
	}
	a.prematureEnd = nil
	endAwards := a.settings.GetInt(config.ScopeBattlePreset, "endGameAwards", 0)
	sum := a.run.Summarize(time.Now(), endAwards)

	switch sum.Result {
	case game.ResultWin:
		a.SayBattle(fmt.Sprintf("Game ended after %s, winning team(s): %v", sum.Duration.Round(time.Second), sum.Winners))
	case game.ResultDraw:
		a.SayBattle(fmt.Sprintf("Game ended after %s: draw", sum.Duration.Round(time.Second)))
	default:
		a.SayBattle(fmt.Sprintf("Game ended after %s (undecided)", sum.Duration.Round(time.Second)))
	}
	for _, aw := range sum.Awards {
		a.SayBattle(fmt.Sprintf("Award [%s]: team %d (%.0f)", aw.Name, aw.Team, aw.Value))
	}

	rep := a.run.BuildReport(sum, false)
	a.plugins.Each(func(p Plugin) { p.OnGameEnd(rep) })
	a.queueReport(rep)

	a.run = nil
	a.updateHostStatus(false)
}

// queueReport forwards the GDR to the external reporting bot when one is
// configured (the skill bot doubles as the receiver).
func (a *Agent) queueReport(rep game.DataReport) {
	if !a.skills.Enabled() {
		return
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		slog.Error("serializing game data report", "err", err)
		return
	}
	a.send(protocol.New("SAYPRIVATE", a.skills.BotName()).
		WithSentences("!#gdr "+string(payload)), lobby.Low)
}
