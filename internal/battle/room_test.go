package battle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/autohost/internal/balance"
	"github.com/udisondev/autohost/internal/protocol"
	"github.com/udisondev/autohost/internal/users"
)

func join(r *Room, name string, mode Mode, team, id int) *Member {
	m := r.Join(&users.User{Name: name}, "")
	m.Status = Status{Mode: mode, Team: team, ID: id, Sync: true}
	return m
}

func testPolicyConfig() PolicyConfig {
	return PolicyConfig{
		NbTeams: 2, TeamSize: 2, NbPlayerByID: 1, MinTeamSize: 1, MinPlayers: 2,
		MaxSpecs: -1, MaxBots: -1, MaxLocalBots: -1, MaxRemoteBots: -1,
		AutoLock: "off", AutoStart: "on",
	}
}

func TestRoom_TeamIDConsistent(t *testing.T) {
	r := NewRoom("Host")
	join(r, "A", Player, 0, 0)
	join(r, "B", Player, 1, 1)
	assert.True(t, r.TeamIDConsistent())

	// Same id in two allyteams violates the invariant.
	join(r, "C", Player, 1, 0)
	assert.False(t, r.TeamIDConsistent())
}

func TestRoom_NonPlayerCountIncludesHost(t *testing.T) {
	r := NewRoom("Host")
	join(r, "Host", Spectator, 0, 0)
	join(r, "A", Player, 0, 0)
	join(r, "B", Spectator, 0, 0)
	assert.Equal(t, 2, r.NonPlayerCount())
	assert.Len(t, r.Players(), 1)
	assert.Len(t, r.Specs(), 1, "host is not listed as a kickable spec")
}

func TestRoom_ScriptTagDiffing(t *testing.T) {
	r := NewRoom("Host")
	cmd, ok := r.SetScriptTag("game/startpostype", "2")
	require.True(t, ok)
	assert.Equal(t, "SETSCRIPTTAGS", cmd.Name)
	assert.Equal(t, "game/startpostype=2", cmd.Sentences[0])

	_, ok = r.SetScriptTag("game/startpostype", "2")
	assert.False(t, ok, "unchanged value must not resend")
	assert.Equal(t, 2, r.StartPosType())
}

func TestRoom_ClearStartRects(t *testing.T) {
	r := NewRoom("Host")
	r.SetStartRect(0, StartRect{0, 0, 40, 200})
	r.SetStartRect(1, StartRect{160, 0, 200, 200})
	cmds := r.ClearStartRects()
	require.Len(t, cmds, 2)
	assert.Equal(t, "REMOVESTARTRECT", cmds[0].Name)
	assert.Empty(t, r.StartRects())
}

func TestExpandStartRects(t *testing.T) {
	rects, err := ExpandStartRects("h", 25)
	require.NoError(t, err)
	require.Len(t, rects, 2)
	assert.Equal(t, StartRect{0, 0, 200, 50}, rects[0])
	assert.Equal(t, StartRect{0, 150, 200, 200}, rects[1])

	rects, err = ExpandStartRects("c", 10)
	require.NoError(t, err)
	assert.Len(t, rects, 4)
	for _, r := range rects {
		assert.LessOrEqual(t, r.Right, 200)
		assert.LessOrEqual(t, r.Bottom, 200)
		assert.True(t, r.Left <= r.Right && r.Top <= r.Bottom)
	}

	_, err = ExpandStartRects("h", 0)
	assert.Error(t, err)
	_, err = ExpandStartRects("h", 51)
	assert.Error(t, err)
	_, err = ExpandStartRects("x", 10)
	assert.Error(t, err)
}

func TestParseStartRect(t *testing.T) {
	r, err := ParseStartRect([]string{"10", "20", "100", "200"})
	require.NoError(t, err)
	assert.Equal(t, StartRect{10, 20, 100, 200}, r)

	_, err = ParseStartRect([]string{"100", "20", "10", "200"})
	assert.Error(t, err, "left>right")
	_, err = ParseStartRect([]string{"0", "0", "201", "10"})
	assert.Error(t, err, "out of range")
	_, err = ParseStartRect([]string{"1", "2", "3"})
	assert.Error(t, err)
}

func TestPolicies_MaxSpecsKicksNewest(t *testing.T) {
	r := NewRoom("Host")
	join(r, "A", Spectator, 0, 0)
	join(r, "B", Spectator, 0, 0)
	join(r, "C", Spectator, 0, 0)

	cfg := testPolicyConfig()
	cfg.MaxSpecs = 1
	cfg.SpecImmunityLevel = 100
	p := NewPolicies(cfg, func(name string) int {
		if name == "C" {
			return 100 // immune
		}
		return 0
	})

	cmds := p.Tick(r, false)
	var kicked []string
	for _, c := range cmds {
		if c.Name == "KICKFROMBATTLE" {
			kicked = append(kicked, c.Words[0])
		}
	}
	require.Len(t, kicked, 2)
	assert.Equal(t, []string{"B", "A"}, kicked, "newest non-immune first")
}

func TestPolicies_AutoSpecExtraPlayers_BotsFirst(t *testing.T) {
	r := NewRoom("Host")
	for _, n := range []string{"A", "B", "C", "D", "E"} {
		join(r, n, Player, 0, 0)
	}
	r.AddBot("bot1", "Host", "KAIK", Status{Mode: Player}, balance.Color{}, true)

	cfg := testPolicyConfig() // slots = 2*2*1 = 4
	cfg.AutoSpecExtraPlayers = true
	p := NewPolicies(cfg, nil)

	cmds := p.Tick(r, false)
	names := commandNames(cmds)
	assert.Contains(t, names, "REMOVEBOT", "auto-added local bots removed first")
	assert.Contains(t, names, "FORCESPECTATORMODE")
	// One bot + one player cover the excess of two.
	assert.Nil(t, r.Bot("bot1"))
}

func TestPolicies_AutoLock(t *testing.T) {
	r := NewRoom("Host")
	cfg := testPolicyConfig()
	cfg.AutoLock = "on"
	p := NewPolicies(cfg, nil)

	join(r, "A", Player, 0, 0)
	p.Tick(r, false)
	assert.False(t, r.Locked, "below minPlayers stays unlocked")

	for _, n := range []string{"B", "C", "D"} {
		join(r, n, Player, 0, 0)
	}
	p.Tick(r, false)
	assert.True(t, r.Locked, "full slots lock")
}

func TestPolicies_UpdateBattleInfoOnlyOnChange(t *testing.T) {
	r := NewRoom("Host")
	r.MapName = "DeltaSiege"
	p := NewPolicies(testPolicyConfig(), nil)

	cmds := p.Tick(r, false)
	assert.Contains(t, commandNames(cmds), "UPDATEBATTLEINFO", "first tick publishes")

	cmds = p.Tick(r, false)
	assert.NotContains(t, commandNames(cmds), "UPDATEBATTLEINFO", "no change, no resend")

	join(r, "S", Spectator, 0, 0)
	cmds = p.Tick(r, false)
	assert.Contains(t, commandNames(cmds), "UPDATEBATTLEINFO")
}

func TestPolicies_AutoStartReady(t *testing.T) {
	r := NewRoom("Host")
	cfg := testPolicyConfig() // 2 teams, minTeamSize 1, minPlayers 2
	p := NewPolicies(cfg, nil)

	assert.False(t, p.AutoStartReady(r), "empty room")

	join(r, "A", Player, 0, 0)
	assert.False(t, p.AutoStartReady(r), "1 player: below minPlayers and odd")

	join(r, "B", Player, 1, 1)
	assert.True(t, p.AutoStartReady(r))

	join(r, "C", Player, 0, 2)
	assert.False(t, p.AutoStartReady(r), "3 players mod 2 teams != 0")
}

func TestEvaluateJoin_BanDenies(t *testing.T) {
	bans := &users.BanList{}
	bans.AddDynamic(&users.Ban{
		Filter: users.BanFilter{Name: "Griefer"},
		Action: users.BanAction{BanType: users.BanBattle, Reason: "griefing"},
	})

	d := EvaluateJoin(users.Candidate{Name: "Griefer"}, bans, time.Now(), nil)
	assert.True(t, d.Deny)
	assert.Equal(t, "griefing", d.Reason)

	// A spec-only ban does not deny joining.
	bans2 := &users.BanList{}
	bans2.AddDynamic(&users.Ban{
		Filter: users.BanFilter{Name: "SpecOnly"},
		Action: users.BanAction{BanType: users.BanSpec},
	})
	d = EvaluateJoin(users.Candidate{Name: "SpecOnly"}, bans2, time.Now(), nil)
	assert.False(t, d.Deny)

	// Plugin veto.
	veto := func(c users.Candidate) (bool, string) { return c.Name == "Vetoed", "not welcome" }
	d = EvaluateJoin(users.Candidate{Name: "Vetoed"}, &users.BanList{}, time.Now(), []func(users.Candidate) (bool, string){veto})
	assert.True(t, d.Deny)
	assert.Equal(t, "not welcome", d.Reason)
}

func commandNames(cmds []protocol.Command) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Name)
	}
	return out
}
