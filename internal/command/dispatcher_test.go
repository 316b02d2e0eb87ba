package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_Plain(t *testing.T) {
	got, err := Tokenize("force  Player1 spec", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"force", "Player1", "spec"}, got)
}

func TestTokenize_Quoted(t *testing.T) {
	got, err := Tokenize(`map "Delta Siege Dry" 'x y' a\ b`, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"map", "Delta Siege Dry", "x y", "a b"}, got)

	_, err = Tokenize(`map "unterminated`, true)
	assert.Error(t, err)
	_, err = Tokenize(`trailing\`, true)
	assert.Error(t, err)
}

func TestAliases_Expand(t *testing.T) {
	a := Aliases{
		"spec": {"force", "%1%", "spec"},
		"cv":   {"callvote"},
		"all":  {"say", "%0%"},
	}

	got, err := a.Expand([]string{"spec", "Player1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"force", "Player1", "spec"}, got)

	got, err = a.Expand([]string{"cv", "map", "foo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"callvote", "map", "foo"}, got)

	got, err = a.Expand([]string{"all", "hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, []string{"say", "hello", "world"}, got)

	got, err = a.Expand([]string{"unaliased", "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"unaliased", "x"}, got)
}

func TestRightsMatrix_LookupAndGate(t *testing.T) {
	m := RightsMatrix{
		"kick": {
			{Source: "battle|game", PlayerStatus: "*", GameState: "*", Levels: Levels{Direct: 100, Vote: 10}},
			{Source: "pv", Levels: Levels{Direct: 100, Vote: -1}},
		},
	}

	l := m.Lookup("kick", SourceBattle, StatusPlayer, GameStopped)
	assert.Equal(t, Levels{Direct: 100, Vote: 10}, l)
	assert.Equal(t, Direct, l.Gate(100))
	assert.Equal(t, ByVote, l.Gate(50))
	assert.Equal(t, Denied, l.Gate(5))

	l = m.Lookup("kick", SourcePrivate, StatusOutside, GameStopped)
	assert.Equal(t, Denied, l.Gate(50), "vote path disabled in private")

	l = m.Lookup("unknown", SourceBattle, StatusPlayer, GameStopped)
	assert.Equal(t, Denied, l.Gate(1000))
}

type fakeVotes struct {
	inProgress []string
	started    [][]string
	castYes    []string
	cancelled  [][]string
}

func (f *fakeVotes) InProgress(cmd []string) bool {
	if f.inProgress == nil {
		return false
	}
	if len(cmd) != len(f.inProgress) {
		return false
	}
	for i := range cmd {
		if cmd[i] != f.inProgress[i] {
			return false
		}
	}
	return true
}
func (f *fakeVotes) CastYes(user string) (string, bool) {
	f.castYes = append(f.castYes, user)
	return "vote y counted", true
}
func (f *fakeVotes) Start(user string, src Source, cmd []string) (string, bool) {
	f.started = append(f.started, cmd)
	return "vote started", true
}
func (f *fakeVotes) CancelDirect(cmd []string, user string) {
	f.cancelled = append(f.cancelled, cmd)
}

func testDispatcher(access int) (*Dispatcher, *fakeVotes, *[]string) {
	rights := RightsMatrix{
		"kick": {{Levels: Levels{Direct: 100, Vote: 10}}},
		"bSet": {{Levels: Levels{Direct: 100, Vote: 10}}},
	}
	d := NewDispatcher(rights, Aliases{}, func(string) int { return access })
	votes := &fakeVotes{}
	d.SetVotes(votes)
	executed := &[]string{}
	d.Register("kick", false, func(ctx *Context) Result {
		if !ctx.CheckOnly {
			*executed = append(*executed, "kick "+ctx.Params[0])
		}
		return Result{Ok: true}
	})
	d.Register("bSet", false, func(ctx *Context) Result {
		return Result{Ok: true}
	})
	return d, votes, executed
}

func TestDispatch_DirectExecutionCancelsVote(t *testing.T) {
	d, votes, executed := testDispatcher(100)

	reply := d.Dispatch(SourceBattle, "Admin", StatusPlayer, GameStopped, "kick Griefer")
	assert.Empty(t, reply)
	assert.Equal(t, []string{"kick Griefer"}, *executed)
	require.Len(t, votes.cancelled, 1)
	assert.Equal(t, []string{"kick", "Griefer"}, votes.cancelled[0])
}

func TestDispatch_LowAccessStartsVote(t *testing.T) {
	d, votes, executed := testDispatcher(50)

	reply := d.Dispatch(SourceBattle, "Player", StatusPlayer, GameStopped, "kick Griefer")
	assert.Equal(t, "vote started", reply)
	assert.Empty(t, *executed, "checkOnly must not execute")
	require.Len(t, votes.started, 1)
}

func TestDispatch_IdenticalVoteBecomesYes(t *testing.T) {
	d, votes, _ := testDispatcher(50)
	votes.inProgress = []string{"kick", "Griefer"}

	reply := d.Dispatch(SourceBattle, "Player", StatusPlayer, GameStopped, "kick Griefer")
	assert.Equal(t, "vote y counted", reply)
	assert.Equal(t, []string{"Player"}, votes.castYes)
}

func TestDispatch_Denied(t *testing.T) {
	d, _, executed := testDispatcher(0)
	reply := d.Dispatch(SourceBattle, "Nobody", StatusSpec, GameStopped, "kick Griefer")
	assert.Contains(t, reply, "not allowed")
	assert.Empty(t, *executed)
}

func TestDispatch_BossModeDropsAccess(t *testing.T) {
	d, _, executed := testDispatcher(100)
	d.SetBoss(func() bool { return true }, func(u string) bool { return u == "TheBoss" }, nil)

	reply := d.Dispatch(SourceBattle, "Admin", StatusPlayer, GameStopped, "kick Griefer")
	assert.Contains(t, reply, "not allowed")
	assert.Empty(t, *executed)

	d.Dispatch(SourceBattle, "TheBoss", StatusPlayer, GameStopped, "kick Griefer")
	assert.Equal(t, []string{"kick Griefer"}, *executed)
}

func TestDispatch_BossOverride(t *testing.T) {
	d, _, executed := testDispatcher(100)
	d.SetBoss(func() bool { return true }, func(string) bool { return false },
		func(cmd, user string) bool { return cmd == "kick" && user == "Initiator" })

	d.Dispatch(SourceBattle, "Initiator", StatusPlayer, GameStopped, "kick Griefer")
	assert.Equal(t, []string{"kick Griefer"}, *executed)
}

func TestDispatch_SettingsShortcut(t *testing.T) {
	d, _, _ := testDispatcher(100)
	var got []string
	d.Register("bSet", false, func(ctx *Context) Result {
		got = ctx.Params
		return Result{Ok: true}
	})
	d.SetShortcuts(func(name string) (string, bool) {
		if name == "teamSize" {
			return "bSet", true
		}
		return "", false
	})

	d.Dispatch(SourceBattle, "Admin", StatusPlayer, GameStopped, "teamSize 4")
	assert.Equal(t, []string{"teamSize", "4"}, got)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d, _, _ := testDispatcher(100)
	reply := d.Dispatch(SourceBattle, "Admin", StatusPlayer, GameStopped, "frobnicate")
	assert.Contains(t, reply, "Unknown command")
}

func TestDispatch_PluginAccessOverride(t *testing.T) {
	d, _, executed := testDispatcher(0)
	d.AddPluginAccess(func(user string) (int, bool) {
		if user == "Promoted" {
			return 150, true
		}
		return 0, false
	})

	d.Dispatch(SourceBattle, "Promoted", StatusPlayer, GameStopped, "kick Griefer")
	assert.Equal(t, []string{"kick Griefer"}, *executed)
}
