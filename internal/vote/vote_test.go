package vote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		VoteTime:         2 * time.Minute,
		MinParticipation: 50,
	}
}

func noAway(string) bool { return false }

func TestVote_PassAtMajority(t *testing.T) {
	now := time.Now()
	v := New("A", SourceBattle, []string{"set", "map", "foo"}, []string{"B", "C"}, testConfig(), now)

	// A's implicit yes alone does not decide: total = 1+0+2 = 3, req 2.
	out, _ := v.Tick(now, noAway, nil)
	assert.Equal(t, Continue, out)

	require.NoError(t, v.Cast("B", Yes))
	yes, no, blank := v.Counts()
	assert.Equal(t, 2, yes)
	assert.Zero(t, no)
	assert.Zero(t, blank)

	out, _ = v.Tick(now.Add(time.Second), noAway, nil)
	assert.Equal(t, Passed, out, "yes=2 meets floor(3/2)+1 with C still remaining")
	assert.True(t, v.ConsistencyOK())
}

func TestVote_FailOnNoMajority(t *testing.T) {
	now := time.Now()
	v := New("A", SourceBattle, []string{"rehost"}, []string{"B", "C", "D"}, testConfig(), now)

	require.NoError(t, v.Cast("B", No))
	require.NoError(t, v.Cast("C", No))
	// total = 1+2+1 = 4, reqNo = 3.
	out, _ := v.Tick(now, noAway, nil)
	assert.Equal(t, Continue, out)

	require.NoError(t, v.Cast("D", No))
	out, _ = v.Tick(now, noAway, nil)
	assert.Equal(t, Failed, out)
}

func TestVote_NoRemainingVotersResolves(t *testing.T) {
	now := time.Now()
	v := New("A", SourceBattle, []string{"stop"}, []string{"B"}, testConfig(), now)
	require.NoError(t, v.Cast("B", Blank))

	// yes=1 no=0 blank=1, nobody remaining: initiator majority decides.
	out, _ := v.Tick(now, noAway, nil)
	assert.Equal(t, Passed, out)
}

func TestVote_ExpiryStrictMajority(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	cfg.MinParticipation = 0
	v := New("A", SourceBattle, []string{"kick", "X"}, []string{"B", "C", "D"}, cfg, now)
	require.NoError(t, v.Cast("B", Yes))

	out, _ := v.Tick(now.Add(cfg.VoteTime), noAway, nil)
	assert.Equal(t, Passed, out, "yes=2 no=0 at expiry passes on strict majority")

	v = New("A", SourceBattle, []string{"kick", "X"}, []string{"B", "C", "D"}, cfg, now)
	require.NoError(t, v.Cast("B", No))
	out, _ = v.Tick(now.Add(cfg.VoteTime), noAway, nil)
	assert.Equal(t, Failed, out, "tie at expiry fails")
}

func TestVote_AwayVotersGoBlank(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	cfg.MinParticipation = 0
	cfg.AwayVoteDelay = 30 * time.Second
	v := New("A", SourceBattle, []string{"start"}, []string{"B", "C"}, cfg, now)

	isAway := func(name string) bool { return name == "C" }
	out, _ := v.Tick(now.Add(31*time.Second), isAway, nil)
	assert.Equal(t, Continue, out)

	_, _, blank := v.Counts()
	assert.Equal(t, 1, blank)
	assert.Equal(t, 1, v.Remaining())
	assert.True(t, v.ConsistencyOK())

	// The away voter may still overrule the automatic blank.
	require.NoError(t, v.Cast("C", No))
	_, no, blank := v.Counts()
	assert.Equal(t, 1, no)
	assert.Zero(t, blank)
	assert.True(t, v.ConsistencyOK())
}

func TestVote_AwayDelayClampedToVoteTime(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	cfg.AwayVoteDelay = time.Hour
	v := New("A", SourceBattle, []string{"x"}, []string{"B"}, cfg, now)
	assert.False(t, v.awayVoteTime.After(v.expireTime))
}

func TestVote_CastRules(t *testing.T) {
	now := time.Now()
	v := New("A", SourceBattle, []string{"x"}, []string{"B"}, testConfig(), now)

	assert.Error(t, v.Cast("Z", Yes), "non-eligible user")
	require.NoError(t, v.Cast("B", Yes))
	assert.Error(t, v.Cast("B", No), "double vote")
}

func TestVote_RingAndNotifyTimers(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	cfg.RingDelay = 10 * time.Second
	cfg.NotifyDelay = 20 * time.Second
	cfg.MinRingDelay = 30 * time.Second
	v := New("A", SourceBattle, []string{"x"}, []string{"B"}, cfg, now)

	_, ev := v.Tick(now.Add(11*time.Second), noAway, nil)
	assert.Equal(t, []string{"B"}, ev.Ring)
	assert.Empty(t, ev.Notify)

	// Next ring due at +21s but the per-user floor is 30s.
	_, ev = v.Tick(now.Add(22*time.Second), noAway, nil)
	assert.Empty(t, ev.Ring)
	assert.Equal(t, []string{"B"}, ev.Notify)

	_, ev = v.Tick(now.Add(45*time.Second), noAway, nil)
	assert.Equal(t, []string{"B"}, ev.Ring)
}

func TestVote_ExpirySwitchesAutoSetVoteMode(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	cfg.MinParticipation = 0
	cfg.AwayVoteDelay = 30 * time.Second
	v := New("A", SourceBattle, []string{"x"}, []string{"B", "C"}, cfg, now)

	autoSet := func(name string) bool { return name == "B" }
	_, ev := v.Tick(now.Add(cfg.VoteTime), noAway, autoSet)
	assert.Equal(t, []string{"B"}, ev.SetAwayMode)
}

func TestVote_CancelForDirectExec(t *testing.T) {
	v := New("A", SourceBattle, []string{"set", "map", "foo"}, []string{"B"}, testConfig(), time.Now())
	assert.True(t, v.IsCommand([]string{"set", "map", "foo"}))
	assert.False(t, v.IsCommand([]string{"set", "map", "bar"}))

	v.CancelForDirectExec("Admin")
	assert.Equal(t, "command executed directly by Admin", v.CancelReason)
}

func TestParseAwayVoteDelay(t *testing.T) {
	d, err := ParseAwayVoteDelay("50%", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseAwayVoteDelay("45", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	d, err = ParseAwayVoteDelay("", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseAwayVoteDelay("x%", time.Minute)
	assert.Error(t, err)
}

func TestParseMinParticipation(t *testing.T) {
	p, err := ParseMinParticipation("50;30", false)
	require.NoError(t, err)
	assert.Equal(t, 50.0, p)

	p, err = ParseMinParticipation("50;30", true)
	require.NoError(t, err)
	assert.Equal(t, 30.0, p)

	p, err = ParseMinParticipation("40", true)
	require.NoError(t, err)
	assert.Equal(t, 40.0, p)
}
