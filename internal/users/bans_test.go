package users

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanFilter_AllPresentFieldsMustMatch(t *testing.T) {
	f := BanFilter{Name: "~Smurf.*", Country: "DE"}
	assert.True(t, f.Matches(Candidate{Name: "SmurfKing", Country: "DE"}))
	assert.False(t, f.Matches(Candidate{Name: "SmurfKing", Country: "FR"}))
	assert.False(t, f.Matches(Candidate{Name: "King", Country: "DE"}))
}

func TestBanFilter_NumericComparators(t *testing.T) {
	f := BanFilter{Rank: "<3"}
	assert.True(t, f.Matches(Candidate{Rank: 2}))
	assert.False(t, f.Matches(Candidate{Rank: 3}))

	f = BanFilter{Skill: ">=25.5"}
	assert.True(t, f.Matches(Candidate{Skill: 25.5}))
	assert.False(t, f.Matches(Candidate{Skill: 20}))

	f = BanFilter{Access: "100"}
	assert.True(t, f.Matches(Candidate{Access: 100}))
	assert.False(t, f.Matches(Candidate{Access: 99}))
}

func TestBanFilter_NameCaseInsensitive(t *testing.T) {
	f := BanFilter{Name: "player1"}
	assert.True(t, f.Matches(Candidate{Name: "Player1"}))
}

func TestBan_HashStable(t *testing.T) {
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mk := func() *Ban {
		return &Ban{
			Filter: BanFilter{Name: "Griefer"},
			Action: BanAction{BanType: BanBattle, StartDate: end.AddDate(0, -1, 0), EndDate: &end, Reason: "griefing"},
		}
	}
	assert.Equal(t, mk().Hash(), mk().Hash())
	assert.Len(t, mk().Hash(), 6)

	other := mk()
	other.Filter.Name = "Griefer2"
	assert.NotEqual(t, mk().Hash(), other.Hash())
}

func TestBan_Active(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	b := &Ban{Action: BanAction{BanType: BanFull, StartDate: now.Add(-2 * time.Hour), EndDate: &past}}
	assert.False(t, b.Active(now))

	games := 0
	b = &Ban{Action: BanAction{BanType: BanFull, RemainingGames: &games}}
	assert.False(t, b.Active(now))

	b = &Ban{Action: BanAction{BanType: BanFull}}
	assert.True(t, b.Active(now))
}

func TestBanList_FirstHitOrderAndRestrictiveTie(t *testing.T) {
	now := time.Now()
	spec := &Ban{Filter: BanFilter{Name: "Dual"}, Action: BanAction{BanType: BanSpec}}
	battle := &Ban{Filter: BanFilter{Name: "Dual"}, Action: BanAction{BanType: BanBattle}}
	full := &Ban{Filter: BanFilter{Name: "Dual"}, Action: BanAction{BanType: BanFull}}

	// Specific list wins over dynamic even when dynamic is harsher.
	l := &BanList{Specific: []*Ban{spec}, Dynamic: []*Ban{full}}
	got := l.Find(Candidate{Name: "Dual"}, now)
	require.NotNil(t, got)
	assert.Equal(t, BanSpec, got.Action.BanType)

	// Within one list the most restrictive type wins the tie.
	l = &BanList{Dynamic: []*Ban{spec, battle}}
	got = l.Find(Candidate{Name: "Dual"}, now)
	require.NotNil(t, got)
	assert.Equal(t, BanBattle, got.Action.BanType)
}

func TestBanList_ConsumeGameOncePerStart(t *testing.T) {
	now := time.Now()
	games := 1
	b := &Ban{Filter: BanFilter{Name: "OneGame"}, Action: BanAction{BanType: BanBattle, RemainingGames: &games}}
	l := &BanList{Dynamic: []*Ban{b}}

	players := []Candidate{{Name: "OneGame"}, {Name: "Other"}}
	l.ConsumeGame(players, now)
	assert.Zero(t, games, "a remainingGames=1 ban is consumed exactly once per started game")
	assert.Nil(t, l.Find(Candidate{Name: "OneGame"}, now), "consumed ban no longer matches")

	// A second start must not drive the counter negative through Active().
	l.ConsumeGame(players, now)
	assert.Zero(t, games)
}

func TestBanList_AddRemoveDynamic(t *testing.T) {
	b := &Ban{Filter: BanFilter{IP: "10.0.0.1"}, Action: BanAction{BanType: BanBattle}}
	l := &BanList{}
	l.AddDynamic(b)
	l.AddDynamic(b) // same hash replaces, not duplicates
	assert.Len(t, l.Dynamic, 1)

	assert.True(t, l.RemoveDynamic(b.Hash()))
	assert.False(t, l.RemoveDynamic(b.Hash()))
}

func TestBanList_PruneExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	expired := &Ban{Filter: BanFilter{Name: "A"}, Action: BanAction{BanType: BanSpec, EndDate: &past}}
	live := &Ban{Filter: BanFilter{Name: "B"}, Action: BanAction{BanType: BanSpec}}
	l := &BanList{Dynamic: []*Ban{expired, live}}

	removed := l.PruneExpired(now)
	assert.Equal(t, []string{expired.Hash()}, removed)
	assert.Len(t, l.Dynamic, 1)
}

func TestAccountKey(t *testing.T) {
	u := &User{Name: "Anon", AccountID: 0}
	assert.Equal(t, "0(Anon)", u.AccountKey())
	u = &User{Name: "Reg", AccountID: 4242}
	assert.Equal(t, "4242", u.AccountKey())
}

func TestParseStatusRoundTrip(t *testing.T) {
	s := ClientStatus{InGame: true, Rank: 5, Bot: true}
	assert.Equal(t, s, ParseStatus(EncodeStatus(s)))
}
