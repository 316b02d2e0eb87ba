package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func players(skills ...float64) []Entity {
	out := make([]Entity, len(skills))
	for i, s := range skills {
		out[i] = Entity{Name: string(rune('A' + i)), Skill: s}
	}
	return out
}

func TestTargetStructure_FillsIdsBeforeGrowingTeams(t *testing.T) {
	// 2 teams of up to 2 ids with 2 players per id: 4 players fit in
	// 2x1x2 before team size grows.
	s := TargetStructure(4, 2, 2, 2, 1)
	assert.Equal(t, Structure{NbTeams: 2, TeamSize: 1, NbPlayerByID: 2}, s)

	s = TargetStructure(8, 2, 2, 2, 1)
	assert.Equal(t, Structure{NbTeams: 2, TeamSize: 2, NbPlayerByID: 2}, s)

	// Beyond the configured shape the team count inflates.
	s = TargetStructure(10, 2, 2, 2, 1)
	assert.Equal(t, Structure{NbTeams: 3, TeamSize: 2, NbPlayerByID: 2}, s)
}

func TestGameTypeClassification(t *testing.T) {
	assert.Equal(t, Duel, Structure{NbTeams: 2, TeamSize: 1, NbPlayerByID: 1}.GameType())
	assert.Equal(t, FFA, Structure{NbTeams: 5, TeamSize: 1, NbPlayerByID: 1}.GameType())
	assert.Equal(t, Team, Structure{NbTeams: 2, TeamSize: 4, NbPlayerByID: 1}.GameType())
	assert.Equal(t, TeamFFA, Structure{NbTeams: 3, TeamSize: 2, NbPlayerByID: 1}.GameType())
}

func TestCompute_Deterministic(t *testing.T) {
	opts := Options{Mode: "random", Seed: 42, NbTeams: 2, TeamSize: 2}
	a := Compute(players(10, 20, 30, 40), opts)
	b := Compute(players(10, 20, 30, 40), opts)
	assert.Equal(t, a.Placement, b.Placement, "balancer must be deterministic for a fixed seed")
}

func TestCompute_SkillBalanced(t *testing.T) {
	r := Compute(players(40, 30, 20, 10), Options{Mode: "skill", NbTeams: 2, TeamSize: 2})

	sums := map[int]float64{}
	for name, p := range r.Placement {
		sums[p.AllyTeam] += players(40, 30, 20, 10)[name[0]-'A'].Skill
	}
	require.Len(t, sums, 2)
	assert.Equal(t, sums[0], sums[1], "40+10 vs 30+20")
	assert.InDelta(t, 0, r.Unbalance, 1e-9)
}

func TestCompute_NoIDSharedAcrossAllyTeams(t *testing.T) {
	r := Compute(players(1, 2, 3, 4, 5, 6), Options{Mode: "skill", NbTeams: 3, TeamSize: 2})
	teamOfID := map[int]int{}
	for _, p := range r.Placement {
		if prev, seen := teamOfID[p.ID]; seen {
			assert.Equal(t, prev, p.AllyTeam, "id %d spans allyteams", p.ID)
		}
		teamOfID[p.ID] = p.AllyTeam
	}
}

func TestCompute_IDShareAll(t *testing.T) {
	r := Compute(players(1, 2, 3, 4), Options{Mode: "skill", IDShareMode: "all", NbTeams: 2, TeamSize: 2})
	idsByTeam := map[int]map[int]bool{}
	for _, p := range r.Placement {
		if idsByTeam[p.AllyTeam] == nil {
			idsByTeam[p.AllyTeam] = map[int]bool{}
		}
		idsByTeam[p.AllyTeam][p.ID] = true
	}
	for team, ids := range idsByTeam {
		assert.Len(t, ids, 1, "allyteam %d must share one id", team)
	}
}

func TestCompute_ClanKeptTogetherWhenCheap(t *testing.T) {
	entities := []Entity{
		{Name: "A", Skill: 20, ClanTag: "XX"},
		{Name: "B", Skill: 20, ClanTag: "XX"},
		{Name: "C", Skill: 20},
		{Name: "D", Skill: 20},
	}
	r := Compute(entities, Options{Mode: "clan;skill", ClanMode: "tag(50)", NbTeams: 2, TeamSize: 2})
	assert.Equal(t, r.Placement["A"].AllyTeam, r.Placement["B"].AllyTeam, "equal skills: clan rule costs nothing")
}

func TestCompute_ClanRuleSkippedWhenTooUnbalancing(t *testing.T) {
	entities := []Entity{
		{Name: "A", Skill: 100, ClanTag: "XX"},
		{Name: "B", Skill: 100, ClanTag: "XX"},
		{Name: "C", Skill: 1},
		{Name: "D", Skill: 1},
	}
	r := Compute(entities, Options{Mode: "clan;skill", ClanMode: "tag(5)", NbTeams: 2, TeamSize: 2})
	assert.NotEqual(t, r.Placement["A"].AllyTeam, r.Placement["B"].AllyTeam,
		"stacking the clan would blow the 5%% threshold")
}

func TestCompute_SmurfCount(t *testing.T) {
	entities := []Entity{
		{Name: "A", Skill: 30, LobbyRank: 1, EffectiveRank: 5},
		{Name: "B", Skill: 30, LobbyRank: 3, EffectiveRank: 3},
	}
	r := Compute(entities, Options{Mode: "skill", NbTeams: 2, TeamSize: 1})
	assert.Equal(t, 1, r.NbSmurfs)
}

func TestColorDistance_SymmetricNonNegative(t *testing.T) {
	a := Color{255, 0, 0}
	b := Color{0, 0, 255}
	assert.Equal(t, ColorDistance(a, b), ColorDistance(b, a))
	assert.GreaterOrEqual(t, ColorDistance(a, b), 0)
	assert.Zero(t, ColorDistance(a, a))
}

func TestAssignColors_DeterministicAndDistinct(t *testing.T) {
	ids := []int{0, 1, 2, 3}
	a := AssignColors(ids, 1000, 7)
	b := AssignColors(ids, 1000, 7)
	assert.Equal(t, a, b)

	seen := map[Color]bool{}
	for _, c := range a {
		assert.False(t, seen[c], "duplicate color %v", c)
		seen[c] = true
	}
}

func TestAssignColors_Curated(t *testing.T) {
	m := AssignColors([]int{0, 1}, -1, 0)
	assert.Equal(t, Color{255, 0, 0}, m[0])
	assert.Equal(t, Color{0, 0, 255}, m[1])
}

func TestRankTables(t *testing.T) {
	assert.Equal(t, RankSkill[0], SkillForRank(-5))
	assert.Equal(t, RankSkill[7], SkillForRank(99))
	assert.Equal(t, RankTrueSkill[3], TrueSkillForRank(3))
}
