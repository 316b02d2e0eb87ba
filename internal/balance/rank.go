package balance

// RankSkill maps a lobby rank (0..7) to the skill used when the balance
// mode ignores live skill.
var RankSkill = [8]float64{10, 13, 16, 20, 25, 30, 35, 38}

// RankTrueSkill maps a lobby rank to the degraded TrueSkill estimate used
// when the rating service is unavailable.
var RankTrueSkill = [8]float64{20, 22, 24, 25, 26, 28, 30, 32}

// SkillForRank clamps and looks up the rank skill table.
func SkillForRank(rank int) float64 {
	return lookup(RankSkill, rank)
}

// TrueSkillForRank clamps and looks up the degraded TrueSkill table.
func TrueSkillForRank(rank int) float64 {
	return lookup(RankTrueSkill, rank)
}

func lookup(table [8]float64, rank int) float64 {
	if rank < 0 {
		rank = 0
	}
	if rank > 7 {
		rank = 7
	}
	return table[rank]
}
