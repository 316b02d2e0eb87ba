package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/udisondev/autohost/internal/balance"
	"github.com/udisondev/autohost/internal/battle"
)

func TestBattleStatusRoundTrip(t *testing.T) {
	st := battle.Status{Mode: battle.Player, Ready: true, ID: 5, Team: 3, Sync: true, Side: 1}
	assert.Equal(t, st, decodeBattleStatus(encodeBattleStatus(st)))

	spec := battle.Status{Mode: battle.Spectator}
	assert.Equal(t, spec, decodeBattleStatus(encodeBattleStatus(spec)))
}

func TestClanTagOf(t *testing.T) {
	assert.Equal(t, "XX", clanTagOf("[XX]Player"))
	assert.Empty(t, clanTagOf("Player"))
	assert.Empty(t, clanTagOf("[Unclosed"))
	assert.Empty(t, clanTagOf("[]"))
}

func TestEffectiveRank(t *testing.T) {
	assert.Equal(t, 0, effectiveRank(0))
	assert.Equal(t, 0, effectiveRank(balance.RankSkill[0]))
	assert.Equal(t, 3, effectiveRank(balance.RankSkill[3]))
	assert.Equal(t, 7, effectiveRank(999))
}

func TestColorWord(t *testing.T) {
	assert.Equal(t, "255", colorWord(balance.Color{R: 255}))
	assert.Equal(t, "16711680", colorWord(balance.Color{B: 255}))
}
