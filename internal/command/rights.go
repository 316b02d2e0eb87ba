package command

import "strings"

// Source is where a command arrived from.
type Source string

const (
	SourcePrivate Source = "pv"
	SourceChannel Source = "chan"
	SourceBattle  Source = "battle"
	SourceGame    Source = "game"
)

// PlayerStatus is the caller's relation to the battle.
type PlayerStatus string

const (
	StatusOutside PlayerStatus = "outside"
	StatusSpec    PlayerStatus = "spec"
	StatusPlayer  PlayerStatus = "player"
	StatusPlaying PlayerStatus = "playing"
)

// GameState is the host-side game state.
type GameState string

const (
	GameStopped GameState = "stopped"
	GameRunning GameState = "running"
	GameVoting  GameState = "voting"
)

// Levels is the access pair gating a command: the level executing it
// directly and the level allowed to call a vote on it. A negative level
// disables that path.
type Levels struct {
	Direct int
	Vote   int
}

// RightsRule matches a (source, playerStatus, gameState) context; "*"
// matches anything.
type RightsRule struct {
	Source       string
	PlayerStatus string
	GameState    string
	Levels       Levels
}

func (r RightsRule) matches(src Source, ps PlayerStatus, gs GameState) bool {
	return wild(r.Source, string(src)) && wild(r.PlayerStatus, string(ps)) && wild(r.GameState, string(gs))
}

func wild(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	for _, alt := range strings.Split(pattern, "|") {
		if alt == value {
			return true
		}
	}
	return false
}

// RightsMatrix maps a command to its ordered rule list; the first
// matching rule wins.
type RightsMatrix map[string][]RightsRule

// Lookup resolves the levels for a command in context. Unknown commands
// or contexts yield disabled levels.
func (m RightsMatrix) Lookup(cmd string, src Source, ps PlayerStatus, gs GameState) Levels {
	for _, rule := range m[cmd] {
		if rule.matches(src, ps, gs) {
			return rule.Levels
		}
	}
	return Levels{Direct: -1, Vote: -1}
}

// Allowed decides how the caller may run the command given its effective
// access level: directly, through a vote, or not at all.
type Allowed int

const (
	Denied Allowed = iota
	ByVote
	Direct
)

// Gate applies the level pair to an access level.
func (l Levels) Gate(access int) Allowed {
	if l.Direct >= 0 && access >= l.Direct {
		return Direct
	}
	if l.Vote >= 0 && access >= l.Vote {
		return ByVote
	}
	return Denied
}
