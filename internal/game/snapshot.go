// Package game runs the engine process: pre-flight checks, start script
// serialization, the autohost UDP channel, end-of-game statistics and
// crash classification.
package game

import (
	"github.com/udisondev/autohost/internal/balance"
	"github.com/udisondev/autohost/internal/battle"
)

// PlayerSnapshot is one frozen participant.
type PlayerSnapshot struct {
	Name           string
	AccountKey     string
	IP             string
	Spectator      bool
	Team           int // engine team number
	AllyTeam       int // engine allyteam number
	Skill          float64
	Sigma          float64
	Rank           int
	ScriptPassword string
}

// BotSnapshot is one frozen AI.
type BotSnapshot struct {
	Name     string
	Owner    string
	AISpec   string
	Team     int // engine team number
	AllyTeam int // engine allyteam number
	Color    balance.Color
}

// Snapshot freezes the battle room at launch. While the game runs the
// snapshot never mutates: post-launch room changes must not reach it.
// TeamsMap and AllyTeamsMap translate the engine's internal numbers back
// to the lobby numbering for log-format stability across reshuffles.
type Snapshot struct {
	Map           string
	Mod           string
	EngineVersion string
	Structure     balance.Structure

	Players []PlayerSnapshot
	Bots    []BotSnapshot

	TeamsMap     map[int]int // engine team → lobby id
	AllyTeamsMap map[int]int // engine allyteam → lobby allyteam
}

// TakeSnapshot freezes the room. Engine numbering is densified in lobby
// order so the start script uses contiguous indices.
func TakeSnapshot(r *battle.Room, structure balance.Structure, skills func(name string) (skill, sigma float64, rank int), engineVersion string) *Snapshot {
	s := &Snapshot{
		Map:           r.MapName,
		Mod:           r.ModArchive,
		EngineVersion: engineVersion,
		Structure:     structure,
		TeamsMap:      make(map[int]int),
		AllyTeamsMap:  make(map[int]int),
	}

	teamIndex := make(map[int]int) // lobby id → engine team
	allyIndex := make(map[int]int) // lobby allyteam → engine allyteam
	engineTeam := func(lobbyID int) int {
		t, ok := teamIndex[lobbyID]
		if !ok {
			t = len(teamIndex)
			teamIndex[lobbyID] = t
			s.TeamsMap[t] = lobbyID
		}
		return t
	}
	engineAlly := func(lobbyAlly int) int {
		a, ok := allyIndex[lobbyAlly]
		if !ok {
			a = len(allyIndex)
			allyIndex[lobbyAlly] = a
			s.AllyTeamsMap[a] = lobbyAlly
		}
		return a
	}

	for _, m := range r.Members() {
		p := PlayerSnapshot{
			Name:           m.User.Name,
			AccountKey:     m.User.AccountKey(),
			IP:             m.User.IP,
			Spectator:      m.Status.Mode != battle.Player,
			ScriptPassword: m.ScriptPassword,
		}
		if !p.Spectator {
			p.Team = engineTeam(m.Status.ID)
			p.AllyTeam = engineAlly(m.Status.Team)
		}
		if skills != nil {
			p.Skill, p.Sigma, p.Rank = skills(m.User.Name)
		}
		s.Players = append(s.Players, p)
	}
	for _, b := range r.Bots() {
		s.Bots = append(s.Bots, BotSnapshot{
			Name:     b.Name,
			Owner:    b.Owner,
			AISpec:   b.AISpec,
			Team:     engineTeam(b.Status.ID),
			AllyTeam: engineAlly(b.Status.Team),
			Color:    b.Color,
		})
	}
	return s
}

// LobbyTeam translates an engine team number back to the lobby id.
func (s *Snapshot) LobbyTeam(engineTeam int) (int, bool) {
	t, ok := s.TeamsMap[engineTeam]
	return t, ok
}

// PlayerCount returns the number of non-spectator players.
func (s *Snapshot) PlayerCount() int {
	n := 0
	for _, p := range s.Players {
		if !p.Spectator {
			n++
		}
	}
	return n
}
