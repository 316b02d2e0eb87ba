package game

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Run tracks one game from SERVER_STARTED to its summary: connection
// state per player, accumulated team statistics and game-over reports.
type Run struct {
	Snapshot *Snapshot
	Started  time.Time
	Playing  bool

	connected map[string]bool // player name → in-game
	ready     map[string]bool

	// stats accumulate per lobby id through the frozen mapping tables.
	stats map[int]TeamStat

	// gameOverReports collects the winner lists per reporting client.
	gameOverReports map[int][]int

	// ForceStartArmedAt is set once all expected players connected with
	// startpostype=2 and no AI; /forcestart fires 5s later.
	ForceStartArmedAt time.Time
}

// NewRun opens the tracking state for a freshly launched snapshot.
func NewRun(s *Snapshot, started time.Time) *Run {
	return &Run{
		Snapshot:        s,
		Started:         started,
		connected:       make(map[string]bool),
		ready:           make(map[string]bool),
		stats:           make(map[int]TeamStat),
		gameOverReports: make(map[int][]int),
	}
}

// PlayerName resolves an engine player number to the snapshot name.
func (r *Run) PlayerName(num int) (string, bool) {
	if num < 0 || num >= len(r.Snapshot.Players) {
		return "", false
	}
	return r.Snapshot.Players[num].Name, true
}

// MarkConnected records a player connection.
func (r *Run) MarkConnected(num int) {
	if name, ok := r.PlayerName(num); ok {
		r.connected[name] = true
	}
}

// MarkLeft records a player leaving.
func (r *Run) MarkLeft(num int) {
	if name, ok := r.PlayerName(num); ok {
		delete(r.connected, name)
	}
}

// MarkReady records a player's in-game readiness.
func (r *Run) MarkReady(num int, ready bool) {
	if name, ok := r.PlayerName(num); ok {
		r.ready[name] = ready
	}
}

// AllExpectedConnected reports whether every non-spectator player of the
// snapshot is connected.
func (r *Run) AllExpectedConnected() bool {
	for _, p := range r.Snapshot.Players {
		if !p.Spectator && !r.connected[p.Name] {
			return false
		}
	}
	return true
}

// AccumulateStat folds a GAME_TEAMSTAT frame into the per-lobby-id
// totals using the frozen mapping.
func (r *Run) AccumulateStat(st TeamStat) {
	lobbyID, ok := r.Snapshot.LobbyTeam(st.Team)
	if !ok {
		slog.Warn("team stat for unknown engine team", "team", st.Team)
		return
	}
	agg := r.stats[lobbyID]
	agg.Team = lobbyID
	agg.MetalProduced += st.MetalProduced
	agg.EnergyProduced += st.EnergyProduced
	agg.DamageDealt += st.DamageDealt
	agg.DamageReceived += st.DamageReceived
	agg.UnitsProduced += st.UnitsProduced
	agg.UnitsKilled += st.UnitsKilled
	r.stats[lobbyID] = agg
}

// Stats returns the accumulated totals keyed by lobby id.
func (r *Run) Stats() map[int]TeamStat { return r.stats }

// RecordGameOver stores one client's winning-allyteam report, translated
// to lobby numbering.
func (r *Run) RecordGameOver(reporter int, winners []int) {
	lobby := make([]int, 0, len(winners))
	for _, w := range winners {
		if l, ok := r.Snapshot.AllyTeamsMap[w]; ok {
			lobby = append(lobby, l)
		}
	}
	sort.Ints(lobby)
	r.gameOverReports[reporter] = lobby
}

// Consensus computes the winning allyteams: a team wins if more than half
// of the reporting clients list it. Inconsistent reports are flagged.
func (r *Run) Consensus() (winners []int, consistent bool) {
	if len(r.gameOverReports) == 0 {
		return nil, true
	}
	votes := make(map[int]int)
	var first []int
	consistent = true
	for _, rep := range r.gameOverReports {
		if first == nil {
			first = rep
		} else if !equalInts(first, rep) {
			consistent = false
		}
		for _, w := range rep {
			votes[w]++
		}
	}
	needed := len(r.gameOverReports) / 2
	for w, n := range votes {
		if n > needed {
			winners = append(winners, w)
		}
	}
	sort.Ints(winners)
	return winners, consistent
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ResultKind summarizes the game outcome.
type ResultKind string

const (
	ResultWin       ResultKind = "win"
	ResultDraw      ResultKind = "draw"
	ResultUndecided ResultKind = "undecided"
)

// Award is one end-game distinction.
type Award struct {
	Name  string // damage, eco, micro
	Team  int    // lobby id
	Value float64
}

// Summary is the end-of-game digest.
type Summary struct {
	Duration time.Duration
	Result   ResultKind
	Winners  []int
	Awards   []Award
}

// Summarize closes the run at endTime: consensus winners, result kind and
// optional awards. Awards are emitted with three or more teams, or with
// exactly two when endGameAwards demands it.
func (r *Run) Summarize(endTime time.Time, endGameAwards int) Summary {
	winners, consistent := r.Consensus()
	if !consistent {
		slog.Info("inconsistent game over reports", "reports", len(r.gameOverReports))
	}
	s := Summary{Duration: endTime.Sub(r.Started), Winners: winners}
	switch {
	case len(winners) == 0 && len(r.gameOverReports) == 0:
		s.Result = ResultUndecided
	case len(winners) == 0:
		s.Result = ResultDraw
	default:
		s.Result = ResultWin
	}

	if len(r.stats) >= 3 || (len(r.stats) == 2 && endGameAwards >= 2) {
		s.Awards = r.awards()
	}
	return s
}

func (r *Run) awards() []Award {
	var damage, eco, micro Award
	damage.Name, eco.Name, micro.Name = "damage", "eco", "micro"
	first := true
	ids := make([]int, 0, len(r.stats))
	for id := range r.stats {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		st := r.stats[id]
		if first || st.DamageDealt > damage.Value {
			damage.Team, damage.Value = id, st.DamageDealt
		}
		res := st.MetalProduced + st.EnergyProduced/60
		if first || res > eco.Value {
			eco.Team, eco.Value = id, res
		}
		ratio := st.DamageDealt / maxf(st.DamageReceived, 1)
		if first || ratio > micro.Value {
			micro.Team, micro.Value = id, ratio
		}
		first = false
	}
	return []Award{damage, eco, micro}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// DataReport is the serialized end-of-game record (GDR) queued for the
// external reporting bot.
type DataReport struct {
	ID           uuid.UUID         `json:"id"`
	Engine       string            `json:"engine"`
	GameType     string            `json:"gameType"`
	Structure    string            `json:"structure"`
	Map          string            `json:"map"`
	Mod          string            `json:"mod"`
	Duration     int64             `json:"durationSec"`
	Result       ResultKind        `json:"result"`
	Winners      []int             `json:"winners,omitempty"`
	Players      []DataReportEntry `json:"players"`
	Bots         []string          `json:"bots,omitempty"`
	CheatingFlag bool              `json:"cheating"`
}

// DataReportEntry is one player's GDR line.
type DataReportEntry struct {
	Name       string `json:"name"`
	AccountKey string `json:"accountKey"`
	IP         string `json:"ip,omitempty"`
	AllyTeam   int    `json:"allyTeam"`
	Spectator  bool   `json:"spectator,omitempty"`
}

// BuildReport assembles the GDR for a finished run.
func (r *Run) BuildReport(s Summary, cheated bool) DataReport {
	rep := DataReport{
		ID:           uuid.New(),
		Engine:       r.Snapshot.EngineVersion,
		GameType:     r.Snapshot.Structure.GameType().String(),
		Structure:    r.Snapshot.Structure.String(),
		Map:          r.Snapshot.Map,
		Mod:          r.Snapshot.Mod,
		Duration:     int64(s.Duration.Seconds()),
		Result:       s.Result,
		Winners:      s.Winners,
		CheatingFlag: cheated,
	}
	for _, p := range r.Snapshot.Players {
		rep.Players = append(rep.Players, DataReportEntry{
			Name:       p.Name,
			AccountKey: p.AccountKey,
			IP:         p.IP,
			AllyTeam:   p.AllyTeam,
			Spectator:  p.Spectator,
		})
	}
	for _, b := range r.Snapshot.Bots {
		rep.Bots = append(rep.Bots, fmt.Sprintf("%s(%s)", b.Name, b.AISpec))
	}
	return rep
}
