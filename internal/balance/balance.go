package balance

import (
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Entity is one player or bot to place.
type Entity struct {
	Name     string
	Bot      bool
	Skill    float64
	ClanTag  string // clan tag parsed from the lobby name
	ClanPref string // clan preference
	ShareID  string // manual id-sharing key

	LobbyRank     int
	EffectiveRank int
}

// Options drives one balance computation.
type Options struct {
	Mode        string // random | clan | skill | clan;skill
	ClanMode    string // tokens tag|pref, each optionally suffixed "(max%)"
	IDShareMode string // off | auto | all | manual | clan
	Seed        uint64

	NbTeams      int
	TeamSize     int
	NbPlayerByID int
	MinTeamSize  int
}

// Placement is the computed slot of one entity.
type Placement struct {
	AllyTeam int
	ID       int
}

// Result is the balancer output.
type Result struct {
	Structure Structure
	Placement map[string]Placement
	Unbalance float64 // 100·stddev(group skill)/mean
	NbSmurfs  int
}

type group struct {
	capacity int
	skill    float64
	members  []*Entity
}

func (g *group) free() int { return g.capacity - len(g.members) }

// Compute partitions the entities. Deterministic for a fixed seed and
// input state.
func Compute(entities []Entity, opts Options) Result {
	s := TargetStructure(len(entities), opts.NbTeams, opts.TeamSize, opts.NbPlayerByID, opts.MinTeamSize)

	// Work on copies sorted by name so map iteration order never leaks in.
	pool := make([]*Entity, len(entities))
	for i := range entities {
		pool[i] = &entities[i]
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].Name < pool[j].Name })

	groups := makeGroups(len(pool), s.NbTeams)

	switch {
	case opts.Mode == "random":
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for i, e := range pool {
			gi := i % len(groups)
			groups[gi].members = append(groups[gi].members, e)
			groups[gi].skill += e.Skill
		}
	case strings.Contains(opts.Mode, "clan"):
		clanOf := acceptedClanRules(pool, opts, len(pool), s.NbTeams)
		groups = balanceWithClans(pool, clanOf, len(pool), s.NbTeams)
	default: // skill
		groups = balanceWithClans(pool, nil, len(pool), s.NbTeams)
	}

	placement := assignIDs(groups, s, opts.IDShareMode)

	nbSmurfs := lo.CountBy(entities, func(e Entity) bool {
		return !e.Bot && e.EffectiveRank > e.LobbyRank
	})

	return Result{
		Structure: s,
		Placement: placement,
		Unbalance: unbalanceOf(groups),
		NbSmurfs:  nbSmurfs,
	}
}

func makeGroups(nbPlayers, nbTeams int) []*group {
	base := nbPlayers / nbTeams
	extra := nbPlayers % nbTeams
	groups := make([]*group, nbTeams)
	for i := range groups {
		c := base
		if i < extra {
			c++
		}
		groups[i] = &group{capacity: c}
	}
	return groups
}

// clanToken is one parsed clanMode token: the clan source and the maximum
// allowed increase of the unbalance indicator, in percent.
type clanToken struct {
	source string // "tag" or "pref"
	maxPct float64
}

func parseClanMode(s string) []clanToken {
	var out []clanToken
	for _, raw := range strings.Split(s, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		tok := clanToken{maxPct: math.Inf(1)}
		if i := strings.Index(raw, "("); i >= 0 && strings.HasSuffix(raw, ")") {
			pct := strings.TrimSuffix(raw[i+1:], ")")
			pct = strings.TrimSuffix(pct, "%")
			if v, err := strconv.ParseFloat(pct, 64); err == nil {
				tok.maxPct = v
			}
			raw = raw[:i]
		}
		if raw != "tag" && raw != "pref" {
			continue
		}
		tok.source = raw
		out = append(out, tok)
	}
	return out
}

// acceptedClanRules walks the clanMode token chain left to right and
// accepts each source iff the resulting unbalance does not exceed the
// reference (captured before the chain starts) by more than the token's
// threshold.
func acceptedClanRules(pool []*Entity, opts Options, nbPlayers, nbTeams int) func(*Entity) string {
	ref := unbalanceOf(balanceWithClans(pool, nil, nbPlayers, nbTeams))

	var active []string
	for _, tok := range parseClanMode(opts.ClanMode) {
		candidate := append(append([]string(nil), active...), tok.source)
		clanOf := clanLookup(candidate)
		u := unbalanceOf(balanceWithClans(pool, clanOf, nbPlayers, nbTeams))
		if u-ref <= tok.maxPct {
			active = candidate
		}
	}
	if len(active) == 0 {
		return nil
	}
	return clanLookup(active)
}

func clanLookup(sources []string) func(*Entity) string {
	return func(e *Entity) string {
		for _, s := range sources {
			switch s {
			case "tag":
				if e.ClanTag != "" {
					return e.ClanTag
				}
			case "pref":
				if e.ClanPref != "" {
					return e.ClanPref
				}
			}
		}
		return ""
	}
}

// balanceWithClans produces a full group assignment: clans first
// (largest clan to the group with the most free slots, splitting when
// capacity runs out), then the remaining entities highest-skill-first to
// the group with the largest (avgSkill − groupSkill)/freeSlots.
func balanceWithClans(pool []*Entity, clanOf func(*Entity) string, nbPlayers, nbTeams int) []*group {
	groups := makeGroups(nbPlayers, nbTeams)
	var rest []*Entity

	if clanOf != nil {
		clans := make(map[string][]*Entity)
		for _, e := range pool {
			if c := clanOf(e); c != "" {
				clans[c] = append(clans[c], e)
			} else {
				rest = append(rest, e)
			}
		}
		names := lo.Keys(clans)
		sort.Slice(names, func(i, j int) bool {
			if len(clans[names[i]]) != len(clans[names[j]]) {
				return len(clans[names[i]]) > len(clans[names[j]])
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			members := clans[name]
			sort.Slice(members, func(i, j int) bool { return members[i].Skill > members[j].Skill })
			// The whole clan targets one group; overflow spills into the
			// next group with free slots.
			for len(members) > 0 {
				g := lo.MaxBy(groups, func(a, b *group) bool { return a.free() > b.free() })
				if g.free() == 0 {
					rest = append(rest, members...)
					break
				}
				n := min(g.free(), len(members))
				for _, e := range members[:n] {
					g.members = append(g.members, e)
					g.skill += e.Skill
				}
				members = members[n:]
			}
		}
	} else {
		rest = append(rest, pool...)
	}

	assignBySkill(rest, groups)
	return groups
}

// assignBySkill places entities highest-skill-first. With exactly two
// slots left in two different groups the plain greedy can lock in a bad
// final pair, so that step looks one move ahead.
func assignBySkill(rest []*Entity, groups []*group) {
	sorted := append([]*Entity(nil), rest...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Skill != sorted[j].Skill {
			return sorted[i].Skill > sorted[j].Skill
		}
		return sorted[i].Name < sorted[j].Name
	})

	total := lo.SumBy(sorted, func(e *Entity) float64 { return e.Skill })
	for _, g := range groups {
		total += g.skill
	}
	avg := total / float64(len(groups))

	for i := 0; i < len(sorted); i++ {
		e := sorted[i]
		open := lo.Filter(groups, func(g *group, _ int) bool { return g.free() > 0 })
		if len(open) == 0 {
			return
		}

		if len(sorted)-i == 2 && len(open) == 2 && open[0].free() == 1 && open[1].free() == 1 {
			// Final pair: choose the split minimizing the resulting spread.
			last := sorted[i+1]
			a := math.Abs((open[0].skill + e.Skill) - (open[1].skill + last.Skill))
			b := math.Abs((open[0].skill + last.Skill) - (open[1].skill + e.Skill))
			first, second := open[0], open[1]
			if b < a {
				first, second = open[1], open[0]
			}
			first.members = append(first.members, e)
			first.skill += e.Skill
			second.members = append(second.members, last)
			second.skill += last.Skill
			return
		}

		g := lo.MaxBy(open, func(a, b *group) bool {
			return (avg-a.skill)/float64(a.free()) > (avg-b.skill)/float64(b.free())
		})
		g.members = append(g.members, e)
		g.skill += e.Skill
	}
}

// assignIDs flattens groups into allyteam/id placements. Ids are unique
// across the room: no id number is shared between different allyteams.
func assignIDs(groups []*group, s Structure, idShareMode string) map[string]Placement {
	placement := make(map[string]Placement)
	nextID := 0
	for allyTeam, g := range groups {
		members := append([]*Entity(nil), g.members...)
		sort.Slice(members, func(i, j int) bool {
			if members[i].Skill != members[j].Skill {
				return members[i].Skill > members[j].Skill
			}
			return members[i].Name < members[j].Name
		})

		switch idShareMode {
		case "all":
			id := nextID
			nextID++
			for _, e := range members {
				placement[e.Name] = Placement{AllyTeam: allyTeam, ID: id}
			}
		case "manual", "clan":
			keyOf := func(e *Entity) string {
				if idShareMode == "clan" {
					return e.ClanTag
				}
				return e.ShareID
			}
			ids := make(map[string]int)
			for _, e := range members {
				key := keyOf(e)
				if key == "" {
					placement[e.Name] = Placement{AllyTeam: allyTeam, ID: nextID}
					nextID++
					continue
				}
				id, ok := ids[key]
				if !ok {
					id = nextID
					nextID++
					ids[key] = id
				}
				placement[e.Name] = Placement{AllyTeam: allyTeam, ID: id}
			}
		default: // off, auto: nbPlayerByID players per id ("off" forces 1)
			perID := s.NbPlayerByID
			if idShareMode == "off" {
				perID = 1
			}
			for i, e := range members {
				placement[e.Name] = Placement{AllyTeam: allyTeam, ID: nextID + i/perID}
			}
			if len(members) > 0 {
				nextID += (len(members) + perID - 1) / perID
			}
		}
	}
	return placement
}

// unbalanceOf is the indicator 100·stddev(group skill)/mean.
func unbalanceOf(groups []*group) float64 {
	if len(groups) == 0 {
		return 0
	}
	skills := lo.Map(groups, func(g *group, _ int) float64 { return g.skill })
	mean := lo.Sum(skills) / float64(len(skills))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range skills {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(skills))
	return 100 * math.Sqrt(variance) / mean
}
