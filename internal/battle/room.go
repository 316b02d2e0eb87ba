// Package battle models the hosted battle room: membership, bots,
// start rects, script tags and the host-side policies enforced on it.
package battle

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/udisondev/autohost/internal/balance"
	"github.com/udisondev/autohost/internal/protocol"
	"github.com/udisondev/autohost/internal/users"
)

// Mode is a member's participation mode.
type Mode int

const (
	Spectator Mode = iota
	Player
)

// Status is the battle status of a member or bot.
type Status struct {
	Mode  Mode
	Team  int // allyteam
	ID    int // team
	Ready bool
	Sync  bool
	Side  int
	Bonus int
}

// Member is one human in the room.
type Member struct {
	User           *users.User
	Status         Status
	Color          balance.Color
	ScriptPassword string
	JoinedAt       time.Time
	seq            int
}

// Bot is one AI in the room.
type Bot struct {
	Name   string
	Owner  string
	AISpec string
	Status Status
	Color  balance.Color
	// AutoAdded marks bots the host added itself to fill slots; those go
	// first when the room shrinks.
	AutoAdded bool
	seq       int
}

// Local reports whether the host owns the bot.
func (b *Bot) Local(hostName string) bool { return b.Owner == hostName }

// Room is the hosted battle. It is owned by the main loop: all mutations
// happen on loop events, so there is no internal locking.
type Room struct {
	HostName      string
	Title         string
	Password      string
	EngineVersion string
	ModArchive    string
	MapName       string
	MapHash       int64
	MaxPlayers    int
	Locked        bool

	members map[string]*Member
	bots    map[string]*Bot

	startRects    map[int]StartRect
	scriptTags    map[string]string
	disabledUnits []string

	bosses map[string]bool

	// battleChange timestamps the last membership/status mutation; the
	// policy tick batches everything that happened since.
	battleChange time.Time
	seq          int
}

// NewRoom creates an empty room owned by hostName.
func NewRoom(hostName string) *Room {
	return &Room{
		HostName:   hostName,
		members:    make(map[string]*Member),
		bots:       make(map[string]*Bot),
		startRects: make(map[int]StartRect),
		scriptTags: make(map[string]string),
		bosses:     make(map[string]bool),
	}
}

func (r *Room) touch() {
	r.battleChange = time.Now()
}

// LastChange returns the timestamp of the latest room mutation.
func (r *Room) LastChange() time.Time { return r.battleChange }

// Join adds a member (JOINEDBATTLE).
func (r *Room) Join(u *users.User, scriptPassword string) *Member {
	r.seq++
	m := &Member{
		User:           u,
		Status:         Status{Mode: Spectator, Sync: false},
		ScriptPassword: scriptPassword,
		JoinedAt:       time.Now(),
		seq:            r.seq,
	}
	r.members[u.Name] = m
	r.touch()
	return m
}

// Leave removes a member (LEFTBATTLE / KICKFROMBATTLE).
func (r *Room) Leave(name string) {
	delete(r.members, name)
	r.touch()
}

// Member returns the member, or nil.
func (r *Room) Member(name string) *Member { return r.members[name] }

// SetStatus updates a member's battle status (CLIENTBATTLESTATUS).
func (r *Room) SetStatus(name string, st Status) *Member {
	m := r.members[name]
	if m != nil {
		m.Status = st
		r.touch()
	}
	return m
}

// SetColor updates a member's color.
func (r *Room) SetColor(name string, c balance.Color) {
	if m := r.members[name]; m != nil {
		m.Color = c
		r.touch()
	}
}

// AddBot registers an AI (ADDBOT).
func (r *Room) AddBot(name, owner, aiSpec string, st Status, c balance.Color, autoAdded bool) *Bot {
	r.seq++
	b := &Bot{Name: name, Owner: owner, AISpec: aiSpec, Status: st, Color: c, AutoAdded: autoAdded, seq: r.seq}
	r.bots[name] = b
	r.touch()
	return b
}

// RemoveBot drops an AI (REMOVEBOT).
func (r *Room) RemoveBot(name string) {
	delete(r.bots, name)
	r.touch()
}

// Bot returns the bot, or nil.
func (r *Room) Bot(name string) *Bot { return r.bots[name] }

// Members returns the members ordered by join sequence (oldest first).
func (r *Room) Members() []*Member {
	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Bots returns the bots ordered by add sequence (oldest first).
func (r *Room) Bots() []*Bot {
	out := make([]*Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Players returns the members in player mode, excluding the host.
func (r *Room) Players() []*Member {
	var out []*Member
	for _, m := range r.Members() {
		if m.Status.Mode == Player && m.User.Name != r.HostName {
			out = append(out, m)
		}
	}
	return out
}

// Specs returns the members in spectator mode, excluding the host.
func (r *Room) Specs() []*Member {
	var out []*Member
	for _, m := range r.Members() {
		if m.Status.Mode == Spectator && m.User.Name != r.HostName {
			out = append(out, m)
		}
	}
	return out
}

// NonPlayerCount is the UPDATEBATTLEINFO spectator count: everybody not
// in player mode, host included.
func (r *Room) NonPlayerCount() int {
	n := 0
	for _, m := range r.members {
		if m.Status.Mode != Player {
			n++
		}
	}
	return n
}

// MemberCount returns the raw member count, host included.
func (r *Room) MemberCount() int { return len(r.members) }

// TeamIDConsistent checks that no id is shared between different
// allyteams, across members and bots.
func (r *Room) TeamIDConsistent() bool {
	teamOfID := make(map[int]int)
	check := func(st Status) bool {
		if st.Mode != Player {
			return true
		}
		if team, seen := teamOfID[st.ID]; seen && team != st.Team {
			return false
		}
		teamOfID[st.ID] = st.Team
		return true
	}
	for _, m := range r.members {
		if !check(m.Status) {
			return false
		}
	}
	for _, b := range r.bots {
		if !check(b.Status) {
			return false
		}
	}
	return true
}

// SetScriptTag records a script tag and returns the SETSCRIPTTAGS
// command, or ok=false when the value is unchanged.
func (r *Room) SetScriptTag(key, value string) (protocol.Command, bool) {
	if r.scriptTags[key] == value {
		return protocol.Command{}, false
	}
	r.scriptTags[key] = value
	r.touch()
	return protocol.New("SETSCRIPTTAGS").WithSentences(key + "=" + value), true
}

// RemoveScriptTag drops a script tag, returning REMOVESCRIPTTAGS.
func (r *Room) RemoveScriptTag(key string) (protocol.Command, bool) {
	if _, ok := r.scriptTags[key]; !ok {
		return protocol.Command{}, false
	}
	delete(r.scriptTags, key)
	r.touch()
	return protocol.New("REMOVESCRIPTTAGS", key), true
}

// ScriptTag reads a script tag.
func (r *Room) ScriptTag(key string) string { return r.scriptTags[key] }

// ScriptTags returns a copy of all script tags.
func (r *Room) ScriptTags() map[string]string {
	out := make(map[string]string, len(r.scriptTags))
	for k, v := range r.scriptTags {
		out[k] = v
	}
	return out
}

// StartPosType reads game/startpostype (2 = choose in game → start rects).
func (r *Room) StartPosType() int {
	v, err := strconv.Atoi(r.scriptTags["game/startpostype"])
	if err != nil {
		return 0
	}
	return v
}

// SetStartRect stores an allyteam start rect and returns ADDSTARTRECT.
func (r *Room) SetStartRect(team int, rect StartRect) protocol.Command {
	r.startRects[team] = rect
	r.touch()
	return protocol.New("ADDSTARTRECT",
		strconv.Itoa(team),
		strconv.Itoa(rect.Left), strconv.Itoa(rect.Top),
		strconv.Itoa(rect.Right), strconv.Itoa(rect.Bottom))
}

// ClearStartRects removes every start rect (map change, startpostype
// leaving 2) and returns the REMOVESTARTRECT commands.
func (r *Room) ClearStartRects() []protocol.Command {
	teams := make([]int, 0, len(r.startRects))
	for t := range r.startRects {
		teams = append(teams, t)
	}
	sort.Ints(teams)
	out := make([]protocol.Command, 0, len(teams))
	for _, t := range teams {
		delete(r.startRects, t)
		out = append(out, protocol.New("REMOVESTARTRECT", strconv.Itoa(t)))
	}
	if len(out) > 0 {
		r.touch()
	}
	return out
}

// StartRects returns a copy of the current start rects.
func (r *Room) StartRects() map[int]StartRect {
	out := make(map[int]StartRect, len(r.startRects))
	for k, v := range r.startRects {
		out[k] = v
	}
	return out
}

// SetDisabledUnits records the disabled unit list.
func (r *Room) SetDisabledUnits(units []string) {
	r.disabledUnits = append([]string(nil), units...)
}

// OpenCommands produces the command sequence opening the room: the
// OPENBATTLE itself, the settings push, unit handling and start rects.
func (r *Room) OpenCommands(natType, rank int) []protocol.Command {
	pw := r.Password
	if pw == "" {
		pw = "*"
	}
	out := []protocol.Command{
		protocol.New("OPENBATTLE",
			"0", // type: normal battle
			strconv.Itoa(natType),
			pw,
			"8452", // game host port, the one the engine is spawned with
			strconv.Itoa(r.MaxPlayers),
			strconv.FormatInt(r.MapHash, 10),
			strconv.Itoa(rank),
		).WithSentences("spring "+r.EngineVersion, r.MapName, r.Title, r.ModArchive),
	}

	keys := make([]string, 0, len(r.scriptTags))
	for k := range r.scriptTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, protocol.New("SETSCRIPTTAGS").WithSentences(k+"="+r.scriptTags[k]))
	}

	out = append(out, protocol.New("ENABLEALLUNITS"))
	if len(r.disabledUnits) > 0 {
		out = append(out, protocol.New("DISABLEUNITS", r.disabledUnits...))
	}

	teams := make([]int, 0, len(r.startRects))
	for t := range r.startRects {
		teams = append(teams, t)
	}
	sort.Ints(teams)
	for _, t := range teams {
		rect := r.startRects[t]
		out = append(out, protocol.New("ADDSTARTRECT",
			strconv.Itoa(t),
			strconv.Itoa(rect.Left), strconv.Itoa(rect.Top),
			strconv.Itoa(rect.Right), strconv.Itoa(rect.Bottom)))
	}
	return out
}

// CloseCommand leaves the battle.
func (r *Room) CloseCommand() protocol.Command {
	return protocol.New("LEAVEBATTLE")
}

// Boss management.

// SetBoss adds or removes a boss. An empty boss set disables boss mode.
func (r *Room) SetBoss(name string, on bool) {
	if on {
		r.bosses[name] = true
	} else {
		delete(r.bosses, name)
	}
}

// ClearBosses empties the boss set.
func (r *Room) ClearBosses() { r.bosses = make(map[string]bool) }

// BossMode reports whether a boss set is active.
func (r *Room) BossMode() bool { return len(r.bosses) > 0 }

// IsBoss reports membership in the boss set.
func (r *Room) IsBoss(name string) bool { return r.bosses[name] }

// Bosses returns the boss names, sorted.
func (r *Room) Bosses() []string {
	out := make([]string, 0, len(r.bosses))
	for n := range r.bosses {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Summary renders the room state for status answers.
func (r *Room) Summary() string {
	return fmt.Sprintf("map=%s mod=%s players=%d specs=%d bots=%d locked=%v",
		r.MapName, r.ModArchive, len(r.Players()), len(r.Specs()), len(r.bots), r.Locked)
}
