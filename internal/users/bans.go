package users

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BanType orders sanctions from most to least restrictive.
type BanType int

const (
	BanFull   BanType = iota // may not join the lobby interaction at all
	BanBattle                // may not join the battle
	BanSpec                  // may only spectate
)

var banTypeNames = map[BanType]string{BanFull: "full", BanBattle: "battle", BanSpec: "spec"}

func (t BanType) String() string { return banTypeNames[t] }

// ParseBanType parses "full", "battle" or "spec".
func ParseBanType(s string) (BanType, error) {
	for t, n := range banTypeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid ban type %q", s)
}

// BanFilter selects users. A user matches iff every present field
// matches: string fields compare case-insensitively, or as a regex when
// prefixed with "~"; numeric fields accept a comparator prefix (<, <=, >, >=, =).
type BanFilter struct {
	AccountID string `json:"accountId,omitempty"`
	Name      string `json:"name,omitempty"`
	IP        string `json:"ip,omitempty"`
	Country   string `json:"country,omitempty"`
	Rank      string `json:"rank,omitempty"`
	Access    string `json:"access,omitempty"`
	Bot       string `json:"bot,omitempty"`
	Level     string `json:"level,omitempty"`
	Skill     string `json:"skill,omitempty"`
}

// BanAction is the sanction attached to a filter.
type BanAction struct {
	BanType        BanType    `json:"banType"`
	StartDate      time.Time  `json:"startDate"`
	EndDate        *time.Time `json:"endDate,omitempty"`
	RemainingGames *int       `json:"remainingGames,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// Ban couples a filter with its action. The Hash identifies the ban in
// user-facing commands and persistent storage.
type Ban struct {
	Filter BanFilter
	Action BanAction
}

// Hash returns the short stable identifier over filter+action.
func (b *Ban) Hash() string {
	payload, _ := json.Marshal(struct {
		F BanFilter `json:"f"`
		A BanAction `json:"a"`
	}{b.Filter, b.Action})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:3])
}

// Active reports whether the ban still applies at time now.
func (b *Ban) Active(now time.Time) bool {
	if b.Action.EndDate != nil && !now.Before(*b.Action.EndDate) {
		return false
	}
	if b.Action.RemainingGames != nil && *b.Action.RemainingGames <= 0 {
		return false
	}
	return true
}

// Candidate carries the user attributes a ban filter can select on.
type Candidate struct {
	AccountID int
	Name      string
	IP        string
	Country   string
	Rank      int
	Access    int
	Bot       bool
	Level     int
	Skill     float64
}

// Matches reports whether the candidate satisfies every present filter
// field.
func (f *BanFilter) Matches(c Candidate) bool {
	if f.AccountID != "" && !matchString(f.AccountID, strconv.Itoa(c.AccountID)) {
		return false
	}
	if f.Name != "" && !matchString(f.Name, c.Name) {
		return false
	}
	if f.IP != "" && !matchString(f.IP, c.IP) {
		return false
	}
	if f.Country != "" && !matchString(f.Country, c.Country) {
		return false
	}
	if f.Rank != "" && !matchNumber(f.Rank, float64(c.Rank)) {
		return false
	}
	if f.Access != "" && !matchNumber(f.Access, float64(c.Access)) {
		return false
	}
	if f.Bot != "" {
		want := f.Bot == "1" || f.Bot == "true"
		if want != c.Bot {
			return false
		}
	}
	if f.Level != "" && !matchNumber(f.Level, float64(c.Level)) {
		return false
	}
	if f.Skill != "" && !matchNumber(f.Skill, c.Skill) {
		return false
	}
	return true
}

// Empty reports whether the filter selects nothing (all fields absent).
func (f *BanFilter) Empty() bool {
	return *f == BanFilter{}
}

func matchString(filter, value string) bool {
	if pattern, ok := strings.CutPrefix(filter, "~"); ok {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return false
		}
		return re.MatchString(value)
	}
	return strings.EqualFold(filter, value)
}

func matchNumber(filter string, value float64) bool {
	op := "="
	num := filter
	for _, candidate := range []string{"<=", ">=", "<", ">", "="} {
		if rest, ok := strings.CutPrefix(filter, candidate); ok {
			op = candidate
			num = rest
			break
		}
	}
	bound, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return false
	}
	switch op {
	case "<":
		return value < bound
	case "<=":
		return value <= bound
	case ">":
		return value > bound
	case ">=":
		return value >= bound
	default:
		return value == bound
	}
}

// EncodeBan serializes the filter and action for persistent storage.
func EncodeBan(b *Ban) (filterJSON, actionJSON []byte, err error) {
	filterJSON, err = json.Marshal(b.Filter)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding ban filter: %w", err)
	}
	actionJSON, err = json.Marshal(b.Action)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding ban action: %w", err)
	}
	return filterJSON, actionJSON, nil
}

// DecodeBan is the inverse of EncodeBan.
func DecodeBan(filterJSON, actionJSON []byte) (*Ban, error) {
	var b Ban
	if err := json.Unmarshal(filterJSON, &b.Filter); err != nil {
		return nil, fmt.Errorf("decoding ban filter: %w", err)
	}
	if err := json.Unmarshal(actionJSON, &b.Action); err != nil {
		return nil, fmt.Errorf("decoding ban action: %w", err)
	}
	return &b, nil
}

// BanList is an ordered ban collection. Match resolution is first-hit
// over (global, specific, dynamic) with the most restrictive banType
// winning ties inside the winning list.
type BanList struct {
	Global   []*Ban
	Specific []*Ban
	Dynamic  []*Ban
}

// Find returns the effective active ban for the candidate, or nil.
func (l *BanList) Find(c Candidate, now time.Time) *Ban {
	for _, list := range [][]*Ban{l.Global, l.Specific, l.Dynamic} {
		var best *Ban
		for _, b := range list {
			if !b.Active(now) || !b.Filter.Matches(c) {
				continue
			}
			if best == nil || b.Action.BanType < best.Action.BanType {
				best = b
			}
		}
		if best != nil {
			return best
		}
	}
	return nil
}

// AddDynamic appends a ban to the dynamic list, replacing any ban with
// the same hash.
func (l *BanList) AddDynamic(b *Ban) {
	h := b.Hash()
	for i, existing := range l.Dynamic {
		if existing.Hash() == h {
			l.Dynamic[i] = b
			return
		}
	}
	l.Dynamic = append(l.Dynamic, b)
}

// RemoveDynamic deletes a dynamic ban by hash; reports success.
func (l *BanList) RemoveDynamic(hash string) bool {
	for i, b := range l.Dynamic {
		if b.Hash() == hash {
			l.Dynamic = append(l.Dynamic[:i], l.Dynamic[i+1:]...)
			return true
		}
	}
	return false
}

// ConsumeGame decrements remainingGames on every active dynamic ban
// matching a player of the started game. Called exactly once per game
// start with the final player set.
func (l *BanList) ConsumeGame(players []Candidate, now time.Time) {
	for _, b := range l.Dynamic {
		if b.Action.RemainingGames == nil || !b.Active(now) {
			continue
		}
		for _, p := range players {
			if b.Filter.Matches(p) {
				*b.Action.RemainingGames--
				break
			}
		}
	}
}

// PruneExpired drops inactive dynamic bans and returns their hashes.
func (l *BanList) PruneExpired(now time.Time) []string {
	var removed []string
	kept := l.Dynamic[:0]
	for _, b := range l.Dynamic {
		if b.Active(now) {
			kept = append(kept, b)
		} else {
			removed = append(removed, b.Hash())
		}
	}
	l.Dynamic = kept
	return removed
}
