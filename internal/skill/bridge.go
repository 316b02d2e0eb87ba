// Package skill resolves player skill from the external rating bot, with
// degradation to rank-derived estimates when the bot is absent or slow.
package skill

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/autohost/internal/balance"
)

// Origin states where an effective skill value came from.
type Origin int

const (
	OriginRank Origin = iota
	OriginTrueSkill
	OriginTrueSkillDegraded
	OriginPlugin
	OriginPluginDegraded
)

var originNames = [...]string{"rank", "TrueSkill", "TrueSkillDegraded", "Plugin", "PluginDegraded"}

func (o Origin) String() string { return originNames[o] }

// Value is one resolved skill.
type Value struct {
	Skill   float64
	Sigma   float64
	Privacy int
	Origin  Origin
}

// RequestTimeout bounds how long a rating-bot query may stay pending
// before the player degrades to the rank table.
const RequestTimeout = 5 * time.Second

// Sender issues the private-message RPC to the rating bot.
type Sender interface {
	SendPrivate(to, message string) error
}

// Bridge tracks pending rating-bot requests and the per-player skill
// cache across the four game types.
type Bridge struct {
	botName string
	send    Sender

	// onChange fires when a player's effective skill changes; the room
	// controller uses it to flag a rebalance.
	onChange func(player string)

	mu      sync.Mutex
	pending map[string]pendingRequest             // accountId → request
	cache   map[string]map[balance.GameType]Value // player → per-type values
}

type pendingRequest struct {
	player string
	sentAt time.Time
	rank   int
}

// NewBridge creates the bridge. botName empty disables live lookups.
func NewBridge(botName string, send Sender, onChange func(player string)) *Bridge {
	return &Bridge{
		botName:  botName,
		send:     send,
		onChange: onChange,
		pending:  make(map[string]pendingRequest),
		cache:    make(map[string]map[balance.GameType]Value),
	}
}

// Enabled reports whether a rating bot is configured.
func (b *Bridge) Enabled() bool { return b.botName != "" }

// BotName returns the rating bot account name.
func (b *Bridge) BotName() string { return b.botName }

// Request issues a skill lookup for a player who prefers TrueSkill.
// The request degrades automatically if no reply lands in time.
func (b *Bridge) Request(player, accountID, ip string, rank int) {
	if !b.Enabled() {
		b.degrade(player, accountID, rank)
		return
	}
	msg := "!#getSkill 3 " + accountID
	if ip != "" {
		msg += "|" + ip
	}
	if err := b.send.SendPrivate(b.botName, msg); err != nil {
		slog.Warn("skill request failed", "player", player, "err", err)
		b.degrade(player, accountID, rank)
		return
	}
	b.mu.Lock()
	b.pending[accountID] = pendingRequest{player: player, sentAt: time.Now(), rank: rank}
	b.mu.Unlock()
}

// Tick expires pending requests past the timeout, degrading the players.
func (b *Bridge) Tick(now time.Time) {
	b.mu.Lock()
	var expired []struct {
		accountID string
		req       pendingRequest
	}
	for id, req := range b.pending {
		if now.Sub(req.sentAt) >= RequestTimeout {
			expired = append(expired, struct {
				accountID string
				req       pendingRequest
			}{id, req})
			delete(b.pending, id)
		}
	}
	b.mu.Unlock()
	for _, e := range expired {
		slog.Info("skill request timed out, degrading", "player", e.req.player)
		b.degrade(e.req.player, e.accountID, e.req.rank)
	}
}

// HandleReply parses a rating-bot answer:
//
//	<accountId>|<status>[|<privacy>|<duelSkill>,<duelSigma>,<class>|<ffa…>|<team…>|<teamffa…>]
//
// Status 0 is success; anything else degrades the player.
func (b *Bridge) HandleReply(line string) error {
	fields := strings.Split(line, "|")
	if len(fields) < 2 {
		return fmt.Errorf("malformed skill reply %q", line)
	}
	accountID := fields[0]

	b.mu.Lock()
	req, ok := b.pending[accountID]
	if ok {
		delete(b.pending, accountID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unsolicited skill reply for account %s", accountID)
	}

	status, err := strconv.Atoi(fields[1])
	if err != nil || status != 0 || len(fields) < 7 {
		slog.Info("skill lookup failed, degrading", "player", req.player, "status", fields[1])
		b.degrade(req.player, accountID, req.rank)
		return nil
	}

	privacy, _ := strconv.Atoi(fields[2])
	types := []balance.GameType{balance.Duel, balance.FFA, balance.Team, balance.TeamFFA}
	values := make(map[balance.GameType]Value, len(types))
	for i, gt := range types {
		v, err := parseTuple(fields[3+i])
		if err != nil {
			return fmt.Errorf("skill reply for %s: %w", accountID, err)
		}
		v.Privacy = privacy
		v.Origin = OriginTrueSkill
		values[gt] = v
	}

	b.setAll(req.player, values)
	return nil
}

func parseTuple(s string) (Value, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return Value{}, fmt.Errorf("malformed skill tuple %q", s)
	}
	skill, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Value{}, fmt.Errorf("malformed skill %q: %w", parts[0], err)
	}
	sigma, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Value{}, fmt.Errorf("malformed sigma %q: %w", parts[1], err)
	}
	return Value{Skill: skill, Sigma: sigma}, nil
}

// degrade fills the cache with rank-derived TrueSkill for all game types.
func (b *Bridge) degrade(player, accountID string, rank int) {
	v := Value{Skill: balance.TrueSkillForRank(rank), Origin: OriginTrueSkillDegraded}
	values := map[balance.GameType]Value{
		balance.Duel: v, balance.FFA: v, balance.Team: v, balance.TeamFFA: v,
	}
	b.setAll(player, values)
}

func (b *Bridge) setAll(player string, values map[balance.GameType]Value) {
	b.mu.Lock()
	old := b.cache[player]
	b.cache[player] = values
	b.mu.Unlock()

	if b.onChange != nil && !equalValues(old, values) {
		b.onChange(player)
	}
}

func equalValues(a, b map[balance.GameType]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Get returns the cached skill of a player for the game type, falling
// back to the plain rank table when nothing is cached.
func (b *Bridge) Get(player string, gt balance.GameType, rank int) Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	if values, ok := b.cache[player]; ok {
		if v, ok := values[gt]; ok {
			return v
		}
	}
	return Value{Skill: balance.SkillForRank(rank), Origin: OriginRank}
}

// Forget drops a player's cache and pending state (REMOVEUSER).
func (b *Bridge) Forget(player string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, player)
	for id, req := range b.pending {
		if req.player == player {
			delete(b.pending, id)
		}
	}
}
