// Package vote implements the time-bounded voting state machine: one vote
// at a time, weighted quorum math, away-mode auto-voting and reminder
// timers.
package vote

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ballot is one voter's choice.
type Ballot int

const (
	Yes Ballot = iota
	No
	Blank
)

// ParseBallot accepts the chat forms of a ballot.
func ParseBallot(s string) (Ballot, error) {
	switch strings.ToLower(s) {
	case "y", "yes":
		return Yes, nil
	case "n", "no":
		return No, nil
	case "b", "blank":
		return Blank, nil
	}
	return 0, fmt.Errorf("invalid vote %q", s)
}

// Source states where a vote was called from.
type Source int

const (
	SourcePrivate Source = iota
	SourceChannel
	SourceBattle
	SourceGame
)

// Config carries the per-command vote settings resolved by the caller.
type Config struct {
	VoteTime time.Duration
	// AwayVoteDelay is absolute from vote start and clamped to VoteTime.
	// Zero disables away-mode auto-voting.
	AwayVoteDelay time.Duration
	// Margin is the extra majority percentage over 50; 0 means simple
	// majority.
	Margin int
	// MinParticipation is the required participation in percent.
	MinParticipation float64
	// RingDelay and NotifyDelay schedule voter reminders; MinRingDelay is
	// the per-user floor between two rings.
	RingDelay    time.Duration
	NotifyDelay  time.Duration
	MinRingDelay time.Duration
}

// ParseAwayVoteDelay resolves an away-vote delay spec: seconds, or "X%"
// of the vote time.
func ParseAwayVoteDelay(spec string, voteTime time.Duration) (time.Duration, error) {
	if spec == "" {
		return 0, nil
	}
	if pct, ok := strings.CutSuffix(spec, "%"); ok {
		p, err := strconv.ParseFloat(pct, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid away vote delay %q: %w", spec, err)
		}
		return time.Duration(float64(voteTime) * p / 100), nil
	}
	sec, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid away vote delay %q: %w", spec, err)
	}
	return time.Duration(sec) * time.Second, nil
}

// ParseMinParticipation resolves a participation spec: "a" or "a;b" where
// the second value applies while a game runs.
func ParseMinParticipation(spec string, gameRunning bool) (float64, error) {
	if spec == "" {
		return 0, nil
	}
	parts := strings.Split(spec, ";")
	idx := 0
	if gameRunning && len(parts) > 1 {
		idx = 1
	}
	v, err := strconv.ParseFloat(parts[idx], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid participation %q: %w", spec, err)
	}
	return v, nil
}

// voter tracks the reminder timers of one remaining voter.
type voter struct {
	ringTime   time.Time
	notifyTime time.Time
	lastRing   time.Time
}

// Outcome is the vote resolution state.
type Outcome int

const (
	Continue Outcome = iota
	Passed
	Failed
	Cancelled
)

// Events are the side effects one Tick requests.
type Events struct {
	Ring        []string // users to RING
	Notify      []string // users to remind in private
	SetAwayMode []string // remaining voters whose voteMode flips to away (expiry)
}

// Vote is one in-flight vote.
type Vote struct {
	ID        uuid.UUID
	Initiator string
	Source    Source
	Command   []string

	cfg          Config
	startTime    time.Time
	expireTime   time.Time
	awayVoteTime time.Time

	remaining map[string]*voter
	away      map[string]bool
	manual    map[string]Ballot

	yes, no, blank int
	eligible       int

	CancelReason string
}

// New creates a vote. eligibleVoters must not include the initiator or
// the host; the initiator counts as an implicit yes.
func New(initiator string, source Source, command []string, eligibleVoters []string, cfg Config, now time.Time) *Vote {
	if cfg.AwayVoteDelay > cfg.VoteTime {
		cfg.AwayVoteDelay = cfg.VoteTime
	}
	v := &Vote{
		ID:         uuid.New(),
		Initiator:  initiator,
		Source:     source,
		Command:    slices.Clone(command),
		cfg:        cfg,
		startTime:  now,
		expireTime: now.Add(cfg.VoteTime),
		remaining:  make(map[string]*voter, len(eligibleVoters)),
		away:       make(map[string]bool),
		manual:     make(map[string]Ballot),
		yes:        1, // initiator
		eligible:   len(eligibleVoters) + 1,
	}
	if cfg.AwayVoteDelay > 0 {
		v.awayVoteTime = now.Add(cfg.AwayVoteDelay)
	}
	for _, name := range eligibleVoters {
		vt := &voter{}
		if cfg.RingDelay > 0 {
			vt.ringTime = now.Add(cfg.RingDelay)
		}
		if cfg.NotifyDelay > 0 {
			vt.notifyTime = now.Add(cfg.NotifyDelay)
		}
		v.remaining[name] = vt
	}
	return v
}

// Counts returns the current tallies.
func (v *Vote) Counts() (yes, no, blank int) { return v.yes, v.no, v.blank }

// Remaining returns the number of voters who have not voted.
func (v *Vote) Remaining() int { return len(v.remaining) }

// Eligible reports whether name may still cast a ballot.
func (v *Vote) Eligible(name string) bool {
	_, ok := v.remaining[name]
	return ok
}

// IsCommand reports whether the vote is about the given parsed command.
func (v *Vote) IsCommand(command []string) bool {
	return slices.Equal(v.Command, command)
}

// Cast records a manual ballot. Away voters may overrule their automatic
// blank: the blank is retracted first.
func (v *Vote) Cast(name string, b Ballot) error {
	if v.away[name] {
		delete(v.away, name)
		v.blank--
	} else if _, ok := v.remaining[name]; !ok {
		if _, voted := v.manual[name]; voted {
			return fmt.Errorf("%s already voted", name)
		}
		return fmt.Errorf("%s is not allowed to vote", name)
	}
	delete(v.remaining, name)
	v.manual[name] = b
	switch b {
	case Yes:
		v.yes++
	case No:
		v.no++
	default:
		v.blank++
	}
	return nil
}

// votesForPart computes the participation numerator: without a margin the
// leading side is favoured (2·max(yes,no)−1 + blank − awayVoters),
// with a margin every expressed vote counts.
func (v *Vote) votesForPart() int {
	if v.cfg.Margin == 0 {
		n := 2*max(v.yes, v.no) - 1 + v.blank - len(v.away)
		if n < 0 {
			n = 0
		}
		return n
	}
	return v.yes + v.no + v.blank - len(v.away)
}

// participationOK checks votePart ≥ minVoteParticipation.
func (v *Vote) participationOK() bool {
	if v.cfg.MinParticipation <= 0 {
		return true
	}
	if v.eligible == 0 {
		return false
	}
	part := 100 * float64(v.votesForPart()) / float64(v.eligible)
	return part >= v.cfg.MinParticipation
}

// required returns the yes and no thresholds over the decidable total
// (expressed yes/no plus remaining voters). Explicit ceil/floor, never
// default rounding.
func (v *Vote) required() (reqYes, reqNo int) {
	total := v.yes + v.no + len(v.remaining)
	if v.cfg.Margin > 0 {
		req := int(math.Ceil(float64(total) * float64(50+v.cfg.Margin) / 100))
		return req, req
	}
	req := int(math.Floor(float64(total)/2)) + 1
	return req, req
}

// Tick advances the vote at time now and returns the outcome plus the
// reminder side effects to perform.
func (v *Vote) Tick(now time.Time, voteModeAway func(name string) bool, autoSetAway func(name string) bool) (Outcome, Events) {
	var ev Events

	// Away-mode auto votes.
	if !v.awayVoteTime.IsZero() && !now.Before(v.awayVoteTime) {
		for name := range v.remaining {
			if voteModeAway != nil && voteModeAway(name) {
				delete(v.remaining, name)
				v.away[name] = true
				v.blank++
			}
		}
	}

	reqYes, reqNo := v.required()
	switch {
	case v.yes >= reqYes && v.participationOK():
		return Passed, ev
	case v.no >= reqNo:
		return Failed, ev
	case len(v.remaining) == 0:
		if v.yes > v.no && v.participationOK() {
			return Passed, ev
		}
		return Failed, ev
	}

	// Expiry: strict majority with quorum passes, anything else fails.
	if !now.Before(v.expireTime) {
		if !v.awayVoteTime.IsZero() && autoSetAway != nil {
			for name := range v.remaining {
				if autoSetAway(name) {
					ev.SetAwayMode = append(ev.SetAwayMode, name)
				}
			}
		}
		if v.yes > v.no && v.participationOK() {
			return Passed, ev
		}
		return Failed, ev
	}

	// Reminders for the voters still pending.
	for name, vt := range v.remaining {
		if !vt.ringTime.IsZero() && !now.Before(vt.ringTime) {
			if vt.lastRing.IsZero() || now.Sub(vt.lastRing) >= v.cfg.MinRingDelay {
				ev.Ring = append(ev.Ring, name)
				vt.lastRing = now
			}
			vt.ringTime = now.Add(v.cfg.RingDelay)
		}
		if !vt.notifyTime.IsZero() && !now.Before(vt.notifyTime) {
			ev.Notify = append(ev.Notify, name)
			vt.notifyTime = now.Add(v.cfg.NotifyDelay)
		}
	}
	slices.Sort(ev.Ring)
	slices.Sort(ev.Notify)
	slices.Sort(ev.SetAwayMode)
	return Continue, ev
}

// CancelForDirectExec marks the vote cancelled because user executed the
// same command directly.
func (v *Vote) CancelForDirectExec(user string) {
	v.CancelReason = fmt.Sprintf("command executed directly by %s", user)
}

// ConsistencyOK verifies yes+no+blank == manual+away voters plus the
// implicit initiator vote, and that nobody is both remaining and away.
func (v *Vote) ConsistencyOK() bool {
	if v.yes+v.no+v.blank != len(v.manual)+len(v.away)+1 {
		return false
	}
	for name := range v.remaining {
		if v.away[name] {
			return false
		}
	}
	return true
}

// Describe renders the vote for announcements.
func (v *Vote) Describe() string {
	return fmt.Sprintf("vote for \"%s\" (y=%d n=%d b=%d, %d remaining)",
		strings.Join(v.Command, " "), v.yes, v.no, v.blank, len(v.remaining))
}
