package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/udisondev/autohost/internal/command"
	"github.com/udisondev/autohost/internal/vote"
)

// VoteEngine holds at most one vote at a time and bridges it to the
// dispatcher and the plugin registry.
type VoteEngine struct {
	current *vote.Vote

	// defaults resolved per callvote by the agent
	configFor func(cmd []string) vote.Config
	eligible  func(initiator string) []string
	execute   func(cmd []string, initiator string)
	announce  func(text string)
	ring      func(user string)
	notify    func(user, text string)
	voteAway  func(user string) bool
	autoAway  func(user string) bool
	plugins   *PluginRegistry
}

// NewVoteEngine wires the collaborators.
func NewVoteEngine(
	configFor func(cmd []string) vote.Config,
	eligible func(initiator string) []string,
	execute func(cmd []string, initiator string),
	announce func(text string),
	plugins *PluginRegistry,
) *VoteEngine {
	return &VoteEngine{
		configFor: configFor,
		eligible:  eligible,
		execute:   execute,
		announce:  announce,
		plugins:   plugins,
		voteAway:  func(string) bool { return false },
		autoAway:  func(string) bool { return false },
		ring:      func(string) {},
		notify:    func(string, string) {},
	}
}

// SetReminders wires the ring/notify side effects.
func (e *VoteEngine) SetReminders(ring func(user string), notify func(user, text string)) {
	e.ring = ring
	e.notify = notify
}

// SetAwayLookups wires the voteMode=away and autoSetVoteMode preference
// lookups.
func (e *VoteEngine) SetAwayLookups(voteAway, autoAway func(user string) bool) {
	e.voteAway = voteAway
	e.autoAway = autoAway
}

// Active reports whether a vote runs.
func (e *VoteEngine) Active() bool { return e.current != nil }

// Current returns the running vote, or nil.
func (e *VoteEngine) Current() *vote.Vote { return e.current }

// InProgress implements command.VoteBridge.
func (e *VoteEngine) InProgress(cmd []string) bool {
	return e.current != nil && e.current.IsCommand(cmd)
}

// CastYes implements command.VoteBridge.
func (e *VoteEngine) CastYes(user string) (string, bool) {
	return e.Cast(user, vote.Yes)
}

// Cast records a ballot and resolves the vote if decided.
func (e *VoteEngine) Cast(user string, b vote.Ballot) (string, bool) {
	if e.current == nil {
		return "No vote in progress", false
	}
	if err := e.current.Cast(user, b); err != nil {
		return err.Error(), false
	}
	e.resolve(time.Now())
	return "", true
}

// Start implements command.VoteBridge.
func (e *VoteEngine) Start(user string, src command.Source, cmd []string) (string, bool) {
	if e.current != nil {
		return "A vote is already in progress", false
	}
	voters := e.eligible(user)
	if len(voters) == 0 {
		// Nobody else may vote: execute directly.
		e.execute(cmd, user)
		return "", true
	}
	var voteSrc vote.Source
	switch src {
	case command.SourcePrivate:
		voteSrc = vote.SourcePrivate
	case command.SourceChannel:
		voteSrc = vote.SourceChannel
	case command.SourceGame:
		voteSrc = vote.SourceGame
	default:
		voteSrc = vote.SourceBattle
	}
	e.current = vote.New(user, voteSrc, cmd, voters, e.configFor(cmd), time.Now())
	e.plugins.Each(func(p Plugin) { p.OnVoteStart(user, cmd) })
	e.announce(fmt.Sprintf("%s called a vote for command \"%s\" [!vote y, !vote n, !vote b]",
		user, strings.Join(cmd, " ")))
	e.resolve(time.Now())
	return "", true
}

// CancelDirect implements command.VoteBridge: a direct execution of the
// voted command cancels the vote.
func (e *VoteEngine) CancelDirect(cmd []string, user string) {
	if e.current == nil || !e.current.IsCommand(cmd) {
		return
	}
	e.current.CancelForDirectExec(user)
	e.announce("Vote cancelled: " + e.current.CancelReason)
	e.finish(0)
}

// Cancel aborts the vote with a reason (endvote, launch preparation).
func (e *VoteEngine) Cancel(reason string) {
	if e.current == nil {
		return
	}
	e.announce("Vote cancelled: " + reason)
	e.finish(0)
}

// Tick advances the running vote.
func (e *VoteEngine) Tick(now time.Time) {
	if e.current == nil {
		return
	}
	e.resolveAt(now)
}

func (e *VoteEngine) resolve(now time.Time) { e.resolveAt(now) }

func (e *VoteEngine) resolveAt(now time.Time) {
	v := e.current
	if v == nil {
		return
	}
	outcome, ev := v.Tick(now, e.voteAway, e.autoAway)
	for _, u := range ev.Ring {
		e.ring(u)
	}
	for _, u := range ev.Notify {
		e.notify(u, "Vote in progress: "+v.Describe())
	}
	switch outcome {
	case vote.Passed:
		yes, no, blank := v.Counts()
		e.announce(fmt.Sprintf("Vote for command \"%s\" passed (y=%d n=%d b=%d)",
			strings.Join(v.Command, " "), yes, no, blank))
		cmd, initiator := v.Command, v.Initiator
		e.finish(1)
		e.execute(cmd, initiator)
	case vote.Failed:
		yes, no, blank := v.Counts()
		e.announce(fmt.Sprintf("Vote for command \"%s\" failed (y=%d n=%d b=%d)",
			strings.Join(v.Command, " "), yes, no, blank))
		e.finish(-1)
	}
}

// finish clears the vote and fires onVoteStop in plugin order.
func (e *VoteEngine) finish(result int) {
	e.current = nil
	e.plugins.Each(func(p Plugin) { p.OnVoteStop(result) })
}
