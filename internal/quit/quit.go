// Package quit reduces pending shutdown/restart requests and decides when
// the main loop may actually exit.
package quit

import (
	"github.com/udisondev/autohost/internal/exitcode"
)

// Action orders shutdown before restart: the smaller value wins a merge.
type Action int

const (
	ActionNone Action = iota
	ActionShutdown
	ActionRestart
)

var actionNames = [...]string{"none", "shutdown", "restart"}

func (a Action) String() string { return actionNames[a] }

// Condition orders the wait conditions: the earlier condition wins a
// merge, so a plain quit trumps a quit-when-only-spec trumps
// quit-when-empty.
type Condition int

const (
	CondNone     Condition = iota
	CondNow                // after the current game, if any
	CondOnlySpec           // once no player remains
	CondEmpty              // once the battle is empty
)

var condNames = [...]string{"none", "now", "onlySpec", "empty"}

func (c Condition) String() string { return condNames[c] }

// Intent is the reduced pending quit/restart request.
type Intent struct {
	Action    Action
	Condition Condition
	ExitCode  int
}

// New returns an empty intent with a success exit code.
func New() *Intent {
	return &Intent{ExitCode: exitcode.OK}
}

// Pending reports whether any request is queued.
func (i *Intent) Pending() bool { return i.Action != ActionNone }

// Merge folds a new request into the intent: actions and conditions
// reduce to their minimum, and a non-success exit code, once set, is
// preserved.
func (i *Intent) Merge(a Action, c Condition, exitCode int) {
	if i.Action == ActionNone || a < i.Action {
		i.Action = a
	}
	if i.Condition == CondNone || c < i.Condition {
		i.Condition = c
	}
	if i.ExitCode == exitcode.OK && exitCode != exitcode.OK {
		i.ExitCode = exitCode
	}
}

// Clear resets the intent (rehost resolved differently).
func (i *Intent) Clear() {
	i.Action = ActionNone
	i.Condition = CondNone
}

// RoomState is the snapshot the condition evaluation needs.
type RoomState struct {
	GameRunning  bool
	AutohostBusy bool // blocking I/O in flight: archive load, plugin shutdown delay, engine auto-management
	PlayerCount  int
	MemberCount  int
}

// ShouldStop decides whether the intent condition holds right now. A
// running game or in-flight blocking work always defers.
func (i *Intent) ShouldStop(st RoomState) bool {
	if !i.Pending() || st.GameRunning || st.AutohostBusy {
		return false
	}
	switch i.Condition {
	case CondNow:
		return true
	case CondOnlySpec:
		return st.PlayerCount == 0
	case CondEmpty:
		return st.MemberCount == 0
	default:
		return false
	}
}
