package quit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/udisondev/autohost/internal/exitcode"
)

func TestIntent_MergeReducesToMinimum(t *testing.T) {
	i := New()
	i.Merge(ActionRestart, CondEmpty, exitcode.OK)
	assert.Equal(t, ActionRestart, i.Action)
	assert.Equal(t, CondEmpty, i.Condition)

	// A quit issued during a pending "restart when empty" becomes
	// "quit after this game".
	i.Merge(ActionShutdown, CondNow, exitcode.OK)
	assert.Equal(t, ActionShutdown, i.Action)
	assert.Equal(t, CondNow, i.Condition)

	// A weaker request later cannot relax the intent.
	i.Merge(ActionRestart, CondEmpty, exitcode.OK)
	assert.Equal(t, ActionShutdown, i.Action)
	assert.Equal(t, CondNow, i.Condition)
}

func TestIntent_ExitCodePreserved(t *testing.T) {
	i := New()
	i.Merge(ActionShutdown, CondNow, exitcode.Remote)
	i.Merge(ActionShutdown, CondNow, exitcode.OK)
	assert.Equal(t, exitcode.Remote, i.ExitCode)

	// The first non-success code sticks.
	i.Merge(ActionShutdown, CondNow, exitcode.Login)
	assert.Equal(t, exitcode.Remote, i.ExitCode)
}

func TestIntent_ShouldStop(t *testing.T) {
	i := New()
	assert.False(t, i.ShouldStop(RoomState{}), "no pending request")

	i.Merge(ActionShutdown, CondNow, exitcode.OK)
	assert.True(t, i.ShouldStop(RoomState{}))
	assert.False(t, i.ShouldStop(RoomState{GameRunning: true}))
	assert.False(t, i.ShouldStop(RoomState{AutohostBusy: true}))

	i = New()
	i.Merge(ActionShutdown, CondOnlySpec, exitcode.OK)
	assert.False(t, i.ShouldStop(RoomState{PlayerCount: 2}))
	assert.True(t, i.ShouldStop(RoomState{PlayerCount: 0, MemberCount: 3}))

	i = New()
	i.Merge(ActionRestart, CondEmpty, exitcode.OK)
	assert.False(t, i.ShouldStop(RoomState{MemberCount: 1}))
	assert.True(t, i.ShouldStop(RoomState{}))
}

func TestIntent_Clear(t *testing.T) {
	i := New()
	i.Merge(ActionShutdown, CondNow, exitcode.OK)
	i.Clear()
	assert.False(t, i.Pending())
}
