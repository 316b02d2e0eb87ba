package lobby

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/autohost/internal/protocol"
)

func say(msg string) protocol.Command {
	return protocol.New("SAYBATTLE").WithSentences(msg)
}

func TestSendQueue_BudgetHoldsBack(t *testing.T) {
	q := NewSendQueue(10, 64, 32)
	now := time.Now()

	q.Push(say(strings.Repeat("a", 30)), Normal) // size 40
	q.Push(say(strings.Repeat("b", 30)), Normal)

	out := q.Tick(now)
	require.Len(t, out, 1, "second message must wait for the window")
	assert.Equal(t, 1, q.Pending())

	// Still inside the window: nothing more goes out.
	out = q.Tick(now.Add(2 * time.Second))
	assert.Empty(t, out)

	// After the window expires the record is purged and the head drains.
	out = q.Tick(now.Add(11 * time.Second))
	assert.Len(t, out, 1)
	assert.Zero(t, q.Pending())
}

func TestSendQueue_OrderPreservedPerClass(t *testing.T) {
	q := NewSendQueue(10, 4096, 2048)
	q.Push(say("one"), Normal)
	q.Push(say("two"), Normal)
	q.Push(say("pm"), Low)

	out := q.Tick(time.Now())
	require.Len(t, out, 3)
	assert.Equal(t, "one", out[0].Sentences[0])
	assert.Equal(t, "two", out[1].Sentences[0])
	assert.Equal(t, "pm", out[2].Sentences[0])
}

func TestSendQueue_LowBudgetStricter(t *testing.T) {
	q := NewSendQueue(10, 4096, 20)
	q.Push(say(strings.Repeat("x", 40)), Low) // size 50 > low budget
	out := q.Tick(time.Now())
	assert.Empty(t, out)
	assert.Equal(t, 1, q.Pending())
}

func TestSendQueue_WindowNeverExceedsBudget(t *testing.T) {
	const budget = 200
	q := NewSendQueue(5, budget, 100)
	for range 200 {
		q.Push(say("flood flood flood"), Normal)
	}

	now := time.Now()
	drained := 0
	for i := range 600 {
		tick := now.Add(time.Duration(i) * 500 * time.Millisecond)
		out := q.Tick(tick)
		drained += len(out)
		assert.LessOrEqual(t, q.window(), budget, "window budget violated")
		if q.Pending() == 0 {
			break
		}
	}
	assert.Equal(t, 200, drained, "queue must drain monotonically")
}
