package command

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusFacade(t *testing.T) *Facade {
	t.Helper()
	f := NewFacade(nil)
	f.RegisterMethod("status", func(user string, params json.RawMessage) (any, *RPCError) {
		return map[string]string{"state": "BattleOpened"}, nil
	})
	return f
}

func TestFacade_SimpleCall(t *testing.T) {
	f := statusFacade(t)
	replies, handled := f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"2.0","method":"status","id":1}`)
	require.True(t, handled)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `"result":{"state":"BattleOpened"}`)
	assert.Contains(t, replies[0], `"id":1`)
}

func TestFacade_NotHandled(t *testing.T) {
	f := statusFacade(t)
	_, handled := f.HandleMessage("u", "hello there")
	assert.False(t, handled)
}

func TestFacade_NotificationGetsNoReply(t *testing.T) {
	f := statusFacade(t)
	replies, handled := f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"2.0","method":"status"}`)
	assert.True(t, handled)
	assert.Empty(t, replies, "no id means notification")
}

func TestFacade_ParseError(t *testing.T) {
	f := statusFacade(t)
	replies, _ := f.HandleMessage("u", `!#JSONRPC {garbage`)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `-32700`)
}

func TestFacade_InvalidRequest(t *testing.T) {
	f := statusFacade(t)

	// Extra member.
	replies, _ := f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"2.0","method":"status","id":1,"extra":true}`)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `-32600`)

	// Wrong version.
	replies, _ = f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"1.0","method":"status","id":1}`)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `-32600`)

	// Scalar params.
	replies, _ = f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"2.0","method":"status","params":5,"id":1}`)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `-32600`)
}

func TestFacade_MethodNotFound(t *testing.T) {
	f := statusFacade(t)
	replies, _ := f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"2.0","method":"nope","id":7}`)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `-32601`)
	assert.Contains(t, replies[0], `"id":7`)
}

func TestFacade_AllowHook(t *testing.T) {
	f := NewFacade(func(user, method string) *RPCError {
		return &RPCError{Code: CodeRateLimit, Message: "RATE_LIMIT_EXCEEDED"}
	})
	f.RegisterMethod("status", func(string, json.RawMessage) (any, *RPCError) { return "x", nil })

	replies, _ := f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"2.0","method":"status","id":1}`)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `RATE_LIMIT_EXCEEDED`)
	assert.Contains(t, replies[0], `"code":-1`)
}

func TestFacade_ChunkedRequest(t *testing.T) {
	f := statusFacade(t)
	full := `{"jsonrpc":"2.0","method":"status","id":42}`
	half := len(full) / 2

	replies, handled := f.HandleMessage("u", `!#JSONRPC(1/2) `+full[:half])
	assert.True(t, handled)
	assert.Empty(t, replies)

	replies, _ = f.HandleMessage("u", `!#JSONRPC(2/2) `+full[half:])
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `"id":42`)
}

func TestFacade_OutOfOrderChunksDropped(t *testing.T) {
	f := statusFacade(t)
	full := `{"jsonrpc":"2.0","method":"status","id":42}`

	replies, _ := f.HandleMessage("u", `!#JSONRPC(2/2) `+full)
	assert.Empty(t, replies, "chunk 2 without chunk 1 is dropped")

	// Mismatched totals drop the pending request.
	f.HandleMessage("u", `!#JSONRPC(1/3) abc`)
	replies, _ = f.HandleMessage("u", `!#JSONRPC(2/2) def`)
	assert.Empty(t, replies)
}

func TestFacade_LongReplyChunked(t *testing.T) {
	f := NewFacade(nil)
	f.RegisterMethod("big", func(string, json.RawMessage) (any, *RPCError) {
		return strings.Repeat("x", 2000), nil
	})

	replies, _ := f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"2.0","method":"big","id":1}`)
	require.Greater(t, len(replies), 1)
	assert.Contains(t, replies[0], "!#JSONRPC(1/")

	// Reassembling the chunks yields the original payload.
	var whole strings.Builder
	for _, r := range replies {
		_, body, ok := strings.Cut(r, ") ")
		require.True(t, ok)
		whole.WriteString(body)
	}
	assert.Contains(t, whole.String(), `"jsonrpc":"2.0"`)
}

func TestValidateID_StructuredRejected(t *testing.T) {
	f := statusFacade(t)
	replies, _ := f.HandleMessage("u", `!#JSONRPC {"jsonrpc":"2.0","method":"status","id":[1]}`)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], `-32600`)
}
