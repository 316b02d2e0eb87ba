package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_OnlineTable(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	s.Add(ctx, &User{Name: "Alpha", AccountID: 1})
	s.Add(ctx, &User{Name: "Beta", AccountID: 2})
	assert.Equal(t, 2, s.Count())
	assert.Equal(t, []string{"Alpha", "Beta"}, s.Names())

	u := s.Get("Alpha")
	require.NotNil(t, u)
	assert.Equal(t, 1, u.AccountID)

	s.Remove("Alpha")
	assert.Nil(t, s.Get("Alpha"))
	assert.Equal(t, 1, s.Count())
}

func TestStore_SetStatus(t *testing.T) {
	s := NewStore(nil)
	s.Add(context.Background(), &User{Name: "Alpha"})

	u := s.SetStatus("Alpha", ClientStatus{InGame: true, Rank: 4})
	require.NotNil(t, u)
	assert.True(t, u.Status.InGame)
	assert.Equal(t, 4, u.Status.Rank)

	assert.Nil(t, s.SetStatus("Ghost", ClientStatus{}))
}

func TestStore_SetIPWithoutRepo(t *testing.T) {
	s := NewStore(nil)
	s.Add(context.Background(), &User{Name: "Alpha"})
	s.SetIP(context.Background(), "Alpha", "10.0.0.1")
	assert.Equal(t, "10.0.0.1", s.Get("Alpha").IP)
}

func TestLooksLikeIP(t *testing.T) {
	assert.True(t, looksLikeIP("10.0.0"))
	assert.True(t, looksLikeIP("192.168.1.5"))
	assert.False(t, looksLikeIP("Player1"))
	assert.False(t, looksLikeIP(""))
	assert.False(t, looksLikeIP("12345"))
}
