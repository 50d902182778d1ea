package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChatListKeys(t *testing.T) {
	assert.Equal(t, "chats:list:7:2:20", ChatListKey(7, 2, 20))
	assert.Equal(t, "chats:list:7:", ChatListPrefix(7))
	assert.Contains(t, ChatListKey(7, 1, 20), ChatListPrefix(7))
	assert.NotContains(t, ChatListKey(70, 1, 20), ChatListPrefix(7))
}

func TestNopCache(t *testing.T) {
	ctx := context.Background()
	var c Cache = NopCache{}

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	var out map[string]int
	hit, err := c.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.Invalidate(ctx, "k"))
	assert.NoError(t, c.DeleteByPrefix(ctx, "k"))
}

func TestNewWithoutAddrReturnsNop(t *testing.T) {
	c, closeFn := New(context.Background(), "", "", 0, zap.NewNop())
	assert.IsType(t, NopCache{}, c)
	assert.NoError(t, closeFn())
}
