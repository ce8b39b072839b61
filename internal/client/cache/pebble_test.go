package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/client/cache"
)

func TestPebbleStoreKeepsListsPerUser(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := cache.OpenPebble(dir)
	require.NoError(t, err)

	list := []cache.Entry{
		{ConversationID: "a", Title: "Lamp", LastActivityAt: t0.Add(time.Hour), UnreadCount: 2},
		{ConversationID: "b", LastMessagePreview: "ok", LastActivityAt: t0},
	}
	require.NoError(t, store.Save(ctx, "cust-1", list))

	other, err := store.Load(ctx, "vend-1")
	require.NoError(t, err)
	assert.Empty(t, other)
	require.NoError(t, store.Close())

	reopened, err := cache.OpenPebble(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Load(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Lamp", got[0].Title)
	assert.True(t, got[0].LastActivityAt.Equal(list[0].LastActivityAt))

	assert.ErrorIs(t, reopened.Save(ctx, "", list), cache.ErrNoUser)
}

func TestMemoryStoreCopiesLists(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	list := []cache.Entry{{ConversationID: "a"}}
	require.NoError(t, store.Save(ctx, "u", list))
	list[0].ConversationID = "mutated"

	got, err := store.Load(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].ConversationID)
}
