package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/cache"
)

var t0 = time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)

func entry(id string, at time.Duration, preview string) cache.Entry {
	return cache.Entry{ConversationID: id, LastActivityAt: t0.Add(at), LastMessagePreview: preview}
}

func TestMergeServerWinsAndLocalTitleSurvives(t *testing.T) {
	local := []cache.Entry{
		{ConversationID: "a", Title: "Lamp order", LastMessagePreview: "old", LastActivityAt: t0, UnreadCount: 4},
	}
	server := []cache.Entry{
		{ConversationID: "a", LastMessagePreview: "new", LastActivityAt: t0.Add(time.Minute), UnreadCount: 1},
	}

	got := cache.Merge(local, server)
	require.Len(t, got, 1)
	assert.Equal(t, "Lamp order", got[0].Title)
	assert.Equal(t, "new", got[0].LastMessagePreview)
	assert.Equal(t, 1, got[0].UnreadCount)
	assert.Equal(t, t0.Add(time.Minute), got[0].LastActivityAt)

	server[0].Title = "Renamed"
	assert.Equal(t, "Renamed", cache.Merge(local, server)[0].Title)
}

func TestMergeKeepsUnmatchedLocalEntriesAndOrders(t *testing.T) {
	local := []cache.Entry{entry("b", 0, "b"), entry("old", -time.Hour, "old")}
	server := []cache.Entry{entry("c", time.Minute, "c"), entry("a", time.Minute, "a")}

	got := cache.Merge(local, server)
	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.ConversationID)
	}
	assert.Equal(t, []string{"a", "c", "b", "old"}, ids)
}

func TestMergeIsIdempotent(t *testing.T) {
	local := []cache.Entry{
		{ConversationID: "a", Title: "kept", LastActivityAt: t0},
		entry("z", -time.Minute, "z"),
	}
	server := []cache.Entry{entry("a", time.Hour, "hi"), entry("b", time.Hour, "yo")}

	once := cache.Merge(local, server)
	twice := cache.Merge(once, server)
	assert.Equal(t, once, twice)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	local := []cache.Entry{entry("b", 0, "b"), entry("a", time.Hour, "a")}
	cache.Merge(local, nil)
	assert.Equal(t, "b", local[0].ConversationID)
}

func TestFromConversationUsesViewer(t *testing.T) {
	c := dto.Conversation{
		ID:                 "c1",
		ParticipantA:       "cust-1",
		ParticipantB:       "vend-1",
		Kind:               "product",
		Status:             "active",
		LastMessagePreview: "hello",
		LastActivityAt:     t0,
		UnreadCount:        2,
	}
	assert.Equal(t, "vend-1", cache.FromConversation(c, "cust-1").Counterpart)
	assert.Equal(t, "cust-1", cache.FromConversation(c, "vend-1").Counterpart)
	assert.Equal(t, "cust-1", cache.FromConversation(c, "vend-1").DisplayTitle())

	c.Kind = "support"
	assert.Equal(t, "Support", cache.FromConversation(c, "vend-1").DisplayTitle())
}
