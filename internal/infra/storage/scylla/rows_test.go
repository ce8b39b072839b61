package scylla

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/config"
)

func TestNewSessionRejectsUnsafeKeyspace(t *testing.T) {
	_, err := NewSession(context.Background(), config.Config{ScyllaKeyspace: "chat; DROP"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid keyspace")
}

func TestConversationRowKeepsUnreadForBothParticipants(t *testing.T) {
	c, err := conversation.New(conversation.CreateParams{ParticipantA: "vend-1", ParticipantB: "admin-1"})
	require.NoError(t, err)
	c.Unread["admin-1"] = 2

	row := newConversationRow(c)
	assert.Equal(t, map[string]int{"vend-1": 0, "admin-1": 2}, row.Unread)
	assert.Len(t, row.values(), len(row.dest()))

	back := row.toAggregate()
	assert.Equal(t, conversation.KindSupport, back.Kind())
	assert.Equal(t, 2, back.UnreadFor("admin-1"))
}

func TestMessageRowEncodesReactions(t *testing.T) {
	m, err := conversation.NewMessage(conversation.MessageParams{
		ConversationID: conversation.NewID(),
		SenderID:       "vend-1",
		Content:        "hi",
		Now:            time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = m.ToggleReaction("admin-1", "🔥", m.CreatedAt)
	require.NoError(t, err)

	row, err := newMessageRow(m)
	require.NoError(t, err)
	assert.Len(t, row.values(), len(row.dest()))

	back, err := row.toAggregate()
	require.NoError(t, err)
	require.Len(t, back.Reactions, 1)
	assert.Equal(t, "🔥", back.Reactions[0].Emoji)
}

func TestFilterConversationsOrdersByActivityThenID(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id string, at time.Time, status conversation.Status) *conversation.Conversation {
		return &conversation.Conversation{ID: conversation.ID(id), LastActivityAt: at, Status: status}
	}
	out := filterConversations([]*conversation.Conversation{
		mk("b", base, conversation.StatusActive),
		mk("a", base, conversation.StatusActive),
		mk("c", base.Add(time.Minute), conversation.StatusActive),
		mk("d", base.Add(time.Hour), conversation.StatusClosed),
	}, conversation.StatusActive)
	require.Len(t, out, 3)
	assert.Equal(t, []conversation.ID{"c", "a", "b"}, []conversation.ID{out[0].ID, out[1].ID, out[2].ID})
	assert.Len(t, paginate(out, 1, 1), 1)
	assert.Empty(t, paginate(out, 5, 1))
}

func TestOrphanedKeyAfterGrace(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, orphanedKey(time.Time{}, now))
	assert.False(t, orphanedKey(now.Add(-time.Second), now))
	assert.False(t, orphanedKey(now.Add(-keyGrace), now))
	assert.True(t, orphanedKey(now.Add(-keyGrace-time.Second), now))
}
