package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

func TestConversationDocumentDropsOpenKeyWhenClosed(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := conversation.New(conversation.CreateParams{
		ParticipantA: "cust-1",
		ParticipantB: "vend-1",
		SubjectRef:   string(conversation.NewID()),
		Now:          now,
	})
	require.NoError(t, err)
	c.Unread["vend-1"] = 3

	doc := newConversationDocument(c)
	assert.Equal(t, conversation.OpenKey("cust-1", "vend-1", c.SubjectRef), doc.OpenKey)
	assert.Zero(t, doc.ClosedAt)

	back := doc.toAggregate()
	assert.Equal(t, 3, back.UnreadFor("vend-1"))
	assert.Equal(t, 0, back.UnreadFor("cust-1"))
	assert.True(t, back.LastActivityAt.Equal(now))
	assert.True(t, back.ClosedAt.IsZero())

	_, err = c.SetStatus(conversation.StatusClosed, "vend-1", now.Add(time.Minute))
	require.NoError(t, err)
	doc = newConversationDocument(c)
	assert.Empty(t, doc.OpenKey)
	assert.Equal(t, now.Add(time.Minute).UnixMilli(), doc.ClosedAt)
}

func TestMessageDocumentKeepsReactionsAndReferences(t *testing.T) {
	convID := conversation.NewID()
	reply := conversation.NewID()
	m, err := conversation.NewMessage(conversation.MessageParams{
		ConversationID: convID,
		SenderID:       "cust-1",
		RecipientID:    "vend-1",
		Content:        "is this still available?",
		ReplyTo:        reply,
		Now:            time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = m.ToggleReaction("vend-1", "👍", m.CreatedAt)
	require.NoError(t, err)

	back := newMessageDocument(m).toAggregate()
	assert.Equal(t, reply, back.ReplyTo)
	assert.Equal(t, convID, back.ConversationID)
	require.Len(t, back.Reactions, 1)
	assert.Equal(t, "vend-1", back.Reactions[0].UserID)
	assert.Empty(t, back.ForwardedFrom)
}
