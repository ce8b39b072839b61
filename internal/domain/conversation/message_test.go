package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(t *testing.T, typ MessageType) *Message {
	t.Helper()
	m, err := NewMessage(MessageParams{
		ConversationID: NewID(),
		SenderID:       "customer-1",
		RecipientID:    "vendor-1",
		Content:        "Hello",
		Type:           typ,
		Now:            t0,
	})
	require.NoError(t, err)
	m.ClearEvents()
	return m
}

func TestNewMessageValidation(t *testing.T) {
	_, err := NewMessage(MessageParams{ConversationID: NewID(), SenderID: "u1", Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewMessage(MessageParams{ConversationID: NewID(), SenderID: "u1", Content: "hi", Type: "sticker"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	m, err := NewMessage(MessageParams{ConversationID: NewID(), SenderID: "u1", Content: "hi", ForwardedFrom: NewID()})
	require.NoError(t, err)
	assert.Equal(t, TypeText, m.Type)
	assert.True(t, m.IsForwarded)
}

func TestEditKeepsCreatedAt(t *testing.T) {
	m := newTestMessage(t, TypeText)

	require.NoError(t, m.Edit("customer-1", "Hello there", t0.Add(time.Minute)))

	assert.Equal(t, "Hello there", m.Content)
	assert.True(t, m.IsEdited)
	assert.Equal(t, t0, m.CreatedAt)
	assert.True(t, m.UpdatedAt.After(m.CreatedAt))
	require.Len(t, m.PendingEvents(), 1)
	assert.Equal(t, EventMessageEdited, m.PendingEvents()[0].EventName())
}

func TestEditAdvancesUpdatedAtWithFrozenClock(t *testing.T) {
	m := newTestMessage(t, TypeText)

	require.NoError(t, m.Edit("customer-1", "again", t0))

	assert.True(t, m.UpdatedAt.After(t0))
}

func TestOwnershipRules(t *testing.T) {
	cases := []struct {
		name    string
		typ     MessageType
		actor   string
		wantErr error
	}{
		{name: "owner text", typ: TypeText, actor: "customer-1"},
		{name: "owner link", typ: TypeLink, actor: "customer-1"},
		{name: "stranger", typ: TypeText, actor: "vendor-1", wantErr: ErrNotOwner},
		{name: "system by sender", typ: TypeSystem, actor: "customer-1", wantErr: ErrImmutableMessage},
		{name: "system by stranger", typ: TypeSystem, actor: "vendor-1", wantErr: ErrImmutableMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			editErr := newTestMessage(t, tc.typ).Edit(tc.actor, "changed", t0.Add(time.Second))
			_, deleteErr := newTestMessage(t, tc.typ).Delete(tc.actor, t0.Add(time.Second))
			if tc.wantErr == nil {
				assert.NoError(t, editErr)
				assert.NoError(t, deleteErr)
				return
			}
			assert.ErrorIs(t, editErr, tc.wantErr)
			assert.ErrorIs(t, deleteErr, tc.wantErr)
		})
	}
}

func TestDeleteIsSoftAndIdempotent(t *testing.T) {
	m := newTestMessage(t, TypeText)
	_, err := m.ToggleReaction("vendor-1", "👍", t0)
	require.NoError(t, err)

	changed, err := m.Delete("customer-1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, DeletedMarker, m.Content)
	assert.True(t, m.IsDeleted)
	assert.Empty(t, m.Reactions)

	changed, err = m.Delete("customer-1", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	assert.ErrorIs(t, m.Edit("customer-1", "resurrect", t0.Add(3*time.Minute)), ErrImmutableMessage)
	_, err = m.ToggleReaction("vendor-1", "👍", t0.Add(3*time.Minute))
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestToggleReaction(t *testing.T) {
	m := newTestMessage(t, TypeText)

	added, err := m.ToggleReaction("vendor-1", "👍", t0)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.ToggleReaction("customer-1", "👍", t0)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, m.Reactions, 2)

	added, err = m.ToggleReaction("vendor-1", "👍", t0)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []Reaction{{Emoji: "👍", UserID: "customer-1"}}, m.Reactions)

	_, err = m.ToggleReaction("vendor-1", " ", t0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
