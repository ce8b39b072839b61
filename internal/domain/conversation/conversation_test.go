package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestConversation(t *testing.T) *Conversation {
	t.Helper()
	c, err := New(CreateParams{
		ParticipantA: "customer-1",
		ParticipantB: "vendor-1",
		SubjectRef:   "65f1a2b3c4d5e6f7a8b9c0d1",
		Now:          t0,
	})
	require.NoError(t, err)
	return c
}

func TestNewConversationValidatesParticipants(t *testing.T) {
	_, err := New(CreateParams{ParticipantA: "u1", ParticipantB: "u1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(CreateParams{ParticipantA: "u1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(CreateParams{ParticipantA: "u1", ParticipantB: "u2", SubjectRef: "product-1"})
	assert.ErrorIs(t, err, ErrMalformedIdentifier)
}

func TestNewConversationDefaults(t *testing.T) {
	c := newTestConversation(t)

	assert.True(t, ValidID(string(c.ID)))
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, PriorityNormal, c.Flags.Priority)
	assert.Equal(t, KindProduct, c.Kind())
	assert.Equal(t, t0, c.LastActivityAt)
	assert.Equal(t, "customer-1|vendor-1|65f1a2b3c4d5e6f7a8b9c0d1", c.OpenKey())

	evs := c.PullEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, EventConversationCreated, evs[0].EventName())
	assert.Empty(t, c.PendingEvents())

	support, err := New(CreateParams{ParticipantA: "vendor-1", ParticipantB: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, KindSupport, support.Kind())
}

func TestSetStatusTransitions(t *testing.T) {
	c := newTestConversation(t)

	changed, err := c.SetStatus(StatusResolved, "vendor-1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.SetStatus(StatusResolved, "vendor-1", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = c.SetStatus(StatusActive, "customer-1", t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = c.SetStatus(StatusClosed, "customer-1", t0.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, c.OpenKey())
	assert.Equal(t, t0.Add(4*time.Minute), c.ClosedAt)

	for _, to := range []Status{StatusActive, StatusResolved, StatusClosed} {
		_, err = c.SetStatus(to, "customer-1", t0.Add(5*time.Minute))
		assert.ErrorIs(t, err, ErrConversationClosed)
	}

	_, err = newTestConversation(t).SetStatus("archived", "customer-1", t0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestApplyMessageTracksActivityAndUnread(t *testing.T) {
	c := newTestConversation(t)
	m, err := NewMessage(MessageParams{ConversationID: c.ID, SenderID: "customer-1", Content: "Hello", Now: t0.Add(time.Minute)})
	require.NoError(t, err)

	c.ApplyMessage(m)

	assert.Equal(t, m.ID, c.LastMessageRef)
	assert.Equal(t, "Hello", c.LastMessagePreview)
	assert.Equal(t, m.CreatedAt, c.LastActivityAt)
	assert.Equal(t, 1, c.UnreadFor("vendor-1"))
	assert.Equal(t, 0, c.UnreadFor("customer-1"))

	assert.True(t, c.MarkRead("vendor-1", t0.Add(2*time.Minute)))
	assert.False(t, c.MarkRead("vendor-1", t0.Add(3*time.Minute)))
	assert.Equal(t, 0, c.UnreadFor("vendor-1"))
}

func TestUpdateFlags(t *testing.T) {
	c := newTestConversation(t)
	pinned := true
	urgent := PriorityUrgent
	admin := "admin-7"

	err := c.UpdateFlags(FlagsPatch{
		Pinned:        &pinned,
		Priority:      &urgent,
		AssignedAdmin: &admin,
		Tags:          []string{"Refund", "refund ", "shipping"},
		ReplaceTags:   true,
	}, "admin-7", t0)
	require.NoError(t, err)

	assert.True(t, c.Flags.Pinned)
	assert.Equal(t, PriorityUrgent, c.Flags.Priority)
	assert.Equal(t, "admin-7", c.Flags.AssignedAdmin)
	assert.Equal(t, []string{"refund", "shipping"}, c.Flags.Tags)

	bogus := Priority("critical")
	assert.ErrorIs(t, c.UpdateFlags(FlagsPatch{Priority: &bogus}, "admin-7", t0), ErrInvalidInput)
}

func TestCodeRoundTrip(t *testing.T) {
	for _, err := range []error{ErrNotParticipant, ErrConversationClosed, ErrNotOwner, ErrImmutableMessage, ErrMalformedIdentifier} {
		code, ok := CodeOf(err)
		require.True(t, ok)
		back, ok := ErrorForCode(code)
		require.True(t, ok)
		assert.ErrorIs(t, back, err)
	}

	code, ok := CodeOf(ErrMessageNotFound)
	require.True(t, ok)
	assert.Equal(t, CodeTargetNotFound, code)

	_, ok = CodeOf(ErrConcurrentUpdate)
	assert.False(t, ok)
}
