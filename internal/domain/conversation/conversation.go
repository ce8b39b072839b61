package conversation

import (
	"sort"
	"strings"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/shared/events"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusClosed:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Kind tells a product conversation apart from the standing vendor/admin support channel.
type Kind string

const (
	KindProduct Kind = "product"
	KindSupport Kind = "support"
)

const previewLength = 120

type Flags struct {
	Pinned        bool
	Muted         bool
	Priority      Priority
	AssignedAdmin string
	Tags          []string
}

// FlagsPatch carries optional flag changes; nil fields are left untouched.
type FlagsPatch struct {
	Pinned        *bool
	Muted         *bool
	Priority      *Priority
	AssignedAdmin *string
	Tags          []string
	ReplaceTags   bool
}

// AdminOnly reports whether the patch touches triage fields reserved for administrators.
func (p FlagsPatch) AdminOnly() bool {
	return p.Priority != nil || p.AssignedAdmin != nil || p.ReplaceTags
}

func (p FlagsPatch) Empty() bool {
	return p.Pinned == nil && p.Muted == nil && !p.AdminOnly()
}

type Conversation struct {
	ID                 ID
	ParticipantA       string
	ParticipantB       string
	SubjectRef         string
	Status             Status
	Flags              Flags
	LastActivityAt     time.Time
	LastMessageRef     ID
	LastMessagePreview string
	LastMessageSender  string
	Unread             map[string]int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ClosedAt           time.Time
	Version            int64
	events.EventRecorder
}

type CreateParams struct {
	ID           ID
	ParticipantA string
	ParticipantB string
	SubjectRef   string
	Now          time.Time
}

// OpenKey is the uniqueness key for non-closed conversations of a participant pair and subject.
func OpenKey(participantA, participantB, subjectRef string) string {
	return participantA + "|" + participantB + "|" + subjectRef
}

func New(params CreateParams) (*Conversation, error) {
	a := strings.TrimSpace(params.ParticipantA)
	b := strings.TrimSpace(params.ParticipantB)
	if a == "" || b == "" {
		return nil, invalidInput("both participants are required")
	}
	if a == b {
		return nil, invalidInput("participants must differ")
	}
	subject := strings.TrimSpace(params.SubjectRef)
	if subject != "" {
		parsed, err := ParseID(subject)
		if err != nil {
			return nil, err
		}
		subject = string(parsed)
	}
	id := params.ID
	if id == "" {
		id = NewID()
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	c := &Conversation{
		ID:             id,
		ParticipantA:   a,
		ParticipantB:   b,
		SubjectRef:     subject,
		Status:         StatusActive,
		Flags:          Flags{Priority: PriorityNormal},
		LastActivityAt: now,
		Unread:         map[string]int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c.Record(ConversationCreated{
		Base:         events.Base{Name: EventConversationCreated, Aggregate: string(c.ID), Time: now},
		ParticipantA: a,
		ParticipantB: b,
		SubjectRef:   subject,
	})
	return c, nil
}

func (c *Conversation) Kind() Kind {
	if c.SubjectRef == "" {
		return KindSupport
	}
	return KindProduct
}

// OpenKey returns the uniqueness key while the conversation is not closed.
func (c *Conversation) OpenKey() string {
	if c.Status == StatusClosed {
		return ""
	}
	return OpenKey(c.ParticipantA, c.ParticipantB, c.SubjectRef)
}

func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

func (c *Conversation) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.ParticipantA || userID == c.ParticipantB)
}

// Counterpart returns the other participant, or "" when userID is not a participant.
func (c *Conversation) Counterpart(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

func (c *Conversation) EnsureOpen() error {
	if c.Status == StatusClosed {
		return ErrConversationClosed
	}
	return nil
}

func (c *Conversation) UnreadFor(userID string) int {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userID]
}

// SetStatus applies a lifecycle transition. It reports false when the conversation already has the status.
func (c *Conversation) SetStatus(to Status, actorID string, now time.Time) (bool, error) {
	if !to.Valid() {
		return false, invalidInput("unknown status " + string(to))
	}
	if c.Status == StatusClosed {
		return false, ErrConversationClosed
	}
	if c.Status == to {
		return false, nil
	}
	switch {
	case c.Status == StatusActive && to == StatusResolved:
	case c.Status == StatusResolved && to == StatusActive:
	case to == StatusClosed:
	default:
		return false, ErrInvalidTransition
	}
	now = now.UTC()
	from := c.Status
	c.Status = to
	c.UpdatedAt = now
	if to == StatusClosed {
		c.ClosedAt = now
	}
	c.Record(ConversationStatusChanged{
		Base:         events.Base{Name: EventConversationStatusChanged, Aggregate: string(c.ID), Time: now},
		From:         from,
		To:           to,
		ActorID:      actorID,
		Participants: c.Participants(),
	})
	return true, nil
}

// ApplyMessage bumps the unread counter of everyone but the sender and moves the activity
// cursor to m unless a newer message already holds it.
func (c *Conversation) ApplyMessage(m *Message) {
	if !m.CreatedAt.Before(c.LastActivityAt) || c.LastMessageRef == "" {
		c.LastActivityAt = m.CreatedAt
		c.LastMessageRef = m.ID
		c.LastMessagePreview = m.Preview(previewLength)
		c.LastMessageSender = m.SenderID
	}
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	if c.Unread == nil {
		c.Unread = map[string]int{}
	}
	for _, p := range c.Participants() {
		if p != m.SenderID {
			c.Unread[p]++
		}
	}
}

// RefreshPreview keeps the summary in sync when the last message is edited or deleted.
func (c *Conversation) RefreshPreview(m *Message) bool {
	if c.LastMessageRef != m.ID {
		return false
	}
	preview := m.Preview(previewLength)
	if preview == c.LastMessagePreview {
		return false
	}
	c.LastMessagePreview = preview
	return true
}

func (c *Conversation) MarkRead(userID string, now time.Time) bool {
	if c.UnreadFor(userID) == 0 {
		return false
	}
	c.Unread[userID] = 0
	c.UpdatedAt = now.UTC()
	return true
}

func (c *Conversation) UpdateFlags(patch FlagsPatch, actorID string, now time.Time) error {
	if patch.Priority != nil && !patch.Priority.Valid() {
		return invalidInput("unknown priority " + string(*patch.Priority))
	}
	if patch.Pinned != nil {
		c.Flags.Pinned = *patch.Pinned
	}
	if patch.Muted != nil {
		c.Flags.Muted = *patch.Muted
	}
	if patch.Priority != nil {
		c.Flags.Priority = *patch.Priority
	}
	if patch.AssignedAdmin != nil {
		c.Flags.AssignedAdmin = strings.TrimSpace(*patch.AssignedAdmin)
	}
	if patch.ReplaceTags {
		c.Flags.Tags = NormalizeTags(patch.Tags)
	}
	now = now.UTC()
	c.UpdatedAt = now
	c.Record(ConversationFlagsUpdated{
		Base:          events.Base{Name: EventConversationFlagsUpdated, Aggregate: string(c.ID), Time: now},
		ActorID:       actorID,
		Pinned:        c.Flags.Pinned,
		Muted:         c.Flags.Muted,
		Priority:      c.Flags.Priority,
		AssignedAdmin: c.Flags.AssignedAdmin,
		Tags:          append([]string(nil), c.Flags.Tags...),
	})
	return nil
}

// NormalizeTags lower-cases, deduplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
