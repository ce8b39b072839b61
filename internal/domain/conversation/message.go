package conversation

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/shared/events"
)

// DeletedMarker replaces the content of soft-deleted messages.
const DeletedMarker = "This message was deleted"

const maxContentLength = 4000

type MessageType string

const (
	TypeText       MessageType = "text"
	TypeSystem     MessageType = "system"
	TypeSuggestion MessageType = "suggestion"
	TypeImage      MessageType = "image"
	TypeFile       MessageType = "file"
	TypeLink       MessageType = "link"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeSystem, TypeSuggestion, TypeImage, TypeFile, TypeLink:
		return true
	}
	return false
}

type Reaction struct {
	Emoji  string
	UserID string
}

type Message struct {
	ID             ID
	ConversationID ID
	SenderID       string
	Content        string
	Type           MessageType
	IsEdited       bool
	IsDeleted      bool
	ReplyTo        ID
	ForwardedFrom  ID
	IsForwarded    bool
	Reactions      []Reaction
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
	events.EventRecorder
}

type MessageParams struct {
	ID             ID
	ConversationID ID
	SenderID       string
	RecipientID    string
	Content        string
	Type           MessageType
	ReplyTo        ID
	ForwardedFrom  ID
	Now            time.Time
}

func NewMessage(params MessageParams) (*Message, error) {
	if params.ConversationID == "" {
		return nil, invalidInput("conversation is required")
	}
	sender := strings.TrimSpace(params.SenderID)
	if sender == "" {
		return nil, invalidInput("sender is required")
	}
	typ := params.Type
	if typ == "" {
		typ = TypeText
	}
	if !typ.Valid() {
		return nil, invalidInput("unknown message type " + string(typ))
	}
	content, err := normalizeContent(params.Content)
	if err != nil {
		return nil, err
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
	m := &Message{
		ID:             id,
		ConversationID: params.ConversationID,
		SenderID:       sender,
		Content:        content,
		Type:           typ,
		ReplyTo:        params.ReplyTo,
		ForwardedFrom:  params.ForwardedFrom,
		IsForwarded:    params.ForwardedFrom != "",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.Record(MessageSent{
		Base:           events.Base{Name: EventMessageSent, Aggregate: string(m.ID), Time: now},
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    params.RecipientID,
		Type:           m.Type,
		ReplyTo:        m.ReplyTo,
		ForwardedFrom:  m.ForwardedFrom,
		Preview:        m.Preview(previewLength),
	})
	return m, nil
}

func normalizeContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", invalidInput("content is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", invalidInput("content is too long")
	}
	return content, nil
}

// CheckMutableBy reports whether userID may edit or delete the message.
func (m *Message) CheckMutableBy(userID string) error {
	if m.Type == TypeSystem {
		return ErrImmutableMessage
	}
	if m.SenderID != userID {
		return ErrNotOwner
	}
	return nil
}

// Edit replaces the content. Deleted messages cannot be edited.
func (m *Message) Edit(editorID, content string, now time.Time) error {
	if err := m.CheckMutableBy(editorID); err != nil {
		return err
	}
	if m.IsDeleted {
		return ErrImmutableMessage
	}
	normalized, err := normalizeContent(content)
	if err != nil {
		return err
	}
	m.Content = normalized
	m.IsEdited = true
	m.UpdatedAt = advance(m.UpdatedAt, now)
	m.Record(MessageEdited{
		Base:           events.Base{Name: EventMessageEdited, Aggregate: string(m.ID), Time: m.UpdatedAt},
		ConversationID: m.ConversationID,
		EditorID:       editorID,
	})
	return nil
}

// Delete soft-deletes the message. It reports false when the message was already deleted.
func (m *Message) Delete(requesterID string, now time.Time) (bool, error) {
	if err := m.CheckMutableBy(requesterID); err != nil {
		return false, err
	}
	if m.IsDeleted {
		return false, nil
	}
	m.Content = DeletedMarker
	m.IsDeleted = true
	m.Reactions = nil
	m.UpdatedAt = advance(m.UpdatedAt, now)
	m.Record(MessageDeleted{
		Base:           events.Base{Name: EventMessageDeleted, Aggregate: string(m.ID), Time: m.UpdatedAt},
		ConversationID: m.ConversationID,
		RequesterID:    requesterID,
	})
	return true, nil
}

// ToggleReaction adds or removes the (emoji, user) pair and reports whether it is now present.
func (m *Message) ToggleReaction(userID, emoji string, now time.Time) (bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > 16 {
		return false, invalidInput("emoji is required")
	}
	if m.IsDeleted {
		return false, ErrMessageNotFound
	}
	added := true
	kept := m.Reactions[:0:0]
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			added = false
			continue
		}
		kept = append(kept, r)
	}
	if added {
		kept = append(kept, Reaction{Emoji: emoji, UserID: userID})
	}
	m.Reactions = kept
	m.UpdatedAt = advance(m.UpdatedAt, now)
	m.Record(ReactionToggled{
		Base:           events.Base{Name: EventReactionToggled, Aggregate: string(m.ID), Time: m.UpdatedAt},
		ConversationID: m.ConversationID,
		UserID:         userID,
		Emoji:          emoji,
		Added:          added,
	})
	return added, nil
}

// Preview returns at most max runes of the displayed content.
func (m *Message) Preview(max int) string {
	runes := []rune(m.Content)
	if max <= 0 || len(runes) <= max {
		return m.Content
	}
	return string(runes[:max])
}

// advance keeps updatedAt strictly increasing even when the clock does not move between calls.
func advance(prev, now time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}
