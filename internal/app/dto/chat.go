package dto

import (
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

// Conversation is the wire projection of a conversation for one viewer.
type Conversation struct {
	ID                 string     `json:"id"`
	ParticipantA       string     `json:"participantA"`
	ParticipantB       string     `json:"participantB"`
	SubjectRef         *string    `json:"subjectRef"`
	Kind               string     `json:"kind"`
	Status             string     `json:"status"`
	Flags              Flags      `json:"flags"`
	LastActivityAt     time.Time  `json:"lastActivityAt"`
	LastMessageRef     *string    `json:"lastMessageRef"`
	LastMessagePreview string     `json:"lastMessagePreview"`
	LastMessageSender  string     `json:"lastMessageSender,omitempty"`
	UnreadCount        int        `json:"unreadCount"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
}

type Flags struct {
	Pinned        bool     `json:"pinned"`
	Muted         bool     `json:"muted"`
	Priority      string   `json:"priority"`
	AssignedAdmin *string  `json:"assignedAdmin"`
	Tags          []string `json:"tags"`
}

type FetchOrCreateResult struct {
	Conversation Conversation `json:"conversation"`
	IsNew        bool         `json:"isNew"`
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	HasMore     bool `json:"hasMore"`
}

type ConversationPagination struct {
	Pagination
	TotalConversations int `json:"totalConversations"`
}

type MessagePagination struct {
	Pagination
	TotalMessages int `json:"totalMessages"`
}

type ConversationList struct {
	Conversations []Conversation         `json:"conversations"`
	Pagination    ConversationPagination `json:"pagination"`
}

type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// ReplyPreview is resolved from the referenced message at read time.
type ReplyPreview struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	IsDeleted bool   `json:"isDeleted"`
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Type           string        `json:"type"`
	IsEdited       bool          `json:"isEdited"`
	IsDeleted      bool          `json:"isDeleted"`
	ReplyTo        *string       `json:"replyTo"`
	ReplyPreview   *ReplyPreview `json:"replyPreview,omitempty"`
	ForwardedFrom  *string       `json:"forwardedFrom"`
	IsForwarded    bool          `json:"isForwarded"`
	Reactions      []Reaction    `json:"reactions"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type MessageList struct {
	Messages   []Message         `json:"messages"`
	Pagination MessagePagination `json:"pagination"`
}

type ForwardTargetResult struct {
	ConversationID string   `json:"conversationId"`
	Success        bool     `json:"success"`
	Message        *Message `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	Code           string   `json:"code,omitempty"`
}

type ForwardResult struct {
	SuccessCount int                   `json:"successCount"`
	FailedCount  int                   `json:"failedCount"`
	Results      []ForwardTargetResult `json:"results"`
}

type ReactionResult struct {
	Message Message `json:"message"`
	Added   bool    `json:"added"`
}

type ReadResult struct {
	ConversationID string    `json:"conversationId"`
	UnreadCount    int       `json:"unreadCount"`
	ReadAt         time.Time `json:"readAt"`
}

// MapConversation projects c for viewer; unread counts are per viewer.
func MapConversation(c *conversation.Conversation, viewer string) Conversation {
	out := Conversation{
		ID:                 string(c.ID),
		ParticipantA:       c.ParticipantA,
		ParticipantB:       c.ParticipantB,
		SubjectRef:         optional(c.SubjectRef),
		Kind:               string(c.Kind()),
		Status:             string(c.Status),
		LastActivityAt:     c.LastActivityAt,
		LastMessageRef:     optional(string(c.LastMessageRef)),
		LastMessagePreview: c.LastMessagePreview,
		LastMessageSender:  c.LastMessageSender,
		UnreadCount:        c.UnreadFor(viewer),
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		Flags: Flags{
			Pinned:        c.Flags.Pinned,
			Muted:         c.Flags.Muted,
			Priority:      string(c.Flags.Priority),
			AssignedAdmin: optional(c.Flags.AssignedAdmin),
			Tags:          append([]string{}, c.Flags.Tags...),
		},
	}
	if !c.ClosedAt.IsZero() {
		closed := c.ClosedAt
		out.ClosedAt = &closed
	}
	return out
}

func MapMessage(m *conversation.Message) Message {
	reactions := make([]Reaction, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		reactions = append(reactions, Reaction{Emoji: r.Emoji, UserID: r.UserID})
	}
	return Message{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		ReplyTo:        optional(string(m.ReplyTo)),
		ForwardedFrom:  optional(string(m.ForwardedFrom)),
		IsForwarded:    m.IsForwarded,
		Reactions:      reactions,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func MapReplyPreview(m *conversation.Message) *ReplyPreview {
	if m == nil {
		return nil
	}
	return &ReplyPreview{
		ID:        string(m.ID),
		SenderID:  m.SenderID,
		Content:   m.Preview(80),
		IsDeleted: m.IsDeleted,
	}
}

// NewPagination derives page counters from a 1-based page, page size and total.
func NewPagination(page, limit, total int) Pagination {
	if limit <= 0 {
		limit = 1
	}
	pages := (total + limit - 1) / limit
	return Pagination{
		CurrentPage: page,
		TotalPages:  pages,
		HasMore:     page < pages,
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
