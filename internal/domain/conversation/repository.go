package conversation

import (
	"context"
	"time"
)

type ListFilter struct {
	// UserID restricts the listing to conversations the user takes part in. Empty lists everything.
	UserID string
	Status Status
	Limit  int
	Offset int
}

type MessageQuery struct {
	// Before excludes messages created at or after the instant.
	Before time.Time
	Limit  int
	Offset int
}

// ConversationRepository persists conversations. Create must fail with ErrDuplicateOpenConversation
// when a non-closed conversation with the same OpenKey already exists. Stores that reserve the key
// apart from the row may answer FindOpen with ErrOpenConversationPending in between.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation) error
	ByID(ctx context.Context, id ID) (*Conversation, error)
	FindOpen(ctx context.Context, participantA, participantB, subjectRef string) (*Conversation, error)
	// Save fails with ErrConcurrentUpdate when the stored version differs from c.Version.
	Save(ctx context.Context, c *Conversation) error
	// List orders by last activity, newest first, and returns the total match count.
	List(ctx context.Context, filter ListFilter) ([]*Conversation, int, error)
}

type MessageRepository interface {
	Append(ctx context.Context, m *Message) error
	ByID(ctx context.Context, id ID) (*Message, error)
	Save(ctx context.Context, m *Message) error
	// List returns messages newest first together with the total match count.
	List(ctx context.Context, conversationID ID, q MessageQuery) ([]*Message, int, error)
}
