package chat

import (
	"fmt"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/queries"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

const (
	getConversationKey   = "chat.conversation.get"
	listConversationsKey = "chat.conversation.list"
	listMessagesKey      = "chat.message.list"
)

type GetConversationQuery struct {
	Principal      auth.Principal
	ConversationID string
}

func (GetConversationQuery) Key() string     { return getConversationKey }
func (q GetConversationQuery) Actor() string { return q.Principal.UserID }

func (q GetConversationQuery) Validate() error {
	return checkID(q.ConversationID)
}

type ListConversationsQuery struct {
	Principal auth.Principal
	UserID    string
	Status    conversation.Status
	Page      int
	Limit     int
}

func (ListConversationsQuery) Key() string     { return listConversationsKey }
func (q ListConversationsQuery) Actor() string { return q.Principal.UserID }

func (q ListConversationsQuery) Validate() error {
	return checkWindow(q.Page, q.Limit)
}

type ListMessagesQuery struct {
	Principal      auth.Principal
	ConversationID string
	Page           int
	Limit          int
	Before         time.Time
}

func (ListMessagesQuery) Key() string     { return listMessagesKey }
func (q ListMessagesQuery) Actor() string { return q.Principal.UserID }

func (q ListMessagesQuery) Validate() error {
	if err := checkID(q.ConversationID); err != nil {
		return err
	}
	return checkWindow(q.Page, q.Limit)
}

func checkWindow(page, limit int) error {
	if err := queries.CheckWindow(page, limit); err != nil {
		return fmt.Errorf("%w: %w", conversation.ErrInvalidInput, err)
	}
	return nil
}
