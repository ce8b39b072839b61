package chat

import (
	"io"
	"strings"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

const (
	startConversationKey = "chat.conversation.start"
	setStatusKey         = "chat.conversation.status"
	markReadKey          = "chat.conversation.read"
	updateFlagsKey       = "chat.conversation.flags"
	sendMessageKey       = "chat.message.send"
	replyMessageKey      = "chat.message.reply"
	editMessageKey       = "chat.message.edit"
	deleteMessageKey     = "chat.message.delete"
	forwardMessageKey    = "chat.message.forward"
	reactMessageKey      = "chat.message.react"
	sendAttachmentKey    = "chat.message.attachment"
)

// scopedKey namespaces client supplied idempotency keys per command, user and target, so a key
// reused on another conversation is a new request.
func scopedKey(command, actor, target, requestKey string) string {
	requestKey = strings.TrimSpace(requestKey)
	if requestKey == "" || actor == "" {
		return ""
	}
	return command + ":" + actor + ":" + target + ":" + requestKey
}

func checkID(raw string) error {
	_, err := conversation.ParseID(raw)
	return err
}

type StartConversationCommand struct {
	Principal  auth.Principal
	CustomerID string
	VendorID   string
	AdminID    string
	ProductID  string
}

func (StartConversationCommand) Key() string     { return startConversationKey }
func (c StartConversationCommand) Actor() string { return c.Principal.UserID }

func (c StartConversationCommand) Validate() error {
	if strings.TrimSpace(c.ProductID) != "" {
		return checkID(c.ProductID)
	}
	return nil
}

type SetStatusCommand struct {
	Principal      auth.Principal
	ConversationID string
	Status         conversation.Status
}

func (SetStatusCommand) Key() string     { return setStatusKey }
func (c SetStatusCommand) Actor() string { return c.Principal.UserID }

func (c SetStatusCommand) Validate() error {
	return checkID(c.ConversationID)
}

type MarkReadCommand struct {
	Principal      auth.Principal
	ConversationID string
}

func (MarkReadCommand) Key() string     { return markReadKey }
func (c MarkReadCommand) Actor() string { return c.Principal.UserID }

func (c MarkReadCommand) Validate() error {
	return checkID(c.ConversationID)
}

type UpdateFlagsCommand struct {
	Principal      auth.Principal
	ConversationID string
	Patch          conversation.FlagsPatch
}

func (UpdateFlagsCommand) Key() string     { return updateFlagsKey }
func (c UpdateFlagsCommand) Actor() string { return c.Principal.UserID }

func (c UpdateFlagsCommand) Validate() error {
	return checkID(c.ConversationID)
}

type SendMessageCommand struct {
	Principal      auth.Principal
	ConversationID string
	Content        string
	Type           conversation.MessageType
	ReplyTo        string
	RequestKey     string
}

func (SendMessageCommand) Key() string     { return sendMessageKey }
func (c SendMessageCommand) Actor() string { return c.Principal.UserID }

func (c SendMessageCommand) Validate() error {
	if err := checkID(c.ConversationID); err != nil {
		return err
	}
	if c.ReplyTo != "" {
		return checkID(c.ReplyTo)
	}
	return nil
}

func (c SendMessageCommand) IdempotencyKey() string {
	return scopedKey(sendMessageKey, c.Principal.UserID, c.ConversationID, c.RequestKey)
}

func (SendMessageCommand) ResultPrototype() any { return &dto.Message{} }

type ReplyMessageCommand struct {
	Principal      auth.Principal
	ConversationID string
	MessageID      string
	Content        string
	RequestKey     string
}

func (ReplyMessageCommand) Key() string     { return replyMessageKey }
func (c ReplyMessageCommand) Actor() string { return c.Principal.UserID }

func (c ReplyMessageCommand) Validate() error {
	if err := checkID(c.ConversationID); err != nil {
		return err
	}
	return checkID(c.MessageID)
}

func (c ReplyMessageCommand) IdempotencyKey() string {
	return scopedKey(replyMessageKey, c.Principal.UserID, c.ConversationID, c.RequestKey)
}

func (ReplyMessageCommand) ResultPrototype() any { return &dto.Message{} }

type EditMessageCommand struct {
	Principal      auth.Principal
	ConversationID string
	MessageID      string
	Content        string
}

func (EditMessageCommand) Key() string     { return editMessageKey }
func (c EditMessageCommand) Actor() string { return c.Principal.UserID }

func (c EditMessageCommand) Validate() error {
	if err := checkID(c.ConversationID); err != nil {
		return err
	}
	return checkID(c.MessageID)
}

type DeleteMessageCommand struct {
	Principal      auth.Principal
	ConversationID string
	MessageID      string
}

func (DeleteMessageCommand) Key() string     { return deleteMessageKey }
func (c DeleteMessageCommand) Actor() string { return c.Principal.UserID }

func (c DeleteMessageCommand) Validate() error {
	if err := checkID(c.ConversationID); err != nil {
		return err
	}
	return checkID(c.MessageID)
}

type ForwardMessageCommand struct {
	Principal             auth.Principal
	MessageID             string
	TargetConversationIDs []string
	RequestKey            string
}

func (ForwardMessageCommand) Key() string     { return forwardMessageKey }
func (c ForwardMessageCommand) Actor() string { return c.Principal.UserID }

// Validate only checks the source; malformed targets are reported per target.
func (c ForwardMessageCommand) Validate() error {
	return checkID(c.MessageID)
}

func (c ForwardMessageCommand) IdempotencyKey() string {
	return scopedKey(forwardMessageKey, c.Principal.UserID, c.MessageID, c.RequestKey)
}

func (ForwardMessageCommand) ResultPrototype() any { return &dto.ForwardResult{} }

type ReactMessageCommand struct {
	Principal auth.Principal
	MessageID string
	Emoji     string
}

func (ReactMessageCommand) Key() string     { return reactMessageKey }
func (c ReactMessageCommand) Actor() string { return c.Principal.UserID }

func (c ReactMessageCommand) Validate() error {
	return checkID(c.MessageID)
}

type SendAttachmentCommand struct {
	Principal      auth.Principal
	ConversationID string
	FileName       string
	ContentType    string
	Size           int64
	Body           io.Reader
}

func (SendAttachmentCommand) Key() string     { return sendAttachmentKey }
func (c SendAttachmentCommand) Actor() string { return c.Principal.UserID }

func (c SendAttachmentCommand) Validate() error {
	return checkID(c.ConversationID)
}
