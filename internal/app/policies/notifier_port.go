package policies

import "context"

// Notification templates emitted by the chat event consumer.
const (
	TemplateNewMessage          = "chat.new_message"
	TemplateConversationStarted = "chat.conversation_started"
	TemplateConversationStatus  = "chat.conversation_status"
)

// Notifier delivers a rendered template to one user over whatever transport backs it.
type Notifier interface {
	Send(ctx context.Context, to string, template string, data any) error
}
