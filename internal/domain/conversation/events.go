package conversation

import "github.com/cedromirror/talkcart-web-sub008/internal/domain/shared/events"

const (
	EventConversationCreated       = "conversation.created"
	EventConversationStatusChanged = "conversation.status_changed"
	EventConversationFlagsUpdated  = "conversation.flags_updated"
	EventMessageSent               = "message.sent"
	EventMessageEdited             = "message.edited"
	EventMessageDeleted            = "message.deleted"
	EventReactionToggled           = "message.reaction_toggled"
)

type ConversationCreated struct {
	events.Base
	ParticipantA string `json:"participantA"`
	ParticipantB string `json:"participantB"`
	SubjectRef   string `json:"subjectRef,omitempty"`
}

type ConversationStatusChanged struct {
	events.Base
	From         Status   `json:"from"`
	To           Status   `json:"to"`
	ActorID      string   `json:"actorId"`
	Participants []string `json:"participants"`
}

type ConversationFlagsUpdated struct {
	events.Base
	ActorID       string   `json:"actorId"`
	Pinned        bool     `json:"pinned"`
	Muted         bool     `json:"muted"`
	Priority      Priority `json:"priority"`
	AssignedAdmin string   `json:"assignedAdmin,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

type MessageSent struct {
	events.Base
	ConversationID ID          `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	RecipientID    string      `json:"recipientId,omitempty"`
	Type           MessageType `json:"type"`
	ReplyTo        ID          `json:"replyTo,omitempty"`
	ForwardedFrom  ID          `json:"forwardedFrom,omitempty"`
	Preview        string      `json:"preview"`
}

type MessageEdited struct {
	events.Base
	ConversationID ID     `json:"conversationId"`
	EditorID       string `json:"editorId"`
}

type MessageDeleted struct {
	events.Base
	ConversationID ID     `json:"conversationId"`
	RequesterID    string `json:"requesterId"`
}

type ReactionToggled struct {
	events.Base
	ConversationID ID     `json:"conversationId"`
	UserID         string `json:"userId"`
	Emoji          string `json:"emoji"`
	Added          bool   `json:"added"`
}
