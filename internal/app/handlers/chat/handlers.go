package chat

import (
	"context"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/commands"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/queries"
	chatsvc "github.com/cedromirror/talkcart-web-sub008/internal/app/services/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

type StartConversationHandler struct {
	Service *chatsvc.Service
}

func (h *StartConversationHandler) Handle(ctx context.Context, cmd StartConversationCommand) (dto.FetchOrCreateResult, error) {
	c, isNew, err := h.Service.StartConversation(ctx, cmd.Principal, chatsvc.StartRequest{
		CustomerID: cmd.CustomerID,
		VendorID:   cmd.VendorID,
		AdminID:    cmd.AdminID,
		ProductID:  cmd.ProductID,
	})
	if err != nil {
		return dto.FetchOrCreateResult{}, err
	}
	return dto.FetchOrCreateResult{
		Conversation: dto.MapConversation(c, cmd.Principal.UserID),
		IsNew:        isNew,
	}, nil
}

type SetStatusHandler struct {
	Service *chatsvc.Service
}

func (h *SetStatusHandler) Handle(ctx context.Context, cmd SetStatusCommand) (dto.Conversation, error) {
	c, err := h.Service.SetStatus(ctx, cmd.Principal, cmd.ConversationID, cmd.Status)
	if err != nil {
		return dto.Conversation{}, err
	}
	return dto.MapConversation(c, cmd.Principal.UserID), nil
}

type MarkReadHandler struct {
	Service *chatsvc.Service
}

func (h *MarkReadHandler) Handle(ctx context.Context, cmd MarkReadCommand) (dto.ReadResult, error) {
	c, err := h.Service.MarkRead(ctx, cmd.Principal, cmd.ConversationID)
	if err != nil {
		return dto.ReadResult{}, err
	}
	return dto.ReadResult{
		ConversationID: string(c.ID),
		UnreadCount:    c.UnreadFor(cmd.Principal.UserID),
		ReadAt:         c.UpdatedAt,
	}, nil
}

type UpdateFlagsHandler struct {
	Service *chatsvc.Service
}

func (h *UpdateFlagsHandler) Handle(ctx context.Context, cmd UpdateFlagsCommand) (dto.Conversation, error) {
	c, err := h.Service.UpdateFlags(ctx, cmd.Principal, cmd.ConversationID, cmd.Patch)
	if err != nil {
		return dto.Conversation{}, err
	}
	return dto.MapConversation(c, cmd.Principal.UserID), nil
}

type SendMessageHandler struct {
	Service *chatsvc.Service
}

func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (dto.Message, error) {
	m, err := h.Service.SendMessage(ctx, cmd.Principal, chatsvc.SendRequest{
		ConversationID: cmd.ConversationID,
		Content:        cmd.Content,
		Type:           cmd.Type,
		ReplyTo:        cmd.ReplyTo,
	})
	if err != nil {
		return dto.Message{}, err
	}
	return dto.MapMessage(m), nil
}

type ReplyMessageHandler struct {
	Service *chatsvc.Service
}

func (h *ReplyMessageHandler) Handle(ctx context.Context, cmd ReplyMessageCommand) (dto.Message, error) {
	m, err := h.Service.ReplyToMessage(ctx, cmd.Principal, cmd.ConversationID, cmd.MessageID, cmd.Content)
	if err != nil {
		return dto.Message{}, err
	}
	return dto.MapMessage(m), nil
}

type EditMessageHandler struct {
	Service *chatsvc.Service
}

func (h *EditMessageHandler) Handle(ctx context.Context, cmd EditMessageCommand) (dto.Message, error) {
	m, err := h.Service.EditMessage(ctx, cmd.Principal, chatsvc.EditRequest{
		ConversationID: cmd.ConversationID,
		MessageID:      cmd.MessageID,
		Content:        cmd.Content,
	})
	if err != nil {
		return dto.Message{}, err
	}
	return dto.MapMessage(m), nil
}

type DeleteMessageHandler struct {
	Service *chatsvc.Service
}

func (h *DeleteMessageHandler) Handle(ctx context.Context, cmd DeleteMessageCommand) (dto.Message, error) {
	m, err := h.Service.DeleteMessage(ctx, cmd.Principal, cmd.ConversationID, cmd.MessageID)
	if err != nil {
		return dto.Message{}, err
	}
	return dto.MapMessage(m), nil
}

type ForwardMessageHandler struct {
	Service *chatsvc.Service
}

func (h *ForwardMessageHandler) Handle(ctx context.Context, cmd ForwardMessageCommand) (dto.ForwardResult, error) {
	outcome, err := h.Service.ForwardMessage(ctx, cmd.Principal, cmd.MessageID, cmd.TargetConversationIDs)
	if err != nil {
		return dto.ForwardResult{}, err
	}
	result := dto.ForwardResult{
		SuccessCount: outcome.SuccessCount,
		FailedCount:  outcome.FailedCount,
		Results:      make([]dto.ForwardTargetResult, 0, len(outcome.Results)),
	}
	for _, r := range outcome.Results {
		item := dto.ForwardTargetResult{ConversationID: r.ConversationID, Success: r.Err == nil}
		if r.Err != nil {
			item.Error = r.Err.Error()
			code, ok := conversation.CodeOf(r.Err)
			if !ok {
				code = "INTERNAL"
			}
			item.Code = string(code)
		} else if r.Message != nil {
			mapped := dto.MapMessage(r.Message)
			item.Message = &mapped
		}
		result.Results = append(result.Results, item)
	}
	return result, nil
}

type ReactMessageHandler struct {
	Service *chatsvc.Service
}

func (h *ReactMessageHandler) Handle(ctx context.Context, cmd ReactMessageCommand) (dto.ReactionResult, error) {
	m, added, err := h.Service.React(ctx, cmd.Principal, cmd.MessageID, cmd.Emoji)
	if err != nil {
		return dto.ReactionResult{}, err
	}
	return dto.ReactionResult{Message: dto.MapMessage(m), Added: added}, nil
}

type SendAttachmentHandler struct {
	Service *chatsvc.Service
}

func (h *SendAttachmentHandler) Handle(ctx context.Context, cmd SendAttachmentCommand) (dto.Message, error) {
	m, err := h.Service.SendAttachment(ctx, cmd.Principal, chatsvc.Attachment{
		ConversationID: cmd.ConversationID,
		FileName:       cmd.FileName,
		ContentType:    cmd.ContentType,
		Size:           cmd.Size,
		Body:           cmd.Body,
	})
	if err != nil {
		return dto.Message{}, err
	}
	return dto.MapMessage(m), nil
}

type GetConversationHandler struct {
	Service *chatsvc.Service
}

func (h *GetConversationHandler) Handle(ctx context.Context, q GetConversationQuery) (dto.Conversation, error) {
	c, err := h.Service.GetConversation(ctx, q.Principal, q.ConversationID)
	if err != nil {
		return dto.Conversation{}, err
	}
	return dto.MapConversation(c, q.Principal.UserID), nil
}

type ListConversationsHandler struct {
	Service *chatsvc.Service
}

func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) (dto.ConversationList, error) {
	page, err := h.Service.ListConversations(ctx, q.Principal, chatsvc.ListConversationsRequest{
		UserID: q.UserID,
		Status: q.Status,
		Page:   q.Page,
		Limit:  q.Limit,
	})
	if err != nil {
		return dto.ConversationList{}, err
	}
	out := dto.ConversationList{
		Conversations: make([]dto.Conversation, 0, len(page.Conversations)),
		Pagination: dto.ConversationPagination{
			Pagination:         dto.NewPagination(page.Page, page.Limit, page.Total),
			TotalConversations: page.Total,
		},
	}
	for _, c := range page.Conversations {
		out.Conversations = append(out.Conversations, dto.MapConversation(c, q.Principal.UserID))
	}
	return out, nil
}

type ListMessagesHandler struct {
	Service *chatsvc.Service
}

func (h *ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) (dto.MessageList, error) {
	page, err := h.Service.ListMessages(ctx, q.Principal, chatsvc.ListMessagesRequest{
		ConversationID: q.ConversationID,
		Page:           q.Page,
		Limit:          q.Limit,
		Before:         q.Before,
	})
	if err != nil {
		return dto.MessageList{}, err
	}
	out := dto.MessageList{
		Messages: make([]dto.Message, 0, len(page.Messages)),
		Pagination: dto.MessagePagination{
			Pagination:    dto.NewPagination(page.Page, page.Limit, page.Total),
			TotalMessages: page.Total,
		},
	}
	for _, m := range page.Messages {
		mapped := dto.MapMessage(m)
		if m.ReplyTo != "" {
			mapped.ReplyPreview = dto.MapReplyPreview(page.Replies[m.ReplyTo])
		}
		out.Messages = append(out.Messages, mapped)
	}
	return out, nil
}

// Register wires every chat handler onto the buses.
func Register(cmdBus *commands.InMemoryBus, queryBus *queries.InMemoryBus, svc *chatsvc.Service) {
	commands.RegisterHandler[StartConversationCommand, dto.FetchOrCreateResult](cmdBus, &StartConversationHandler{Service: svc})
	commands.RegisterHandler[SetStatusCommand, dto.Conversation](cmdBus, &SetStatusHandler{Service: svc})
	commands.RegisterHandler[MarkReadCommand, dto.ReadResult](cmdBus, &MarkReadHandler{Service: svc})
	commands.RegisterHandler[UpdateFlagsCommand, dto.Conversation](cmdBus, &UpdateFlagsHandler{Service: svc})
	commands.RegisterHandler[SendMessageCommand, dto.Message](cmdBus, &SendMessageHandler{Service: svc})
	commands.RegisterHandler[ReplyMessageCommand, dto.Message](cmdBus, &ReplyMessageHandler{Service: svc})
	commands.RegisterHandler[EditMessageCommand, dto.Message](cmdBus, &EditMessageHandler{Service: svc})
	commands.RegisterHandler[DeleteMessageCommand, dto.Message](cmdBus, &DeleteMessageHandler{Service: svc})
	commands.RegisterHandler[ForwardMessageCommand, dto.ForwardResult](cmdBus, &ForwardMessageHandler{Service: svc})
	commands.RegisterHandler[ReactMessageCommand, dto.ReactionResult](cmdBus, &ReactMessageHandler{Service: svc})
	commands.RegisterHandler[SendAttachmentCommand, dto.Message](cmdBus, &SendAttachmentHandler{Service: svc})

	queries.RegisterHandler[GetConversationQuery, dto.Conversation](queryBus, &GetConversationHandler{Service: svc})
	queries.RegisterHandler[ListConversationsQuery, dto.ConversationList](queryBus, &ListConversationsHandler{Service: svc})
	queries.RegisterHandler[ListMessagesQuery, dto.MessageList](queryBus, &ListMessagesHandler{Service: svc})
}

var (
	_ commands.Handler[StartConversationCommand, dto.FetchOrCreateResult] = (*StartConversationHandler)(nil)
	_ commands.Handler[SendMessageCommand, dto.Message]                   = (*SendMessageHandler)(nil)
	_ commands.Handler[ForwardMessageCommand, dto.ForwardResult]          = (*ForwardMessageHandler)(nil)
	_ queries.Handler[ListMessagesQuery, dto.MessageList]                 = (*ListMessagesHandler)(nil)
)
