package ginserver

import (
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/commands"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	chathandlers "github.com/cedromirror/talkcart-web-sub008/internal/app/handlers/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/queries"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

// MessageHTTP exposes message endpoints.
type MessageHTTP interface {
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	EditMessage(c *gin.Context)
	DeleteMessage(c *gin.Context)
	Reply(c *gin.Context)
	UploadAttachment(c *gin.Context)
	React(c *gin.Context)
	Forward(c *gin.Context)
}

// ListMessages returns one page of history in chronological order; page 1 is the newest.
func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	before, err := parseBefore(c.Query("before"))
	if err != nil {
		abortWithCode(c, codeInvalidInput, "before must be an RFC3339 timestamp")
		return
	}
	res, err := queries.Ask[chathandlers.ListMessagesQuery, dto.MessageList](c.Request.Context(), h.Queries, chathandlers.ListMessagesQuery{
		Principal:      principal,
		ConversationID: c.Param("id"),
		Page:           parsePositiveIntStrict(c.Query("page"), 1),
		Limit:          parsePositiveIntStrict(c.Query("limit"), 50),
		Before:         before,
	})
	if err != nil {
		respondError(c, h.Logger, err, "list messages", "conversation_id", c.Param("id"), "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusOK, res)
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
	ReplyTo string `json:"replyTo"`
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, codeInvalidInput, "invalid payload")
		return
	}
	res, err := commands.Dispatch[chathandlers.SendMessageCommand, dto.Message](c.Request.Context(), h.Commands, chathandlers.SendMessageCommand{
		Principal:      principal,
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Type:           conversation.MessageType(strings.ToLower(strings.TrimSpace(req.Type))),
		ReplyTo:        strings.TrimSpace(req.ReplyTo),
		RequestKey:     c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		respondError(c, h.Logger, err, "send message", "conversation_id", c.Param("id"), "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type contentRequest struct {
	Content string `json:"content"`
}

func (h ChatHandler) EditMessage(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, codeInvalidInput, "invalid payload")
		return
	}
	res, err := commands.Dispatch[chathandlers.EditMessageCommand, dto.Message](c.Request.Context(), h.Commands, chathandlers.EditMessageCommand{
		Principal:      principal,
		ConversationID: c.Param("id"),
		MessageID:      c.Param("messageId"),
		Content:        req.Content,
	})
	if err != nil {
		respondError(c, h.Logger, err, "edit message", "message_id", c.Param("messageId"), "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h ChatHandler) DeleteMessage(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	res, err := commands.Dispatch[chathandlers.DeleteMessageCommand, dto.Message](c.Request.Context(), h.Commands, chathandlers.DeleteMessageCommand{
		Principal:      principal,
		ConversationID: c.Param("id"),
		MessageID:      c.Param("messageId"),
	})
	if err != nil {
		respondError(c, h.Logger, err, "delete message", "message_id", c.Param("messageId"), "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h ChatHandler) Reply(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, codeInvalidInput, "invalid payload")
		return
	}
	res, err := commands.Dispatch[chathandlers.ReplyMessageCommand, dto.Message](c.Request.Context(), h.Commands, chathandlers.ReplyMessageCommand{
		Principal:      principal,
		ConversationID: c.Param("id"),
		MessageID:      c.Param("messageId"),
		Content:        req.Content,
		RequestKey:     c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		respondError(c, h.Logger, err, "reply", "message_id", c.Param("messageId"), "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// UploadAttachment accepts a multipart "file" field and sends it as an image or file message.
func (h ChatHandler) UploadAttachment(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		abortWithCode(c, codeInvalidInput, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, h.Logger, err, "open attachment")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	res, err := commands.Dispatch[chathandlers.SendAttachmentCommand, dto.Message](c.Request.Context(), h.Commands, chathandlers.SendAttachmentCommand{
		Principal:      principal,
		ConversationID: c.Param("id"),
		FileName:       header.Filename,
		ContentType:    contentType,
		Size:           header.Size,
		Body:           file,
	})
	if err != nil {
		respondError(c, h.Logger, err, "upload attachment", "conversation_id", c.Param("id"), "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h ChatHandler) React(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, codeInvalidInput, "invalid payload")
		return
	}
	res, err := commands.Dispatch[chathandlers.ReactMessageCommand, dto.ReactionResult](c.Request.Context(), h.Commands, chathandlers.ReactMessageCommand{
		Principal: principal,
		MessageID: c.Param("id"),
		Emoji:     req.Emoji,
	})
	if err != nil {
		respondError(c, h.Logger, err, "react", "message_id", c.Param("id"), "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusOK, res)
}

type forwardRequest struct {
	TargetConversationIDs []string `json:"targetConversationIds"`
}

// Forward reports per-target outcomes; partial failure still answers 200.
func (h ChatHandler) Forward(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, codeInvalidInput, "invalid payload")
		return
	}
	res, err := commands.Dispatch[chathandlers.ForwardMessageCommand, dto.ForwardResult](c.Request.Context(), h.Commands, chathandlers.ForwardMessageCommand{
		Principal:             principal,
		MessageID:             c.Param("id"),
		TargetConversationIDs: req.TargetConversationIDs,
		RequestKey:            c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		respondError(c, h.Logger, err, "forward", "message_id", c.Param("id"), "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusOK, res)
}

var _ MessageHTTP = (*ChatHandler)(nil)
