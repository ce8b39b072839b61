package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/commands"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	chathandlers "github.com/cedromirror/talkcart-web-sub008/internal/app/handlers/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/queries"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

const idempotencyHeader = "Idempotency-Key"

// ConversationHTTP exposes conversation endpoints.
type ConversationHTTP interface {
	Start(c *gin.Context)
	List(c *gin.Context)
	Get(c *gin.Context)
	Resolve(c *gin.Context)
	Reopen(c *gin.Context)
	Close(c *gin.Context)
	UpdateFlags(c *gin.Context)
	MarkRead(c *gin.Context)
}

// ChatHandler bridges HTTP with the chat command and query buses.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type startConversationRequest struct {
	CustomerID string `json:"customerId"`
	VendorID   string `json:"vendorId"`
	AdminID    string `json:"adminId"`
	ProductID  string `json:"productId"`
}

// Start fetches or creates the conversation described by the caller's role specific body.
func (h ChatHandler) Start(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithCode(c, codeInvalidInput, "invalid payload")
		return
	}
	res, err := commands.Dispatch[chathandlers.StartConversationCommand, dto.FetchOrCreateResult](c.Request.Context(), h.Commands, chathandlers.StartConversationCommand{
		Principal:  principal,
		CustomerID: req.CustomerID,
		VendorID:   req.VendorID,
		AdminID:    req.AdminID,
		ProductID:  req.ProductID,
	})
	if err != nil {
		respondError(c, h.Logger, err, "start conversation", "user_id", principal.UserID)
		return
	}
	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// List returns the caller's conversations; administrators may pass userId or list everything.
func (h ChatHandler) List(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	res, err := queries.Ask[chathandlers.ListConversationsQuery, dto.ConversationList](c.Request.Context(), h.Queries, chathandlers.ListConversationsQuery{
		Principal: principal,
		UserID:    strings.TrimSpace(c.Query("userId")),
		Status:    conversation.Status(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		Page:      parsePositiveIntStrict(c.Query("page"), 1),
		Limit:     parsePositiveIntStrict(c.Query("limit"), 20),
	})
	if err != nil {
		respondError(c, h.Logger, err, "list conversations", "user_id", principal.UserID)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h ChatHandler) Get(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	res, err := queries.Ask[chathandlers.GetConversationQuery, dto.Conversation](c.Request.Context(), h.Queries, chathandlers.GetConversationQuery{
		Principal:      principal,
		ConversationID: c.Param("id"),
	})
	if err != nil {
		respondError(c, h.Logger, err, "get conversation", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h ChatHandler) Resolve(c *gin.Context) {
	h.setStatus(c, conversation.StatusResolved)
}

func (h ChatHandler) Reopen(c *gin.Context) {
	h.setStatus(c, conversation.StatusActive)
}

// Close never removes the conversation; it moves it to the terminal closed status.
func (h ChatHandler) Close(c *gin.Context) {
	h.setStatus(c, conversation.StatusClosed)
}

func (h ChatHandler) setStatus(c *gin.Context, to conversation.Status) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	res, err := commands.Dispatch[chathandlers.SetStatusCommand, dto.Conversation](c.Request.Context(), h.Commands, chathandlers.SetStatusCommand{
		Principal:      principal,
		ConversationID: c.Param("id"),
		Status:         to,
	})
	if err != nil {
		respondError(c, h.Logger, err, "set status", "conversation_id", c.Param("id"), "status", to)
		return
	}
	c.JSON(http.StatusOK, res)
}

type updateFlagsRequest struct {
	Pinned        *bool     `json:"pinned"`
	Muted         *bool     `json:"muted"`
	Priority      *string   `json:"priority"`
	AssignedAdmin *string   `json:"assignedAdmin"`
	Tags          *[]string `json:"tags"`
}

func (r updateFlagsRequest) patch() conversation.FlagsPatch {
	patch := conversation.FlagsPatch{
		Pinned:        r.Pinned,
		Muted:         r.Muted,
		AssignedAdmin: r.AssignedAdmin,
	}
	if r.Priority != nil {
		p := conversation.Priority(strings.ToLower(strings.TrimSpace(*r.Priority)))
		patch.Priority = &p
	}
	if r.Tags != nil {
		patch.Tags = *r.Tags
		patch.ReplaceTags = true
	}
	return patch
}

func (h ChatHandler) UpdateFlags(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req updateFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, codeInvalidInput, "invalid payload")
		return
	}
	res, err := commands.Dispatch[chathandlers.UpdateFlagsCommand, dto.Conversation](c.Request.Context(), h.Commands, chathandlers.UpdateFlagsCommand{
		Principal:      principal,
		ConversationID: c.Param("id"),
		Patch:          req.patch(),
	})
	if err != nil {
		respondError(c, h.Logger, err, "update flags", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	res, err := commands.Dispatch[chathandlers.MarkReadCommand, dto.ReadResult](c.Request.Context(), h.Commands, chathandlers.MarkReadCommand{
		Principal:      principal,
		ConversationID: c.Param("id"),
	})
	if err != nil {
		respondError(c, h.Logger, err, "mark read", "conversation_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, res)
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

func parseBefore(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

var _ ConversationHTTP = (*ChatHandler)(nil)
