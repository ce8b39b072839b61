package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	chatsvc "github.com/cedromirror/talkcart-web-sub008/internal/app/services/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

// Wire codes that have no domain sentinel.
const (
	codeAuthenticationFailure = "AUTHENTICATION_FAILURE"
	codeForbidden             = string(conversation.CodeForbidden)
	codeInvalidInput          = string(conversation.CodeInvalidInput)
	codeRateLimited           = "RATE_LIMITED"
	codeInternal              = "INTERNAL"
	codeUnavailable           = "UNAVAILABLE"
)

var codeStatus = map[string]int{
	string(conversation.CodeMalformedIdentifier): http.StatusBadRequest,
	string(conversation.CodeInvalidInput):        http.StatusBadRequest,
	codeAuthenticationFailure:                    http.StatusUnauthorized,
	string(conversation.CodeNotParticipant):      http.StatusForbidden,
	string(conversation.CodeNotOwner):            http.StatusForbidden,
	string(conversation.CodeForbidden):           http.StatusForbidden,
	string(conversation.CodeTargetNotFound):      http.StatusNotFound,
	string(conversation.CodeConversationClosed):  http.StatusConflict,
	string(conversation.CodeImmutableMessage):    http.StatusConflict,
	codeRateLimited:                              http.StatusTooManyRequests,
	codeInternal:                                 http.StatusInternalServerError,
	codeUnavailable:                              http.StatusServiceUnavailable,
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func abortWithCode(c *gin.Context, code, msg string) {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Code: code})
}

// classify maps an error returned through the buses onto a wire code and message.
func classify(err error) (string, string) {
	if code, ok := conversation.CodeOf(err); ok {
		return string(code), err.Error()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, chatsvc.ErrServiceNotConfigured):
		return codeUnavailable, "service unavailable"
	case errors.Is(err, conversation.ErrConcurrentUpdate),
		errors.Is(err, conversation.ErrOpenConversationPending),
		errors.Is(err, conversation.ErrDuplicateOpenConversation):
		return codeUnavailable, "conversation is busy, retry"
	}
	return codeInternal, "internal error"
}

func respondError(c *gin.Context, logger *slog.Logger, err error, action string, attrs ...any) {
	code, msg := classify(err)
	if logger != nil {
		attrs = append([]any{"action", action, "error", err, "code", code, "request_id", c.GetString("request_id")}, attrs...)
		if code == codeInternal || code == codeUnavailable {
			logger.Error("chat request failed", attrs...)
		} else {
			logger.Debug("chat request rejected", attrs...)
		}
	}
	abortWithCode(c, code, msg)
}
