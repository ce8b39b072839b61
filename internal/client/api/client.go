// Package api is the HTTP client for the chat service. Business failures come back as the
// same sentinels the server uses, so callers can match them with errors.Is.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/security"
)

var (
	// ErrAuthentication means the token is missing, expired or rejected.
	ErrAuthentication = errors.New("api: authentication failed")
	// ErrTransient covers transport failures, timeouts, rate limiting and 5xx responses.
	ErrTransient = errors.New("api: transient failure")
	// ErrNotConfigured is returned when the client has no base URL.
	ErrNotConfigured = errors.New("api: client not configured")
)

const idempotencyHeader = "Idempotency-Key"

// Error is a non-2xx response. It unwraps to a domain sentinel, ErrAuthentication or
// ErrTransient depending on the status and code.
type Error struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.kind }

// Client talks to /api/v1 on behalf of a single bearer token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Logger  *slog.Logger
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Identity returns the user id the token was issued for. The client keys its private cache
// by it; nothing is verified here.
func (c *Client) Identity() (string, error) {
	if strings.TrimSpace(c.Token) == "" {
		return "", fmt.Errorf("%w: no token", ErrAuthentication)
	}
	subject, err := security.PeekSubject(c.Token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return subject, nil
}

type StartRequest struct {
	CustomerID string `json:"customerId,omitempty"`
	VendorID   string `json:"vendorId,omitempty"`
	AdminID    string `json:"adminId,omitempty"`
	ProductID  string `json:"productId,omitempty"`
}

type ListOptions struct {
	UserID string
	Status string
	Page   int
	Limit  int
}

type MessageOptions struct {
	Page   int
	Limit  int
	Before time.Time
}

type SendRequest struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
	// IdempotencyKey travels as a header and makes a retried send return the first result.
	IdempotencyKey string `json:"-"`
}

type FlagsRequest struct {
	Pinned        *bool     `json:"pinned,omitempty"`
	Muted         *bool     `json:"muted,omitempty"`
	Priority      *string   `json:"priority,omitempty"`
	AssignedAdmin *string   `json:"assignedAdmin,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
}

func (c *Client) StartConversation(ctx context.Context, req StartRequest) (dto.FetchOrCreateResult, error) {
	var out dto.FetchOrCreateResult
	if req.ProductID != "" {
		if err := checkIDs(req.ProductID); err != nil {
			return out, err
		}
	}
	err := c.do(ctx, http.MethodPost, "/conversations", nil, req, "", &out)
	return out, err
}

func (c *Client) ListConversations(ctx context.Context, opts ListOptions) (dto.ConversationList, error) {
	q := url.Values{}
	setInt(q, "page", opts.Page)
	setInt(q, "limit", opts.Limit)
	if opts.UserID != "" {
		q.Set("userId", opts.UserID)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	var out dto.ConversationList
	err := c.do(ctx, http.MethodGet, "/conversations", q, nil, "", &out)
	return out, err
}

func (c *Client) GetConversation(ctx context.Context, id string) (dto.Conversation, error) {
	var out dto.Conversation
	if err := checkIDs(id); err != nil {
		return out, err
	}
	err := c.do(ctx, http.MethodGet, "/conversations/"+id, nil, nil, "", &out)
	return out, err
}

func (c *Client) Resolve(ctx context.Context, id string) (dto.Conversation, error) {
	return c.status(ctx, http.MethodPut, id, "/resolve")
}

func (c *Client) Reopen(ctx context.Context, id string) (dto.Conversation, error) {
	return c.status(ctx, http.MethodPut, id, "/reopen")
}

func (c *Client) Close(ctx context.Context, id string) (dto.Conversation, error) {
	return c.status(ctx, http.MethodDelete, id, "")
}

func (c *Client) status(ctx context.Context, method, id, suffix string) (dto.Conversation, error) {
	var out dto.Conversation
	if err := checkIDs(id); err != nil {
		return out, err
	}
	err := c.do(ctx, method, "/conversations/"+id+suffix, nil, nil, "", &out)
	return out, err
}

func (c *Client) UpdateFlags(ctx context.Context, id string, req FlagsRequest) (dto.Conversation, error) {
	var out dto.Conversation
	if err := checkIDs(id); err != nil {
		return out, err
	}
	err := c.do(ctx, http.MethodPatch, "/conversations/"+id, nil, req, "", &out)
	return out, err
}

func (c *Client) MarkRead(ctx context.Context, id string) (dto.ReadResult, error) {
	var out dto.ReadResult
	if err := checkIDs(id); err != nil {
		return out, err
	}
	err := c.do(ctx, http.MethodPost, "/conversations/"+id+"/read", nil, nil, "", &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, opts MessageOptions) (dto.MessageList, error) {
	var out dto.MessageList
	if err := checkIDs(conversationID); err != nil {
		return out, err
	}
	q := url.Values{}
	setInt(q, "page", opts.Page)
	setInt(q, "limit", opts.Limit)
	if !opts.Before.IsZero() {
		q.Set("before", opts.Before.UTC().Format(time.RFC3339Nano))
	}
	err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", q, nil, "", &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendRequest) (dto.Message, error) {
	var out dto.Message
	if err := checkIDs(conversationID); err != nil {
		return out, err
	}
	if req.ReplyTo != "" {
		if err := checkIDs(req.ReplyTo); err != nil {
			return out, err
		}
	}
	err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages", nil, req, req.IdempotencyKey, &out)
	return out, err
}

func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, content string) (dto.Message, error) {
	var out dto.Message
	if err := checkIDs(conversationID, messageID); err != nil {
		return out, err
	}
	body := map[string]string{"content": content}
	err := c.do(ctx, http.MethodPut, "/conversations/"+conversationID+"/messages/"+messageID, nil, body, "", &out)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) (dto.Message, error) {
	var out dto.Message
	if err := checkIDs(conversationID, messageID); err != nil {
		return out, err
	}
	err := c.do(ctx, http.MethodDelete, "/conversations/"+conversationID+"/messages/"+messageID, nil, nil, "", &out)
	return out, err
}

func (c *Client) Reply(ctx context.Context, conversationID, messageID, content, idempotencyKey string) (dto.Message, error) {
	var out dto.Message
	if err := checkIDs(conversationID, messageID); err != nil {
		return out, err
	}
	body := map[string]string{"content": content}
	err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages/"+messageID+"/reply", nil, body, idempotencyKey, &out)
	return out, err
}

func (c *Client) React(ctx context.Context, messageID, emoji string) (dto.ReactionResult, error) {
	var out dto.ReactionResult
	if err := checkIDs(messageID); err != nil {
		return out, err
	}
	err := c.do(ctx, http.MethodPost, "/messages/"+messageID+"/reactions", nil, map[string]string{"emoji": emoji}, "", &out)
	return out, err
}

// Forward reports per-target server failures inside the result. A malformed source or target
// id fails the whole call before it is sent.
func (c *Client) Forward(ctx context.Context, messageID string, targets []string, idempotencyKey string) (dto.ForwardResult, error) {
	var out dto.ForwardResult
	if err := checkIDs(append([]string{messageID}, targets...)...); err != nil {
		return out, err
	}
	body := map[string][]string{"targetConversationIds": targets}
	err := c.do(ctx, http.MethodPost, "/messages/"+messageID+"/forward", nil, body, idempotencyKey, &out)
	return out, err
}

func (c *Client) UploadAttachment(ctx context.Context, conversationID, fileName string, content io.Reader) (dto.Message, error) {
	var out dto.Message
	if err := checkIDs(conversationID); err != nil {
		return out, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return out, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return out, err
	}
	if err := mw.Close(); err != nil {
		return out, err
	}
	err = c.send(ctx, http.MethodPost, "/conversations/"+conversationID+"/attachments", nil, &buf, mw.FormDataContentType(), "", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, q, reader, contentType, idempotencyKey, out)
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType, idempotencyKey string, out any) error {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return ErrNotConfigured
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("%w: no token", ErrAuthentication)
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/api/v1" + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.logDebug("chat api request failed", method, path, err)
		// keep ctx errors visible so callers can tell cancellation from timeouts
		return fmt.Errorf("%w: %s %s: %w", ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(resp)
		c.logDebug("chat api returned error", method, path, apiErr)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logDebug(msg, method, path string, err error) {
	if c.Logger == nil {
		return
	}
	c.Logger.Debug(msg, "method", method, "path", path, "error", err)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	e := &Error{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.kind = ErrAuthentication
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		e.kind = ErrTransient
	default:
		if sentinel, ok := conversation.ErrorForCode(conversation.Code(body.Code)); ok {
			e.kind = sentinel
		} else {
			e.kind = conversation.ErrInvalidInput
		}
	}
	return e
}

func checkIDs(ids ...string) error {
	for _, id := range ids {
		if _, err := conversation.ParseID(id); err != nil {
			return err
		}
	}
	return nil
}

func setInt(q url.Values, key string, v int) {
	if v > 0 {
		q.Set(key, strconv.Itoa(v))
	}
}
