package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/commands"
	chathandlers "github.com/cedromirror/talkcart-web-sub008/internal/app/handlers/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/middleware"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/queries"
	chatsvc "github.com/cedromirror/talkcart-web-sub008/internal/app/services/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/api"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/config"
	ginserver "github.com/cedromirror/talkcart-web-sub008/internal/infra/http/gin"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/obs"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/security"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/storage/memory"
)

func TestMalformedIdentifierNeverReachesNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := api.New(srv.URL, "token")
	ctx := context.Background()

	_, err := c.GetConversation(ctx, "not-an-id")
	assert.ErrorIs(t, err, conversation.ErrMalformedIdentifier)
	_, err = c.ListMessages(ctx, "123", api.MessageOptions{})
	assert.ErrorIs(t, err, conversation.ErrMalformedIdentifier)
	_, err = c.EditMessage(ctx, string(conversation.NewID()), "zz", "x")
	assert.ErrorIs(t, err, conversation.ErrMalformedIdentifier)
	_, err = c.SendMessage(ctx, string(conversation.NewID()), api.SendRequest{Content: "x", ReplyTo: "nope"})
	assert.ErrorIs(t, err, conversation.ErrMalformedIdentifier)
	_, err = c.Forward(ctx, string(conversation.NewID()), []string{string(conversation.NewID()), "bad-target"}, "")
	assert.ErrorIs(t, err, conversation.ErrMalformedIdentifier)
	assert.Zero(t, hits.Load())
}

func TestMissingTokenIsAuthenticationFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := api.New(srv.URL, "").ListConversations(context.Background(), api.ListOptions{})
	assert.ErrorIs(t, err, api.ErrAuthentication)
	assert.Zero(t, hits.Load())
}

func TestErrorResponsesMapToSentinels(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad token","code":"AUTHENTICATION_FAILURE"}`, api.ErrAuthentication},
		{"not participant", http.StatusForbidden, `{"error":"nope","code":"NOT_PARTICIPANT"}`, conversation.ErrNotParticipant},
		{"not found", http.StatusNotFound, `{"error":"gone","code":"TARGET_NOT_FOUND"}`, conversation.ErrTargetNotFound},
		{"closed", http.StatusConflict, `{"error":"closed","code":"CONVERSATION_CLOSED"}`, conversation.ErrConversationClosed},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down","code":"RATE_LIMITED"}`, api.ErrTransient},
		{"unavailable", http.StatusServiceUnavailable, `{"error":"busy","code":"UNAVAILABLE"}`, api.ErrTransient},
		{"plain 502", http.StatusBadGateway, `upstream down`, api.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := api.New(srv.URL, "token").GetConversation(context.Background(), string(conversation.NewID()))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var apiErr *api.Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
		})
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := api.New(url, "token").ListConversations(context.Background(), api.ListOptions{})
	assert.ErrorIs(t, err, api.ErrTransient)
}

func TestDeadlineIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := api.New(srv.URL, "token").ListConversations(ctx, api.ListOptions{})
	assert.ErrorIs(t, err, api.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestShape(t *testing.T) {
	convID := string(conversation.NewID())
	before := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/messages"):
			assert.Equal(t, "/api/v1/conversations/"+convID+"/messages", r.URL.Path)
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			assert.Equal(t, before.Format(time.RFC3339Nano), r.URL.Query().Get("before"))
			_, _ = w.Write([]byte(`{"messages":[],"pagination":{"currentPage":2,"totalPages":2,"totalMessages":60,"hasMore":false}}`))
		case r.Method == http.MethodPost:
			assert.Equal(t, "send-1", r.Header.Get("Idempotency-Key"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hi", body["content"])
			assert.NotContains(t, body, "IdempotencyKey")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"` + string(conversation.NewID()) + `","content":"hi","type":"text"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := api.New(srv.URL+"/", "token")
	list, err := c.ListMessages(context.Background(), convID, api.MessageOptions{Page: 2, Before: before})
	require.NoError(t, err)
	assert.Equal(t, 60, list.Pagination.TotalMessages)

	msg, err := c.SendMessage(context.Background(), convID, api.SendRequest{Content: "hi", IdempotencyKey: "send-1"})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
}

func TestIdentityReadsTokenSubject(t *testing.T) {
	jwt := security.NewJWT("secret", "talkcart-test")
	token, _, err := jwt.Issue("vend-7", auth.RoleVendor)
	require.NoError(t, err)

	id, err := api.New("http://chat.test", token).Identity()
	require.NoError(t, err)
	assert.Equal(t, "vend-7", id)

	_, err = api.New("http://chat.test", "garbage").Identity()
	assert.ErrorIs(t, err, api.ErrAuthentication)
}

// The remaining tests drive the real router so both sides agree on routes and codes.

func newChatServer(t *testing.T) (*httptest.Server, *security.JWT) {
	t.Helper()
	svc := &chatsvc.Service{
		Conversations:  memory.NewConversationRepository(),
		Messages:       memory.NewMessageRepository(),
		Outbox:         memory.NewOutbox(),
		SupportAdminID: "admin-1",
		Logger:         obs.Discard(),
	}
	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chathandlers.Register(cmdBus, queryBus, svc)
	jwt := security.NewJWT("test-secret", "talkcart-test")
	handler := ginserver.ChatHandler{
		Commands: middleware.ChainCommands(cmdBus,
			middleware.Authorization(middleware.RequireActor),
			middleware.Validation(middleware.SelfValidation{}),
			middleware.Idempotency(memory.NewIdempotencyStore(time.Hour), nil),
		),
		Queries: middleware.ChainQueries(queryBus,
			middleware.QueryAuthorization(middleware.RequireActor),
			middleware.QueryValidation(middleware.SelfValidation{}),
		),
		Logger: obs.Discard(),
	}
	router := ginserver.NewRouter(
		config.Config{Env: "test"},
		obs.Middleware{Logger: obs.Discard()},
		obs.HealthHandlers{},
		ginserver.Handlers{
			Conversations:  handler,
			Messages:       handler,
			AuthMiddleware: ginserver.AuthMiddleware{Verifier: jwt, Logger: obs.Discard()}.Handle,
		},
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, jwt
}

func clientFor(t *testing.T, srv *httptest.Server, jwt *security.JWT, userID string, role auth.Role) *api.Client {
	t.Helper()
	token, _, err := jwt.Issue(userID, role)
	require.NoError(t, err)
	return api.New(srv.URL, token)
}

func TestAgainstRouterConversationFlow(t *testing.T) {
	srv, jwt := newChatServer(t)
	ctx := context.Background()
	customer := clientFor(t, srv, jwt, "cust-1", auth.RoleCustomer)
	vendor := clientFor(t, srv, jwt, "vend-1", auth.RoleVendor)
	stranger := clientFor(t, srv, jwt, "cust-2", auth.RoleCustomer)
	product := string(conversation.NewID())

	first, err := customer.StartConversation(ctx, api.StartRequest{VendorID: "vend-1", ProductID: product})
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	again, err := customer.StartConversation(ctx, api.StartRequest{VendorID: "vend-1", ProductID: product})
	require.NoError(t, err)
	assert.False(t, again.IsNew)
	assert.Equal(t, first.Conversation.ID, again.Conversation.ID)

	convID := first.Conversation.ID
	sent, err := customer.SendMessage(ctx, convID, api.SendRequest{Content: "is it in stock?", IdempotencyKey: "k1"})
	require.NoError(t, err)
	replay, err := customer.SendMessage(ctx, convID, api.SendRequest{Content: "is it in stock?", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, sent.ID, replay.ID)

	_, err = vendor.EditMessage(ctx, convID, sent.ID, "hijack")
	assert.ErrorIs(t, err, conversation.ErrNotOwner)

	_, err = stranger.ListMessages(ctx, convID, api.MessageOptions{})
	assert.ErrorIs(t, err, conversation.ErrNotParticipant)

	_, err = customer.GetConversation(ctx, string(conversation.NewID()))
	assert.ErrorIs(t, err, conversation.ErrTargetNotFound)

	list, err := vendor.ListConversations(ctx, api.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)

	_, err = vendor.Close(ctx, convID)
	require.NoError(t, err)
	_, err = customer.SendMessage(ctx, convID, api.SendRequest{Content: "hello?"})
	assert.ErrorIs(t, err, conversation.ErrConversationClosed)

	_, err = api.New(srv.URL, "forged").ListConversations(ctx, api.ListOptions{})
	assert.ErrorIs(t, err, api.ErrAuthentication)
}
