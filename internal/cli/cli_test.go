package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/cache"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/security"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	out, err := run(t, "token", "--user", "vend-1", "--role", "vendor", "--secret", "s3cret", "--issuer", "talkcart-test")
	require.NoError(t, err)

	token := strings.TrimSpace(out)
	p, err := security.NewJWT("s3cret", "talkcart-test").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "vend-1", p.UserID)
	assert.Equal(t, auth.RoleVendor, p.Role)

	_, err = run(t, "token", "--user", "x", "--role", "wizard", "--secret", "s")
	assert.Error(t, err)
}

func TestConversationsThenForget(t *testing.T) {
	id := string(conversation.NewID())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/conversations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(dto.ConversationList{
			Conversations: []dto.Conversation{{
				ID:                 id,
				ParticipantA:       "cust-1",
				ParticipantB:       "vend-1",
				Kind:               "product",
				Status:             "active",
				LastMessagePreview: "see you",
				LastActivityAt:     time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
			}},
		})
	}))
	defer srv.Close()

	token, _, err := security.NewJWT("s", "i").Issue("cust-1", auth.RoleCustomer)
	require.NoError(t, err)
	dir := t.TempDir()
	common := []string{"--api", srv.URL, "--token", token, "--cache-dir", dir}

	out, err := run(t, append(common, "conversations")...)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "vend-1")
	assert.Contains(t, out, "see you")

	out, err = run(t, append(common, "forget", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, "forgot "+id)

	store, err := cache.OpenPebble(dir)
	require.NoError(t, err)
	entries, err := store.Load(context.Background(), "cust-1")
	require.NoError(t, store.Close())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, id, e.ConversationID)
	}
}

func TestCommandsNeedToken(t *testing.T) {
	_, err := run(t, "--token", "", "--cache-dir", t.TempDir(), "conversations", "--cached")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_TOKEN")
}

func TestConversationsRetryAfterRejectedToken(t *testing.T) {
	id := string(conversation.NewID())
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"AUTHENTICATION_FAILURE","error":"token expired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(dto.ConversationList{
			Conversations: []dto.Conversation{{
				ID:             id,
				ParticipantA:   "cust-1",
				ParticipantB:   "vend-1",
				Kind:           "product",
				Status:         "active",
				LastActivityAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
			}},
		})
	}))
	defer srv.Close()

	token, _, err := security.NewJWT("s", "i").Issue("cust-1", auth.RoleCustomer)
	require.NoError(t, err)
	common := []string{"--api", srv.URL, "--token", token, "--cache-dir", t.TempDir()}

	_, err = run(t, append(common, "conversations")...)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	out, err := run(t, append(common, "conversations", "--retry")...)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Equal(t, int32(2), calls.Load())
}
