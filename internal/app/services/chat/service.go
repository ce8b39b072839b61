package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/outbox"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/shared/events"
)

const (
	defaultConversationLimit = 20
	defaultMessageLimit      = 50
	maxPageLimit             = 200
	maxForwardTargets        = 20
	defaultUpdateRetries     = 3
)

var ErrServiceNotConfigured = errors.New("chat: service missing dependencies")

// Uploader stores attachment bytes and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error)
}

// Service is the only writer of conversations and messages. It enforces participation,
// ownership and lifecycle rules, and relies on the conversation store's open-key
// uniqueness for idempotent fetch-or-create.
type Service struct {
	Conversations  conversation.ConversationRepository
	Messages       conversation.MessageRepository
	Outbox         outbox.Outbox
	Encoder        outbox.EventEncoder
	Uploader       Uploader
	SupportAdminID string
	UpdateRetries  int
	Now            func() time.Time
	Logger         *slog.Logger
}

// Actor is the authenticated caller of a service operation.
type Actor = auth.Principal

func (s *Service) ensureDependencies() error {
	if s == nil || s.Conversations == nil || s.Messages == nil {
		return ErrServiceNotConfigured
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// withRetry re-runs fn while the store reports a lost optimistic update.
func (s *Service) withRetry(fn func() error) error {
	retries := s.UpdateRetries
	if retries <= 0 {
		retries = defaultUpdateRetries
	}
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = fn()
		if !errors.Is(err, conversation.ErrConcurrentUpdate) {
			return err
		}
	}
	return err
}

// publish appends events to the outbox. Writes are already durable at this point, so a
// failing outbox is logged rather than reported to the caller.
func (s *Service) publish(ctx context.Context, evs ...events.DomainEvent) {
	if s.Outbox == nil || len(evs) == 0 {
		return
	}
	if err := outbox.RecordDomainEvents(ctx, s.Outbox, s.Encoder, evs); err != nil {
		s.logError("outbox append failed", err, "events", len(evs))
	}
}

func (s *Service) logError(msg string, err error, attrs ...any) {
	if s.Logger != nil {
		s.Logger.Error(msg, append([]any{"error", err}, attrs...)...)
	}
}

func (s *Service) logInfo(msg string, attrs ...any) {
	if s.Logger != nil {
		s.Logger.Info(msg, attrs...)
	}
}

// loadConversation parses raw and loads the conversation.
func (s *Service) loadConversation(ctx context.Context, raw string) (*conversation.Conversation, error) {
	id, err := conversation.ParseID(raw)
	if err != nil {
		return nil, err
	}
	return s.Conversations.ByID(ctx, id)
}

func (s *Service) loadMessage(ctx context.Context, raw string) (*conversation.Message, error) {
	id, err := conversation.ParseID(raw)
	if err != nil {
		return nil, err
	}
	return s.Messages.ByID(ctx, id)
}

// canView allows participants and administrators.
func canView(c *conversation.Conversation, actor Actor) error {
	if c.IsParticipant(actor.UserID) || actor.IsAdmin() {
		return nil
	}
	return conversation.ErrNotParticipant
}

func normalizePage(page int) int {
	if page <= 0 {
		return 1
	}
	return page
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}
