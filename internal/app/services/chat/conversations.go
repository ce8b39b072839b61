package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

const (
	maxFetchOrCreateAttempts = 6
	pendingBackoff           = 25 * time.Millisecond
)

// StartRequest carries the role-specific identifiers of POST /conversations.
type StartRequest struct {
	CustomerID string
	VendorID   string
	AdminID    string
	ProductID  string
}

// Pair is an ordered participant pair: customer/vendor or vendor/admin.
type Pair struct {
	A string
	B string
}

// ResolvePair orders the participants of the channel the actor asks for.
func (s *Service) ResolvePair(actor Actor, req StartRequest) (Pair, string, error) {
	product := strings.TrimSpace(req.ProductID)
	switch actor.Role {
	case auth.RoleCustomer:
		vendor := strings.TrimSpace(req.VendorID)
		if vendor == "" || product == "" {
			return Pair{}, "", invalid("vendorId and productId are required")
		}
		return Pair{A: actor.UserID, B: vendor}, product, nil
	case auth.RoleVendor:
		if customer := strings.TrimSpace(req.CustomerID); customer != "" {
			if product == "" {
				return Pair{}, "", invalid("productId is required")
			}
			return Pair{A: customer, B: actor.UserID}, product, nil
		}
		admin := strings.TrimSpace(req.AdminID)
		if admin == "" {
			admin = s.SupportAdminID
		}
		if admin == "" {
			return Pair{}, "", invalid("no support admin configured")
		}
		return Pair{A: actor.UserID, B: admin}, "", nil
	case auth.RoleAdmin:
		vendor := strings.TrimSpace(req.VendorID)
		if vendor == "" {
			return Pair{}, "", invalid("vendorId is required")
		}
		return Pair{A: vendor, B: actor.UserID}, "", nil
	}
	return Pair{}, "", conversation.ErrForbidden
}

// StartConversation resolves the channel for the actor and fetches or creates it.
func (s *Service) StartConversation(ctx context.Context, actor Actor, req StartRequest) (*conversation.Conversation, bool, error) {
	pair, subject, err := s.ResolvePair(actor, req)
	if err != nil {
		return nil, false, err
	}
	return s.FetchOrCreateConversation(ctx, pair, subject)
}

// FetchOrCreateConversation returns the open conversation of the tuple, creating it when none exists.
// Concurrent callers race on the store's open-key uniqueness; losers re-read the winner.
func (s *Service) FetchOrCreateConversation(ctx context.Context, pair Pair, subjectRef string) (*conversation.Conversation, bool, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, false, err
	}
	var lastErr error
	wait := pendingBackoff
	for attempt := 0; attempt < maxFetchOrCreateAttempts; attempt++ {
		candidate, err := conversation.New(conversation.CreateParams{
			ParticipantA: pair.A,
			ParticipantB: pair.B,
			SubjectRef:   subjectRef,
			Now:          s.now(),
		})
		if err != nil {
			return nil, false, err
		}
		existing, err := s.Conversations.FindOpen(ctx, candidate.ParticipantA, candidate.ParticipantB, candidate.SubjectRef)
		if err == nil {
			return existing, false, nil
		}
		if errors.Is(err, conversation.ErrOpenConversationPending) {
			// the winner holds the key but has not written the row yet
			lastErr = err
			if err := pause(ctx, wait); err != nil {
				return nil, false, err
			}
			wait *= 2
			continue
		}
		if !errors.Is(err, conversation.ErrTargetNotFound) {
			return nil, false, err
		}
		err = s.Conversations.Create(ctx, candidate)
		if err == nil {
			s.publish(ctx, candidate.PullEvents()...)
			s.logInfo("conversation created", "conversation_id", candidate.ID, "kind", candidate.Kind())
			return candidate, true, nil
		}
		if !errors.Is(err, conversation.ErrDuplicateOpenConversation) {
			return nil, false, err
		}
		lastErr = err
	}
	return nil, false, lastErr
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) GetConversation(ctx context.Context, actor Actor, conversationID string) (*conversation.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := canView(c, actor); err != nil {
		return nil, err
	}
	return c, nil
}

type ListConversationsRequest struct {
	UserID string
	Status conversation.Status
	Page   int
	Limit  int
}

type ConversationPage struct {
	Conversations []*conversation.Conversation
	Page          int
	Limit         int
	Total         int
}

// ListConversations lists the actor's conversations. Administrators may list everything or
// narrow the listing to one user.
func (s *Service) ListConversations(ctx context.Context, actor Actor, req ListConversationsRequest) (ConversationPage, error) {
	if err := s.ensureDependencies(); err != nil {
		return ConversationPage{}, err
	}
	if req.Status != "" && !req.Status.Valid() {
		return ConversationPage{}, invalid("unknown status " + string(req.Status))
	}
	page := normalizePage(req.Page)
	limit := normalizeLimit(req.Limit, defaultConversationLimit)
	userID := actor.UserID
	if actor.IsAdmin() {
		userID = strings.TrimSpace(req.UserID)
	}
	items, total, err := s.Conversations.List(ctx, conversation.ListFilter{
		UserID: userID,
		Status: req.Status,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return ConversationPage{}, err
	}
	return ConversationPage{Conversations: items, Page: page, Limit: limit, Total: total}, nil
}

// SetStatus moves the conversation through its lifecycle and appends a system notice.
// Repeating the current status is a no-op.
func (s *Service) SetStatus(ctx context.Context, actor Actor, conversationID string, to conversation.Status) (*conversation.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := canView(c, actor); err != nil {
		return nil, err
	}
	var notice *conversation.Message
	c, err = s.updateConversation(ctx, c, func(current *conversation.Conversation) (bool, error) {
		notice = nil
		now := s.now()
		changed, err := current.SetStatus(to, actor.UserID, now)
		if err != nil || !changed {
			return false, err
		}
		notice, err = conversation.NewMessage(conversation.MessageParams{
			ConversationID: current.ID,
			SenderID:       actor.UserID,
			Content:        statusNotice(to),
			Type:           conversation.TypeSystem,
			Now:            now,
		})
		if err != nil {
			return false, err
		}
		current.ApplyMessage(notice)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if notice != nil {
		if err := s.Messages.Append(ctx, notice); err != nil {
			s.logError("append status notice failed", err, "conversation_id", c.ID)
		} else {
			s.publish(ctx, notice.PullEvents()...)
		}
		s.logInfo("conversation status changed", "conversation_id", c.ID, "status", c.Status, "actor", actor.UserID)
	}
	return c, nil
}

func statusNotice(to conversation.Status) string {
	switch to {
	case conversation.StatusResolved:
		return "Conversation resolved"
	case conversation.StatusActive:
		return "Conversation reopened"
	default:
		return "Conversation closed"
	}
}

// MarkRead clears the actor's unread counter.
func (s *Service) MarkRead(ctx context.Context, actor Actor, conversationID string) (*conversation.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(actor.UserID) {
		return nil, conversation.ErrNotParticipant
	}
	return s.updateConversation(ctx, c, func(current *conversation.Conversation) (bool, error) {
		return current.MarkRead(actor.UserID, s.now()), nil
	})
}

// UpdateFlags applies pin/mute for participants and triage fields for administrators.
// Closed conversations stay editable so they can still be archived and tagged.
func (s *Service) UpdateFlags(ctx context.Context, actor Actor, conversationID string, patch conversation.FlagsPatch) (*conversation.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, invalid("no flag changes")
	}
	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := canView(c, actor); err != nil {
		return nil, err
	}
	if patch.AdminOnly() && !actor.IsAdmin() {
		return nil, conversation.ErrForbidden
	}
	return s.updateConversation(ctx, c, func(current *conversation.Conversation) (bool, error) {
		if err := current.UpdateFlags(patch, actor.UserID, s.now()); err != nil {
			return false, err
		}
		return true, nil
	})
}

// updateConversation runs mutate and saves the result, reloading and re-running it when a
// concurrent writer won the version check.
func (s *Service) updateConversation(ctx context.Context, c *conversation.Conversation, mutate func(*conversation.Conversation) (bool, error)) (*conversation.Conversation, error) {
	current := c
	err := s.withRetry(func() error {
		if current == nil {
			fresh, err := s.Conversations.ByID(ctx, c.ID)
			if err != nil {
				return err
			}
			current = fresh
		}
		changed, err := mutate(current)
		if err != nil || !changed {
			return err
		}
		if err := s.Conversations.Save(ctx, current); err != nil {
			current = nil
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, current.PullEvents()...)
	return current, nil
}
