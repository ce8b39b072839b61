package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

type SendRequest struct {
	ConversationID string
	Content        string
	Type           conversation.MessageType
	ReplyTo        string
}

// SendMessage appends a message to a conversation the actor takes part in.
func (s *Service) SendMessage(ctx context.Context, actor Actor, req SendRequest) (*conversation.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	if req.Type == conversation.TypeSystem {
		return nil, invalid("system messages cannot be sent by clients")
	}
	c, err := s.loadConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(actor.UserID) {
		return nil, conversation.ErrNotParticipant
	}
	if err := c.EnsureOpen(); err != nil {
		return nil, err
	}
	var replyTo conversation.ID
	if strings.TrimSpace(req.ReplyTo) != "" {
		target, err := s.loadMessage(ctx, req.ReplyTo)
		if err != nil {
			return nil, err
		}
		if target.ConversationID != c.ID {
			return nil, conversation.ErrMessageNotFound
		}
		replyTo = target.ID
	}
	return s.appendMessage(ctx, c, conversation.MessageParams{
		ConversationID: c.ID,
		SenderID:       actor.UserID,
		RecipientID:    c.Counterpart(actor.UserID),
		Content:        req.Content,
		Type:           req.Type,
		ReplyTo:        replyTo,
		Now:            s.now(),
	})
}

// ReplyToMessage sends content referencing messageID, which must live in the same conversation.
// Deleted targets may still be replied to; the reply preview shows the deletion marker.
func (s *Service) ReplyToMessage(ctx context.Context, actor Actor, conversationID, messageID, content string) (*conversation.Message, error) {
	if _, err := conversation.ParseID(messageID); err != nil {
		return nil, err
	}
	return s.SendMessage(ctx, actor, SendRequest{
		ConversationID: conversationID,
		Content:        content,
		ReplyTo:        messageID,
	})
}

// appendMessage moves the conversation summary forward and then stores the message. The
// conversation write is the commit point: participation and the open status are re-checked on
// every attempt, so a send that races a close fails instead of landing in the closed thread.
func (s *Service) appendMessage(ctx context.Context, c *conversation.Conversation, params conversation.MessageParams) (*conversation.Message, error) {
	m, err := conversation.NewMessage(params)
	if err != nil {
		return nil, err
	}
	if _, err := s.updateConversation(ctx, c, func(current *conversation.Conversation) (bool, error) {
		if !current.IsParticipant(m.SenderID) {
			return false, conversation.ErrNotParticipant
		}
		if err := current.EnsureOpen(); err != nil {
			return false, err
		}
		current.ApplyMessage(m)
		return true, nil
	}); err != nil {
		return nil, err
	}
	if err := s.Messages.Append(ctx, m); err != nil {
		// the summary may name a message that was never stored; the next send replaces it
		s.logError("message append failed after conversation update", err, "conversation_id", c.ID, "message_id", m.ID)
		return nil, fmt.Errorf("append message to %s: %w", c.ID, err)
	}
	s.publish(ctx, m.PullEvents()...)
	return m, nil
}

type EditRequest struct {
	ConversationID string
	MessageID      string
	Content        string
}

// EditMessage replaces the content of a message the actor sent.
func (s *Service) EditMessage(ctx context.Context, actor Actor, req EditRequest) (*conversation.Message, error) {
	m, c, err := s.loadMutable(ctx, actor, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, err
	}
	m, err = s.updateMessage(ctx, m, func(current *conversation.Message) (bool, error) {
		if err := current.Edit(actor.UserID, req.Content, s.now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.refreshPreview(ctx, c, m)
	return m, nil
}

// DeleteMessage soft-deletes a message the actor sent. Deleting twice succeeds without changes.
func (s *Service) DeleteMessage(ctx context.Context, actor Actor, conversationID, messageID string) (*conversation.Message, error) {
	m, c, err := s.loadMutable(ctx, actor, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	m, err = s.updateMessage(ctx, m, func(current *conversation.Message) (bool, error) {
		return current.Delete(actor.UserID, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.refreshPreview(ctx, c, m)
	return m, nil
}

// loadMutable loads a message addressed through its conversation and checks ownership before
// the conversation lifecycle.
func (s *Service) loadMutable(ctx context.Context, actor Actor, conversationID, messageID string) (*conversation.Message, *conversation.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, nil, err
	}
	convID, err := conversation.ParseID(conversationID)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if m.ConversationID != convID {
		return nil, nil, conversation.ErrMessageNotFound
	}
	if err := m.CheckMutableBy(actor.UserID); err != nil {
		return nil, nil, err
	}
	c, err := s.Conversations.ByID(ctx, convID)
	if err != nil {
		return nil, nil, err
	}
	if err := c.EnsureOpen(); err != nil {
		return nil, nil, err
	}
	return m, c, nil
}

func (s *Service) refreshPreview(ctx context.Context, c *conversation.Conversation, m *conversation.Message) {
	if c.LastMessageRef != m.ID {
		return
	}
	if _, err := s.updateConversation(ctx, c, func(current *conversation.Conversation) (bool, error) {
		return current.RefreshPreview(m), nil
	}); err != nil {
		s.logError("refresh conversation preview failed", err, "conversation_id", c.ID, "message_id", m.ID)
	}
}

// React toggles the actor's emoji on a message.
func (s *Service) React(ctx context.Context, actor Actor, messageID, emoji string) (*conversation.Message, bool, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, false, err
	}
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	c, err := s.Conversations.ByID(ctx, m.ConversationID)
	if err != nil {
		return nil, false, err
	}
	if !c.IsParticipant(actor.UserID) {
		return nil, false, conversation.ErrNotParticipant
	}
	if err := c.EnsureOpen(); err != nil {
		return nil, false, err
	}
	var added bool
	m, err = s.updateMessage(ctx, m, func(current *conversation.Message) (bool, error) {
		var err error
		added, err = current.ToggleReaction(actor.UserID, emoji, s.now())
		return err == nil, err
	})
	if err != nil {
		return nil, false, err
	}
	return m, added, nil
}

func (s *Service) updateMessage(ctx context.Context, m *conversation.Message, mutate func(*conversation.Message) (bool, error)) (*conversation.Message, error) {
	current := m
	err := s.withRetry(func() error {
		if current == nil {
			fresh, err := s.Messages.ByID(ctx, m.ID)
			if err != nil {
				return err
			}
			current = fresh
		}
		changed, err := mutate(current)
		if err != nil || !changed {
			return err
		}
		if err := s.Messages.Save(ctx, current); err != nil {
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

// ForwardTarget is the outcome of forwarding to one conversation.
type ForwardTarget struct {
	ConversationID string
	Message        *conversation.Message
	Err            error
}

type ForwardOutcome struct {
	SuccessCount int
	FailedCount  int
	Results      []ForwardTarget
}

// ForwardMessage copies a message into each target conversation. Targets fail independently;
// only problems with the source fail the whole call.
func (s *Service) ForwardMessage(ctx context.Context, actor Actor, sourceMessageID string, targetIDs []string) (ForwardOutcome, error) {
	if err := s.ensureDependencies(); err != nil {
		return ForwardOutcome{}, err
	}
	targets := dedupeTargets(targetIDs)
	if len(targets) == 0 {
		return ForwardOutcome{}, invalid("targetConversationIds is required")
	}
	if len(targets) > maxForwardTargets {
		return ForwardOutcome{}, invalid(fmt.Sprintf("at most %d targets per forward", maxForwardTargets))
	}
	source, err := s.loadMessage(ctx, sourceMessageID)
	if err != nil {
		return ForwardOutcome{}, err
	}
	if source.IsDeleted {
		return ForwardOutcome{}, conversation.ErrMessageNotFound
	}
	origin, err := s.Conversations.ByID(ctx, source.ConversationID)
	if err != nil {
		return ForwardOutcome{}, err
	}
	if !origin.IsParticipant(actor.UserID) {
		return ForwardOutcome{}, conversation.ErrNotParticipant
	}
	typ := source.Type
	if typ == conversation.TypeSystem {
		typ = conversation.TypeText
	}

	outcome := ForwardOutcome{Results: make([]ForwardTarget, 0, len(targets))}
	for _, raw := range targets {
		result := ForwardTarget{ConversationID: raw}
		result.Message, result.Err = s.forwardTo(ctx, actor, source, typ, raw)
		if result.Err != nil {
			outcome.FailedCount++
		} else {
			outcome.SuccessCount++
		}
		outcome.Results = append(outcome.Results, result)
	}
	s.logInfo("message forwarded", "message_id", source.ID, "succeeded", outcome.SuccessCount, "failed", outcome.FailedCount)
	return outcome, nil
}

func (s *Service) forwardTo(ctx context.Context, actor Actor, source *conversation.Message, typ conversation.MessageType, raw string) (*conversation.Message, error) {
	c, err := s.loadConversation(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(actor.UserID) {
		return nil, conversation.ErrNotParticipant
	}
	if err := c.EnsureOpen(); err != nil {
		return nil, err
	}
	return s.appendMessage(ctx, c, conversation.MessageParams{
		ConversationID: c.ID,
		SenderID:       actor.UserID,
		RecipientID:    c.Counterpart(actor.UserID),
		Content:        source.Content,
		Type:           typ,
		ForwardedFrom:  source.ID,
		Now:            s.now(),
	})
}

func dedupeTargets(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

type ListMessagesRequest struct {
	ConversationID string
	Page           int
	Limit          int
	Before         time.Time
}

type MessagePage struct {
	// Messages are in chronological order; page 1 holds the newest messages.
	Messages []*conversation.Message
	// Replies resolves replyTo references of the page, keyed by target id.
	Replies map[conversation.ID]*conversation.Message
	Page    int
	Limit   int
	Total   int
}

func (s *Service) ListMessages(ctx context.Context, actor Actor, req ListMessagesRequest) (MessagePage, error) {
	if err := s.ensureDependencies(); err != nil {
		return MessagePage{}, err
	}
	c, err := s.loadConversation(ctx, req.ConversationID)
	if err != nil {
		return MessagePage{}, err
	}
	if err := canView(c, actor); err != nil {
		return MessagePage{}, err
	}
	page := normalizePage(req.Page)
	limit := normalizeLimit(req.Limit, defaultMessageLimit)
	items, total, err := s.Messages.List(ctx, c.ID, conversation.MessageQuery{
		Before: req.Before,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return MessagePage{}, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return MessagePage{
		Messages: items,
		Replies:  s.resolveReplies(ctx, items),
		Page:     page,
		Limit:    limit,
		Total:    total,
	}, nil
}

// resolveReplies loads reply targets lazily; missing targets are left out.
func (s *Service) resolveReplies(ctx context.Context, items []*conversation.Message) map[conversation.ID]*conversation.Message {
	replies := make(map[conversation.ID]*conversation.Message)
	for _, m := range items {
		if m.ReplyTo == "" {
			continue
		}
		if _, ok := replies[m.ReplyTo]; ok {
			continue
		}
		target, err := s.Messages.ByID(ctx, m.ReplyTo)
		if err != nil {
			if !errors.Is(err, conversation.ErrTargetNotFound) {
				s.logError("resolve reply preview failed", err, "message_id", m.ID)
			}
			continue
		}
		replies[m.ReplyTo] = target
	}
	return replies
}

type Attachment struct {
	ConversationID string
	FileName       string
	ContentType    string
	Size           int64
	Body           io.Reader
}

const maxAttachmentSize = 20 << 20

// SendAttachment uploads the file and sends its URL as an image or file message.
func (s *Service) SendAttachment(ctx context.Context, actor Actor, att Attachment) (*conversation.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	if s.Uploader == nil {
		return nil, ErrServiceNotConfigured
	}
	if att.Body == nil || att.Size <= 0 {
		return nil, invalid("file is required")
	}
	if att.Size > maxAttachmentSize {
		return nil, invalid("file is too large")
	}
	c, err := s.loadConversation(ctx, att.ConversationID)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(actor.UserID) {
		return nil, conversation.ErrNotParticipant
	}
	if err := c.EnsureOpen(); err != nil {
		return nil, err
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(att.FileName), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "attachment"
	}
	key := fmt.Sprintf("conversations/%s/%s-%s", c.ID, conversation.NewID(), name)
	url, err := s.Uploader.Upload(ctx, key, att.Body, att.ContentType)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	typ := conversation.TypeFile
	if strings.HasPrefix(strings.ToLower(att.ContentType), "image/") {
		typ = conversation.TypeImage
	}
	return s.appendMessage(ctx, c, conversation.MessageParams{
		ConversationID: c.ID,
		SenderID:       actor.UserID,
		RecipientID:    c.Counterpart(actor.UserID),
		Content:        url,
		Type:           typ,
		Now:            s.now(),
	})
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", conversation.ErrInvalidInput, msg)
}
