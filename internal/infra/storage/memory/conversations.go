package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/shared/events"
)

// ConversationRepository keeps conversations in memory. The open-key index plays the role
// of the unique index used by the durable stores.
type ConversationRepository struct {
	mu    sync.RWMutex
	items map[conversation.ID]*conversation.Conversation
	open  map[string]conversation.ID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		items: make(map[conversation.ID]*conversation.Conversation),
		open:  make(map[string]conversation.ID),
	}
}

func (r *ConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[c.ID]; exists {
		return conversation.ErrDuplicateOpenConversation
	}
	key := c.OpenKey()
	if key != "" {
		if _, taken := r.open[key]; taken {
			return conversation.ErrDuplicateOpenConversation
		}
		r.open[key] = c.ID
	}
	c.Version = 1
	r.items[c.ID] = cloneConversation(c)
	return nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id conversation.ID) (*conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	return cloneConversation(c), nil
}

func (r *ConversationRepository) FindOpen(ctx context.Context, participantA, participantB, subjectRef string) (*conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.open[conversation.OpenKey(participantA, participantB, subjectRef)]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	return cloneConversation(r.items[id]), nil
}

func (r *ConversationRepository) Save(ctx context.Context, c *conversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[c.ID]
	if !ok {
		return conversation.ErrConversationNotFound
	}
	if stored.Version != c.Version {
		return conversation.ErrConcurrentUpdate
	}
	if oldKey := stored.OpenKey(); oldKey != "" && c.OpenKey() == "" {
		delete(r.open, oldKey)
	}
	c.Version++
	r.items[c.ID] = cloneConversation(c)
	return nil
}

func (r *ConversationRepository) List(ctx context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, int, error) {
	r.mu.RLock()
	matches := make([]*conversation.Conversation, 0, len(r.items))
	for _, c := range r.items {
		if filter.UserID != "" && !c.IsParticipant(filter.UserID) {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		matches = append(matches, cloneConversation(c))
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].LastActivityAt.Equal(matches[j].LastActivityAt) {
			return matches[i].LastActivityAt.After(matches[j].LastActivityAt)
		}
		return matches[i].ID < matches[j].ID
	})
	return paginate(matches, filter.Offset, filter.Limit), len(matches), nil
}

func cloneConversation(c *conversation.Conversation) *conversation.Conversation {
	cp := *c
	cp.EventRecorder = events.EventRecorder{}
	cp.Flags.Tags = append([]string(nil), c.Flags.Tags...)
	cp.Unread = make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		cp.Unread[k] = v
	}
	return &cp
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

var _ conversation.ConversationRepository = (*ConversationRepository)(nil)
