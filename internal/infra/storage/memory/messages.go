package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/shared/events"
)

// MessageRepository keeps messages in memory, indexed per conversation in creation order.
type MessageRepository struct {
	mu             sync.RWMutex
	items          map[conversation.ID]*conversation.Message
	byConversation map[conversation.ID][]conversation.ID
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		items:          make(map[conversation.ID]*conversation.Message),
		byConversation: make(map[conversation.ID][]conversation.ID),
	}
}

func (r *MessageRepository) Append(ctx context.Context, m *conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[m.ID]; exists {
		return conversation.ErrConcurrentUpdate
	}
	m.Version = 1
	r.items[m.ID] = cloneMessage(m)
	r.byConversation[m.ConversationID] = append(r.byConversation[m.ConversationID], m.ID)
	return nil
}

func (r *MessageRepository) ByID(ctx context.Context, id conversation.ID) (*conversation.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	if !ok {
		return nil, conversation.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (r *MessageRepository) Save(ctx context.Context, m *conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[m.ID]
	if !ok {
		return conversation.ErrMessageNotFound
	}
	if stored.Version != m.Version {
		return conversation.ErrConcurrentUpdate
	}
	m.Version++
	r.items[m.ID] = cloneMessage(m)
	return nil
}

func (r *MessageRepository) List(ctx context.Context, conversationID conversation.ID, q conversation.MessageQuery) ([]*conversation.Message, int, error) {
	r.mu.RLock()
	ids := r.byConversation[conversationID]
	matches := make([]*conversation.Message, 0, len(ids))
	for _, id := range ids {
		m := r.items[id]
		if !q.Before.IsZero() && !m.CreatedAt.Before(q.Before) {
			continue
		}
		matches = append(matches, cloneMessage(m))
	}
	r.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	return paginate(matches, q.Offset, q.Limit), len(matches), nil
}

func cloneMessage(m *conversation.Message) *conversation.Message {
	cp := *m
	cp.EventRecorder = events.EventRecorder{}
	cp.Reactions = append([]conversation.Reaction(nil), m.Reactions...)
	return &cp
}

var _ conversation.MessageRepository = (*MessageRepository)(nil)
