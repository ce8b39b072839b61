package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

const messageColumns = `conversation_id, created_at, id, sender_id, content, type, is_edited, is_deleted,
	reply_to, forwarded_from, is_forwarded, reactions, updated_at, version`

// MessageRepository stores messages partitioned by conversation, newest first. message_lookup
// resolves an id to its partition.
type MessageRepository struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewMessageRepository(session *gocql.Session, logger *slog.Logger) *MessageRepository {
	return &MessageRepository{session: session, logger: logger}
}

func (r *MessageRepository) Append(ctx context.Context, m *conversation.Message) error {
	if r.session == nil {
		return errNoSession
	}
	row, err := newMessageRow(m)
	if err != nil {
		return err
	}
	row.Version = 1
	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, row.values()...)
	batch.Query(`INSERT INTO message_lookup (id, conversation_id, created_at) VALUES (?, ?, ?)`, row.ID, row.ConversationID, row.CreatedAt)
	if err := r.session.ExecuteBatch(batch); err != nil {
		return err
	}
	m.Version = 1
	return nil
}

func (r *MessageRepository) ByID(ctx context.Context, id conversation.ID) (*conversation.Message, error) {
	if r.session == nil {
		return nil, errNoSession
	}
	var (
		convID    string
		createdAt time.Time
	)
	err := r.session.
		Query(`SELECT conversation_id, created_at FROM message_lookup WHERE id = ?`, string(id)).
		WithContext(ctx).
		Scan(&convID, &createdAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, conversation.ErrMessageNotFound
		}
		return nil, err
	}
	var row messageRow
	err = r.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND created_at = ? AND id = ?`, convID, createdAt, string(id)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, conversation.ErrMessageNotFound
		}
		return nil, err
	}
	return row.toAggregate()
}

func (r *MessageRepository) Save(ctx context.Context, m *conversation.Message) error {
	if r.session == nil {
		return errNoSession
	}
	row, err := newMessageRow(m)
	if err != nil {
		return err
	}
	applied, err := r.session.
		Query(`UPDATE messages SET content = ?, is_edited = ?, is_deleted = ?, reactions = ?, updated_at = ?, version = ?
	WHERE conversation_id = ? AND created_at = ? AND id = ? IF version = ?`,
			row.Content, row.IsEdited, row.IsDeleted, row.Reactions, row.UpdatedAt, m.Version+1,
			row.ConversationID, row.CreatedAt, row.ID, m.Version).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return conversation.ErrConcurrentUpdate
	}
	m.Version++
	return nil
}

// List walks the partition newest first, skipping q.Offset rows.
func (r *MessageRepository) List(ctx context.Context, conversationID conversation.ID, q conversation.MessageQuery) ([]*conversation.Message, int, error) {
	if r.session == nil {
		return nil, 0, errNoSession
	}
	where := ` WHERE conversation_id = ?`
	args := []interface{}{string(conversationID)}
	if !q.Before.IsZero() {
		where += ` AND created_at < ?`
		args = append(args, q.Before.UTC())
	}
	var total int
	if err := r.session.Query(`SELECT COUNT(*) FROM messages`+where, args...).WithContext(ctx).Scan(&total); err != nil {
		return nil, 0, err
	}
	iter := r.session.Query(`SELECT `+messageColumns+` FROM messages`+where, args...).
		WithContext(ctx).
		PageSize(200).
		Iter()
	out := make([]*conversation.Message, 0)
	skipped := 0
	var row messageRow
	for iter.Scan(row.dest()...) {
		if skipped < q.Offset {
			skipped++
			row = messageRow{}
			continue
		}
		m, err := row.toAggregate()
		if err != nil {
			_ = iter.Close()
			return nil, 0, err
		}
		out = append(out, m)
		row = messageRow{}
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type reactionJSON struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

type messageRow struct {
	ConversationID string
	CreatedAt      time.Time
	ID             string
	SenderID       string
	Content        string
	Type           string
	IsEdited       bool
	IsDeleted      bool
	ReplyTo        string
	ForwardedFrom  string
	IsForwarded    bool
	Reactions      string
	UpdatedAt      time.Time
	Version        int64
}

func newMessageRow(m *conversation.Message) (messageRow, error) {
	reactions := make([]reactionJSON, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		reactions = append(reactions, reactionJSON{Emoji: r.Emoji, UserID: r.UserID})
	}
	encoded, err := json.Marshal(reactions)
	if err != nil {
		return messageRow{}, err
	}
	return messageRow{
		ConversationID: string(m.ConversationID),
		CreatedAt:      m.CreatedAt.UTC(),
		ID:             string(m.ID),
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		ReplyTo:        string(m.ReplyTo),
		ForwardedFrom:  string(m.ForwardedFrom),
		IsForwarded:    m.IsForwarded,
		Reactions:      string(encoded),
		UpdatedAt:      m.UpdatedAt.UTC(),
		Version:        m.Version,
	}, nil
}

func (r *messageRow) values() []interface{} {
	return []interface{}{
		r.ConversationID, r.CreatedAt, r.ID, r.SenderID, r.Content, r.Type, r.IsEdited, r.IsDeleted,
		r.ReplyTo, r.ForwardedFrom, r.IsForwarded, r.Reactions, r.UpdatedAt, r.Version,
	}
}

func (r *messageRow) dest() []interface{} {
	return []interface{}{
		&r.ConversationID, &r.CreatedAt, &r.ID, &r.SenderID, &r.Content, &r.Type, &r.IsEdited, &r.IsDeleted,
		&r.ReplyTo, &r.ForwardedFrom, &r.IsForwarded, &r.Reactions, &r.UpdatedAt, &r.Version,
	}
}

func (r messageRow) toAggregate() (*conversation.Message, error) {
	m := &conversation.Message{
		ID:             conversation.ID(r.ID),
		ConversationID: conversation.ID(r.ConversationID),
		SenderID:       r.SenderID,
		Content:        r.Content,
		Type:           conversation.MessageType(r.Type),
		IsEdited:       r.IsEdited,
		IsDeleted:      r.IsDeleted,
		ReplyTo:        conversation.ID(r.ReplyTo),
		ForwardedFrom:  conversation.ID(r.ForwardedFrom),
		IsForwarded:    r.IsForwarded,
		CreatedAt:      utc(r.CreatedAt),
		UpdatedAt:      utc(r.UpdatedAt),
		Version:        r.Version,
	}
	if r.Reactions != "" {
		var reactions []reactionJSON
		if err := json.Unmarshal([]byte(r.Reactions), &reactions); err != nil {
			return nil, err
		}
		for _, rc := range reactions {
			m.Reactions = append(m.Reactions, conversation.Reaction{Emoji: rc.Emoji, UserID: rc.UserID})
		}
	}
	return m, nil
}

var _ conversation.MessageRepository = (*MessageRepository)(nil)
