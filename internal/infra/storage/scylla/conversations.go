package scylla

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

var errNoSession = errors.New("scylla session not initialized")

const conversationColumns = `id, participant_a, participant_b, subject_ref, status, pinned, muted, priority, assigned_admin, tags,
	last_activity_at, last_message_ref, last_message_preview, last_message_sender, unread, created_at, updated_at, closed_at, version`

// keyGrace is how long a reserved open key may point at a conversation row that is not written
// yet. Older reservations belong to a creator that died between the two inserts.
const keyGrace = 10 * time.Second

// ConversationRepository keeps conversations in Scylla. Open-key uniqueness is enforced with a
// lightweight transaction on conversation_keys before the conversation row is written.
type ConversationRepository struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewConversationRepository(session *gocql.Session, logger *slog.Logger) *ConversationRepository {
	return &ConversationRepository{session: session, logger: logger}
}

func (r *ConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	if r.session == nil {
		return errNoSession
	}
	key := c.OpenKey()
	if key != "" {
		applied, err := r.session.
			Query(`INSERT INTO conversation_keys (open_key, conversation_id, reserved_at) VALUES (?, ?, ?) IF NOT EXISTS`, key, string(c.ID), time.Now().UTC()).
			WithContext(ctx).
			MapScanCAS(map[string]interface{}{})
		if err != nil {
			return err
		}
		if !applied {
			return conversation.ErrDuplicateOpenConversation
		}
	}
	row := newConversationRow(c)
	row.Version = 1
	applied, err := r.session.
		Query(`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`, row.values()...).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err == nil && !applied {
		err = conversation.ErrDuplicateOpenConversation
	}
	if err != nil {
		r.releaseKey(ctx, key, c.ID)
		return err
	}
	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, p := range c.Participants() {
		batch.Query(`INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`, p, string(c.ID))
	}
	if err := r.session.ExecuteBatch(batch); err != nil {
		return err
	}
	c.Version = 1
	return nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id conversation.ID) (*conversation.Conversation, error) {
	if r.session == nil {
		return nil, errNoSession
	}
	var row conversationRow
	err := r.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, string(id)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, err
	}
	return row.toAggregate(), nil
}

// FindOpen resolves the open key. A key whose conversation row is missing is reported as
// ErrOpenConversationPending while its creator may still be writing the row, and is reclaimed
// once the reservation is older than keyGrace.
func (r *ConversationRepository) FindOpen(ctx context.Context, participantA, participantB, subjectRef string) (*conversation.Conversation, error) {
	if r.session == nil {
		return nil, errNoSession
	}
	key := conversation.OpenKey(participantA, participantB, subjectRef)
	var (
		id         string
		reservedAt time.Time
	)
	err := r.session.
		Query(`SELECT conversation_id, reserved_at FROM conversation_keys WHERE open_key = ?`, key).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		Consistency(gocql.Quorum).
		Scan(&id, &reservedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, err
	}
	c, err := r.ByID(ctx, conversation.ID(id))
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		return c, err
	}
	if !orphanedKey(reservedAt, time.Now()) {
		return nil, conversation.ErrOpenConversationPending
	}
	if r.logger != nil {
		r.logger.Warn("reclaiming orphaned open key", "conversation_id", id, "reserved_at", reservedAt)
	}
	r.releaseKey(ctx, key, conversation.ID(id))
	return nil, conversation.ErrConversationNotFound
}

// orphanedKey reports whether a reservation without a conversation row has outlived keyGrace.
// Reservations written before reserved_at existed scan as the zero time and count as orphaned.
func orphanedKey(reservedAt, now time.Time) bool {
	return now.Sub(reservedAt) > keyGrace
}

// Save is a compare-and-set on version. Closing also releases the open key.
func (r *ConversationRepository) Save(ctx context.Context, c *conversation.Conversation) error {
	if r.session == nil {
		return errNoSession
	}
	row := newConversationRow(c)
	applied, err := r.session.
		Query(`UPDATE conversations SET status = ?, pinned = ?, muted = ?, priority = ?, assigned_admin = ?, tags = ?,
	last_activity_at = ?, last_message_ref = ?, last_message_preview = ?, last_message_sender = ?, unread = ?,
	updated_at = ?, closed_at = ?, version = ? WHERE id = ? IF version = ?`,
			row.Status, row.Pinned, row.Muted, row.Priority, row.AssignedAdmin, row.Tags,
			row.LastActivityAt, row.LastMessageRef, row.LastMessagePreview, row.LastMessageSender, row.Unread,
			row.UpdatedAt, row.ClosedAt, c.Version+1, row.ID, c.Version).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return conversation.ErrConcurrentUpdate
	}
	c.Version++
	if c.Status == conversation.StatusClosed {
		r.releaseKey(ctx, conversation.OpenKey(c.ParticipantA, c.ParticipantB, c.SubjectRef), c.ID)
	}
	return nil
}

func (r *ConversationRepository) releaseKey(ctx context.Context, key string, id conversation.ID) {
	if key == "" {
		return
	}
	_, err := r.session.
		Query(`DELETE FROM conversation_keys WHERE open_key = ? IF conversation_id = ?`, key, string(id)).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil && r.logger != nil {
		r.logger.Warn("failed to release open key", "error", err, "conversation_id", id)
	}
}

// List loads candidates through user_conversations (or a full scan for administrators) and
// orders them in memory.
func (r *ConversationRepository) List(ctx context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, int, error) {
	if r.session == nil {
		return nil, 0, errNoSession
	}
	var candidates []*conversation.Conversation
	if filter.UserID != "" {
		iter := r.session.
			Query(`SELECT conversation_id FROM user_conversations WHERE user_id = ?`, filter.UserID).
			WithContext(ctx).
			Iter()
		var id string
		var ids []string
		for iter.Scan(&id) {
			ids = append(ids, id)
		}
		if err := iter.Close(); err != nil {
			return nil, 0, err
		}
		for _, id := range ids {
			c, err := r.ByID(ctx, conversation.ID(id))
			if errors.Is(err, conversation.ErrConversationNotFound) {
				continue
			}
			if err != nil {
				return nil, 0, err
			}
			candidates = append(candidates, c)
		}
	} else {
		iter := r.session.Query(`SELECT ` + conversationColumns + ` FROM conversations`).WithContext(ctx).Iter()
		var row conversationRow
		for iter.Scan(row.dest()...) {
			candidates = append(candidates, row.toAggregate())
			row = conversationRow{}
		}
		if err := iter.Close(); err != nil {
			return nil, 0, err
		}
	}
	matches := filterConversations(candidates, filter.Status)
	return paginate(matches, filter.Offset, filter.Limit), len(matches), nil
}

func filterConversations(items []*conversation.Conversation, status conversation.Status) []*conversation.Conversation {
	out := make([]*conversation.Conversation, 0, len(items))
	for _, c := range items {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
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

type conversationRow struct {
	ID                 string
	ParticipantA       string
	ParticipantB       string
	SubjectRef         string
	Status             string
	Pinned             bool
	Muted              bool
	Priority           string
	AssignedAdmin      string
	Tags               []string
	LastActivityAt     time.Time
	LastMessageRef     string
	LastMessagePreview string
	LastMessageSender  string
	Unread             map[string]int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ClosedAt           time.Time
	Version            int64
}

func newConversationRow(c *conversation.Conversation) conversationRow {
	unread := make(map[string]int, 2)
	for _, p := range c.Participants() {
		unread[p] = c.Unread[p]
	}
	return conversationRow{
		ID:                 string(c.ID),
		ParticipantA:       c.ParticipantA,
		ParticipantB:       c.ParticipantB,
		SubjectRef:         c.SubjectRef,
		Status:             string(c.Status),
		Pinned:             c.Flags.Pinned,
		Muted:              c.Flags.Muted,
		Priority:           string(c.Flags.Priority),
		AssignedAdmin:      c.Flags.AssignedAdmin,
		Tags:               append([]string(nil), c.Flags.Tags...),
		LastActivityAt:     c.LastActivityAt,
		LastMessageRef:     string(c.LastMessageRef),
		LastMessagePreview: c.LastMessagePreview,
		LastMessageSender:  c.LastMessageSender,
		Unread:             unread,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		ClosedAt:           c.ClosedAt,
		Version:            c.Version,
	}
}

func (r *conversationRow) values() []interface{} {
	return []interface{}{
		r.ID, r.ParticipantA, r.ParticipantB, r.SubjectRef, r.Status, r.Pinned, r.Muted, r.Priority, r.AssignedAdmin, r.Tags,
		r.LastActivityAt, r.LastMessageRef, r.LastMessagePreview, r.LastMessageSender, r.Unread, r.CreatedAt, r.UpdatedAt, r.ClosedAt, r.Version,
	}
}

func (r *conversationRow) dest() []interface{} {
	return []interface{}{
		&r.ID, &r.ParticipantA, &r.ParticipantB, &r.SubjectRef, &r.Status, &r.Pinned, &r.Muted, &r.Priority, &r.AssignedAdmin, &r.Tags,
		&r.LastActivityAt, &r.LastMessageRef, &r.LastMessagePreview, &r.LastMessageSender, &r.Unread, &r.CreatedAt, &r.UpdatedAt, &r.ClosedAt, &r.Version,
	}
}

func (r conversationRow) toAggregate() *conversation.Conversation {
	c := &conversation.Conversation{
		ID:           conversation.ID(r.ID),
		ParticipantA: r.ParticipantA,
		ParticipantB: r.ParticipantB,
		SubjectRef:   r.SubjectRef,
		Status:       conversation.Status(r.Status),
		Flags: conversation.Flags{
			Pinned:        r.Pinned,
			Muted:         r.Muted,
			Priority:      conversation.Priority(r.Priority),
			AssignedAdmin: r.AssignedAdmin,
			Tags:          append([]string(nil), r.Tags...),
		},
		LastActivityAt:     utc(r.LastActivityAt),
		LastMessageRef:     conversation.ID(r.LastMessageRef),
		LastMessagePreview: r.LastMessagePreview,
		LastMessageSender:  r.LastMessageSender,
		Unread:             make(map[string]int, len(r.Unread)),
		CreatedAt:          utc(r.CreatedAt),
		UpdatedAt:          utc(r.UpdatedAt),
		ClosedAt:           utc(r.ClosedAt),
		Version:            r.Version,
	}
	for k, v := range r.Unread {
		c.Unread[k] = v
	}
	return c
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

var _ conversation.ConversationRepository = (*ConversationRepository)(nil)
