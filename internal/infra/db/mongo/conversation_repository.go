package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

// ConversationRepository stores conversations in agg_conversation. Non-closed documents carry
// open_key, which a partial unique index keeps unique.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{col: db.Collection("agg_conversation")}
}

// EnsureIndexes must succeed before the repository serves writes.
func (r *ConversationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "open_key", Value: 1}},
			Options: options.Index().
				SetName("uniq_open_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"open_key": bson.M{"$exists": true}}),
		},
		{Keys: bson.D{{Key: "participant_a", Value: 1}, {Key: "last_activity_at", Value: -1}}},
		{Keys: bson.D{{Key: "participant_b", Value: 1}, {Key: "last_activity_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_activity_at", Value: -1}}},
	})
	return err
}

func (r *ConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	doc := newConversationDocument(c)
	doc.Version = 1
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return conversation.ErrDuplicateOpenConversation
		}
		return err
	}
	c.Version = 1
	return nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id conversation.ID) (*conversation.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)})
}

func (r *ConversationRepository) FindOpen(ctx context.Context, participantA, participantB, subjectRef string) (*conversation.Conversation, error) {
	return r.findOne(ctx, bson.M{"open_key": conversation.OpenKey(participantA, participantB, subjectRef)})
}

func (r *ConversationRepository) findOne(ctx context.Context, filter bson.M) (*conversation.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

// Save replaces the whole document so that closing drops open_key from the unique index.
func (r *ConversationRepository) Save(ctx context.Context, c *conversation.Conversation) error {
	doc := newConversationDocument(c)
	filter := bson.M{"_id": doc.ID, "version": c.Version}
	doc.Version = c.Version + 1
	res, err := r.col.ReplaceOne(ctx, filter, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return conversation.ErrConcurrentUpdate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return conversation.ErrConcurrentUpdate
	}
	c.Version = doc.Version
	return nil
}

func (r *ConversationRepository) List(ctx context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, int, error) {
	query := bson.M{}
	if filter.UserID != "" {
		query["$or"] = bson.A{
			bson.M{"participant_a": filter.UserID},
			bson.M{"participant_b": filter.UserID},
		}
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	total, err := r.col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "last_activity_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Offset))
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := r.col.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	out := make([]*conversation.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toAggregate())
	}
	return out, int(total), nil
}

type conversationDocument struct {
	ID                 string          `bson:"_id"`
	ParticipantA       string          `bson:"participant_a"`
	ParticipantB       string          `bson:"participant_b"`
	SubjectRef         string          `bson:"subject_ref,omitempty"`
	OpenKey            string          `bson:"open_key,omitempty"`
	Status             string          `bson:"status"`
	Flags              flagsDocument   `bson:"flags"`
	LastActivityAt     int64           `bson:"last_activity_at"`
	LastMessageRef     string          `bson:"last_message_ref,omitempty"`
	LastMessagePreview string          `bson:"last_message_preview"`
	LastMessageSender  string          `bson:"last_message_sender,omitempty"`
	Unread             []unreadCounter `bson:"unread"`
	CreatedAt          int64           `bson:"created_at"`
	UpdatedAt          int64           `bson:"updated_at"`
	ClosedAt           int64           `bson:"closed_at,omitempty"`
	Version            int64           `bson:"version"`
}

type flagsDocument struct {
	Pinned        bool     `bson:"pinned"`
	Muted         bool     `bson:"muted"`
	Priority      string   `bson:"priority"`
	AssignedAdmin string   `bson:"assigned_admin,omitempty"`
	Tags          []string `bson:"tags"`
}

// unreadCounter avoids user ids as document keys.
type unreadCounter struct {
	UserID string `bson:"user_id"`
	Count  int    `bson:"count"`
}

func newConversationDocument(c *conversation.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:           string(c.ID),
		ParticipantA: c.ParticipantA,
		ParticipantB: c.ParticipantB,
		SubjectRef:   c.SubjectRef,
		OpenKey:      c.OpenKey(),
		Status:       string(c.Status),
		Flags: flagsDocument{
			Pinned:        c.Flags.Pinned,
			Muted:         c.Flags.Muted,
			Priority:      string(c.Flags.Priority),
			AssignedAdmin: c.Flags.AssignedAdmin,
			Tags:          append([]string{}, c.Flags.Tags...),
		},
		LastActivityAt:     millis(c.LastActivityAt),
		LastMessageRef:     string(c.LastMessageRef),
		LastMessagePreview: c.LastMessagePreview,
		LastMessageSender:  c.LastMessageSender,
		CreatedAt:          millis(c.CreatedAt),
		UpdatedAt:          millis(c.UpdatedAt),
		ClosedAt:           millis(c.ClosedAt),
		Version:            c.Version,
	}
	for _, p := range c.Participants() {
		doc.Unread = append(doc.Unread, unreadCounter{UserID: p, Count: c.Unread[p]})
	}
	return doc
}

func (d conversationDocument) toAggregate() *conversation.Conversation {
	c := &conversation.Conversation{
		ID:           conversation.ID(d.ID),
		ParticipantA: d.ParticipantA,
		ParticipantB: d.ParticipantB,
		SubjectRef:   d.SubjectRef,
		Status:       conversation.Status(d.Status),
		Flags: conversation.Flags{
			Pinned:        d.Flags.Pinned,
			Muted:         d.Flags.Muted,
			Priority:      conversation.Priority(d.Flags.Priority),
			AssignedAdmin: d.Flags.AssignedAdmin,
			Tags:          d.Flags.Tags,
		},
		LastActivityAt:     timestampToTime(d.LastActivityAt),
		LastMessageRef:     conversation.ID(d.LastMessageRef),
		LastMessagePreview: d.LastMessagePreview,
		LastMessageSender:  d.LastMessageSender,
		Unread:             make(map[string]int, len(d.Unread)),
		CreatedAt:          timestampToTime(d.CreatedAt),
		UpdatedAt:          timestampToTime(d.UpdatedAt),
		ClosedAt:           timestampToTime(d.ClosedAt),
		Version:            d.Version,
	}
	for _, u := range d.Unread {
		c.Unread[u.UserID] = u.Count
	}
	return c
}

var _ conversation.ConversationRepository = (*ConversationRepository)(nil)
