package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection("agg_message")}
}

func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	return err
}

func (r *MessageRepository) Append(ctx context.Context, m *conversation.Message) error {
	doc := newMessageDocument(m)
	doc.Version = 1
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return conversation.ErrConcurrentUpdate
		}
		return err
	}
	m.Version = 1
	return nil
}

func (r *MessageRepository) ByID(ctx context.Context, id conversation.ID) (*conversation.Message, error) {
	var doc messageDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, conversation.ErrMessageNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *MessageRepository) Save(ctx context.Context, m *conversation.Message) error {
	doc := newMessageDocument(m)
	filter := bson.M{"_id": doc.ID, "version": m.Version}
	doc.Version = m.Version + 1
	res, err := r.col.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return conversation.ErrConcurrentUpdate
	}
	m.Version = doc.Version
	return nil
}

func (r *MessageRepository) List(ctx context.Context, conversationID conversation.ID, q conversation.MessageQuery) ([]*conversation.Message, int, error) {
	filter := bson.M{"conversation_id": string(conversationID)}
	if !q.Before.IsZero() {
		filter["created_at"] = bson.M{"$lt": q.Before.UnixMilli()}
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(q.Offset))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	out := make([]*conversation.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toAggregate())
	}
	return out, int(total), nil
}

type messageDocument struct {
	ID             string             `bson:"_id"`
	ConversationID string             `bson:"conversation_id"`
	SenderID       string             `bson:"sender_id"`
	Content        string             `bson:"content"`
	Type           string             `bson:"type"`
	IsEdited       bool               `bson:"is_edited"`
	IsDeleted      bool               `bson:"is_deleted"`
	ReplyTo        string             `bson:"reply_to,omitempty"`
	ForwardedFrom  string             `bson:"forwarded_from,omitempty"`
	IsForwarded    bool               `bson:"is_forwarded"`
	Reactions      []reactionDocument `bson:"reactions"`
	CreatedAt      int64              `bson:"created_at"`
	UpdatedAt      int64              `bson:"updated_at"`
	Version        int64              `bson:"version"`
}

type reactionDocument struct {
	Emoji  string `bson:"emoji"`
	UserID string `bson:"user_id"`
}

func newMessageDocument(m *conversation.Message) messageDocument {
	doc := messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		ReplyTo:        string(m.ReplyTo),
		ForwardedFrom:  string(m.ForwardedFrom),
		IsForwarded:    m.IsForwarded,
		Reactions:      make([]reactionDocument, 0, len(m.Reactions)),
		CreatedAt:      millis(m.CreatedAt),
		UpdatedAt:      millis(m.UpdatedAt),
		Version:        m.Version,
	}
	for _, r := range m.Reactions {
		doc.Reactions = append(doc.Reactions, reactionDocument{Emoji: r.Emoji, UserID: r.UserID})
	}
	return doc
}

func (d messageDocument) toAggregate() *conversation.Message {
	m := &conversation.Message{
		ID:             conversation.ID(d.ID),
		ConversationID: conversation.ID(d.ConversationID),
		SenderID:       d.SenderID,
		Content:        d.Content,
		Type:           conversation.MessageType(d.Type),
		IsEdited:       d.IsEdited,
		IsDeleted:      d.IsDeleted,
		ReplyTo:        conversation.ID(d.ReplyTo),
		ForwardedFrom:  conversation.ID(d.ForwardedFrom),
		IsForwarded:    d.IsForwarded,
		CreatedAt:      timestampToTime(d.CreatedAt),
		UpdatedAt:      timestampToTime(d.UpdatedAt),
		Version:        d.Version,
	}
	for _, r := range d.Reactions {
		m.Reactions = append(m.Reactions, conversation.Reaction{Emoji: r.Emoji, UserID: r.UserID})
	}
	return m
}

var _ conversation.MessageRepository = (*MessageRepository)(nil)
