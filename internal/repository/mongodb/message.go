package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
	"github.com/Erenimo3442/GroupChatting/internal/repository"
	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
)

const messagesCollection = "messages"

// MessageRepository implements repository.MessageRepository using MongoDB.
// Messages live in the document store because history reads are
// group-scoped, append-heavy, and never join against the relational side.
type MessageRepository struct {
	coll *mongo.Collection
}

// NewMessageRepository creates a new MongoDB-backed message repository.
func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{coll: db.Collection(messagesCollection)}
}

// EnsureIndexes creates the indexes the message queries rely on: a
// compound index for group history pages and a text index for search.
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "timestamp", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "content", Value: "text"}},
		},
	}

	if _, err := r.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	return nil
}

// Insert stores a new message.
func (r *MessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by its ID.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message

	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("message", id)
		}
		return nil, fmt.Errorf("find message: %w", err)
	}

	return &m, nil
}

// Replace overwrites the stored message with the given state.
func (r *MessageRepository) Replace(ctx context.Context, m *domain.Message) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("replace message: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("message", m.ID)
	}
	return nil
}

// Query returns a page of a group's messages, newest first, optionally
// restricted to messages whose content matches the search text.
func (r *MessageRepository) Query(ctx context.Context, q repository.MessageQuery) ([]domain.Message, error) {
	filter := bson.M{"group_id": q.GroupID}
	if q.SearchText != "" {
		filter["$text"] = bson.M{"$search": q.SearchText}
	}

	skip := int64((q.Page - 1) * q.PageSize)
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(skip).
		SetLimit(int64(q.PageSize))

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []domain.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	return messages, nil
}
