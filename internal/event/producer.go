package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
	pkgkafka "github.com/Erenimo3442/GroupChatting/pkg/kafka"
	"github.com/Erenimo3442/GroupChatting/pkg/logger"
)

// Kafka topic constants for chat domain events.
const (
	TopicUserRegistered    = "chat.user.registered"
	TopicGroupCreated      = "chat.group.created"
	TopicGroupMemberJoined = "chat.group.member_joined"
	TopicMessageSent       = "chat.message.sent"
)

// Aggregate type constants.
const (
	AggregateTypeUser    = "user"
	AggregateTypeGroup   = "group"
	AggregateTypeMessage = "message"
)

// Source identifier for events originating from the chat service.
const SourceChatService = "chat-service"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// GroupCreatedData is the payload for a group.created event.
type GroupCreatedData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPublic  bool   `json:"is_public"`
	CreatedBy string `json:"created_by"`
}

// GroupMemberJoinedData is the payload for a group.member_joined event.
// It fires when a membership becomes active, regardless of which
// transition got it there.
type GroupMemberJoinedData struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
}

// MessageSentData is the payload for a message.sent event.
type MessageSentData struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	SenderID  string    `json:"sender_id"`
	HasFile   bool      `json:"has_file"`
	Timestamp time.Time `json:"timestamp"`
}

// Producer publishes chat domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the chat service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// newEvent builds an event envelope and stamps it with the request's
// correlation ID when the context carries one.
func newEvent(ctx context.Context, eventType, aggregateID, aggregateType string, data any) (*pkgkafka.Event, error) {
	event, err := pkgkafka.NewEvent(eventType, aggregateID, aggregateType, SourceChatService, data)
	if err != nil {
		return nil, err
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	return event, nil
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:       user.ID,
		Username: user.Username,
	}

	event, err := newEvent(ctx, TopicUserRegistered, user.ID, AggregateTypeUser, data)
	if err != nil {
		return fmt.Errorf("create user.registered event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserRegistered, event); err != nil {
		return fmt.Errorf("publish user.registered event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.registered event",
		slog.String("user_id", user.ID),
	)

	return nil
}

// PublishGroupCreated publishes a group.created event.
func (p *Producer) PublishGroupCreated(ctx context.Context, group *domain.Group) error {
	data := GroupCreatedData{
		ID:        group.ID,
		Name:      group.Name,
		IsPublic:  group.IsPublic,
		CreatedBy: group.CreatedBy,
	}

	event, err := newEvent(ctx, TopicGroupCreated, group.ID, AggregateTypeGroup, data)
	if err != nil {
		return fmt.Errorf("create group.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicGroupCreated, event); err != nil {
		return fmt.Errorf("publish group.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published group.created event",
		slog.String("group_id", group.ID),
	)

	return nil
}

// PublishGroupMemberJoined publishes a group.member_joined event.
func (p *Producer) PublishGroupMemberJoined(ctx context.Context, groupID, userID, role string) error {
	data := GroupMemberJoinedData{
		GroupID: groupID,
		UserID:  userID,
		Role:    role,
	}

	event, err := newEvent(ctx, TopicGroupMemberJoined, groupID, AggregateTypeGroup, data)
	if err != nil {
		return fmt.Errorf("create group.member_joined event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicGroupMemberJoined, event); err != nil {
		return fmt.Errorf("publish group.member_joined event: %w", err)
	}

	p.logger.DebugContext(ctx, "published group.member_joined event",
		slog.String("group_id", groupID),
		slog.String("user_id", userID),
	)

	return nil
}

// PublishMessageSent publishes a message.sent event.
func (p *Producer) PublishMessageSent(ctx context.Context, message *domain.Message) error {
	data := MessageSentData{
		ID:        message.ID,
		GroupID:   message.GroupID,
		SenderID:  message.SenderID,
		HasFile:   message.HasFile(),
		Timestamp: message.Timestamp,
	}

	event, err := newEvent(ctx, TopicMessageSent, message.ID, AggregateTypeMessage, data)
	if err != nil {
		return fmt.Errorf("create message.sent event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicMessageSent, event); err != nil {
		return fmt.Errorf("publish message.sent event: %w", err)
	}

	p.logger.DebugContext(ctx, "published message.sent event",
		slog.String("message_id", message.ID),
		slog.String("group_id", message.GroupID),
	)

	return nil
}
