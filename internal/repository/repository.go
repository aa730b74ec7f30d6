package repository

import (
	"context"
	"time"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByUsername retrieves a user by their username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// GetUsernames resolves the usernames for a batch of user IDs.
	// Unknown IDs are absent from the returned map.
	GetUsernames(ctx context.Context, ids []string) (map[string]string, error)
}

// GroupRepository defines the interface for group persistence operations.
type GroupRepository interface {
	// Create inserts a new group and the creator's active admin membership
	// in a single transaction.
	Create(ctx context.Context, group *domain.Group) error

	// GetByID retrieves a group by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Group, error)

	// ListByUserID returns all groups in which the user holds an active
	// membership.
	ListByUserID(ctx context.Context, userID string) ([]domain.Group, error)
}

// MembershipRepository defines the interface for membership persistence
// operations. The (user_id, group_id) pair is the primary key, so inserts
// and conditional updates carry the authorization state machine.
type MembershipRepository interface {
	// TryInsert inserts a membership row. If a membership already exists
	// for the (user, group) pair it returns a conflict error.
	TryInsert(ctx context.Context, membership *domain.Membership) error

	// Get retrieves the membership for the given user and group.
	Get(ctx context.Context, userID, groupID string) (*domain.Membership, error)

	// UpdateStatus transitions a membership from expectedStatus to
	// newStatus. It returns a not-found error when no row matches the
	// (user, group, expectedStatus) precondition.
	UpdateStatus(ctx context.Context, userID, groupID, expectedStatus, newStatus string) error

	// ListByGroupID returns all memberships of a group, any status.
	ListByGroupID(ctx context.Context, groupID string) ([]domain.Membership, error)
}

// RefreshTokenRepository defines the interface for refresh token persistence operations.
type RefreshTokenRepository interface {
	// Create stores a new refresh token hash.
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error

	// GetByHash retrieves a refresh token record by its hash.
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// Revoke revokes a specific refresh token by its hash.
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeByUserID revokes all refresh tokens for the given user.
	RevokeByUserID(ctx context.Context, userID string) error
}

// MessageQuery captures the filter, search, and pagination options for
// reading a group's message history.
type MessageQuery struct {
	GroupID    string
	SearchText string
	Page       int
	PageSize   int
}

// MessageRepository defines the interface for message persistence
// operations backed by the document store.
type MessageRepository interface {
	// Insert stores a new message.
	Insert(ctx context.Context, message *domain.Message) error

	// GetByID retrieves a message by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Message, error)

	// Replace overwrites the stored message with the given state.
	Replace(ctx context.Context, message *domain.Message) error

	// Query returns a page of a group's messages, newest first. When
	// SearchText is set only matching messages are returned.
	Query(ctx context.Context, q MessageQuery) ([]domain.Message, error)
}
