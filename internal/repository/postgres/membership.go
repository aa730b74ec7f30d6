package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
	"github.com/Erenimo3442/GroupChatting/pkg/database"
	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
)

// MembershipRepository implements repository.MembershipRepository using
// PostgreSQL. The memberships table's composite primary key on
// (user_id, group_id) makes TryInsert the arbiter of concurrent grants:
// exactly one of two racing inserts wins, the other sees a conflict.
type MembershipRepository struct {
	pool database.DBTX
}

// NewMembershipRepository creates a new PostgreSQL-backed membership repository.
func NewMembershipRepository(pool database.DBTX) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

// TryInsert inserts a membership row, returning a conflict error when a
// membership already exists for the (user, group) pair.
func (r *MembershipRepository) TryInsert(ctx context.Context, m *domain.Membership) error {
	// Mirror the table's CHECK constraints up front; a raw check
	// violation from postgres carries no usable message.
	if !domain.IsValidMembershipRole(m.Role) {
		return apperrors.InvalidInput("invalid membership role: " + m.Role)
	}
	if !domain.IsValidMembershipStatus(m.Status) {
		return apperrors.InvalidInput("invalid membership status: " + m.Status)
	}

	query := `
		INSERT INTO memberships (user_id, group_id, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		m.UserID,
		m.GroupID,
		m.Role,
		m.Status,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("user already has a membership in this group")
		}
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("group", m.GroupID)
		}
		return fmt.Errorf("insert membership: %w", err)
	}

	return nil
}

// Get retrieves the membership for the given user and group.
func (r *MembershipRepository) Get(ctx context.Context, userID, groupID string) (*domain.Membership, error) {
	query := `
		SELECT user_id, group_id, role, status, created_at, updated_at
		FROM memberships
		WHERE user_id = $1 AND group_id = $2`

	var m domain.Membership
	err := r.pool.QueryRow(ctx, query, userID, groupID).Scan(
		&m.UserID,
		&m.GroupID,
		&m.Role,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan membership: %w", err)
	}

	return &m, nil
}

// UpdateStatus transitions a membership from expectedStatus to newStatus.
// The expected status rides in the WHERE clause, so a stale or missing
// membership affects zero rows and reports not found.
func (r *MembershipRepository) UpdateStatus(ctx context.Context, userID, groupID, expectedStatus, newStatus string) error {
	if !domain.IsValidMembershipStatus(newStatus) {
		return apperrors.InvalidInput("invalid membership status: " + newStatus)
	}

	query := `
		UPDATE memberships
		SET status = $1, updated_at = $2
		WHERE user_id = $3 AND group_id = $4 AND status = $5`

	ct, err := r.pool.Exec(ctx, query, newStatus, time.Now().UTC(), userID, groupID, expectedStatus)
	if err != nil {
		return fmt.Errorf("update membership status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ListByGroupID returns all memberships of a group, any status.
func (r *MembershipRepository) ListByGroupID(ctx context.Context, groupID string) ([]domain.Membership, error) {
	query := `
		SELECT user_id, group_id, role, status, created_at, updated_at
		FROM memberships
		WHERE group_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.UserID, &m.GroupID, &m.Role, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate membership rows: %w", err)
	}

	return memberships, nil
}
