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

// GroupRepository implements repository.GroupRepository using PostgreSQL.
type GroupRepository struct {
	pool database.DBTX
}

// NewGroupRepository creates a new PostgreSQL-backed group repository.
func NewGroupRepository(pool database.DBTX) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// Create inserts a new group and the creator's active admin membership
// atomically within a transaction. Creating a group without its admin
// would leave it unmanageable, so the two inserts stand or fall together.
func (r *GroupRepository) Create(ctx context.Context, g *domain.Group) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	groupQuery := `
		INSERT INTO groups (id, name, is_public, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = tx.Exec(ctx, groupQuery,
		g.ID,
		g.Name,
		g.IsPublic,
		g.CreatedBy,
		g.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("user", g.CreatedBy)
		}
		return fmt.Errorf("insert group: %w", err)
	}

	membershipQuery := `
		INSERT INTO memberships (user_id, group_id, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, membershipQuery,
		g.CreatedBy,
		g.ID,
		domain.MembershipRoleAdmin,
		domain.MembershipStatusActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a group by its ID.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	query := `
		SELECT id, name, is_public, created_by, created_at
		FROM groups
		WHERE id = $1`

	var g domain.Group
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&g.ID,
		&g.Name,
		&g.IsPublic,
		&g.CreatedBy,
		&g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("group", id)
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}

	return &g, nil
}

// ListByUserID returns all groups in which the user holds an active membership.
func (r *GroupRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Group, error) {
	query := `
		SELECT g.id, g.name, g.is_public, g.created_by, g.created_at
		FROM groups g
		JOIN memberships m ON m.group_id = g.id
		WHERE m.user_id = $1 AND m.status = $2
		ORDER BY g.created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID, domain.MembershipStatusActive)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.IsPublic, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}

	return groups, nil
}
