package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
	"github.com/Erenimo3442/GroupChatting/internal/event"
	"github.com/Erenimo3442/GroupChatting/internal/repository"
	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
)

// activeMemberCacheTTL bounds how long a cached active-membership answer
// is served without consulting the database.
const activeMemberCacheTTL = 5 * time.Minute

// GroupService implements the business logic for groups and the
// membership authorization state machine. Memberships move through
// invited or pending_approval into active and never leave active, which
// is what makes the positive cache in IsActiveMember safe.
type GroupService struct {
	groupRepo      repository.GroupRepository
	membershipRepo repository.MembershipRepository
	userRepo       repository.UserRepository
	cache          *redis.Client
	producer       *event.Producer
	logger         *slog.Logger
}

// NewGroupService creates a new group service. cache may be nil, in
// which case every membership check goes to the database.
func NewGroupService(
	groupRepo repository.GroupRepository,
	membershipRepo repository.MembershipRepository,
	userRepo repository.UserRepository,
	cache *redis.Client,
	producer *event.Producer,
	logger *slog.Logger,
) *GroupService {
	return &GroupService{
		groupRepo:      groupRepo,
		membershipRepo: membershipRepo,
		userRepo:       userRepo,
		cache:          cache,
		producer:       producer,
		logger:         logger,
	}
}

// CreateGroupInput holds the parameters for creating a group.
type CreateGroupInput struct {
	Name     string
	IsPublic bool
}

// MemberView pairs a membership with the member's resolved username.
type MemberView struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// CreateGroup creates a group with the creator as its active admin.
func (s *GroupService) CreateGroup(ctx context.Context, creatorID string, input CreateGroupInput) (*domain.Group, error) {
	if input.Name == "" {
		return nil, apperrors.InvalidInput("group name is required")
	}

	group := &domain.Group{
		ID:        uuid.New().String(),
		Name:      input.Name,
		IsPublic:  input.IsPublic,
		CreatedBy: creatorID,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.groupRepo.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	if err := s.producer.PublishGroupCreated(ctx, group); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish group.created event",
			slog.String("group_id", group.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "group created",
		slog.String("group_id", group.ID),
		slog.String("created_by", creatorID),
	)

	return group, nil
}

// GetGroup returns the group identified by id.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	return s.groupRepo.GetByID(ctx, groupID)
}

// ListGroups returns the groups in which the user is an active member.
func (s *GroupService) ListGroups(ctx context.Context, userID string) ([]domain.Group, error) {
	groups, err := s.groupRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// ListMembers returns the members of a group with resolved usernames.
// Only active members may see the member list.
func (s *GroupService) ListMembers(ctx context.Context, callerID, groupID string) ([]MemberView, error) {
	active, err := s.IsActiveMember(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apperrors.Forbidden("not an active member of this group")
	}

	memberships, err := s.membershipRepo.ListByGroupID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.UserID)
	}

	names, err := s.userRepo.GetUsernames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve member usernames: %w", err)
	}

	views := make([]MemberView, 0, len(memberships))
	for _, m := range memberships {
		views = append(views, MemberView{
			UserID:   m.UserID,
			Username: names[m.UserID],
			Role:     m.Role,
			Status:   m.Status,
		})
	}

	return views, nil
}

// InviteUser creates an invited membership for the invitee. The inviter
// must be an active admin of the group. Any existing membership for the
// invitee, whatever its status, makes the invite a conflict.
func (s *GroupService) InviteUser(ctx context.Context, inviterID, groupID, inviteeID string) error {
	if err := s.requireActiveAdmin(ctx, inviterID, groupID); err != nil {
		return err
	}

	if _, err := s.userRepo.GetByID(ctx, inviteeID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user", inviteeID)
		}
		return fmt.Errorf("get invitee: %w", err)
	}

	now := time.Now().UTC()
	membership := &domain.Membership{
		UserID:    inviteeID,
		GroupID:   groupID,
		Role:      domain.MembershipRoleMember,
		Status:    domain.MembershipStatusInvited,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.membershipRepo.TryInsert(ctx, membership); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "user invited to group",
		slog.String("group_id", groupID),
		slog.String("invitee_id", inviteeID),
		slog.String("inviter_id", inviterID),
	)

	return nil
}

// Apply creates a pending_approval membership for the applicant.
func (s *GroupService) Apply(ctx context.Context, userID, groupID string) error {
	if _, err := s.groupRepo.GetByID(ctx, groupID); err != nil {
		return err
	}

	now := time.Now().UTC()
	membership := &domain.Membership{
		UserID:    userID,
		GroupID:   groupID,
		Role:      domain.MembershipRoleMember,
		Status:    domain.MembershipStatusPendingApproval,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.membershipRepo.TryInsert(ctx, membership); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "user applied to group",
		slog.String("group_id", groupID),
		slog.String("user_id", userID),
	)

	return nil
}

// AcceptInvitation transitions the caller's invited membership to active.
func (s *GroupService) AcceptInvitation(ctx context.Context, userID, groupID string) error {
	err := s.membershipRepo.UpdateStatus(ctx, userID, groupID,
		domain.MembershipStatusInvited, domain.MembershipStatusActive)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("invitation", groupID)
		}
		return err
	}

	s.publishMemberJoined(ctx, groupID, userID)

	s.logger.InfoContext(ctx, "invitation accepted",
		slog.String("group_id", groupID),
		slog.String("user_id", userID),
	)

	return nil
}

// ApproveApplication transitions an applicant's pending_approval
// membership to active. The approver must be an active admin.
func (s *GroupService) ApproveApplication(ctx context.Context, approverID, groupID, applicantID string) error {
	if err := s.requireActiveAdmin(ctx, approverID, groupID); err != nil {
		return err
	}

	err := s.membershipRepo.UpdateStatus(ctx, applicantID, groupID,
		domain.MembershipStatusPendingApproval, domain.MembershipStatusActive)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("application", applicantID)
		}
		return err
	}

	s.publishMemberJoined(ctx, groupID, applicantID)

	s.logger.InfoContext(ctx, "application approved",
		slog.String("group_id", groupID),
		slog.String("applicant_id", applicantID),
		slog.String("approver_id", approverID),
	)

	return nil
}

// JoinPublicGroup creates an active membership directly. Only public
// groups may be joined this way.
func (s *GroupService) JoinPublicGroup(ctx context.Context, userID, groupID string) error {
	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.IsPublic {
		return apperrors.Forbidden("group is not public")
	}

	now := time.Now().UTC()
	membership := &domain.Membership{
		UserID:    userID,
		GroupID:   groupID,
		Role:      domain.MembershipRoleMember,
		Status:    domain.MembershipStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.membershipRepo.TryInsert(ctx, membership); err != nil {
		return err
	}

	s.publishMemberJoined(ctx, groupID, userID)

	s.logger.InfoContext(ctx, "user joined public group",
		slog.String("group_id", groupID),
		slog.String("user_id", userID),
	)

	return nil
}

// IsActiveMember reports whether the user holds an active membership in
// the group. Positive answers are cached: active is a terminal status,
// so a cached "yes" can never go stale within core semantics. Negative
// answers are never cached because they flip the moment a membership
// activates.
func (s *GroupService) IsActiveMember(ctx context.Context, groupID, userID string) (bool, error) {
	cacheKey := activeMemberKey(groupID, userID)

	if s.cache != nil {
		val, err := s.cache.Get(ctx, cacheKey).Result()
		if err == nil && val == "1" {
			return true, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.DebugContext(ctx, "membership cache read failed",
				slog.String("error", err.Error()),
			)
		}
	}

	membership, err := s.membershipRepo.Get(ctx, userID, groupID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get membership: %w", err)
	}

	if !membership.IsActive() {
		return false, nil
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, "1", activeMemberCacheTTL).Err(); err != nil {
			s.logger.DebugContext(ctx, "membership cache write failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return true, nil
}

// requireActiveAdmin verifies the caller is an active admin of the group.
func (s *GroupService) requireActiveAdmin(ctx context.Context, userID, groupID string) error {
	membership, err := s.membershipRepo.Get(ctx, userID, groupID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Forbidden("not a member of this group")
		}
		return fmt.Errorf("get membership: %w", err)
	}

	if !membership.IsActive() || !membership.IsAdmin() {
		return apperrors.Forbidden("requires an active admin membership")
	}

	return nil
}

// publishMemberJoined emits the member_joined event without failing the
// caller on publish errors.
func (s *GroupService) publishMemberJoined(ctx context.Context, groupID, userID string) {
	if err := s.producer.PublishGroupMemberJoined(ctx, groupID, userID, domain.MembershipRoleMember); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish group.member_joined event",
			slog.String("group_id", groupID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func activeMemberKey(groupID, userID string) string {
	return "chat:member:active:" + groupID + ":" + userID
}
