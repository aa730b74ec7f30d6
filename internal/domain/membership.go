package domain

import "time"

// Membership role constants.
const (
	MembershipRoleMember = "member"
	MembershipRoleAdmin  = "admin"
)

// Membership status constants. A membership moves from invited or
// pending_approval to active and never back.
const (
	MembershipStatusInvited         = "invited"
	MembershipStatusPendingApproval = "pending_approval"
	MembershipStatusActive          = "active"
)

// Membership ties a user to a group with a role and an authorization status.
// At most one membership exists per (user, group) pair.
type Membership struct {
	UserID    string    `json:"user_id"`
	GroupID   string    `json:"group_id"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the membership grants participation rights.
// Only active memberships may send, read, or receive group messages.
func (m *Membership) IsActive() bool {
	return m.Status == MembershipStatusActive
}

// IsAdmin reports whether the membership carries admin privileges.
func (m *Membership) IsAdmin() bool {
	return m.Role == MembershipRoleAdmin
}

// ValidMembershipStatuses returns all valid membership statuses.
func ValidMembershipStatuses() []string {
	return []string{
		MembershipStatusInvited,
		MembershipStatusPendingApproval,
		MembershipStatusActive,
	}
}

// IsValidMembershipStatus checks whether the given status string is valid.
func IsValidMembershipStatus(status string) bool {
	for _, s := range ValidMembershipStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// IsValidMembershipRole checks whether the given role string is valid.
func IsValidMembershipRole(role string) bool {
	return role == MembershipRoleMember || role == MembershipRoleAdmin
}
