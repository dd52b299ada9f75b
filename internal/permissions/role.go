package permissions

import (
	"fmt"
	"strings"
)

// Role names a capability granted to a principal.
type Role string

const (
	RoleUmpire          Role = "umpire"
	RoleTournamentAdmin Role = "tournament_admin"
	RoleAdmin           Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleUmpire:
		return RoleUmpire, nil
	case RoleTournamentAdmin:
		return RoleTournamentAdmin, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidAssignment, value)
	}
}

// RoleAssignment associates a principal with a role, optionally scoped to a
// tournament and, for umpires, to a single match.
type RoleAssignment struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement"`
	PrincipalID     string `gorm:"column:principal_id;size:190;not null;index"`
	Role            Role   `gorm:"column:role;size:32;not null"`
	TournamentID    string `gorm:"column:tournament_id;size:64;not null;default:''"`
	MatchID         string `gorm:"column:match_id;size:64;not null;default:''"`
	GrantedBy       string `gorm:"column:granted_by;size:190"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RoleAssignment) TableName() string {
	return "role_assignments"
}

func (a RoleAssignment) validate() error {
	if strings.TrimSpace(a.PrincipalID) == "" {
		return fmt.Errorf("%w: principal is required", ErrInvalidAssignment)
	}
	switch a.Role {
	case RoleAdmin:
		if a.TournamentID != "" || a.MatchID != "" {
			return fmt.Errorf("%w: admin role cannot be scoped", ErrInvalidAssignment)
		}
	case RoleTournamentAdmin:
		if a.TournamentID == "" {
			return fmt.Errorf("%w: tournament admin requires a tournament", ErrInvalidAssignment)
		}
		if a.MatchID != "" {
			return fmt.Errorf("%w: tournament admin cannot be scoped to a match", ErrInvalidAssignment)
		}
	case RoleUmpire:
		if a.TournamentID == "" {
			return fmt.Errorf("%w: umpire requires a tournament", ErrInvalidAssignment)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidAssignment, a.Role)
	}
	return nil
}

func (a RoleAssignment) sameGrant(other RoleAssignment) bool {
	return a.PrincipalID == other.PrincipalID &&
		a.Role == other.Role &&
		a.TournamentID == other.TournamentID &&
		a.MatchID == other.MatchID
}
