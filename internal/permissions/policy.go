package permissions

import (
	"fmt"
	"strings"
)

// Requirement is one predicate an action accepts as sufficient.
type Requirement string

const (
	RequireAdmin           Requirement = "admin"
	RequireTournamentAdmin Requirement = "tournament_admin"
	RequireUmpire          Requirement = "umpire"
)

// Scope identifies the resource an action targets.
type Scope struct {
	TournamentID string
	MatchID      string
	// MatchUmpireID is the umpire recorded on the match itself, if any.
	MatchUmpireID string
}

// Basis names what satisfied an allowed decision.
type Basis string

const (
	BasisNone             Basis = ""
	BasisOpen             Basis = "open"
	BasisAdmin            Basis = "admin"
	BasisTournamentAdmin  Basis = "tournament_admin"
	BasisUmpireAssignment Basis = "umpire_assignment"
	// BasisMatchUmpire is the umpire recorded on the match row rather than a role
	// assignment. It lapses when the match umpire changes.
	BasisMatchUmpire Basis = "match_umpire"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Basis   Basis
	Reason  string
}

func allow(basis Basis, reason string) Decision {
	return Decision{Allowed: true, Basis: basis, Reason: reason}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// IsAdmin reports whether principalID holds the unscoped admin role.
func IsAdmin(principalID string, assignments []RoleAssignment) bool {
	for _, assignment := range assignments {
		if assignment.PrincipalID == principalID && assignment.Role == RoleAdmin && assignment.TournamentID == "" {
			return true
		}
	}
	return false
}

// IsTournamentAdmin reports whether principalID administers tournamentID.
func IsTournamentAdmin(principalID, tournamentID string, assignments []RoleAssignment) bool {
	if tournamentID == "" {
		return false
	}
	for _, assignment := range assignments {
		if assignment.PrincipalID == principalID &&
			assignment.Role == RoleTournamentAdmin &&
			assignment.TournamentID == tournamentID {
			return true
		}
	}
	return false
}

// IsUmpire reports whether principalID may officiate the scoped match, either through
// an assignment for that match, a tournament-wide umpire assignment, or by being the
// umpire recorded on the match.
func IsUmpire(principalID string, scope Scope, assignments []RoleAssignment) bool {
	return umpireBasis(principalID, scope, assignments) != BasisNone
}

// umpireBasis reports a role assignment ahead of the match row.
func umpireBasis(principalID string, scope Scope, assignments []RoleAssignment) Basis {
	if scope.TournamentID != "" {
		for _, assignment := range assignments {
			if assignment.PrincipalID != principalID || assignment.Role != RoleUmpire {
				continue
			}
			if assignment.TournamentID != scope.TournamentID {
				continue
			}
			if assignment.MatchID == "" || assignment.MatchID == scope.MatchID {
				return BasisUmpireAssignment
			}
		}
	}
	if scope.MatchUmpireID != "" && scope.MatchUmpireID == principalID {
		return BasisMatchUmpire
	}
	return BasisNone
}

// Evaluate allows the action when any requirement is satisfied. A grant resting
// only on the match row is reported when no role assignment satisfies any requirement.
func Evaluate(principalID string, assignments []RoleAssignment, scope Scope, requirements ...Requirement) Decision {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return deny("anonymous principal")
	}
	if len(requirements) == 0 {
		return allow(BasisOpen, "no requirement")
	}
	fallback := Decision{}
	for _, requirement := range requirements {
		switch requirement {
		case RequireAdmin:
			if IsAdmin(principalID, assignments) {
				return allow(BasisAdmin, "admin")
			}
		case RequireTournamentAdmin:
			if IsTournamentAdmin(principalID, scope.TournamentID, assignments) {
				return allow(BasisTournamentAdmin, "tournament admin of "+scope.TournamentID)
			}
		case RequireUmpire:
			switch umpireBasis(principalID, scope, assignments) {
			case BasisUmpireAssignment:
				return allow(BasisUmpireAssignment, "umpire for match "+scope.MatchID)
			case BasisMatchUmpire:
				fallback = allow(BasisMatchUmpire, "recorded umpire of match "+scope.MatchID)
			}
		}
	}
	if fallback.Allowed {
		return fallback
	}
	return deny(fmt.Sprintf("%s holds none of %s", principalID, joinRequirements(requirements)))
}

func joinRequirements(requirements []Requirement) string {
	names := make([]string, 0, len(requirements))
	for _, requirement := range requirements {
		names = append(names, string(requirement))
	}
	return strings.Join(names, ", ")
}
