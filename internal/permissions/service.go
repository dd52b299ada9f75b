package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotPermitted      = errors.New("permissions: not permitted")
	ErrInvalidAssignment = errors.New("permissions: invalid assignment")
	ErrNotFound          = errors.New("permissions: assignment not found")
	ErrPersistence       = errors.New("permissions: persistence failure")
)

// ServiceConfig describes the dependencies of the role service.
type ServiceConfig struct {
	Store  RoleStore
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service evaluates the authorization policy and administers role assignments.
type Service struct {
	store  RoleStore
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("permissions: role store is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, clock: clock, logger: logger}, nil
}

// Authorize loads the principal's assignments and evaluates them against scope.
// A storage failure is returned as an error, never as a denial.
func (s *Service) Authorize(ctx context.Context, principalID string, scope Scope, requirements ...Requirement) (Decision, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return deny("anonymous principal"), nil
	}
	assignments, err := s.store.ListAssignments(ctx, principalID)
	if err != nil {
		s.logger.Error("role lookup failed", zap.String("principal_id", principalID), zap.Error(err))
		return Decision{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return Evaluate(principalID, assignments, scope, requirements...), nil
}

// Grant describes a role assignment request.
type Grant struct {
	PrincipalID  string
	Role         Role
	TournamentID string
	MatchID      string
}

// Grant records an assignment on behalf of granterID. Admins may grant any role;
// tournament admins may grant umpire roles inside their own tournament.
// Granting an assignment that already exists returns the existing record.
func (s *Service) Grant(ctx context.Context, granterID string, grant Grant) (RoleAssignment, error) {
	assignment := grant.assignment(granterID, s.clock())
	if err := assignment.validate(); err != nil {
		return RoleAssignment{}, err
	}
	granterAssignments, err := s.store.ListAssignments(ctx, granterID)
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !canAdminister(granterID, granterAssignments, assignment) {
		s.logger.Info("role grant rejected",
			zap.String("granter_id", granterID),
			zap.String("principal_id", assignment.PrincipalID),
			zap.String("role", string(assignment.Role)),
			zap.String("tournament_id", assignment.TournamentID))
		return RoleAssignment{}, ErrNotPermitted
	}
	return s.persist(ctx, assignment)
}

// Bootstrap records an assignment without checking the caller. It backs the
// operator CLI used to seed the first admin.
func (s *Service) Bootstrap(ctx context.Context, grant Grant) (RoleAssignment, error) {
	assignment := grant.assignment("bootstrap", s.clock())
	if err := assignment.validate(); err != nil {
		return RoleAssignment{}, err
	}
	return s.persist(ctx, assignment)
}

func (s *Service) persist(ctx context.Context, assignment RoleAssignment) (RoleAssignment, error) {
	existing, err := s.store.ListAssignments(ctx, assignment.PrincipalID)
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	for _, current := range existing {
		if current.sameGrant(assignment) {
			return current, nil
		}
	}
	if err := s.store.CreateAssignment(ctx, &assignment); err != nil {
		s.logger.Error("role grant failed", zap.String("principal_id", assignment.PrincipalID), zap.Error(err))
		return RoleAssignment{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.logger.Info("role granted",
		zap.Int64("assignment_id", assignment.ID),
		zap.String("principal_id", assignment.PrincipalID),
		zap.String("role", string(assignment.Role)),
		zap.String("tournament_id", assignment.TournamentID),
		zap.String("match_id", assignment.MatchID),
		zap.String("granted_by", assignment.GrantedBy))
	return assignment, nil
}

// Revoke deletes an assignment under the same rules as Grant.
func (s *Service) Revoke(ctx context.Context, revokerID string, assignmentID int64) error {
	assignment, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	revokerAssignments, err := s.store.ListAssignments(ctx, revokerID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !canAdminister(revokerID, revokerAssignments, assignment) {
		return ErrNotPermitted
	}
	if err := s.store.DeleteAssignment(ctx, assignmentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.logger.Info("role revoked", zap.Int64("assignment_id", assignmentID), zap.String("revoked_by", revokerID))
	return nil
}

// ListForPrincipal returns every assignment held by principalID.
func (s *Service) ListForPrincipal(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	assignments, err := s.store.ListAssignments(ctx, strings.TrimSpace(principalID))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return assignments, nil
}

func (g Grant) assignment(grantedBy string, now time.Time) RoleAssignment {
	return RoleAssignment{
		PrincipalID:     strings.TrimSpace(g.PrincipalID),
		Role:            g.Role,
		TournamentID:    strings.TrimSpace(g.TournamentID),
		MatchID:         strings.TrimSpace(g.MatchID),
		GrantedBy:       grantedBy,
		CreatedAtMillis: now.UTC().UnixMilli(),
	}
}

func canAdminister(actorID string, actorAssignments []RoleAssignment, target RoleAssignment) bool {
	if IsAdmin(actorID, actorAssignments) {
		return true
	}
	return target.Role == RoleUmpire && IsTournamentAdmin(actorID, target.TournamentID, actorAssignments)
}
