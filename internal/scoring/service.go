package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"go.uber.org/zap"
)

const defaultPersistenceTimeout = 3 * time.Second

const (
	opServiceNew      = "scoring.service.new"
	opStartMatch      = "scoring.start_match"
	opPauseMatch      = "scoring.pause_match"
	opResumeMatch     = "scoring.resume_match"
	opFinishMatch     = "scoring.finish_match"
	opAddPoint        = "scoring.add_point"
	opUndoPoint       = "scoring.undo_point"
	opListPoints      = "scoring.list_points"
	opGetMatch        = "scoring.get_match"
	opRecomputeScore  = "scoring.recompute_score"
	opReconcileScores = "scoring.reconcile_scores"
	opVerifyToken     = "scoring.verify_token"
	opUpdateSlots     = "scoring.update_slots"
	opCreateMatch     = "scoring.create_match"
	opAssignUmpire    = "scoring.assign_umpire"
	opIssueEntry      = "scoring.issue_entry"
	opCheckInEntry    = "scoring.check_in_entry"
)

var noOpLogger = zap.NewNop()

// Authorizer decides whether a principal may act on a scope.
type Authorizer interface {
	Authorize(ctx context.Context, principalID string, scope permissions.Scope, requirements ...permissions.Requirement) (permissions.Decision, error)
}

// ServiceConfig describes the dependencies of the scoring service.
type ServiceConfig struct {
	Store              Store
	Authorizer         Authorizer
	Publisher          EventPublisher
	Metrics            metrics.Metrics
	Clock              func() time.Time
	IDProvider         IDProvider
	PersistenceTimeout time.Duration
	Logger             *zap.Logger
}

// Service implements match lifecycle, point logging and token verification.
type Service struct {
	store      Store
	authorizer Authorizer
	publisher  EventPublisher
	metrics    metrics.Metrics
	clock      func() time.Time
	idProvider IDProvider
	timeout    time.Duration
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", ErrValidation, errMissingStore)
	}
	if cfg.Authorizer == nil {
		return nil, newServiceError(opServiceNew, "missing_authorizer", ErrValidation, errMissingAuthorizer)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", ErrValidation, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = discardPublisher{}
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	timeout := cfg.PersistenceTimeout
	if timeout <= 0 {
		timeout = defaultPersistenceTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		authorizer: cfg.Authorizer,
		publisher:  publisher,
		metrics:    recorder,
		clock:      clock,
		idProvider: cfg.IDProvider,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) nowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

// critical runs fn inside the per-match critical section and records its duration.
func (s *Service) critical(ctx context.Context, operation, matchID string, fn func(tx MatchTx) error) error {
	started := time.Now()
	err := s.store.WithMatch(ctx, matchID, fn)
	s.metrics.ObservePersistenceDuration(operation, time.Since(started).Seconds())
	return err
}

func (s *Service) authorize(ctx context.Context, operation, principalID string, match Match, requirements ...permissions.Requirement) (permissions.Decision, error) {
	decision, err := s.authorizer.Authorize(ctx, principalID, scopeOf(match), requirements...)
	if err != nil {
		return permissions.Decision{}, newServiceError(operation, "authorization_lookup_failed", ErrPersistence, err)
	}
	if !decision.Allowed {
		return permissions.Decision{}, newServiceError(operation, "permission_denied", ErrPermissionDenied, errors.New(decision.Reason))
	}
	return decision, nil
}

func (s *Service) authorizeTournament(ctx context.Context, operation, principalID, tournamentID string) error {
	_, err := s.authorize(ctx, operation, principalID, Match{TournamentID: tournamentID}, adminRequirements...)
	return err
}

// confirmAuthorized re-checks a decision against the match as locked. Only a grant
// resting on the umpire recorded on the match can have been revoked by a
// concurrent AssignUmpire; role assignments and tournaments do not change here.
func confirmAuthorized(decision permissions.Decision, principalID string, match Match) error {
	if decision.Basis != permissions.BasisMatchUmpire {
		return nil
	}
	if match.UmpireID != nil && *match.UmpireID == strings.TrimSpace(principalID) {
		return nil
	}
	return fmt.Errorf("%w: umpire of match %s changed", ErrPermissionDenied, match.ID)
}

var (
	officialRequirements = []permissions.Requirement{
		permissions.RequireUmpire,
		permissions.RequireTournamentAdmin,
		permissions.RequireAdmin,
	}
	adminRequirements = []permissions.Requirement{
		permissions.RequireTournamentAdmin,
		permissions.RequireAdmin,
	}
)

func scopeOf(match Match) permissions.Scope {
	scope := permissions.Scope{TournamentID: match.TournamentID, MatchID: match.ID}
	if match.UmpireID != nil {
		scope.MatchUmpireID = *match.UmpireID
	}
	return scope
}

// fail classifies err, records it and logs it once.
func (s *Service) fail(operation string, err error, fields ...zap.Field) error {
	serviceErr := classify(operation, err)
	s.metrics.IncFailures(operation, serviceErr.reason)
	logFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", serviceErr.reason),
		zap.Error(serviceErr.err),
	}, fields...)
	if errors.Is(serviceErr.kind, ErrPersistence) {
		s.logger.Error("scoring operation failed", logFields...)
	} else {
		s.logger.Info("scoring operation rejected", logFields...)
	}
	return serviceErr
}

func classify(operation string, err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		serviceErr = newServiceError(operation, "timeout", ErrPersistence, err)
		serviceErr.retryable = true
		return serviceErr
	case errors.Is(err, context.Canceled):
		return newServiceError(operation, "canceled", ErrPersistence, err)
	case errors.Is(err, ErrInvalidStateTransition):
		return newServiceError(operation, "invalid_state_transition", ErrInvalidStateTransition, err)
	case errors.Is(err, ErrNotFound):
		return newServiceError(operation, "not_found", ErrNotFound, err)
	case errors.Is(err, ErrMatchNotActive):
		return newServiceError(operation, "match_not_active", ErrMatchNotActive, err)
	case errors.Is(err, ErrPointAlreadyUndone):
		return newServiceError(operation, "point_already_undone", ErrPointAlreadyUndone, err)
	case errors.Is(err, ErrValidation):
		return newServiceError(operation, "invalid_input", ErrValidation, err)
	case errors.Is(err, ErrPermissionDenied):
		return newServiceError(operation, "permission_denied", ErrPermissionDenied, err)
	case errors.Is(err, ErrInvalidToken):
		return newServiceError(operation, "invalid_token", ErrInvalidToken, err)
	default:
		return newServiceError(operation, "persistence_failed", ErrPersistence, err)
	}
}

func requireID(kind, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s id is required", ErrValidation, kind)
	}
	return trimmed, nil
}

// advance saves match as its next version. Called inside a critical section, so
// versions follow commit order.
func (s *Service) advance(tx MatchTx, match Match, nowMillis int64) (Match, error) {
	match.Version++
	match.UpdatedAtMillis = nowMillis
	if err := tx.SaveMatch(match); err != nil {
		return Match{}, err
	}
	return match, nil
}

func committedEvent(match Match, eventType EventType) MatchEvent {
	return MatchEvent{
		MatchID:   match.ID,
		Type:      eventType,
		Sequence:  match.Version,
		Status:    match.Status,
		Timestamp: time.UnixMilli(match.UpdatedAtMillis).UTC(),
	}
}

func (s *Service) publish(event MatchEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock().UTC()
	}
	s.publisher.Publish(event)
}
