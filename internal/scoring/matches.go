package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"go.uber.org/zap"
)

// StartMatch moves a pending match into play and stamps its start time.
func (s *Service) StartMatch(ctx context.Context, principalID, matchID string) (Match, error) {
	return s.transition(ctx, opStartMatch, ActionStart, principalID, matchID, officialRequirements)
}

// PauseMatch suspends a match in play. Any authenticated caller may pause.
func (s *Service) PauseMatch(ctx context.Context, principalID, matchID string) (Match, error) {
	return s.transition(ctx, opPauseMatch, ActionPause, principalID, matchID, nil)
}

// ResumeMatch returns a paused match to play.
func (s *Service) ResumeMatch(ctx context.Context, principalID, matchID string) (Match, error) {
	return s.transition(ctx, opResumeMatch, ActionResume, principalID, matchID, officialRequirements)
}

// FinishMatch confirms the result and closes the match for scoring.
func (s *Service) FinishMatch(ctx context.Context, principalID, matchID string) (Match, error) {
	return s.transition(ctx, opFinishMatch, ActionFinish, principalID, matchID, adminRequirements)
}

func (s *Service) transition(ctx context.Context, operation string, action Action, principalID, matchID string, requirements []permissions.Requirement) (Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	matchID, err := requireID("match", matchID)
	if err != nil {
		return Match{}, s.fail(operation, err)
	}
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return Match{}, s.fail(operation, err, zap.String("match_id", matchID))
	}
	var decision permissions.Decision
	if len(requirements) > 0 {
		decision, err = s.authorize(ctx, operation, principalID, match, requirements...)
		if err != nil {
			return Match{}, s.fail(operation, err, zap.String("match_id", matchID), zap.String("principal_id", principalID))
		}
	}

	var updated Match
	err = s.critical(ctx, operation, matchID, func(tx MatchTx) error {
		current := tx.Match()
		if err := confirmAuthorized(decision, principalID, current); err != nil {
			return err
		}
		next, err := nextStatus(action, current.Status)
		if err != nil {
			return err
		}
		nowMillis := s.nowMillis()
		current.Status = next
		if action == ActionStart && current.StartedAtMillis == nil {
			startedAt := nowMillis
			current.StartedAtMillis = &startedAt
		}
		if action == ActionFinish {
			current.IsConfirmed = true
		}
		advanced, err := s.advance(tx, current, nowMillis)
		if err != nil {
			return err
		}
		updated = advanced
		return nil
	})
	if err != nil {
		return Match{}, s.fail(operation, err, zap.String("match_id", matchID), zap.String("action", action.String()))
	}

	s.metrics.IncTransitions(action.String())
	s.logger.Info("match transitioned",
		zap.String("match_id", matchID),
		zap.String("action", action.String()),
		zap.String("status", updated.Status.String()),
		zap.Int64("version", updated.Version),
		zap.String("principal_id", principalID))
	s.publish(committedEvent(updated, EventStatusChanged))
	return updated, nil
}

// NewMatch describes a match to create in the pending state.
type NewMatch struct {
	TournamentID string
	UmpireID     *string
}

// CreateMatch registers a pending match with an empty score.
func (s *Service) CreateMatch(ctx context.Context, principalID string, request NewMatch) (Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tournamentID, err := requireID("tournament", request.TournamentID)
	if err != nil {
		return Match{}, s.fail(opCreateMatch, err)
	}
	if err := s.authorizeTournament(ctx, opCreateMatch, principalID, tournamentID); err != nil {
		return Match{}, s.fail(opCreateMatch, err, zap.String("tournament_id", tournamentID), zap.String("principal_id", principalID))
	}
	matchID, err := s.idProvider.NewID()
	if err != nil {
		return Match{}, s.fail(opCreateMatch, newServiceError(opCreateMatch, "id_generation_failed", ErrPersistence, err))
	}

	nowMillis := s.nowMillis()
	match := Match{
		ID:              matchID,
		TournamentID:    tournamentID,
		Status:          StatusPending,
		UmpireID:        normalizeOptionalID(request.UmpireID),
		CreatedAtMillis: nowMillis,
		UpdatedAtMillis: nowMillis,
	}
	score := MatchScore{MatchID: matchID, UpdatedAtMillis: nowMillis}
	if err := s.store.CreateMatch(ctx, match, score); err != nil {
		return Match{}, s.fail(opCreateMatch, err, zap.String("tournament_id", tournamentID))
	}
	s.logger.Info("match created", zap.String("match_id", matchID), zap.String("tournament_id", tournamentID))
	return match, nil
}

// MatchView is a match together with its current score and draw slots.
type MatchView struct {
	Match Match
	Score MatchScore
	Slots []DrawSlot
}

// GetMatch returns the match, its materialized score and its slots.
func (s *Service) GetMatch(ctx context.Context, matchID string) (MatchView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	matchID, err := requireID("match", matchID)
	if err != nil {
		return MatchView{}, s.fail(opGetMatch, err)
	}
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return MatchView{}, s.fail(opGetMatch, err, zap.String("match_id", matchID))
	}
	score, err := s.store.GetScore(ctx, matchID)
	if errors.Is(err, ErrNotFound) {
		score = MatchScore{MatchID: matchID}
	} else if err != nil {
		return MatchView{}, s.fail(opGetMatch, err, zap.String("match_id", matchID))
	}
	slots, err := s.store.ListSlots(ctx, matchID)
	if err != nil {
		return MatchView{}, s.fail(opGetMatch, err, zap.String("match_id", matchID))
	}
	return MatchView{Match: match, Score: score, Slots: slots}, nil
}

// AssignUmpire records the officiating principal for a match. A nil umpire clears it.
func (s *Service) AssignUmpire(ctx context.Context, principalID, matchID string, umpireID *string) (Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	matchID, err := requireID("match", matchID)
	if err != nil {
		return Match{}, s.fail(opAssignUmpire, err)
	}
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return Match{}, s.fail(opAssignUmpire, err, zap.String("match_id", matchID))
	}
	if _, err := s.authorize(ctx, opAssignUmpire, principalID, match, adminRequirements...); err != nil {
		return Match{}, s.fail(opAssignUmpire, err, zap.String("match_id", matchID), zap.String("principal_id", principalID))
	}

	var updated Match
	err = s.critical(ctx, opAssignUmpire, matchID, func(tx MatchTx) error {
		current := tx.Match()
		if current.Status == StatusFinished {
			return &TransitionError{
				Action:   "assign_umpire",
				Required: []MatchStatus{StatusPending, StatusInProgress, StatusPaused},
				Current:  current.Status,
			}
		}
		current.UmpireID = normalizeOptionalID(umpireID)
		advanced, err := s.advance(tx, current, s.nowMillis())
		if err != nil {
			return err
		}
		updated = advanced
		return nil
	})
	if err != nil {
		return Match{}, s.fail(opAssignUmpire, err, zap.String("match_id", matchID))
	}
	s.publish(committedEvent(updated, EventUmpireAssigned))
	return updated, nil
}

// SlotAssignment places an entry, or nothing, on one side of a match.
type SlotAssignment struct {
	Side    Side
	EntryID *string
}

// UpdateDrawSlots replaces the slot list of a pending match.
func (s *Service) UpdateDrawSlots(ctx context.Context, principalID, matchID string, assignments []SlotAssignment) ([]DrawSlot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	matchID, err := requireID("match", matchID)
	if err != nil {
		return nil, s.fail(opUpdateSlots, err)
	}
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, s.fail(opUpdateSlots, err, zap.String("match_id", matchID))
	}
	if _, err := s.authorize(ctx, opUpdateSlots, principalID, match, adminRequirements...); err != nil {
		return nil, s.fail(opUpdateSlots, err, zap.String("match_id", matchID), zap.String("principal_id", principalID))
	}
	slots, err := s.validateSlots(ctx, match, assignments)
	if err != nil {
		return nil, s.fail(opUpdateSlots, err, zap.String("match_id", matchID))
	}

	var updated Match
	err = s.critical(ctx, opUpdateSlots, matchID, func(tx MatchTx) error {
		current := tx.Match()
		if !acceptsSlotEdits(current.Status) {
			return &TransitionError{Action: "edit_slots", Required: []MatchStatus{StatusPending}, Current: current.Status}
		}
		if err := tx.ReplaceSlots(slots); err != nil {
			return err
		}
		advanced, err := s.advance(tx, current, s.nowMillis())
		if err != nil {
			return err
		}
		updated = advanced
		return nil
	})
	if err != nil {
		return nil, s.fail(opUpdateSlots, err, zap.String("match_id", matchID))
	}
	s.publish(committedEvent(updated, EventSlotsUpdated))
	return slots, nil
}

func (s *Service) validateSlots(ctx context.Context, match Match, assignments []SlotAssignment) ([]DrawSlot, error) {
	seen := make(map[Side]struct{}, len(assignments))
	slots := make([]DrawSlot, 0, len(assignments))
	for _, assignment := range assignments {
		side := Side(strings.ToUpper(strings.TrimSpace(string(assignment.Side))))
		if side != SideA && side != SideB {
			return nil, fmt.Errorf("%w: unknown side %q", ErrValidation, assignment.Side)
		}
		if _, duplicate := seen[side]; duplicate {
			return nil, fmt.Errorf("%w: side %s listed twice", ErrValidation, side)
		}
		seen[side] = struct{}{}
		entryID := normalizeOptionalID(assignment.EntryID)
		if entryID != nil {
			entry, err := s.store.GetEntry(ctx, *entryID)
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: entry %s does not exist", ErrValidation, *entryID)
			}
			if err != nil {
				return nil, err
			}
			if entry.TournamentID != match.TournamentID {
				return nil, fmt.Errorf("%w: entry %s belongs to another tournament", ErrValidation, *entryID)
			}
		}
		slots = append(slots, DrawSlot{MatchID: match.ID, Side: side, EntryID: entryID})
	}
	if len(slots) == 2 && slots[0].EntryID != nil && slots[1].EntryID != nil && *slots[0].EntryID == *slots[1].EntryID {
		return nil, fmt.Errorf("%w: an entry cannot face itself", ErrValidation)
	}
	return slots, nil
}

func normalizeOptionalID(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
