package scoring

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// PointResult is a point together with the score recomputed after the change.
type PointResult struct {
	Point Point
	Score MatchScore
}

// AddPoint appends a point for the given side and recomputes the score. The status
// check, the append and the recompute share one critical section, so no point is
// accepted once a finish has committed.
func (s *Service) AddPoint(ctx context.Context, principalID, matchID, category string) (PointResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	matchID, err := requireID("match", matchID)
	if err != nil {
		return PointResult{}, s.fail(opAddPoint, err)
	}
	pointType, err := ParsePointType(category)
	if err != nil {
		return PointResult{}, s.fail(opAddPoint, err, zap.String("match_id", matchID))
	}
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return PointResult{}, s.fail(opAddPoint, err, zap.String("match_id", matchID))
	}
	decision, err := s.authorize(ctx, opAddPoint, principalID, match, officialRequirements...)
	if err != nil {
		return PointResult{}, s.fail(opAddPoint, err, zap.String("match_id", matchID), zap.String("principal_id", principalID))
	}

	var (
		result PointResult
		event  MatchEvent
	)
	err = s.critical(ctx, opAddPoint, matchID, func(tx MatchTx) error {
		current := tx.Match()
		if err := confirmAuthorized(decision, principalID, current); err != nil {
			return err
		}
		if !acceptsPoints(current.Status) {
			return fmt.Errorf("%w: match %s is %s", ErrMatchNotActive, current.ID, current.Status)
		}
		active, err := tx.ActivePoints()
		if err != nil {
			return err
		}
		receivedAt := s.nowMillis()
		if count := len(active); count > 0 && active[count-1].ServerReceivedMillis > receivedAt {
			receivedAt = active[count-1].ServerReceivedMillis
		}
		point := Point{
			MatchID:              matchID,
			PointType:            pointType,
			ServerReceivedMillis: receivedAt,
			RecordedBy:           principalID,
		}
		if err := tx.AppendPoint(&point); err != nil {
			return err
		}
		score, err := s.recomputeWithin(tx)
		if err != nil {
			return err
		}
		advanced, err := s.advance(tx, current, score.UpdatedAtMillis)
		if err != nil {
			return err
		}
		result = PointResult{Point: point, Score: score}
		event = committedEvent(advanced, EventPointRecorded)
		return nil
	})
	if err != nil {
		return PointResult{}, s.fail(opAddPoint, err, zap.String("match_id", matchID))
	}

	s.metrics.IncPointsRecorded(sideLabel(pointType))
	s.logger.Debug("point recorded",
		zap.String("match_id", matchID),
		zap.Int64("point_id", result.Point.ID),
		zap.String("point_type", string(pointType)))
	score := result.Score
	event.Score = &score
	event.PointID = result.Point.ID
	s.publish(event)
	return result, nil
}

// UndoPoint marks a point as undone and recomputes the score. Undo is accepted while
// the match is in progress or paused and rejected once it is finished.
func (s *Service) UndoPoint(ctx context.Context, principalID string, pointID int64) (PointResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pointField := zap.Int64("point_id", pointID)
	if pointID <= 0 {
		return PointResult{}, s.fail(opUndoPoint, fmt.Errorf("%w: point id must be positive", ErrValidation), pointField)
	}
	point, err := s.store.GetPoint(ctx, pointID)
	if err != nil {
		return PointResult{}, s.fail(opUndoPoint, err, pointField)
	}
	match, err := s.store.GetMatch(ctx, point.MatchID)
	if err != nil {
		return PointResult{}, s.fail(opUndoPoint, err, pointField)
	}
	decision, err := s.authorize(ctx, opUndoPoint, principalID, match, officialRequirements...)
	if err != nil {
		return PointResult{}, s.fail(opUndoPoint, err, pointField, zap.String("principal_id", principalID))
	}

	var (
		result PointResult
		event  MatchEvent
	)
	err = s.critical(ctx, opUndoPoint, point.MatchID, func(tx MatchTx) error {
		current := tx.Match()
		if err := confirmAuthorized(decision, principalID, current); err != nil {
			return err
		}
		if !acceptsUndo(current.Status) {
			return fmt.Errorf("%w: match %s is %s", ErrMatchNotActive, current.ID, current.Status)
		}
		locked, err := tx.GetPoint(pointID)
		if err != nil {
			return err
		}
		if locked.IsUndone {
			return fmt.Errorf("%w: point %d", ErrPointAlreadyUndone, pointID)
		}
		undoneAt := s.nowMillis()
		if err := tx.MarkPointUndone(pointID, undoneAt, principalID); err != nil {
			return err
		}
		score, err := s.recomputeWithin(tx)
		if err != nil {
			return err
		}
		advanced, err := s.advance(tx, current, undoneAt)
		if err != nil {
			return err
		}
		locked.IsUndone = true
		locked.UndoneAtMillis = &undoneAt
		locked.UndoneBy = principalID
		result = PointResult{Point: locked, Score: score}
		event = committedEvent(advanced, EventPointUndone)
		return nil
	})
	if err != nil {
		return PointResult{}, s.fail(opUndoPoint, err, pointField, zap.String("match_id", point.MatchID))
	}

	s.metrics.IncPointsUndone()
	s.logger.Debug("point undone", zap.String("match_id", point.MatchID), pointField)
	score := result.Score
	event.Score = &score
	event.PointID = pointID
	s.publish(event)
	return result, nil
}

// ListPoints returns the non-undone points of a match in receipt order.
func (s *Service) ListPoints(ctx context.Context, matchID string) ([]Point, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	matchID, err := requireID("match", matchID)
	if err != nil {
		return nil, s.fail(opListPoints, err)
	}
	if _, err := s.store.GetMatch(ctx, matchID); err != nil {
		return nil, s.fail(opListPoints, err, zap.String("match_id", matchID))
	}
	points, err := s.store.ListActivePoints(ctx, matchID)
	if err != nil {
		return nil, s.fail(opListPoints, err, zap.String("match_id", matchID))
	}
	return points, nil
}

// RecomputeScore rebuilds the materialized score of a match from its point log.
func (s *Service) RecomputeScore(ctx context.Context, matchID string) (MatchScore, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	matchID, err := requireID("match", matchID)
	if err != nil {
		return MatchScore{}, s.fail(opRecomputeScore, err)
	}
	score, _, err := s.repairScore(ctx, opRecomputeScore, matchID)
	if err != nil {
		return MatchScore{}, s.fail(opRecomputeScore, err, zap.String("match_id", matchID))
	}
	return score, nil
}

// ReconcileReport summarizes a reconciliation sweep.
type ReconcileReport struct {
	Checked  int
	Repaired int
	Failed   int
}

// ReconcileScores recomputes the score of every match in play or paused and
// reports how many stored scores disagreed with their point log.
func (s *Service) ReconcileScores(ctx context.Context) (ReconcileReport, error) {
	listCtx, cancel := s.withTimeout(ctx)
	matches, err := s.store.ListMatchesByStatus(listCtx, StatusInProgress, StatusPaused)
	cancel()
	if err != nil {
		return ReconcileReport{}, s.fail(opReconcileScores, err)
	}

	report := ReconcileReport{}
	for _, match := range matches {
		if ctx.Err() != nil {
			return report, s.fail(opReconcileScores, ctx.Err())
		}
		matchCtx, cancelMatch := s.withTimeout(ctx)
		_, repaired, err := s.repairScore(matchCtx, opReconcileScores, match.ID)
		cancelMatch()
		report.Checked++
		if err != nil {
			report.Failed++
			_ = s.fail(opReconcileScores, err, zap.String("match_id", match.ID))
			continue
		}
		if repaired {
			report.Repaired++
		}
	}

	s.metrics.IncReconcileRuns()
	s.metrics.AddScoreRepairs(report.Repaired)
	if report.Repaired > 0 || report.Failed > 0 {
		s.logger.Warn("score reconciliation found drift",
			zap.Int("checked", report.Checked),
			zap.Int("repaired", report.Repaired),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// repairScore recomputes the score and reports whether the stored counts changed.
func (s *Service) repairScore(ctx context.Context, operation, matchID string) (MatchScore, bool, error) {
	var (
		score    MatchScore
		repaired bool
		event    MatchEvent
	)
	err := s.critical(ctx, operation, matchID, func(tx MatchTx) error {
		previous, err := tx.CurrentScore()
		missing := errors.Is(err, ErrNotFound)
		if err != nil && !missing {
			return err
		}
		score, err = s.recomputeWithin(tx)
		if err != nil {
			return err
		}
		repaired = missing || !sameCounts(previous, score)
		if !repaired {
			return nil
		}
		advanced, err := s.advance(tx, tx.Match(), score.UpdatedAtMillis)
		if err != nil {
			return err
		}
		event = committedEvent(advanced, EventScoreRepaired)
		return nil
	})
	if err != nil {
		return MatchScore{}, false, err
	}
	if repaired {
		published := score
		s.logger.Info("match score repaired",
			zap.String("match_id", matchID),
			zap.Int("game_count_a", score.GameCountA),
			zap.Int("game_count_b", score.GameCountB))
		event.Score = &published
		s.publish(event)
	}
	return score, repaired, nil
}

func (s *Service) recomputeWithin(tx MatchTx) (MatchScore, error) {
	points, err := tx.ActivePoints()
	if err != nil {
		return MatchScore{}, err
	}
	score := aggregateScore(tx.Match().ID, points, s.nowMillis())
	if err := tx.UpsertScore(score); err != nil {
		return MatchScore{}, err
	}
	return score, nil
}

func sideLabel(pointType PointType) string {
	switch pointType {
	case PointTypeA:
		return string(SideA)
	case PointTypeB:
		return string(SideB)
	default:
		return "unknown"
	}
}

// ParsePointID parses a point identifier from its decimal form.
func ParsePointID(value string) (int64, error) {
	pointID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || pointID <= 0 {
		return 0, fmt.Errorf("%w: invalid point id %q", ErrValidation, value)
	}
	return pointID, nil
}
