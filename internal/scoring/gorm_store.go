package scoring

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on top of a gorm connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. The schema is expected to be migrated already.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("scoring: database handle is required")
	}
	return &GormStore{db: db}, nil
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) WithMatch(ctx context.Context, matchID string, fn func(tx MatchTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var match Match
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", matchID).
			Take(&match).Error
		if err != nil {
			return translateLookupError(err, "match", matchID)
		}
		return fn(&gormMatchTx{tx: tx, match: match})
	})
}

func (s *GormStore) CreateMatch(ctx context.Context, match Match, score MatchScore) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&match).Error; err != nil {
			return err
		}
		return tx.Create(&score).Error
	})
}

func (s *GormStore) GetMatch(ctx context.Context, matchID string) (Match, error) {
	var match Match
	if err := s.db.WithContext(ctx).Where("id = ?", matchID).Take(&match).Error; err != nil {
		return Match{}, translateLookupError(err, "match", matchID)
	}
	return match, nil
}

func (s *GormStore) ListMatchesByStatus(ctx context.Context, statuses ...MatchStatus) ([]Match, error) {
	var matches []Match
	query := s.db.WithContext(ctx).Order("id ASC")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Find(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *GormStore) GetScore(ctx context.Context, matchID string) (MatchScore, error) {
	var score MatchScore
	if err := s.db.WithContext(ctx).Where("match_id = ?", matchID).Take(&score).Error; err != nil {
		return MatchScore{}, translateLookupError(err, "score", matchID)
	}
	return score, nil
}

func (s *GormStore) ListSlots(ctx context.Context, matchID string) ([]DrawSlot, error) {
	var slots []DrawSlot
	if err := s.db.WithContext(ctx).Where("match_id = ?", matchID).Order("side ASC").Find(&slots).Error; err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *GormStore) GetPoint(ctx context.Context, pointID int64) (Point, error) {
	var point Point
	if err := s.db.WithContext(ctx).Where("id = ?", pointID).Take(&point).Error; err != nil {
		return Point{}, translateLookupError(err, "point", pointID)
	}
	return point, nil
}

func (s *GormStore) ListActivePoints(ctx context.Context, matchID string) ([]Point, error) {
	return listActivePoints(s.db.WithContext(ctx), matchID)
}

func (s *GormStore) CreateEntry(ctx context.Context, entry TournamentEntry) error {
	return s.db.WithContext(ctx).Create(&entry).Error
}

func (s *GormStore) GetEntry(ctx context.Context, entryID string) (TournamentEntry, error) {
	var entry TournamentEntry
	if err := s.db.WithContext(ctx).Where("id = ?", entryID).Take(&entry).Error; err != nil {
		return TournamentEntry{}, translateLookupError(err, "entry", entryID)
	}
	return entry, nil
}

func (s *GormStore) ListEntries(ctx context.Context, tournamentID string) ([]TournamentEntry, error) {
	var entries []TournamentEntry
	if err := s.db.WithContext(ctx).Where("tournament_id = ?", tournamentID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *GormStore) MarkEntryCheckedIn(ctx context.Context, entryID string, checkedInAtMillis int64) error {
	result := s.db.WithContext(ctx).
		Model(&TournamentEntry{}).
		Where("id = ? AND is_checked_in = ?", entryID, false).
		Updates(map[string]interface{}{
			"is_checked_in":    true,
			"checked_in_at_ms": checkedInAtMillis,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetEntry(ctx, entryID); err != nil {
			return err
		}
	}
	return nil
}

type gormMatchTx struct {
	tx    *gorm.DB
	match Match
}

func (t *gormMatchTx) Match() Match {
	return t.match
}

func (t *gormMatchTx) SaveMatch(match Match) error {
	if match.ID != t.match.ID {
		return fmt.Errorf("match %s is outside the critical section for %s", match.ID, t.match.ID)
	}
	if err := t.tx.Save(&match).Error; err != nil {
		return err
	}
	t.match = match
	return nil
}

func (t *gormMatchTx) GetPoint(pointID int64) (Point, error) {
	var point Point
	err := t.tx.Where("id = ? AND match_id = ?", pointID, t.match.ID).Take(&point).Error
	if err != nil {
		return Point{}, translateLookupError(err, "point", pointID)
	}
	return point, nil
}

func (t *gormMatchTx) AppendPoint(point *Point) error {
	if point == nil {
		return fmt.Errorf("%w: point is required", ErrValidation)
	}
	point.MatchID = t.match.ID
	return t.tx.Create(point).Error
}

func (t *gormMatchTx) MarkPointUndone(pointID int64, undoneAtMillis int64, undoneBy string) error {
	result := t.tx.Model(&Point{}).
		Where("id = ? AND match_id = ? AND is_undone = ?", pointID, t.match.ID, false).
		Updates(map[string]interface{}{
			"is_undone":    true,
			"undone_at_ms": undoneAtMillis,
			"undone_by":    undoneBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: point %d", ErrPointAlreadyUndone, pointID)
	}
	return nil
}

func (t *gormMatchTx) ActivePoints() ([]Point, error) {
	return listActivePoints(t.tx, t.match.ID)
}

func (t *gormMatchTx) CurrentScore() (MatchScore, error) {
	var score MatchScore
	if err := t.tx.Where("match_id = ?", t.match.ID).Take(&score).Error; err != nil {
		return MatchScore{}, translateLookupError(err, "score", t.match.ID)
	}
	return score, nil
}

func (t *gormMatchTx) UpsertScore(score MatchScore) error {
	score.MatchID = t.match.ID
	return t.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"game_count_a", "game_count_b", "updated_at_ms"}),
	}).Create(&score).Error
}

func (t *gormMatchTx) ReplaceSlots(slots []DrawSlot) error {
	if err := t.tx.Where("match_id = ?", t.match.ID).Delete(&DrawSlot{}).Error; err != nil {
		return err
	}
	if len(slots) == 0 {
		return nil
	}
	rows := make([]DrawSlot, len(slots))
	for index, slot := range slots {
		slot.MatchID = t.match.ID
		rows[index] = slot
	}
	return t.tx.Create(&rows).Error
}

func listActivePoints(db *gorm.DB, matchID string) ([]Point, error) {
	var points []Point
	err := db.Where("match_id = ? AND is_undone = ?", matchID, false).
		Order("server_received_at_ms ASC").
		Order("id ASC").
		Find(&points).Error
	if err != nil {
		return nil, err
	}
	return points, nil
}

func translateLookupError(err error, resource string, identifier interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %v", ErrNotFound, resource, identifier)
	}
	return err
}
