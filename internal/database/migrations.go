package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillMatchScores   = "2026-05-01_backfill_match_scores"
	migrationConfirmFinishedScores = "2026-05-01_confirm_finished_matches"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func migrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationBackfillMatchScores, apply: backfillMatchScores},
		{name: migrationConfirmFinishedScores, apply: confirmFinishedMatches},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

type sideCount struct {
	MatchID   string
	PointType scoring.PointType
	Total     int
}

// backfillMatchScores creates the materialized score row for matches that lack one,
// counting the non-undone points already in the log.
func backfillMatchScores(db *gorm.DB) error {
	var missing []scoring.Match
	err := db.Model(&scoring.Match{}).
		Where("id NOT IN (?)", db.Model(&scoring.MatchScore{}).Select("match_id")).
		Find(&missing).Error
	if err != nil || len(missing) == 0 {
		return err
	}

	matchIDs := make([]string, 0, len(missing))
	scores := make(map[string]*scoring.MatchScore, len(missing))
	nowMillis := time.Now().UTC().UnixMilli()
	for _, match := range missing {
		matchIDs = append(matchIDs, match.ID)
		scores[match.ID] = &scoring.MatchScore{MatchID: match.ID, UpdatedAtMillis: nowMillis}
	}

	var counts []sideCount
	err = db.Model(&scoring.Point{}).
		Select("match_id, point_type, COUNT(*) AS total").
		Where("match_id IN ? AND is_undone = ?", matchIDs, false).
		Group("match_id, point_type").
		Scan(&counts).Error
	if err != nil {
		return err
	}
	for _, count := range counts {
		score := scores[count.MatchID]
		switch count.PointType {
		case scoring.PointTypeA:
			score.GameCountA = count.Total
		case scoring.PointTypeB:
			score.GameCountB = count.Total
		}
	}

	rows := make([]scoring.MatchScore, 0, len(scores))
	for _, matchID := range matchIDs {
		rows = append(rows, *scores[matchID])
	}
	return db.Create(&rows).Error
}

// confirmFinishedMatches marks results finished before confirmation was tracked.
func confirmFinishedMatches(db *gorm.DB) error {
	return db.Model(&scoring.Match{}).
		Where("status = ? AND is_confirmed = ?", scoring.StatusFinished, false).
		Update("is_confirmed", true).Error
}
