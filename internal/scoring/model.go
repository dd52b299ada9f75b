package scoring

import (
	"fmt"
	"strings"
)

// MatchStatus enumerates the lifecycle states of a match.
type MatchStatus string

const (
	StatusPending    MatchStatus = "pending"
	StatusInProgress MatchStatus = "inprogress"
	StatusPaused     MatchStatus = "paused"
	StatusFinished   MatchStatus = "finished"
)

func (s MatchStatus) String() string {
	return string(s)
}

// PointType identifies which side a point was awarded to.
type PointType string

const (
	PointTypeA PointType = "A_score"
	PointTypeB PointType = "B_score"
)

// ParsePointType accepts either the side letter or the stored point type.
func ParsePointType(value string) (PointType, error) {
	switch strings.TrimSpace(value) {
	case "A", "a", string(PointTypeA):
		return PointTypeA, nil
	case "B", "b", string(PointTypeB):
		return PointTypeB, nil
	case "":
		return "", fmt.Errorf("%w: category is required", ErrValidation)
	default:
		return "", fmt.Errorf("%w: unknown category %q", ErrValidation, value)
	}
}

// Side is a slot position in a match.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Match stores the lifecycle state of a single contest. Version increases with
// every committed change and orders the events published for the match.
type Match struct {
	ID              string      `gorm:"column:id;primaryKey;size:64;not null"`
	TournamentID    string      `gorm:"column:tournament_id;size:64;not null;index"`
	Status          MatchStatus `gorm:"column:status;size:16;not null;index"`
	UmpireID        *string     `gorm:"column:umpire_id;size:190"`
	IsConfirmed     bool        `gorm:"column:is_confirmed;not null;default:false"`
	StartedAtMillis *int64      `gorm:"column:started_at_ms"`
	Version         int64       `gorm:"column:version;not null;default:0"`
	CreatedAtMillis int64       `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64       `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Match) TableName() string {
	return "matches"
}

// Point is an append-only scoring event. Only the undo columns ever change.
type Point struct {
	ID                   int64     `gorm:"column:id;primaryKey;autoIncrement"`
	MatchID              string    `gorm:"column:match_id;size:64;not null;index:idx_match_points_order,priority:1"`
	PointType            PointType `gorm:"column:point_type;size:16;not null"`
	IsUndone             bool      `gorm:"column:is_undone;not null;default:false"`
	ServerReceivedMillis int64     `gorm:"column:server_received_at_ms;not null;index:idx_match_points_order,priority:2"`
	RecordedBy           string    `gorm:"column:recorded_by;size:190"`
	UndoneAtMillis       *int64    `gorm:"column:undone_at_ms"`
	UndoneBy             string    `gorm:"column:undone_by;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (Point) TableName() string {
	return "match_points"
}

// MatchScore is the materialized count of non-undone points per side.
type MatchScore struct {
	MatchID         string `gorm:"column:match_id;primaryKey;size:64;not null"`
	GameCountA      int    `gorm:"column:game_count_a;not null;default:0"`
	GameCountB      int    `gorm:"column:game_count_b;not null;default:0"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MatchScore) TableName() string {
	return "match_scores"
}

// TournamentEntry is a registered participant holding a day token.
type TournamentEntry struct {
	ID                string `gorm:"column:id;primaryKey;size:64;not null"`
	TournamentID      string `gorm:"column:tournament_id;size:64;not null;index"`
	DisplayName       string `gorm:"column:display_name;size:320"`
	DayToken          string `gorm:"column:day_token;size:128;not null;uniqueIndex"`
	IsCheckedIn       bool   `gorm:"column:is_checked_in;not null;default:false"`
	CheckedInAtMillis *int64 `gorm:"column:checked_in_at_ms"`
	CreatedAtMillis   int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (TournamentEntry) TableName() string {
	return "tournament_entries"
}

// DrawSlot binds an entry to one side of a match. A nil EntryID is an empty slot.
type DrawSlot struct {
	MatchID string  `gorm:"column:match_id;primaryKey;size:64;not null"`
	Side    Side    `gorm:"column:side;primaryKey;size:1;not null"`
	EntryID *string `gorm:"column:entry_id;size:64"`
}

// TableName provides the explicit table binding for GORM.
func (DrawSlot) TableName() string {
	return "match_slots"
}

// Models lists every table owned by the scoring package.
func Models() []interface{} {
	return []interface{}{&Match{}, &Point{}, &MatchScore{}, &TournamentEntry{}, &DrawSlot{}}
}
