package scoring

import "context"

// Store is the persistence port for matches, points, scores, entries and slots.
// Lookups of missing rows return an error matching ErrNotFound.
type Store interface {
	// WithMatch runs fn with exclusive access to one match. Writes made through the
	// MatchTx are committed only when fn returns nil.
	WithMatch(ctx context.Context, matchID string, fn func(tx MatchTx) error) error

	CreateMatch(ctx context.Context, match Match, score MatchScore) error
	GetMatch(ctx context.Context, matchID string) (Match, error)
	ListMatchesByStatus(ctx context.Context, statuses ...MatchStatus) ([]Match, error)
	GetScore(ctx context.Context, matchID string) (MatchScore, error)
	ListSlots(ctx context.Context, matchID string) ([]DrawSlot, error)

	GetPoint(ctx context.Context, pointID int64) (Point, error)
	ListActivePoints(ctx context.Context, matchID string) ([]Point, error)

	CreateEntry(ctx context.Context, entry TournamentEntry) error
	GetEntry(ctx context.Context, entryID string) (TournamentEntry, error)
	ListEntries(ctx context.Context, tournamentID string) ([]TournamentEntry, error)
	MarkEntryCheckedIn(ctx context.Context, entryID string, checkedInAtMillis int64) error
}

// MatchTx is the view of a single match inside Store.WithMatch.
type MatchTx interface {
	// Match returns the match as read when the critical section was entered, plus local writes.
	Match() Match
	SaveMatch(match Match) error
	GetPoint(pointID int64) (Point, error)
	AppendPoint(point *Point) error
	MarkPointUndone(pointID int64, undoneAtMillis int64, undoneBy string) error
	// ActivePoints returns non-undone points ordered by receipt time, then id.
	ActivePoints() ([]Point, error)
	// CurrentScore returns the stored score row, or an ErrNotFound error when none exists yet.
	CurrentScore() (MatchScore, error)
	UpsertScore(score MatchScore) error
	ReplaceSlots(slots []DrawSlot) error
}
