package scoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Each match has its own mutex and writes
// made inside WithMatch are staged until the callback succeeds.
type MemoryStore struct {
	mu            sync.RWMutex
	matches       map[string]Match
	scores        map[string]MatchScore
	slots         map[string][]DrawSlot
	points        map[int64]Point
	matchPoints   map[string][]int64
	entries       map[string]TournamentEntry
	nextPointID   int64
	scoreWriteErr error

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches:     make(map[string]Match),
		scores:      make(map[string]MatchScore),
		slots:       make(map[string][]DrawSlot),
		points:      make(map[int64]Point),
		matchPoints: make(map[string][]int64),
		entries:     make(map[string]TournamentEntry),
		locks:       make(map[string]*sync.Mutex),
	}
}

var _ Store = (*MemoryStore)(nil)

// FailScoreWrites makes every subsequent score upsert return err. Passing nil clears it.
func (s *MemoryStore) FailScoreWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scoreWriteErr = err
}

func (s *MemoryStore) matchLock(matchID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[matchID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[matchID] = lock
	}
	return lock
}

func (s *MemoryStore) WithMatch(ctx context.Context, matchID string, fn func(tx MatchTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.matchLock(matchID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	match, ok := s.matches[matchID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}

	tx := &memoryMatchTx{store: s, match: match, undone: make(map[int64]undoMark)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryMatchTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matchID := tx.match.ID
	if tx.matchDirty {
		s.matches[matchID] = tx.match
	}
	for _, point := range tx.appended {
		s.points[point.ID] = point
		s.matchPoints[matchID] = append(s.matchPoints[matchID], point.ID)
	}
	for pointID, mark := range tx.undone {
		point := s.points[pointID]
		point.IsUndone = true
		undoneAt := mark.atMillis
		point.UndoneAtMillis = &undoneAt
		point.UndoneBy = mark.by
		s.points[pointID] = point
	}
	if tx.score != nil {
		s.scores[matchID] = *tx.score
	}
	if tx.slotsSet {
		s.slots[matchID] = tx.slots
	}
}

func (s *MemoryStore) CreateMatch(ctx context.Context, match Match, score MatchScore) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[match.ID]; exists {
		return fmt.Errorf("match %s already exists", match.ID)
	}
	s.matches[match.ID] = match
	score.MatchID = match.ID
	s.scores[match.ID] = score
	return nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, matchID string) (Match, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[matchID]
	if !ok {
		return Match{}, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	return match, nil
}

func (s *MemoryStore) ListMatchesByStatus(ctx context.Context, statuses ...MatchStatus) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[MatchStatus]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Match, 0, len(s.matches))
	for _, match := range s.matches {
		if _, ok := wanted[match.Status]; ok || len(wanted) == 0 {
			matches = append(matches, match)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

func (s *MemoryStore) GetScore(ctx context.Context, matchID string) (MatchScore, error) {
	if err := ctx.Err(); err != nil {
		return MatchScore{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[matchID]
	if !ok {
		return MatchScore{}, fmt.Errorf("%w: score %s", ErrNotFound, matchID)
	}
	return score, nil
}

func (s *MemoryStore) ListSlots(ctx context.Context, matchID string) ([]DrawSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DrawSlot(nil), s.slots[matchID]...), nil
}

func (s *MemoryStore) GetPoint(ctx context.Context, pointID int64) (Point, error) {
	if err := ctx.Err(); err != nil {
		return Point{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	point, ok := s.points[pointID]
	if !ok {
		return Point{}, fmt.Errorf("%w: point %d", ErrNotFound, pointID)
	}
	return point, nil
}

func (s *MemoryStore) ListActivePoints(ctx context.Context, matchID string) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePointsLocked(matchID, nil, nil), nil
}

func (s *MemoryStore) activePointsLocked(matchID string, staged []Point, undone map[int64]undoMark) []Point {
	points := make([]Point, 0, len(s.matchPoints[matchID])+len(staged))
	for _, pointID := range s.matchPoints[matchID] {
		point := s.points[pointID]
		if _, ok := undone[pointID]; ok || point.IsUndone {
			continue
		}
		points = append(points, point)
	}
	for _, point := range staged {
		if _, ok := undone[point.ID]; ok {
			continue
		}
		points = append(points, point)
	}
	sortPoints(points)
	return points
}

func (s *MemoryStore) CreateEntry(ctx context.Context, entry TournamentEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("entry %s already exists", entry.ID)
	}
	for _, existing := range s.entries {
		if existing.DayToken == entry.DayToken {
			return fmt.Errorf("day token already issued")
		}
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, entryID string) (TournamentEntry, error) {
	if err := ctx.Err(); err != nil {
		return TournamentEntry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return TournamentEntry{}, fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}
	return entry, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, tournamentID string) ([]TournamentEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]TournamentEntry, 0)
	for _, entry := range s.entries {
		if entry.TournamentID == tournamentID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (s *MemoryStore) MarkEntryCheckedIn(ctx context.Context, entryID string, checkedInAtMillis int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}
	if entry.IsCheckedIn {
		return nil
	}
	entry.IsCheckedIn = true
	entry.CheckedInAtMillis = &checkedInAtMillis
	s.entries[entryID] = entry
	return nil
}

type undoMark struct {
	atMillis int64
	by       string
}

type memoryMatchTx struct {
	store      *MemoryStore
	match      Match
	matchDirty bool
	appended   []Point
	undone     map[int64]undoMark
	score      *MatchScore
	slots      []DrawSlot
	slotsSet   bool
}

func (t *memoryMatchTx) Match() Match {
	return t.match
}

func (t *memoryMatchTx) SaveMatch(match Match) error {
	if match.ID != t.match.ID {
		return fmt.Errorf("match %s is outside the critical section for %s", match.ID, t.match.ID)
	}
	t.match = match
	t.matchDirty = true
	return nil
}

func (t *memoryMatchTx) GetPoint(pointID int64) (Point, error) {
	for _, point := range t.appended {
		if point.ID == pointID {
			return t.applyUndo(point), nil
		}
	}
	t.store.mu.RLock()
	point, ok := t.store.points[pointID]
	t.store.mu.RUnlock()
	if !ok || point.MatchID != t.match.ID {
		return Point{}, fmt.Errorf("%w: point %d", ErrNotFound, pointID)
	}
	return t.applyUndo(point), nil
}

func (t *memoryMatchTx) applyUndo(point Point) Point {
	if mark, ok := t.undone[point.ID]; ok {
		point.IsUndone = true
		undoneAt := mark.atMillis
		point.UndoneAtMillis = &undoneAt
		point.UndoneBy = mark.by
	}
	return point
}

func (t *memoryMatchTx) AppendPoint(point *Point) error {
	if point == nil {
		return fmt.Errorf("%w: point is required", ErrValidation)
	}
	t.store.mu.Lock()
	t.store.nextPointID++
	point.ID = t.store.nextPointID
	t.store.mu.Unlock()
	point.MatchID = t.match.ID
	t.appended = append(t.appended, *point)
	return nil
}

func (t *memoryMatchTx) MarkPointUndone(pointID int64, undoneAtMillis int64, undoneBy string) error {
	point, err := t.GetPoint(pointID)
	if err != nil {
		return err
	}
	if point.IsUndone {
		return fmt.Errorf("%w: point %d", ErrPointAlreadyUndone, pointID)
	}
	t.undone[pointID] = undoMark{atMillis: undoneAtMillis, by: undoneBy}
	return nil
}

func (t *memoryMatchTx) ActivePoints() ([]Point, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.activePointsLocked(t.match.ID, t.appended, t.undone), nil
}

func (t *memoryMatchTx) CurrentScore() (MatchScore, error) {
	if t.score != nil {
		return *t.score, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	score, ok := t.store.scores[t.match.ID]
	if !ok {
		return MatchScore{}, fmt.Errorf("%w: score %s", ErrNotFound, t.match.ID)
	}
	return score, nil
}

func (t *memoryMatchTx) UpsertScore(score MatchScore) error {
	t.store.mu.RLock()
	injected := t.store.scoreWriteErr
	t.store.mu.RUnlock()
	if injected != nil {
		return injected
	}
	score.MatchID = t.match.ID
	t.score = &score
	return nil
}

func (t *memoryMatchTx) ReplaceSlots(slots []DrawSlot) error {
	staged := make([]DrawSlot, len(slots))
	for index, slot := range slots {
		slot.MatchID = t.match.ID
		staged[index] = slot
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i].Side < staged[j].Side })
	t.slots = staged
	t.slotsSet = true
	return nil
}

func sortPoints(points []Point) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].ServerReceivedMillis != points[j].ServerReceivedMillis {
			return points[i].ServerReceivedMillis < points[j].ServerReceivedMillis
		}
		return points[i].ID < points[j].ID
	})
}
