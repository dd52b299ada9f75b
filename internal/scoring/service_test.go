package scoring

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	authorizer, err := permissions.NewService(permissions.ServiceConfig{Store: permissions.NewMemoryRoleStore()})
	require.NoError(t, err)

	_, err = NewService(ServiceConfig{Authorizer: authorizer, IDProvider: NewUUIDProvider()})
	require.ErrorIs(t, err, errMissingStore)

	_, err = NewService(ServiceConfig{Store: NewMemoryStore(), IDProvider: NewUUIDProvider()})
	require.ErrorIs(t, err, errMissingAuthorizer)

	_, err = NewService(ServiceConfig{Store: NewMemoryStore(), Authorizer: authorizer})
	require.ErrorIs(t, err, errMissingIDProvider)
}

func TestScoringScenario(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.createMatch(t, testTournamentID, nil)
			require.Equal(t, StatusPending, match.Status)

			_, err := f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
			requireKind(t, err, ErrMatchNotActive)

			started, err := f.service.StartMatch(ctx, testUmpireID, match.ID)
			require.NoError(t, err)
			require.Equal(t, StatusInProgress, started.Status)

			pointIDs := make([]int64, 0, 4)
			for _, side := range []string{"A", "A", "A", "B"} {
				result, err := f.service.AddPoint(ctx, testUmpireID, match.ID, side)
				require.NoError(t, err)
				pointIDs = append(pointIDs, result.Point.ID)
			}

			points, err := f.service.ListPoints(ctx, match.ID)
			require.NoError(t, err)
			require.Len(t, points, 4)
			for index, point := range points {
				assert.Equal(t, pointIDs[index], point.ID)
			}

			view, err := f.service.GetMatch(ctx, match.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, view.Score.GameCountA)
			assert.Equal(t, 1, view.Score.GameCountB)

			undone, err := f.service.UndoPoint(ctx, testUmpireID, pointIDs[1])
			require.NoError(t, err)
			assert.True(t, undone.Point.IsUndone)
			assert.Equal(t, 2, undone.Score.GameCountA)
			assert.Equal(t, 1, undone.Score.GameCountB)

			points, err = f.service.ListPoints(ctx, match.ID)
			require.NoError(t, err)
			require.Len(t, points, 3)
			for _, point := range points {
				assert.NotEqual(t, pointIDs[1], point.ID)
			}
		})
	}
}

func TestStartMatchStampsStartedAtOnce(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.createMatch(t, testTournamentID, nil)
			require.Nil(t, match.StartedAtMillis)

			started, err := f.service.StartMatch(ctx, testAdminID, match.ID)
			require.NoError(t, err)
			require.NotNil(t, started.StartedAtMillis)
			startedAt := *started.StartedAtMillis

			_, err = f.service.StartMatch(ctx, testAdminID, match.ID)
			serviceErr := requireKind(t, err, ErrInvalidStateTransition)
			assert.Equal(t, "scoring.start_match.invalid_state_transition", serviceErr.Code())

			_, err = f.service.FinishMatch(ctx, testAdminID, match.ID)
			require.NoError(t, err)
			_, err = f.service.StartMatch(ctx, testAdminID, match.ID)
			requireKind(t, err, ErrInvalidStateTransition)

			view, err := f.service.GetMatch(ctx, match.ID)
			require.NoError(t, err)
			require.NotNil(t, view.Match.StartedAtMillis)
			assert.Equal(t, startedAt, *view.Match.StartedAtMillis)
			assert.True(t, view.Match.IsConfirmed)
		})
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.createMatch(t, testTournamentID, nil)

			_, err := f.service.PauseMatch(ctx, testUmpireID, match.ID)
			requireKind(t, err, ErrInvalidStateTransition)
			_, err = f.service.ResumeMatch(ctx, testUmpireID, match.ID)
			requireKind(t, err, ErrInvalidStateTransition)

			started, err := f.service.StartMatch(ctx, testUmpireID, match.ID)
			require.NoError(t, err)
			_, err = f.service.AddPoint(ctx, testUmpireID, match.ID, "B")
			require.NoError(t, err)

			_, err = f.service.ResumeMatch(ctx, testUmpireID, match.ID)
			requireKind(t, err, ErrInvalidStateTransition)

			paused, err := f.service.PauseMatch(ctx, testUmpireID, match.ID)
			require.NoError(t, err)
			require.Equal(t, StatusPaused, paused.Status)

			_, err = f.service.PauseMatch(ctx, testUmpireID, match.ID)
			requireKind(t, err, ErrInvalidStateTransition)
			_, err = f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
			requireKind(t, err, ErrMatchNotActive)

			resumed, err := f.service.ResumeMatch(ctx, testUmpireID, match.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusInProgress, resumed.Status)
			assert.Equal(t, *started.StartedAtMillis, *resumed.StartedAtMillis)

			points, err := f.service.ListPoints(ctx, match.ID)
			require.NoError(t, err)
			assert.Len(t, points, 1)
		})
	}
}

func TestUpdateDrawSlotsOnlyWhilePending(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.createMatch(t, testTournamentID, nil)
			home, err := f.service.IssueEntry(ctx, testTournamentAdminID, testTournamentID, "Home")
			require.NoError(t, err)
			away, err := f.service.IssueEntry(ctx, testTournamentAdminID, testTournamentID, "Away")
			require.NoError(t, err)
			foreign, err := f.service.IssueEntry(ctx, testAdminID, otherTournamentID, "Visitor")
			require.NoError(t, err)

			edit := []SlotAssignment{
				{Side: SideA, EntryID: stringPointer(home.ID)},
				{Side: SideB, EntryID: stringPointer(away.ID)},
			}

			_, err = f.service.UpdateDrawSlots(ctx, testStrangerID, match.ID, edit)
			requireKind(t, err, ErrPermissionDenied)

			_, err = f.service.UpdateDrawSlots(ctx, testTournamentAdminID, match.ID, []SlotAssignment{
				{Side: SideA, EntryID: stringPointer(foreign.ID)},
			})
			requireKind(t, err, ErrValidation)

			_, err = f.service.UpdateDrawSlots(ctx, testTournamentAdminID, match.ID, []SlotAssignment{
				{Side: SideA}, {Side: "a"},
			})
			requireKind(t, err, ErrValidation)

			slots, err := f.service.UpdateDrawSlots(ctx, testTournamentAdminID, match.ID, edit)
			require.NoError(t, err)
			require.Len(t, slots, 2)

			view, err := f.service.GetMatch(ctx, match.ID)
			require.NoError(t, err)
			require.Len(t, view.Slots, 2)
			assert.Equal(t, SideA, view.Slots[0].Side)
			assert.Equal(t, home.ID, *view.Slots[0].EntryID)

			_, err = f.service.StartMatch(ctx, testUmpireID, match.ID)
			require.NoError(t, err)

			_, err = f.service.UpdateDrawSlots(ctx, testTournamentAdminID, match.ID, edit)
			serviceErr := requireKind(t, err, ErrInvalidStateTransition)
			assert.Contains(t, serviceErr.Error(), "requires status pending")
		})
	}
}

func TestVerifyToken(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.createMatch(t, testTournamentID, nil)

			present, err := f.service.IssueEntry(ctx, testTournamentAdminID, testTournamentID, "Present")
			require.NoError(t, err)
			absent, err := f.service.IssueEntry(ctx, testTournamentAdminID, testTournamentID, "Absent")
			require.NoError(t, err)
			elsewhere, err := f.service.IssueEntry(ctx, testAdminID, otherTournamentID, "Elsewhere")
			require.NoError(t, err)

			requireKind(t, f.service.VerifyToken(ctx, match.ID, present.DayToken), ErrInvalidToken)

			checkedIn, err := f.service.CheckInEntry(ctx, testTournamentAdminID, present.ID)
			require.NoError(t, err)
			require.True(t, checkedIn.IsCheckedIn)
			_, err = f.service.CheckInEntry(ctx, testAdminID, elsewhere.ID)
			require.NoError(t, err)

			require.NoError(t, f.service.VerifyToken(ctx, match.ID, present.DayToken))

			for _, token := range []string{absent.DayToken, elsewhere.DayToken, "not-a-token", ""} {
				serviceErr := requireKind(t, f.service.VerifyToken(ctx, match.ID, token), ErrInvalidToken)
				assert.Equal(t, "scoring.verify_token.invalid_token", serviceErr.Code())
			}

			requireKind(t, f.service.VerifyToken(ctx, "missing-match", present.DayToken), ErrNotFound)
		})
	}
}

func TestCheckInRequiresTournamentAdmin(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ctx := context.Background()
	entry, err := f.service.IssueEntry(ctx, testTournamentAdminID, testTournamentID, "Player")
	require.NoError(t, err)

	_, err = f.service.CheckInEntry(ctx, testUmpireID, entry.ID)
	requireKind(t, err, ErrPermissionDenied)
	_, err = f.service.IssueEntry(ctx, testTournamentAdminID, otherTournamentID, "Player")
	requireKind(t, err, ErrPermissionDenied)
	_, err = f.service.CheckInEntry(ctx, testTournamentAdminID, "missing-entry")
	requireKind(t, err, ErrNotFound)
}

func TestUndoIsOneWay(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.startedMatch(t)

			result, err := f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
			require.NoError(t, err)
			_, err = f.service.UndoPoint(ctx, testUmpireID, result.Point.ID)
			require.NoError(t, err)

			_, err = f.service.UndoPoint(ctx, testUmpireID, result.Point.ID)
			serviceErr := requireKind(t, err, ErrPointAlreadyUndone)
			assert.Equal(t, "scoring.undo_point.point_already_undone", serviceErr.Code())

			_, err = f.service.AddPoint(ctx, testUmpireID, match.ID, "B")
			require.NoError(t, err)
			_, err = f.service.PauseMatch(ctx, testUmpireID, match.ID)
			require.NoError(t, err)
			_, err = f.service.ResumeMatch(ctx, testUmpireID, match.ID)
			require.NoError(t, err)
			_, err = f.service.RecomputeScore(ctx, match.ID)
			require.NoError(t, err)

			stored, err := f.store.GetPoint(ctx, result.Point.ID)
			require.NoError(t, err)
			assert.True(t, stored.IsUndone)
			require.NotNil(t, stored.UndoneAtMillis)
			assert.Equal(t, testUmpireID, stored.UndoneBy)

			_, err = f.service.UndoPoint(ctx, testUmpireID, 9999)
			requireKind(t, err, ErrNotFound)
		})
	}
}

func TestUndoPolicyByStatus(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.startedMatch(t)

			first, err := f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
			require.NoError(t, err)
			second, err := f.service.AddPoint(ctx, testUmpireID, match.ID, "B")
			require.NoError(t, err)

			_, err = f.service.PauseMatch(ctx, testUmpireID, match.ID)
			require.NoError(t, err)
			paused, err := f.service.UndoPoint(ctx, testUmpireID, first.Point.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, paused.Score.GameCountA)

			_, err = f.service.FinishMatch(ctx, testTournamentAdminID, match.ID)
			require.NoError(t, err)
			_, err = f.service.UndoPoint(ctx, testUmpireID, second.Point.ID)
			requireKind(t, err, ErrMatchNotActive)
			_, err = f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
			requireKind(t, err, ErrMatchNotActive)

			view, err := f.service.GetMatch(ctx, match.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, view.Score.GameCountA)
			assert.Equal(t, 1, view.Score.GameCountB)
		})
	}
}

func TestScoreMatchesLogAfterRandomOperations(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.startedMatch(t)
			random := rand.New(rand.NewSource(11))

			active := make(map[int64]PointType)
			for step := 0; step < 60; step++ {
				if len(active) > 0 && random.Intn(3) == 0 {
					var victim int64
					for pointID := range active {
						victim = pointID
						break
					}
					_, err := f.service.UndoPoint(ctx, testUmpireID, victim)
					require.NoError(t, err)
					delete(active, victim)
				} else {
					side := "A"
					if random.Intn(2) == 0 {
						side = "B"
					}
					result, err := f.service.AddPoint(ctx, testUmpireID, match.ID, side)
					require.NoError(t, err)
					active[result.Point.ID] = result.Point.PointType
				}

				expectedA, expectedB := 0, 0
				for _, pointType := range active {
					if pointType == PointTypeA {
						expectedA++
					} else {
						expectedB++
					}
				}
				view, err := f.service.GetMatch(ctx, match.ID)
				require.NoError(t, err)
				require.Equal(t, expectedA, view.Score.GameCountA, "step %d", step)
				require.Equal(t, expectedB, view.Score.GameCountB, "step %d", step)
			}

			points, err := f.service.ListPoints(ctx, match.ID)
			require.NoError(t, err)
			require.Len(t, points, len(active))
			for index := 1; index < len(points); index++ {
				previous, current := points[index-1], points[index]
				ordered := previous.ServerReceivedMillis < current.ServerReceivedMillis ||
					(previous.ServerReceivedMillis == current.ServerReceivedMillis && previous.ID < current.ID)
				require.True(t, ordered, "points out of order at %d", index)
			}
		})
	}
}

func TestAuthorizationIsAnyQualifyingRole(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			const recordedUmpire = "match-official"
			officiated := f.createMatch(t, testTournamentID, stringPointer(recordedUmpire))
			other := f.createMatch(t, testTournamentID, nil)

			_, err := f.service.StartMatch(ctx, testStrangerID, officiated.ID)
			serviceErr := requireKind(t, err, ErrPermissionDenied)
			assert.Equal(t, "scoring.start_match.permission_denied", serviceErr.Code())

			_, err = f.service.StartMatch(ctx, recordedUmpire, other.ID)
			requireKind(t, err, ErrPermissionDenied)

			_, err = f.service.StartMatch(ctx, recordedUmpire, officiated.ID)
			require.NoError(t, err)
			_, err = f.service.AddPoint(ctx, recordedUmpire, officiated.ID, "A")
			require.NoError(t, err)
			_, err = f.service.AddPoint(ctx, testStrangerID, officiated.ID, "A")
			requireKind(t, err, ErrPermissionDenied)

			_, err = f.service.PauseMatch(ctx, testStrangerID, officiated.ID)
			require.NoError(t, err)
			_, err = f.service.ResumeMatch(ctx, testStrangerID, officiated.ID)
			requireKind(t, err, ErrPermissionDenied)
			_, err = f.service.ResumeMatch(ctx, testTournamentAdminID, officiated.ID)
			require.NoError(t, err)

			_, err = f.service.FinishMatch(ctx, recordedUmpire, officiated.ID)
			requireKind(t, err, ErrPermissionDenied)
			_, err = f.service.FinishMatch(ctx, testUmpireID, officiated.ID)
			requireKind(t, err, ErrPermissionDenied)
			finished, err := f.service.FinishMatch(ctx, testAdminID, officiated.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusFinished, finished.Status)

			_, err = f.service.CreateMatch(ctx, testUmpireID, NewMatch{TournamentID: testTournamentID})
			requireKind(t, err, ErrPermissionDenied)
		})
	}
}

func TestPermissionDeniedIsLoggedWithoutLeakingToCode(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	match := f.createMatch(t, testTournamentID, nil)

	_, err := f.service.StartMatch(context.Background(), testStrangerID, match.ID)
	serviceErr := requireKind(t, err, ErrPermissionDenied)
	assert.Equal(t, "permission_denied", serviceErr.Reason())

	entries := f.logs.FilterMessage("scoring operation rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, 1, f.metrics.Failures(opStartMatch, "permission_denied"))
}

func TestFailedScoreWriteLeavesMatchUntouched(t *testing.T) {
	store := NewMemoryStore()
	f := newFixture(t, store)
	ctx := context.Background()
	match := f.startedMatch(t)
	first, err := f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
	require.NoError(t, err)

	store.FailScoreWrites(errors.New("disk full"))
	_, err = f.service.AddPoint(ctx, testUmpireID, match.ID, "B")
	serviceErr := requireKind(t, err, ErrPersistence)
	assert.False(t, serviceErr.Retryable())
	_, err = f.service.UndoPoint(ctx, testUmpireID, first.Point.ID)
	requireKind(t, err, ErrPersistence)

	points, err := f.service.ListPoints(ctx, match.ID)
	require.NoError(t, err)
	require.Len(t, points, 1)
	view, err := f.service.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Score.GameCountA)
	assert.Equal(t, 0, view.Score.GameCountB)

	store.FailScoreWrites(nil)
	_, err = f.service.AddPoint(ctx, testUmpireID, match.ID, "B")
	require.NoError(t, err)
}

func TestFinishRacingAddPointNeverAcceptsLatePoints(t *testing.T) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.open(t))
			ctx := context.Background()
			match := f.startedMatch(t)

			var (
				waitGroup sync.WaitGroup
				mu        sync.Mutex
				accepted  int
			)
			for worker := 0; worker < 8; worker++ {
				waitGroup.Add(1)
				go func(worker int) {
					defer waitGroup.Done()
					for attempt := 0; attempt < 10; attempt++ {
						side := "A"
						if (worker+attempt)%2 == 0 {
							side = "B"
						}
						_, err := f.service.AddPoint(ctx, testUmpireID, match.ID, side)
						if err == nil {
							mu.Lock()
							accepted++
							mu.Unlock()
							continue
						}
						if !errors.Is(err, ErrMatchNotActive) {
							t.Errorf("unexpected add point failure: %v", err)
						}
					}
				}(worker)
			}
			waitGroup.Add(1)
			go func() {
				defer waitGroup.Done()
				time.Sleep(2 * time.Millisecond)
				if _, err := f.service.FinishMatch(ctx, testAdminID, match.ID); err != nil {
					t.Errorf("finish failed: %v", err)
				}
			}()
			waitGroup.Wait()

			points, err := f.service.ListPoints(ctx, match.ID)
			require.NoError(t, err)
			assert.Len(t, points, accepted)
			view, err := f.service.GetMatch(ctx, match.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusFinished, view.Match.Status)
			assert.Equal(t, accepted, view.Score.GameCountA+view.Score.GameCountB)

			_, err = f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
			requireKind(t, err, ErrMatchNotActive)
		})
	}
}

type stalledStore struct {
	Store
}

func (s stalledStore) WithMatch(ctx context.Context, _ string, _ func(tx MatchTx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPersistenceTimeoutIsRetryable(t *testing.T) {
	memory := NewMemoryStore()
	f := newFixture(t, memory)
	match := f.createMatch(t, testTournamentID, nil)

	authorizer, err := permissions.NewService(permissions.ServiceConfig{Store: f.roles})
	require.NoError(t, err)
	service, err := NewService(ServiceConfig{
		Store:              stalledStore{Store: memory},
		Authorizer:         authorizer,
		IDProvider:         &sequenceIDProvider{},
		PersistenceTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = service.StartMatch(context.Background(), testAdminID, match.ID)
	serviceErr := requireKind(t, err, ErrPersistence)
	assert.True(t, serviceErr.Retryable())
	assert.Equal(t, "scoring.start_match.timeout", serviceErr.Code())
}

func TestEventsArePublishedAfterCommit(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ctx := context.Background()
	match := f.startedMatch(t)
	result, err := f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
	require.NoError(t, err)
	_, err = f.service.AddPoint(ctx, testStrangerID, match.ID, "A")
	require.Error(t, err)

	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventStatusChanged, events[0].Type)
	assert.Equal(t, StatusInProgress, events[0].Status)
	assert.Equal(t, EventPointRecorded, events[1].Type)
	assert.Equal(t, result.Point.ID, events[1].PointID)
	require.NotNil(t, events[1].Score)
	assert.Equal(t, 1, events[1].Score.GameCountA)
	assert.Equal(t, 1, f.metrics.PointsRecorded("A"))
	assert.Equal(t, 1, f.metrics.Transitions("start"))
}

func TestListPointsUnknownMatch(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	_, err := f.service.ListPoints(context.Background(), "nope")
	requireKind(t, err, ErrNotFound)
	_, err = f.service.ListPoints(context.Background(), "  ")
	requireKind(t, err, ErrValidation)
}
