package scoring

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReconcileScoresRepairsDrift(t *testing.T) {
	db := openSQLiteDatabase(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	f := newFixture(t, store)
	ctx := context.Background()

	drifted := f.startedMatch(t)
	steady := f.startedMatch(t)
	pending := f.createMatch(t, testTournamentID, nil)
	for _, side := range []string{"A", "B", "B"} {
		_, err := f.service.AddPoint(ctx, testUmpireID, drifted.ID, side)
		require.NoError(t, err)
		_, err = f.service.AddPoint(ctx, testUmpireID, steady.ID, side)
		require.NoError(t, err)
	}

	require.NoError(t, db.Model(&MatchScore{}).Where("match_id = ?", drifted.ID).Update("game_count_a", 99).Error)
	require.NoError(t, db.Model(&MatchScore{}).Where("match_id = ?", pending.ID).Update("game_count_b", 5).Error)

	report, err := f.service.ReconcileScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 2, Repaired: 1}, report)

	var repaired MatchScore
	require.NoError(t, db.Where("match_id = ?", drifted.ID).Take(&repaired).Error)
	assert.Equal(t, 1, repaired.GameCountA)
	assert.Equal(t, 2, repaired.GameCountB)

	assert.Equal(t, 1, f.metrics.ScoreRepairs())
	assert.Equal(t, 1, f.metrics.ReconcileRuns())

	events := f.publisher.Events()
	last := events[len(events)-1]
	assert.Equal(t, EventScoreRepaired, last.Type)
	assert.Equal(t, drifted.ID, last.MatchID)
}

func TestRecomputeScoreRestoresMissingRow(t *testing.T) {
	db := openSQLiteDatabase(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	f := newFixture(t, store)
	ctx := context.Background()

	match := f.startedMatch(t)
	_, err = f.service.AddPoint(ctx, testUmpireID, match.ID, "A")
	require.NoError(t, err)
	require.NoError(t, db.Where("match_id = ?", match.ID).Delete(&MatchScore{}).Error)

	view, err := f.service.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Score.GameCountA)

	score, err := f.service.RecomputeScore(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, score.GameCountA)

	stored, err := store.GetScore(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.GameCountA)
}

func TestGormStoreUnknownMatch(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	_, err := store.GetMatch(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	err = store.WithMatch(ctx, "missing", func(MatchTx) error {
		t.Fatal("callback must not run for a missing match")
		return nil
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.MarkEntryCheckedIn(ctx, "missing", 1), ErrNotFound)
}

func TestGormStoreRollsBackFailedCallback(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateMatch(ctx, Match{ID: "m-1", TournamentID: testTournamentID, Status: StatusInProgress}, MatchScore{}))

	err := store.WithMatch(ctx, "m-1", func(tx MatchTx) error {
		point := Point{PointType: PointTypeA, ServerReceivedMillis: 1}
		if err := tx.AppendPoint(&point); err != nil {
			return err
		}
		return ErrValidation
	})
	require.ErrorIs(t, err, ErrValidation)

	points, err := store.ListActivePoints(ctx, "m-1")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestNewGormStoreRequiresDatabase(t *testing.T) {
	_, err := NewGormStore(nil)
	require.Error(t, err)
}

func TestServiceAcceptsGormRoleStore(t *testing.T) {
	db := openSQLiteDatabase(t)
	require.NoError(t, db.AutoMigrate(&permissions.RoleAssignment{}))
	roles, err := permissions.NewGormRoleStore(db)
	require.NoError(t, err)
	authorizer, err := permissions.NewService(permissions.ServiceConfig{Store: roles, Logger: zap.NewNop()})
	require.NoError(t, err)
	_, err = authorizer.Bootstrap(context.Background(), permissions.Grant{PrincipalID: testAdminID, Role: permissions.RoleAdmin})
	require.NoError(t, err)

	store, err := NewGormStore(db)
	require.NoError(t, err)
	service, err := NewService(ServiceConfig{Store: store, Authorizer: authorizer, IDProvider: NewUUIDProvider()})
	require.NoError(t, err)

	match, err := service.CreateMatch(context.Background(), testAdminID, NewMatch{TournamentID: testTournamentID})
	require.NoError(t, err)
	started, err := service.StartMatch(context.Background(), testAdminID, match.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
}
