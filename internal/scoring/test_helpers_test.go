package scoring

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testTournamentID      = "tournament-1"
	otherTournamentID     = "tournament-2"
	testAdminID           = "admin-1"
	testTournamentAdminID = "organizer-1"
	testUmpireID          = "umpire-1"
	testStrangerID        = "stranger-1"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "memory", open: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: "sqlite", open: func(t *testing.T) Store { return openSQLiteStore(t) }},
	}
}

func openSQLiteDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "scoring.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

func openSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(openSQLiteDatabase(t))
	require.NoError(t, err)
	return store
}

type sequenceIDProvider struct {
	mu     sync.Mutex
	ids    int
	tokens int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids++
	return fmt.Sprintf("id-%03d", p.ids), nil
}

func (p *sequenceIDProvider) NewToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens++
	return fmt.Sprintf("day-token-%03d", p.tokens), nil
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// rewindingClock moves backwards by step on every call.
type rewindingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *rewindingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(-c.step)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []MatchEvent
}

func (p *recordingPublisher) Publish(event MatchEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []MatchEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MatchEvent(nil), p.events...)
}

type fixture struct {
	service   *Service
	store     Store
	roles     *permissions.MemoryRoleStore
	publisher *recordingPublisher
	metrics   *metrics.Mock
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	return newFixtureWithClock(t, store, newSteppingClock().Now)
}

func newFixtureWithClock(t *testing.T, store Store, clock func() time.Time) *fixture {
	t.Helper()
	roles := permissions.NewMemoryRoleStore(
		permissions.RoleAssignment{PrincipalID: testAdminID, Role: permissions.RoleAdmin},
		permissions.RoleAssignment{PrincipalID: testTournamentAdminID, Role: permissions.RoleTournamentAdmin, TournamentID: testTournamentID},
		permissions.RoleAssignment{PrincipalID: testUmpireID, Role: permissions.RoleUmpire, TournamentID: testTournamentID},
	)
	authorizer, err := permissions.NewService(permissions.ServiceConfig{Store: roles})
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	publisher := &recordingPublisher{}
	recorder := metrics.NewMock()
	service, err := NewService(ServiceConfig{
		Store:      store,
		Authorizer: authorizer,
		Publisher:  publisher,
		Metrics:    recorder,
		Clock:      clock,
		IDProvider: &sequenceIDProvider{},
		Logger:     zap.New(core),
	})
	require.NoError(t, err)
	return &fixture{
		service:   service,
		store:     store,
		roles:     roles,
		publisher: publisher,
		metrics:   recorder,
		logs:      logs,
	}
}

func (f *fixture) createMatch(t *testing.T, tournamentID string, umpireID *string) Match {
	t.Helper()
	match, err := f.service.CreateMatch(context.Background(), testAdminID, NewMatch{TournamentID: tournamentID, UmpireID: umpireID})
	require.NoError(t, err)
	return match
}

func (f *fixture) startedMatch(t *testing.T) Match {
	t.Helper()
	match := f.createMatch(t, testTournamentID, nil)
	started, err := f.service.StartMatch(context.Background(), testUmpireID, match.ID)
	require.NoError(t, err)
	return started
}

func stringPointer(value string) *string {
	return &value
}

// requireKind asserts err is a ServiceError of the given kind.
func requireKind(t *testing.T, err error, kind error) *ServiceError {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, kind, serviceErr.Kind())
	return serviceErr
}
