package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/database"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/principals"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "matchday-test"
	testCookieName    = "matchday_session"
	testTournamentID  = "tournament-1"
	testAdminID       = "admin-1"
	testUmpireID      = "umpire-1"
	testStrangerID    = "stranger-1"
)

type testServer struct {
	server     *httptest.Server
	issuer     *auth.TokenIssuer
	realtime   *RealtimeDispatcher
	roles      *permissions.Service
	scoring    *scoring.Service
	principals *principals.Service
}

type testResponse struct {
	status int
	body   []byte
}

func (r testResponse) decode(t *testing.T, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, target), "body: %s", string(r.body))
}

func (r testResponse) apiError(t *testing.T) errorPayload {
	t.Helper()
	var payload errorPayload
	r.decode(t, &payload)
	return payload
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	roleStore, err := permissions.NewGormRoleStore(db)
	require.NoError(t, err)
	roles, err := permissions.NewService(permissions.ServiceConfig{Store: roleStore})
	require.NoError(t, err)
	_, err = roles.Bootstrap(context.Background(), permissions.Grant{PrincipalID: testAdminID, Role: permissions.RoleAdmin})
	require.NoError(t, err)

	store, err := scoring.NewGormStore(db)
	require.NoError(t, err)
	dispatcher := NewRealtimeDispatcher()
	registry := prometheus.NewRegistry()
	scoringService, err := scoring.NewService(scoring.ServiceConfig{
		Store:              store,
		Authorizer:         roles,
		Publisher:          dispatcher,
		Metrics:            metrics.NewService(registry),
		IDProvider:         scoring.NewUUIDProvider(),
		PersistenceTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	principalService, err := principals.NewService(principals.ServiceConfig{Database: db})
	require.NoError(t, err)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	require.NoError(t, err)

	handler, err := NewHTTPHandler(Dependencies{
		Scoring:           scoringService,
		Roles:             roles,
		Sessions:          validator,
		Principals:        principalService,
		Realtime:          dispatcher,
		MetricsHandler:    metrics.NewMetricsHandler(registry),
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testServer{
		server:     server,
		issuer:     issuer,
		realtime:   dispatcher,
		roles:      roles,
		scoring:    scoringService,
		principals: principalService,
	}
}

func (s *testServer) token(t *testing.T, principal auth.Principal) string {
	t.Helper()
	token, _, err := s.issuer.IssueSessionToken(context.Background(), principal)
	require.NoError(t, err)
	return token
}

// do sends a JSON request. An empty principalID sends no session.
func (s *testServer) do(t *testing.T, method, path, principalID string, body interface{}) testResponse {
	t.Helper()
	return s.doAs(t, method, path, auth.Principal{ID: principalID}, body)
}

// doAs sends a JSON request with a session for the full principal.
func (s *testServer) doAs(t *testing.T, method, path string, principal auth.Principal, body interface{}) testResponse {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if principal.ID != "" {
		request.Header.Set("Authorization", "Bearer "+s.token(t, principal))
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	return testResponse{status: response.StatusCode, body: payload}
}

// createMatch creates a pending match as the admin and returns its id.
func (s *testServer) createMatch(t *testing.T, umpireID string) string {
	t.Helper()
	body := map[string]interface{}{}
	if umpireID != "" {
		body["umpire_id"] = umpireID
	}
	response := s.do(t, http.MethodPost, "/tournaments/"+testTournamentID+"/matches", testAdminID, body)
	require.Equal(t, http.StatusCreated, response.status, string(response.body))
	var created struct {
		Match matchPayload `json:"match"`
	}
	response.decode(t, &created)
	require.NotEmpty(t, created.Match.ID)
	return created.Match.ID
}
