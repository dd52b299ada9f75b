package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/principals"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalIDContextKey = "matchday_principal_id"

const defaultHeartbeatInterval = 15 * time.Second

var (
	errMissingScoringService  = errors.New("scoring service dependency required")
	errMissingRoleService     = errors.New("role service dependency required")
	errMissingSessionVerifier = errors.New("session validator dependency required")
	errMissingRealtime        = errors.New("realtime dispatcher dependency required")
)

// SessionVerifier validates the session presented with a request.
type SessionVerifier interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// PrincipalResolver maps validated session claims to a principal id and looks up
// the identity recorded for it.
type PrincipalResolver interface {
	ResolvePrincipalID(ctx context.Context, claims auth.SessionClaims) (string, error)
	Lookup(ctx context.Context, principalID string) (principals.Identity, error)
}

type Dependencies struct {
	Scoring           *scoring.Service
	Roles             *permissions.Service
	Sessions          SessionVerifier
	Principals        PrincipalResolver
	Realtime          *RealtimeDispatcher
	MetricsHandler    http.Handler
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Scoring == nil {
		return nil, errMissingScoringService
	}
	if deps.Roles == nil {
		return nil, errMissingRoleService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionVerifier
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		scoring:           deps.Scoring,
		roles:             deps.Roles,
		sessions:          deps.Sessions,
		principals:        deps.Principals,
		realtime:          deps.Realtime,
		allowedOrigins:    deps.AllowedOrigins,
		heartbeatInterval: heartbeat,
		clock:             time.Now,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	router.GET("/matches/:matchId", handler.handleGetMatch)
	router.GET("/matches/:matchId/points", handler.handleListPoints)
	router.GET("/matches/:matchId/stream", handler.handleMatchStream)
	router.GET("/matches/:matchId/ws", handler.handleMatchWebsocket)
	router.POST("/matches/:matchId/verify-token", handler.handleVerifyToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)
	protected.POST("/matches/:matchId/start", handler.handleTransition(handler.scoring.StartMatch))
	protected.POST("/matches/:matchId/pause", handler.handleTransition(handler.scoring.PauseMatch))
	protected.POST("/matches/:matchId/resume", handler.handleTransition(handler.scoring.ResumeMatch))
	protected.POST("/matches/:matchId/finish", handler.handleTransition(handler.scoring.FinishMatch))
	protected.POST("/matches/:matchId/points", handler.handleAddPoint)
	protected.POST("/points/:pointId/undo", handler.handleUndoPoint)
	protected.PUT("/matches/:matchId/slots", handler.handleUpdateSlots)
	protected.PUT("/matches/:matchId/umpire", handler.handleAssignUmpire)
	protected.POST("/tournaments/:tournamentId/matches", handler.handleCreateMatch)
	protected.POST("/tournaments/:tournamentId/entries", handler.handleIssueEntry)
	protected.POST("/entries/:entryId/check-in", handler.handleCheckIn)
	protected.POST("/tournaments/:tournamentId/roles", handler.handleGrantRole)
	protected.DELETE("/roles/:assignmentId", handler.handleRevokeRole)

	return router, nil
}

type httpHandler struct {
	scoring           *scoring.Service
	roles             *permissions.Service
	sessions          SessionVerifier
	principals        PrincipalResolver
	realtime          *RealtimeDispatcher
	allowedOrigins    []string
	heartbeatInterval time.Duration
	clock             func() time.Time
	logger            *zap.Logger
}

// corsMiddleware allows the listed origins, or reflects any origin when none are
// configured. Credentials are allowed so browsers can send the session cookie.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "session required"})
		return
	}

	principalID := strings.TrimSpace(claims.PrincipalID)
	if h.principals != nil {
		principalID, err = h.principals.ResolvePrincipalID(c.Request.Context(), claims)
		if err != nil {
			h.logger.Error("failed to resolve principal", zap.String("subject", claims.Subject), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorPayload{Error: "principal_resolution_failed", Message: "internal error"})
			return
		}
	}
	if principalID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "session required"})
		return
	}

	c.Set(principalIDContextKey, principalID)
	c.Next()
}

func principalFrom(c *gin.Context) string {
	value, ok := c.Get(principalIDContextKey)
	if !ok {
		return ""
	}
	principalID, _ := value.(string)
	return principalID
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	principalID := principalFrom(c)
	assignments, err := h.roles.ListForPrincipal(c.Request.Context(), principalID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	roles := make([]roleAssignmentPayload, 0, len(assignments))
	for _, assignment := range assignments {
		roles = append(roles, toRoleAssignmentPayload(assignment))
	}
	profile := gin.H{"principal_id": principalID, "roles": roles}
	if h.principals != nil {
		identity, err := h.principals.Lookup(c.Request.Context(), principalID)
		switch {
		case errors.Is(err, principals.ErrUnknownPrincipal):
		case err != nil:
			h.respondError(c, err)
			return
		case identity.DisplayName != "":
			profile["display_name"] = identity.DisplayName
		}
	}
	c.JSON(http.StatusOK, profile)
}
