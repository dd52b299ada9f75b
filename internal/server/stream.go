package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	websocketWriteTimeout = 10 * time.Second
	websocketReadLimit    = 512
)

// handleMatchStream serves a server-sent event feed: one snapshot, then every
// committed change, with heartbeats while the match is quiet.
func (h *httpHandler) handleMatchStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, view, cleanup, err := h.subscribeMatch(ctx, c.Param("matchId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventSnapshot, snapshotEventPayload(view, h.clock()))
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			if coveredBySnapshot(view, event) {
				continue
			}
			c.SSEvent(string(event.Type), toMatchEventPayload(event))
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend, "timestamp": h.clock().UTC().Format(time.RFC3339Nano)})
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) handleMatchWebsocket(c *gin.Context) {
	matchID := c.Param("matchId")
	stream, view, cleanup, err := h.subscribeMatch(c.Request.Context(), matchID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer cleanup()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkWebsocketOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the handshake failure.
		h.logger.Info("websocket upgrade failed", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The feed is one-way; reading only detects the peer going away.
	conn.SetReadLimit(websocketReadLimit)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeFrame(conn, snapshotEventPayload(view, h.clock())); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			if coveredBySnapshot(view, event) {
				continue
			}
			if err := h.writeFrame(conn, toMatchEventPayload(event)); err != nil {
				h.logger.Debug("websocket write failed", zap.String("match_id", matchID), zap.Error(err))
				return
			}
		case <-ticker.C:
			deadline := h.clock().Add(websocketWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// subscribeMatch subscribes before reading the snapshot so no change committed in
// between is lost. Events the snapshot already reflects are filtered by sequence.
func (h *httpHandler) subscribeMatch(ctx context.Context, matchID string) (<-chan scoring.MatchEvent, scoring.MatchView, func(), error) {
	stream, cleanup := h.realtime.Subscribe(ctx, matchID)
	view, err := h.scoring.GetMatch(ctx, matchID)
	if err != nil {
		cleanup()
		return nil, scoring.MatchView{}, nil, err
	}
	return stream, view, cleanup, nil
}

func coveredBySnapshot(view scoring.MatchView, event scoring.MatchEvent) bool {
	return event.Sequence > 0 && event.Sequence <= view.Match.Version
}

func (h *httpHandler) writeFrame(conn *websocket.Conn, payload matchEventPayload) error {
	if err := conn.SetWriteDeadline(h.clock().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

func (h *httpHandler) checkWebsocketOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.allowedOrigins) == 0 || containsWildcard(h.allowedOrigins) {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
