package server

import (
	"context"
	"net/http"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"github.com/gin-gonic/gin"
)

type transitionFunc func(ctx context.Context, principalID, matchID string) (scoring.Match, error)

type verifyTokenRequest struct {
	Token string `json:"token"`
}

type addPointRequest struct {
	Category string `json:"category"`
}

type slotsRequest struct {
	Slots []slotPayload `json:"slots"`
}

type assignUmpireRequest struct {
	UmpireID *string `json:"umpire_id"`
}

type createMatchRequest struct {
	UmpireID *string `json:"umpire_id"`
}

func (h *httpHandler) handleGetMatch(c *gin.Context) {
	view, err := h.scoring.GetMatch(c.Request.Context(), c.Param("matchId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMatchViewPayload(view))
}

func (h *httpHandler) handleListPoints(c *gin.Context) {
	points, err := h.scoring.ListPoints(c.Request.Context(), c.Param("matchId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]pointPayload, 0, len(points))
	for _, point := range points {
		payloads = append(payloads, toPointPayload(point))
	}
	c.JSON(http.StatusOK, gin.H{"points": payloads})
}

func (h *httpHandler) handleVerifyToken(c *gin.Context) {
	var request verifyTokenRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "token body required")
		return
	}
	if err := h.scoring.VerifyToken(c.Request.Context(), c.Param("matchId"), request.Token); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (h *httpHandler) handleTransition(transition transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		match, err := transition(c.Request.Context(), principalFrom(c), c.Param("matchId"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"match": toMatchPayload(match)})
	}
}

func (h *httpHandler) handleAddPoint(c *gin.Context) {
	var request addPointRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "category body required")
		return
	}
	result, err := h.scoring.AddPoint(c.Request.Context(), principalFrom(c), c.Param("matchId"), request.Category)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPointResultPayload(result))
}

func (h *httpHandler) handleUndoPoint(c *gin.Context) {
	pointID, err := scoring.ParsePointID(c.Param("pointId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.scoring.UndoPoint(c.Request.Context(), principalFrom(c), pointID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPointResultPayload(result))
}

func (h *httpHandler) handleUpdateSlots(c *gin.Context) {
	var request slotsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "slots body required")
		return
	}
	assignments := make([]scoring.SlotAssignment, 0, len(request.Slots))
	for _, slot := range request.Slots {
		assignments = append(assignments, scoring.SlotAssignment{Side: scoring.Side(slot.Side), EntryID: slot.EntryID})
	}
	slots, err := h.scoring.UpdateDrawSlots(c.Request.Context(), principalFrom(c), c.Param("matchId"), assignments)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": toSlotPayloads(slots)})
}

func (h *httpHandler) handleAssignUmpire(c *gin.Context) {
	var request assignUmpireRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "umpire body required")
		return
	}
	match, err := h.scoring.AssignUmpire(c.Request.Context(), principalFrom(c), c.Param("matchId"), request.UmpireID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": toMatchPayload(match)})
}

func (h *httpHandler) handleCreateMatch(c *gin.Context) {
	var request createMatchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondInvalidRequest(c, "malformed match body")
			return
		}
	}
	match, err := h.scoring.CreateMatch(c.Request.Context(), principalFrom(c), scoring.NewMatch{
		TournamentID: c.Param("tournamentId"),
		UmpireID:     request.UmpireID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"match": toMatchPayload(match)})
}
