package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/gin-gonic/gin"
)

type issueEntryRequest struct {
	DisplayName string `json:"display_name"`
}

type grantRoleRequest struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
	MatchID     string `json:"match_id"`
}

func (h *httpHandler) handleIssueEntry(c *gin.Context) {
	var request issueEntryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "entry body required")
		return
	}
	entry, err := h.scoring.IssueEntry(c.Request.Context(), principalFrom(c), c.Param("tournamentId"), request.DisplayName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": toEntryPayload(entry, true)})
}

func (h *httpHandler) handleCheckIn(c *gin.Context) {
	entry, err := h.scoring.CheckInEntry(c.Request.Context(), principalFrom(c), c.Param("entryId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": toEntryPayload(entry, false)})
}

func (h *httpHandler) handleGrantRole(c *gin.Context) {
	var request grantRoleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "role body required")
		return
	}
	role, err := permissions.ParseRole(request.Role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	grant := permissions.Grant{
		PrincipalID:  request.PrincipalID,
		Role:         role,
		TournamentID: c.Param("tournamentId"),
		MatchID:      request.MatchID,
	}
	// admin is the one unscoped role; the path tournament does not apply to it
	if role == permissions.RoleAdmin {
		grant.TournamentID = ""
	}
	assignment, err := h.roles.Grant(c.Request.Context(), principalFrom(c), grant)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"role": toRoleAssignmentPayload(assignment)})
}

func (h *httpHandler) handleRevokeRole(c *gin.Context) {
	assignmentID, err := strconv.ParseInt(c.Param("assignmentId"), 10, 64)
	if err != nil || assignmentID <= 0 {
		h.respondInvalidRequest(c, "invalid assignment id")
		return
	}
	if err := h.roles.Revoke(c.Request.Context(), principalFrom(c), assignmentID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
