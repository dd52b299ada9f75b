package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
)

type matchPayload struct {
	ID              string  `json:"id"`
	TournamentID    string  `json:"tournament_id"`
	Status          string  `json:"status"`
	UmpireID        *string `json:"umpire_id"`
	IsConfirmed     bool    `json:"is_confirmed"`
	StartedAtMillis *int64  `json:"started_at_ms,omitempty"`
	Version         int64   `json:"version"`
	CreatedAtMillis int64   `json:"created_at_ms"`
	UpdatedAtMillis int64   `json:"updated_at_ms"`
}

type scorePayload struct {
	GameCountA      int   `json:"game_count_a"`
	GameCountB      int   `json:"game_count_b"`
	UpdatedAtMillis int64 `json:"updated_at_ms"`
}

type slotPayload struct {
	Side    string  `json:"side"`
	EntryID *string `json:"entry_id"`
}

type pointPayload struct {
	ID                   int64  `json:"id"`
	MatchID              string `json:"match_id"`
	Category             string `json:"category"`
	PointType            string `json:"point_type"`
	IsUndone             bool   `json:"is_undone"`
	ServerReceivedMillis int64  `json:"server_received_at_ms"`
	UndoneAtMillis       *int64 `json:"undone_at_ms,omitempty"`
}

type matchViewPayload struct {
	Match matchPayload  `json:"match"`
	Score scorePayload  `json:"score"`
	Slots []slotPayload `json:"slots"`
}

type pointResultPayload struct {
	Point pointPayload `json:"point"`
	Score scorePayload `json:"score"`
}

type entryPayload struct {
	ID                string `json:"id"`
	TournamentID      string `json:"tournament_id"`
	DisplayName       string `json:"display_name"`
	DayToken          string `json:"day_token,omitempty"`
	IsCheckedIn       bool   `json:"is_checked_in"`
	CheckedInAtMillis *int64 `json:"checked_in_at_ms,omitempty"`
}

type roleAssignmentPayload struct {
	ID           int64  `json:"id"`
	PrincipalID  string `json:"principal_id"`
	Role         string `json:"role"`
	TournamentID string `json:"tournament_id,omitempty"`
	MatchID      string `json:"match_id,omitempty"`
	GrantedBy    string `json:"granted_by,omitempty"`
}

type matchEventPayload struct {
	Source    string        `json:"source"`
	MatchID   string        `json:"match_id"`
	Type      string        `json:"type"`
	Sequence  int64         `json:"sequence"`
	Status    string        `json:"status"`
	Score     *scorePayload `json:"score,omitempty"`
	PointID   int64         `json:"point_id,omitempty"`
	Timestamp string        `json:"timestamp"`
}

func toMatchPayload(match scoring.Match) matchPayload {
	return matchPayload{
		ID:              match.ID,
		TournamentID:    match.TournamentID,
		Status:          match.Status.String(),
		UmpireID:        match.UmpireID,
		IsConfirmed:     match.IsConfirmed,
		StartedAtMillis: match.StartedAtMillis,
		Version:         match.Version,
		CreatedAtMillis: match.CreatedAtMillis,
		UpdatedAtMillis: match.UpdatedAtMillis,
	}
}

func toScorePayload(score scoring.MatchScore) scorePayload {
	return scorePayload{
		GameCountA:      score.GameCountA,
		GameCountB:      score.GameCountB,
		UpdatedAtMillis: score.UpdatedAtMillis,
	}
}

func toSlotPayloads(slots []scoring.DrawSlot) []slotPayload {
	payloads := make([]slotPayload, 0, len(slots))
	for _, slot := range slots {
		payloads = append(payloads, slotPayload{Side: string(slot.Side), EntryID: slot.EntryID})
	}
	return payloads
}

func toPointPayload(point scoring.Point) pointPayload {
	category := "A"
	if point.PointType == scoring.PointTypeB {
		category = "B"
	}
	return pointPayload{
		ID:                   point.ID,
		MatchID:              point.MatchID,
		Category:             category,
		PointType:            string(point.PointType),
		IsUndone:             point.IsUndone,
		ServerReceivedMillis: point.ServerReceivedMillis,
		UndoneAtMillis:       point.UndoneAtMillis,
	}
}

func toMatchViewPayload(view scoring.MatchView) matchViewPayload {
	return matchViewPayload{
		Match: toMatchPayload(view.Match),
		Score: toScorePayload(view.Score),
		Slots: toSlotPayloads(view.Slots),
	}
}

func toPointResultPayload(result scoring.PointResult) pointResultPayload {
	return pointResultPayload{
		Point: toPointPayload(result.Point),
		Score: toScorePayload(result.Score),
	}
}

// toEntryPayload omits the day token unless includeToken is set; the token is
// only handed out when the entry is issued.
func toEntryPayload(entry scoring.TournamentEntry, includeToken bool) entryPayload {
	payload := entryPayload{
		ID:                entry.ID,
		TournamentID:      entry.TournamentID,
		DisplayName:       entry.DisplayName,
		IsCheckedIn:       entry.IsCheckedIn,
		CheckedInAtMillis: entry.CheckedInAtMillis,
	}
	if includeToken {
		payload.DayToken = entry.DayToken
	}
	return payload
}

func toRoleAssignmentPayload(assignment permissions.RoleAssignment) roleAssignmentPayload {
	return roleAssignmentPayload{
		ID:           assignment.ID,
		PrincipalID:  assignment.PrincipalID,
		Role:         string(assignment.Role),
		TournamentID: assignment.TournamentID,
		MatchID:      assignment.MatchID,
		GrantedBy:    assignment.GrantedBy,
	}
}

func toMatchEventPayload(event scoring.MatchEvent) matchEventPayload {
	payload := matchEventPayload{
		Source:    realtimeSourceBackend,
		MatchID:   event.MatchID,
		Type:      string(event.Type),
		Sequence:  event.Sequence,
		Status:    event.Status.String(),
		PointID:   event.PointID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if event.Score != nil {
		score := toScorePayload(*event.Score)
		payload.Score = &score
	}
	return payload
}

func snapshotEventPayload(view scoring.MatchView, now time.Time) matchEventPayload {
	score := toScorePayload(view.Score)
	return matchEventPayload{
		Source:    realtimeSourceBackend,
		MatchID:   view.Match.ID,
		Type:      realtimeEventSnapshot,
		Sequence:  view.Match.Version,
		Status:    view.Match.Status.String(),
		Score:     &score,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
