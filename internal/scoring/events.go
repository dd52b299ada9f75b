package scoring

import "time"

// EventType names a change published for live score feeds.
type EventType string

const (
	EventStatusChanged  EventType = "status-changed"
	EventPointRecorded  EventType = "point-recorded"
	EventPointUndone    EventType = "point-undone"
	EventScoreRepaired  EventType = "score-repaired"
	EventSlotsUpdated   EventType = "slots-updated"
	EventUmpireAssigned EventType = "umpire-assigned"
)

// MatchEvent is published after a change to a match has been committed. Sequence is
// the match version the change produced; a subscriber holding a higher sequence
// already has a newer state.
type MatchEvent struct {
	MatchID   string      `json:"match_id"`
	Type      EventType   `json:"type"`
	Sequence  int64       `json:"sequence"`
	Status    MatchStatus `json:"status"`
	Score     *MatchScore `json:"score,omitempty"`
	PointID   int64       `json:"point_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventPublisher receives committed match events. Publish must not block. Events
// may arrive out of commit order; Sequence restores it.
type EventPublisher interface {
	Publish(event MatchEvent)
}

type discardPublisher struct{}

func (discardPublisher) Publish(MatchEvent) {}
