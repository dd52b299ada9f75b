package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
)

const (
	realtimeEventSnapshot  = "snapshot"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "matchday-backend"

	defaultSubscriberBuffer = 16
)

// RealtimeDispatcher fans committed match events out to live feed subscribers.
// It satisfies scoring.EventPublisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	// delivered holds the highest sequence fanned out per match.
	delivered  map[string]int64
	nextID     int64
	bufferSize int
	clock      func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan scoring.MatchEvent
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		delivered:   make(map[string]int64),
		bufferSize:  defaultSubscriberBuffer,
		clock:       time.Now,
	}
}

// Subscribe registers a subscriber for one match. The subscription ends when ctx is
// done or the returned cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, matchID string) (<-chan scoring.MatchEvent, func()) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		ch := make(chan scoring.MatchEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan scoring.MatchEvent, d.bufferSize),
	}
	d.registerSubscriber(matchID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(matchID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every subscriber of its match. An event whose
// sequence is not newer than one already delivered for the match is dropped, so
// subscribers never move back to an older state. Slow subscribers drop events
// rather than block the caller.
func (d *RealtimeDispatcher) Publish(event scoring.MatchEvent) {
	if event.MatchID == "" || event.Type == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.clock().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if event.Sequence > 0 {
		if event.Sequence <= d.delivered[event.MatchID] {
			return
		}
		d.delivered[event.MatchID] = event.Sequence
	}
	for _, subscriber := range d.subscribers[event.MatchID] {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports how many live subscribers a match currently has.
func (d *RealtimeDispatcher) SubscriberCount(matchID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[matchID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(matchID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[matchID]; !ok {
		d.subscribers[matchID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[matchID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(matchID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[matchID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, matchID)
		}
	}
	d.mu.Unlock()
}
