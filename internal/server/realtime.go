package server

import (
	"context"
	"sync"
	"time"

	"github.com/pwaburton/members/internal/auth"
)

const (
	realtimeEventHeartbeat   = "heartbeat"
	realtimeSourceBackend    = "members-api"
	defaultRealtimeHeartbeat = 25 * time.Second
	realtimeStreamBuffer     = 16
)

// RealtimeMessage is one auth event routed to a user's open streams.
type RealtimeMessage struct {
	UserID    string
	EventType string
	Timestamp time.Time
}

// RealtimeDispatcher routes auth events to the streams each user holds open.
// A SIGNED_OUT event is the last thing a stream receives: the dispatcher
// delivers it and then closes every stream of that user.
type RealtimeDispatcher struct {
	mu      sync.Mutex
	streams map[string]map[*authStream]struct{}
}

type authStream struct {
	events chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{streams: make(map[string]map[*authStream]struct{})}
}

// Subscribe opens a stream for userID. The stream is removed when ctx ends or
// the returned func is called, whichever comes first.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	stream := &authStream{events: make(chan RealtimeMessage, realtimeStreamBuffer)}
	if userID == "" {
		close(stream.events)
		return stream.events, func() {}
	}

	d.mu.Lock()
	userStreams, ok := d.streams[userID]
	if !ok {
		userStreams = make(map[*authStream]struct{})
		d.streams[userID] = userStreams
	}
	userStreams[stream] = struct{}{}
	d.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { d.detach(userID, stream) })
	return stream.events, func() {
		stop()
		d.detach(userID, stream)
	}
}

// Publish hands the message to every stream of its user without blocking;
// a stream whose buffer is full misses the message.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	userStreams := d.streams[message.UserID]
	for stream := range userStreams {
		select {
		case stream.events <- message:
		default:
			realtimeEventsDropped.Inc()
		}
	}
	if message.EventType == auth.EventSignedOut {
		for stream := range userStreams {
			close(stream.events)
		}
		delete(d.streams, message.UserID)
	}
}

// PublishAuthEvent adapts provider and profile events to Publish.
func (d *RealtimeDispatcher) PublishAuthEvent(event auth.Event) {
	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	d.Publish(RealtimeMessage{UserID: event.UserID, EventType: event.Type, Timestamp: timestamp.UTC()})
}

// SubscriberCount reports the number of open streams for the user.
func (d *RealtimeDispatcher) SubscriberCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams[userID])
}

// detach closes the stream unless a sign-out already did.
func (d *RealtimeDispatcher) detach(userID string, stream *authStream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	userStreams := d.streams[userID]
	if _, ok := userStreams[stream]; !ok {
		return
	}
	delete(userStreams, stream)
	close(stream.events)
	if len(userStreams) == 0 {
		delete(d.streams, userID)
	}
}
