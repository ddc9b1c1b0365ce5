package auth

import "time"

// Auth state change event types shared by the server stream and the client.
const (
	EventInitialSession = "INITIAL_SESSION"
	EventSignedIn       = "SIGNED_IN"
	EventSignedOut      = "SIGNED_OUT"
	EventTokenRefreshed = "TOKEN_REFRESHED"
	EventUserUpdated    = "USER_UPDATED"
)

// Event announces a provider-side change to a user's auth state.
type Event struct {
	UserID    string
	Type      string
	Timestamp time.Time
}

// EventPublisher receives provider events.
type EventPublisher interface {
	PublishAuthEvent(event Event)
}

type noopPublisher struct{}

func (noopPublisher) PublishAuthEvent(Event) {}
