package session

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/pwaburton/members/internal/client"
	"go.uber.org/zap"
)

// Provider is the auth provider contract the Store wraps.
type Provider interface {
	GetSession(ctx context.Context) (*client.Session, error)
	SignInWithPassword(ctx context.Context, email string, password string) (client.Session, error)
	SignInWithIDToken(ctx context.Context, idToken string) (client.Session, error)
	SignOut(ctx context.Context) error
	GetUser(ctx context.Context) (client.User, error)
	OnAuthStateChange(listener client.AuthStateListener) func()
	ClearStorage() error
}

// Listener receives auth state changes relayed by the Store.
type Listener func(event string, session *client.Session)

// Unsubscribe removes a subscription. Calling it twice is a no-op.
type Unsubscribe func()

// StoreConfig wires the Store.
type StoreConfig struct {
	Provider Provider
	Logger   *zap.Logger
}

type subscription struct {
	id       uint64
	key      string
	listener Listener
}

// Store is the process-wide session holder. It is constructed once and
// injected into everything that needs the session.
type Store struct {
	provider Provider
	logger   *zap.Logger
	detach   func()

	mu            sync.Mutex
	cached        *client.Session
	subscriptions map[string]subscription
	nextID        uint64
	anonymous     uint64
}

// NewStore subscribes to the provider and returns the Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Provider == nil {
		return nil, errors.New("session: provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		provider:      cfg.Provider,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}
	store.detach = cfg.Provider.OnAuthStateChange(store.relay)
	return store, nil
}

// GetCurrentSession asks the provider for the current session, refreshing it
// when needed. A nil session with a nil error means nobody is signed in.
func (s *Store) GetCurrentSession(ctx context.Context) (*client.Session, error) {
	current, err := s.provider.GetSession(ctx)
	if err != nil {
		return nil, &ProviderError{Op: "get_session", Err: err}
	}
	s.setCached(current)
	return current, nil
}

// Cached returns the last session the Store has seen without calling the provider.
func (s *Store) Cached() *client.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return nil
	}
	copied := *s.cached
	return &copied
}

func (s *Store) SignInWithPassword(ctx context.Context, email string, password string) (client.Session, error) {
	signedIn, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return client.Session{}, &ProviderError{Op: "sign_in_with_password", Err: err}
	}
	return signedIn, nil
}

func (s *Store) SignInWithIDToken(ctx context.Context, idToken string) (client.Session, error) {
	signedIn, err := s.provider.SignInWithIDToken(ctx, idToken)
	if err != nil {
		return client.Session{}, &ProviderError{Op: "sign_in_with_id_token", Err: err}
	}
	return signedIn, nil
}

func (s *Store) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		return &ProviderError{Op: "sign_out", Err: err}
	}
	return nil
}

// GetUser re-verifies the current identity with the provider.
func (s *Store) GetUser(ctx context.Context) (client.User, error) {
	user, err := s.provider.GetUser(ctx)
	if err != nil {
		return client.User{}, &ProviderError{Op: "get_user", Err: err}
	}
	return user, nil
}

// ClearStorage drops locally persisted tokens.
func (s *Store) ClearStorage() error {
	s.setCached(nil)
	return s.provider.ClearStorage()
}

// Subscribe registers listener under a fresh key.
func (s *Store) Subscribe(listener Listener) Unsubscribe {
	s.mu.Lock()
	s.anonymous++
	key := "anonymous-" + strconv.FormatUint(s.anonymous, 10)
	s.mu.Unlock()
	return s.SubscribeKeyed(key, listener)
}

// SubscribeKeyed registers listener under key, replacing any listener already
// registered under the same key. The new listener immediately receives
// INITIAL_SESSION with the cached session.
func (s *Store) SubscribeKeyed(key string, listener Listener) Unsubscribe {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if _, replaced := s.subscriptions[key]; replaced {
		s.logger.Debug("session subscription replaced", zap.String("key", key))
	}
	s.subscriptions[key] = subscription{id: id, key: key, listener: listener}
	var initial *client.Session
	if s.cached != nil {
		copied := *s.cached
		initial = &copied
	}
	s.mu.Unlock()

	listener(client.EventInitialSession, initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if current, ok := s.subscriptions[key]; ok && current.id == id {
				delete(s.subscriptions, key)
			}
		})
	}
}

// SubscriberCount reports the number of live subscriptions.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// Close detaches from the provider and drops every subscription.
func (s *Store) Close() {
	if s.detach != nil {
		s.detach()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = make(map[string]subscription)
}

func (s *Store) relay(event string, current *client.Session) {
	switch event {
	case client.EventSignedOut:
		s.setCached(nil)
	case client.EventUserUpdated:
		if current != nil {
			s.setCached(current)
		}
	default:
		s.setCached(current)
	}

	s.mu.Lock()
	snapshot := make([]subscription, 0, len(s.subscriptions))
	for _, entry := range s.subscriptions {
		snapshot = append(snapshot, entry)
	}
	s.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })
	s.logger.Debug("auth state change", zap.String("event", event), zap.Int("subscribers", len(snapshot)))
	for _, entry := range snapshot {
		var delivered *client.Session
		if current != nil {
			copied := *current
			delivered = &copied
		}
		entry.listener(event, delivered)
	}
}

func (s *Store) setCached(current *client.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current == nil {
		s.cached = nil
		return
	}
	copied := *current
	s.cached = &copied
}
