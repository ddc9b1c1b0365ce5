package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultRefreshMargin = time.Minute

// AuthStateListener receives auth state changes. session is nil for SIGNED_OUT
// and for INITIAL_SESSION when nothing is stored.
type AuthStateListener func(event string, session *Session)

// AuthClientConfig wires the HTTP provider client.
type AuthClientConfig struct {
	BaseURL       string
	HTTPClient    *http.Client
	Storage       Storage
	RefreshMargin time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

type listenerEntry struct {
	id       uint64
	listener AuthStateListener
}

// AuthClient talks to the members auth endpoints and keeps the persisted session.
type AuthClient struct {
	transport    transport
	streamClient *http.Client
	storage      Storage
	margin       time.Duration
	clock        func() time.Time
	logger       *zap.Logger

	refreshMu sync.Mutex

	mu        sync.Mutex
	current   *Session
	loaded    bool
	listeners []listenerEntry
	nextID    uint64
}

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

type idTokenGrant struct {
	IDToken string `json:"id_token"`
}

type passwordUpdate struct {
	Password string `json:"password"`
}

// NewAuthClient validates the configuration and builds a client.
func NewAuthClient(cfg AuthClientConfig) (*AuthClient, error) {
	if cfg.Storage == nil {
		return nil, errors.New("client: storage is required")
	}
	t, err := newTransport(cfg.BaseURL, cfg.HTTPClient, cfg.Logger)
	if err != nil {
		return nil, err
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AuthClient{
		transport:    t,
		streamClient: &http.Client{Transport: t.httpClient.Transport},
		storage:      cfg.Storage,
		margin:       margin,
		clock:        clock,
		logger:       t.logger,
	}, nil
}

// GetSession returns the stored session, refreshing it first when the access
// token expires within the refresh margin. A failed refresh clears the stored
// session and announces SIGNED_OUT.
func (c *AuthClient) GetSession(ctx context.Context) (*Session, error) {
	session, event, err := c.loadOrRefresh(ctx)
	if event != "" {
		c.emit(event, session)
	}
	return session, err
}

func (c *AuthClient) loadOrRefresh(ctx context.Context) (*Session, string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current, err := c.cachedSession()
	if err != nil {
		return nil, "", err
	}
	if current == nil {
		return nil, "", nil
	}
	if !current.ExpiresWithin(c.clock(), c.margin) {
		return current, "", nil
	}

	var refreshed Session
	err = c.transport.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", refreshGrant{RefreshToken: current.RefreshToken}, &refreshed)
	if err != nil {
		c.logger.Warn("session refresh failed", zap.String("user_id", current.User.ID), zap.Error(err))
		if clearErr := c.discard(); clearErr != nil {
			c.logger.Warn("failed to clear stored session", zap.Error(clearErr))
		}
		return nil, EventSignedOut, err
	}
	if err := c.remember(refreshed); err != nil {
		return nil, "", err
	}
	c.logger.Debug("session refreshed", zap.String("user_id", refreshed.User.ID))
	return &refreshed, EventTokenRefreshed, nil
}

// SignInWithPassword exchanges email and password for a session.
func (c *AuthClient) SignInWithPassword(ctx context.Context, email string, password string) (Session, error) {
	var session Session
	err := c.transport.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", passwordGrant{Email: email, Password: password}, &session)
	if err != nil {
		return Session{}, err
	}
	return c.signedIn(session)
}

// SignInWithIDToken exchanges a Google ID token for a session.
func (c *AuthClient) SignInWithIDToken(ctx context.Context, idToken string) (Session, error) {
	var session Session
	err := c.transport.do(ctx, http.MethodPost, "/auth/v1/google", "", idTokenGrant{IDToken: idToken}, &session)
	if err != nil {
		return Session{}, err
	}
	return c.signedIn(session)
}

func (c *AuthClient) signedIn(session Session) (Session, error) {
	if err := c.remember(session); err != nil {
		return Session{}, err
	}
	c.logger.Info("signed in", zap.String("user_id", session.User.ID))
	c.emit(EventSignedIn, &session)
	return session, nil
}

// SignOut revokes the session on the server, clears local storage and
// announces SIGNED_OUT. Local state is cleared even when revocation fails.
func (c *AuthClient) SignOut(ctx context.Context) error {
	current, err := c.cachedSession()
	if err != nil {
		c.logger.Warn("stored session unreadable during sign out", zap.Error(err))
	}
	var revokeErr error
	if current != nil {
		err := c.transport.do(ctx, http.MethodPost, "/auth/v1/logout", current.AccessToken, nil, nil)
		if err != nil && !errors.Is(err, ErrUnauthorized) {
			c.logger.Warn("session revocation failed", zap.String("user_id", current.User.ID), zap.Error(err))
			revokeErr = err
		}
	}
	if err := c.discard(); err != nil && revokeErr == nil {
		revokeErr = err
	}
	c.emit(EventSignedOut, nil)
	return revokeErr
}

// GetUser asks the provider to re-verify the identity behind the current token.
func (c *AuthClient) GetUser(ctx context.Context) (User, error) {
	current, err := c.cachedSession()
	if err != nil {
		return User{}, err
	}
	if current == nil {
		return User{}, ErrNoSession
	}
	var user User
	if err := c.transport.do(ctx, http.MethodGet, "/auth/v1/user", current.AccessToken, nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdatePassword changes the caller's password and announces USER_UPDATED.
func (c *AuthClient) UpdatePassword(ctx context.Context, password string) (User, error) {
	current, err := c.cachedSession()
	if err != nil {
		return User{}, err
	}
	if current == nil {
		return User{}, ErrNoSession
	}
	var user User
	if err := c.transport.do(ctx, http.MethodPut, "/auth/v1/user", current.AccessToken, passwordUpdate{Password: password}, &user); err != nil {
		return User{}, err
	}
	c.emit(EventUserUpdated, current)
	return user, nil
}

// AccessToken returns a usable access token, refreshing when needed.
func (c *AuthClient) AccessToken(ctx context.Context) (string, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrNoSession
	}
	return session.AccessToken, nil
}

// OnAuthStateChange registers listener and immediately delivers INITIAL_SESSION
// with the stored session. The returned function removes the listener and is
// safe to call more than once.
func (c *AuthClient) OnAuthStateChange(listener AuthStateListener) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: id, listener: listener})
	c.mu.Unlock()

	initial, err := c.cachedSession()
	if err != nil {
		c.logger.Warn("stored session unreadable", zap.Error(err))
		initial = nil
	}
	listener(EventInitialSession, initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for index, entry := range c.listeners {
				if entry.id == id {
					c.listeners = append(c.listeners[:index], c.listeners[index+1:]...)
					return
				}
			}
		})
	}
}

// ClearStorage drops the stored session without contacting the server.
func (c *AuthClient) ClearStorage() error {
	return c.discard()
}

func (c *AuthClient) cachedSession() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		stored, err := c.storage.Load()
		if err != nil {
			return nil, err
		}
		c.current = stored
		c.loaded = true
	}
	if c.current == nil {
		return nil, nil
	}
	copied := *c.current
	return &copied, nil
}

func (c *AuthClient) remember(session Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.storage.Save(session); err != nil {
		return err
	}
	c.current = &session
	c.loaded = true
	return nil
}

func (c *AuthClient) discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.loaded = true
	return c.storage.Clear()
}

func (c *AuthClient) emit(event string, session *Session) {
	c.mu.Lock()
	snapshot := make([]listenerEntry, len(c.listeners))
	copy(snapshot, c.listeners)
	c.mu.Unlock()

	for _, entry := range snapshot {
		var delivered *Session
		if session != nil {
			copied := *session
			delivered = &copied
		}
		entry.listener(event, delivered)
	}
}
