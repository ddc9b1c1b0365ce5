package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pwaburton/members/internal/client"
)

func sessionFor(userID string, email string) *client.Session {
	return &client.Session{
		AccessToken:  "access-" + userID,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		RefreshToken: "refresh-" + userID,
		User:         client.User{ID: userID, Email: email},
	}
}

// fakeProvider stands in for the HTTP auth client.
type fakeProvider struct {
	mu           sync.Mutex
	session      *client.Session
	sessionErr   error
	userErr      error
	accounts     map[string]string
	signIns      []string
	signOuts     int
	clears       int
	getUserCalls int
	listeners    map[int]client.AuthStateListener
	nextListener int
}

func newFakeProvider(current *client.Session) *fakeProvider {
	return &fakeProvider{
		session:   current,
		accounts:  make(map[string]string),
		listeners: make(map[int]client.AuthStateListener),
	}
}

func (p *fakeProvider) GetSession(context.Context) (*client.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	if p.session == nil {
		return nil, nil
	}
	copied := *p.session
	return &copied, nil
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, email string, password string) (client.Session, error) {
	p.mu.Lock()
	p.signIns = append(p.signIns, email)
	expected, ok := p.accounts[email]
	if !ok || expected != password {
		p.mu.Unlock()
		return client.Session{}, &client.APIError{StatusCode: 401, Label: "invalid_credentials"}
	}
	signedIn := sessionFor("user-"+email, email)
	p.session = signedIn
	p.mu.Unlock()
	p.emit(client.EventSignedIn, signedIn)
	return *signedIn, nil
}

func (p *fakeProvider) SignInWithIDToken(ctx context.Context, idToken string) (client.Session, error) {
	return client.Session{}, errors.New("not supported")
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOuts++
	p.session = nil
	p.mu.Unlock()
	p.emit(client.EventSignedOut, nil)
	return nil
}

func (p *fakeProvider) GetUser(context.Context) (client.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getUserCalls++
	if p.userErr != nil {
		return client.User{}, p.userErr
	}
	if p.session == nil {
		return client.User{}, client.ErrNoSession
	}
	return p.session.User, nil
}

func (p *fakeProvider) OnAuthStateChange(listener client.AuthStateListener) func() {
	p.mu.Lock()
	p.nextListener++
	id := p.nextListener
	p.listeners[id] = listener
	var initial *client.Session
	if p.session != nil {
		copied := *p.session
		initial = &copied
	}
	p.mu.Unlock()
	listener(client.EventInitialSession, initial)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *fakeProvider) ClearStorage() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	p.session = nil
	return nil
}

func (p *fakeProvider) emit(event string, current *client.Session) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]client.AuthStateListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, p.listeners[id])
	}
	p.mu.Unlock()
	for _, listener := range listeners {
		listener(event, current)
	}
}

func (p *fakeProvider) counts() (signOuts int, clears int, getUserCalls int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOuts, p.clears, p.getUserCalls
}

type recordingSurface struct {
	mu        sync.Mutex
	notices   []Notice
	redirects int
}

func (s *recordingSurface) Notify(notice Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notice)
}

func (s *recordingSurface) RedirectToLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects++
}

func (s *recordingSurface) snapshot() ([]Notice, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notices := make([]Notice, len(s.notices))
	copy(notices, s.notices)
	return notices, s.redirects
}

type roleFunc func(ctx context.Context, userID string) (string, error)

func (f roleFunc) ResolveRole(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

func staticRole(role string) RoleResolver {
	return roleFunc(func(context.Context, string) (string, error) { return role, nil })
}
