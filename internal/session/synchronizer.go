package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pwaburton/members/internal/client"
	"go.uber.org/zap"
)

const (
	defaultProviderTimeout = 10 * time.Second
	synchronizerKey        = "auth-state-synchronizer"
)

// SessionSource is the part of the Store the Synchronizer drives.
type SessionSource interface {
	GetCurrentSession(ctx context.Context) (*client.Session, error)
	GetUser(ctx context.Context) (client.User, error)
	SignOut(ctx context.Context) error
	ClearStorage() error
	SubscribeKeyed(key string, listener Listener) Unsubscribe
}

// RoleResolver reads (and if needed creates) the caller's profile and
// returns its role.
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID string) (string, error)
}

// ProfileReader is the data API call behind ProfileRoleResolver.
type ProfileReader interface {
	MyProfile(ctx context.Context) (client.Profile, error)
}

// ProfileRoleResolver resolves roles through the profile upsert-on-read endpoint.
type ProfileRoleResolver struct {
	Profiles ProfileReader
}

func (r ProfileRoleResolver) ResolveRole(ctx context.Context, userID string) (string, error) {
	profile, err := r.Profiles.MyProfile(ctx)
	if err != nil {
		return "", err
	}
	if profile.UserID != "" && profile.UserID != userID {
		return "", fmt.Errorf("session: profile belongs to %s, not %s", profile.UserID, userID)
	}
	return profile.Role, nil
}

// Surface is the user-facing side: notifications and navigation.
type Surface interface {
	Notify(notice Notice)
	RedirectToLogin()
}

// SynchronizerConfig wires the Synchronizer.
type SynchronizerConfig struct {
	Source                  SessionSource
	Roles                   RoleResolver
	Surface                 Surface
	ProviderTimeout         time.Duration
	RefreshRoleOnUserUpdate bool
	Logger                  *zap.Logger
}

// Synchronizer feeds the startup check and provider events through Reduce
// and runs the resulting effects outside its lock.
type Synchronizer struct {
	source  SessionSource
	roles   RoleResolver
	surface Surface
	rules   Rules
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	revision    uint64
	unsubscribe Unsubscribe
	watchers    map[uint64]func(State)
	nextWatcher uint64

	// notifyMu orders watcher calls; delivered is the newest revision handed out.
	notifyMu  sync.Mutex
	delivered uint64
}

// NewSynchronizer validates the configuration. Call Start to begin.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Source == nil {
		return nil, errors.New("session: source is required")
	}
	if cfg.Roles == nil {
		return nil, errors.New("session: role resolver is required")
	}
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	surface := cfg.Surface
	if surface == nil {
		surface = silentSurface{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		source:   cfg.Source,
		roles:    cfg.Roles,
		surface:  surface,
		rules:    Rules{RefreshRoleOnUserUpdate: cfg.RefreshRoleOnUserUpdate},
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[uint64]func(State)),
	}, nil
}

// Start subscribes to auth state changes and runs the one-shot session check,
// bounded by the provider timeout. It returns the state once the check and its
// follow-up effects have been applied. Calling Start again replaces the
// subscription and repeats the check, which the reducer treats as a no-op
// when nothing changed.
func (s *Synchronizer) Start(ctx context.Context) State {
	unsubscribe := s.source.SubscribeKeyed(synchronizerKey, s.onAuthEvent)
	s.mu.Lock()
	previous := s.unsubscribe
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	if previous != nil {
		previous()
	}

	current, err := boundedCall(ctx, s.timeout, func(callCtx context.Context) (*client.Session, error) {
		return s.source.GetCurrentSession(callCtx)
	})
	if err != nil {
		s.logger.Warn("session check failed", zap.Error(err))
	}
	s.Dispatch(Input{Kind: InputStartup, Session: current, Err: err})
	return s.State()
}

// Close unsubscribes and abandons in-flight provider calls.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
}

// State returns the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Watch calls fn after state changes, one call at a time and never with a
// state older than one already delivered. fn must not call Dispatch.
// The returned function stops it.
func (s *Synchronizer) Watch(fn func(State)) func() {
	s.mu.Lock()
	s.nextWatcher++
	id := s.nextWatcher
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Dispatch reduces one input and executes the effects it yields.
func (s *Synchronizer) Dispatch(input Input) State {
	s.mu.Lock()
	previous := s.state
	next, effects := s.rules.Reduce(previous, input)
	s.state = next
	var (
		watchers []func(State)
		revision uint64
	)
	if next != previous {
		s.revision++
		revision = s.revision
		watchers = make([]func(State), 0, len(s.watchers))
		for _, fn := range s.watchers {
			watchers = append(watchers, fn)
		}
	}
	s.mu.Unlock()

	if next.Status != previous.Status {
		s.logger.Info("auth state changed",
			zap.Stringer("from", previous.Status),
			zap.Stringer("to", next.Status),
			zap.String("user_id", next.UserID))
	}
	if len(watchers) > 0 {
		s.notify(revision, next, watchers)
	}
	for _, effect := range effects {
		s.run(effect)
	}
	return next
}

// notify drops the state when a newer revision already reached the watchers,
// which happens when concurrent Dispatch calls finish out of order.
func (s *Synchronizer) notify(revision uint64, state State, watchers []func(State)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if revision <= s.delivered {
		return
	}
	s.delivered = revision
	for _, fn := range watchers {
		fn(state)
	}
}

func (s *Synchronizer) onAuthEvent(event string, current *client.Session) {
	s.Dispatch(Input{Kind: InputEvent, Event: event, Session: current})
}

func (s *Synchronizer) run(effect Effect) {
	switch effect.Kind {
	case EffectResolveRole:
		role, err := boundedCall(s.ctx, s.timeout, func(callCtx context.Context) (string, error) {
			return s.roles.ResolveRole(callCtx, effect.UserID)
		})
		if err != nil {
			s.logger.Warn("role resolution failed", zap.String("user_id", effect.UserID), zap.Error(err))
			err = &ProviderError{Op: "resolve_role", Err: err}
		}
		s.Dispatch(Input{Kind: InputRoleResolved, UserID: effect.UserID, Epoch: effect.Epoch, Role: role, Err: err})
	case EffectVerifyUser:
		user, err := boundedCall(s.ctx, s.timeout, func(callCtx context.Context) (client.User, error) {
			return s.source.GetUser(callCtx)
		})
		if err == nil && user.ID != effect.UserID {
			err = &NotFoundError{Subject: "user", Key: effect.UserID}
		}
		if err != nil {
			s.logger.Warn("user verification failed", zap.String("user_id", effect.UserID), zap.Error(err))
		}
		s.Dispatch(Input{Kind: InputVerified, UserID: effect.UserID, Epoch: effect.Epoch, Err: err})
	case EffectClearStorage:
		if err := s.source.ClearStorage(); err != nil {
			s.logger.Warn("failed to clear stored session", zap.Error(err))
		}
	case EffectSignOut:
		s.logger.Warn("signing out stale session", zap.String("user_id", effect.UserID), zap.Error(effect.Err))
		_, err := boundedCall(s.ctx, s.timeout, func(callCtx context.Context) (struct{}, error) {
			return struct{}{}, s.source.SignOut(callCtx)
		})
		if err != nil {
			s.logger.Warn("sign out after stale session failed", zap.Error(err))
			if clearErr := s.source.ClearStorage(); clearErr != nil {
				s.logger.Warn("failed to clear stored session", zap.Error(clearErr))
			}
		}
	case EffectRedirectLogin:
		s.surface.RedirectToLogin()
	case EffectNotify:
		s.surface.Notify(effect.Notice)
	}
}

// boundedCall runs fn with a deadline and returns when either fn finishes or
// the deadline passes, so a provider that ignores its context cannot hang us.
func boundedCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(callCtx)
		done <- result{value: value, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.value, outcome.err
	case <-callCtx.Done():
		var zero T
		return zero, &ProviderError{Op: "call", Err: callCtx.Err()}
	}
}

type silentSurface struct{}

func (silentSurface) Notify(Notice)    {}
func (silentSurface) RedirectToLogin() {}
