package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stateFeed struct {
	mu       sync.Mutex
	state    State
	watchers map[int]func(State)
	next     int
}

func newStateFeed(initial State) *stateFeed {
	return &stateFeed{state: initial, watchers: make(map[int]func(State))}
}

func (f *stateFeed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *stateFeed) Watch(fn func(State)) func() {
	f.mu.Lock()
	f.next++
	id := f.next
	f.watchers[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.watchers, id)
	}
}

func (f *stateFeed) set(state State) {
	f.mu.Lock()
	f.state = state
	watchers := make([]func(State), 0, len(f.watchers))
	for _, fn := range f.watchers {
		watchers = append(watchers, fn)
	}
	f.mu.Unlock()
	for _, fn := range watchers {
		fn(state)
	}
}

func TestGuardEvaluate(t *testing.T) {
	guard := NewGuard("")
	admin := Route{Name: "members", Roles: []string{"admin"}}
	dashboard := Route{Name: "dashboard"}

	testCases := []struct {
		name     string
		state    State
		route    Route
		expected DecisionKind
	}{
		{name: "unknown waits", state: State{}, route: dashboard, expected: DecisionLoading},
		{name: "signed out redirects", state: State{Status: StatusUnauthenticated}, route: dashboard, expected: DecisionRedirect},
		{name: "any signed in user", state: State{Status: StatusAuthenticated, UserID: "u"}, route: dashboard, expected: DecisionAllow},
		{name: "role pending", state: State{Status: StatusAuthenticated, UserID: "u"}, route: admin, expected: DecisionLoading},
		{name: "role lookup failed", state: State{Status: StatusAuthenticated, UserID: "u", RoleFailed: true}, route: admin, expected: DecisionForbidden},
		{name: "role matches", state: State{Status: StatusAuthenticated, UserID: "u", Role: "admin"}, route: admin, expected: DecisionAllow},
		{name: "role differs", state: State{Status: StatusAuthenticated, UserID: "u", Role: "member"}, route: admin, expected: DecisionForbidden},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			decision := guard.Evaluate(testCase.state, testCase.route)
			if decision.Kind != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, decision.Kind)
			}
			if decision.Kind == DecisionRedirect && decision.RedirectTo != "login" {
				t.Fatalf("unexpected redirect target %q", decision.RedirectTo)
			}
		})
	}
}

func TestGuardWatchDeliversChangesOnly(t *testing.T) {
	feed := newStateFeed(State{})
	guard := NewGuard("/login")

	var decisions []DecisionKind
	stop := guard.Watch(feed, Route{Name: "dashboard"}, func(decision Decision) {
		decisions = append(decisions, decision.Kind)
	})

	feed.set(State{Status: StatusUnauthenticated, Epoch: 1})
	feed.set(State{Status: StatusUnauthenticated, Epoch: 2})
	feed.set(State{Status: StatusAuthenticated, UserID: "u", Epoch: 3})
	feed.set(State{Status: StatusAuthenticated, UserID: "u", Role: "member", Epoch: 3})
	stop()
	feed.set(State{Status: StatusUnauthenticated, Epoch: 4})

	expected := []DecisionKind{DecisionLoading, DecisionRedirect, DecisionAllow}
	if len(decisions) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, decisions)
	}
	for i := range expected {
		if decisions[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, decisions)
		}
	}
}

func TestGuardWatchIgnoresLateNotification(t *testing.T) {
	feed := newStateFeed(State{Status: StatusUnauthenticated})
	guard := NewGuard("login")

	var decisions []DecisionKind
	stop := guard.Watch(feed, Route{Name: "dashboard"}, func(decision Decision) {
		decisions = append(decisions, decision.Kind)
	})
	defer stop()

	feed.set(State{Status: StatusAuthenticated, UserID: "u", Epoch: 1})
	feed.mu.Lock()
	watchers := make([]func(State), 0, len(feed.watchers))
	for _, fn := range feed.watchers {
		watchers = append(watchers, fn)
	}
	feed.mu.Unlock()
	for _, fn := range watchers {
		fn(State{Status: StatusUnauthenticated})
	}

	expected := []DecisionKind{DecisionRedirect, DecisionAllow}
	if len(decisions) != len(expected) || decisions[0] != expected[0] || decisions[1] != expected[1] {
		t.Fatalf("expected %v, got %v", expected, decisions)
	}
	if decision := guard.Evaluate(feed.State(), Route{Name: "dashboard"}); decision.Kind != DecisionAllow {
		t.Fatalf("expected the current state to allow, got %s", decision.Kind)
	}
}

func TestGuardAwaitSettles(t *testing.T) {
	feed := newStateFeed(State{})
	guard := NewGuard("login")
	route := Route{Name: "finance", Roles: []string{"admin", "collector"}}

	go func() {
		time.Sleep(10 * time.Millisecond)
		feed.set(State{Status: StatusAuthenticated, UserID: "u", Epoch: 1})
		feed.set(State{Status: StatusAuthenticated, UserID: "u", Role: "collector", Epoch: 1})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	decision, err := guard.Await(ctx, feed, route)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if decision.Kind != DecisionAllow {
		t.Fatalf("expected allow, got %s", decision.Kind)
	}
}

func TestGuardAwaitHonoursContext(t *testing.T) {
	feed := newStateFeed(State{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	decision, err := NewGuard("login").Await(ctx, feed, Route{Name: "dashboard"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if decision.Kind != DecisionLoading {
		t.Fatalf("expected loading, got %s", decision.Kind)
	}
}
