package session

import (
	"context"
	"sync"
)

// DecisionKind is what a protected view should do.
type DecisionKind int

const (
	DecisionLoading DecisionKind = iota
	DecisionRedirect
	DecisionAllow
	DecisionForbidden
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionRedirect:
		return "redirect"
	case DecisionAllow:
		return "allow"
	case DecisionForbidden:
		return "forbidden"
	default:
		return "loading"
	}
}

// Route is a protected section. Empty Roles admits any signed-in user.
type Route struct {
	Name  string
	Roles []string
}

// Decision is the guard's verdict for one route.
type Decision struct {
	Kind       DecisionKind
	RedirectTo string
}

// StateSource is what the guard watches.
type StateSource interface {
	State() State
	Watch(fn func(State)) func()
}

// Guard admits or redirects navigation into protected routes.
type Guard struct {
	LoginRoute string
}

// NewGuard returns a guard that redirects to loginRoute.
func NewGuard(loginRoute string) Guard {
	if loginRoute == "" {
		loginRoute = "login"
	}
	return Guard{LoginRoute: loginRoute}
}

// Evaluate is a pure function of the state.
func (g Guard) Evaluate(state State, route Route) Decision {
	switch state.Status {
	case StatusUnauthenticated:
		return Decision{Kind: DecisionRedirect, RedirectTo: g.LoginRoute}
	case StatusAuthenticated:
		if len(route.Roles) == 0 {
			return Decision{Kind: DecisionAllow}
		}
		if state.Role == "" {
			if state.RoleFailed {
				return Decision{Kind: DecisionForbidden}
			}
			return Decision{Kind: DecisionLoading}
		}
		for _, role := range route.Roles {
			if role == state.Role {
				return Decision{Kind: DecisionAllow}
			}
		}
		return Decision{Kind: DecisionForbidden}
	default:
		return Decision{Kind: DecisionLoading}
	}
}

// Watch delivers the current decision and then every changed decision until
// the returned function is called. Each delivery evaluates the source's
// current state, so a notification that arrives late cannot roll the
// decision back.
func (g Guard) Watch(source StateSource, route Route, fn func(Decision)) func() {
	var mu sync.Mutex
	var last *Decision
	deliver := func(State) {
		mu.Lock()
		defer mu.Unlock()
		decision := g.Evaluate(source.State(), route)
		if last != nil && *last == decision {
			return
		}
		last = &decision
		fn(decision)
	}
	stop := source.Watch(deliver)
	deliver(State{})
	return stop
}

// Await blocks until the decision for route is no longer Loading.
func (g Guard) Await(ctx context.Context, source StateSource, route Route) (Decision, error) {
	settled := make(chan Decision, 1)
	stop := g.Watch(source, route, func(decision Decision) {
		if decision.Kind == DecisionLoading {
			return
		}
		select {
		case settled <- decision:
		default:
		}
	})
	defer stop()

	select {
	case decision := <-settled:
		return decision, nil
	case <-ctx.Done():
		return Decision{Kind: DecisionLoading}, ctx.Err()
	}
}
