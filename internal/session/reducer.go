package session

import "github.com/pwaburton/members/internal/client"

// Status is the coarse auth state.
type Status int

const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// DefaultRole applies when a profile reports no role.
const DefaultRole = "member"

// State is the reconciled session signal. Role is empty until resolved.
// Epoch changes whenever the signed-in identity changes so results of calls
// started for an earlier identity can be recognised and dropped.
type State struct {
	Status     Status
	UserID     string
	Email      string
	Role       string
	RoleFailed bool
	Epoch      uint64
}

// LoggedIn reports the boolean signal consumers react to.
func (s State) LoggedIn() bool {
	return s.Status == StatusAuthenticated
}

// InputKind identifies what fed the reducer.
type InputKind int

const (
	// InputStartup is the result of the one-shot session check.
	InputStartup InputKind = iota
	// InputEvent is a provider auth state change.
	InputEvent
	// InputVerified is the result of re-fetching the current user.
	InputVerified
	// InputRoleResolved is the result of reading the caller's profile.
	InputRoleResolved
)

// Input is one reducer step.
type Input struct {
	Kind    InputKind
	Event   string
	Session *client.Session
	Epoch   uint64
	UserID  string
	Role    string
	Err     error
}

// EffectKind identifies a side effect the reducer asks for.
type EffectKind int

const (
	EffectResolveRole EffectKind = iota
	EffectVerifyUser
	EffectClearStorage
	EffectSignOut
	EffectRedirectLogin
	EffectNotify
)

// Effect is work the Synchronizer performs after a reducer step.
type Effect struct {
	Kind   EffectKind
	UserID string
	Epoch  uint64
	Notice Notice
	Err    error
}

// NoticeKind identifies a user-facing notification.
type NoticeKind int

const (
	NoticeSignedIn NoticeKind = iota
	NoticeSessionExpired
	NoticeAuthError
)

// Notice is a user-facing notification.
type Notice struct {
	Kind        NoticeKind
	Title       string
	Description string
}

var (
	signedInNotice       = Notice{Kind: NoticeSignedIn, Title: "Signed in successfully", Description: "Welcome back!"}
	sessionExpiredNotice = Notice{Kind: NoticeSessionExpired, Title: "Session expired", Description: "Please log in again"}
	authErrorNotice      = Notice{Kind: NoticeAuthError, Title: "Authentication error", Description: "Please sign in again"}
)

// Rules holds the reducer's tunable behaviour.
type Rules struct {
	// RefreshRoleOnUserUpdate re-reads the role when USER_UPDATED arrives.
	RefreshRoleOnUserUpdate bool
}

// Reduce applies input to state with the default rules.
func Reduce(state State, input Input) (State, []Effect) {
	return Rules{}.Reduce(state, input)
}

// Reduce is the single place the session state changes. It is deterministic
// and applying the same input twice yields no further transition or effect.
func (r Rules) Reduce(state State, input Input) (State, []Effect) {
	switch input.Kind {
	case InputStartup:
		return reduceStartup(state, input.Session, input.Err)
	case InputEvent:
		return r.reduceEvent(state, input.Event, input.Session)
	case InputVerified:
		return reduceVerified(state, input)
	case InputRoleResolved:
		return reduceRole(state, input)
	}
	return state, nil
}

func reduceStartup(state State, current *client.Session, err error) (State, []Effect) {
	if err != nil {
		effects := []Effect{{Kind: EffectClearStorage, Err: err}}
		if state.Status == StatusUnauthenticated {
			return state, effects
		}
		next := signedOut(state)
		return next, append(effects,
			Effect{Kind: EffectRedirectLogin},
			Effect{Kind: EffectNotify, Notice: authErrorNotice},
		)
	}
	if current == nil {
		if state.Status != StatusUnknown {
			return state, nil
		}
		return signedOut(state), []Effect{{Kind: EffectRedirectLogin}}
	}
	if state.Status == StatusAuthenticated && state.UserID == current.User.ID {
		return state, nil
	}
	return reauthenticate(state, current)
}

// reauthenticate adopts a session that arrived without a sign-in. The
// verification it requests signs a stale session back out.
func reauthenticate(state State, current *client.Session) (State, []Effect) {
	next := signedIn(state, current)
	return next, []Effect{
		{Kind: EffectResolveRole, UserID: next.UserID, Epoch: next.Epoch},
		{Kind: EffectVerifyUser, UserID: next.UserID, Epoch: next.Epoch},
	}
}

func (r Rules) reduceEvent(state State, event string, current *client.Session) (State, []Effect) {
	switch event {
	case client.EventInitialSession:
		return reduceStartup(state, current, nil)
	case client.EventSignedIn:
		if current == nil {
			return state, nil
		}
		if state.Status == StatusAuthenticated && state.UserID == current.User.ID {
			return state, nil
		}
		next := signedIn(state, current)
		return next, []Effect{
			{Kind: EffectResolveRole, UserID: next.UserID, Epoch: next.Epoch},
			{Kind: EffectNotify, Notice: signedInNotice},
		}
	case client.EventSignedOut:
		if state.Status == StatusUnauthenticated {
			return state, nil
		}
		return signedOut(state), []Effect{{Kind: EffectRedirectLogin}}
	case client.EventTokenRefreshed:
		if current == nil {
			return state, nil
		}
		if state.Status == StatusAuthenticated && state.UserID == current.User.ID {
			return state, []Effect{{Kind: EffectVerifyUser, UserID: state.UserID, Epoch: state.Epoch}}
		}
		return reauthenticate(state, current)
	case client.EventUserUpdated:
		if r.RefreshRoleOnUserUpdate && state.Status == StatusAuthenticated {
			return state, []Effect{{Kind: EffectResolveRole, UserID: state.UserID, Epoch: state.Epoch}}
		}
		return state, nil
	}
	return state, nil
}

func reduceVerified(state State, input Input) (State, []Effect) {
	if !appliesTo(state, input) || input.Err == nil {
		return state, nil
	}
	stale := &StaleSessionError{UserID: state.UserID, Err: input.Err}
	return signedOut(state), []Effect{
		{Kind: EffectSignOut, UserID: state.UserID, Err: stale},
		{Kind: EffectRedirectLogin},
		{Kind: EffectNotify, Notice: sessionExpiredNotice},
	}
}

func reduceRole(state State, input Input) (State, []Effect) {
	if !appliesTo(state, input) {
		return state, nil
	}
	if input.Err != nil {
		if state.Role == "" {
			state.RoleFailed = true
		}
		return state, nil
	}
	role := input.Role
	if role == "" {
		role = DefaultRole
	}
	state.Role = role
	state.RoleFailed = false
	return state, nil
}

func appliesTo(state State, input Input) bool {
	return state.Status == StatusAuthenticated && state.Epoch == input.Epoch && state.UserID == input.UserID
}

func signedIn(state State, current *client.Session) State {
	return State{
		Status: StatusAuthenticated,
		UserID: current.User.ID,
		Email:  current.User.Email,
		Epoch:  state.Epoch + 1,
	}
}

func signedOut(state State) State {
	return State{Status: StatusUnauthenticated, Epoch: state.Epoch + 1}
}
