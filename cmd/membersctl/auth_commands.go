package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pwaburton/members/internal/client"
	"github.com/pwaburton/members/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var routeAnyRole = session.Route{Name: "status", Roles: []string{"member", "collector", "admin"}}

func newLoginCommand() *cobra.Command {
	var email, memberID, idToken, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an email, a member ID or a Google ID token",
		Example: "  membersctl login --member-id M0001 --password '...'\n" +
			"  MEMBERS_PASSWORD=... membersctl login --email ada@example.org",
		RunE: func(cmd *cobra.Command, args []string) error {
			methods := 0
			for _, value := range []string{email, memberID, idToken} {
				if value != "" {
					methods++
				}
			}
			if methods != 1 {
				return errors.New("exactly one of --email, --member-id or --google-id-token is required")
			}
			if password == "" {
				password = os.Getenv("MEMBERS_PASSWORD")
			}

			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.surface.quiet()

			ctx := cmd.Context()
			rt.synchronizer.Start(ctx)
			switch {
			case email != "":
				resolver, err := session.NewEmailResolver(rt.store, rt.logger)
				if err != nil {
					return err
				}
				if _, err := resolver.SignIn(ctx, email, password); err != nil {
					return err
				}
			case memberID != "":
				resolver, err := session.NewMemberIDResolver(rt.data, rt.store, rt.logger)
				if err != nil {
					return err
				}
				if _, err := resolver.SignIn(ctx, memberID, password); err != nil {
					return err
				}
			default:
				if _, err := rt.store.SignInWithIDToken(ctx, idToken); err != nil {
					return err
				}
			}
			return printState(rt, rt.synchronizer.State())
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Sign in with this email address")
	cmd.Flags().StringVar(&memberID, "member-id", "", "Sign in with this member number")
	cmd.Flags().StringVar(&idToken, "google-id-token", "", "Sign in with a Google ID token")
	cmd.Flags().StringVar(&password, "password", "", "Password (defaults to MEMBERS_PASSWORD)")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored session and forget it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.surface.quiet()

			ctx := cmd.Context()
			if state := rt.synchronizer.Start(ctx); !state.LoggedIn() {
				fmt.Fprintln(rt.out, "Not signed in.")
				return nil
			}
			if err := rt.store.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(rt.out, "Signed out.")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who is signed in and with which role",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.surface.quiet()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*rt.cfg.ProviderTimeout)
			defer cancel()
			rt.synchronizer.Start(ctx)
			if _, err := rt.guard.Await(ctx, rt.synchronizer, routeAnyRole); err != nil {
				return err
			}
			return printState(rt, rt.synchronizer.State())
		},
	}
}

func newPasswordCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change the signed in user's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("MEMBERS_NEW_PASSWORD")
			}
			if password == "" {
				return errors.New("--new-password or MEMBERS_NEW_PASSWORD is required")
			}
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			if err := rt.enter(ctx, routeDashboard); err != nil {
				return err
			}
			if _, err := rt.auth.UpdatePassword(ctx, password); err != nil {
				return err
			}
			fmt.Fprintln(rt.out, "Password updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "new-password", "", "New password (defaults to MEMBERS_NEW_PASSWORD)")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var routeName string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow auth state changes from the server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			route, ok := knownRoutes()[routeName]
			if !ok {
				return fmt.Errorf("unknown route %q", routeName)
			}
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stopStates := rt.synchronizer.Watch(func(state session.State) {
				rt.logger.Debug("state", zap.Stringer("status", state.Status), zap.String("role", state.Role))
			})
			defer stopStates()
			stopDecisions := rt.guard.Watch(rt.synchronizer, route, func(decision session.Decision) {
				fmt.Fprintf(rt.out, "%s %s: %s\n", time.Now().Format(time.RFC3339), route.Name, decision.Kind)
			})
			defer stopDecisions()

			if state := rt.synchronizer.Start(ctx); !state.LoggedIn() {
				return nil
			}
			return followEvents(ctx, rt)
		},
	}
	cmd.Flags().StringVar(&routeName, "route", routeDashboard.Name, "Route whose guard decision is printed")
	return cmd
}

// followEvents keeps the auth event stream open, reconnecting with backoff,
// and refreshes the session ahead of expiry so TOKEN_REFRESHED reaches the
// synchronizer. It returns when ctx ends or nobody is signed in any more.
func followEvents(ctx context.Context, rt *runtime) error {
	go keepFresh(ctx, rt)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	listen := func() error {
		current, err := rt.store.GetCurrentSession(ctx)
		if err != nil {
			return err
		}
		if current == nil {
			return backoff.Permanent(client.ErrNoSession)
		}
		err = rt.auth.Listen(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, client.ErrUnauthorized), errors.Is(err, client.ErrNoSession):
			return backoff.Permanent(err)
		default:
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		rt.logger.Info("auth event stream interrupted", zap.Error(err), zap.Duration("retry_in", wait))
	}

	err := backoff.RetryNotify(listen, backoff.WithContext(policy, ctx), notify)
	if errors.Is(err, client.ErrNoSession) || errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, client.ErrUnauthorized) {
		// The server rejected the stream token; re-verify so a dead session signs out.
		rt.synchronizer.Dispatch(session.Input{Kind: session.InputEvent, Event: client.EventTokenRefreshed, Session: rt.store.Cached()})
		return nil
	}
	return err
}

func keepFresh(ctx context.Context, rt *runtime) {
	interval := rt.cfg.RefreshMargin / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rt.store.GetCurrentSession(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Warn("session refresh failed", zap.Error(err))
			}
		}
	}
}

func knownRoutes() map[string]session.Route {
	routes := make(map[string]session.Route)
	for _, route := range []session.Route{routeDashboard, routeMembers, routeCollectors, routeFinance, routeNotices, routeRegister, routeAdmin} {
		routes[route.Name] = route
	}
	return routes
}

type stateView struct {
	Status    string     `json:"status"`
	UserID    string     `json:"user_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func printState(rt *runtime, state session.State) error {
	view := stateView{Status: state.Status.String(), UserID: state.UserID, Email: state.Email, Role: state.Role}
	if cached := rt.store.Cached(); cached != nil && state.LoggedIn() {
		expiry := cached.Expiry()
		view.ExpiresAt = &expiry
	}
	if jsonOutput {
		return printJSON(rt.out, view)
	}
	if !state.LoggedIn() {
		fmt.Fprintln(rt.out, "Not signed in.")
		return nil
	}
	role := view.Role
	if role == "" {
		role = "unknown"
	}
	fmt.Fprintf(rt.out, "Signed in as %s (%s)\nrole: %s\n", view.Email, view.UserID, role)
	if view.ExpiresAt != nil {
		fmt.Fprintf(rt.out, "access token expires: %s\n", view.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
