package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/pwaburton/members/internal/client"
	"github.com/pwaburton/members/internal/config"
	"github.com/pwaburton/members/internal/logging"
	"github.com/pwaburton/members/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	routeDashboard  = session.Route{Name: "dashboard"}
	routeMembers    = session.Route{Name: "members", Roles: []string{"admin", "collector"}}
	routeCollectors = session.Route{Name: "collectors", Roles: []string{"admin", "collector"}}
	routeFinance    = session.Route{Name: "finance", Roles: []string{"admin"}}
	routeNotices    = session.Route{Name: "notices", Roles: []string{"admin"}}
	routeRegister   = session.Route{Name: "register", Roles: []string{"admin"}}
	routeAdmin      = session.Route{Name: "admin", Roles: []string{"admin"}}
)

// accessError is returned when the guard refuses a command.
type accessError struct {
	route    string
	decision session.Decision
}

func (e *accessError) Error() string {
	if e.decision.Kind == session.DecisionRedirect {
		return fmt.Sprintf("%s requires a signed in user; run `membersctl login` first", e.route)
	}
	return fmt.Sprintf("%s is not available to your role", e.route)
}

// runtime is the wiring every command shares: one Store, one Synchronizer.
type runtime struct {
	cfg          config.ClientConfig
	logger       *zap.Logger
	auth         *client.AuthClient
	data         *client.DataClient
	store        *session.Store
	synchronizer *session.Synchronizer
	guard        session.Guard
	surface      *terminalSurface
	out          io.Writer
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	sessionFile := cfg.SessionFile
	if !filepath.IsAbs(sessionFile) {
		if home, err := os.UserHomeDir(); err == nil {
			sessionFile = filepath.Join(home, sessionFile)
		}
	}
	storage, err := client.NewFileStorage(sessionFile)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	authClient, err := client.NewAuthClient(client.AuthClientConfig{
		BaseURL:       cfg.BaseURL,
		HTTPClient:    httpClient,
		Storage:       storage,
		RefreshMargin: cfg.RefreshMargin,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	dataClient, err := client.NewDataClient(client.DataClientConfig{
		BaseURL:    cfg.BaseURL,
		HTTPClient: httpClient,
		Tokens:     authClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	store, err := session.NewStore(session.StoreConfig{Provider: authClient, Logger: logger})
	if err != nil {
		return nil, err
	}
	surface := &terminalSurface{out: cmd.ErrOrStderr(), redirectHint: true}
	synchronizer, err := session.NewSynchronizer(session.SynchronizerConfig{
		Source:                  store,
		Roles:                   session.ProfileRoleResolver{Profiles: dataClient},
		Surface:                 surface,
		ProviderTimeout:         cfg.ProviderTimeout,
		RefreshRoleOnUserUpdate: cfg.RefreshRoleOnUserUpdate,
		Logger:                  logger,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:          cfg,
		logger:       logger,
		auth:         authClient,
		data:         dataClient,
		store:        store,
		synchronizer: synchronizer,
		guard:        session.NewGuard("login"),
		surface:      surface,
		out:          cmd.OutOrStdout(),
	}, nil
}

func (r *runtime) Close() {
	r.synchronizer.Close()
	r.store.Close()
	_ = r.logger.Sync()
}

// enter runs the startup check and blocks until the guard settles for route.
func (r *runtime) enter(ctx context.Context, route session.Route) error {
	r.synchronizer.Start(ctx)
	decision, err := r.guard.Await(ctx, r.synchronizer, route)
	if err != nil {
		return err
	}
	if decision.Kind != session.DecisionAllow {
		return &accessError{route: route.Name, decision: decision}
	}
	return nil
}

// terminalSurface prints notices on stderr.
type terminalSurface struct {
	mu           sync.Mutex
	out          io.Writer
	redirectHint bool
}

func (s *terminalSurface) Notify(notice session.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s: %s\n", notice.Title, notice.Description)
}

func (s *terminalSurface) RedirectToLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redirectHint {
		fmt.Fprintln(s.out, "Not signed in. Run `membersctl login`.")
	}
}

func (s *terminalSurface) quiet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirectHint = false
}
