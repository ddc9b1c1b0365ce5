package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pwaburton/members/internal/auth"
	"github.com/pwaburton/members/internal/members"
	"github.com/pwaburton/members/internal/payments"
	"github.com/pwaburton/members/internal/profiles"
	"github.com/pwaburton/members/internal/registration"
	"github.com/pwaburton/members/internal/support"
	"go.uber.org/zap"
)

const (
	claimsContextKey  = "members_claims"
	profileContextKey = "members_profile"
)

var (
	errMissingProvider     = errors.New("auth provider dependency required")
	errMissingValidator    = errors.New("session validator dependency required")
	errMissingProfiles     = errors.New("profile service dependency required")
	errMissingMembers      = errors.New("member service dependency required")
	errMissingPayments     = errors.New("payment service dependency required")
	errMissingSupport      = errors.New("support service dependency required")
	errMissingRegistration = errors.New("registration service dependency required")
)

// GoogleVerifier validates Google ID tokens.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// RequestValidator resolves the caller's access claims from a request.
type RequestValidator interface {
	ValidateRequest(r *http.Request) (auth.AccessClaims, error)
}

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	Provider          *auth.Provider
	Validator         RequestValidator
	GoogleVerifier    GoogleVerifier
	Profiles          *profiles.Service
	Members           *members.Service
	Payments          *payments.Service
	Support           *support.Service
	Registration      *registration.Service
	Realtime          *RealtimeDispatcher
	RealtimeHeartbeat time.Duration
	// CredentialLookupLimit caps member credential lookups per client IP per minute.
	CredentialLookupLimit int
	AllowedOrigins        []string
	Clock                 func() time.Time
	Logger                *zap.Logger
}

// NewHTTPHandler builds the gin router serving the auth, data and function APIs.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Provider == nil:
		return nil, errMissingProvider
	case deps.Validator == nil:
		return nil, errMissingValidator
	case deps.Profiles == nil:
		return nil, errMissingProfiles
	case deps.Members == nil:
		return nil, errMissingMembers
	case deps.Payments == nil:
		return nil, errMissingPayments
	case deps.Support == nil:
		return nil, errMissingSupport
	case deps.Registration == nil:
		return nil, errMissingRegistration
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.RealtimeHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultRealtimeHeartbeat
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	lookupLimit := deps.CredentialLookupLimit
	if lookupLimit <= 0 {
		lookupLimit = defaultCredentialLookupLimit
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		provider:     deps.Provider,
		validator:    deps.Validator,
		verifier:     deps.GoogleVerifier,
		profiles:     deps.Profiles,
		members:      deps.Members,
		payments:     deps.Payments,
		support:      deps.Support,
		registration: deps.Registration,
		realtime:     realtime,
		heartbeat:    heartbeat,
		clock:        clock,
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := router.Group("/auth/v1")
	authGroup.POST("/token", handler.handleToken)
	authGroup.POST("/google", handler.handleGoogleAuth)
	authProtected := authGroup.Group("/")
	authProtected.Use(handler.authorizeRequest)
	authProtected.POST("/logout", handler.handleLogout)
	authProtected.GET("/user", handler.handleGetUser)
	authProtected.PUT("/user", handler.handleUpdateUser)
	authProtected.GET("/events", handler.handleEvents)

	router.POST("/rest/v1/rpc/member_credentials",
		handler.rateLimitByIP(lookupLimit, credentialLookupWindow, "members.lookup_credentials.rate_limited"),
		handler.handleMemberCredentials)

	rest := router.Group("/rest/v1")
	rest.Use(handler.authorizeRequest)

	rest.GET("/profiles/me", handler.handleMyProfile)
	rest.PATCH("/profiles/me/flags", handler.handleMarkFlags)
	rest.GET("/profiles", handler.requireRole(profiles.RoleAdmin), handler.handleListProfiles)
	rest.PATCH("/profiles/:id/role", handler.requireRole(profiles.RoleAdmin), handler.handleUpdateRole)
	rest.DELETE("/accounts/:id", handler.requireRole(profiles.RoleAdmin), handler.handleDeleteAccount)

	staff := handler.requireRole(profiles.RoleAdmin, profiles.RoleCollector)
	admin := handler.requireRole(profiles.RoleAdmin)

	rest.GET("/collectors", staff, handler.handleListCollectors)
	rest.POST("/collectors", admin, handler.handleCreateCollector)
	rest.PATCH("/collectors/:id/active", admin, handler.handleSetCollectorActive)
	rest.DELETE("/collectors/:id", admin, handler.handleDeleteCollector)

	rest.GET("/members", staff, handler.handleListMembers)
	rest.POST("/members", admin, handler.handleCreateMember)
	rest.POST("/members/import", admin, handler.handleImportMembers)
	rest.GET("/members/:id", staff, handler.handleGetMember)
	rest.PATCH("/members/:id", admin, handler.handleUpdateMember)
	rest.DELETE("/members/:id", admin, handler.handleDeleteMember)
	rest.PUT("/members/:id/password", admin, handler.handleSetMemberPassword)
	rest.GET("/members/:id/family", admin, handler.handleListFamily)
	rest.POST("/members/:id/family", admin, handler.handleAddFamily)
	rest.GET("/members/:id/notes", admin, handler.handleListNotes)
	rest.POST("/members/:id/notes", admin, handler.handleAddNote)

	rest.GET("/members/:id/payments", handler.resolveProfile, handler.handleListPayments)
	rest.POST("/members/:id/payments", admin, handler.handleCreateMemberPayment)
	rest.POST("/payments", admin, handler.handleCreatePayment)
	rest.DELETE("/payments/:id", admin, handler.handleDeletePayment)
	rest.GET("/finance/stats", admin, handler.handleFinanceStats)

	rest.GET("/tickets", handler.resolveProfile, handler.handleListTickets)
	rest.POST("/tickets", handler.resolveProfile, handler.handleCreateTicket)
	rest.POST("/tickets/:id/responses", handler.resolveProfile, handler.handleRespondTicket)
	rest.PATCH("/tickets/:id/status", admin, handler.handleSetTicketStatus)

	rest.GET("/notices", admin, handler.handleListNotices)
	rest.POST("/notices", admin, handler.handleSendNotice)

	functions := router.Group("/functions/v1")
	functions.Use(handler.authorizeRequest)
	functions.POST("/send-welcome-email", admin, handler.handleSendWelcomeEmail)

	return router, nil
}

type httpHandler struct {
	provider     *auth.Provider
	validator    RequestValidator
	verifier     GoogleVerifier
	profiles     *profiles.Service
	members      *members.Service
	payments     *payments.Service
	support      *support.Service
	registration *registration.Service
	realtime     *RealtimeDispatcher
	heartbeat    time.Duration
	clock        func() time.Time
	logger       *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "apikey", "X-Client-Info"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	allowAll := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSessionToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "auth.session.missing_token"))
			return
		}
		if errors.Is(err, auth.ErrExpiredAccessToken) {
			h.logger.Info("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "auth.session.expired_token"))
			return
		}
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "auth.session.invalid_token"))
		return
	}
	c.Set(claimsContextKey, claims)
	c.Next()
}

// resolveProfile loads the caller's profile, creating it on first access.
func (h *httpHandler) resolveProfile(c *gin.Context) {
	if _, ok := h.ensureProfile(c); !ok {
		c.Abort()
	}
}

func (h *httpHandler) ensureProfile(c *gin.Context) (profiles.Profile, bool) {
	if value, ok := c.Get(profileContextKey); ok {
		if profile, ok := value.(profiles.Profile); ok {
			return profile, true
		}
	}
	claims := callerClaims(c)
	profile, err := h.profiles.Ensure(c.Request.Context(), claims.Subject, claims.Email)
	if err != nil {
		h.respondError(c, err)
		return profiles.Profile{}, false
	}
	c.Set(profileContextKey, profile)
	return profile, true
}

func (h *httpHandler) requireRole(roles ...profiles.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := h.ensureProfile(c)
		if !ok {
			c.Abort()
			return
		}
		if !profile.Role.OneOf(roles...) {
			h.logger.Info("role check denied",
				zap.String("user_id", profile.UserID),
				zap.String("role", string(profile.Role)),
				zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody("forbidden", "server.role.insufficient"))
		}
	}
}

func callerClaims(c *gin.Context) auth.AccessClaims {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.AccessClaims{}
	}
	claims, _ := value.(auth.AccessClaims)
	return claims
}

func callerProfile(c *gin.Context) profiles.Profile {
	value, ok := c.Get(profileContextKey)
	if !ok {
		return profiles.Profile{}
	}
	profile, _ := value.(profiles.Profile)
	return profile
}
