package main

import (
	"database/sql"

	"github.com/pwaburton/members/internal/auth"
	"github.com/pwaburton/members/internal/config"
	"github.com/pwaburton/members/internal/database"
	"github.com/pwaburton/members/internal/identifiers"
	"github.com/pwaburton/members/internal/members"
	"github.com/pwaburton/members/internal/payments"
	"github.com/pwaburton/members/internal/profiles"
	"github.com/pwaburton/members/internal/registration"
	"github.com/pwaburton/members/internal/server"
	"github.com/pwaburton/members/internal/support"
	"go.uber.org/zap"
)

// backend holds the services shared by the server and the admin commands.
type backend struct {
	sqlDB          *sql.DB
	provider       *auth.Provider
	validator      *auth.SessionValidator
	googleVerifier *auth.GoogleVerifier
	profiles       *profiles.Service
	members        *members.Service
	payments       *payments.Service
	support        *support.Service
	registration   *registration.Service
	realtime       *server.RealtimeDispatcher
	logger         *zap.Logger
}

func newBackend(appConfig config.AppConfig, logger *zap.Logger) (*backend, error) {
	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app := &backend{sqlDB: sqlDB, logger: logger, realtime: server.NewRealtimeDispatcher()}
	ok := false
	defer func() {
		if !ok {
			_ = sqlDB.Close()
		}
	}()

	ids := identifiers.NewUUIDProvider()
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		TokenTTL:      appConfig.AccessTTL,
	})
	if err != nil {
		return nil, err
	}
	app.validator, err = auth.NewSessionValidator(auth.SessionValidatorConfig{Tokens: tokens})
	if err != nil {
		return nil, err
	}
	if appConfig.GoogleClientID != "" {
		app.googleVerifier, err = auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
			Audience:       appConfig.GoogleClientID,
			JWKSURL:        appConfig.GoogleJWKSURL,
			AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
	}

	app.provider, err = auth.NewProvider(auth.ProviderConfig{
		Database:   db,
		Tokens:     tokens,
		IDProvider: ids,
		RefreshTTL: appConfig.RefreshTTL,
		Publisher:  app.realtime,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	app.profiles, err = profiles.NewService(profiles.ServiceConfig{
		Database:    db,
		DefaultRole: profiles.Role(appConfig.DefaultProfileRole),
		CacheSize:   appConfig.ProfileCacheSize,
		CacheTTL:    appConfig.ProfileCacheTTL,
		Publisher:   app.realtime,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	app.members, err = members.NewService(members.ServiceConfig{Database: db, IDProvider: ids, Accounts: app.provider, Logger: logger})
	if err != nil {
		return nil, err
	}
	app.provider.MirrorPasswordsTo(app.members)
	app.payments, err = payments.NewService(payments.ServiceConfig{Database: db, Members: app.members, IDProvider: ids, Logger: logger})
	if err != nil {
		return nil, err
	}
	app.support, err = support.NewService(support.ServiceConfig{Database: db, Recipients: app.members, IDProvider: ids, Logger: logger})
	if err != nil {
		return nil, err
	}

	var mailer registration.Mailer
	if appConfig.MailAPIKey != "" {
		mailer, err = registration.NewResendMailer(registration.ResendMailerConfig{
			APIURL: appConfig.MailAPIURL,
			APIKey: appConfig.MailAPIKey,
			From:   appConfig.MailFrom,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("mail.api_key not set; welcome emails are logged instead of sent")
		mailer = registration.NewLogMailer(logger)
	}
	app.registration, err = registration.NewService(registration.ServiceConfig{Accounts: app.provider, Mailer: mailer, Logger: logger})
	if err != nil {
		return nil, err
	}

	ok = true
	return app, nil
}

func (b *backend) dependencies(appConfig config.AppConfig) server.Dependencies {
	deps := server.Dependencies{
		Provider:              b.provider,
		Validator:             b.validator,
		Profiles:              b.profiles,
		Members:               b.members,
		Payments:              b.payments,
		Support:               b.support,
		Registration:          b.registration,
		Realtime:              b.realtime,
		CredentialLookupLimit: appConfig.LookupLimit,
		AllowedOrigins:        appConfig.AllowedOrigins,
		Logger:                b.logger,
	}
	if b.googleVerifier != nil {
		deps.GoogleVerifier = b.googleVerifier
	}
	return deps
}

func (b *backend) Close() {
	if err := b.sqlDB.Close(); err != nil {
		b.logger.Warn("failed to close database", zap.Error(err))
	}
}
