package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "MEMBERS"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabaseDSN     = "members.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultIssuer          = "members-auth"
	defaultAudience        = "members-api"
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 30 * 24 * time.Hour
	defaultGoogleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultProfileRole     = "member"
	defaultProfileCache    = 1024
	defaultProfileCacheTTL = 5 * time.Minute
	defaultMailAPIURL      = "https://api.resend.com/emails"
	defaultMailFrom        = "PWA Burton <onboarding@resend.dev>"
	defaultClientBaseURL   = "http://127.0.0.1:8080"
	defaultSessionFile     = ".membersctl/session.json"
	defaultClientTimeout   = 15 * time.Second
	defaultRefreshMargin   = time.Minute
	defaultProviderTimeout = 10 * time.Second
	defaultLookupLimit     = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	LookupLimit        int
	DatabaseDriver     string
	DatabaseDSN        string
	LogLevel           string
	LogFormat          string
	SigningSecret      string
	Issuer             string
	Audience           string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	GoogleClientID     string
	GoogleJWKSURL      string
	DefaultProfileRole string
	ProfileCacheSize   int
	ProfileCacheTTL    time.Duration
	MailAPIURL         string
	MailAPIKey         string
	MailFrom           string
	AllowedOrigins     []string
}

// ClientConfig captures runtime configuration for the command line client.
type ClientConfig struct {
	BaseURL                 string
	SessionFile             string
	Timeout                 time.Duration
	RefreshMargin           time.Duration
	ProviderTimeout         time.Duration
	RefreshRoleOnUserUpdate bool
	LogLevel                string
	LogFormat               string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.credential_lookup_limit", defaultLookupLimit)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.access_ttl", defaultAccessTTL)
	configViper.SetDefault("auth.refresh_ttl", defaultRefreshTTL)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("profiles.default_role", defaultProfileRole)
	configViper.SetDefault("profiles.cache_size", defaultProfileCache)
	configViper.SetDefault("profiles.cache_ttl", defaultProfileCacheTTL)
	configViper.SetDefault("mail.api_url", defaultMailAPIURL)
	configViper.SetDefault("mail.from", defaultMailFrom)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})

	configViper.SetDefault("client.base_url", defaultClientBaseURL)
	configViper.SetDefault("client.session_file", defaultSessionFile)
	configViper.SetDefault("client.timeout", defaultClientTimeout)
	configViper.SetDefault("client.refresh_margin", defaultRefreshMargin)
	configViper.SetDefault("session.provider_timeout", defaultProviderTimeout)
	configViper.SetDefault("session.refresh_role_on_user_update", false)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		LookupLimit:        configViper.GetInt("http.credential_lookup_limit"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          configViper.GetString("log.format"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		Issuer:             configViper.GetString("auth.issuer"),
		Audience:           configViper.GetString("auth.audience"),
		AccessTTL:          configViper.GetDuration("auth.access_ttl"),
		RefreshTTL:         configViper.GetDuration("auth.refresh_ttl"),
		GoogleClientID:     configViper.GetString("google.client_id"),
		GoogleJWKSURL:      configViper.GetString("google.jwks_url"),
		DefaultProfileRole: configViper.GetString("profiles.default_role"),
		ProfileCacheSize:   configViper.GetInt("profiles.cache_size"),
		ProfileCacheTTL:    configViper.GetDuration("profiles.cache_ttl"),
		MailAPIURL:         configViper.GetString("mail.api_url"),
		MailAPIKey:         configViper.GetString("mail.api_key"),
		MailFrom:           configViper.GetString("mail.from"),
		AllowedOrigins:     configViper.GetStringSlice("cors.allowed_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.LookupLimit <= 0 {
		return fmt.Errorf("http.credential_lookup_limit must be positive")
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("auth.access_ttl must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("auth.refresh_ttl must exceed auth.access_ttl")
	}
	switch c.DefaultProfileRole {
	case "member", "collector", "admin":
	default:
		return fmt.Errorf("profiles.default_role %q is not a known role", c.DefaultProfileRole)
	}
	return nil
}

// LoadClient parses client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:                 strings.TrimRight(strings.TrimSpace(configViper.GetString("client.base_url")), "/"),
		SessionFile:             configViper.GetString("client.session_file"),
		Timeout:                 configViper.GetDuration("client.timeout"),
		RefreshMargin:           configViper.GetDuration("client.refresh_margin"),
		ProviderTimeout:         configViper.GetDuration("session.provider_timeout"),
		RefreshRoleOnUserUpdate: configViper.GetBool("session.refresh_role_on_user_update"),
		LogLevel:                configViper.GetString("log.level"),
		LogFormat:               configViper.GetString("log.format"),
	}
	if cfg.BaseURL == "" {
		return ClientConfig{}, fmt.Errorf("client.base_url is required")
	}
	if strings.TrimSpace(cfg.SessionFile) == "" {
		return ClientConfig{}, fmt.Errorf("client.session_file is required")
	}
	if cfg.ProviderTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("session.provider_timeout must be positive")
	}
	return cfg, nil
}
