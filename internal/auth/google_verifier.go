package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const defaultGoogleKeyTTL = time.Hour

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

var (
	errMissingToken          = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errMissingEmailClaim     = errors.New("token missing email claim")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")

	// ErrInvalidVerifierConfig wraps every constructor failure.
	ErrInvalidVerifierConfig = errors.New("auth: invalid google verifier config")
	// ErrInvalidGoogleToken wraps every Verify failure.
	ErrInvalidGoogleToken = errors.New("auth: invalid google id token")
)

// GoogleVerifierConfig configures NewGoogleVerifier. Audience is the OAuth
// client id the tokens were minted for.
type GoogleVerifierConfig struct {
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// GoogleClaims is the identity carried by a verified Google ID token.
type GoogleClaims struct {
	Audience      string
	Subject       string
	Issuer        string
	Email         string
	EmailVerified bool
	Name          string
	Expiry        time.Time
	IssuedAt      time.Time
}

type googleTokenBody struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// GoogleVerifier checks Google ID tokens offline against Google's published keys.
type GoogleVerifier struct {
	audience string
	issuers  []string
	keys     *googleKeySet
	parser   *jwt.Parser
}

func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}
	issuers := googleIssuers
	if cfg.AllowedIssuers != nil {
		issuers = nil
		for _, issuer := range cfg.AllowedIssuers {
			if trimmed := strings.TrimSpace(issuer); trimmed != "" {
				issuers = append(issuers, trimmed)
			}
		}
		if len(issuers) == 0 {
			return nil, fmt.Errorf("%w: %w", ErrInvalidVerifierConfig, errNoAllowedIssuers)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultGoogleKeyTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GoogleVerifier{
		audience: audience,
		issuers:  issuers,
		keys:     newGoogleKeySet(jwksURL, httpClient, ttl, clock, logger),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

// Verify checks the token signature, audience, issuer and expiry and returns
// its identity. The email is lower-cased.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (GoogleClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidGoogleToken, errMissingToken)
	}

	var body googleTokenBody
	_, err := v.parser.ParseWithClaims(rawToken, &body, func(token *jwt.Token) (any, error) {
		keyID, _ := token.Header["kid"].(string)
		if keyID == "" {
			return nil, errMissingKeyIdentifier
		}
		return v.keys.key(ctx, keyID)
	})
	if err != nil {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidGoogleToken, err)
	}
	if err := v.checkIdentity(body); err != nil {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidGoogleToken, err)
	}

	claims := GoogleClaims{
		Audience:      v.audience,
		Subject:       body.Subject,
		Issuer:        body.Issuer,
		Email:         strings.ToLower(strings.TrimSpace(body.Email)),
		EmailVerified: body.EmailVerified,
		Name:          strings.TrimSpace(body.Name),
		Expiry:        body.ExpiresAt.Time,
	}
	if body.IssuedAt != nil {
		claims.IssuedAt = body.IssuedAt.Time
	}
	return claims, nil
}

func (v *GoogleVerifier) checkIdentity(body googleTokenBody) error {
	trusted := false
	for _, issuer := range v.issuers {
		if body.Issuer == issuer {
			trusted = true
			break
		}
	}
	switch {
	case !trusted:
		return errUntrustedIssuer
	case body.Subject == "":
		return errMissingSubject
	case strings.TrimSpace(body.Email) == "":
		return errMissingEmailClaim
	}
	return nil
}
