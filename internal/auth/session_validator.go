package auth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	bearerPrefix           = "Bearer "
	accessTokenQueryParam  = "access_token"
	defaultSessionCookieNm = "members_session"
)

var (
	ErrMissingTokenValidator = errors.New("session validator: token validator required")
	ErrMissingSessionToken   = errors.New("session validator: token required")
)

// TokenValidator validates access tokens.
type TokenValidator interface {
	ValidateToken(token string) (AccessClaims, error)
}

// SessionValidatorConfig describes where access tokens are read from.
type SessionValidatorConfig struct {
	Tokens     TokenValidator
	CookieName string
}

// SessionValidator extracts and validates access tokens from HTTP requests.
// The Authorization header wins over the session cookie, which wins over the
// access_token query parameter used by event stream clients.
type SessionValidator struct {
	tokens     TokenValidator
	cookieName string
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if cfg.Tokens == nil {
		return nil, ErrMissingTokenValidator
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultSessionCookieNm
	}
	return &SessionValidator{
		tokens:     cfg.Tokens,
		cookieName: cookieName,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ExtractToken returns the raw access token carried by the request.
func (v *SessionValidator) ExtractToken(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingSessionToken
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, bearerPrefix) {
			return "", ErrMissingSessionToken
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if token == "" {
			return "", ErrMissingSessionToken
		}
		return token, nil
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie != nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value), nil
	}
	if token := strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParam)); token != "" {
		return token, nil
	}
	return "", ErrMissingSessionToken
}

// ValidateRequest extracts the access token from the request and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (AccessClaims, error) {
	token, err := v.ExtractToken(r)
	if err != nil {
		return AccessClaims{}, err
	}
	return v.tokens.ValidateToken(token)
}
