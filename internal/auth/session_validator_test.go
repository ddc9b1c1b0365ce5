package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "app_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func newTestValidator(t *testing.T, clockNow time.Time) (*SessionValidator, *TokenIssuer) {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        "members-auth",
		Audience:      "members-api",
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := NewSessionValidator(SessionValidatorConfig{
		Tokens:     issuer,
		CookieName: testSessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator, issuer
}

func TestSessionValidatorReadsTokenSources(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, issuer := newTestValidator(t, clockNow)
	token, _, err := issuer.IssueAccessToken(testSessionUserID, testSessionUserEmail, "sid-1")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	testCases := []struct {
		name    string
		prepare func(*http.Request)
	}{
		{name: "authorization header", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }},
		{name: "cookie", prepare: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: token}) }},
		{name: "query parameter", prepare: func(r *http.Request) {
			query := r.URL.Query()
			query.Set("access_token", token)
			r.URL.RawQuery = query.Encode()
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/auth/v1/user", nil)
			testCase.prepare(request)
			claims, err := validator.ValidateRequest(request)
			if err != nil {
				t.Fatalf("unexpected validation failure: %v", err)
			}
			if claims.Subject != testSessionUserID || claims.Email != testSessionUserEmail {
				t.Fatalf("unexpected claims %+v", claims)
			}
		})
	}
}

func TestSessionValidatorRejectsMissingAndMalformedHeaders(t *testing.T) {
	validator, _ := newTestValidator(t, time.Now())

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}

	request = httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Basic abc")
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error for basic auth, got %v", err)
	}

	request = httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer not-a-jwt")
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresTokens(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{}); !errors.Is(err, ErrMissingTokenValidator) {
		t.Fatalf("expected missing validator error, got %v", err)
	}
}
