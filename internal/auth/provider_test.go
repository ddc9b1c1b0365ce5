package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pwaburton/members/internal/credentials"
	"github.com/pwaburton/members/internal/identifiers"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishAuthEvent(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type providerFixture struct {
	provider  *Provider
	tokens    *TokenIssuer
	publisher *recordingPublisher
	now       *time.Time
	logs      *observer.ObservedLogs
}

func newProviderFixture(t *testing.T) providerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Account{}, &AuthSession{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "members-auth",
		Audience:      "members-api",
		TokenTTL:      15 * time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	core, logs := observer.New(zap.InfoLevel)
	publisher := &recordingPublisher{}
	provider, err := NewProvider(ProviderConfig{
		Database:   db,
		Tokens:     tokens,
		IDProvider: identifiers.NewUUIDProvider(),
		RefreshTTL: 24 * time.Hour,
		Publisher:  publisher,
		Clock:      clock,
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to construct provider: %v", err)
	}
	return providerFixture{provider: provider, tokens: tokens, publisher: publisher, now: &now, logs: logs}
}

func TestProviderPasswordSignInRoundTrip(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()

	account, err := fixture.provider.CreateAccount(ctx, " M1@Example.org ", "hunter22")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if account.Email != "m1@example.org" || !account.EmailConfirmed {
		t.Fatalf("unexpected account %+v", account)
	}

	session, err := fixture.provider.SignInWithPassword(ctx, "m1@example.org", "hunter22")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if session.RefreshToken == "" || session.TokenType != "bearer" || session.ExpiresIn != int64((15*time.Minute).Seconds()) {
		t.Fatalf("unexpected session %+v", session)
	}

	claims, err := fixture.tokens.ValidateToken(session.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	user, err := fixture.provider.GetUser(ctx, claims)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if user.ID != account.ID || user.LastSignInAt == nil {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestProviderRejectsDuplicateAndInvalidAccounts(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()

	if _, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := fixture.provider.CreateAccount(ctx, "A@example.org", "hunter22"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := fixture.provider.CreateAccount(ctx, "not-an-email", "hunter22"); !errors.Is(err, ErrInvalidAccountInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if _, err := fixture.provider.CreateAccount(ctx, "b@example.org", "123"); !errors.Is(err, ErrInvalidAccountInput) {
		t.Fatalf("expected short password error, got %v", err)
	}
}

func TestProviderSignInFailuresAreIndistinguishable(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()
	if _, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, unknownErr := fixture.provider.SignInWithPassword(ctx, "nobody@example.org", "hunter22")
	_, wrongErr := fixture.provider.SignInWithPassword(ctx, "a@example.org", "wrong-password")
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v and %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("expected identical errors, got %q and %q", unknownErr, wrongErr)
	}
	if fixture.logs.FilterField(zap.String("reason", "unknown_email")).Len() != 1 {
		t.Fatalf("expected unknown email to be logged")
	}
	if fixture.logs.FilterField(zap.String("reason", "password_mismatch")).Len() != 1 {
		t.Fatalf("expected password mismatch to be logged")
	}
}

func TestProviderRefreshRotatesToken(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()
	account, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	session, err := fixture.provider.SignInWithPassword(ctx, "a@example.org", "hunter22")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}

	*fixture.now = fixture.now.Add(20 * time.Minute)
	refreshed, err := fixture.provider.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if refreshed.RefreshToken == session.RefreshToken {
		t.Fatalf("expected refresh token rotation")
	}
	if _, err := fixture.provider.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected old refresh token to be rejected, got %v", err)
	}
	types := fixture.publisher.types()
	if len(types) != 1 || types[0] != EventTokenRefreshed {
		t.Fatalf("expected one token refreshed event, got %v", types)
	}
	if fixture.publisher.events[0].UserID != account.ID {
		t.Fatalf("unexpected event user %q", fixture.publisher.events[0].UserID)
	}

	*fixture.now = fixture.now.Add(25 * time.Hour)
	if _, err := fixture.provider.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired refresh token to be rejected, got %v", err)
	}
}

func TestProviderSignOutRevokesSession(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()
	if _, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	session, err := fixture.provider.SignInWithPassword(ctx, "a@example.org", "hunter22")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	claims, err := fixture.tokens.ValidateToken(session.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}

	if err := fixture.provider.SignOut(ctx, claims.SessionID); err != nil {
		t.Fatalf("sign out failed: %v", err)
	}
	if err := fixture.provider.SignOut(ctx, claims.SessionID); err != nil {
		t.Fatalf("second sign out should be a no-op: %v", err)
	}
	if _, err := fixture.provider.GetUser(ctx, claims); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected revoked session error, got %v", err)
	}
	if _, err := fixture.provider.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected refresh after sign out to fail, got %v", err)
	}
}

func TestProviderDeleteAccountInvalidatesIdentity(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()
	account, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	session, err := fixture.provider.SignInWithPassword(ctx, "a@example.org", "hunter22")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	claims, _ := fixture.tokens.ValidateToken(session.AccessToken)

	if err := fixture.provider.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := fixture.provider.GetUser(ctx, claims); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if err := fixture.provider.DeleteAccount(ctx, account.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
	types := fixture.publisher.types()
	if len(types) != 1 || types[0] != EventSignedOut {
		t.Fatalf("expected signed out event, got %v", types)
	}
}

func TestProviderChangePasswordPublishesUserUpdated(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()
	account, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := fixture.provider.ChangePassword(ctx, account.ID, "new-password"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	if _, err := fixture.provider.SignInWithPassword(ctx, "a@example.org", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
	if _, err := fixture.provider.SignInWithPassword(ctx, "a@example.org", "new-password"); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
	types := fixture.publisher.types()
	if len(types) != 1 || types[0] != EventUserUpdated {
		t.Fatalf("expected user updated event, got %v", types)
	}
}

type recordingMirror struct {
	emails []string
	hashes []string
}

func (m *recordingMirror) MirrorPasswordHash(_ context.Context, email string, passwordHash string) error {
	m.emails = append(m.emails, email)
	m.hashes = append(m.hashes, passwordHash)
	return nil
}

func TestProviderChangePasswordMirrorsHash(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()
	mirror := &recordingMirror{}
	fixture.provider.MirrorPasswordsTo(mirror)
	account, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := fixture.provider.ChangePassword(ctx, account.ID, "new-password"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	if len(mirror.emails) != 1 || mirror.emails[0] != "a@example.org" {
		t.Fatalf("expected hash mirrored for the account email, got %v", mirror.emails)
	}
	if err := credentials.Verify("new-password", mirror.hashes[0]); err != nil {
		t.Fatalf("expected mirrored hash to verify: %v", err)
	}
	if err := fixture.provider.ChangePassword(ctx, "missing", "new-password"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected unknown account error, got %v", err)
	}
	if len(mirror.emails) != 1 {
		t.Fatalf("expected no mirror call for an unknown account, got %v", mirror.emails)
	}
}

func TestProviderSetPasswordForEmail(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()
	mirror := &recordingMirror{}
	fixture.provider.MirrorPasswordsTo(mirror)
	if _, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := fixture.provider.SetPasswordForEmail(ctx, " A@Example.org ", "admin-pass"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if _, err := fixture.provider.SignInWithPassword(ctx, "a@example.org", "admin-pass"); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
	if err := fixture.provider.SetPasswordForEmail(ctx, "nobody@example.org", "admin-pass"); err != nil {
		t.Fatalf("expected missing account to be skipped, got %v", err)
	}
	if err := fixture.provider.SetPasswordForEmail(ctx, "a@example.org", "short"); !errors.Is(err, ErrInvalidAccountInput) {
		t.Fatalf("expected short password to be rejected, got %v", err)
	}
	if len(mirror.emails) != 0 {
		t.Fatalf("expected no mirror calls, got %v", mirror.emails)
	}
	types := fixture.publisher.types()
	if len(types) != 1 || types[0] != EventUserUpdated {
		t.Fatalf("expected one user updated event, got %v", types)
	}
}

func TestProviderSignInWithGoogleLinksExistingAccount(t *testing.T) {
	fixture := newProviderFixture(t)
	ctx := context.Background()
	account, err := fixture.provider.CreateAccount(ctx, "a@example.org", "hunter22")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	session, err := fixture.provider.SignInWithGoogle(ctx, GoogleClaims{Subject: "g-1", Email: "A@example.org", EmailVerified: true})
	if err != nil {
		t.Fatalf("google sign in failed: %v", err)
	}
	if session.User.ID != account.ID {
		t.Fatalf("expected existing account to be linked, got %q", session.User.ID)
	}

	fresh, err := fixture.provider.SignInWithGoogle(ctx, GoogleClaims{Subject: "g-2", Email: "new@example.org", EmailVerified: true})
	if err != nil {
		t.Fatalf("google sign in failed: %v", err)
	}
	if fresh.User.Provider != ProviderGoogle {
		t.Fatalf("expected google account, got %+v", fresh.User)
	}

	if _, err := fixture.provider.SignInWithGoogle(ctx, GoogleClaims{Subject: "g-3", Email: "u@example.org"}); err == nil {
		t.Fatalf("expected unverified email to be rejected")
	}
}
