package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/pwaburton/members/internal/credentials"
	"github.com/pwaburton/members/internal/identifiers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	refreshTokenBytes      = 32
	minimumPasswordLength  = 6
	tokenTypeBearer        = "bearer"
)

var (
	ErrAccountExists        = errors.New("auth: account already exists")
	ErrInvalidCredentials   = errors.New("auth: invalid login credentials")
	ErrInvalidRefreshToken  = errors.New("auth: invalid refresh token")
	ErrUserNotFound         = errors.New("auth: user not found")
	ErrSessionRevoked       = errors.New("auth: session revoked")
	ErrInvalidAccountInput  = errors.New("auth: invalid account input")
	errMissingDatabase      = errors.New("auth: database connection required")
	errMissingTokenIssuer   = errors.New("auth: token issuer required")
	errMissingIDProvider    = errors.New("auth: id provider required")
	errUnverifiedGoogleMail = errors.New("auth: google email not verified")
)

const (
	opProviderNew        = "auth.provider.new"
	opCreateAccount      = "auth.create_account"
	opSignInWithPassword = "auth.sign_in_with_password"
	opSignInWithGoogle   = "auth.sign_in_with_google"
	opRefresh            = "auth.refresh"
	opSignOut            = "auth.sign_out"
	opGetUser            = "auth.get_user"
	opDeleteAccount      = "auth.delete_account"
	opChangePassword     = "auth.change_password"
	opSetPasswordByEmail = "auth.set_password_for_email"
)

// ServiceError carries a stable code of the form operation.reason.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// PasswordMirror receives each hash ChangePassword stores so records that
// sign in with the same email accept the new password.
type PasswordMirror interface {
	MirrorPasswordHash(ctx context.Context, email string, passwordHash string) error
}

// ProviderConfig describes the dependencies of the auth provider.
type ProviderConfig struct {
	Database   *gorm.DB
	Tokens     *TokenIssuer
	IDProvider identifiers.Provider
	RefreshTTL time.Duration
	Publisher  EventPublisher
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Provider owns accounts and sessions and issues tokens for them.
type Provider struct {
	db         *gorm.DB
	tokens     *TokenIssuer
	ids        identifiers.Provider
	refreshTTL time.Duration
	publisher  EventPublisher
	mirror     PasswordMirror
	clock      func() time.Time
	logger     *zap.Logger
}

// NewProvider constructs the auth provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opProviderNew, "missing_database", errMissingDatabase)
	}
	if cfg.Tokens == nil {
		return nil, newServiceError(opProviderNew, "missing_token_issuer", errMissingTokenIssuer)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opProviderNew, "missing_id_provider", errMissingIDProvider)
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTokenTTL
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		db:         cfg.Database,
		tokens:     cfg.Tokens,
		ids:        cfg.IDProvider,
		refreshTTL: refreshTTL,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CreateAccount registers an email/password account with a confirmed email.
func (p *Provider) CreateAccount(ctx context.Context, email string, password string) (Account, error) {
	email = normalizeEmail(email)
	if err := validateAccountInput(email, password); err != nil {
		return Account{}, newServiceError(opCreateAccount, "invalid_input", fmt.Errorf("%w: %v", ErrInvalidAccountInput, err))
	}

	var existing Account
	err := p.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Account{}, newServiceError(opCreateAccount, "account_exists", ErrAccountExists)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		p.logError(opCreateAccount, "account_select_failed", err)
		return Account{}, newServiceError(opCreateAccount, "account_select_failed", err)
	}

	passwordHash, err := credentials.HashPassword(password)
	if err != nil {
		p.logError(opCreateAccount, "hash_failed", err)
		return Account{}, newServiceError(opCreateAccount, "hash_failed", err)
	}

	account, err := p.newAccount(email, ProviderEmail, "")
	if err != nil {
		return Account{}, newServiceError(opCreateAccount, "id_generation_failed", err)
	}
	account.PasswordHash = passwordHash
	account.EmailConfirmed = true

	if err := p.db.WithContext(ctx).Create(&account).Error; err != nil {
		p.logError(opCreateAccount, "account_insert_failed", err, zap.String("email", email))
		return Account{}, newServiceError(opCreateAccount, "account_insert_failed", err)
	}
	p.logger.Info("account created", zap.String("account_id", account.ID), zap.String("provider", account.Provider))
	return account, nil
}

// SignInWithPassword authenticates an email/password account and opens a session.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (p *Provider) SignInWithPassword(ctx context.Context, email string, password string) (session Session, err error) {
	defer func() { recordSignIn(metricMethodPassword, err) }()

	email = normalizeEmail(email)
	var account Account
	lookupErr := p.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		p.logger.Info("sign in rejected", zap.String("reason", "unknown_email"))
		return Session{}, newServiceError(opSignInWithPassword, "invalid_credentials", ErrInvalidCredentials)
	}
	if lookupErr != nil {
		p.logError(opSignInWithPassword, "account_select_failed", lookupErr)
		return Session{}, newServiceError(opSignInWithPassword, "account_select_failed", lookupErr)
	}
	if account.PasswordHash == "" || credentials.Verify(password, account.PasswordHash) != nil {
		p.logger.Info("sign in rejected", zap.String("reason", "password_mismatch"), zap.String("account_id", account.ID))
		return Session{}, newServiceError(opSignInWithPassword, "invalid_credentials", ErrInvalidCredentials)
	}

	return p.openSession(ctx, opSignInWithPassword, account)
}

// SignInWithGoogle opens a session for a verified Google identity, linking it to an
// existing account with the same email or creating a Google account.
func (p *Provider) SignInWithGoogle(ctx context.Context, claims GoogleClaims) (session Session, err error) {
	defer func() { recordSignIn(metricMethodGoogle, err) }()

	email := normalizeEmail(claims.Email)
	if email == "" || strings.TrimSpace(claims.Subject) == "" {
		return Session{}, newServiceError(opSignInWithGoogle, "invalid_claims", ErrInvalidCredentials)
	}
	if !claims.EmailVerified {
		return Session{}, newServiceError(opSignInWithGoogle, "email_not_verified", fmt.Errorf("%w: %v", ErrInvalidCredentials, errUnverifiedGoogleMail))
	}

	var account Account
	lookupErr := p.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	switch {
	case errors.Is(lookupErr, gorm.ErrRecordNotFound):
		account, err = p.newAccount(email, ProviderGoogle, claims.Subject)
		if err != nil {
			return Session{}, newServiceError(opSignInWithGoogle, "id_generation_failed", err)
		}
		account.EmailConfirmed = true
		if err := p.db.WithContext(ctx).Create(&account).Error; err != nil {
			p.logError(opSignInWithGoogle, "account_insert_failed", err)
			return Session{}, newServiceError(opSignInWithGoogle, "account_insert_failed", err)
		}
		p.logger.Info("account created", zap.String("account_id", account.ID), zap.String("provider", account.Provider))
	case lookupErr != nil:
		p.logError(opSignInWithGoogle, "account_select_failed", lookupErr)
		return Session{}, newServiceError(opSignInWithGoogle, "account_select_failed", lookupErr)
	case account.ProviderSubject == "":
		account.ProviderSubject = claims.Subject
		if err := p.db.WithContext(ctx).Model(&Account{}).Where("id = ?", account.ID).
			Update("provider_subject", claims.Subject).Error; err != nil {
			p.logError(opSignInWithGoogle, "account_link_failed", err)
			return Session{}, newServiceError(opSignInWithGoogle, "account_link_failed", err)
		}
	}

	return p.openSession(ctx, opSignInWithGoogle, account)
}

// Refresh exchanges a refresh token for a new session token pair, rotating the refresh token.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (session Session, err error) {
	defer func() { recordSignIn(metricMethodRefresh, err) }()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, newServiceError(opRefresh, "invalid_refresh_token", ErrInvalidRefreshToken)
	}

	now := p.clock().UTC()
	var account Account
	var issued Session
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored AuthSession
		err := tx.Where("refresh_token_hash = ?", hashRefreshToken(refreshToken)).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRefresh, "invalid_refresh_token", ErrInvalidRefreshToken)
		}
		if err != nil {
			p.logError(opRefresh, "session_select_failed", err)
			return newServiceError(opRefresh, "session_select_failed", err)
		}
		if stored.RevokedAt != nil || !now.Before(stored.ExpiresAt) {
			return newServiceError(opRefresh, "invalid_refresh_token", ErrInvalidRefreshToken)
		}
		if err := tx.Where("id = ?", stored.AccountID).Take(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opRefresh, "invalid_refresh_token", ErrInvalidRefreshToken)
			}
			p.logError(opRefresh, "account_select_failed", err)
			return newServiceError(opRefresh, "account_select_failed", err)
		}

		rotated, err := newRefreshToken()
		if err != nil {
			p.logError(opRefresh, "token_generation_failed", err)
			return newServiceError(opRefresh, "token_generation_failed", err)
		}
		updates := map[string]interface{}{
			"refresh_token_hash": hashRefreshToken(rotated),
			"refreshed_at":       now,
			"expires_at":         now.Add(p.refreshTTL),
		}
		if err := tx.Model(&AuthSession{}).Where("id = ?", stored.ID).Updates(updates).Error; err != nil {
			p.logError(opRefresh, "session_update_failed", err)
			return newServiceError(opRefresh, "session_update_failed", err)
		}

		issued, err = p.sessionFor(account, stored.ID, rotated)
		if err != nil {
			p.logError(opRefresh, "token_issue_failed", err)
			return newServiceError(opRefresh, "token_issue_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Session{}, txErr
	}

	p.publisher.PublishAuthEvent(Event{UserID: account.ID, Type: EventTokenRefreshed, Timestamp: now})
	return issued, nil
}

// SignOut revokes the session. Revoking an unknown or revoked session is a no-op.
func (p *Provider) SignOut(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	now := p.clock().UTC()
	err := p.db.WithContext(ctx).Model(&AuthSession{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", now).Error
	if err != nil {
		p.logError(opSignOut, "session_update_failed", err, zap.String("session_id", sessionID))
		return newServiceError(opSignOut, "session_update_failed", err)
	}
	return nil
}

// GetUser re-verifies the identity behind an access token: the account must still
// exist and the session must not be revoked.
func (p *Provider) GetUser(ctx context.Context, claims AccessClaims) (User, error) {
	var account Account
	err := p.db.WithContext(ctx).Where("id = ?", claims.Subject).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, newServiceError(opGetUser, "user_not_found", ErrUserNotFound)
	}
	if err != nil {
		p.logError(opGetUser, "account_select_failed", err)
		return User{}, newServiceError(opGetUser, "account_select_failed", err)
	}

	if claims.SessionID != "" {
		var stored AuthSession
		err := p.db.WithContext(ctx).Where("id = ? AND account_id = ?", claims.SessionID, account.ID).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, newServiceError(opGetUser, "session_revoked", ErrSessionRevoked)
		}
		if err != nil {
			p.logError(opGetUser, "session_select_failed", err)
			return User{}, newServiceError(opGetUser, "session_select_failed", err)
		}
		if stored.RevokedAt != nil {
			return User{}, newServiceError(opGetUser, "session_revoked", ErrSessionRevoked)
		}
	}
	return userFromAccount(account), nil
}

// FindUserByEmail returns the account registered under the email.
func (p *Provider) FindUserByEmail(ctx context.Context, email string) (User, error) {
	var account Account
	err := p.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, newServiceError(opGetUser, "user_not_found", ErrUserNotFound)
	}
	if err != nil {
		return User{}, newServiceError(opGetUser, "account_select_failed", err)
	}
	return userFromAccount(account), nil
}

// DeleteAccount removes the account, revokes its sessions and tells live clients.
func (p *Provider) DeleteAccount(ctx context.Context, accountID string) error {
	now := p.clock().UTC()
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", accountID).Delete(&Account{})
		if result.Error != nil {
			p.logError(opDeleteAccount, "account_delete_failed", result.Error, zap.String("account_id", accountID))
			return newServiceError(opDeleteAccount, "account_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteAccount, "user_not_found", ErrUserNotFound)
		}
		if err := tx.Model(&AuthSession{}).Where("account_id = ? AND revoked_at IS NULL", accountID).
			Update("revoked_at", now).Error; err != nil {
			p.logError(opDeleteAccount, "session_update_failed", err, zap.String("account_id", accountID))
			return newServiceError(opDeleteAccount, "session_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	p.logger.Info("account deleted", zap.String("account_id", accountID))
	p.publisher.PublishAuthEvent(Event{UserID: accountID, Type: EventSignedOut, Timestamp: now})
	return nil
}

// ChangePassword replaces the account password, copies the new hash to the
// password mirror and announces the update.
func (p *Provider) ChangePassword(ctx context.Context, accountID string, newPassword string) error {
	if err := validateNewPassword(opChangePassword, newPassword); err != nil {
		return err
	}
	var account Account
	err := p.db.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opChangePassword, "user_not_found", ErrUserNotFound)
	}
	if err != nil {
		p.logError(opChangePassword, "account_select_failed", err)
		return newServiceError(opChangePassword, "account_select_failed", err)
	}
	passwordHash, err := p.storePassword(ctx, opChangePassword, account, newPassword)
	if err != nil {
		return err
	}
	if p.mirror != nil {
		if err := p.mirror.MirrorPasswordHash(ctx, account.Email, passwordHash); err != nil {
			p.logError(opChangePassword, "mirror_failed", err, zap.String("account_id", account.ID))
			return newServiceError(opChangePassword, "mirror_failed", err)
		}
	}
	return nil
}

// SetPasswordForEmail replaces the password of the account registered under
// email. It returns nil when there is no such account and never calls the
// password mirror.
func (p *Provider) SetPasswordForEmail(ctx context.Context, email string, newPassword string) error {
	if err := validateNewPassword(opSetPasswordByEmail, newPassword); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	var account Account
	err := p.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		p.logError(opSetPasswordByEmail, "account_select_failed", err)
		return newServiceError(opSetPasswordByEmail, "account_select_failed", err)
	}
	_, err = p.storePassword(ctx, opSetPasswordByEmail, account, newPassword)
	return err
}

// MirrorPasswordsTo makes ChangePassword copy every new hash to mirror.
// Call it before the provider serves requests.
func (p *Provider) MirrorPasswordsTo(mirror PasswordMirror) {
	p.mirror = mirror
}

func validateNewPassword(operation string, password string) error {
	if err := validation.Validate(password, validation.Required, validation.Length(minimumPasswordLength, 128)); err != nil {
		return newServiceError(operation, "invalid_input", fmt.Errorf("%w: %v", ErrInvalidAccountInput, err))
	}
	return nil
}

func (p *Provider) storePassword(ctx context.Context, operation string, account Account, password string) (string, error) {
	passwordHash, err := credentials.HashPassword(password)
	if err != nil {
		p.logError(operation, "hash_failed", err)
		return "", newServiceError(operation, "hash_failed", err)
	}
	now := p.clock().UTC()
	result := p.db.WithContext(ctx).Model(&Account{}).Where("id = ?", account.ID).
		Updates(map[string]interface{}{"password_hash": passwordHash, "updated_at": now})
	if result.Error != nil {
		p.logError(operation, "account_update_failed", result.Error)
		return "", newServiceError(operation, "account_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", newServiceError(operation, "user_not_found", ErrUserNotFound)
	}
	p.publisher.PublishAuthEvent(Event{UserID: account.ID, Type: EventUserUpdated, Timestamp: now})
	return passwordHash, nil
}

func (p *Provider) openSession(ctx context.Context, operation string, account Account) (Session, error) {
	sessionID, err := p.ids.NewID()
	if err != nil {
		p.logError(operation, "id_generation_failed", err)
		return Session{}, newServiceError(operation, "id_generation_failed", err)
	}
	refreshToken, err := newRefreshToken()
	if err != nil {
		p.logError(operation, "token_generation_failed", err)
		return Session{}, newServiceError(operation, "token_generation_failed", err)
	}

	now := p.clock().UTC()
	stored := AuthSession{
		ID:               sessionID,
		AccountID:        account.ID,
		RefreshTokenHash: hashRefreshToken(refreshToken),
		ExpiresAt:        now.Add(p.refreshTTL),
		CreatedAt:        now,
	}
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&stored).Error; err != nil {
			return err
		}
		return tx.Model(&Account{}).Where("id = ?", account.ID).Update("last_sign_in_at", now).Error
	})
	if txErr != nil {
		p.logError(operation, "session_insert_failed", txErr, zap.String("account_id", account.ID))
		return Session{}, newServiceError(operation, "session_insert_failed", txErr)
	}
	account.LastSignInAt = &now

	session, err := p.sessionFor(account, sessionID, refreshToken)
	if err != nil {
		p.logError(operation, "token_issue_failed", err)
		return Session{}, newServiceError(operation, "token_issue_failed", err)
	}
	p.logger.Info("session opened", zap.String("account_id", account.ID), zap.String("session_id", sessionID))
	return session, nil
}

func (p *Provider) sessionFor(account Account, sessionID string, refreshToken string) (Session, error) {
	accessToken, expiresAt, err := p.tokens.IssueAccessToken(account.ID, account.Email, sessionID)
	if err != nil {
		return Session{}, err
	}
	now := p.clock().UTC()
	return Session{
		AccessToken:  accessToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(expiresAt.Sub(now).Seconds()),
		ExpiresAt:    expiresAt.Unix(),
		RefreshToken: refreshToken,
		User:         userFromAccount(account),
	}, nil
}

func (p *Provider) newAccount(email string, provider string, subject string) (Account, error) {
	accountID, err := p.ids.NewID()
	if err != nil {
		return Account{}, err
	}
	now := p.clock().UTC()
	return Account{
		ID:              accountID,
		Email:           email,
		Provider:        provider,
		ProviderSubject: subject,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (p *Provider) logError(operation, reason string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	base := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	p.logger.Error("auth provider failure", append(base, fields...)...)
}

func validateAccountInput(email string, password string) error {
	return validation.Errors{
		"email":    validation.Validate(email, validation.Required, validation.Length(3, 320), is.Email),
		"password": validation.Validate(password, validation.Required, validation.Length(minimumPasswordLength, 128)),
	}.Filter()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newRefreshToken() (string, error) {
	buffer := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
