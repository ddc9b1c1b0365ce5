package session

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/pwaburton/members/internal/client"
	"github.com/pwaburton/members/internal/credentials"
	"go.uber.org/zap"
)

// PasswordSigner is the sign-in half of the Store.
type PasswordSigner interface {
	SignInWithPassword(ctx context.Context, email string, password string) (client.Session, error)
}

// CredentialLookup resolves a member number to its login material.
type CredentialLookup interface {
	MemberCredentials(ctx context.Context, memberNumber string) (client.MemberCredentials, error)
}

// EmailResolver signs in with email and password directly.
type EmailResolver struct {
	signer PasswordSigner
	logger *zap.Logger
}

func NewEmailResolver(signer PasswordSigner, logger *zap.Logger) (*EmailResolver, error) {
	if signer == nil {
		return nil, errors.New("session: signer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailResolver{signer: signer, logger: logger}, nil
}

func (r *EmailResolver) SignIn(ctx context.Context, email string, password string) (client.Session, error) {
	email = strings.TrimSpace(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return client.Session{}, &ValidationError{Field: "email", Reason: err.Error()}
	}
	if password == "" {
		return client.Session{}, &ValidationError{Field: "password", Reason: "cannot be blank"}
	}
	signedIn, err := r.signer.SignInWithPassword(ctx, email, password)
	if err != nil {
		r.logger.Info("email sign in rejected", zap.Error(err))
		return client.Session{}, err
	}
	return signedIn, nil
}

// MemberIDResolver signs in with a member number: it looks up the member,
// checks the password against the stored digest and then signs in with the
// member's email. Every failure reads the same to the caller.
type MemberIDResolver struct {
	lookup CredentialLookup
	signer PasswordSigner
	logger *zap.Logger
}

func NewMemberIDResolver(lookup CredentialLookup, signer PasswordSigner, logger *zap.Logger) (*MemberIDResolver, error) {
	if lookup == nil {
		return nil, errors.New("session: credential lookup is required")
	}
	if signer == nil {
		return nil, errors.New("session: signer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemberIDResolver{lookup: lookup, signer: signer, logger: logger}, nil
}

// NormalizeMemberID trims and upper-cases an entered member number.
func NormalizeMemberID(memberID string) string {
	return strings.ToUpper(strings.TrimSpace(memberID))
}

func (r *MemberIDResolver) SignIn(ctx context.Context, memberID string, password string) (client.Session, error) {
	normalized := NormalizeMemberID(memberID)
	signedIn, err := r.signIn(ctx, normalized, password)
	if err != nil {
		r.logFailure(normalized, err)
		return client.Session{}, &LoginError{Message: InvalidMemberLoginMessage, Cause: err}
	}
	r.logger.Info("member signed in", zap.String("member_number", normalized))
	return signedIn, nil
}

func (r *MemberIDResolver) signIn(ctx context.Context, memberNumber string, password string) (client.Session, error) {
	if memberNumber == "" {
		return client.Session{}, &ValidationError{Field: "member_id", Reason: "cannot be blank"}
	}
	if password == "" {
		return client.Session{}, &ValidationError{Field: "password", Reason: "cannot be blank"}
	}

	found, err := r.lookup.MemberCredentials(ctx, memberNumber)
	if errors.Is(err, client.ErrNotFound) {
		return client.Session{}, &NotFoundError{Subject: "member", Key: memberNumber}
	}
	if err != nil {
		return client.Session{}, &ProviderError{Op: "member_credentials", Err: err}
	}
	if strings.TrimSpace(found.Email) == "" {
		return client.Session{}, &NotFoundError{Subject: "member email", Key: memberNumber}
	}

	if err := credentials.Verify(password, found.PasswordHash); err != nil {
		return client.Session{}, &InvalidCredentialError{Err: err}
	}

	signedIn, err := r.signer.SignInWithPassword(ctx, found.Email, password)
	if err != nil {
		var providerErr *ProviderError
		if errors.As(err, &providerErr) {
			return client.Session{}, err
		}
		return client.Session{}, &ProviderError{Op: "sign_in_with_password", Err: err}
	}
	return signedIn, nil
}

func (r *MemberIDResolver) logFailure(memberNumber string, err error) {
	var (
		notFound  *NotFoundError
		invalid   *InvalidCredentialError
		provider  *ProviderError
		malformed *ValidationError
	)
	fields := []zap.Field{zap.String("member_number", memberNumber), zap.Error(err)}
	switch {
	case errors.As(err, &notFound):
		r.logger.Info("member login lookup missed", fields...)
	case errors.As(err, &invalid):
		r.logger.Info("member login password mismatch", fields...)
	case errors.As(err, &malformed):
		r.logger.Info("member login input invalid", fields...)
	case errors.As(err, &provider):
		r.logger.Warn("member login provider failure", fields...)
	default:
		r.logger.Warn("member login failed", fields...)
	}
}
