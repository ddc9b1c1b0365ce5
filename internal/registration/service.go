package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/pwaburton/members/internal/auth"
	"go.uber.org/zap"
)

const successMessage = "Welcome email sent successfully"

var (
	ErrInvalidRequest  = errors.New("registration: invalid request")
	errMissingAccounts = errors.New("registration: account creator required")
	errMissingMailer   = errors.New("registration: mailer required")
)

const (
	opServiceNew = "registration.service.new"
	opRegister   = "registration.register"
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

// AccountCreator provisions provider accounts.
type AccountCreator interface {
	CreateAccount(ctx context.Context, email string, password string) (auth.Account, error)
}

// Request is the body of a welcome registration.
type Request struct {
	Email        string `json:"email"`
	TempPassword string `json:"tempPassword"`
	FullName     string `json:"fullName"`
}

// Validate checks the registration request.
func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.TempPassword, validation.Required, validation.Length(6, 128)),
		validation.Field(&r.FullName, validation.Required, validation.Length(1, 200)),
	)
}

// Response is returned after a successful registration.
type Response struct {
	Message string `json:"message"`
}

// ServiceConfig describes the dependencies of the welcome function.
type ServiceConfig struct {
	Accounts AccountCreator
	Mailer   Mailer
	Logger   *zap.Logger
}

// Service creates accounts and sends welcome emails.
type Service struct {
	accounts AccountCreator
	mailer   Mailer
	logger   *zap.Logger
}

// NewService constructs the welcome function.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Accounts == nil {
		return nil, newServiceError(opServiceNew, "missing_accounts", errMissingAccounts)
	}
	if cfg.Mailer == nil {
		return nil, newServiceError(opServiceNew, "missing_mailer", errMissingMailer)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{accounts: cfg.Accounts, mailer: cfg.Mailer, logger: logger}, nil
}

// Register creates a confirmed account with the temporary password and mails
// the credentials. A mail failure is reported after the account exists.
func (s *Service) Register(ctx context.Context, request Request) (Response, error) {
	request.Email = strings.ToLower(strings.TrimSpace(request.Email))
	request.FullName = strings.TrimSpace(request.FullName)
	if err := request.Validate(); err != nil {
		return Response{}, newServiceError(opRegister, "invalid_request", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	s.logger.Info("welcome registration requested", zap.String("email", request.Email))

	account, err := s.accounts.CreateAccount(ctx, request.Email, request.TempPassword)
	if err != nil {
		s.logger.Error("welcome registration account creation failed", zap.String("email", request.Email), zap.Error(err))
		return Response{}, newServiceError(opRegister, "account_create_failed", err)
	}

	err = s.mailer.SendWelcome(ctx, WelcomeMessage{
		Email:        request.Email,
		FullName:     request.FullName,
		TempPassword: request.TempPassword,
	})
	if err != nil {
		s.logger.Error("welcome email delivery failed",
			zap.String("email", request.Email),
			zap.String("account_id", account.ID),
			zap.Error(err))
		return Response{}, newServiceError(opRegister, "mail_failed", err)
	}
	return Response{Message: successMessage}, nil
}
