package members

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pwaburton/members/internal/identifiers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	ErrCollectorNotFound = errors.New("members: collector not found")
	ErrCollectorExists   = errors.New("members: collector already exists")
	ErrCollectorInUse    = errors.New("members: collector still has members")
	ErrCollectorInactive = errors.New("members: collector is inactive")
	ErrMemberNotFound    = errors.New("members: member not found")
	ErrInvalidInput      = errors.New("members: invalid input")
	errMissingDatabase   = errors.New("members: database connection required")
	errMissingIDProvider = errors.New("members: id provider required")
)

const (
	opServiceNew         = "members.service.new"
	opListCollectors     = "members.list_collectors"
	opGetCollector       = "members.get_collector"
	opCreateCollector    = "members.create_collector"
	opSetCollectorActive = "members.set_collector_active"
	opDeleteCollector    = "members.delete_collector"
	opListMembers        = "members.list_members"
	opGetMember          = "members.get_member"
	opCreateMember       = "members.create_member"
	opUpdateMember       = "members.update_member"
	opDeleteMember       = "members.delete_member"
	opAddFamilyMember    = "members.add_family_member"
	opListFamily         = "members.list_family"
	opAddNote            = "members.add_note"
	opListNotes          = "members.list_notes"
	opSetMemberPassword  = "members.set_member_password"
	opLookupCredentials  = "members.lookup_credentials"
	opMirrorPasswordHash = "members.mirror_password_hash"
	opCountRecipients    = "members.count_recipients"
	opImport             = "members.import"
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

func invalidInput(operation string, cause error) error {
	return newServiceError(operation, "invalid_input", fmt.Errorf("%w: %v", ErrInvalidInput, cause))
}

// AccountPasswords changes the sign-in password of the account registered
// under an email. It returns nil when no such account exists.
type AccountPasswords interface {
	SetPasswordForEmail(ctx context.Context, email string, password string) error
}

// ServiceConfig describes the dependencies of the member service.
// Accounts is optional; without it SetMemberPassword only touches the member.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider identifiers.Provider
	Accounts   AccountPasswords
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages collectors, members and their family and notes.
type Service struct {
	db       *gorm.DB
	ids      identifiers.Provider
	accounts AccountPasswords
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the member service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		ids:      cfg.IDProvider,
		accounts: cfg.Accounts,
		clock:    clock,
		logger:   logger,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	base := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("member service failure", append(base, fields...)...)
}
