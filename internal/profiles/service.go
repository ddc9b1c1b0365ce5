package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pwaburton/members/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute
)

var (
	ErrProfileNotFound = errors.New("profiles: profile not found")
	ErrInvalidRole     = errors.New("profiles: invalid role")
	ErrInvalidIdentity = errors.New("profiles: invalid identity")
	errMissingDatabase = errors.New("profiles: database connection required")
)

const (
	opServiceNew = "profiles.service.new"
	opEnsure     = "profiles.ensure"
	opGet        = "profiles.get"
	opList       = "profiles.list"
	opUpdateRole = "profiles.update_role"
	opMarkFlags  = "profiles.mark_flags"
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

// ServiceConfig describes the dependencies of the profile service.
type ServiceConfig struct {
	Database    *gorm.DB
	DefaultRole Role
	CacheSize   int
	CacheTTL    time.Duration
	Publisher   auth.EventPublisher
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service resolves and mutates application profiles.
type Service struct {
	db          *gorm.DB
	defaultRole Role
	cache       *profileCache
	publisher   auth.EventPublisher
	clock       func() time.Time
	logger      *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	defaultRole := cfg.DefaultRole
	if defaultRole == "" {
		defaultRole = RoleMember
	}
	if _, ok := ParseRole(string(defaultRole)); !ok {
		return nil, newServiceError(opServiceNew, "invalid_default_role", ErrInvalidRole)
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
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
		db:          cfg.Database,
		defaultRole: defaultRole,
		cache:       newProfileCache(cacheSize, cacheTTL),
		publisher:   cfg.Publisher,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Ensure returns the profile for the identity, creating it with the default role
// when it does not exist yet.
func (s *Service) Ensure(ctx context.Context, userID string, email string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, newServiceError(opEnsure, "invalid_identity", ErrInvalidIdentity)
	}
	if cached, ok := s.cache.get(userID); ok {
		return cached, nil
	}

	now := s.clock().UTC()
	candidate := Profile{
		UserID:    userID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Role:      s.defaultRole,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		s.logError(opEnsure, "profile_insert_failed", err, zap.String("user_id", userID))
		return Profile{}, newServiceError(opEnsure, "profile_insert_failed", err)
	}

	var stored Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&stored).Error; err != nil {
		s.logError(opEnsure, "profile_select_failed", err, zap.String("user_id", userID))
		return Profile{}, newServiceError(opEnsure, "profile_select_failed", err)
	}
	s.cache.set(stored)
	return stored, nil
}

// Get returns an existing profile.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	if cached, ok := s.cache.get(userID); ok {
		return cached, nil
	}
	var stored Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newServiceError(opGet, "profile_not_found", ErrProfileNotFound)
	}
	if err != nil {
		s.logError(opGet, "profile_select_failed", err, zap.String("user_id", userID))
		return Profile{}, newServiceError(opGet, "profile_select_failed", err)
	}
	s.cache.set(stored)
	return stored, nil
}

// List returns all profiles ordered by creation time.
func (s *Service) List(ctx context.Context) ([]Profile, error) {
	var profiles []Profile
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&profiles).Error; err != nil {
		s.logError(opList, "profile_select_failed", err)
		return nil, newServiceError(opList, "profile_select_failed", err)
	}
	return profiles, nil
}

// UpdateRole changes the role of an existing profile and tells the user's live clients.
func (s *Service) UpdateRole(ctx context.Context, userID string, role Role) (Profile, error) {
	parsed, ok := ParseRole(string(role))
	if !ok {
		return Profile{}, newServiceError(opUpdateRole, "invalid_role", ErrInvalidRole)
	}
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{"role": parsed, "updated_at": now})
	if result.Error != nil {
		s.logError(opUpdateRole, "profile_update_failed", result.Error, zap.String("user_id", userID))
		return Profile{}, newServiceError(opUpdateRole, "profile_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Profile{}, newServiceError(opUpdateRole, "profile_not_found", ErrProfileNotFound)
	}
	s.cache.remove(userID)
	s.logger.Info("profile role updated", zap.String("user_id", userID), zap.String("role", string(parsed)))
	if s.publisher != nil {
		s.publisher.PublishAuthEvent(auth.Event{UserID: userID, Type: auth.EventUserUpdated, Timestamp: now})
	}
	return s.Get(ctx, userID)
}

// MarkFlags sets onboarding flags on an existing profile.
func (s *Service) MarkFlags(ctx context.Context, userID string, flags Flags) (Profile, error) {
	updates := flags.updates()
	if len(updates) == 0 {
		return s.Get(ctx, userID)
	}
	updates["updated_at"] = s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", userID).Updates(updates)
	if result.Error != nil {
		s.logError(opMarkFlags, "profile_update_failed", result.Error, zap.String("user_id", userID))
		return Profile{}, newServiceError(opMarkFlags, "profile_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Profile{}, newServiceError(opMarkFlags, "profile_not_found", ErrProfileNotFound)
	}
	s.cache.remove(userID)
	return s.Get(ctx, userID)
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
	s.logger.Error("profile service failure", append(base, fields...)...)
}
