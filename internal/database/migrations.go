package database

import (
	"errors"
	"time"

	"github.com/pwaburton/members/internal/auth"
	"github.com/pwaburton/members/internal/members"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeMemberNumbers = "2025-01-20_normalize_member_numbers"
	migrationNormalizeAccountEmails = "2025-02-04_normalize_account_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeMemberNumbers, apply: normalizeMemberNumbers},
		{name: migrationNormalizeAccountEmails, apply: normalizeAccountEmails},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Imported rows could carry lower case or padded member numbers; lookups
// compare against the trimmed upper case form.
func normalizeMemberNumbers(db *gorm.DB) error {
	return db.Model(&members.Member{}).
		Where("member_number <> UPPER(TRIM(member_number))").
		Update("member_number", gorm.Expr("UPPER(TRIM(member_number))")).Error
}

func normalizeAccountEmails(db *gorm.DB) error {
	return db.Model(&auth.Account{}).
		Where("email <> LOWER(TRIM(email))").
		Update("email", gorm.Expr("LOWER(TRIM(email))")).Error
}
