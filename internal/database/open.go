package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pwaburton/members/internal/auth"
	"github.com/pwaburton/members/internal/members"
	"github.com/pwaburton/members/internal/payments"
	"github.com/pwaburton/members/internal/profiles"
	"github.com/pwaburton/members/internal/support"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Models lists every table the API persists.
func Models() []any {
	return []any{
		&auth.Account{},
		&auth.AuthSession{},
		&profiles.Profile{},
		&members.Collector{},
		&members.Member{},
		&members.FamilyMember{},
		&members.AdminNote{},
		&payments.Payment{},
		&support.Ticket{},
		&support.TicketResponse{},
		&support.Notice{},
		&migrationRecord{},
	}
}

// Open establishes a database connection for the driver and migrates the schema.
func Open(driver string, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("database driver %q is not supported", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			logger.Warn("sqlite foreign keys not enabled", zap.Error(err))
		}
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", driver))
	return db, nil
}
