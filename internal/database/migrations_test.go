package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pwaburton/members/internal/auth"
	"github.com/pwaburton/members/internal/members"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesLegacyRows(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&members.Collector{}, &members.Member{}, &auth.Account{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	collector := members.Collector{ID: "collector-1", Name: "Anjum Riaz", Prefix: "AR", Number: "01", Active: true, CreatedAt: now}
	if err := database.Create(&collector).Error; err != nil {
		testContext.Fatalf("failed to insert collector: %v", err)
	}
	member := members.Member{
		ID:           "member-1",
		MemberNumber: " ar0001 ",
		CollectorID:  collector.ID,
		FullName:     "Legacy Member",
		Status:       members.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := database.Create(&member).Error; err != nil {
		testContext.Fatalf("failed to insert member: %v", err)
	}
	account := auth.Account{ID: "account-1", Email: " Ada@Example.org", Provider: auth.ProviderEmail, CreatedAt: now, UpdatedAt: now}
	if err := database.Create(&account).Error; err != nil {
		testContext.Fatalf("failed to insert account: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedMember members.Member
	if err := database.Where("id = ?", member.ID).Take(&storedMember).Error; err != nil {
		testContext.Fatalf("failed to reload member: %v", err)
	}
	if storedMember.MemberNumber != "AR0001" {
		testContext.Fatalf("expected normalized member number, got %q", storedMember.MemberNumber)
	}
	var storedAccount auth.Account
	if err := database.Where("id = ?", account.ID).Take(&storedAccount).Error; err != nil {
		testContext.Fatalf("failed to reload account: %v", err)
	}
	if storedAccount.Email != "ada@example.org" {
		testContext.Fatalf("expected normalized email, got %q", storedAccount.Email)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeMemberNumbers).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "once.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&members.Collector{}, &members.Member{}, &auth.Account{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	if err := applyMigrations(database, logger); err != nil {
		testContext.Fatalf("first run failed: %v", err)
	}
	if err := applyMigrations(database, logger); err != nil {
		testContext.Fatalf("second run failed: %v", err)
	}
	if applied := logs.FilterMessage("database migration applied").Len(); applied != 2 {
		testContext.Fatalf("expected each migration to be applied once, got %d log entries", applied)
	}
}

func TestOpenMigratesEverySQLiteTable(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "members.db")
	database, err := Open(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	testContext.Cleanup(func() { _ = sqlDB.Close() })

	for _, table := range []string{"auth_accounts", "auth_sessions", "profiles", "collectors", "members", "family_members", "admin_notes", "payments", "support_tickets", "support_ticket_responses", "support_notices", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open("mysql", "dsn", nil); err == nil {
		testContext.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(DriverSQLite, "", nil); err == nil {
		testContext.Fatalf("expected error for empty dsn")
	}
}
