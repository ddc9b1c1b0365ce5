package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pwaburton/members/internal/auth"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []auth.Event
}

func (p *recordingPublisher) PublishAuthEvent(event auth.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func newTestService(t *testing.T, publisher auth.EventPublisher) *Service {
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
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:  db,
		Publisher: publisher,
		Clock: func() time.Time {
			return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestEnsureCreatesProfileOnFirstAccess(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	profile, err := service.Ensure(ctx, "user-1", "User@Example.org")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if profile.Role != RoleMember || profile.Email != "user@example.org" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	again, err := service.Ensure(ctx, "user-1", "other@example.org")
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if again.Email != "user@example.org" {
		t.Fatalf("expected existing profile to be returned, got %+v", again)
	}

	profiles, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected one profile, got %d", len(profiles))
	}
}

func TestEnsureRejectsBlankIdentity(t *testing.T) {
	service := newTestService(t, nil)
	if _, err := service.Ensure(context.Background(), "  ", ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestUpdateRoleInvalidatesCacheAndPublishes(t *testing.T) {
	publisher := &recordingPublisher{}
	service := newTestService(t, publisher)
	ctx := context.Background()

	if _, err := service.Ensure(ctx, "user-1", "user@example.org"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	updated, err := service.UpdateRole(ctx, "user-1", RoleAdmin)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Role != RoleAdmin {
		t.Fatalf("expected admin role, got %q", updated.Role)
	}

	ensured, err := service.Ensure(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if ensured.Role != RoleAdmin {
		t.Fatalf("expected cache to reflect new role, got %q", ensured.Role)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != auth.EventUserUpdated {
		t.Fatalf("expected one user updated event, got %+v", publisher.events)
	}

	if _, err := service.UpdateRole(ctx, "user-1", Role("owner")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected invalid role, got %v", err)
	}
	if _, err := service.UpdateRole(ctx, "missing", RoleAdmin); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkFlags(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	if _, err := service.Ensure(ctx, "user-1", "user@example.org"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	changed := true
	profile, err := service.MarkFlags(ctx, "user-1", Flags{PasswordChanged: &changed})
	if err != nil {
		t.Fatalf("mark flags failed: %v", err)
	}
	if !profile.PasswordChanged || profile.ProfileUpdated {
		t.Fatalf("unexpected flags %+v", profile)
	}
}

func TestParseRole(t *testing.T) {
	testCases := []struct {
		input string
		want  Role
		ok    bool
	}{
		{input: "admin", want: RoleAdmin, ok: true},
		{input: " Collector ", want: RoleCollector, ok: true},
		{input: "member", want: RoleMember, ok: true},
		{input: "root", ok: false},
	}
	for _, testCase := range testCases {
		got, ok := ParseRole(testCase.input)
		if got != testCase.want || ok != testCase.ok {
			t.Fatalf("ParseRole(%q) = %q, %v", testCase.input, got, ok)
		}
	}
}
