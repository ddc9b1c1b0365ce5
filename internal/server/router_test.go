package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pwaburton/members/internal/auth"
	"github.com/pwaburton/members/internal/database"
	"github.com/pwaburton/members/internal/identifiers"
	"github.com/pwaburton/members/internal/members"
	"github.com/pwaburton/members/internal/payments"
	"github.com/pwaburton/members/internal/profiles"
	"github.com/pwaburton/members/internal/registration"
	"github.com/pwaburton/members/internal/support"
	"go.uber.org/zap"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []registration.WelcomeMessage
}

func (m *recordingMailer) SendWelcome(_ context.Context, message registration.WelcomeMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, message)
	return nil
}

type apiFixture struct {
	server   *httptest.Server
	provider *auth.Provider
	profiles *profiles.Service
	members  *members.Service
	mailer   *recordingMailer
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(database.DriverSQLite, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	dispatcher := NewRealtimeDispatcher()
	ids := identifiers.NewUUIDProvider()
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "members-auth",
		Audience:      "members-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{Tokens: tokens})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	provider, err := auth.NewProvider(auth.ProviderConfig{Database: db, Tokens: tokens, IDProvider: ids, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("failed to construct provider: %v", err)
	}
	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("failed to construct profiles: %v", err)
	}
	memberService, err := members.NewService(members.ServiceConfig{Database: db, IDProvider: ids, Accounts: provider})
	if err != nil {
		t.Fatalf("failed to construct members: %v", err)
	}
	provider.MirrorPasswordsTo(memberService)
	paymentService, err := payments.NewService(payments.ServiceConfig{Database: db, Members: memberService, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to construct payments: %v", err)
	}
	supportService, err := support.NewService(support.ServiceConfig{Database: db, Recipients: memberService, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to construct support: %v", err)
	}
	mailer := &recordingMailer{}
	registrationService, err := registration.NewService(registration.ServiceConfig{Accounts: provider, Mailer: mailer})
	if err != nil {
		t.Fatalf("failed to construct registration: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Provider:     provider,
		Validator:    validator,
		Profiles:     profileService,
		Members:      memberService,
		Payments:     paymentService,
		Support:      supportService,
		Registration: registrationService,
		Realtime:     dispatcher,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return apiFixture{server: server, provider: provider, profiles: profileService, members: memberService, mailer: mailer}
}

func (f apiFixture) do(t *testing.T, method string, path string, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return response.StatusCode, payload
}

func (f apiFixture) signUp(t *testing.T, email string, role profiles.Role) auth.Session {
	t.Helper()
	if _, err := f.provider.CreateAccount(context.Background(), email, "password123"); err != nil {
		t.Fatalf("create account failed: %v", err)
	}
	status, payload := f.do(t, http.MethodPost, "/auth/v1/token?grant_type=password", "", map[string]string{"email": email, "password": "password123"})
	if status != http.StatusOK {
		t.Fatalf("sign in failed: %d %s", status, payload)
	}
	var session auth.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if role != profiles.RoleMember {
		if _, err := f.profiles.Ensure(context.Background(), session.User.ID, email); err != nil {
			t.Fatalf("ensure profile failed: %v", err)
		}
		if _, err := f.profiles.UpdateRole(context.Background(), session.User.ID, role); err != nil {
			t.Fatalf("update role failed: %v", err)
		}
	}
	return session
}

func decodeInto(t *testing.T, payload []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(payload, target); err != nil {
		t.Fatalf("failed to decode %s: %v", payload, err)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	fixture := newAPIFixture(t)
	session := fixture.signUp(t, "ada@example.org", profiles.RoleMember)

	status, payload := fixture.do(t, http.MethodGet, "/auth/v1/user", session.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected user lookup to succeed, got %d %s", status, payload)
	}
	var user auth.User
	decodeInto(t, payload, &user)
	if user.Email != "ada@example.org" {
		t.Fatalf("unexpected user %+v", user)
	}

	status, payload = fixture.do(t, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", map[string]string{"refresh_token": session.RefreshToken})
	if status != http.StatusOK {
		t.Fatalf("expected refresh to succeed, got %d %s", status, payload)
	}
	var refreshed auth.Session
	decodeInto(t, payload, &refreshed)
	if refreshed.RefreshToken == session.RefreshToken {
		t.Fatalf("expected refresh token rotation")
	}

	status, _ = fixture.do(t, http.MethodPost, "/auth/v1/logout", refreshed.AccessToken, nil)
	if status != http.StatusNoContent {
		t.Fatalf("expected logout to succeed, got %d", status)
	}
	status, payload = fixture.do(t, http.MethodGet, "/auth/v1/user", refreshed.AccessToken, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected revoked session to be rejected, got %d %s", status, payload)
	}
}

func TestPasswordGrantRejectsBadCredentials(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.signUp(t, "ada@example.org", profiles.RoleMember)

	status, payload := fixture.do(t, http.MethodPost, "/auth/v1/token?grant_type=password", "", map[string]string{"email": "ada@example.org", "password": "wrong-password"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d %s", status, payload)
	}
	var body map[string]any
	decodeInto(t, payload, &body)
	if body["error"] != "invalid_credentials" {
		t.Fatalf("unexpected error body %v", body)
	}

	status, _ = fixture.do(t, http.MethodPost, "/auth/v1/token?grant_type=magic", "", map[string]string{})
	if status != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown grant, got %d", status)
	}
}

func TestRoleChecksGuardDataRoutes(t *testing.T) {
	fixture := newAPIFixture(t)
	member := fixture.signUp(t, "member@example.org", profiles.RoleMember)
	admin := fixture.signUp(t, "admin@example.org", profiles.RoleAdmin)

	status, payload := fixture.do(t, http.MethodGet, "/rest/v1/profiles/me", member.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected profile lookup to succeed, got %d %s", status, payload)
	}
	var profile profiles.Profile
	decodeInto(t, payload, &profile)
	if profile.Role != profiles.RoleMember {
		t.Fatalf("expected lazily created member profile, got %+v", profile)
	}

	status, _ = fixture.do(t, http.MethodGet, "/rest/v1/members", member.AccessToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected member to be forbidden from member list, got %d", status)
	}

	status, payload = fixture.do(t, http.MethodPost, "/rest/v1/collectors", admin.AccessToken, map[string]string{"name": "North"})
	if status != http.StatusCreated {
		t.Fatalf("expected collector creation, got %d %s", status, payload)
	}
	var collector members.Collector
	decodeInto(t, payload, &collector)

	status, payload = fixture.do(t, http.MethodPost, "/rest/v1/members", admin.AccessToken, map[string]string{"collector_id": collector.ID, "full_name": "Ada Lovelace", "email": "member@example.org"})
	if status != http.StatusCreated {
		t.Fatalf("expected member creation, got %d %s", status, payload)
	}
	var created members.Member
	decodeInto(t, payload, &created)
	if created.MemberNumber != "M0001" {
		t.Fatalf("expected first member number M0001, got %s", created.MemberNumber)
	}

	status, payload = fixture.do(t, http.MethodGet, "/rest/v1/members?search=ada", admin.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected member list, got %d %s", status, payload)
	}
	var page members.MemberPage
	decodeInto(t, payload, &page)
	if page.Total != 1 || page.PageSize != 20 {
		t.Fatalf("unexpected page %+v", page)
	}

	status, payload = fixture.do(t, http.MethodPost, "/rest/v1/collectors", admin.AccessToken, map[string]string{"name": ""})
	if status != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d %s", status, payload)
	}
	var body map[string]any
	decodeInto(t, payload, &body)
	if body["error"] != "invalid_request" || body["code"] != "members.create_collector.invalid_input" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestMemberCredentialsLookupIsPublic(t *testing.T) {
	fixture := newAPIFixture(t)
	ctx := context.Background()
	collector, err := fixture.members.CreateCollector(ctx, members.CollectorInput{Name: "North"})
	if err != nil {
		t.Fatalf("create collector failed: %v", err)
	}
	member, err := fixture.members.CreateMember(ctx, members.MemberInput{CollectorID: collector.ID, FullName: "Ada", Email: "ada@example.org"})
	if err != nil {
		t.Fatalf("create member failed: %v", err)
	}
	if err := fixture.members.SetMemberPassword(ctx, member.ID, "secret12"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}

	status, payload := fixture.do(t, http.MethodPost, "/rest/v1/rpc/member_credentials", "", map[string]string{"member_number": " m0001 "})
	if status != http.StatusOK {
		t.Fatalf("expected lookup to succeed, got %d %s", status, payload)
	}
	var credentials members.Credentials
	decodeInto(t, payload, &credentials)
	if credentials.Email != "ada@example.org" || credentials.PasswordHash == "" {
		t.Fatalf("unexpected credentials %+v", credentials)
	}

	status, _ = fixture.do(t, http.MethodPost, "/rest/v1/rpc/member_credentials", "", map[string]string{"member_number": "M9999"})
	if status != http.StatusNotFound {
		t.Fatalf("expected not found for unknown member, got %d", status)
	}
}

func TestWelcomeFunctionCreatesAccountAndMails(t *testing.T) {
	fixture := newAPIFixture(t)
	admin := fixture.signUp(t, "admin@example.org", profiles.RoleAdmin)
	member := fixture.signUp(t, "member@example.org", profiles.RoleMember)

	request := map[string]string{"email": "new@example.org", "tempPassword": "Temp#12345ab", "fullName": "New Member"}
	status, _ := fixture.do(t, http.MethodPost, "/functions/v1/send-welcome-email", member.AccessToken, request)
	if status != http.StatusForbidden {
		t.Fatalf("expected members to be forbidden, got %d", status)
	}

	status, payload := fixture.do(t, http.MethodPost, "/functions/v1/send-welcome-email", admin.AccessToken, request)
	if status != http.StatusOK {
		t.Fatalf("expected welcome to succeed, got %d %s", status, payload)
	}
	var response registration.Response
	decodeInto(t, payload, &response)
	if response.Message != "Welcome email sent successfully" {
		t.Fatalf("unexpected response %+v", response)
	}
	if len(fixture.mailer.sent) != 1 {
		t.Fatalf("expected one welcome email")
	}

	status, _ = fixture.do(t, http.MethodPost, "/auth/v1/token?grant_type=password", "", map[string]string{"email": "new@example.org", "password": "Temp#12345ab"})
	if status != http.StatusOK {
		t.Fatalf("expected new account to sign in with temporary password, got %d", status)
	}

	status, _ = fixture.do(t, http.MethodPost, "/functions/v1/send-welcome-email", admin.AccessToken, request)
	if status != http.StatusConflict {
		t.Fatalf("expected conflict for existing account, got %d", status)
	}
}

func TestTicketsAreScopedToRequester(t *testing.T) {
	fixture := newAPIFixture(t)
	admin := fixture.signUp(t, "admin@example.org", profiles.RoleAdmin)
	first := fixture.signUp(t, "first@example.org", profiles.RoleMember)
	second := fixture.signUp(t, "second@example.org", profiles.RoleMember)

	status, payload := fixture.do(t, http.MethodPost, "/rest/v1/tickets", first.AccessToken, map[string]string{"subject": "Account Access Issue", "message": "Cannot sign in", "priority": "High"})
	if status != http.StatusCreated {
		t.Fatalf("expected ticket creation, got %d %s", status, payload)
	}
	var ticket support.Ticket
	decodeInto(t, payload, &ticket)

	var listed []support.Ticket
	_, payload = fixture.do(t, http.MethodGet, "/rest/v1/tickets", second.AccessToken, nil)
	decodeInto(t, payload, &listed)
	if len(listed) != 0 {
		t.Fatalf("expected other members to see no tickets, got %d", len(listed))
	}
	status, _ = fixture.do(t, http.MethodPost, "/rest/v1/tickets/"+ticket.ID+"/responses", second.AccessToken, map[string]string{"message": "me too"})
	if status != http.StatusForbidden {
		t.Fatalf("expected forbidden response from non-requester, got %d", status)
	}

	status, _ = fixture.do(t, http.MethodPost, "/rest/v1/tickets/"+ticket.ID+"/responses", admin.AccessToken, map[string]string{"message": "Have you tried clearing your cache?"})
	if status != http.StatusCreated {
		t.Fatalf("expected admin response, got %d", status)
	}
	status, _ = fixture.do(t, http.MethodPatch, "/rest/v1/tickets/"+ticket.ID+"/status", first.AccessToken, map[string]string{"status": "Closed"})
	if status != http.StatusForbidden {
		t.Fatalf("expected members to be forbidden from status changes, got %d", status)
	}
	status, payload = fixture.do(t, http.MethodPatch, "/rest/v1/tickets/"+ticket.ID+"/status", admin.AccessToken, map[string]string{"status": "Resolved"})
	if status != http.StatusOK {
		t.Fatalf("expected status change, got %d %s", status, payload)
	}

	_, payload = fixture.do(t, http.MethodGet, "/rest/v1/tickets", first.AccessToken, nil)
	decodeInto(t, payload, &listed)
	if len(listed) != 1 || listed[0].Status != support.StatusResolved || len(listed[0].Responses) != 1 || !listed[0].Responses[0].IsAdmin {
		t.Fatalf("unexpected requester view %+v", listed)
	}
}

func TestNoticeRequiresMessage(t *testing.T) {
	fixture := newAPIFixture(t)
	admin := fixture.signUp(t, "admin@example.org", profiles.RoleAdmin)

	status, payload := fixture.do(t, http.MethodPost, "/rest/v1/notices", admin.AccessToken, map[string]string{"message": " "})
	if status != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d %s", status, payload)
	}
	status, payload = fixture.do(t, http.MethodPost, "/rest/v1/notices", admin.AccessToken, map[string]string{"message": "AGM on Sunday", "collector_id": "all"})
	if status != http.StatusCreated {
		t.Fatalf("expected notice to be sent, got %d %s", status, payload)
	}
	var notice support.Notice
	decodeInto(t, payload, &notice)
	if notice.CollectorID != nil || notice.Recipients != 0 {
		t.Fatalf("unexpected notice %+v", notice)
	}
}

func TestPaymentHistoryVisibleToOwningMember(t *testing.T) {
	fixture := newAPIFixture(t)
	admin := fixture.signUp(t, "admin@example.org", profiles.RoleAdmin)
	owner := fixture.signUp(t, "owner@example.org", profiles.RoleMember)
	stranger := fixture.signUp(t, "stranger@example.org", profiles.RoleMember)

	ctx := context.Background()
	collector, _ := fixture.members.CreateCollector(ctx, members.CollectorInput{Name: "North"})
	member, err := fixture.members.CreateMember(ctx, members.MemberInput{CollectorID: collector.ID, FullName: "Owner", Email: "owner@example.org"})
	if err != nil {
		t.Fatalf("create member failed: %v", err)
	}

	status, payload := fixture.do(t, http.MethodPost, "/rest/v1/members/"+member.ID+"/payments", admin.AccessToken, map[string]any{"amount_pence": 5000, "payment_type": "membership_fee", "payment_date": "2025-01-10"})
	if status != http.StatusCreated {
		t.Fatalf("expected payment creation, got %d %s", status, payload)
	}

	status, payload = fixture.do(t, http.MethodGet, "/rest/v1/members/"+member.ID+"/payments?amount=%C2%A350.00", owner.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected owner to read payments, got %d %s", status, payload)
	}
	var history []payments.Payment
	decodeInto(t, payload, &history)
	if len(history) != 1 || history[0].AmountPence != 5000 {
		t.Fatalf("unexpected history %+v", history)
	}

	status, _ = fixture.do(t, http.MethodGet, "/rest/v1/members/"+member.ID+"/payments", stranger.AccessToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected stranger to be forbidden, got %d", status)
	}

	status, payload = fixture.do(t, http.MethodGet, "/rest/v1/finance/stats", admin.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected stats, got %d %s", status, payload)
	}
	var stats payments.FinanceStats
	decodeInto(t, payload, &stats)
	if stats.TotalBalance != 5000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAuthEventStreamDeliversRoleChanges(t *testing.T) {
	fixture := newAPIFixture(t)
	member := fixture.signUp(t, "member@example.org", profiles.RoleMember)
	if _, err := fixture.profiles.Ensure(context.Background(), member.User.ID, member.User.Email); err != nil {
		t.Fatalf("ensure profile failed: %v", err)
	}

	streamRequest, err := http.NewRequest(http.MethodGet, fixture.server.URL+"/auth/v1/events?access_token="+member.AccessToken, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { _ = streamResp.Body.Close() })
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	if _, err := fixture.profiles.UpdateRole(context.Background(), member.User.ID, profiles.RoleCollector); err != nil {
		t.Fatalf("update role failed: %v", err)
	}

	reader := bufio.NewReader(streamResp.Body)
	type readResult struct {
		line string
		err  error
	}
	deadline := time.After(5 * time.Second)
	currentEventType := ""
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for auth event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != auth.EventUserUpdated {
				continue
			}
			var payload realtimeEventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.UserID != member.User.ID {
				t.Fatalf("unexpected event user %s", payload.UserID)
			}
			return
		}
	}
}
