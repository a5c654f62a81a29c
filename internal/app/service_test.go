package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"policyhub/api/internal/access"
	"policyhub/api/internal/config"
	"policyhub/api/internal/store"
)

type testEnv struct {
	store    *fakeStore
	sessions *fakeSessions
	service  *Service
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore()
	sessions := newFakeSessions(3)

	fs.orgs["org_acme"] = store.Organization{ID: "org_acme", Name: "Acme Corp", Slug: "acme"}
	fs.orgs["org_beta"] = store.Organization{ID: "org_beta", Name: "Beta Inc", Slug: "beta"}

	fs.users["admin@acme.test"] = store.User{
		ID: "usr_admin", OrgID: "org_acme", Email: "admin@acme.test",
		DisplayName: "Acme Admin", PasswordHash: mustHash(t, "admin-pass"), Role: "admin",
	}
	fs.users["member@acme.test"] = store.User{
		ID: "usr_member", OrgID: "org_acme", Email: "member@acme.test",
		DisplayName: "Acme Member", PasswordHash: mustHash(t, "member-pass"), Role: "member",
	}
	fs.users["root@policyhub.test"] = store.User{
		ID: "usr_root", OrgID: "org_beta", Email: "root@policyhub.test",
		DisplayName: "Platform Admin", PasswordHash: mustHash(t, "root-pass"),
		Role: "admin", IsSuperAdmin: true,
	}

	handbookHash := mustHash(t, "secret123")
	fs.portals["prt_handbook"] = store.Portal{
		ID: "prt_handbook", OrgID: "org_acme", Slug: "handbook", Name: "Employee Handbook",
		AccessType: access.TypePassword, PasswordHash: &handbookHash,
		RequiresAcknowledgment: true, AcknowledgmentMode: store.AckModeEmail, IsActive: true,
	}
	fs.portals["prt_staff"] = store.Portal{
		ID: "prt_staff", OrgID: "org_acme", Slug: "staff", Name: "Staff Portal",
		AccessType: access.TypeAuthenticated,
		RequiresAcknowledgment: true, AcknowledgmentMode: store.AckModeUser, IsActive: true,
	}

	fs.policies["pol_pub"] = store.Policy{
		ID: "pol_pub", OrgID: "org_acme", Title: "Code of Conduct",
		Content: "<p>Be excellent.</p>", Status: store.StatusPublished, CurrentVersion: 2,
	}
	fs.policies["pol_draft"] = store.Policy{
		ID: "pol_draft", OrgID: "org_acme", Title: "Remote Work (draft)",
		Content: "<p>WIP</p>", Status: store.StatusDraft, CurrentVersion: 1,
	}
	fs.policies["pol_old"] = store.Policy{
		ID: "pol_old", OrgID: "org_acme", Title: "Dress Code (retired)",
		Content: "<p>Superseded</p>", Status: store.StatusArchived, CurrentVersion: 4,
	}
	fs.assignments["pol_pub"] = map[string]bool{"prt_handbook": true, "prt_staff": true}
	fs.assignments["pol_draft"] = map[string]bool{"prt_handbook": true}
	fs.assignments["pol_old"] = map[string]bool{"prt_handbook": true}

	cfg := config.Config{
		TokenSecret:      "test-secret",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       time.Hour,
		CodeTTL:          10 * time.Minute,
		LockoutThreshold: 3,
		PublicBaseURL:    "http://localhost:3000",
	}
	service := New(cfg, fs, Dependencies{Sessions: sessions})
	return &testEnv{store: fs, sessions: sessions, service: service}
}

func (env *testEnv) signIn(t *testing.T, email, password string) Session {
	t.Helper()
	session, err := env.service.SignIn(context.Background(), email, password)
	if err != nil {
		t.Fatalf("sign in %s: %v", email, err)
	}
	return session
}

func TestSignInRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.SignIn(context.Background(), "admin@acme.test", "nope")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 401 {
		t.Fatalf("expected 401 domain error, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.signIn(t, "admin@acme.test", "admin-pass")

	second, err := env.service.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if second.UserID != first.UserID {
		t.Fatalf("refresh switched user: %s -> %s", first.UserID, second.UserID)
	}

	// The first refresh token is revoked by the rotation.
	if _, err := env.service.Refresh(ctx, first.RefreshToken); err == nil {
		t.Fatal("expected rotated refresh token to be rejected")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.signIn(t, "member@acme.test", "member-pass")

	if _, err := env.service.SessionFromToken(ctx, session.Token); err != nil {
		t.Fatalf("token should be valid before logout: %v", err)
	}
	if err := env.service.Logout(ctx, session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.service.SessionFromToken(ctx, session.Token); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

func TestLogoutWithoutSessionRecordsNoRevocation(t *testing.T) {
	env := newTestEnv(t)

	if err := env.service.Logout(context.Background(), Session{}, ""); err != nil {
		t.Fatalf("anonymous logout: %v", err)
	}
	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.revoked) != 0 {
		t.Fatalf("anonymous logout must not revoke anything, got %d rows", len(env.store.revoked))
	}
}

func TestAdminSignInLockout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.service.AdminSignIn(ctx, "Root@PolicyHub.test", "wrong", "10.0.0.1")
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 401 {
			t.Fatalf("attempt %d: expected 401, got %v", i+1, err)
		}
	}

	// Fourth attempt hits the lockout, even with the right password.
	_, err := env.service.AdminSignIn(ctx, "root@policyhub.test", "root-pass", "10.0.0.1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "ACCOUNT_LOCKED" {
		t.Fatalf("expected ACCOUNT_LOCKED, got %v", err)
	}
	if env.store.eventCount("login.lockout") == 0 {
		t.Fatal("expected a lockout audit event")
	}
}

func TestAdminSignInClearsFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _ = env.service.AdminSignIn(ctx, "root@policyhub.test", "wrong", "10.0.0.1")
	if _, err := env.service.AdminSignIn(ctx, "root@policyhub.test", "root-pass", "10.0.0.1"); err != nil {
		t.Fatalf("sign in after one failure: %v", err)
	}
	if env.sessions.failures["root@policyhub.test"] != 0 {
		t.Fatal("failure counter not cleared on success")
	}
	if env.store.eventCount("login.success") != 1 {
		t.Fatal("expected a login.success audit event")
	}
}

func TestImpersonation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.signIn(t, "root@policyhub.test", "root-pass")

	imp, err := env.service.Impersonate(ctx, root, "org_acme")
	if err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	if !imp.Impersonating {
		t.Fatal("session should be marked impersonating")
	}
	if imp.EffectiveOrgID != "org_acme" {
		t.Fatalf("effective org = %s, want org_acme", imp.EffectiveOrgID)
	}
	if imp.OrgID != "org_beta" {
		t.Fatalf("home org should stay org_beta, got %s", imp.OrgID)
	}

	// Listings now run in the impersonated org.
	parsed, err := env.service.SessionFromToken(ctx, imp.Token)
	if err != nil {
		t.Fatalf("parse impersonation token: %v", err)
	}
	policies, err := env.service.ListPolicies(ctx, parsed)
	if err != nil {
		t.Fatalf("list policies: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 acme policies, got %d", len(policies))
	}

	plain, err := env.service.StopImpersonation(ctx, parsed)
	if err != nil {
		t.Fatalf("stop impersonation: %v", err)
	}
	if plain.Impersonating || plain.EffectiveOrgID != "org_beta" {
		t.Fatalf("expected plain org_beta session, got %+v", plain)
	}
	if _, err := env.service.SessionFromToken(ctx, imp.Token); err == nil {
		t.Fatal("impersonation token should be revoked after stop")
	}
	if env.store.eventCount("impersonation.start") != 1 || env.store.eventCount("impersonation.stop") != 1 {
		t.Fatal("expected impersonation audit events")
	}
}

func TestImpersonationRequiresSuperAdmin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.signIn(t, "admin@acme.test", "admin-pass")
	_, err := env.service.Impersonate(context.Background(), admin, "org_beta")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestCreatePortalDuplicateSlug(t *testing.T) {
	env := newTestEnv(t)
	admin := env.signIn(t, "admin@acme.test", "admin-pass")

	_, err := env.service.CreatePortal(context.Background(), admin, PortalInput{
		Name:       "Second Handbook",
		Slug:       "handbook",
		AccessType: access.TypePublic,
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 409 {
		t.Fatalf("expected 409 conflict, got %v", err)
	}
}

func TestCreatePortalRequiresPasswordForPasswordType(t *testing.T) {
	env := newTestEnv(t)
	admin := env.signIn(t, "admin@acme.test", "admin-pass")
	_, err := env.service.CreatePortal(context.Background(), admin, PortalInput{
		Name:       "Locked",
		AccessType: access.TypePassword,
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemberCannotManagePortals(t *testing.T) {
	env := newTestEnv(t)
	member := env.signIn(t, "member@acme.test", "member-pass")
	_, err := env.service.CreatePortal(context.Background(), member, PortalInput{
		Name:       "Sneaky",
		AccessType: access.TypePublic,
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestAcknowledgeKeepsOriginalRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := env.signIn(t, "member@acme.test", "member-pass")

	first, err := env.service.AcknowledgePolicy(ctx, member, "pol_pub", "10.0.0.2")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := env.service.AcknowledgePolicy(ctx, member, "pol_pub", "10.0.0.2")
	if err != nil {
		t.Fatalf("repeat acknowledge: %v", err)
	}
	if second.ID != first.ID || !second.AcknowledgedAt.Equal(first.AcknowledgedAt) {
		t.Fatal("repeat acknowledgment must keep the original row and timestamp")
	}
}

func TestAcknowledgeRejectsDraft(t *testing.T) {
	env := newTestEnv(t)
	member := env.signIn(t, "member@acme.test", "member-pass")
	_, err := env.service.AcknowledgePolicy(context.Background(), member, "pol_draft", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected validation error for draft, got %v", err)
	}
}

func TestPolicyVisibilityByRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.signIn(t, "admin@acme.test", "admin-pass")
	adminList, err := env.service.ListPolicies(ctx, admin)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(adminList) != 2 {
		t.Fatalf("admin should see 2 policies, got %d", len(adminList))
	}

	member := env.signIn(t, "member@acme.test", "member-pass")
	memberList, err := env.service.ListPolicies(ctx, member)
	if err != nil {
		t.Fatalf("member list: %v", err)
	}
	if len(memberList) != 1 || memberList[0].Status != store.StatusPublished {
		t.Fatalf("member should see only the published policy, got %+v", memberList)
	}

	if _, err := env.service.GetPolicy(ctx, member, "pol_draft"); err == nil {
		t.Fatal("member must not fetch a draft by ID")
	}
}

func TestArchivedPoliciesHiddenFromListings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.signIn(t, "admin@acme.test", "admin-pass")
	adminList, err := env.service.ListPolicies(ctx, admin)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	for _, p := range adminList {
		if p.Status == store.StatusArchived {
			t.Fatalf("archived policy surfaced in admin listing: %s", p.ID)
		}
	}

	visitor := Visitor{Password: "secret123", Session: &admin}
	_, listing, err := env.service.PortalPolicies(ctx, "acme", "handbook", visitor, "")
	if err != nil {
		t.Fatalf("portal policies: %v", err)
	}
	if len(listing) != 2 {
		t.Fatalf("admin should see draft and published only, got %d", len(listing))
	}
	for _, item := range listing {
		if item.Policy.ID == "pol_old" {
			t.Fatal("archived policy surfaced in portal listing")
		}
	}
}

func TestUpdatePolicyBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	admin := env.signIn(t, "admin@acme.test", "admin-pass")

	updated, err := env.service.UpdatePolicy(context.Background(), admin, "pol_pub", PolicyInput{
		Title:   "Code of Conduct v3",
		Content: "<p>Be even more excellent.</p>",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CurrentVersion != 3 {
		t.Fatalf("version = %d, want 3", updated.CurrentVersion)
	}
}

func TestMigrateLegacy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// An orphaned published policy with no portal assignment.
	env.store.policies["pol_orphan"] = store.Policy{
		ID: "pol_orphan", OrgID: "org_acme", Title: "Old Travel Policy",
		Status: store.StatusPublished, CurrentVersion: 1,
	}

	admin := env.signIn(t, "admin@acme.test", "admin-pass")
	migrated, err := env.service.MigrateLegacy(ctx, admin)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if migrated != 1 {
		t.Fatalf("migrated = %d, want 1", migrated)
	}
	if env.store.eventCount("portal.legacy_migration") != 1 {
		t.Fatal("expected a migration audit event")
	}
}

func TestPortalReport(t *testing.T) {
	env := newTestEnv(t)
	env.store.reportCountsFn = func(portalID string) (int, int, int) {
		if portalID != "prt_handbook" {
			t.Fatalf("unexpected portal %s", portalID)
		}
		return 4, 2, 5
	}

	admin := env.signIn(t, "admin@acme.test", "admin-pass")
	report, err := env.service.PortalReport(context.Background(), admin, "prt_handbook")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Expected != 8 || report.Actual != 5 {
		t.Fatalf("report = %+v", report)
	}
	if report.Rate != 0.625 {
		t.Fatalf("rate = %v, want 0.625", report.Rate)
	}
}

func TestCrossOrgAccessIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	root := env.signIn(t, "root@policyhub.test", "root-pass")

	// root's own org is org_beta; acme resources must look nonexistent.
	_, err := env.service.GetPolicy(context.Background(), root, "pol_pub")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 across orgs, got %v", err)
	}
}
