package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestRedeemConfirmationCode(t *testing.T) {
	s, mock := newMockStore(t)

	when := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE acknowledgment_codes").
		WithArgs("prt_1", "pol_1", "Alice@Example.com", "042319").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("code_1"))
	mock.ExpectQuery("INSERT INTO email_acknowledgments").
		WithArgs(sqlmock.AnyArg(), "prt_1", "pol_1", "Alice@Example.com", "10.0.0.9", "curl/8").
		WillReturnRows(sqlmock.NewRows([]string{"id", "portal_id", "policy_id", "email", "acknowledged_at", "ip_address", "user_agent"}).
			AddRow("eack_1", "prt_1", "pol_1", "alice@example.com", when, "10.0.0.9", "curl/8"))
	mock.ExpectCommit()

	ack, err := s.RedeemConfirmationCode(context.Background(), "prt_1", "pol_1", "Alice@Example.com", "042319", "10.0.0.9", "curl/8")
	if err != nil {
		t.Fatalf("RedeemConfirmationCode: %v", err)
	}
	if ack.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %s", ack.Email)
	}
	if !ack.AcknowledgedAt.Equal(when) {
		t.Fatalf("unexpected timestamp: %v", ack.AcknowledgedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRedeemConfirmationCodeInvalid(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE acknowledgment_codes").
		WithArgs("prt_1", "pol_1", "alice@example.com", "000000").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.RedeemConfirmationCode(context.Background(), "prt_1", "pol_1", "alice@example.com", "000000", "", "")
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertPortalDuplicateSlug(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO portals").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "portals_org_id_slug_key"})

	err := s.InsertPortal(context.Background(), Portal{ID: "prt_1", OrgID: "org_1", Slug: "employee-handbook", Name: "Employee Handbook", AccessType: "public", AcknowledgmentMode: "email"})
	if !errors.Is(err, ErrDuplicateSlug) {
		t.Fatalf("expected ErrDuplicateSlug, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdatePolicyBumpsVersion(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE policies").
		WillReturnRows(sqlmock.NewRows([]string{"current_version"}).AddRow(4))
	mock.ExpectExec("INSERT INTO policy_versions").
		WithArgs(sqlmock.AnyArg(), "pol_1", 4, "Remote Work Policy", "updated body", "usr_9").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	version, err := s.UpdatePolicy(context.Background(), Policy{ID: "pol_1", Title: "Remote Work Policy", Content: "updated body"}, "usr_9")
	if err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}
	if version != 4 {
		t.Fatalf("expected version 4, got %d", version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrateLegacyPoliciesCreatesDefaultPortal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM portals").
		WithArgs("org_1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO portals").
		WithArgs("prt_default", "org_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO policy_portal_assignments").
		WithArgs("org_1", "prt_default").
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	migrated, err := s.MigrateLegacyPolicies(context.Background(), "org_1", "prt_default")
	if err != nil {
		t.Fatalf("MigrateLegacyPolicies: %v", err)
	}
	if migrated != 7 {
		t.Fatalf("expected 7 migrated policies, got %d", migrated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPortalReportCounts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").
		WithArgs("prt_1").
		WillReturnRows(sqlmock.NewRows([]string{"recipients", "policies", "actual"}).AddRow(12, 3, 20))

	recipients, policies, actual, err := s.PortalReportCounts(context.Background(), "prt_1")
	if err != nil {
		t.Fatalf("PortalReportCounts: %v", err)
	}
	if recipients != 12 || policies != 3 || actual != 20 {
		t.Fatalf("unexpected counts: %d %d %d", recipients, policies, actual)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListPortalPoliciesStatusFilter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`p\.status IN \(\$2,\$3\)`).
		WithArgs("prt_1", StatusDraft, StatusPublished).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.ListPortalPolicies(context.Background(), "prt_1", []string{StatusDraft, StatusPublished}); err != nil {
		t.Fatalf("ListPortalPolicies: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListPortalPoliciesWithoutStatusFilter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE a\.portal_id=\$1 ORDER BY p\.title`).
		WithArgs("prt_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.ListPortalPolicies(context.Background(), "prt_1", nil); err != nil {
		t.Fatalf("ListPortalPolicies: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
