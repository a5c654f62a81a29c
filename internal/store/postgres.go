package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"policyhub/api/internal/util"
)

var (
	// ErrDuplicateSlug is returned when a portal slug already exists in the org.
	ErrDuplicateSlug = errors.New("portal slug already exists")
	// ErrCodeInvalid is returned when a confirmation code is missing, used, or expired.
	ErrCodeInvalid = errors.New("invalid or expired confirmation code")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalStrings(values []string) []byte {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return data
}

func unmarshalStrings(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var values []string
	_ = json.Unmarshal(data, &values)
	return values
}

// ---- organizations ----

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	var org Organization
	var settings []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, settings, created_at, updated_at
		FROM organizations WHERE id=$1
	`, orgID).Scan(&org.ID, &org.Name, &org.Slug, &settings, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return Organization{}, err
	}
	_ = json.Unmarshal(settings, &org.Settings)
	return org, nil
}

func (s *PostgresStore) GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error) {
	var org Organization
	var settings []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, settings, created_at, updated_at
		FROM organizations WHERE slug=$1
	`, slug).Scan(&org.ID, &org.Name, &org.Slug, &settings, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return Organization{}, err
	}
	_ = json.Unmarshal(settings, &org.Settings)
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, settings, created_at, updated_at
		FROM organizations ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := make([]Organization, 0)
	for rows.Next() {
		var org Organization
		var settings []byte
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &settings, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		_ = json.Unmarshal(settings, &org.Settings)
		items = append(items, org)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateOrganizationSettings(ctx context.Context, orgID string, settings map[string]string) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE organizations SET settings=$2, updated_at=NOW() WHERE id=$1
	`, orgID, data)
	if err != nil {
		return fmt.Errorf("update organization settings: %w", err)
	}
	return nil
}

// ---- users ----

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.OrgID, &user.Email, &user.DisplayName,
		&user.PasswordHash, &user.Role, &user.IsSuperAdmin, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

const userColumns = `id, org_id, email, display_name, password_hash, role, is_super_admin, created_at, updated_at`

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetSuperAdminByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1) AND is_super_admin`, email))
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, org_id, email, display_name, password_hash, role, is_super_admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.OrgID, user.Email, user.DisplayName, user.PasswordHash, user.Role, user.IsSuperAdmin)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// ---- refresh sessions / revoked tokens ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.org_id, u.email, u.display_name, u.password_hash, u.role, u.is_super_admin, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	return scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- portals ----

const portalColumns = `id, org_id, slug, name, access_type, password_hash, allowed_roles,
	requires_acknowledgment, acknowledgment_mode, is_active, header_template, footer_template,
	created_at, updated_at`

func scanPortal(scan func(dest ...any) error) (Portal, error) {
	var p Portal
	var roles []byte
	err := scan(&p.ID, &p.OrgID, &p.Slug, &p.Name, &p.AccessType, &p.PasswordHash, &roles,
		&p.RequiresAcknowledgment, &p.AcknowledgmentMode, &p.IsActive, &p.HeaderTemplate, &p.FooterTemplate,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Portal{}, err
	}
	p.AllowedRoles = unmarshalStrings(roles)
	return p, nil
}

func (s *PostgresStore) InsertPortal(ctx context.Context, p Portal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portals (id, org_id, slug, name, access_type, password_hash, allowed_roles,
			requires_acknowledgment, acknowledgment_mode, is_active, header_template, footer_template)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.OrgID, p.Slug, p.Name, p.AccessType, p.PasswordHash, marshalStrings(p.AllowedRoles),
		p.RequiresAcknowledgment, p.AcknowledgmentMode, p.IsActive, p.HeaderTemplate, p.FooterTemplate)
	if isUniqueViolation(err) {
		return ErrDuplicateSlug
	}
	if err != nil {
		return fmt.Errorf("insert portal: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePortal(ctx context.Context, p Portal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE portals
		SET slug=$2, name=$3, access_type=$4, password_hash=$5, allowed_roles=$6,
			requires_acknowledgment=$7, acknowledgment_mode=$8, is_active=$9,
			header_template=$10, footer_template=$11, updated_at=NOW()
		WHERE id=$1
	`, p.ID, p.Slug, p.Name, p.AccessType, p.PasswordHash, marshalStrings(p.AllowedRoles),
		p.RequiresAcknowledgment, p.AcknowledgmentMode, p.IsActive, p.HeaderTemplate, p.FooterTemplate)
	if isUniqueViolation(err) {
		return ErrDuplicateSlug
	}
	if err != nil {
		return fmt.Errorf("update portal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPortal(ctx context.Context, portalID string) (Portal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+portalColumns+` FROM portals WHERE id=$1`, portalID)
	return scanPortal(row.Scan)
}

// GetPortalBySlug resolves a portal through its organization slug, since
// portal slugs are only unique per organization.
func (s *PostgresStore) GetPortalBySlug(ctx context.Context, orgSlug, portalSlug string) (Portal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.org_id, p.slug, p.name, p.access_type, p.password_hash, p.allowed_roles,
			p.requires_acknowledgment, p.acknowledgment_mode, p.is_active, p.header_template, p.footer_template,
			p.created_at, p.updated_at
		FROM portals p
		JOIN organizations o ON o.id = p.org_id
		WHERE o.slug=$1 AND p.slug=$2
	`, orgSlug, portalSlug)
	return scanPortal(row.Scan)
}

func (s *PostgresStore) ListPortals(ctx context.Context, orgID string) ([]Portal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+portalColumns+` FROM portals WHERE org_id=$1 ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list portals: %w", err)
	}
	defer rows.Close()

	items := make([]Portal, 0)
	for rows.Next() {
		p, err := scanPortal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan portal: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// DeletePortal removes the portal; assignments, recipients, codes and email
// acknowledgments cascade via foreign keys.
func (s *PostgresStore) DeletePortal(ctx context.Context, portalID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM portals WHERE id=$1`, portalID)
	if err != nil {
		return fmt.Errorf("delete portal: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- policies ----

const policyColumns = `id, org_id, title, content, status, author_id, current_version, tags,
	department, category, effective_date, expiration_date, review_date, created_at, updated_at`

func scanPolicy(scan func(dest ...any) error) (Policy, error) {
	var p Policy
	var tags []byte
	err := scan(&p.ID, &p.OrgID, &p.Title, &p.Content, &p.Status, &p.AuthorID, &p.CurrentVersion, &tags,
		&p.Department, &p.Category, &p.EffectiveDate, &p.ExpirationDate, &p.ReviewDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Policy{}, err
	}
	p.Tags = unmarshalStrings(tags)
	return p, nil
}

// InsertPolicy writes the policy and its first version row in one transaction.
func (s *PostgresStore) InsertPolicy(ctx context.Context, p Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert policy: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policies (id, org_id, title, content, status, author_id, current_version, tags,
			department, category, effective_date, expiration_date, review_date)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.OrgID, p.Title, p.Content, p.Status, p.AuthorID, marshalStrings(p.Tags),
		p.Department, p.Category, p.EffectiveDate, p.ExpirationDate, p.ReviewDate)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policy_versions (id, policy_id, version, title, content, saved_by)
		VALUES ($1, $2, 1, $3, $4, $5)
	`, util.NewID("pv"), p.ID, p.Title, p.Content, p.AuthorID)
	if err != nil {
		return fmt.Errorf("insert policy version: %w", err)
	}
	return tx.Commit()
}

// UpdatePolicy saves new content, bumps current_version and records the
// version row, all in one transaction.
func (s *PostgresStore) UpdatePolicy(ctx context.Context, p Policy, savedBy string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin update policy: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx, `
		UPDATE policies
		SET title=$2, content=$3, tags=$4, department=$5, category=$6,
			effective_date=$7, expiration_date=$8, review_date=$9,
			current_version=current_version+1, updated_at=NOW()
		WHERE id=$1
		RETURNING current_version
	`, p.ID, p.Title, p.Content, marshalStrings(p.Tags), p.Department, p.Category,
		p.EffectiveDate, p.ExpirationDate, p.ReviewDate).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("update policy: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policy_versions (id, policy_id, version, title, content, saved_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, util.NewID("pv"), p.ID, version, p.Title, p.Content, savedBy)
	if err != nil {
		return 0, fmt.Errorf("insert policy version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, policyID string) (Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id=$1`, policyID)
	return scanPolicy(row.Scan)
}

// ListPolicies returns an organization's policies limited to the given
// statuses. An empty status list means all statuses.
func (s *PostgresStore) ListPolicies(ctx context.Context, orgID string, statuses []string) ([]Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE org_id=$1`
	args := []any{orgID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, status)
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	items := make([]Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// ListPortalPolicies returns the policies assigned to a portal, limited to the
// given statuses. An empty status list means all statuses. This is the
// visibility filter's data source: the status list is computed from the
// viewer's role before pagination.
func (s *PostgresStore) ListPortalPolicies(ctx context.Context, portalID string, statuses []string) ([]Policy, error) {
	query := `
		SELECT p.id, p.org_id, p.title, p.content, p.status, p.author_id, p.current_version, p.tags,
			p.department, p.category, p.effective_date, p.expiration_date, p.review_date, p.created_at, p.updated_at
		FROM policies p
		JOIN policy_portal_assignments a ON a.policy_id = p.id
		WHERE a.portal_id=$1`
	args := []any{portalID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, status)
		}
		query += ` AND p.status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += `
		ORDER BY p.title`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list portal policies: %w", err)
	}
	defer rows.Close()

	items := make([]Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan portal policy: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SetPolicyStatus(ctx context.Context, policyID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE policies SET status=$2, updated_at=NOW() WHERE id=$1
	`, policyID, status)
	if err != nil {
		return fmt.Errorf("set policy status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeletePolicy(ctx context.Context, policyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id=$1`, policyID)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListPolicyVersions(ctx context.Context, policyID string) ([]PolicyVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy_id, version, title, content, saved_by, created_at
		FROM policy_versions WHERE policy_id=$1 ORDER BY version DESC
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("list policy versions: %w", err)
	}
	defer rows.Close()

	items := make([]PolicyVersion, 0)
	for rows.Next() {
		var v PolicyVersion
		if err := rows.Scan(&v.ID, &v.PolicyID, &v.Version, &v.Title, &v.Content, &v.SavedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan policy version: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// ---- assignments ----

func (s *PostgresStore) AssignPolicy(ctx context.Context, policyID, portalID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_portal_assignments (policy_id, portal_id)
		VALUES ($1, $2)
		ON CONFLICT (policy_id, portal_id) DO NOTHING
	`, policyID, portalID)
	if err != nil {
		return fmt.Errorf("assign policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnassignPolicy(ctx context.Context, policyID, portalID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM policy_portal_assignments WHERE policy_id=$1 AND portal_id=$2
	`, policyID, portalID)
	if err != nil {
		return fmt.Errorf("unassign policy: %w", err)
	}
	return nil
}

// ListAssignedPortals returns the active portals a policy is assigned to.
func (s *PostgresStore) ListAssignedPortals(ctx context.Context, policyID string) ([]Portal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.org_id, p.slug, p.name, p.access_type, p.password_hash, p.allowed_roles,
			p.requires_acknowledgment, p.acknowledgment_mode, p.is_active, p.header_template, p.footer_template,
			p.created_at, p.updated_at
		FROM portals p
		JOIN policy_portal_assignments a ON a.portal_id = p.id
		WHERE a.policy_id=$1 AND p.is_active
		ORDER BY p.name
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("list assigned portals: %w", err)
	}
	defer rows.Close()

	items := make([]Portal, 0)
	for rows.Next() {
		p, err := scanPortal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan assigned portal: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// ---- acknowledgments ----

// InsertAcknowledgment records a user acknowledgment. The row is created once;
// a repeat acknowledgment is a no-op and the original timestamp is preserved.
func (s *PostgresStore) InsertAcknowledgment(ctx context.Context, ack Acknowledgment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_acknowledgments (id, policy_id, user_id, org_id, acknowledged_at, ip_address)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (policy_id, user_id) DO NOTHING
	`, ack.ID, ack.PolicyID, ack.UserID, ack.OrgID, ack.IPAddress)
	if err != nil {
		return fmt.Errorf("insert acknowledgment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAcknowledgment(ctx context.Context, policyID, userID string) (Acknowledgment, error) {
	var ack Acknowledgment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, policy_id, user_id, org_id, acknowledged_at, ip_address
		FROM policy_acknowledgments WHERE policy_id=$1 AND user_id=$2
	`, policyID, userID).Scan(&ack.ID, &ack.PolicyID, &ack.UserID, &ack.OrgID, &ack.AcknowledgedAt, &ack.IPAddress)
	if err != nil {
		return Acknowledgment{}, err
	}
	return ack, nil
}

func (s *PostgresStore) ListPolicyAcknowledgments(ctx context.Context, policyID string) ([]Acknowledgment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy_id, user_id, org_id, acknowledged_at, ip_address
		FROM policy_acknowledgments WHERE policy_id=$1 ORDER BY acknowledged_at DESC
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("list acknowledgments: %w", err)
	}
	defer rows.Close()

	items := make([]Acknowledgment, 0)
	for rows.Next() {
		var ack Acknowledgment
		if err := rows.Scan(&ack.ID, &ack.PolicyID, &ack.UserID, &ack.OrgID, &ack.AcknowledgedAt, &ack.IPAddress); err != nil {
			return nil, fmt.Errorf("scan acknowledgment: %w", err)
		}
		items = append(items, ack)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetEmailAcknowledgment(ctx context.Context, portalID, policyID, email string) (EmailAcknowledgment, error) {
	var ack EmailAcknowledgment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, portal_id, policy_id, email, acknowledged_at, ip_address, user_agent
		FROM email_acknowledgments
		WHERE portal_id=$1 AND policy_id=$2 AND LOWER(email)=LOWER($3)
	`, portalID, policyID, email).Scan(&ack.ID, &ack.PortalID, &ack.PolicyID, &ack.Email,
		&ack.AcknowledgedAt, &ack.IPAddress, &ack.UserAgent)
	if err != nil {
		return EmailAcknowledgment{}, err
	}
	return ack, nil
}

func (s *PostgresStore) ListEmailAcknowledgments(ctx context.Context, portalID string) ([]EmailAcknowledgment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, portal_id, policy_id, email, acknowledged_at, ip_address, user_agent
		FROM email_acknowledgments WHERE portal_id=$1 ORDER BY acknowledged_at DESC
	`, portalID)
	if err != nil {
		return nil, fmt.Errorf("list email acknowledgments: %w", err)
	}
	defer rows.Close()

	items := make([]EmailAcknowledgment, 0)
	for rows.Next() {
		var ack EmailAcknowledgment
		if err := rows.Scan(&ack.ID, &ack.PortalID, &ack.PolicyID, &ack.Email,
			&ack.AcknowledgedAt, &ack.IPAddress, &ack.UserAgent); err != nil {
			return nil, fmt.Errorf("scan email acknowledgment: %w", err)
		}
		items = append(items, ack)
	}
	return items, rows.Err()
}

// ---- confirmation codes ----

func (s *PostgresStore) InsertConfirmationCode(ctx context.Context, code ConfirmationCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO acknowledgment_codes (id, portal_id, policy_id, email, code, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
	`, code.ID, code.PortalID, code.PolicyID, strings.ToLower(code.Email), code.Code, code.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert confirmation code: %w", err)
	}
	return nil
}

// RedeemConfirmationCode consumes an unused, unexpired code matching exactly
// and upserts the email acknowledgment in the same transaction. Returns
// ErrCodeInvalid when no such code exists; the failed attempt leaves no state
// behind.
func (s *PostgresStore) RedeemConfirmationCode(ctx context.Context, portalID, policyID, email, code, ipAddress, userAgent string) (EmailAcknowledgment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EmailAcknowledgment{}, fmt.Errorf("begin redeem: %w", err)
	}
	defer tx.Rollback()

	var codeID string
	err = tx.QueryRowContext(ctx, `
		UPDATE acknowledgment_codes
		SET used=TRUE
		WHERE id = (
			SELECT id FROM acknowledgment_codes
			WHERE portal_id=$1 AND policy_id=$2 AND email=LOWER($3) AND code=$4
				AND used=FALSE AND expires_at > NOW()
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING id
	`, portalID, policyID, email, code).Scan(&codeID)
	if errors.Is(err, sql.ErrNoRows) {
		return EmailAcknowledgment{}, ErrCodeInvalid
	}
	if err != nil {
		return EmailAcknowledgment{}, fmt.Errorf("consume confirmation code: %w", err)
	}

	var ack EmailAcknowledgment
	err = tx.QueryRowContext(ctx, `
		INSERT INTO email_acknowledgments (id, portal_id, policy_id, email, acknowledged_at, ip_address, user_agent)
		VALUES ($1, $2, $3, LOWER($4), NOW(), $5, $6)
		ON CONFLICT (portal_id, policy_id, email)
		DO UPDATE SET acknowledged_at=NOW(), ip_address=EXCLUDED.ip_address, user_agent=EXCLUDED.user_agent
		RETURNING id, portal_id, policy_id, email, acknowledged_at, ip_address, user_agent
	`, util.NewID("eack"), portalID, policyID, email, ipAddress, userAgent).Scan(
		&ack.ID, &ack.PortalID, &ack.PolicyID, &ack.Email, &ack.AcknowledgedAt, &ack.IPAddress, &ack.UserAgent)
	if err != nil {
		return EmailAcknowledgment{}, fmt.Errorf("upsert email acknowledgment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return EmailAcknowledgment{}, err
	}
	return ack, nil
}

// ---- portal recipients ----

func (s *PostgresStore) AddRecipient(ctx context.Context, portalID, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_recipients (portal_id, email)
		VALUES ($1, LOWER($2))
		ON CONFLICT (portal_id, email) DO NOTHING
	`, portalID, email)
	if err != nil {
		return fmt.Errorf("add recipient: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveRecipient(ctx context.Context, portalID, email string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM portal_recipients WHERE portal_id=$1 AND email=LOWER($2)
	`, portalID, email)
	if err != nil {
		return fmt.Errorf("remove recipient: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecipients(ctx context.Context, portalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email FROM portal_recipients WHERE portal_id=$1 ORDER BY email
	`, portalID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// ---- reporting ----

// PortalReportCounts returns the raw inputs for the coverage report: recipient
// count, assigned-policy count, and the number of email acknowledgments from
// roster recipients for assigned policies.
func (s *PostgresStore) PortalReportCounts(ctx context.Context, portalID string) (recipients, policies, actual int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM portal_recipients WHERE portal_id=$1),
			(SELECT COUNT(*) FROM policy_portal_assignments a
				JOIN policies p ON p.id = a.policy_id
				WHERE a.portal_id=$1 AND p.status='published'),
			(SELECT COUNT(*) FROM email_acknowledgments e
				JOIN portal_recipients r ON r.portal_id = e.portal_id AND r.email = LOWER(e.email)
				JOIN policy_portal_assignments a ON a.portal_id = e.portal_id AND a.policy_id = e.policy_id
				WHERE e.portal_id=$1)
	`, portalID).Scan(&recipients, &policies, &actual)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("portal report counts: %w", err)
	}
	return recipients, policies, actual, nil
}

// ---- legacy migration ----

// MigrateLegacyPolicies assigns every published policy without any portal
// assignment to the organization's default portal, creating that portal when
// missing. The whole operation is one transaction.
func (s *PostgresStore) MigrateLegacyPolicies(ctx context.Context, orgID, defaultPortalID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin legacy migration: %w", err)
	}
	defer tx.Rollback()

	var portalID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM portals WHERE org_id=$1 AND slug='all-policies'
	`, orgID).Scan(&portalID)
	if errors.Is(err, sql.ErrNoRows) {
		portalID = defaultPortalID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO portals (id, org_id, slug, name, access_type, allowed_roles,
				requires_acknowledgment, acknowledgment_mode, is_active)
			VALUES ($1, $2, 'all-policies', 'All Policies', 'authenticated', '[]', FALSE, 'user', TRUE)
		`, portalID, orgID)
	}
	if err != nil {
		return 0, fmt.Errorf("ensure default portal: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO policy_portal_assignments (policy_id, portal_id)
		SELECT p.id, $2 FROM policies p
		WHERE p.org_id=$1 AND p.status='published'
			AND NOT EXISTS (SELECT 1 FROM policy_portal_assignments a WHERE a.policy_id = p.id)
		ON CONFLICT (policy_id, portal_id) DO NOTHING
	`, orgID, portalID)
	if err != nil {
		return 0, fmt.Errorf("assign legacy policies: %w", err)
	}
	migrated, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(migrated), nil
}

// ---- security events ----

func (s *PostgresStore) InsertSecurityEvent(ctx context.Context, event SecurityEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_events (org_id, actor_id, event, email, ip_address, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.OrgID, event.ActorID, event.Event, event.Email, event.IPAddress, detail)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSecurityEvents(ctx context.Context, orgID string, limit int) ([]SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, actor_id, event, email, ip_address, detail, created_at
		FROM security_events WHERE org_id=$1 ORDER BY created_at DESC LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	items := make([]SecurityEvent, 0)
	for rows.Next() {
		var event SecurityEvent
		var detail []byte
		if err := rows.Scan(&event.ID, &event.OrgID, &event.ActorID, &event.Event,
			&event.Email, &event.IPAddress, &detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		_ = json.Unmarshal(detail, &event.Detail)
		items = append(items, event)
	}
	return items, rows.Err()
}
