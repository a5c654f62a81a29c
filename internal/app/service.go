package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"policyhub/api/internal/access"
	"policyhub/api/internal/ack"
	"policyhub/api/internal/ai"
	"policyhub/api/internal/audit"
	"policyhub/api/internal/auth"
	"policyhub/api/internal/blob"
	"policyhub/api/internal/config"
	"policyhub/api/internal/email"
	"policyhub/api/internal/export"
	"policyhub/api/internal/rbac"
	"policyhub/api/internal/search"
	"policyhub/api/internal/store"
	"policyhub/api/internal/util"
)

// Session is the authenticated caller as seen by every service operation.
// EffectiveOrgID is the organization the caller acts in; it differs from
// OrgID only while a platform admin impersonates a tenant.
type Session struct {
	Token          string
	RefreshToken   string
	UserID         string
	UserName       string
	Role           string
	OrgID          string
	EffectiveOrgID string
	Impersonating  bool
	JTI            string
	ExpiresAt      time.Time
}

// dataStore is the persistence surface the service depends on.
type dataStore interface {
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (store.Organization, error)
	ListOrganizations(ctx context.Context) ([]store.Organization, error)
	UpdateOrganizationSettings(ctx context.Context, orgID string, settings map[string]string) error

	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetSuperAdminByEmail(ctx context.Context, email string) (store.User, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertPortal(ctx context.Context, p store.Portal) error
	UpdatePortal(ctx context.Context, p store.Portal) error
	GetPortal(ctx context.Context, portalID string) (store.Portal, error)
	GetPortalBySlug(ctx context.Context, orgSlug, portalSlug string) (store.Portal, error)
	ListPortals(ctx context.Context, orgID string) ([]store.Portal, error)
	DeletePortal(ctx context.Context, portalID string) error

	InsertPolicy(ctx context.Context, p store.Policy) error
	UpdatePolicy(ctx context.Context, p store.Policy, savedBy string) (int, error)
	GetPolicy(ctx context.Context, policyID string) (store.Policy, error)
	ListPolicies(ctx context.Context, orgID string, statuses []string) ([]store.Policy, error)
	ListPortalPolicies(ctx context.Context, portalID string, statuses []string) ([]store.Policy, error)
	SetPolicyStatus(ctx context.Context, policyID, status string) error
	DeletePolicy(ctx context.Context, policyID string) error
	ListPolicyVersions(ctx context.Context, policyID string) ([]store.PolicyVersion, error)

	AssignPolicy(ctx context.Context, policyID, portalID string) error
	UnassignPolicy(ctx context.Context, policyID, portalID string) error
	ListAssignedPortals(ctx context.Context, policyID string) ([]store.Portal, error)

	InsertAcknowledgment(ctx context.Context, a store.Acknowledgment) error
	GetAcknowledgment(ctx context.Context, policyID, userID string) (store.Acknowledgment, error)
	ListPolicyAcknowledgments(ctx context.Context, policyID string) ([]store.Acknowledgment, error)
	GetEmailAcknowledgment(ctx context.Context, portalID, policyID, email string) (store.EmailAcknowledgment, error)
	ListEmailAcknowledgments(ctx context.Context, portalID string) ([]store.EmailAcknowledgment, error)

	InsertConfirmationCode(ctx context.Context, code store.ConfirmationCode) error
	RedeemConfirmationCode(ctx context.Context, portalID, policyID, email, code, ipAddress, userAgent string) (store.EmailAcknowledgment, error)

	AddRecipient(ctx context.Context, portalID, email string) error
	RemoveRecipient(ctx context.Context, portalID, email string) error
	ListRecipients(ctx context.Context, portalID string) ([]string, error)
	PortalReportCounts(ctx context.Context, portalID string) (int, int, int, error)

	MigrateLegacyPolicies(ctx context.Context, orgID, defaultPortalID string) (int, error)

	InsertSecurityEvent(ctx context.Context, event store.SecurityEvent) error
	ListSecurityEvents(ctx context.Context, orgID string, limit int) ([]store.SecurityEvent, error)

	Ping(ctx context.Context) error
}

// sessionCache holds refresh sessions and login failure counters in Redis.
// When absent, refresh sessions fall back to the database and the admin
// console runs without lockout.
type sessionCache interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RecordLoginFailure(ctx context.Context, email string) (int, error)
	IsLockedOut(ctx context.Context, email string) (bool, error)
	ClearLoginFailures(ctx context.Context, email string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionCache
	resolver *ack.Resolver
	audit    *audit.Logger
	email    *email.Service
	search   *search.Service
	exporter *export.Service
	blob     *blob.Store
	ai       *ai.Client
}

// Dependencies are the optional collaborators wired in cmd/api. Any of them
// may be nil; the related endpoints degrade or report unavailable.
type Dependencies struct {
	Sessions sessionCache
	Email    *email.Service
	Search   *search.Service
	Exporter *export.Service
	Blob     *blob.Store
	AI       *ai.Client
}

func New(cfg config.Config, st dataStore, deps Dependencies) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: deps.Sessions,
		resolver: ack.NewResolver(st),
		audit:    audit.NewLogger(st),
		email:    deps.Email,
		search:   deps.Search,
		exporter: deps.Exporter,
		blob:     deps.Blob,
		ai:       deps.AI,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- authentication ---

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if emailAddr == "" || password == "" {
		return Session{}, validationError("email and password are required")
	}
	user, err := s.store.GetUserByEmail(ctx, emailAddr)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, unauthorized("Invalid email or password")
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, unauthorized("Invalid email or password")
	}
	return s.issueSession(ctx, user, nil)
}

// AdminSignIn authenticates a platform admin against the dedicated super
// admin lookup and enforces the Redis-backed lockout counter.
func (s *Service) AdminSignIn(ctx context.Context, emailAddr, password, ipAddress string) (Session, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if emailAddr == "" || password == "" {
		return Session{}, validationError("email and password are required")
	}
	if s.sessions != nil {
		locked, err := s.sessions.IsLockedOut(ctx, emailAddr)
		if err != nil {
			log.Printf("lockout check failed: %v", err)
		}
		if locked {
			s.audit.Record(ctx, store.SecurityEvent{
				Event:     audit.EventLoginLockout,
				Email:     emailAddr,
				IPAddress: ipAddress,
			})
			return Session{}, domainError(http.StatusTooManyRequests, "ACCOUNT_LOCKED",
				"Too many failed attempts, try again later", nil)
		}
	}

	user, err := s.store.GetSuperAdminByEmail(ctx, emailAddr)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}
	if errors.Is(err, sql.ErrNoRows) ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		if s.sessions != nil {
			count, ferr := s.sessions.RecordLoginFailure(ctx, emailAddr)
			if ferr != nil {
				log.Printf("record login failure: %v", ferr)
			} else if count >= s.cfg.LockoutThreshold {
				s.audit.Record(ctx, store.SecurityEvent{
					Event:     audit.EventLoginLockout,
					Email:     emailAddr,
					IPAddress: ipAddress,
					Detail:    map[string]any{"failures": count},
				})
			}
		}
		s.audit.Record(ctx, store.SecurityEvent{
			Event:     audit.EventLoginFailure,
			Email:     emailAddr,
			IPAddress: ipAddress,
		})
		return Session{}, unauthorized("Invalid email or password")
	}

	if s.sessions != nil {
		if err := s.sessions.ClearLoginFailures(ctx, emailAddr); err != nil {
			log.Printf("clear login failures: %v", err)
		}
	}
	s.audit.Record(ctx, store.SecurityEvent{
		OrgID:     user.OrgID,
		ActorID:   user.ID,
		Event:     audit.EventLoginSuccess,
		Email:     emailAddr,
		IPAddress: ipAddress,
	})
	return s.issueSession(ctx, user, nil)
}

func (s *Service) issueSession(ctx context.Context, user store.User, imp *auth.Impersonation) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	claims := auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		Org:  user.OrgID,
		Imp:  imp,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	}
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := time.Now().Add(s.cfg.RefreshTTL)
	hash := auth.HashToken(refresh)
	if s.sessions != nil {
		err = s.sessions.SaveRefreshSession(ctx, hash, user, refreshExpires)
	} else {
		err = s.store.SaveRefreshSession(ctx, hash, user.ID, refreshExpires)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:          token,
		RefreshToken:   refresh,
		UserID:         user.ID,
		UserName:       user.DisplayName,
		Role:           user.Role,
		OrgID:          user.OrgID,
		EffectiveOrgID: claims.EffectiveOrg(),
		Impersonating:  imp != nil,
		JTI:            jti,
		ExpiresAt:      expiresAt,
	}, nil
}

// Refresh rotates the refresh token: the old one is revoked before the new
// session is issued. Impersonation does not survive a refresh; the new token
// is a plain session for the original user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, unauthorized("Refresh token required")
	}
	hash := auth.HashToken(refreshToken)

	var user store.User
	var err error
	if s.sessions != nil {
		user, err = s.sessions.LookupRefreshSession(ctx, hash)
	} else {
		user, err = s.store.LookupRefreshSession(ctx, hash)
	}
	if err != nil {
		return Session{}, unauthorized("Invalid refresh token")
	}

	if s.sessions != nil {
		err = s.sessions.RevokeRefreshSession(ctx, hash)
	} else {
		err = s.store.RevokeRefreshSession(ctx, hash)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user, nil)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if errors.Is(err, auth.ErrExpiredToken) {
		return Session{}, unauthorized("Token expired")
	}
	if err != nil {
		return Session{}, unauthorized("Invalid token")
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, unauthorized("Token revoked")
	}
	if _, err := s.store.GetUserByID(ctx, claims.Sub); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, unauthorized("Unknown user")
		}
		return Session{}, err
	}
	return Session{
		Token:          token,
		UserID:         claims.Sub,
		UserName:       claims.Name,
		Role:           claims.Role,
		OrgID:          claims.Org,
		EffectiveOrgID: claims.EffectiveOrg(),
		Impersonating:  claims.Imp != nil,
		JTI:            claims.JTI,
		ExpiresAt:      time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	// Logout without a session still clears the refresh token; only a real
	// bearer carries a jti worth revoking.
	if sess.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			return err
		}
	}
	if refreshToken == "" {
		return nil
	}
	hash := auth.HashToken(refreshToken)
	if s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, hash)
	}
	return s.store.RevokeRefreshSession(ctx, hash)
}

// --- impersonation ---

// Impersonate issues a token that acts inside the target organization while
// keeping the admin's own identity as the subject.
func (s *Service) Impersonate(ctx context.Context, sess Session, orgID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return Session{}, err
	}
	if !user.IsSuperAdmin {
		return Session{}, forbidden("Impersonation requires a platform admin")
	}
	if sess.Impersonating {
		return Session{}, validationError("already impersonating; stop first")
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, notFound("Organization not found")
	}
	if err != nil {
		return Session{}, err
	}

	imp := &auth.Impersonation{EffectiveOrgID: org.ID, OriginalAdminID: user.ID}
	next, err := s.issueSession(ctx, user, imp)
	if err != nil {
		return Session{}, err
	}
	s.audit.Record(ctx, store.SecurityEvent{
		OrgID:   org.ID,
		ActorID: user.ID,
		Event:   audit.EventImpersonationStart,
		Detail:  map[string]any{"organization": org.Slug},
	})
	return next, nil
}

// StopImpersonation revokes the impersonation token and issues a plain
// session for the admin.
func (s *Service) StopImpersonation(ctx context.Context, sess Session) (Session, error) {
	if !sess.Impersonating {
		return Session{}, validationError("not impersonating")
	}
	if err := s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return Session{}, err
	}
	next, err := s.issueSession(ctx, user, nil)
	if err != nil {
		return Session{}, err
	}
	s.audit.Record(ctx, store.SecurityEvent{
		OrgID:   sess.EffectiveOrgID,
		ActorID: sess.UserID,
		Event:   audit.EventImpersonationStop,
	})
	return next, nil
}

// --- authorization helpers ---

func (s *Service) require(sess Session, action rbac.Action) error {
	if !rbac.Can(rbac.Normalize(sess.Role), action) {
		return forbidden("Insufficient permissions")
	}
	return nil
}

func (s *Service) requireOrg(sess Session, orgID string) error {
	if sess.EffectiveOrgID != orgID {
		return notFound("Not found")
	}
	return nil
}

// visibleStatuses implements draft visibility: admins and editors see drafts
// alongside published policies, everyone else only published ones. Archived
// policies never surface in listings for any role.
func visibleStatuses(role string) []string {
	if rbac.SeesDrafts(rbac.Normalize(role)) {
		return []string{store.StatusDraft, store.StatusPublished}
	}
	return []string{store.StatusPublished}
}

// --- organizations ---

func (s *Service) Organization(ctx context.Context, sess Session) (store.Organization, error) {
	org, err := s.store.GetOrganization(ctx, sess.EffectiveOrgID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Organization{}, notFound("Organization not found")
	}
	return org, err
}

func (s *Service) UpdateOrganizationSettings(ctx context.Context, sess Session, settings map[string]string) (store.Organization, error) {
	if err := s.require(sess, rbac.ActionAdmin); err != nil {
		return store.Organization{}, err
	}
	if err := s.store.UpdateOrganizationSettings(ctx, sess.EffectiveOrgID, settings); err != nil {
		return store.Organization{}, err
	}
	return s.store.GetOrganization(ctx, sess.EffectiveOrgID)
}

func (s *Service) ListOrganizations(ctx context.Context, sess Session) ([]store.Organization, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsSuperAdmin {
		return nil, forbidden("Platform admin only")
	}
	return s.store.ListOrganizations(ctx)
}

// --- portals ---

type PortalInput struct {
	Name                   string   `json:"name"`
	Slug                   string   `json:"slug"`
	AccessType             string   `json:"accessType"`
	Password               string   `json:"password"`
	AllowedRoles           []string `json:"allowedRoles"`
	RequiresAcknowledgment bool     `json:"requiresAcknowledgment"`
	AcknowledgmentMode     string   `json:"acknowledgmentMode"`
	IsActive               *bool    `json:"isActive"`
	HeaderTemplate         *string  `json:"headerTemplate"`
	FooterTemplate         *string  `json:"footerTemplate"`
}

func (in PortalInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return validationError("portal name is required")
	}
	if !access.ValidType(in.AccessType) {
		return validationError("unknown access type")
	}
	if in.AccessType == access.TypeRoleBased && len(in.AllowedRoles) == 0 {
		return validationError("role_based portals need at least one allowed role")
	}
	switch in.AcknowledgmentMode {
	case "", store.AckModeUser, store.AckModeEmail:
	default:
		return validationError("unknown acknowledgment mode")
	}
	return nil
}

func (s *Service) CreatePortal(ctx context.Context, sess Session, in PortalInput) (store.Portal, error) {
	if err := s.require(sess, rbac.ActionManagePortals); err != nil {
		return store.Portal{}, err
	}
	if err := in.validate(); err != nil {
		return store.Portal{}, err
	}
	if in.AccessType == access.TypePassword && in.Password == "" {
		return store.Portal{}, validationError("password portals need a password")
	}

	portal := store.Portal{
		ID:                     util.NewID("prt"),
		OrgID:                  sess.EffectiveOrgID,
		Name:                   strings.TrimSpace(in.Name),
		AccessType:             in.AccessType,
		AllowedRoles:           in.AllowedRoles,
		RequiresAcknowledgment: in.RequiresAcknowledgment,
		AcknowledgmentMode:     in.AcknowledgmentMode,
		IsActive:               true,
		HeaderTemplate:         in.HeaderTemplate,
		FooterTemplate:         in.FooterTemplate,
	}
	if portal.AcknowledgmentMode == "" {
		portal.AcknowledgmentMode = store.AckModeEmail
	}
	portal.Slug = in.Slug
	if portal.Slug == "" {
		portal.Slug = util.Slugify(portal.Name)
	}
	if portal.Slug == "" {
		return store.Portal{}, validationError("portal slug is required")
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return store.Portal{}, err
		}
		h := string(hash)
		portal.PasswordHash = &h
	}
	if in.IsActive != nil {
		portal.IsActive = *in.IsActive
	}

	err := s.store.InsertPortal(ctx, portal)
	if errors.Is(err, store.ErrDuplicateSlug) {
		return store.Portal{}, conflict("PORTAL_SLUG_TAKEN", "A portal with this slug already exists")
	}
	if err != nil {
		return store.Portal{}, err
	}
	return s.store.GetPortal(ctx, portal.ID)
}

func (s *Service) UpdatePortal(ctx context.Context, sess Session, portalID string, in PortalInput) (store.Portal, error) {
	if err := s.require(sess, rbac.ActionManagePortals); err != nil {
		return store.Portal{}, err
	}
	portal, err := s.portalInOrg(ctx, sess, portalID)
	if err != nil {
		return store.Portal{}, err
	}
	if err := in.validate(); err != nil {
		return store.Portal{}, err
	}

	portal.Name = strings.TrimSpace(in.Name)
	portal.AccessType = in.AccessType
	portal.AllowedRoles = in.AllowedRoles
	portal.RequiresAcknowledgment = in.RequiresAcknowledgment
	if in.AcknowledgmentMode != "" {
		portal.AcknowledgmentMode = in.AcknowledgmentMode
	}
	if in.Slug != "" {
		portal.Slug = in.Slug
	}
	if in.IsActive != nil {
		portal.IsActive = *in.IsActive
	}
	portal.HeaderTemplate = in.HeaderTemplate
	portal.FooterTemplate = in.FooterTemplate
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return store.Portal{}, err
		}
		h := string(hash)
		portal.PasswordHash = &h
	}
	if portal.AccessType == access.TypePassword && portal.PasswordHash == nil {
		return store.Portal{}, validationError("password portals need a password")
	}

	err = s.store.UpdatePortal(ctx, portal)
	if errors.Is(err, store.ErrDuplicateSlug) {
		return store.Portal{}, conflict("PORTAL_SLUG_TAKEN", "A portal with this slug already exists")
	}
	if err != nil {
		return store.Portal{}, err
	}
	return s.store.GetPortal(ctx, portal.ID)
}

func (s *Service) portalInOrg(ctx context.Context, sess Session, portalID string) (store.Portal, error) {
	portal, err := s.store.GetPortal(ctx, portalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Portal{}, notFound("Portal not found")
	}
	if err != nil {
		return store.Portal{}, err
	}
	if err := s.requireOrg(sess, portal.OrgID); err != nil {
		return store.Portal{}, notFound("Portal not found")
	}
	return portal, nil
}

func (s *Service) GetPortalAdmin(ctx context.Context, sess Session, portalID string) (store.Portal, error) {
	return s.portalInOrg(ctx, sess, portalID)
}

func (s *Service) ListPortalsAdmin(ctx context.Context, sess Session) ([]store.Portal, error) {
	return s.store.ListPortals(ctx, sess.EffectiveOrgID)
}

func (s *Service) DeletePortal(ctx context.Context, sess Session, portalID string) error {
	if err := s.require(sess, rbac.ActionManagePortals); err != nil {
		return err
	}
	if _, err := s.portalInOrg(ctx, sess, portalID); err != nil {
		return err
	}
	err := s.store.DeletePortal(ctx, portalID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Portal not found")
	}
	return err
}

// --- policies ---

type PolicyInput struct {
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags"`
	Department     string     `json:"department"`
	Category       string     `json:"category"`
	EffectiveDate  *time.Time `json:"effectiveDate"`
	ExpirationDate *time.Time `json:"expirationDate"`
	ReviewDate     *time.Time `json:"reviewDate"`
}

func (s *Service) CreatePolicy(ctx context.Context, sess Session, in PolicyInput) (store.Policy, error) {
	if err := s.require(sess, rbac.ActionWrite); err != nil {
		return store.Policy{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.Policy{}, validationError("policy title is required")
	}
	policy := store.Policy{
		ID:             util.NewID("pol"),
		OrgID:          sess.EffectiveOrgID,
		Title:          strings.TrimSpace(in.Title),
		Content:        in.Content,
		Status:         store.StatusDraft,
		AuthorID:       sess.UserID,
		CurrentVersion: 1,
		Tags:           in.Tags,
		Department:     in.Department,
		Category:       in.Category,
		EffectiveDate:  in.EffectiveDate,
		ExpirationDate: in.ExpirationDate,
		ReviewDate:     in.ReviewDate,
	}
	if err := s.store.InsertPolicy(ctx, policy); err != nil {
		return store.Policy{}, err
	}
	created, err := s.store.GetPolicy(ctx, policy.ID)
	if err != nil {
		return store.Policy{}, err
	}
	s.indexPolicy(created)
	return created, nil
}

func (s *Service) UpdatePolicy(ctx context.Context, sess Session, policyID string, in PolicyInput) (store.Policy, error) {
	if err := s.require(sess, rbac.ActionWrite); err != nil {
		return store.Policy{}, err
	}
	policy, err := s.policyInOrg(ctx, sess, policyID)
	if err != nil {
		return store.Policy{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.Policy{}, validationError("policy title is required")
	}

	policy.Title = strings.TrimSpace(in.Title)
	policy.Content = in.Content
	policy.Tags = in.Tags
	policy.Department = in.Department
	policy.Category = in.Category
	policy.EffectiveDate = in.EffectiveDate
	policy.ExpirationDate = in.ExpirationDate
	policy.ReviewDate = in.ReviewDate

	if _, err := s.store.UpdatePolicy(ctx, policy, sess.UserID); err != nil {
		return store.Policy{}, err
	}
	updated, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return store.Policy{}, err
	}
	s.indexPolicy(updated)
	return updated, nil
}

func (s *Service) policyInOrg(ctx context.Context, sess Session, policyID string) (store.Policy, error) {
	policy, err := s.store.GetPolicy(ctx, policyID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Policy{}, notFound("Policy not found")
	}
	if err != nil {
		return store.Policy{}, err
	}
	if err := s.requireOrg(sess, policy.OrgID); err != nil {
		return store.Policy{}, notFound("Policy not found")
	}
	return policy, nil
}

func (s *Service) GetPolicy(ctx context.Context, sess Session, policyID string) (store.Policy, error) {
	policy, err := s.policyInOrg(ctx, sess, policyID)
	if err != nil {
		return store.Policy{}, err
	}
	if policy.Status != store.StatusPublished && !rbac.SeesDrafts(rbac.Normalize(sess.Role)) {
		return store.Policy{}, notFound("Policy not found")
	}
	return policy, nil
}

func (s *Service) ListPolicies(ctx context.Context, sess Session) ([]store.Policy, error) {
	return s.store.ListPolicies(ctx, sess.EffectiveOrgID, visibleStatuses(sess.Role))
}

func (s *Service) SetPolicyStatus(ctx context.Context, sess Session, policyID, status string) (store.Policy, error) {
	if err := s.require(sess, rbac.ActionPublish); err != nil {
		return store.Policy{}, err
	}
	switch status {
	case store.StatusDraft, store.StatusPublished, store.StatusArchived:
	default:
		return store.Policy{}, validationError("unknown policy status")
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return store.Policy{}, err
	}
	if err := s.store.SetPolicyStatus(ctx, policyID, status); err != nil {
		return store.Policy{}, err
	}
	updated, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return store.Policy{}, err
	}
	s.indexPolicy(updated)
	return updated, nil
}

func (s *Service) DeletePolicy(ctx context.Context, sess Session, policyID string) error {
	if err := s.require(sess, rbac.ActionAdmin); err != nil {
		return err
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return err
	}
	if err := s.store.DeletePolicy(ctx, policyID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeletePolicy(policyID)
	}
	return nil
}

func (s *Service) ListPolicyVersions(ctx context.Context, sess Session, policyID string) ([]store.PolicyVersion, error) {
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return nil, err
	}
	return s.store.ListPolicyVersions(ctx, policyID)
}

func (s *Service) indexPolicy(p store.Policy) {
	if s.search == nil {
		return
	}
	s.search.IndexPolicy(search.PolicyRecord{
		ID:         p.ID,
		Title:      p.Title,
		Content:    p.Content,
		OrgID:      p.OrgID,
		Status:     p.Status,
		Department: p.Department,
		Category:   p.Category,
		Tags:       p.Tags,
	})
}

// --- assignments ---

func (s *Service) AssignPolicy(ctx context.Context, sess Session, policyID, portalID string) error {
	if err := s.require(sess, rbac.ActionManagePortals); err != nil {
		return err
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return err
	}
	if _, err := s.portalInOrg(ctx, sess, portalID); err != nil {
		return err
	}
	return s.store.AssignPolicy(ctx, policyID, portalID)
}

func (s *Service) UnassignPolicy(ctx context.Context, sess Session, policyID, portalID string) error {
	if err := s.require(sess, rbac.ActionManagePortals); err != nil {
		return err
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return err
	}
	return s.store.UnassignPolicy(ctx, policyID, portalID)
}

func (s *Service) ListAssignedPortals(ctx context.Context, sess Session, policyID string) ([]store.Portal, error) {
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return nil, err
	}
	return s.store.ListAssignedPortals(ctx, policyID)
}

// --- acknowledgments (authenticated users) ---

// AcknowledgePolicy records a signed-in user's acknowledgment. Repeats are a
// no-op: the original row and its timestamp are preserved.
func (s *Service) AcknowledgePolicy(ctx context.Context, sess Session, policyID, ipAddress string) (store.Acknowledgment, error) {
	if err := s.require(sess, rbac.ActionAcknowledge); err != nil {
		return store.Acknowledgment{}, err
	}
	policy, err := s.policyInOrg(ctx, sess, policyID)
	if err != nil {
		return store.Acknowledgment{}, err
	}
	if policy.Status != store.StatusPublished {
		return store.Acknowledgment{}, validationError("only published policies can be acknowledged")
	}
	row := store.Acknowledgment{
		ID:        util.NewID("ack"),
		PolicyID:  policyID,
		UserID:    sess.UserID,
		OrgID:     policy.OrgID,
		IPAddress: ipAddress,
	}
	if err := s.store.InsertAcknowledgment(ctx, row); err != nil {
		return store.Acknowledgment{}, err
	}
	return s.store.GetAcknowledgment(ctx, policyID, sess.UserID)
}

func (s *Service) ListPolicyAcknowledgments(ctx context.Context, sess Session, policyID string) ([]store.Acknowledgment, error) {
	if err := s.require(sess, rbac.ActionViewReports); err != nil {
		return nil, err
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return nil, err
	}
	return s.store.ListPolicyAcknowledgments(ctx, policyID)
}

// --- recipients and reports ---

func (s *Service) AddRecipients(ctx context.Context, sess Session, portalID string, emails []string) error {
	if err := s.require(sess, rbac.ActionManagePortals); err != nil {
		return err
	}
	if _, err := s.portalInOrg(ctx, sess, portalID); err != nil {
		return err
	}
	for _, addr := range emails {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if !strings.Contains(addr, "@") {
			return validationError("invalid email address: " + addr)
		}
		if err := s.store.AddRecipient(ctx, portalID, addr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) RemoveRecipient(ctx context.Context, sess Session, portalID, emailAddr string) error {
	if err := s.require(sess, rbac.ActionManagePortals); err != nil {
		return err
	}
	if _, err := s.portalInOrg(ctx, sess, portalID); err != nil {
		return err
	}
	return s.store.RemoveRecipient(ctx, portalID, strings.ToLower(strings.TrimSpace(emailAddr)))
}

func (s *Service) ListRecipients(ctx context.Context, sess Session, portalID string) ([]string, error) {
	if err := s.require(sess, rbac.ActionViewReports); err != nil {
		return nil, err
	}
	if _, err := s.portalInOrg(ctx, sess, portalID); err != nil {
		return nil, err
	}
	return s.store.ListRecipients(ctx, portalID)
}

func (s *Service) PortalReport(ctx context.Context, sess Session, portalID string) (store.PortalReport, error) {
	if err := s.require(sess, rbac.ActionViewReports); err != nil {
		return store.PortalReport{}, err
	}
	if _, err := s.portalInOrg(ctx, sess, portalID); err != nil {
		return store.PortalReport{}, err
	}
	recipients, policies, actual, err := s.store.PortalReportCounts(ctx, portalID)
	if err != nil {
		return store.PortalReport{}, err
	}
	return ack.BuildReport(portalID, recipients, policies, actual), nil
}

func (s *Service) PortalEmailAcknowledgments(ctx context.Context, sess Session, portalID string) ([]store.EmailAcknowledgment, error) {
	if err := s.require(sess, rbac.ActionViewReports); err != nil {
		return nil, err
	}
	if _, err := s.portalInOrg(ctx, sess, portalID); err != nil {
		return nil, err
	}
	return s.store.ListEmailAcknowledgments(ctx, portalID)
}

// SendReminders emails every roster recipient who still has unacknowledged
// policies in the portal. Returns the number of reminders sent.
func (s *Service) SendReminders(ctx context.Context, sess Session, portalID string) (int, error) {
	if err := s.require(sess, rbac.ActionManagePortals); err != nil {
		return 0, err
	}
	portal, err := s.portalInOrg(ctx, sess, portalID)
	if err != nil {
		return 0, err
	}
	if s.email == nil || !s.email.IsConfigured() {
		return 0, domainError(http.StatusServiceUnavailable, "EMAIL_DISABLED", "Email delivery is not configured", nil)
	}

	recipients, err := s.store.ListRecipients(ctx, portalID)
	if err != nil {
		return 0, err
	}
	policies, err := s.store.ListPortalPolicies(ctx, portalID, []string{store.StatusPublished})
	if err != nil {
		return 0, err
	}
	acks, err := s.store.ListEmailAcknowledgments(ctx, portalID)
	if err != nil {
		return 0, err
	}
	acked := make(map[string]int)
	for _, a := range acks {
		acked[strings.ToLower(a.Email)]++
	}

	org, err := s.store.GetOrganization(ctx, portal.OrgID)
	if err != nil {
		return 0, err
	}
	portalURL := s.cfg.PublicBaseURL + "/portal/" + org.Slug + "/" + portal.Slug

	sent := 0
	for _, addr := range recipients {
		outstanding := len(policies) - acked[strings.ToLower(addr)]
		if outstanding <= 0 {
			continue
		}
		if err := s.email.SendAcknowledgmentReminder(addr, portal.Name, portalURL, outstanding); err != nil {
			log.Printf("reminder to %s failed: %v", addr, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// --- public portal surface ---

// Visitor is what the public endpoints know about the caller: an optional
// portal password and an optional bearer session.
type Visitor struct {
	Password string
	Session  *Session
}

func (v Visitor) accessVisitor() access.Visitor {
	av := access.Visitor{Password: v.Password}
	if v.Session != nil {
		av.Session = &access.Session{
			UserID: v.Session.UserID,
			OrgID:  v.Session.EffectiveOrgID,
			Role:   v.Session.Role,
		}
	}
	return av
}

func (s *Service) resolvePortal(ctx context.Context, orgSlug, portalSlug string) (store.Portal, error) {
	portal, err := s.store.GetPortalBySlug(ctx, orgSlug, portalSlug)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Portal{}, notFound("Portal not found")
	}
	if err != nil {
		return store.Portal{}, err
	}
	if !portal.IsActive {
		return store.Portal{}, notFound("Portal not found")
	}
	return portal, nil
}

// PortalMeta exposes the gate-rendering subset of a portal without running
// its access rule.
func (s *Service) PortalMeta(ctx context.Context, orgSlug, portalSlug string) (store.Portal, error) {
	return s.resolvePortal(ctx, orgSlug, portalSlug)
}

// CheckPortalAccess resolves the portal and applies its access rule to the
// visitor. Inactive and unknown portals are indistinguishable to callers.
func (s *Service) CheckPortalAccess(ctx context.Context, orgSlug, portalSlug string, visitor Visitor) (store.Portal, error) {
	portal, err := s.resolvePortal(ctx, orgSlug, portalSlug)
	if err != nil {
		return store.Portal{}, err
	}
	decision := access.Evaluate(portal, visitor.accessVisitor())
	if decision.Allowed {
		return portal, nil
	}
	switch decision.Reason {
	case "Access denied":
		return store.Portal{}, forbidden(decision.Reason)
	default:
		return store.Portal{}, unauthorized(decision.Reason)
	}
}

func (v Visitor) identity() ack.Identity {
	if v.Session != nil {
		return ack.UserIdentity(v.Session.UserID)
	}
	return ack.Identity{}
}

// PortalPolicies returns the portal's visible policies with the viewer's
// acknowledgment state resolved. The email identity, when present, is used
// for anonymous viewers who already confirmed an address in this portal.
func (s *Service) PortalPolicies(ctx context.Context, orgSlug, portalSlug string, visitor Visitor, emailAddr string) (store.Portal, []store.PolicyAckState, error) {
	portal, err := s.CheckPortalAccess(ctx, orgSlug, portalSlug, visitor)
	if err != nil {
		return store.Portal{}, nil, err
	}

	role := ""
	if visitor.Session != nil && visitor.Session.EffectiveOrgID == portal.OrgID {
		role = visitor.Session.Role
	}
	policies, err := s.store.ListPortalPolicies(ctx, portal.ID, visibleStatuses(role))
	if err != nil {
		return store.Portal{}, nil, err
	}

	identity := visitor.identity()
	if identity.IsAnonymous() && emailAddr != "" {
		identity = ack.EmailIdentity(emailAddr)
	}
	states, err := s.resolver.Resolve(ctx, portal, policies, identity)
	if err != nil {
		return store.Portal{}, nil, err
	}
	return portal, states, nil
}

// RequestCode starts the two-step email acknowledgment: a 6-digit one-time
// code is stored and mailed to the address. When SMTP is not configured the
// code is returned to the caller so local setups stay usable.
func (s *Service) RequestCode(ctx context.Context, orgSlug, portalSlug string, visitor Visitor, policyID, emailAddr, ipAddress string) (string, error) {
	portal, err := s.CheckPortalAccess(ctx, orgSlug, portalSlug, visitor)
	if err != nil {
		return "", err
	}
	if !portal.RequiresAcknowledgment || portal.AcknowledgmentMode != store.AckModeEmail {
		return "", validationError("portal does not collect email acknowledgments")
	}
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if !strings.Contains(emailAddr, "@") {
		return "", validationError("a valid email address is required")
	}

	policy, err := s.portalPolicy(ctx, portal, policyID)
	if err != nil {
		return "", err
	}

	code := ack.NewCode()
	err = s.store.InsertConfirmationCode(ctx, store.ConfirmationCode{
		ID:        util.NewID("code"),
		PortalID:  portal.ID,
		PolicyID:  policy.ID,
		Email:     emailAddr,
		Code:      code,
		ExpiresAt: time.Now().Add(s.cfg.CodeTTL),
	})
	if err != nil {
		return "", err
	}
	s.audit.Record(ctx, store.SecurityEvent{
		OrgID:     portal.OrgID,
		Event:     audit.EventCodeRequested,
		Email:     emailAddr,
		IPAddress: ipAddress,
		Detail:    map[string]any{"portal": portal.Slug, "policy": policy.ID},
	})

	if s.email != nil && s.email.IsConfigured() {
		minutes := int(s.cfg.CodeTTL.Minutes())
		if err := s.email.SendConfirmationCode(emailAddr, policy.Title, portal.Name, code, minutes); err != nil {
			return "", domainError(http.StatusBadGateway, "EMAIL_SEND_FAILED", "Could not send the confirmation code", nil)
		}
		return "", nil
	}
	return code, nil
}

// portalPolicy loads a policy and verifies it is published and assigned to
// the portal.
func (s *Service) portalPolicy(ctx context.Context, portal store.Portal, policyID string) (store.Policy, error) {
	policy, err := s.store.GetPolicy(ctx, policyID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Policy{}, notFound("Policy not found")
	}
	if err != nil {
		return store.Policy{}, err
	}
	if policy.OrgID != portal.OrgID || policy.Status != store.StatusPublished {
		return store.Policy{}, notFound("Policy not found")
	}
	portals, err := s.store.ListAssignedPortals(ctx, policy.ID)
	if err != nil {
		return store.Policy{}, err
	}
	for _, p := range portals {
		if p.ID == portal.ID {
			return policy, nil
		}
	}
	return store.Policy{}, notFound("Policy not found")
}

// ConfirmCode redeems a confirmation code and records the acknowledgment in
// the same transaction. A wrong or reused code changes nothing.
func (s *Service) ConfirmCode(ctx context.Context, orgSlug, portalSlug string, visitor Visitor, policyID, emailAddr, code, ipAddress, userAgent string) (store.EmailAcknowledgment, error) {
	portal, err := s.CheckPortalAccess(ctx, orgSlug, portalSlug, visitor)
	if err != nil {
		return store.EmailAcknowledgment{}, err
	}
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if emailAddr == "" || code == "" {
		return store.EmailAcknowledgment{}, validationError("email and code are required")
	}

	row, err := s.store.RedeemConfirmationCode(ctx, portal.ID, policyID, emailAddr, code, ipAddress, userAgent)
	if errors.Is(err, store.ErrCodeInvalid) {
		s.audit.Record(ctx, store.SecurityEvent{
			OrgID:     portal.OrgID,
			Event:     audit.EventCodeRejected,
			Email:     emailAddr,
			IPAddress: ipAddress,
			Detail:    map[string]any{"portal": portal.Slug, "policy": policyID},
		})
		return store.EmailAcknowledgment{}, domainError(http.StatusBadRequest, "CODE_INVALID",
			"Invalid or expired confirmation code", nil)
	}
	if err != nil {
		return store.EmailAcknowledgment{}, err
	}
	s.audit.Record(ctx, store.SecurityEvent{
		OrgID:     portal.OrgID,
		Event:     audit.EventCodeConfirmed,
		Email:     emailAddr,
		IPAddress: ipAddress,
		Detail:    map[string]any{"portal": portal.Slug, "policy": policyID},
	})
	return row, nil
}

// AcknowledgeInPortal records a user-mode acknowledgment through the public
// portal surface.
func (s *Service) AcknowledgeInPortal(ctx context.Context, orgSlug, portalSlug string, visitor Visitor, policyID, ipAddress string) (store.Acknowledgment, error) {
	portal, err := s.CheckPortalAccess(ctx, orgSlug, portalSlug, visitor)
	if err != nil {
		return store.Acknowledgment{}, err
	}
	if !portal.RequiresAcknowledgment || portal.AcknowledgmentMode != store.AckModeUser {
		return store.Acknowledgment{}, validationError("portal does not collect user acknowledgments")
	}
	if visitor.Session == nil || visitor.Session.EffectiveOrgID != portal.OrgID {
		return store.Acknowledgment{}, unauthorized("Authentication required")
	}
	policy, err := s.portalPolicy(ctx, portal, policyID)
	if err != nil {
		return store.Acknowledgment{}, err
	}
	row := store.Acknowledgment{
		ID:        util.NewID("ack"),
		PolicyID:  policy.ID,
		UserID:    visitor.Session.UserID,
		OrgID:     portal.OrgID,
		IPAddress: ipAddress,
	}
	if err := s.store.InsertAcknowledgment(ctx, row); err != nil {
		return store.Acknowledgment{}, err
	}
	return s.store.GetAcknowledgment(ctx, policy.ID, visitor.Session.UserID)
}

// --- search ---

func (s *Service) SearchPolicies(ctx context.Context, sess Session, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:     text,
		OrgID:    sess.EffectiveOrgID,
		Statuses: visibleStatuses(sess.Role),
		Limit:    limit,
		Offset:   offset,
	}), nil
}

// --- export ---

func (s *Service) ExportPolicy(ctx context.Context, sess Session, policyID, portalID string, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_DISABLED", "Export is not configured", nil)
	}
	if _, err := s.GetPolicy(ctx, sess, policyID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{PolicyID: policyID, PortalID: portalID, Format: format})
}

// --- attachments ---

func (s *Service) requireBlob() error {
	if s.blob == nil {
		return domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED", "Attachment storage is not configured", nil)
	}
	return nil
}

func (s *Service) UploadAttachment(ctx context.Context, sess Session, policyID, filename, contentType string, r *http.Request) (string, error) {
	if err := s.require(sess, rbac.ActionWrite); err != nil {
		return "", err
	}
	if err := s.requireBlob(); err != nil {
		return "", err
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return "", err
	}
	if filename == "" {
		return "", validationError("filename is required")
	}
	return s.blob.PutAttachment(ctx, policyID, filename, contentType, r.Body, r.ContentLength)
}

func (s *Service) ListAttachments(ctx context.Context, sess Session, policyID string) ([]string, error) {
	if err := s.requireBlob(); err != nil {
		return nil, err
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return nil, err
	}
	return s.blob.ListAttachments(ctx, policyID)
}

func (s *Service) AttachmentURL(ctx context.Context, sess Session, policyID, key string) (string, error) {
	if err := s.requireBlob(); err != nil {
		return "", err
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return "", err
	}
	if !strings.HasPrefix(key, "policies/"+policyID+"/") {
		return "", notFound("Attachment not found")
	}
	return s.blob.PresignedURL(ctx, key, 15*time.Minute)
}

func (s *Service) DeleteAttachment(ctx context.Context, sess Session, policyID, key string) error {
	if err := s.require(sess, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.requireBlob(); err != nil {
		return err
	}
	if _, err := s.policyInOrg(ctx, sess, policyID); err != nil {
		return err
	}
	if !strings.HasPrefix(key, "policies/"+policyID+"/") {
		return notFound("Attachment not found")
	}
	return s.blob.DeleteAttachment(ctx, key)
}

// --- AI rewrite ---

func (s *Service) RewritePolicy(ctx context.Context, w http.ResponseWriter, sess Session, policyID, instruction string) error {
	if err := s.require(sess, rbac.ActionWrite); err != nil {
		return err
	}
	if !s.ai.Enabled() {
		return domainError(http.StatusServiceUnavailable, "AI_DISABLED", "AI rewrite is not configured", nil)
	}
	if strings.TrimSpace(instruction) == "" {
		return validationError("instruction is required")
	}
	policy, err := s.policyInOrg(ctx, sess, policyID)
	if err != nil {
		return err
	}
	return s.ai.StreamRewrite(ctx, w, instruction, policy.Content)
}

// --- legacy migration ---

// MigrateLegacy moves pre-portal published policies into an auto-created
// "All Policies" portal so they stay reachable after the portal model is
// enforced.
func (s *Service) MigrateLegacy(ctx context.Context, sess Session) (int, error) {
	if err := s.require(sess, rbac.ActionAdmin); err != nil {
		return 0, err
	}
	migrated, err := s.store.MigrateLegacyPolicies(ctx, sess.EffectiveOrgID, util.NewID("prt"))
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, store.SecurityEvent{
		OrgID:   sess.EffectiveOrgID,
		ActorID: sess.UserID,
		Event:   audit.EventLegacyMigration,
		Detail:  map[string]any{"migrated": migrated},
	})
	return migrated, nil
}

// --- security events ---

func (s *Service) SecurityEvents(ctx context.Context, sess Session, limit int) ([]store.SecurityEvent, error) {
	if err := s.require(sess, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListSecurityEvents(ctx, sess.EffectiveOrgID, limit)
}
