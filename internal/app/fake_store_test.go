package app

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"policyhub/api/internal/store"
)

// fakeStore is an in-memory dataStore for handler and service tests.
type fakeStore struct {
	mu sync.Mutex

	orgs     map[string]store.Organization
	users    map[string]store.User
	portals  map[string]store.Portal
	policies map[string]store.Policy

	assignments map[string]map[string]bool // policyID -> portalID set
	acks        map[string]store.Acknowledgment
	recipients  map[string][]string
	codes       []store.ConfirmationCode
	events      []store.SecurityEvent

	refresh map[string]string // token hash -> user ID
	revoked map[string]bool   // jti

	listPortalPoliciesFn func(portalID string, statuses []string) []store.Policy
	redeemFn             func(portalID, policyID, email, code string) (store.EmailAcknowledgment, error)
	reportCountsFn       func(portalID string) (int, int, int)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:        map[string]store.Organization{},
		users:       map[string]store.User{},
		portals:     map[string]store.Portal{},
		policies:    map[string]store.Policy{},
		assignments: map[string]map[string]bool{},
		acks:        map[string]store.Acknowledgment{},
		recipients:  map[string][]string{},
		refresh:     map[string]string{},
		revoked:     map[string]bool{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetOrganization(_ context.Context, orgID string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[orgID]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func (f *fakeStore) GetOrganizationBySlug(_ context.Context, slug string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, org := range f.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return store.Organization{}, sql.ErrNoRows
}

func (f *fakeStore) ListOrganizations(context.Context) ([]store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Organization, 0, len(f.orgs))
	for _, org := range f.orgs {
		out = append(out, org)
	}
	return out, nil
}

func (f *fakeStore) UpdateOrganizationSettings(_ context.Context, orgID string, settings map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[orgID]
	if !ok {
		return sql.ErrNoRows
	}
	org.Settings = settings
	f.orgs[orgID] = org
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[strings.ToLower(email)]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetSuperAdminByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[strings.ToLower(email)]
	if !ok || !user.IsSuperAdmin {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	userID, ok := f.refresh[tokenHash]
	f.mu.Unlock()
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.GetUserByID(ctx, userID)
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) InsertPortal(_ context.Context, p store.Portal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.portals {
		if other.OrgID == p.OrgID && other.Slug == p.Slug {
			return store.ErrDuplicateSlug
		}
	}
	p.CreatedAt = time.Now()
	f.portals[p.ID] = p
	return nil
}

func (f *fakeStore) UpdatePortal(_ context.Context, p store.Portal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, other := range f.portals {
		if id != p.ID && other.OrgID == p.OrgID && other.Slug == p.Slug {
			return store.ErrDuplicateSlug
		}
	}
	if _, ok := f.portals[p.ID]; !ok {
		return sql.ErrNoRows
	}
	f.portals[p.ID] = p
	return nil
}

func (f *fakeStore) GetPortal(_ context.Context, portalID string) (store.Portal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	portal, ok := f.portals[portalID]
	if !ok {
		return store.Portal{}, sql.ErrNoRows
	}
	return portal, nil
}

func (f *fakeStore) GetPortalBySlug(_ context.Context, orgSlug, portalSlug string) (store.Portal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, portal := range f.portals {
		org, ok := f.orgs[portal.OrgID]
		if ok && org.Slug == orgSlug && portal.Slug == portalSlug {
			return portal, nil
		}
	}
	return store.Portal{}, sql.ErrNoRows
}

func (f *fakeStore) ListPortals(_ context.Context, orgID string) ([]store.Portal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Portal{}
	for _, portal := range f.portals {
		if portal.OrgID == orgID {
			out = append(out, portal)
		}
	}
	return out, nil
}

func (f *fakeStore) DeletePortal(_ context.Context, portalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.portals[portalID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.portals, portalID)
	return nil
}

func (f *fakeStore) InsertPolicy(_ context.Context, p store.Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.policies[p.ID] = p
	return nil
}

func (f *fakeStore) UpdatePolicy(_ context.Context, p store.Policy, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.policies[p.ID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	p.CurrentVersion = existing.CurrentVersion + 1
	p.UpdatedAt = time.Now()
	f.policies[p.ID] = p
	return p.CurrentVersion, nil
}

func (f *fakeStore) GetPolicy(_ context.Context, policyID string) (store.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	policy, ok := f.policies[policyID]
	if !ok {
		return store.Policy{}, sql.ErrNoRows
	}
	return policy, nil
}

func statusAllowed(status string, statuses []string) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (f *fakeStore) ListPolicies(_ context.Context, orgID string, statuses []string) ([]store.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Policy{}
	for _, policy := range f.policies {
		if policy.OrgID == orgID && statusAllowed(policy.Status, statuses) {
			out = append(out, policy)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPortalPolicies(_ context.Context, portalID string, statuses []string) ([]store.Policy, error) {
	if f.listPortalPoliciesFn != nil {
		return f.listPortalPoliciesFn(portalID, statuses), nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Policy{}
	for policyID, portalSet := range f.assignments {
		if !portalSet[portalID] {
			continue
		}
		policy, ok := f.policies[policyID]
		if ok && statusAllowed(policy.Status, statuses) {
			out = append(out, policy)
		}
	}
	return out, nil
}

func (f *fakeStore) SetPolicyStatus(_ context.Context, policyID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	policy, ok := f.policies[policyID]
	if !ok {
		return sql.ErrNoRows
	}
	policy.Status = status
	f.policies[policyID] = policy
	return nil
}

func (f *fakeStore) DeletePolicy(_ context.Context, policyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.policies, policyID)
	return nil
}

func (f *fakeStore) ListPolicyVersions(_ context.Context, policyID string) ([]store.PolicyVersion, error) {
	return []store.PolicyVersion{}, nil
}

func (f *fakeStore) AssignPolicy(_ context.Context, policyID, portalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignments[policyID] == nil {
		f.assignments[policyID] = map[string]bool{}
	}
	f.assignments[policyID][portalID] = true
	return nil
}

func (f *fakeStore) UnassignPolicy(_ context.Context, policyID, portalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assignments[policyID], portalID)
	return nil
}

func (f *fakeStore) ListAssignedPortals(_ context.Context, policyID string) ([]store.Portal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Portal{}
	for portalID := range f.assignments[policyID] {
		if portal, ok := f.portals[portalID]; ok && portal.IsActive {
			out = append(out, portal)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertAcknowledgment(_ context.Context, a store.Acknowledgment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := a.PolicyID + "|" + a.UserID
	if _, ok := f.acks[key]; ok {
		return nil // conflict target: keep the original row
	}
	a.AcknowledgedAt = time.Now()
	f.acks[key] = a
	return nil
}

func (f *fakeStore) GetAcknowledgment(_ context.Context, policyID, userID string) (store.Acknowledgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.acks[policyID+"|"+userID]
	if !ok {
		return store.Acknowledgment{}, sql.ErrNoRows
	}
	return row, nil
}

func (f *fakeStore) ListPolicyAcknowledgments(_ context.Context, policyID string) ([]store.Acknowledgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Acknowledgment{}
	for _, row := range f.acks {
		if row.PolicyID == policyID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) GetEmailAcknowledgment(_ context.Context, portalID, policyID, email string) (store.EmailAcknowledgment, error) {
	return store.EmailAcknowledgment{}, sql.ErrNoRows
}

func (f *fakeStore) ListEmailAcknowledgments(_ context.Context, portalID string) ([]store.EmailAcknowledgment, error) {
	return []store.EmailAcknowledgment{}, nil
}

func (f *fakeStore) InsertConfirmationCode(_ context.Context, code store.ConfirmationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeStore) RedeemConfirmationCode(_ context.Context, portalID, policyID, email, code, _, _ string) (store.EmailAcknowledgment, error) {
	if f.redeemFn != nil {
		return f.redeemFn(portalID, policyID, email, code)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, stored := range f.codes {
		if stored.PortalID == portalID && stored.PolicyID == policyID &&
			stored.Email == strings.ToLower(email) && stored.Code == code &&
			!stored.Used && stored.ExpiresAt.After(time.Now()) {
			f.codes[i].Used = true
			return store.EmailAcknowledgment{
				ID:             "eack_test",
				PortalID:       portalID,
				PolicyID:       policyID,
				Email:          strings.ToLower(email),
				AcknowledgedAt: time.Now(),
			}, nil
		}
	}
	return store.EmailAcknowledgment{}, store.ErrCodeInvalid
}

func (f *fakeStore) AddRecipient(_ context.Context, portalID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipients[portalID] = append(f.recipients[portalID], email)
	return nil
}

func (f *fakeStore) RemoveRecipient(_ context.Context, portalID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := []string{}
	for _, addr := range f.recipients[portalID] {
		if addr != email {
			kept = append(kept, addr)
		}
	}
	f.recipients[portalID] = kept
	return nil
}

func (f *fakeStore) ListRecipients(_ context.Context, portalID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.recipients[portalID]...), nil
}

func (f *fakeStore) PortalReportCounts(_ context.Context, portalID string) (int, int, int, error) {
	if f.reportCountsFn != nil {
		recipients, policies, actual := f.reportCountsFn(portalID)
		return recipients, policies, actual, nil
	}
	return 0, 0, 0, nil
}

func (f *fakeStore) MigrateLegacyPolicies(_ context.Context, orgID, defaultPortalID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	migrated := 0
	for policyID, policy := range f.policies {
		if policy.OrgID != orgID || policy.Status != store.StatusPublished {
			continue
		}
		if len(f.assignments[policyID]) > 0 {
			continue
		}
		if _, ok := f.portals[defaultPortalID]; !ok {
			f.portals[defaultPortalID] = store.Portal{
				ID:         defaultPortalID,
				OrgID:      orgID,
				Slug:       "all-policies",
				Name:       "All Policies",
				AccessType: "public",
				IsActive:   true,
			}
		}
		if f.assignments[policyID] == nil {
			f.assignments[policyID] = map[string]bool{}
		}
		f.assignments[policyID][defaultPortalID] = true
		migrated++
	}
	return migrated, nil
}

func (f *fakeStore) InsertSecurityEvent(_ context.Context, event store.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.CreatedAt = time.Now()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) ListSecurityEvents(_ context.Context, orgID string, limit int) ([]store.SecurityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.SecurityEvent{}
	for _, event := range f.events {
		if event.OrgID == orgID {
			out = append(out, event)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) eventCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, event := range f.events {
		if event.Event == name {
			count++
		}
	}
	return count
}

// fakeSessions is an in-memory sessionCache.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]store.User
	failures map[string]int
	locked   int
}

func newFakeSessions(lockAfter int) *fakeSessions {
	return &fakeSessions{
		sessions: map[string]store.User{},
		failures: map[string]int{},
		locked:   lockAfter,
	}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeSessions) RecordLoginFailure(_ context.Context, email string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[strings.ToLower(email)]++
	return f.failures[strings.ToLower(email)], nil
}

func (f *fakeSessions) IsLockedOut(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[strings.ToLower(email)] >= f.locked, nil
}

func (f *fakeSessions) ClearLoginFailures(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, strings.ToLower(email))
	return nil
}
