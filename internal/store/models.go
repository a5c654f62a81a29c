package store

import "time"

// Policy lifecycle statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Acknowledgment modes for portals.
const (
	AckModeUser  = "user"
	AckModeEmail = "email"
)

type Organization struct {
	ID        string
	Name      string
	Slug      string
	Settings  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID           string
	OrgID        string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	IsSuperAdmin bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Portal is a named, access-controlled view exposing a subset of an
// organization's policies to a specific audience.
type Portal struct {
	ID                     string
	OrgID                  string
	Slug                   string
	Name                   string
	AccessType             string // public, password, authenticated, role_based
	PasswordHash           *string
	AllowedRoles           []string
	RequiresAcknowledgment bool
	AcknowledgmentMode     string // user or email
	IsActive               bool
	HeaderTemplate         *string
	FooterTemplate         *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type Policy struct {
	ID             string
	OrgID          string
	Title          string
	Content        string
	Status         string // draft, published, archived
	AuthorID       string
	CurrentVersion int
	Tags           []string
	Department     string
	Category       string
	EffectiveDate  *time.Time
	ExpirationDate *time.Time
	ReviewDate     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PolicyVersion is the immutable audit copy written on every save.
type PolicyVersion struct {
	ID        string
	PolicyID  string
	Version   int
	Title     string
	Content   string
	SavedBy   string
	CreatedAt time.Time
}

type PortalAssignment struct {
	PolicyID  string
	PortalID  string
	CreatedAt time.Time
}

// Acknowledgment records that an authenticated user has read a policy.
// One row per (policy, user); created once, never updated.
type Acknowledgment struct {
	ID             string
	PolicyID       string
	UserID         string
	OrgID          string
	AcknowledgedAt time.Time
	IPAddress      string
}

// EmailAcknowledgment records an anonymous, email-verified acknowledgment.
// Unique on (portal, policy, lower(email)); repeats refresh AcknowledgedAt.
type EmailAcknowledgment struct {
	ID             string
	PortalID       string
	PolicyID       string
	Email          string
	AcknowledgedAt time.Time
	IPAddress      string
	UserAgent      string
}

// ConfirmationCode is a short-lived one-time code proving control of an email
// address before an anonymous acknowledgment is recorded.
type ConfirmationCode struct {
	ID        string
	PortalID  string
	PolicyID  string
	Email     string
	Code      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

type PortalRecipient struct {
	PortalID  string
	Email     string
	CreatedAt time.Time
}

// SecurityEvent is an audit row for security-sensitive operations.
type SecurityEvent struct {
	ID        int64
	OrgID     string
	ActorID   string
	Event     string
	Email     string
	IPAddress string
	Detail    map[string]any
	CreatedAt time.Time
}

// PolicyAckState pairs a policy with its resolved acknowledgment state for a
// specific viewer identity.
type PolicyAckState struct {
	Policy         Policy
	RequiresAck    bool
	IsAcknowledged bool
	AcknowledgedAt *time.Time
}

// PortalReport is the expected-vs-actual acknowledgment coverage for a portal.
type PortalReport struct {
	PortalID   string
	Recipients int
	Policies   int
	Expected   int
	Actual     int
	Rate       float64
}
