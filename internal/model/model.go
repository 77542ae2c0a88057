package model

import (
	"context"
	"time"
)

// Role represents a user's access level as reported by the check-in API.
type Role string

const (
	// RoleClient is a person completing check-ins.
	RoleClient Role = "client"
	// RoleClinician reviews the clients assigned to them.
	RoleClinician Role = "clinician"
	// RoleAdmin manages accounts and invite codes.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleClinician, RoleAdmin:
		return true
	}
	return false
}

// Identity is the session context of a signed-in user: the upstream
// credentials plus the role the UI gates on.
type Identity struct {
	ID          string // local session id (cookie value or CLI metadata)
	Token       string // upstream bearer token
	DeviceToken string
	UserID      string
	Role        Role
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the identity is past its expiry at t.
func (i Identity) Expired(t time.Time) bool {
	return !i.ExpiresAt.IsZero() && t.After(i.ExpiresAt)
}

type identityCtxKey struct{}

// ContextWithIdentity stores an identity in the request context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the signed-in identity from context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*Identity)
	return id
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// UserInfo is the public profile of a user.
type UserInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// DisplayName joins first and last name.
func (u UserInfo) DisplayName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// ClientSummary is one row of a client search.
type ClientSummary struct {
	ID        ID     `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role,omitempty"`
}

// StaffMember is a clinician or admin as listed by the API.
type StaffMember struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Question is one item of a questionnaire.
type Question struct {
	ID   ID     `json:"id"`
	Text string `json:"text"`
}

// Answer is a single submitted answer.
type Answer struct {
	QuestionID ID  `json:"question_id" validate:"required"`
	Value      int `json:"response_value" validate:"min=1,max=5"`
}

// Submission is a completed questionnaire sent by a client.
type Submission struct {
	Responses []Answer `json:"responses" validate:"required,min=1,dive"`
}

// Registration is a new account request.
type Registration struct {
	FirstName           string `json:"first_name" validate:"required"`
	LastName            string `json:"last_name" validate:"required"`
	Email               string `json:"email" validate:"required,email"`
	Password            string `json:"password" validate:"required,min=6"`
	Role                Role   `json:"role" validate:"required,oneof=client clinician admin"`
	InviteCode          string `json:"invite_code,omitempty" validate:"required_unless=Role client"`
	AssignedClinicianID string `json:"assigned_clinician_id,omitempty" validate:"required_if=Role client"`
}

// Credentials is a login request.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is what the API returns on a successful login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	UserID      ID     `json:"user_id"`
	DeviceToken string `json:"device_token"`
}

// ClinicianData holds the outcome percentages the API computes per clinician.
type ClinicianData struct {
	TotalClients                         int     `json:"total_clients"`
	PercentImproved                      float64 `json:"percent_improved"`
	PercentClinicallySignificant         float64 `json:"percent_clinically_significant"`
	PercentImprovedLast6Months           float64 `json:"percent_improved_last_6_months"`
	PercentClinicallySignificantLast6Mon float64 `json:"percent_clinically_significant_last_6_months"`
}

// OverallData is the cohort of every client the service has seen, as
// last computed by the API's metrics job.
type OverallData struct {
	ClinicianData
	LastUpdated Timestamp `json:"last_updated"`
}

// ClientConfig holds runtime parameters set via CLI flags and config files.
type ClientConfig struct {
	APIURL               string `validate:"required,url"`
	Lang                 string `validate:"required,oneof=en ru"`
	BasePath             string // URL prefix for sub-path deployments (e.g. "/checkin")
	SecureCookies        bool   // Set Secure flag on cookies (disable for local dev)
	Offset               int    `validate:"min=0"`
	Offsets              map[string]int
	AdminActsAsClinician bool
}
