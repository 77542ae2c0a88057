package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pavelanni/checkin/internal/model"
)

// Login exchanges credentials for an access token bound to a new device.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	var out model.LoginResult
	if err := c.do(ctx, http.MethodPost, "/login", nil, creds, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("login: empty access token")
	}
	if !out.Role.Valid() {
		return nil, fmt.Errorf("login: unknown role %q", out.Role)
	}
	return &out, nil
}

// Register creates an account and returns the role it was given.
func (c *Client) Register(ctx context.Context, reg model.Registration) (model.Role, error) {
	var out struct {
		Role model.Role `json:"role"`
	}
	if err := c.do(ctx, http.MethodPost, "/register", nil, reg, &out); err != nil {
		return "", err
	}
	return out.Role, nil
}

// LogoutDevice revokes the device session of the identity in ctx.
func (c *Client) LogoutDevice(ctx context.Context) error {
	body := map[string]string{}
	if id := model.IdentityFromContext(ctx); id != nil {
		body["device_token"] = id.DeviceToken
	}
	return c.do(ctx, http.MethodPost, "/logout-device", nil, body, nil)
}

// LogoutAll revokes every device session of userID.
func (c *Client) LogoutAll(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/logout-all", nil, map[string]string{"user_id": userID}, nil)
}

// UserInfo fetches a user's public profile.
func (c *Client) UserInfo(ctx context.Context, userID string) (*model.UserInfo, error) {
	var out model.UserInfo
	if err := c.do(ctx, http.MethodGet, "/user-info", url.Values{"user_id": {userID}}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchClients finds clients whose first or last name contains query.
// The API limits clinicians to their own caseload.
func (c *Client) SearchClients(ctx context.Context, query string) ([]model.ClientSummary, error) {
	var out struct {
		Clients []model.ClientSummary `json:"clients"`
	}
	if err := c.do(ctx, http.MethodGet, "/search-clients", url.Values{"query": {query}}, nil, &out); err != nil {
		return nil, err
	}
	return out.Clients, nil
}

// Clinicians lists every clinician.
func (c *Client) Clinicians(ctx context.Context) ([]model.StaffMember, error) {
	var out struct {
		Clinicians []model.StaffMember `json:"clinicians"`
	}
	if err := c.do(ctx, http.MethodGet, "/get-clinicians", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Clinicians, nil
}

// Admins lists every admin.
func (c *Client) Admins(ctx context.Context) ([]model.StaffMember, error) {
	var out struct {
		Admins []model.StaffMember `json:"admins"`
	}
	if err := c.do(ctx, http.MethodGet, "/get-admins", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Admins, nil
}

// GenerateInvite issues an invite code for a clinician or admin account.
func (c *Client) GenerateInvite(ctx context.Context, role model.Role) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	if err := c.do(ctx, http.MethodPost, "/generate-invite", nil, map[string]string{"role": string(role)}, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

// ValidateInvite checks an invite code and returns the role it grants.
func (c *Client) ValidateInvite(ctx context.Context, code string) (model.Role, error) {
	var out struct {
		Role model.Role `json:"role"`
	}
	if err := c.do(ctx, http.MethodPost, "/validate-invite", nil, map[string]string{"invite_code": code}, &out); err != nil {
		return "", err
	}
	return out.Role, nil
}

// RemoveUser deletes a clinician or admin account.
func (c *Client) RemoveUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/remove-user", nil, map[string]string{"user_id": userID}, nil)
}

// OverallData fetches the outcome percentages across all clients.
func (c *Client) OverallData(ctx context.Context) (*model.OverallData, error) {
	var out model.OverallData
	if err := c.do(ctx, http.MethodGet, "/overall-data", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClinicianData fetches the outcome percentages of a clinician's caseload.
func (c *Client) ClinicianData(ctx context.Context, clinicianID string) (*model.ClinicianData, error) {
	var out model.ClinicianData
	q := url.Values{"clinician_id": {clinicianID}}
	if err := c.do(ctx, http.MethodGet, "/clinician-data", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
