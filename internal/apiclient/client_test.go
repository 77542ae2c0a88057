package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/checkin/internal/apiclient/apitest"
	"github.com/pavelanni/checkin/internal/model"
)

type fixture struct {
	api       *apitest.Server
	client    *Client
	clinician string
	client1   string
	client2   string
	admin     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := apitest.New()
	t.Cleanup(api.Close)

	f := &fixture{api: api, client: New(api.URL)}
	f.clinician = api.AddUser(apitest.User{FirstName: "Cleo", LastName: "Clark", Email: "cleo@example.com", Role: model.RoleClinician}, "secret1")
	f.admin = api.AddUser(apitest.User{FirstName: "Ada", LastName: "Admin", Email: "ada@example.com", Role: model.RoleAdmin}, "secret1")
	f.client1 = api.AddUser(apitest.User{FirstName: "Ben", LastName: "Baker", Email: "ben@example.com", Role: model.RoleClient, AssignedClinicianID: f.clinician}, "secret1")
	f.client2 = api.AddUser(apitest.User{FirstName: "Dana", LastName: "Doe", Email: "dana@example.com", Role: model.RoleClient}, "secret1")
	return f
}

func (f *fixture) login(t *testing.T, email string) context.Context {
	t.Helper()
	res, err := f.client.Login(context.Background(), model.Credentials{Email: email, Password: "secret1"})
	require.NoError(t, err)
	return model.ContextWithIdentity(context.Background(), &model.Identity{
		Token:       res.AccessToken,
		DeviceToken: res.DeviceToken,
		UserID:      res.UserID.String(),
		Role:        res.Role,
	})
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	res, err := f.client.Login(context.Background(), model.Credentials{Email: "BEN@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleClient, res.Role)
	assert.Equal(t, f.client1, res.UserID.String())
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.DeviceToken)

	_, err = f.client.Login(context.Background(), model.Credentials{Email: "ben@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid credentials", apiErr.Message)
}

func TestAuthHeaders(t *testing.T) {
	f := newFixture(t)
	ctx := f.login(t, "ben@example.com")

	_, err := f.client.PastResponses(ctx, "")
	require.NoError(t, err)

	h := f.api.LastHeaders("/past-responses")
	id := model.IdentityFromContext(ctx)
	assert.Equal(t, "Bearer "+id.Token, h.Get("Authorization"))
	assert.Equal(t, id.DeviceToken, h.Get("Device-Token"))
}

func TestPastResponsesFlat(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.api.AddSession(f.client1, "s1", t0, map[string]int{"1": 2, "2": 3})
	f.api.AddSession(f.client1, "s2", t0.Add(24*time.Hour), map[string]int{"1": 1})

	ctx := f.login(t, "ben@example.com")
	records, err := f.client.PastResponses(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, model.ID("s1"), records[0].SessionID)
	assert.Equal(t, model.ID("1"), records[0].QuestionID)
	assert.Equal(t, model.Value("2"), records[0].Value)
	assert.True(t, records[0].Timestamp.Equal(t0))
}

func TestPastResponsesNested(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.api.AddSession(f.client1, "s1", t0, map[string]int{"1": 2, "2": 3})
	f.api.ServeNested(true)

	ctx := f.login(t, "ben@example.com")
	records, err := f.client.PastResponses(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, model.ID("s1"), r.SessionID)
		assert.True(t, r.Timestamp.Equal(t0))
	}
}

func TestPastResponsesNoneIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := f.login(t, "ben@example.com")

	records, err := f.client.PastResponses(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPastResponsesCaseload(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.api.AddSession(f.client1, "s1", t0, map[string]int{"1": 2})
	f.api.AddSession(f.client2, "s2", t0, map[string]int{"1": 2})

	ctx := f.login(t, "cleo@example.com")
	records, err := f.client.PastResponses(ctx, f.client1)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = f.client.PastResponses(ctx, f.client2)
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestPastResponsesUnauthenticated(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.PastResponses(context.Background(), f.client1)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestSessionDetails(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	f.api.AddSession(f.client1, "abc", t0, map[string]int{"1": 4, "2": 5})

	ctx := f.login(t, "ben@example.com")
	records, err := f.client.SessionDetails(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.ID("abc"), records[0].SessionID)

	_, err = f.client.SessionDetails(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestQuestionsAndSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := f.login(t, "ben@example.com")

	qs, err := f.client.Questions(ctx, "")
	require.NoError(t, err)
	require.Len(t, qs, 10)
	assert.Equal(t, model.ID("1"), qs[0].ID)

	sid, err := f.client.SubmitResponses(ctx, model.Submission{Responses: []model.Answer{
		{QuestionID: "1", Value: 3},
		{QuestionID: "2", Value: 4},
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, sid)

	records, err := f.client.PastResponses(ctx, "")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, model.ID(sid), records[0].SessionID)
}

type mapCache map[string][]model.Question

func (c mapCache) SaveQuestions(id string, qs []model.Question) error {
	c[id] = qs
	return nil
}

func (c mapCache) CachedQuestions(id string) ([]model.Question, error) {
	return c[id], nil
}

func TestQuestionsWithCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := mapCache{}

	f.api.Fail("/questions", http.StatusServiceUnavailable)
	_, err := f.client.QuestionsWithCache(ctx, cache, "core-10")
	require.Error(t, err, "no cache yet")

	f.api.Fail("/questions", 0)
	qs, err := f.client.QuestionsWithCache(ctx, cache, "core-10")
	require.NoError(t, err)
	require.Len(t, cache["core-10"], 10)

	f.api.Fail("/questions", http.StatusServiceUnavailable)
	cached, err := f.client.QuestionsWithCache(ctx, cache, "core-10")
	require.NoError(t, err)
	assert.Equal(t, qs, cached)
}

func TestAdminCalls(t *testing.T) {
	f := newFixture(t)
	ctx := f.login(t, "ada@example.com")

	clinicians, err := f.client.Clinicians(ctx)
	require.NoError(t, err)
	assert.Len(t, clinicians, 2)

	admins, err := f.client.Admins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "Ada Admin", admins[0].Name)

	code, err := f.client.GenerateInvite(ctx, model.RoleClinician)
	require.NoError(t, err)
	role, err := f.client.ValidateInvite(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, model.RoleClinician, role)

	_, err = f.client.ValidateInvite(ctx, "bogus")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	data, err := f.client.ClinicianData(ctx, f.clinician)
	require.NoError(t, err)
	assert.Equal(t, 1, data.TotalClients)

	now := time.Now().UTC()
	f.api.AddSession(f.client1, "s1", now.AddDate(0, 0, -30), map[string]int{"1": 5, "2": 5, "3": 5, "4": 5, "5": 5, "6": 5})
	f.api.AddSession(f.client1, "s2", now.AddDate(0, 0, -1), map[string]int{"1": 1, "2": 1})
	overall, err := f.client.OverallData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, overall.TotalClients)
	assert.InDelta(t, 50.0, overall.PercentImproved, 0.001)
	assert.InDelta(t, 50.0, overall.PercentClinicallySignificant, 0.001)
	assert.InDelta(t, 50.0, overall.PercentImprovedLast6Months, 0.001)
	assert.InDelta(t, 50.0, overall.PercentClinicallySignificantLast6Mon, 0.001)
	assert.True(t, overall.LastUpdated.Valid())

	clientCtx := f.login(t, "ben@example.com")
	_, err = f.client.OverallData(clientCtx)
	assert.True(t, errors.Is(err, ErrForbidden))

	clients, err := f.client.SearchClients(ctx, "ba")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Ben", clients[0].FirstName)

	require.NoError(t, f.client.RemoveUser(ctx, f.clinician))
	assert.False(t, f.api.HasUser(f.clinician))
}

func TestRegisterWithInvite(t *testing.T) {
	f := newFixture(t)
	ctx := f.login(t, "ada@example.com")
	code, err := f.client.GenerateInvite(ctx, model.RoleAdmin)
	require.NoError(t, err)

	role, err := f.client.Register(context.Background(), model.Registration{
		FirstName: "Eve", LastName: "Evans", Email: "eve@example.com", Password: "pass1!",
		Role: model.RoleAdmin, InviteCode: code,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)

	// Codes are single use.
	_, err = f.client.Register(context.Background(), model.Registration{
		FirstName: "Fay", LastName: "Fox", Email: "fay@example.com", Password: "pass1!",
		Role: model.RoleAdmin, InviteCode: code,
	})
	assert.Error(t, err)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx1 := f.login(t, "ben@example.com")
	ctx2 := f.login(t, "ben@example.com")
	assert.Equal(t, 2, f.api.ActiveDevices(f.client1))

	require.NoError(t, f.client.LogoutDevice(ctx1))
	assert.Equal(t, 1, f.api.ActiveDevices(f.client1))

	_, err := f.client.PastResponses(ctx1, "")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	require.NoError(t, f.client.LogoutAll(ctx2, f.client1))
	assert.Equal(t, 0, f.api.ActiveDevices(f.client1))
}

func TestUserInfo(t *testing.T) {
	f := newFixture(t)
	info, err := f.client.UserInfo(context.Background(), f.client1)
	require.NoError(t, err)
	assert.Equal(t, "Ben Baker", info.DisplayName())

	_, err = f.client.UserInfo(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
}

type recordingObserver struct {
	endpoints []string
	statuses  []int
}

func (o *recordingObserver) ObserveUpstream(endpoint string, status int, _ time.Duration) {
	o.endpoints = append(o.endpoints, endpoint)
	o.statuses = append(o.statuses, status)
}

func TestObserver(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	c := New(f.api.URL+"/", WithObserver(obs))

	_, _ = c.Questions(context.Background(), "")
	f.api.Fail("/questions", http.StatusInternalServerError)
	_, err := c.Questions(context.Background(), "")
	require.Error(t, err)

	assert.Equal(t, []string{"/questions", "/questions"}, obs.endpoints)
	assert.Equal(t, []int{200, 500}, obs.statuses)
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Questions(context.Background(), "")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"empty body", ``, 0, false},
		{"null", `null`, 0, false},
		{"empty list", `[]`, 0, false},
		{"flat", `[{"session_id":"a","question_id":1,"response_value":3,"timestamp":"2024-01-01T10:00:00"}]`, 1, false},
		{"nested", `[{"session_id":"a","timestamp":"2024-01-01","responses":[{"question_id":"1","response_value":2},{"question_id":"2","response_value":5}]}]`, 2, false},
		{"mixed", `[{"session_id":"a","question_id":"1","response_value":3,"timestamp":null},{"session_id":"b","timestamp":"2024-01-02","responses":[]}]`, 1, false},
		{"object", `{"responses":[]}`, 0, true},
		{"not a list of objects", `[1]`, 0, true},
		// Bad values decode; the results pipeline rejects them.
		{"bad timestamp", `[{"session_id":"a","question_id":"1","response_value":3,"timestamp":"yesterday"}]`, 1, false},
		{"bad value", `[{"session_id":"a","question_id":"1","response_value":"often","timestamp":"2024-01-01"}]`, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRecords([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestDecodeRecordsKeepsRawText(t *testing.T) {
	got, err := DecodeRecords([]byte(`[{"session_id":"a","question_id":"1","response_value":true,"timestamp":"last tuesday"}]`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.Value("true"), got[0].Value)
	assert.Equal(t, "last tuesday", got[0].Timestamp.Unparsed)
	assert.False(t, got[0].Timestamp.Valid())
}
