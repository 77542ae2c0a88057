package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/results"
)

type grantKey struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, message("Missing or invalid token"))
			return
		}
		s.mu.Lock()
		g, found := s.grants[token]
		s.mu.Unlock()
		if !found {
			writeJSON(w, http.StatusUnauthorized, message("Session expired or revoked"))
			return
		}
		ctx := context.WithValue(r.Context(), grantKey{}, g)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func grantFrom(r *http.Request) grant {
	g, _ := r.Context().Value(grantKey{}).(grant)
	return g
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email == "" || creds.Password == "" {
		writeJSON(w, http.StatusBadRequest, message("Email and password are required."))
		return
	}
	email := strings.ToLower(strings.TrimSpace(creds.Email))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(creds.Password)) != nil {
			break
		}
		token := "tok-" + uuid.NewString()
		device := uuid.NewString()
		s.grants[token] = grant{userID: u.ID, role: u.Role, deviceToken: device}
		writeJSON(w, http.StatusOK, model.LoginResult{
			AccessToken: token,
			Role:        u.Role,
			UserID:      model.ID(u.ID),
			DeviceToken: device,
		})
		return
	}
	writeJSON(w, http.StatusUnauthorized, message("Invalid credentials"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg model.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeJSON(w, http.StatusBadRequest, message("Invalid request body."))
		return
	}
	if reg.Role == "" {
		reg.Role = model.RoleClient
	}
	if reg.FirstName == "" || reg.LastName == "" || reg.Email == "" || reg.Password == "" {
		writeJSON(w, http.StatusBadRequest, message("All fields are required."))
		return
	}
	s.mu.Lock()
	for _, u := range s.users {
		if u.Email == strings.ToLower(reg.Email) {
			s.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, message("Email already registered"))
			return
		}
	}
	if reg.Role != model.RoleClient {
		inv, ok := s.invites[reg.InviteCode]
		if !ok || inv.role != reg.Role || inv.used {
			s.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, message("Invalid or expired invite code."))
			return
		}
		inv.used = true
	}
	s.mu.Unlock()

	s.AddUser(User{
		FirstName:           reg.FirstName,
		LastName:            reg.LastName,
		Email:               reg.Email,
		Role:                reg.Role,
		AssignedClinicianID: reg.AssignedClinicianID,
	}, reg.Password)
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User registered successfully", "role": reg.Role})
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	qs := append([]model.Question(nil), s.questions...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, qs)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	g := grantFrom(r)
	var sub model.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || len(sub.Responses) == 0 {
		writeJSON(w, http.StatusBadRequest, message(`"responses" must be a list.`))
		return
	}
	sessionID := uuid.NewString()
	answers := make(map[string]int, len(sub.Responses))
	for _, a := range sub.Responses {
		answers[a.QuestionID.String()] = a.Value
	}
	s.AddSession(g.userID, sessionID, time.Now().UTC(), answers)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Responses submitted successfully", "session_id": sessionID})
}

// canSee mirrors the API's caseload rule: clients see themselves,
// clinicians their assigned clients and admins everyone.
func (s *Server) canSee(g grant, subjectID string) bool {
	switch g.role {
	case model.RoleAdmin:
		return true
	case model.RoleClinician:
		u, ok := s.users[subjectID]
		return ok && u.AssignedClinicianID == g.userID
	case model.RoleClient:
		return g.userID == subjectID
	}
	return false
}

func (s *Server) handlePastResponses(w http.ResponseWriter, r *http.Request) {
	g := grantFrom(r)
	subject := r.URL.Query().Get("user_id")
	if subject == "" {
		if g.role != model.RoleClient {
			writeJSON(w, http.StatusBadRequest, message("user_id is required"))
			return
		}
		subject = g.userID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canSee(g, subject) {
		writeJSON(w, http.StatusForbidden, message("Unauthorized: You can only view assigned clients"))
		return
	}
	var out []model.ResponseRecord
	for _, rec := range s.records {
		if rec.UserID.String() == subject {
			rec.UserID = ""
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		writeJSON(w, http.StatusNotFound, message("No responses available for this user"))
		return
	}
	if s.nested {
		writeJSON(w, http.StatusOK, nest(out))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func nest(records []model.ResponseRecord) []map[string]any {
	var order []model.ID
	bySession := make(map[model.ID]map[string]any)
	for _, rec := range records {
		p, ok := bySession[rec.SessionID]
		if !ok {
			p = map[string]any{
				"session_id": rec.SessionID,
				"timestamp":  rec.Timestamp,
				"responses":  []map[string]any{},
			}
			bySession[rec.SessionID] = p
			order = append(order, rec.SessionID)
		}
		p["responses"] = append(p["responses"].([]map[string]any), map[string]any{
			"question_id":    rec.QuestionID,
			"response_value": rec.Value,
		})
	}
	out := make([]map[string]any, 0, len(order))
	for _, id := range order {
		out = append(out, bySession[id])
	}
	return out
}

func (s *Server) handleSessionDetails(w http.ResponseWriter, r *http.Request) {
	g := grantFrom(r)
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, message("Session ID is required"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	type detail struct {
		QuestionID model.ID        `json:"question_id"`
		Value      model.Value     `json:"response_value"`
		Timestamp  model.Timestamp `json:"timestamp"`
	}
	var out []detail
	for _, rec := range s.records {
		if rec.SessionID.String() != sessionID {
			continue
		}
		if !s.canSee(g, rec.UserID.String()) {
			writeJSON(w, http.StatusForbidden, message("Unauthorized access to session"))
			return
		}
		out = append(out, detail{QuestionID: rec.QuestionID, Value: rec.Value, Timestamp: rec.Timestamp})
	}
	if len(out) == 0 {
		writeJSON(w, http.StatusNotFound, message("No responses found for this session"))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearchClients(w http.ResponseWriter, r *http.Request) {
	g := grantFrom(r)
	if g.role == model.RoleClient {
		writeJSON(w, http.StatusForbidden, message("Unauthorized: Clients cannot search for other users"))
		return
	}
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("query")))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, message("Query parameter is required"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := []model.ClientSummary{}
	for _, u := range s.users {
		if u.Role != model.RoleClient || !s.canSee(g, u.ID) {
			continue
		}
		if strings.Contains(strings.ToLower(u.FirstName), query) || strings.Contains(strings.ToLower(u.LastName), query) {
			clients = append(clients, model.ClientSummary{ID: model.ID(u.ID), FirstName: u.FirstName, LastName: u.LastName})
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u, ok := s.users[r.URL.Query().Get("user_id")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, message("User not found"))
		return
	}
	writeJSON(w, http.StatusOK, model.UserInfo{FirstName: u.FirstName, LastName: u.LastName, Email: u.Email})
}

func (s *Server) handleStaff(role model.Role, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		staff := []model.StaffMember{}
		for _, u := range s.users {
			// Admins are listed as clinicians too.
			if u.Role == role || (role == model.RoleClinician && u.Role == model.RoleAdmin) {
				staff = append(staff, model.StaffMember{ID: model.ID(u.ID), Name: u.FirstName + " " + u.LastName})
			}
		}
		sort.Slice(staff, func(i, j int) bool { return staff[i].ID < staff[j].ID })
		writeJSON(w, http.StatusOK, map[string]any{key: staff})
	}
}

func (s *Server) handleGenerateInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role model.Role `json:"role"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Role != model.RoleClinician && body.Role != model.RoleAdmin {
		writeJSON(w, http.StatusBadRequest, message("Invalid role provided."))
		return
	}
	if grantFrom(r).role != model.RoleAdmin {
		writeJSON(w, http.StatusForbidden, message("Unauthorized."))
		return
	}
	code := newCode()
	s.mu.Lock()
	s.invites[code] = &invite{role: body.Role}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleValidateInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"invite_code"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	code := strings.TrimSpace(body.Code)
	if code == "" {
		writeJSON(w, http.StatusBadRequest, message("Invite code is required"))
		return
	}
	s.mu.Lock()
	inv, ok := s.invites[code]
	s.mu.Unlock()
	switch {
	case !ok:
		writeJSON(w, http.StatusBadRequest, message("Invalid invite code"))
	case inv.used:
		writeJSON(w, http.StatusBadRequest, message("Invite code has already been used"))
	default:
		writeJSON(w, http.StatusOK, map[string]any{"message": "Invite code valid", "role": inv.role})
	}
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, message("User ID is required"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[body.UserID]; !ok {
		writeJSON(w, http.StatusNotFound, message("User not found"))
		return
	}
	delete(s.users, body.UserID)
	for _, u := range s.users {
		if u.AssignedClinicianID == body.UserID {
			u.AssignedClinicianID = ""
		}
	}
	writeJSON(w, http.StatusOK, message("User removed successfully"))
}

func (s *Server) handleClinicianData(w http.ResponseWriter, r *http.Request) {
	if grantFrom(r).role != model.RoleAdmin {
		writeJSON(w, http.StatusForbidden, message("Unauthorized: Only admins can access this data"))
		return
	}
	clinicianID := r.URL.Query().Get("clinician_id")
	if clinicianID == "" {
		writeJSON(w, http.StatusBadRequest, message("Clinician ID is required"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, u := range s.users {
		if u.AssignedClinicianID == clinicianID {
			total++
		}
	}
	writeJSON(w, http.StatusOK, model.ClinicianData{TotalClients: total})
}

// handleOverallData scores every client the way the API's metrics job
// does: first against latest session, over all clients.
func (s *Server) handleOverallData(w http.ResponseWriter, r *http.Request) {
	if grantFrom(r).role != model.RoleAdmin {
		writeJSON(w, http.StatusForbidden, message("Unauthorized: Only admins can access this data"))
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	byUser := make(map[string][]model.ResponseRecord)
	var clients []string
	for _, u := range s.users {
		if u.Role == model.RoleClient {
			clients = append(clients, u.ID)
		}
	}
	for _, rec := range s.records {
		byUser[rec.UserID.String()] = append(byUser[rec.UserID.String()], rec)
	}
	s.mu.Unlock()

	outcomes := make([]model.Outcome, 0, len(clients))
	for _, id := range clients {
		rep, err := results.Compute(byUser[id], nil, results.Options{})
		if err != nil {
			outcomes = append(outcomes, model.Outcome{})
			continue
		}
		outcomes = append(outcomes, results.Summarize(rep.Series, rep.Aggregation.Dates(), now, results.DefaultOutcomePolicy()))
	}
	m := results.Cohort(outcomes)
	writeJSON(w, http.StatusOK, model.OverallData{
		ClinicianData: model.ClinicianData{
			TotalClients:                         m.TotalSubjects,
			PercentImproved:                      m.PercentImproved,
			PercentClinicallySignificant:         m.PercentClinicallySignificant,
			PercentImprovedLast6Months:           m.PercentImprovedRecent,
			PercentClinicallySignificantLast6Mon: m.PercentClinicallySignificantRecent,
		},
		LastUpdated: model.Timestamp{Time: now},
	})
}

func (s *Server) handleLogoutDevice(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[token]; !ok {
		writeJSON(w, http.StatusNotFound, message("Session not found"))
		return
	}
	delete(s.grants, token)
	writeJSON(w, http.StatusOK, message("Logged out from this device successfully"))
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	g := grantFrom(r)
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, message("User ID is required"))
		return
	}
	if g.role != model.RoleAdmin && g.userID != body.UserID {
		writeJSON(w, http.StatusForbidden, message("Unauthorized: Cannot log out other users"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, other := range s.grants {
		if other.userID == body.UserID {
			delete(s.grants, token)
		}
	}
	writeJSON(w, http.StatusOK, message("Logged out from all devices"))
}
