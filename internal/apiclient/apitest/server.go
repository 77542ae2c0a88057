// Package apitest runs an in-memory stand-in for the check-in API so the
// client packages can be tested end to end over real HTTP.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/checkin/internal/model"
)

// User is an account known to the fake API.
type User struct {
	ID                  string
	FirstName           string
	LastName            string
	Email               string
	Role                model.Role
	AssignedClinicianID string
	passwordHash        []byte
}

type grant struct {
	userID      string
	role        model.Role
	deviceToken string
}

type invite struct {
	role model.Role
	used bool
}

// Server is the fake API. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]*User
	grants    map[string]grant // access token -> grant
	records   []model.ResponseRecord
	questions []model.Question
	invites   map[string]*invite
	failures  map[string]int
	raw       map[string]string
	calls     map[string]int
	headers   map[string]http.Header
	nested    bool
	nextID    int
}

// New starts a fake API with the ten default questions loaded.
func New() *Server {
	s := &Server{
		users:    make(map[string]*User),
		grants:   make(map[string]grant),
		invites:  make(map[string]*invite),
		failures: make(map[string]int),
		raw:      make(map[string]string),
		calls:    make(map[string]int),
		headers:  make(map[string]http.Header),
	}
	for i, text := range defaultQuestions {
		s.questions = append(s.questions, model.Question{ID: model.ID(strconv.Itoa(i + 1)), Text: text})
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

var defaultQuestions = []string{
	"I have felt tense, anxious or nervous",
	"I have felt I have someone to turn to for support when needed",
	"I have felt able to cope when things go wrong",
	"Talking to people has felt too much for me",
	"I have felt panic or terror",
	"I made plans to end my life",
	"I have had difficulty getting to sleep or staying asleep",
	"I have felt despairing or hopeless",
	"I have felt unhappy",
	"Unwanted images or memories have been distressing me",
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.track)

	r.Post("/login", s.handleLogin)
	r.Post("/register", s.handleRegister)
	r.Get("/questions", s.handleQuestions)
	r.Get("/user-info", s.handleUserInfo)
	r.Post("/validate-invite", s.handleValidateInvite)
	r.Get("/get-clinicians", s.handleStaff(model.RoleClinician, "clinicians"))
	r.Get("/get-admins", s.handleStaff(model.RoleAdmin, "admins"))
	r.Post("/remove-user", s.handleRemoveUser)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/submit-responses", s.handleSubmit)
		r.Get("/past-responses", s.handlePastResponses)
		r.Get("/session-details", s.handleSessionDetails)
		r.Get("/search-clients", s.handleSearchClients)
		r.Post("/generate-invite", s.handleGenerateInvite)
		r.Get("/clinician-data", s.handleClinicianData)
		r.Get("/overall-data", s.handleOverallData)
		r.Post("/logout-device", s.handleLogoutDevice)
		r.Post("/logout-all", s.handleLogoutAll)
	})
	return r
}

// AddUser creates an account and returns its id.
func (s *Server) AddUser(u User, password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u.ID = "u" + strconv.Itoa(s.nextID)
	u.Email = strings.ToLower(u.Email)
	u.passwordHash = hash
	s.users[u.ID] = &u
	return u.ID
}

// AddSession stores one completed questionnaire for userID.
func (s *Server) AddSession(userID, sessionID string, at time.Time, answers map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, q := range keys {
		s.records = append(s.records, model.ResponseRecord{
			SessionID:  model.ID(sessionID),
			QuestionID: model.ID(q),
			Value:      model.Value(strconv.Itoa(answers[q])),
			Timestamp:  model.Timestamp{Time: at},
			UserID:     model.ID(userID),
		})
	}
}

// AddRecords stores raw records as given, for malformed-data tests.
func (s *Server) AddRecords(records ...model.ResponseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// SetQuestions replaces the questionnaire.
func (s *Server) SetQuestions(qs ...model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = qs
}

// ServeNested makes /past-responses answer in the nested per-session shape.
func (s *Server) ServeNested(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nested = on
}

// Fail makes every request to path answer with status until cleared with 0.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// ServeRaw makes every request to path answer 200 with body verbatim
// until cleared with "".
func (s *Server) ServeRaw(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if body == "" {
		delete(s.raw, path)
		return
	}
	s.raw[path] = body
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastHeaders returns the headers of the latest request to path.
func (s *Server) LastHeaders(path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[path]
}

// ActiveDevices counts the live device sessions of userID.
func (s *Server) ActiveDevices(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.grants {
		if g.userID == userID {
			n++
		}
	}
	return n
}

// HasUser reports whether the account still exists.
func (s *Server) HasUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok
}

func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.headers[r.URL.Path] = r.Header.Clone()
		status, failing := s.failures[r.URL.Path]
		body, canned := s.raw[r.URL.Path]
		s.mu.Unlock()
		if failing {
			writeJSON(w, status, message("injected failure"))
			return
		}
		if canned {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func message(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func newCode() string {
	return uuid.NewString()
}
