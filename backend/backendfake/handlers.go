package backendfake

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/elearn-session/users"
)

type ctxKey struct{}

type tokenResponse struct {
	issued
	User *users.Identity `json:"user,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.authenticate(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	a, ok := s.accounts[strings.ToLower(body.Email)]
	if !ok || !users.CheckPasswordHash(body.Password, a.passwordHash) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.respondIssuedLocked(w, http.StatusOK, a)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Password    string `json:"password"`
		Role        string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := users.ValidatePasswordStrength(body.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.lock.RLock()
	_, exists := s.accounts[strings.ToLower(body.Email)]
	s.lock.RUnlock()
	if exists {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	role := users.ParseRole(body.Role)
	if role == users.RoleUnspecified {
		role = users.RoleStudent
	}
	identity := s.AddUser(body.Email, body.Password, body.DisplayName, role)

	s.lock.Lock()
	defer s.lock.Unlock()
	s.respondIssuedLocked(w, http.StatusCreated, s.accounts[strings.ToLower(identity.Email)])
}

func (s *Server) respondIssuedLocked(w http.ResponseWriter, status int, a *account) {
	tokens, err := s.issueLocked(a.identity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, status, tokenResponse{issued: tokens, User: a.identity.Clone()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if s.refreshDelay > 0 {
		time.Sleep(s.refreshDelay)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	userID, ok := s.refreshTokens[body.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "refresh token invalid or already used")
		return
	}
	delete(s.refreshTokens, body.RefreshToken)

	tokens, err := s.issueLocked(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, a := range s.accounts {
		if a.identity.ID == userID {
			writeJSON(w, http.StatusOK, a.identity)
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "unknown user")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.lock.Lock()
	delete(s.refreshTokens, body.RefreshToken)
	s.lock.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.courseList())
}

func (s *Server) handleCourse(w http.ResponseWriter, r *http.Request) {
	s.lock.RLock()
	c, ok := s.courses[r.PathValue("id")]
	s.lock.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCourseAccess(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("id")

	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.entitlementsDown {
		writeError(w, http.StatusServiceUnavailable, "entitlements unavailable")
		return
	}
	if _, ok := s.courses[courseID]; !ok {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasAccess": s.grants[userIDFrom(r)][courseID]})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	items := s.inbox[userIDFrom(r)]
	if items == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, items)
}
