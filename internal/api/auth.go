// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	sessionCookie = "restreamd_session"
	tokenTTL      = 24 * time.Hour
)

// tokenRegistry holds the in-memory login tokens. Tokens do not survive
// a restart; the panel simply asks for a fresh login.
type tokenRegistry struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func newTokenRegistry() *tokenRegistry {
	return &tokenRegistry{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (t *tokenRegistry) issue() string {
	token := uuid.NewString()
	t.mu.Lock()
	t.tokens[token] = t.now().Add(tokenTTL)
	t.mu.Unlock()
	return token
}

func (t *tokenRegistry) valid(token string) bool {
	if token == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.tokens[token]
	if !ok {
		return false
	}
	if t.now().After(exp) {
		delete(t.tokens, token)
		return false
	}
	return true
}

func (t *tokenRegistry) revoke(token string) {
	t.mu.Lock()
	delete(t.tokens, token)
	t.mu.Unlock()
}

// requireAuth gates a route group behind a valid session cookie.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || !s.tokens.valid(cookie.Value) {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.users.Register(req.Username, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.users.Authenticate(req.Username, req.Password); err != nil {
		s.log.Warn().Str("event", "api.login_failed").Str("username", req.Username).Msg("login rejected")
		writeError(w, r, err)
		return
	}

	token := s.tokens.issue()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(tokenTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.log.Info().Str("event", "api.login").Str("username", req.Username).Msg("login accepted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.tokens.revoke(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
