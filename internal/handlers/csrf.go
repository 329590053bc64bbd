package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
	"time"
)

const (
	csrfCookieName = "csrf_token"
	csrfFormField  = "csrf_token"
	csrfTokenBytes = 32
	csrfTokenTTL   = 12 * time.Hour
)

// csrfManager issues per-session double-submit tokens and tracks their
// expiry. Each Handler owns one.
type csrfManager struct {
	mu     sync.RWMutex
	tokens map[string]time.Time
}

func newCSRFManager() *csrfManager {
	return &csrfManager{tokens: make(map[string]time.Time)}
}

// issue mints a token and records its expiry.
func (m *csrfManager) issue() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(buf)

	m.mu.Lock()
	m.tokens[token] = time.Now().Add(csrfTokenTTL)
	m.mu.Unlock()

	return token, nil
}

// valid reports whether token was issued here and has not expired.
func (m *csrfManager) valid(token string) bool {
	if token == "" {
		return false
	}

	m.mu.RLock()
	expiry, ok := m.tokens[token]
	m.mu.RUnlock()

	return ok && time.Now().Before(expiry)
}

// prune drops expired tokens.
func (m *csrfManager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, expiry := range m.tokens {
		if now.After(expiry) {
			delete(m.tokens, token)
		}
	}
}

// getOrCreateCSRFToken returns the request's token, minting and setting the
// cookie when the request carries none (or an expired one).
func (h *Handler) getOrCreateCSRFToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && h.csrf.valid(cookie.Value) {
		return cookie.Value
	}

	token, err := h.csrf.issue()
	if err != nil {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(csrfTokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	return token
}

// requireCSRF validates the request's token and writes a 403 on failure.
// Returns true when the caller may proceed.
func (h *Handler) requireCSRF(w http.ResponseWriter, r *http.Request) bool {
	if h.validateCSRF(r) {
		return true
	}
	http.Error(w, "Invalid CSRF token", http.StatusForbidden)
	return false
}

// validateCSRF checks the cookie/form token pair on state-changing requests.
// Desktop mode disables the check: the server only accepts local connections.
func (h *Handler) validateCSRF(r *http.Request) bool {
	if h.disableCSRF {
		return true
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return true
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	formToken := r.FormValue(csrfFormField)

	return cookie.Value == formToken && h.csrf.valid(formToken)
}

// StartCSRFCleanup prunes expired tokens hourly for the handler's lifetime.
func (h *Handler) StartCSRFCleanup() {
	go func() {
		ticker := time.NewTicker(time.Hour)
		for range ticker.C {
			h.csrf.prune()
		}
	}()
}
