package api

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// tokenAuth checks bearer tokens against a bcrypt hash. The SHA-256 of
// the last accepted token is kept so repeat requests skip bcrypt.
type tokenAuth struct {
	hash []byte

	mu       sync.Mutex
	accepted [sha256.Size]byte
	hasLast  bool
}

func newTokenAuth(hash string) *tokenAuth {
	return &tokenAuth{hash: []byte(strings.TrimSpace(hash))}
}

func (a *tokenAuth) enabled() bool { return len(a.hash) > 0 }

// valid reports whether token matches the configured hash.
func (a *tokenAuth) valid(token string) bool {
	if !a.enabled() {
		return true
	}
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))

	a.mu.Lock()
	if a.hasLast && a.accepted == sum {
		a.mu.Unlock()
		return true
	}
	a.mu.Unlock()

	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}
	a.mu.Lock()
	a.accepted, a.hasLast = sum, true
	a.mu.Unlock()
	return true
}

// requestToken takes the token from the Authorization header, or from
// the access_token query parameter for websocket clients that cannot
// set headers.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func (a *tokenAuth) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.valid(requestToken(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="hearth"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashToken returns the bcrypt hash to put in api.token_hash.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
