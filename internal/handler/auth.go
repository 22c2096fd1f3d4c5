package handler

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const (
	adminUser = "admin"
	authRealm = "examdb"
)

func hashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	return hash, nil
}

// requireAdmin is middleware that checks HTTP basic credentials against the
// admin password hash. It passes everything through when no password is set.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminHash == nil {
			next.ServeHTTP(w, r)
			return
		}

		user, password, ok := r.BasicAuth()
		if !ok {
			h.unauthorized(w, r)
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(adminUser)) == 1
		if err := bcrypt.CompareHashAndPassword(h.adminHash, []byte(password)); err != nil || !userOK {
			slog.Warn("rejected admin credentials", "user", user, "remote", r.RemoteAddr)
			h.unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", authRealm))
	writeMessage(w, r, http.StatusUnauthorized, "ErrUnauthorized", "")
}
