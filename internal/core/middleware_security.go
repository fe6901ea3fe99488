package core

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"weatherdesk/internal/types"
)

// CSRFMiddleware enforces the per-session token on state-changing requests.
// The session cookie is SameSite=Lax, and the X-CSRF-Token header covers the
// remaining cross-site cases.
//
// Safe methods and anonymous requests (login, signup) are exempt.
func (s *Server) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		rs, ok := r.Context().Value(sessionCtxKey{}).(*requestSession)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("X-CSRF-Token")
		if rs.csrf == "" || header == "" ||
			subtle.ConstantTimeCompare([]byte(header), []byte(rs.csrf)) != 1 {
			s.Logger.WarnContext(r.Context(), "CSRF token rejected",
				slog.String("username", rs.session.Identity().Username),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Bool("header_present", header != ""),
			)
			Error(w, r, types.NewAppError(types.ErrCodePermissionCSRF, "CSRF token is missing or invalid", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client's address, preferring the first
// X-Forwarded-For entry (API Gateway and load balancers set it) and falling
// back to RemoteAddr without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
