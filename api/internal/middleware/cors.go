package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSMiddleware answers preflight requests and stamps allow headers for
// browser dashboards and plugin web views.
type CORSMiddleware struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

func (m CORSMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := m.allowOrigin(strings.TrimSpace(r.Header.Get("Origin"))); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(orDefault(m.AllowedMethods, []string{"GET", "POST", "OPTIONS"}), ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(orDefault(m.AllowedHeaders, []string{"Content-Type", "X-Request-ID", "X-Client-ID"}), ", "))
			if m.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(m.MaxAge.Seconds())))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allowOrigin returns the header value for origin. No configured origins
// means any origin.
func (m CORSMiddleware) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if len(m.AllowedOrigins) == 0 {
		return "*"
	}
	for _, allowed := range m.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" {
			return "*"
		}
		if allowed != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func orDefault(v []string, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}
