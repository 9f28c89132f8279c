package httpx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"sentinelai-backend/shared/logx"
)

type requestIDKey struct{}

const maxRequestIDLen = 64

// WithRequestID echoes a caller supplied X-Request-ID, or mints one, and
// stores it on the request context.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > maxRequestIDLen {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func newRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// WithRecover turns a handler panic into a logged 500. Stacks are omitted
// from logs in prod.
func WithRecover(l logx.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			attrs := append(requestAttrs(r),
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.Any("error", rec),
			)
			if !strings.EqualFold(l.Env(), "prod") {
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
			}
			l.Error(r.Context(), "panic", "panic recovered", attrs...)
			WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		}()
		next.ServeHTTP(w, r)
	})
}

type RequestLogOptions struct {
	SkipPaths map[string]bool
}

// WithRequestLog writes one http_request record per request, tagged with
// the mission and plugin client when the caller names them.
func WithRequestLog(l logx.Logger, opts RequestLogOptions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.SkipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		attrs := append(requestAttrs(r),
			slog.Int("status_code", sw.statusCode),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", ClientIP(r)),
		)
		if v := strings.TrimSpace(r.URL.Query().Get("mission_id")); v != "" {
			attrs = append(attrs, slog.String("mission_id", v))
		}
		if v := strings.TrimSpace(r.Header.Get("X-Client-ID")); v != "" {
			attrs = append(attrs, slog.String("client_id", v))
		}
		l.Info(r.Context(), "http_request", "http request", attrs...)
	})
}

func requestAttrs(r *http.Request) []slog.Attr {
	return []slog.Attr{
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
}

// WithTimeout buffers the handler's response and replaces it with a 504
// envelope when the deadline passes first.
func WithTimeout(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		buf := &bufferedWriter{header: make(http.Header), statusCode: http.StatusOK}
		done := make(chan struct{})
		go func() {
			defer close(done)
			next.ServeHTTP(buf, r.WithContext(ctx))
		}()

		select {
		case <-done:
			buf.flushTo(w)
		case <-ctx.Done():
			WriteError(w, r, http.StatusGatewayTimeout, "DEADLINE_EXCEEDED", "request timed out", nil)
		}
	})
}

// WrapServeMux dispatches to mux when a pattern matches and to fallback
// otherwise, so unmatched paths get the JSON envelope.
func WrapServeMux(mux *http.ServeMux, fallback http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, pattern := mux.Handler(r); pattern != "" {
			h.ServeHTTP(w, r)
			return
		}
		fallback.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

type bufferedWriter struct {
	header     http.Header
	statusCode int
	body       []byte
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(statusCode int) { w.statusCode = statusCode }

func (w *bufferedWriter) Write(p []byte) (int, error) {
	w.body = append(w.body, p...)
	return len(p), nil
}

func (w *bufferedWriter) flushTo(dst http.ResponseWriter) {
	for k, vs := range w.header {
		for _, v := range vs {
			dst.Header().Add(k, v)
		}
	}
	dst.WriteHeader(w.statusCode)
	_, _ = dst.Write(w.body)
}
