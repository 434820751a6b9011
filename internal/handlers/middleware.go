package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ttani03/lan-ipam/internal/logger"
)

const (
	RequestIDHeader  = "X-Request-ID"
	RemoteUserHeader = "X-Remote-User"
	// RemoteStaffHeader marks a privileged operator when set to "true" or "1".
	RemoteStaffHeader = "X-Remote-Staff"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	loggerKey
)

// Identity is the caller as asserted by the fronting auth proxy.
type Identity struct {
	User  string
	Staff bool
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// RequireIdentity rejects requests that arrive without a user header.
// Authentication itself happens in the proxy in front of this service.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(RemoteUserHeader))
		if user == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		staff := r.Header.Get(RemoteStaffHeader)
		id := Identity{User: user, Staff: staff == "true" || staff == "1"}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger assigns a request id and logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.New().String()
		w.Header().Set(RequestIDHeader, rid)
		entry := logger.WithFields(logrus.Fields{"request_id": rid})
		ctx := context.WithValue(r.Context(), loggerKey, entry)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		entry.WithFields(logrus.Fields{
			"status":  rec.status,
			"method":  r.Method,
			"path":    r.URL.Path,
			"latency": time.Since(start).String(),
			"user":    r.Header.Get(RemoteUserHeader),
		}).Info("handled request")
	})
}

// requestLogger retrieves the request-scoped logger or the global one.
func requestLogger(r *http.Request) *logrus.Entry {
	if entry, ok := r.Context().Value(loggerKey).(*logrus.Entry); ok {
		return entry
	}
	return logger.Log()
}
