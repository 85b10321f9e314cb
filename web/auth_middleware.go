package web

import (
	"context"
	"net/http"
	"time"

	"github.com/cdrtools/cdrbatch/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	userKey      contextKey = "user"
	requestIDKey contextKey = "requestID"

	sessionParam  = "Session"
	sessionCookie = "session"
	sessionHeader = "X-Session"
)

// sessionToken looks in the query or form, then the cookie, then the header.
func sessionToken(r *http.Request) string {
	if token := r.FormValue(sessionParam); token != "" {
		return token
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get(sessionHeader)
}

func (handler *HttpRouteHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			http.Error(w, "missing session", http.StatusUnauthorized)
			return
		}
		user, err := handler.sessions.Resolve(token)
		if err != nil {
			handler.log.Infow("Rejected session", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

func currentUser(ctx context.Context) *types.User {
	user, _ := ctx.Value(userKey).(*types.User)
	return user
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusResponseWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(log *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"request_id", requestID(r.Context()),
		)
	})
}
