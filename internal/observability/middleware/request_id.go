package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDContextKey is a context key for storing request IDs.
type RequestIDContextKey struct{}

// requestID returns the id supplied by the client, the one already in the
// context, or a fresh UUID.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	if id, ok := r.Context().Value(RequestIDContextKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// RequestIDGeneration ensures every request carries an id in its context for
// downstream middlewares and handlers.
func RequestIDGeneration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), RequestIDContextKey{}, requestID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDPropagation surfaces the request id to external consumers: the
// X-Request-ID response header for client correlation and the request log
// attributes. The header is set before the handler runs so it survives
// recovery scenarios.
func RequestIDPropagation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := r.Context().Value(RequestIDContextKey{}).(string); ok && id != "" {
			w.Header().Set("X-Request-ID", id)
			SetLogAttrs(r.Context(), slog.String("request_id", id))
		}

		next.ServeHTTP(w, r)
	})
}
