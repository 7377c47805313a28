package proxy

import (
	"net/http"
	"strings"

	"github.com/verticalgw/vertigate/internal/credentials"
	"github.com/verticalgw/vertigate/internal/openaiadapter"
)

// Recovery recovers from panics in HTTP handlers and returns HTTP 500 to the client.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recover() != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				// Logging of panics is handled in Logging middleware
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimit enforces maximum request body size.
// Handlers that read the body will receive *http.MaxBytesError when the limit is exceeded.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ClientAuth rejects requests that do not carry a configured API key as a
// bearer token. An empty key set means the gateway was started without
// client keys; requests then fail as service-unavailable so the operator
// error is distinguishable from a caller using a wrong key.
func ClientAuth(keys *credentials.ClientKeys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if keys.Empty() {
				writeJSONOpenAIError(ctx, w, openaiadapter.NewErrorResponse(
					openaiadapter.ErrTypeServiceUnavailable,
					"no client API keys configured",
				))
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeJSONOpenAIError(ctx, w, openaiadapter.NewErrorResponse(
					openaiadapter.ErrTypeAuthentication,
					"missing bearer token",
				))
				return
			}

			if !keys.Valid(token) {
				writeJSONOpenAIError(ctx, w, openaiadapter.NewErrorResponse(
					openaiadapter.ErrTypePermissionDenied,
					"invalid API key",
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// applyMiddlewares applies middlewares to a handler in the order they appear.
// The first middleware in the slice is the outermost (executes first).
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
