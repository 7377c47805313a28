// Package proxy exposes the OpenAI-compatible HTTP surface of the gateway
// and its operational endpoints.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verticalgw/vertigate/internal/catalog"
	"github.com/verticalgw/vertigate/internal/credentials"
	"github.com/verticalgw/vertigate/internal/metrics"
	"github.com/verticalgw/vertigate/internal/observability/middleware"
	"github.com/verticalgw/vertigate/internal/openaiadapter"
)

// defaultMaxRequestBytes bounds request bodies when no limit is configured.
const defaultMaxRequestBytes = 10 << 20

// Options carries the dependencies of the HTTP layer.
type Options struct {
	Adapter    openaiadapter.CreateChatCompletionAdapter
	Catalog    *catalog.Catalog
	ClientKeys *credentials.ClientKeys
	Readiness  ReadinessChecker
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry

	// Transport is handed to the adapter per request; nil means the default
	// transport. Injected so tests run without network access.
	Transport http.RoundTripper

	MaxRequestBytes int64
}

// Proxy is the gateway's HTTP server.
type Proxy struct {
	handler http.Handler
	server  *http.Server
}

// Compile-time check that Proxy can be mounted directly in tests.
var _ http.Handler = (*Proxy)(nil)

// New assembles the router and middleware chain.
func New(opts Options) (*Proxy, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if opts.ClientKeys == nil {
		return nil, fmt.Errorf("client key set is required")
	}
	if opts.Readiness == nil {
		return nil, fmt.Errorf("readiness checker is required")
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = defaultMaxRequestBytes
	}

	r := chi.NewRouter()

	// Outermost first: recovery guards everything, then body limit, then
	// observability. Auth sits inside logging so rejected requests are
	// still logged.
	r.Use(
		Recovery,
		RequestSizeLimit(opts.MaxRequestBytes),
		middleware.RequestIDGeneration,
		middleware.TraceContextExtraction,
		middleware.Logging(slog.Default()),
		middleware.RequestIDPropagation,
	)

	r.Get("/healthz", instrumented(opts.Metrics, "healthz", livenessHandler()))
	r.Get("/readyz", instrumented(opts.Metrics, "readyz", readinessHandler(opts.Readiness)))
	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(ClientAuth(opts.ClientKeys))

		r.Get("/v1/models", instrumented(opts.Metrics, "models", modelsHandler(opts.Catalog)))
		r.Method(http.MethodPost, "/v1/chat/completions",
			instrumented(opts.Metrics, "chat_completions",
				NewCreateChatCompletionsHandler(opts.Adapter, opts.Transport)))
	})

	return &Proxy{handler: r}, nil
}

// ServeHTTP lets tests drive the full middleware chain without a listener.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start binds addr and serves in the background. The returned channel
// reports the terminal serve error, if any; a clean shutdown sends nil.
func (p *Proxy) Start(ctx context.Context, addr string) (<-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}

	p.server = &http.Server{
		Handler:           p.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: streaming responses are open-ended and bounded
		// by the request context instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "http server listening", "addr", listener.Addr().String())
		if err := p.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	return errCh, nil
}

// Shutdown drains in-flight requests until ctx expires.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

// instrumented counts completed requests per handler and status code.
func instrumented(m *metrics.Metrics, handler string, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	}
}
