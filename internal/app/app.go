// Package app wires the gateway's components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/verticalgw/vertigate/internal/catalog"
	"github.com/verticalgw/vertigate/internal/config"
	"github.com/verticalgw/vertigate/internal/convcache"
	"github.com/verticalgw/vertigate/internal/credentials"
	"github.com/verticalgw/vertigate/internal/metrics"
	"github.com/verticalgw/vertigate/internal/openaiadapter/vertical"
	"github.com/verticalgw/vertigate/internal/proxy"
	"github.com/verticalgw/vertigate/internal/reload"
)

// App orchestrates the lifecycle of the gateway server and related services.
type App struct {
	cfg     *config.Config
	proxy   *proxy.Proxy
	watcher *reload.Watcher
	health  *Health
}

// New loads the data files and assembles the component graph.
func New(cfg *config.Config) (*App, error) {
	registry := prometheus.NewRegistry()

	// The cache gauge closes over the variable; the cache itself needs the
	// metrics for its eviction hook, hence the two-step construction.
	var cache *convcache.Cache
	m := metrics.New(registry, func() float64 {
		if cache == nil {
			return 0
		}
		return float64(cache.Len())
	})
	cache = convcache.New(cfg.MaxConversations, convcache.WithEvictionHook(
		func(key string, rec convcache.Record) {
			m.CacheEvictions.Inc()
		}))

	cat := catalog.New()
	if err := cat.Load(cfg.ModelsFile); err != nil {
		return nil, fmt.Errorf("loading model catalog: %w", err)
	}

	tokens := credentials.NewTokenPool()
	if err := tokens.Load(cfg.TokensFile); err != nil {
		return nil, fmt.Errorf("loading upstream tokens: %w", err)
	}

	// Missing client keys are not fatal: the gateway starts and rejects
	// traffic as unconfigured until keys appear, which hot reload picks up.
	keys := credentials.NewClientKeys()
	if cfg.ClientKeysFile != "" {
		if err := keys.Load(cfg.ClientKeysFile); err != nil {
			slog.Warn("client key file not loaded, rejecting all requests until it appears",
				"path", cfg.ClientKeysFile, "error", err)
		}
	}

	adapter := &vertical.Adapter{
		BaseURL: cfg.UpstreamBaseURL,
		Catalog: cat,
		Tokens:  tokens,
		Cache:   cache,
		Metrics: m,
	}

	health := NewHealth()

	proxyServer, err := proxy.New(proxy.Options{
		Adapter:         adapter,
		Catalog:         cat,
		ClientKeys:      keys,
		Readiness:       health,
		Metrics:         m,
		Registry:        registry,
		MaxRequestBytes: cfg.MaxRequestBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	var watcher *reload.Watcher
	if cfg.Watch {
		watcher = reload.NewWatcher()
		if err := watcher.Register(cfg.ModelsFile, func() error { return cat.Load(cfg.ModelsFile) }); err != nil {
			return nil, err
		}
		if err := watcher.Register(cfg.TokensFile, func() error { return tokens.Load(cfg.TokensFile) }); err != nil {
			return nil, err
		}
		if cfg.ClientKeysFile != "" {
			if err := watcher.Register(cfg.ClientKeysFile, func() error { return keys.Load(cfg.ClientKeysFile) }); err != nil {
				return nil, err
			}
		}
	}

	return &App{
		cfg:     cfg,
		proxy:   proxyServer,
		watcher: watcher,
		health:  health,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection
// for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	slog.InfoContext(gCtx, "starting gateway server", "listen", a.cfg.Listen)
	proxyErrCh, err := a.proxy.Start(gCtx, a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if a.watcher != nil {
		g.Go(func() error {
			if err := a.watcher.Run(gCtx); err != nil {
				slog.ErrorContext(gCtx, "file watcher failed", "error", err)
				return fmt.Errorf("watcher: %w", err)
			}
			return nil
		})
	}

	a.health.SetReady(true)

	runtimeErr := g.Wait()
	a.health.SetReady(false)

	slog.InfoContext(gCtx, "shutting down services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
