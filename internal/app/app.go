// Package app wires the gateway's components - shared store, rate
// limiter, circuit breaker, proxy pipeline and routes - into a single
// runnable HTTP server, a long-lived Application with New/Start/Stop.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arvela/resily/internal/adapter/circuitbreaker"
	"github.com/arvela/resily/internal/adapter/proxy"
	"github.com/arvela/resily/internal/adapter/ratelimit"
	"github.com/arvela/resily/internal/app/middleware"
	"github.com/arvela/resily/internal/config"
	"github.com/arvela/resily/internal/core/ports"
	"github.com/arvela/resily/internal/logger"
	"github.com/arvela/resily/internal/router"
	"github.com/arvela/resily/internal/store/redisclient"
	"github.com/arvela/resily/internal/util"
)

// Application owns the gateway's wired components and its HTTP server.
type Application struct {
	cfg       *config.Config
	log       *logger.StyledLogger
	startTime time.Time

	store      *redisclient.Client
	pipeline   *proxy.Pipeline
	registry   *router.RouteRegistry
	httpServer *http.Server
}

// New wires the store, rate limiter, circuit breaker and proxy pipeline
// described by cfg, and registers the gateway's routes.
func New(startTime time.Time, log *logger.StyledLogger, cfg *config.Config) (*Application, error) {
	store := redisclient.New(redisclient.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	clock := ports.SystemClock{}

	limiter := ratelimit.New(store, clock, ratelimit.Config{
		Capacity:   cfg.RateLimit.Capacity,
		RefillRate: cfg.RateLimit.RefillRate,
	})

	breaker := circuitbreaker.New(store, clock, circuitbreaker.Config{
		FailureThreshold:         cfg.CircuitBreaker.FailureThreshold,
		ResetTimeoutSeconds:      cfg.CircuitBreaker.ResetTimeoutSeconds,
		HalfOpenSuccessThreshold: cfg.CircuitBreaker.HalfOpenSuccessThreshold,
	})

	trustedCIDRs, err := util.ParseTrustedCIDRs(cfg.Server.TrustedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parsing trusted CIDRs: %w", err)
	}

	pipeline, err := proxy.New(proxy.Config{
		UpstreamURL:       cfg.Upstream.URL,
		ConnectionTimeout: cfg.Upstream.ConnectionTimeout,
		ResponseTimeout:   cfg.Upstream.ResponseTimeout,
	}, limiter, breaker, log)
	if err != nil {
		return nil, fmt.Errorf("building proxy pipeline: %w", err)
	}

	a := &Application{
		cfg:       cfg,
		log:       log,
		startTime: startTime,
		store:     store,
		pipeline:  pipeline,
	}

	a.registry = router.NewRouteRegistry(log)
	a.registry.Register("/health", a.healthHandler, "Liveness probe")
	a.registry.RegisterProxyRoute("/proxy/", pipeline.ServeHTTP, "Reverse proxy to the upstream service", "ANY")

	mux := http.NewServeMux()
	a.registry.WireUp(mux)

	// AccessLoggingMiddleware is innermost so it runs after
	// EnhancedLoggingMiddleware has stamped the request ID onto the
	// context, giving its single access-log line the same request_id as
	// the start/completion pair logged around it.
	handler := middleware.EnhancedLoggingMiddleware(log, cfg.Server.TrustProxyHeaders, trustedCIDRs)(
		middleware.AccessLoggingMiddleware(log.GetUnderlying())(mux))

	a.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// Start pings the shared store so misconfiguration fails fast, then begins
// serving HTTP in the background.
func (a *Application) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.store.Ping(pingCtx); err != nil {
		return fmt.Errorf("shared store unreachable: %w", err)
	}

	a.log.Info("Listening", "addr", a.httpServer.Addr, "upstream", a.cfg.Upstream.URL)

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("HTTP server stopped unexpectedly", "error", err)
		}
	}()

	return nil
}

// Stop drains in-flight requests within the server's shutdown timeout and
// releases the store connection.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		_ = a.store.Close()
		return fmt.Errorf("server shutdown: %w", err)
	}

	return a.store.Close()
}
