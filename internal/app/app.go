// Package app wires all Charlie subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New builds the session manager and
// the routes, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// Routes:
//
//	GET /v1/voice                          voice conversation WebSocket
//	GET /v1/sessions                       open voice connections
//	GET /v1/conversations/{id}/messages    stored messages of one conversation
//	GET /v1/messages/search?q=...          full-text search over stored messages
//	GET /healthz, /readyz                  liveness and readiness
//	GET /metrics                           Prometheus scrape endpoint
//
// For testing, inject a clock or connection tuning via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/charlie/internal/config"
	"github.com/MrWong99/charlie/internal/health"
	"github.com/MrWong99/charlie/internal/observe"
	"github.com/MrWong99/charlie/internal/store"
	"github.com/MrWong99/charlie/internal/voice"
	"github.com/MrWong99/charlie/pkg/audio/wsaudio"
)

// shutdownGrace bounds the shutdown that Run performs on cancellation.
const shutdownGrace = 15 * time.Second

// Deps are the collaborators built by main from the configuration.
type Deps struct {
	// Pipeline answers recorded turns. Required.
	Pipeline Pipeline

	// Store keeps conversation messages. Defaults to [store.NewMemory].
	Store store.MessageLog

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Checkers are extra readiness checks (database, provider groups).
	Checkers []health.Checker

	// Gatherer is served on /metrics. Nil uses the Prometheus default.
	Gatherer prometheus.Gatherer
}

// App owns all subsystem lifetimes and serves the Charlie HTTP API.
type App struct {
	cfg      *config.Config
	store    store.MessageLog
	metrics  *observe.Metrics
	sessions *SessionManager
	handler  http.Handler
	server   *http.Server

	clock    voice.Clock
	connOpts []wsaudio.Option

	// closers are called in order during Shutdown.
	closers []func() error

	done     chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClock drives every voice controller with clk instead of the system
// clock.
func WithClock(clk voice.Clock) Option {
	return func(a *App) { a.clock = clk }
}

// WithConnOptions tunes every voice WebSocket.
func WithConnOptions(opts ...wsaudio.Option) Option {
	return func(a *App) { a.connOpts = append(a.connOpts, opts...) }
}

// WithCloser registers fn to run during Shutdown after the server stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and deps. cfg must have been passed through
// [config.ApplyDefaults].
func New(cfg *config.Config, deps Deps, opts ...Option) (*App, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("app: pipeline is required")
	}
	a := &App{
		cfg:     cfg,
		store:   deps.Store,
		metrics: deps.Metrics,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.store == nil {
		a.store = store.NewMemory()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	sm, err := NewSessionManager(SessionManagerConfig{
		Pipeline:         deps.Pipeline,
		Store:            a.store,
		Metrics:          a.metrics,
		Voice:            cfg.Voice.Engine(),
		MaxConversations: cfg.Server.MaxConversations,
		Clock:            a.clock,
		ConnOptions:      a.connOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}
	a.sessions = sm

	mux := http.NewServeMux()
	checkers := append(slices.Clone(deps.Checkers), health.CapacityChecker(sm.Active, sm.Limit()))
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(deps.Gatherer))
	mux.HandleFunc("GET /v1/voice", a.handleVoice)
	mux.HandleFunc("GET /v1/sessions", a.handleSessions)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", a.handleConversation)
	mux.HandleFunc("GET /v1/messages/search", a.handleSearch)
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Handler returns the root HTTP handler including middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the voice session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Reload applies the hot-reloadable parts of cfg. Voice tuning affects
// connections opened afterwards.
func (a *App) Reload(d config.ConfigDiff, cfg *config.Config) error {
	if !d.VoiceChanged {
		return nil
	}
	if err := a.sessions.SetVoiceConfig(cfg.Voice.Engine()); err != nil {
		return fmt.Errorf("app: reload voice config: %w", err)
	}
	slog.Info("voice tuning reloaded")
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-a.done:
			return nil
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every conversation, closes the HTTP server and runs the
// registered closers. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		close(a.done)
		slog.Info("shutting down", "open_connections", a.sessions.Active(), "closers", len(a.closers))

		if err := a.sessions.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
