// Command crm-proxy serves the CRM collections from the read-through cache,
// falling back to stale data while the backend is unreachable.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diarai/diar-crm-client/internal/config"
	"github.com/diarai/diar-crm-client/internal/server"
	"github.com/diarai/diar-crm-client/pkg/cache"
	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/diarai/diar-crm-client/pkg/connection"
	"github.com/diarai/diar-crm-client/pkg/crm"
	"github.com/diarai/diar-crm-client/pkg/loader"
	"github.com/diarai/diar-crm-client/pkg/logging"
	"github.com/diarai/diar-crm-client/pkg/metrics"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

type app struct {
	client  *client.Client
	store   cache.Store
	cache   *cache.Manager
	service *crm.Service
	monitor *connection.Monitor
	hooks   *server.ShutdownHooks
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := cache.NewStoreFromConfig(ctx, cfg.Cache.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("cache store configuration failed: %w", err)
	}

	c, err := client.New(cfg.API.ClientConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("client configuration failed: %w", err)
	}

	monitor := connection.NewMonitor(c, connection.Options{Interval: cfg.Monitor.Interval})
	manager := cache.NewManager(store, cfg.Cache.ManagerOptions())

	service := crm.NewService(c, manager, loader.WithOnRefresh(func(e loader.RefreshEvent) {
		if e.Outcome == loader.RefreshFailed && client.ClassOf(e.Err) == client.ErrorClassNetwork {
			monitor.MarkOffline(loader.NoticeServerUnreachable)
		}
	}))

	hooks := &server.ShutdownHooks{}
	hooks.AddContext("background refresh", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			service.Stop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("background refreshes still running: %w", ctx.Err())
		}
	})
	hooks.AddClose("crm client", c)
	hooks.AddClose("cache store", store)

	return &app{
		client:  c,
		store:   store,
		cache:   manager,
		service: service,
		monitor: monitor,
		hooks:   hooks,
	}, nil
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	standard := alice.New(
		hlog.NewHandler(log.Logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(accessLog),
	)

	mux.Handle("GET /health", standard.Then(handleHealth()))
	mux.Handle("GET /ready", standard.Then(handleReady(a.monitor)))
	mux.Handle("GET /api/crm/stats", standard.Then(handleStats(a.service)))
	mux.Handle("GET /api/{collection}", standard.Then(handleCollection(a.service, a.monitor)))
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	level := zerolog.InfoLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.WarnLevel
	}
	hlog.FromRequest(r).WithLevel(level).
		Str("method", r.Method).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("crm proxy failed")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	logging.Setup(cfg.Log.LoggingConfig())
	logger := logging.NewLogger("crm-proxy")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		_ = a.hooks.Execute(context.Background())
		return fmt.Errorf("listen on port %d: %w", cfg.Server.Port, err)
	}

	srv := &http.Server{
		Handler:           a.routes(),
		MaxHeaderBytes:    20 << 10,
		ReadHeaderTimeout: 20 * time.Second,
	}

	go func() {
		_ = a.monitor.Run(ctx)
	}()

	go func() {
		if err := a.service.Warm(ctx); err != nil {
			logger.Warn().Err(err).Msg("cache warmup incomplete")
			return
		}
		logger.Info().Strs("collections", a.service.CollectionNames()).Msg("cache warmed")
	}()

	logger.Info().
		Str("backend", a.client.BaseURL()).
		Str("cache_type", cfg.Cache.Type).
		Dur("cache_ttl", cfg.Cache.TTL).
		Dur("cache_max_stale", cfg.Cache.MaxStale).
		Msg("starting crm proxy")

	return server.Serve(ctx, srv, listener, cfg.Server.ShutdownTimeout, a.hooks)
}
