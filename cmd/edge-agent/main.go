package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/flock"
	"golang.org/x/time/rate"

	"edge-agent/internal/controlplane"
	"edge-agent/internal/orchestrator"
	"edge-agent/internal/platform/config"
	"edge-agent/internal/platform/logger"
	"edge-agent/internal/platform/metrics"
	"edge-agent/internal/resolver"
	"edge-agent/internal/supervisor"
)

const (
	shutdownTimeout = 10 * time.Second
	lockFileName    = "edge-agent.lock"
)

func main() {
	_ = config.Load()
	cfg := loadSettings()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("agent exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg settings, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	lockPath := filepath.Join(cfg.LogDir, lockFileName)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another edge agent is already running with this LOG_DIR")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("failed to release instance lock", "error", err)
		}
	}()

	met := metrics.New()

	client := controlplane.NewClient(cfg.CentralBaseURL, cfg.APIKey, cfg.EdgeID, cfg.FetchTimeout, nil)
	if !client.Configured() {
		log.Warn("CENTRAL_BASE_URL or API_KEY not set; sync cycles will fail until configured")
	}

	cache := resolver.NewCache(resolver.NewYTDLP(cfg.YTDLPBin, cfg.YTDLPFormat, cfg.ResolveTimeout), met)
	sup := supervisor.New(supervisor.ExecSpawner{}, log, met, supervisor.WithGracePeriod(cfg.StopGrace))
	repo := orchestrator.NewInMemoryRepository()
	policy := orchestrator.Policy{ProxyYouTube: cfg.ProxyYouTube}

	engine := orchestrator.NewEngine(client, cache, sup, repo, orchestrator.EngineConfig{
		Interval: cfg.SyncInterval,
		Policy:   policy,
		Worker: supervisor.WorkerConfig{
			Binary:      cfg.FFmpegBin,
			PublishBase: cfg.RTMPPublishBase,
			EdgeID:      cfg.EdgeID,
		},
	}, log, met)

	svc := orchestrator.NewService(repo, sup, cache, orchestrator.ServiceConfig{
		EdgeID:     cfg.EdgeID,
		PublicHost: cfg.PublicHost,
		HLSPort:    cfg.HLSPort,
		Central:    client.BaseURL(),
		Configured: client.Configured(),
		Policy:     policy,
	})

	limit := rate.Limit(cfg.SyncRateLimit)
	if cfg.SyncRateLimit <= 0 {
		limit = rate.Inf
	}
	h := orchestrator.NewHandler(svc, engine, rate.NewLimiter(limit, 1), log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetRunningWorkers(len(sup.Running()))
			met.SetCacheEntries(cache.Len())
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = engine.Run(ctx)
	}()

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	log.Info("edge agent starting",
		"edge_id", cfg.EdgeID,
		"port", cfg.Port,
		"central", client.BaseURL(),
		"sync_interval", engine.Interval(),
		"proxy_youtube", cfg.ProxyYouTube,
		"lock", lockPath,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections")
	case runErr = <-srvErr:
		log.Error("server error", "error", runErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	<-loopDone
	sup.StopAll()

	log.Info("edge agent stopped")
	return runErr
}
