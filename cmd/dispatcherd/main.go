// Package main arranca el servicio dispatcher: el servidor HTTP de
// login/callback/CRUD de posts, el RateGate y el escaneador periódico que
// publica los ScheduledPosts vencidos (spec.md §4.6), siguiendo el mismo
// layout cmd/service/main.go del profesor (carga de .env, wiring manual de
// dependencias, servidor HTTP con shutdown gracioso).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/postdispatch/internal/authcore"
	"github.com/dropDatabas3/postdispatch/internal/config"
	"github.com/dropDatabas3/postdispatch/internal/dispatcher"
	"github.com/dropDatabas3/postdispatch/internal/dpop"
	"github.com/dropDatabas3/postdispatch/internal/httpapi"
	"github.com/dropDatabas3/postdispatch/internal/leader"
	"github.com/dropDatabas3/postdispatch/internal/metrics"
	"github.com/dropDatabas3/postdispatch/internal/networkclient"
	"github.com/dropDatabas3/postdispatch/internal/oauthstate"
	"github.com/dropDatabas3/postdispatch/internal/observability/logger"
	"github.com/dropDatabas3/postdispatch/internal/postservice"
	"github.com/dropDatabas3/postdispatch/internal/rate"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dispatcherd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.example.yaml", "Path to YAML config (falls back to env-only if missing)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "dispatcherd: no .env file found, continuing with process environment\n")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       "info",
		ServiceName: "dispatcherd",
	})
	defer logger.Sync()
	log := logger.Named("main")

	// secretbox lee su clave maestra directo de ENCRYPTION_KEY: si vino por
	// YAML en lugar del entorno, hay que propagarla explícitamente.
	if os.Getenv("ENCRYPTION_KEY") == "" && cfg.Security.EncryptionKey != "" {
		if err := os.Setenv("ENCRYPTION_KEY", cfg.Security.EncryptionKey); err != nil {
			return fmt.Errorf("propagate encryption key: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connMaxLifetime, _ := time.ParseDuration(cfg.Storage.Postgres.ConnMaxLifetime)
	st, err := store.New(ctx, cfg.Storage.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	state := oauthstate.New()
	nonces := dpop.NewNonceStore()
	auth := authcore.New(cfg, st, state, nonces)

	limiter, redisClient, err := buildLimiter(cfg)
	if err != nil {
		return fmt.Errorf("build rate limiter: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	apiWindow, err := time.ParseDuration(cfg.Rate.API.Window)
	if err != nil {
		return fmt.Errorf("parse rate.api.window: %w", err)
	}
	oauthWindow, err := time.ParseDuration(cfg.Rate.OAuth.Window)
	if err != nil {
		return fmt.Errorf("parse rate.oauth.window: %w", err)
	}
	gate := rate.NewGate(limiter)
	gate.Register("api", cfg.Rate.API.Limit, apiWindow)
	gate.Register("oauth", cfg.Rate.OAuth.Limit, oauthWindow)

	nc := networkclient.New(st, auth, gate, nonces, cfg.Auth.APIBaseURL)
	posts := postservice.New(st, nc)

	leaseGate, closeLease, err := buildLeaseGate(cfg)
	if err != nil {
		return fmt.Errorf("build leader lease: %w", err)
	}
	if closeLease != nil {
		defer closeLease()
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	dispatcherCfg, err := buildDispatcherConfig(cfg)
	if err != nil {
		return fmt.Errorf("build dispatcher config: %w", err)
	}
	disp := dispatcher.New(dispatcherCfg, st, posts, leaseGate)
	go disp.Run(ctx)

	mux := httpapi.NewRouter(httpapi.Deps{
		Cfg:     cfg,
		Store:   st,
		Auth:    auth,
		Posts:   posts,
		Limiter: limiter,
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	shutdownDeadline, err := time.ParseDuration(cfg.Server.ShutdownDeadline)
	if err != nil {
		shutdownDeadline = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			disp.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	disp.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", logger.Err(err))
	}

	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.LoadFromEnv()
		}
		return nil, err
	}
	return config.Load(path)
}

// buildLimiter arma el MultiLimiter del RateGate; si el backend es redis,
// también devuelve el cliente para que el caller lo cierre al apagar.
func buildLimiter(cfg *config.Config) (rate.MultiLimiter, *rdb.Client, error) {
	rateCfg := rate.Config{Backend: cfg.Rate.Backend, Prefix: cfg.Cache.Redis.Prefix}

	var client *rdb.Client
	if strings.EqualFold(cfg.Rate.Backend, "redis") || strings.EqualFold(cfg.Cache.Kind, "redis") {
		client = rdb.NewClient(&rdb.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
		rateCfg.Redis = client
	}

	limiter, err := rate.NewMulti(rateCfg)
	if err != nil {
		if client != nil {
			client.Close()
		}
		return nil, nil, err
	}
	return limiter, client, nil
}

// buildLeaseGate arranca el lease Raft cuando cluster.mode != off; en modo
// off el Dispatcher recibe leader.Static{} y se trata como singleton local.
func buildLeaseGate(cfg *config.Config) (leader.Gate, func(), error) {
	if strings.EqualFold(cfg.Cluster.Mode, "off") || cfg.Cluster.Mode == "" {
		return leader.Static{}, nil, nil
	}

	lease, err := leader.New(leader.Options{
		NodeID:        cfg.Cluster.NodeID,
		RaftAddr:      cfg.Cluster.RaftAddr,
		DataDir:       cfg.Cluster.DataDir,
		Peers:         cfg.Cluster.Nodes,
		SnapshotEvery: cfg.Cluster.SnapshotEvery,
		MaxLogMB:      cfg.Cluster.MaxLogMB,
	})
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = lease.Close(closeCtx)
	}
	return lease, closeFn, nil
}

func buildDispatcherConfig(cfg *config.Config) (dispatcher.Config, error) {
	var tick, subPause, watchdog, healthEvery, shutdown time.Duration
	specs := []struct {
		raw string
		out *time.Duration
	}{
		{cfg.Dispatcher.TickInterval, &tick},
		{cfg.Dispatcher.SubBatchPause, &subPause},
		{cfg.Dispatcher.WatchdogTimeout, &watchdog},
		{cfg.Dispatcher.HealthCheckEvery, &healthEvery},
		{cfg.Server.ShutdownDeadline, &shutdown},
	}
	for _, s := range specs {
		d, err := time.ParseDuration(s.raw)
		if err != nil {
			return dispatcher.Config{}, fmt.Errorf("parse duration %q: %w", s.raw, err)
		}
		*s.out = d
	}

	return dispatcher.Config{
		TickInterval:     tick,
		BatchSize:        cfg.Dispatcher.BatchSize,
		SubBatchSize:     cfg.Dispatcher.SubBatchSize,
		SubBatchPause:    subPause,
		WatchdogTimeout:  watchdog,
		HealthCheckEvery: healthEvery,
		MaintenanceAt:    cfg.Dispatcher.MaintenanceAt,
		RequireLeader:    cfg.Dispatcher.RequireLeader,
		ShutdownDeadline: shutdown,
	}, nil
}
