package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"prism-tracker/api"
	"prism-tracker/config"
	"prism-tracker/hierarchy"
	"prism-tracker/storage"
	"prism-tracker/stream"
	"prism-tracker/subtree"
	"prism-tracker/telemetry"
)

func main() {
	flags := pflag.NewFlagSet("prism-tracker", pflag.ExitOnError)
	configPath := flags.String("config", os.Getenv("CONFIG_FILE"), "YAML config file")
	listen := flags.String("listen", "", "listen address, overrides LISTEN_ADDR")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	logger := log.StandardLogger()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	shutdownTracing := telemetry.Setup(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.RedisConnection != "" {
		opts, err := config.RedisOptions(cfg.RedisConnection)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
	}

	backend, err := storage.Open(ctx, storage.Options{
		Backend:          cfg.StorageBackend,
		SQLitePath:       cfg.SQLitePath,
		Redis:            rc,
		ConnectionString: cfg.ConnectionString,
		Table:            cfg.EntitiesTable,
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	store := storage.NewStore(backend)

	hub := stream.NewHub(cfg.StreamBuffer)
	events := stream.Tee{hub}
	if rc != nil {
		relay := stream.NewRedisRelay(rc, cfg.StreamChannel, hub)
		go relay.Run(ctx)
		events = stream.Tee{relay}
	}
	if cfg.EventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.ConnectionString, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		events = append(events, queue)
	}

	auth, stopAuth, err := api.NewAuthenticator(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	defer stopAuth()

	srv := &api.Server{
		Store:      store,
		Aggregator: hierarchy.New(store, events, cfg.CascadeMaxAttempts),
		Subtree:    subtree.New(store.Tasks, cfg.SubtreeMaxDepth),
		Events:     events,
		Auth:       auth,
		Hub:        hub,
		Heartbeat:  cfg.StreamHeartbeat,
	}
	if rc != nil {
		srv.Trees = storage.NewTreeCache(rc, cfg.CacheTTL)
		srv.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
		ExposeHeaders: []string{api.HeaderCascadeComplete, "ETag"},
	}))
	e.Use(api.RequestMetrics(logger))
	if cfg.Debug {
		pprof.Register(e)
	}
	srv.Register(e)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	log.WithFields(log.Fields{"addr": cfg.ListenAddr, "backend": cfg.StorageBackend}).Info("prism tracker started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	if err := store.Close(); err != nil {
		log.WithError(err).Error("storage close failed")
	}
	if rc != nil {
		_ = rc.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown failed")
	}
}
