package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"event-api/api"
	"event-api/broker"
	"event-api/domain"
	"event-api/internal/consts"
	"event-api/internal/env"
	"event-api/internal/telemetry"
	"event-api/journal"
	"event-api/storage"
)

const serviceName = "event-api"

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	if env.Bool("DEBUG", false) {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := telemetry.Setup(ctx, telemetry.ConfigFromEnv(serviceName))
	if err != nil {
		log.Fatalf("otel: %v", err)
	}

	var ready []api.ReadyCheck
	store, closeStore, err := openStore(ctx, env.String("USER_STORE", "memory"))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		ready = append(ready, api.ReadyCheck{Name: "store", Check: p.Ping})
	}

	var rc *redis.Client
	if conn := env.String("REDIS_CONNECTION_STRING", ""); conn != "" {
		rc = redis.NewClient(parseRedisOptions(conn))
		ready = append(ready, api.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}})
		store = storage.NewCache(store, rc, env.Duration("USER_CACHE_TTL", 5*time.Minute))
	}

	journals, err := openJournals(logger)
	if err != nil {
		log.Fatalf("journal: %v", err)
	}
	if brokers := env.String("KAFKA_BROKERS", ""); brokers != "" && env.String("JOURNAL_TOPIC", "") != "" {
		ready = append(ready, api.ReadyCheck{Name: "kafka", Check: journal.ReadyCheck(brokers)})
	}

	registry := broker.NewRegistry(logger, broker.WithQueueSize(env.Int("SESSION_QUEUE_SIZE", 64)))
	var sink broker.Journal
	if len(journals) > 0 {
		sink = journals
	}
	broadcaster := broker.NewBroadcaster(registry, sink, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem: "event_api",
		// a websocket request lasts as long as the session
		Skipper: func(c echo.Context) bool { return c.Path() == consts.WebSocketPath },
	}))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Deps{
		Registry:     registry,
		Broadcaster:  broadcaster,
		Router:       domain.NewRouter(store),
		Ready:        ready,
		JournalStats: func() any { return journals.Stats() },
		Logger:       logger,
	})

	listenAddr := ":" + env.String("EVENT_API_PORT", "8080")
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	log.WithField("addr", listenAddr).Info("event api listening")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by the http server
	registry.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	journals.Close()
	if rc != nil {
		_ = rc.Close()
	}
	closeStore()
	if err := otelShutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("otel shutdown")
	}
}

// openStore builds the backend named by kind. The returned func releases it.
func openStore(ctx context.Context, kind string) (domain.UserStore, func(), error) {
	switch strings.ToLower(kind) {
	case "memory":
		return storage.NewMemory(), func() {}, nil
	case "postgres":
		url := env.String("DATABASE_URL", "")
		if url == "" {
			return nil, nil, errors.New("missing DATABASE_URL")
		}
		pg, err := storage.OpenPostgres(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("schema: %w", err)
		}
		return pg, pg.Close, nil
	case "tables":
		connStr := env.String("STORAGE_CONNECTION_STRING", "")
		usersTable := env.String("USERS_TABLE", "")
		if connStr == "" || usersTable == "" {
			return nil, nil, errors.New("missing storage config")
		}
		t, err := storage.NewTables(connStr, usersTable)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown USER_STORE %q", kind)
	}
}

func openJournals(logger *log.Logger) (journal.Fanout, error) {
	cfg := journal.ConfigFromEnv()
	var out journal.Fanout

	if queue := env.String("JOURNAL_QUEUE", ""); queue != "" {
		connStr := env.String("STORAGE_CONNECTION_STRING", "")
		if connStr == "" {
			return nil, errors.New("JOURNAL_QUEUE needs STORAGE_CONNECTION_STRING")
		}
		qs, err := journal.NewQueueSink(connStr, queue)
		if err != nil {
			return nil, err
		}
		out = append(out, journal.New(cfg, qs, logger))
	}

	brokers := env.String("KAFKA_BROKERS", "")
	topic := env.String("JOURNAL_TOPIC", "")
	if brokers != "" && topic != "" {
		out = append(out, journal.New(cfg, journal.NewKafkaSink(brokers, topic), logger))
	}
	return out, nil
}

// parseRedisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func parseRedisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
