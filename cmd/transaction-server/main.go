// The transaction server owns users and transactions and runs the saga
// coordinator plus the audit correlation registry. Business logic lives in
// the internal packages; main only wires dependencies and the lifecycle.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	authhandler "fintrail/internal/auth/handler"
	authservice "fintrail/internal/auth/service"
	userstore "fintrail/internal/auth/store/user"
	"fintrail/internal/platform/config"
	"fintrail/internal/platform/httpserver"
	"fintrail/internal/platform/kafka"
	"fintrail/internal/platform/kafka/consumer"
	"fintrail/internal/platform/logger"
	"fintrail/internal/platform/metrics"
	"fintrail/internal/platform/middleware"
	"fintrail/internal/platform/postgres"
	"fintrail/internal/platform/redis"
	txnhandler "fintrail/internal/transaction/handler"
	"fintrail/internal/transaction/migrations"
	"fintrail/internal/transaction/query"
	"fintrail/internal/transaction/saga"
	txnstore "fintrail/internal/transaction/store/transaction"
	"fintrail/pkg/platform/httputil"
	"fintrail/pkg/streams"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv("transaction-service")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName, cfg.Production())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(db, migrations.FS, migrations.Path); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	broker, err := kafka.NewClient(cfg.BrokerURL, log)
	if err != nil {
		log.Error("broker unavailable", "error", err)
		os.Exit(1)
	}
	defer broker.Close()
	if err := broker.EnsureStream(ctx, streams.Subjects, streams.StreamRetention); err != nil {
		log.Error("stream provisioning failed", "error", err)
		os.Exit(1)
	}

	cache, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if cache != nil {
		defer cache.Close()
	}

	sagaMetrics := metrics.NewSagaMetrics()
	httpMetrics := metrics.NewHTTPMetrics(cfg.ServiceName)
	writer := httputil.NewWriter(!cfg.Production())

	registry := saga.NewRegistry(log, sagaMetrics)
	// Every replica needs its own copy of every ack, so the registry joins a
	// per-instance consumer group rather than a shared one.
	registryGroup := cfg.ServiceName + "-registry-" + uuid.NewString()[:8]
	registryConsumer, err := consumer.New(cfg.BrokerURL, registryGroup,
		[]string{streams.SubjectAuditCreated, streams.SubjectAuditFailed},
		registry, log)
	if err != nil {
		log.Error("registry consumer unavailable", "error", err)
		os.Exit(1)
	}

	users := userstore.NewPostgres(db)
	transactions := txnstore.NewPostgres(db)

	auth := authservice.New(users, cache, log, cfg.JWTSecret, cfg.JWTExpiresIn)
	coordinator := saga.NewCoordinator(db, transactions, registry, broker, log, sagaMetrics, cfg.ServiceName, cfg.AuditAckTimeout)
	queries := query.New(transactions)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.Logger(log))
	router.Use(middleware.Instrument(httpMetrics))

	router.Get("/health", healthHandler(db, broker, cache, writer))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	authhandler.New(auth, auth, log, writer).Register(router)
	txnhandler.New(coordinator, queries, auth, log, writer).Register(router)

	srv := httpserver.New(cfg.Addr(), router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The registry subscription must be live before any saga publishes.
		return registryConsumer.Run(gctx)
	})
	g.Go(func() error {
		log.Info("transaction server listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
		// Stop the ack subscription, then fail outstanding waiters so their
		// sagas roll back before the broker connection drains.
		registryConsumer.Close()
		registry.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func healthHandler(db interface {
	PingContext(ctx context.Context) error
}, broker *kafka.Client, cache *redis.Client, writer *httputil.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"database": "ok", "broker": "ok"}
		healthy := true
		if err := db.PingContext(ctx); err != nil {
			status["database"] = "unreachable"
			healthy = false
		}
		if err := broker.Ping(ctx); err != nil {
			status["broker"] = "unreachable"
			healthy = false
		}
		if cache != nil {
			status["redis"] = "ok"
			if err := cache.Health(ctx); err != nil {
				status["redis"] = "unreachable"
				healthy = false
			}
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		writer.WriteJSON(w, r, code, status)
	}
}
