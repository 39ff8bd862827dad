// The audit server owns the audit trail: it materializes saga audit requests
// from the stream, applies compensation, and serves the audit query surface.
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
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	auditconsumer "fintrail/internal/audit/consumer"
	audithandler "fintrail/internal/audit/handler"
	"fintrail/internal/audit/migrations"
	auditservice "fintrail/internal/audit/service"
	auditstore "fintrail/internal/audit/store/postgres"
	"fintrail/internal/platform/config"
	"fintrail/internal/platform/httpserver"
	"fintrail/internal/platform/kafka"
	"fintrail/internal/platform/kafka/consumer"
	"fintrail/internal/platform/logger"
	"fintrail/internal/platform/metrics"
	"fintrail/internal/platform/middleware"
	"fintrail/internal/platform/postgres"
	"fintrail/pkg/platform/httputil"
	"fintrail/pkg/streams"
)

// consumerGroup is shared across audit replicas so each stream message is
// processed once.
const consumerGroup = "audit-service"

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv("audit-service")
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

	consumerMetrics := metrics.NewConsumerMetrics()
	httpMetrics := metrics.NewHTTPMetrics(cfg.ServiceName)
	writer := httputil.NewWriter(!cfg.Production())

	store := auditstore.New(db)

	router := auditconsumer.NewRouter(log)
	router.Register(streams.SubjectAuditCreate,
		auditconsumer.NewCreateHandler(store, broker, log, consumerMetrics))
	router.Register(streams.SubjectAuditRollback,
		auditconsumer.NewRollbackHandler(store, log, consumerMetrics))

	streamConsumer, err := consumer.New(cfg.BrokerURL, consumerGroup,
		[]string{streams.SubjectAuditCreate, streams.SubjectAuditRollback},
		router, log)
	if err != nil {
		log.Error("stream consumer unavailable", "error", err)
		os.Exit(1)
	}

	service := auditservice.New(store)

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recovery(log))
	mux.Use(middleware.CORS(cfg.AllowedOrigins))
	mux.Use(middleware.Logger(log))
	mux.Use(middleware.Instrument(httpMetrics))

	mux.Get("/health", healthHandler(db, broker, writer))
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())
	audithandler.New(service, log, writer).Register(mux)

	srv := httpserver.New(cfg.Addr(), mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return streamConsumer.Run(gctx)
	})
	g.Go(func() error {
		log.Info("audit server listening", "addr", cfg.Addr())
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
		// Close the subscription first so no new messages arrive while the
		// broker connection drains pending acks.
		streamConsumer.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func healthHandler(db interface {
	PingContext(ctx context.Context) error
}, broker *kafka.Client, writer *httputil.Writer) http.HandlerFunc {
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

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		writer.WriteJSON(w, r, code, status)
	}
}
