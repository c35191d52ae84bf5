// Command server wires the helpdesk assignment service: storage, the
// expert selector, the optional notification and event collaborators, and
// the HTTP transport. Business logic lives under internal/helpdesk.
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"troubledesk/internal/embedding"
	"troubledesk/internal/events"
	"troubledesk/internal/helpdesk/handler"
	"troubledesk/internal/helpdesk/matching"
	"troubledesk/internal/helpdesk/ports"
	"troubledesk/internal/helpdesk/service"
	"troubledesk/internal/helpdesk/store/memory"
	pgstore "troubledesk/internal/helpdesk/store/postgres"
	"troubledesk/internal/notify"
	"troubledesk/internal/platform/config"
	"troubledesk/internal/platform/httpserver"
	"troubledesk/internal/platform/logger"
	"troubledesk/internal/platform/metrics"
	"troubledesk/internal/platform/middleware"
	"troubledesk/internal/platform/postgres"
	platformredis "troubledesk/internal/platform/redis"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	repo, closeRepo, err := buildRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	selectorOpts := []matching.SelectorOption{
		matching.WithCrossRegion(true),
		matching.WithSelectorLogger(log),
	}
	if cfg.EmbeddingURL != "" {
		selectorOpts = append(selectorOpts, matching.WithEmbedder(embedding.New(cfg.EmbeddingURL)))
	}
	selector, err := matching.NewSelector(selectorOpts...)
	if err != nil {
		return err
	}
	regions, err := matching.NewRegionBalancer(repo, cfg.Regions, log)
	if err != nil {
		return err
	}

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithRetryDelay(cfg.RetryDelay),
	}

	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		svcOpts = append(svcOpts, service.WithNotifier(notify.NewRedis(redisClient.Client)))
		log.Info("redis notifier enabled")
	}

	var publisher *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		svcOpts = append(svcOpts, service.WithEventPublisher(publisher))
		log.Info("kafka event publisher enabled", "topic", cfg.KafkaTopic)
	}

	svc, err := service.New(repo, selector, regions, svcOpts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.RealIP, middleware.RequestLogger(log), chimw.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.Group(func(r chi.Router) {
		r.Use(handler.Auth([]byte(cfg.JWTSigningKey)))
		handler.New(svc, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting troubledesk", "addr", cfg.Addr, "regions", cfg.Regions)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if publisher != nil {
			return publisher.Close(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}

// buildRepository selects the postgres store when DATABASE_URL is set and
// the in-memory store otherwise.
func buildRepository(ctx context.Context, cfg config.Config, log *slog.Logger) (ports.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return memory.New(), func() {}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pgstore.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("postgres store ready")
	return pgstore.New(pool), pool.Close, nil
}
