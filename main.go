package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cloud-alarming/internal/alarms/application"
	"cloud-alarming/internal/alarms/evaluator"
	"cloud-alarming/internal/alarms/notify"
	"cloud-alarming/internal/alarms/scheduler"
	alarmstore "cloud-alarming/internal/alarms/storage/postgres"
	"cloud-alarming/internal/backends"
	"cloud-alarming/internal/config"
	"cloud-alarming/internal/observability/metrics"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	dsn := cfg.DatabaseURL()
	if dsn == "" {
		logger.Fatal("configuration error: alarm store DSN is not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("db ping error", zap.Error(err))
	}

	metrics.Init()

	registry, err := buildRegistry(cfg, db)
	if err != nil {
		logger.Fatal("backend configuration error", zap.Error(err))
	}

	store, err := alarmstore.NewStore(db, logger)
	if err != nil {
		logger.Fatal("alarm store error", zap.Error(err))
	}

	notifier, amqpConn, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Fatal("notifier configuration error", zap.Error(err))
	}
	if amqpConn != nil {
		defer amqpConn.Close()
	}
	notifier.Start()

	machine, err := application.NewStateMachine(store, notifier, logger)
	if err != nil {
		logger.Fatal("state machine error", zap.Error(err))
	}

	eval, err := evaluator.New(registry,
		cfg.Cycle.DefaultSeriesBackend,
		cfg.Cycle.DefaultEventsBackend,
		evaluator.WithPartialPolicy(evaluator.PartialPolicy(cfg.Cycle.PartialPolicy)),
	)
	if err != nil {
		logger.Fatal("evaluator error", zap.Error(err))
	}

	sched, err := scheduler.New(store, eval, machine, logger,
		scheduler.WithWorkers(cfg.Cycle.Workers),
		scheduler.WithCronSpec(cfg.Cycle.Spec),
		scheduler.WithCadence(cfg.Cycle.Cadence),
		scheduler.WithGrace(cfg.Cycle.Grace),
	)
	if err != nil {
		logger.Fatal("scheduler error", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("scheduler start error", zap.Error(err))
	}
	logger.Info("alarm engine started",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("cycle", cfg.Cycle.Spec),
		zap.Int("workers", cfg.Cycle.Workers))

	<-ctx.Done()
	logger.Info("shutting down")

	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.Grace)
	if err := notifier.Close(drainCtx); err != nil {
		logger.Warn("notifier shutdown", zap.Error(err))
	}
	cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func buildRegistry(cfg config.Config, db *sql.DB) (*backends.Registry, error) {
	registry := backends.NewRegistry()
	for _, bc := range cfg.Backends {
		switch bc.Type {
		case config.BackendPrometheus:
			backend, err := backends.NewPrometheusBackend(bc.Name, bc.Address,
				backends.WithPrometheusTimeout(bc.Timeout))
			if err != nil {
				return nil, err
			}
			if err := registry.RegisterSeries(bc.Name, backend); err != nil {
				return nil, err
			}
		case config.BackendPostgres:
			backend, err := backends.NewPostgresBackend(bc.Name, db,
				backends.WithSamplesTable(bc.Table),
				backends.WithPostgresTimeout(bc.Timeout))
			if err != nil {
				return nil, err
			}
			if err := registry.RegisterSeries(bc.Name, backend); err != nil {
				return nil, err
			}
		case config.BackendRedis:
			backend, err := backends.NewRedisEventBackend(bc.Name, bc.Address,
				backends.WithEventStream(bc.Stream),
				backends.WithRedisTimeout(bc.Timeout))
			if err != nil {
				return nil, err
			}
			if err := registry.RegisterEvents(bc.Name, backend); err != nil {
				return nil, err
			}
		}
	}
	return registry, nil
}

func buildNotifier(cfg config.Config, logger *zap.Logger) (*notify.Notifier, *amqp.Connection, error) {
	opts := []notify.Option{
		notify.WithSink("webhook", notify.NewWebhookSink()),
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithWorkers(cfg.Notify.Workers),
		notify.WithMaxAttempts(cfg.Notify.MaxAttempts),
		notify.WithBackoff(cfg.Notify.InitialBackoff, cfg.Notify.MaxBackoff),
	}

	var conn *amqp.Connection
	if url := cfg.AMQPURL(); url != "" {
		var err error
		conn, err = amqp.Dial(url)
		if err != nil {
			return nil, nil, err
		}
		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		sink, err := notify.NewAMQPSink(channel)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		opts = append(opts, notify.WithSink("amqp", sink))
	}

	notifier, err := notify.NewNotifier(logger, opts...)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, nil, err
	}
	return notifier, conn, nil
}
