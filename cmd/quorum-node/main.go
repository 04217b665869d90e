// Quorum node — узел кластера: выбор лидера, распределённый
// планировщик задач, admin API, /healthz и /metrics.
//
// Использование:
//
//	quorum-node [--config quorum.yaml]
//
// Конфигурация: internal/config (YAML + переменные окружения).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Quorum/internal/api"
	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/config"
	"github.com/shaiso/Quorum/internal/election"
	"github.com/shaiso/Quorum/internal/fakestore"
	"github.com/shaiso/Quorum/internal/jobs"
	"github.com/shaiso/Quorum/internal/kinds"
	"github.com/shaiso/Quorum/internal/mq"
	"github.com/shaiso/Quorum/internal/recurring"
	"github.com/shaiso/Quorum/internal/redisstore"
	"github.com/shaiso/Quorum/internal/repo"
	"github.com/shaiso/Quorum/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

var startTime = time.Now()

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "quorum-node",
		Short:         "Quorum cluster node",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config (default: $QUORUM_CONFIG)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath, config.NewDefaultNodeIDProvider())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.WithNodeID(telemetry.NewLogger(telemetry.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}, true), cfg.NodeID)
	logger.Info("starting quorum-node", "version", version, "lease_backend", cfg.LeaseBackend)

	// PostgreSQL: задачи и (по умолчанию) lease
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL, repo.WithWaitTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("connected to database")

	leases, closeLeases, err := newLeaseStore(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeLeases()

	// RabbitMQ
	conn, err := mq.NewConnection(cfg.RabbitMQURL, logger, mq.WithConnectionName("quorum-"+cfg.NodeID))
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	if err := mq.SetupTopology(ctx, conn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	messageBus := mq.NewBus(conn, logger)
	logger.Info("connected to rabbitmq")

	// Выбор лидера
	elCfg := cfg.Election
	elCfg.Identity = cfg.NodeID
	elCfg.Logger = logger
	elector, err := election.New(elCfg, leases)
	if err != nil {
		return fmt.Errorf("create elector: %w", err)
	}

	// Реестры заполняются до Freeze
	kindRegistry := jobs.NewRegistry()
	if err := kinds.Register(kindRegistry, kinds.Config{Logger: logger}); err != nil {
		return fmt.Errorf("register job kinds: %w", err)
	}
	messages := broadcast.NewRegistry(logger)

	scheduler, err := jobs.New(jobs.Config{
		NodeID:         cfg.NodeID,
		DefaultQueue:   cfg.Jobs.DefaultQueue,
		ClockTolerance: cfg.Jobs.ClockTolerance,
		StoreRetry:     cfg.Jobs.StoreRetry,
		Logger:         logger,
	}, repo.NewJobRepo(pool), messageBus, kindRegistry, messages)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	announcer := &leaderAnnouncer{elector: elector, messages: messages, bus: messageBus, logger: logger}
	if err := announcer.register(); err != nil {
		return fmt.Errorf("register leader messages: %w", err)
	}
	announcer.attach()

	kindRegistry.Freeze()
	messages.Freeze()

	defs, err := cfg.RecurringDefinitions()
	if err != nil {
		return err
	}
	runner, err := recurring.New(recurring.Config{Definitions: defs, Logger: logger}, scheduler, kindRegistry)
	if err != nil {
		return fmt.Errorf("create recurring runner: %w", err)
	}
	runner.Attach(elector)

	elector.OnNewLeader(func(_ context.Context, identity string) {
		logger.Info("leader changed", "leader", identity)
	})

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, q := range cfg.Jobs.Queues {
		if err := scheduler.Listen(ctx, q); err != nil {
			scheduler.Close()
			return fmt.Errorf("listen %s: %w", q, err)
		}
	}

	// HTTP: admin API, /healthz, /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !conn.IsConnected() {
			http.Error(w, "rabbitmq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	api.NewHandler(api.Config{
		Scheduler: scheduler,
		Jobs:      repo.NewJobRepo(pool),
		Kinds:     kindRegistry,
		Cluster:   elector,
		Recurring: runner,
		Logger:    logger,
	}).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := elector.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()

	// Lease уже освобождён Run; таймеры останавливаются без ack,
	// анонсы будут переданы другим узлам.
	runner.Stop()
	scheduler.Close()

	logger.Info("stopped")
	return err
}

// newLeaseStore выбирает хранилище lease по конфигурации.
func newLeaseStore(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) (election.LeaseStore, func(), error) {
	switch cfg.LeaseBackend {
	case config.LeaseBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("using redis lease store", "addr", cfg.RedisAddr)
		return redisstore.NewLeaseStore(client), func() { client.Close() }, nil

	case config.LeaseBackendMemory:
		logger.Warn("using in-memory lease store, leadership is local to this process")
		return fakestore.NewLeaseStore(), func() {}, nil

	default:
		return repo.NewLeaseRepo(pool), func() {}, nil
	}
}
