// stepflow-server — REST API, движок выполнения и планировщик в одном процессе.
//
// Server:
//   - Загружает определения из каталога и из PostgreSQL (если настроен)
//   - Выполняет state machines в памяти
//   - Вызывает задачи локально или через RabbitMQ RPC на воркерах
//   - Запускает выполнения по расписаниям
//
// Конфигурация: файл из STEPFLOW_CONFIG (опционально) и переменные окружения.
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

	"github.com/shaiso/stepflow/internal/api"
	"github.com/shaiso/stepflow/internal/config"
	"github.com/shaiso/stepflow/internal/engine"
	"github.com/shaiso/stepflow/internal/handlers"
	"github.com/shaiso/stepflow/internal/mq"
	"github.com/shaiso/stepflow/internal/orchestrator"
	"github.com/shaiso/stepflow/internal/repo"
	"github.com/shaiso/stepflow/internal/scheduler"
	"github.com/shaiso/stepflow/internal/telemetry"
	"github.com/shaiso/stepflow/internal/worker"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("stepflow-server")
	logger.Info("starting stepflow-server")

	cfg, err := config.Load(os.Getenv("STEPFLOW_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "stepflow-server")
	if err != nil {
		logger.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}

	metrics := telemetry.NewMetrics()
	catalog := engine.NewCatalog(logger)

	// Определения из каталога
	if err := loadDefinitionsDir(cfg.Definitions.Dir, catalog, logger); err != nil {
		logger.Error("failed to load definitions", "dir", cfg.Definitions.Dir, "error", err)
		os.Exit(1)
	}

	// PostgreSQL (опционально)
	var (
		objectStore   handlers.ObjectStore = handlers.NewMemoryStore()
		scheduleStore scheduler.Store
		leader        scheduler.Leader
		definitions   api.DefinitionStore
	)
	if cfg.DatabaseURL != "" {
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL, repo.WithApplicationName("stepflow-server"))
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("connected to database")

		if err := repo.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}

		defRepo := repo.NewDefinitionRepo(pool)
		stored, err := defRepo.List(ctx)
		if err != nil {
			logger.Error("failed to load stored definitions", "error", err)
			os.Exit(1)
		}
		if err := engine.RegisterAll(catalog, stored); err != nil {
			logger.Error("failed to register stored definitions", "error", err)
			os.Exit(1)
		}

		definitions = defRepo
		objectStore = repo.NewObjectRepo(pool)
		scheduleStore = repo.NewScheduleRepo(pool)
		leader = repo.NewAdvisoryLock(pool, repo.SchedulerLockKey)
	}

	// Task Executor Registry
	registry := worker.NewRegistry(logger)
	h := handlers.New(handlers.Config{Store: objectStore, Bucket: cfg.Bucket, Logger: logger})
	if err := h.Register(registry); err != nil {
		logger.Error("failed to register handlers", "error", err)
		os.Exit(1)
	}
	if err := registerHTTPTasks(registry, cfg.HTTPTasks); err != nil {
		logger.Error("failed to register http tasks", "error", err)
		os.Exit(1)
	}

	// RabbitMQ (опционально): события выполнений и удалённые задачи
	var publisher orchestrator.ExecutionPublisher
	if cfg.RabbitMQURL != "" {
		conn, err := mq.Dial(ctx, mq.ConnectionConfig{
			URL:    cfg.RabbitMQURL,
			Name:   "stepflow-server",
			Logger: logger,
		})
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, conn); err != nil {
			logger.Error("failed to setup topology", "error", err)
			os.Exit(1)
		}
		logger.Debug("topology ready", "topology", mq.TopologyInfo())

		rpc := mq.NewRPCClient(conn, logger)
		defer rpc.Close()

		registry.SetDispatcher(worker.NewRemoteDispatcher(rpc))
		publisher = mq.NewPublisher(conn, logger)
	}

	orch := orchestrator.New(orchestrator.Config{
		Catalog:             catalog,
		Invoker:             registry,
		Publisher:           publisher,
		DefaultTaskTimeout:  cfg.TaskTimeout(),
		MaxParallelBranches: cfg.Engine.MaxBranches,
		RetainFinished:      cfg.Engine.RetainFinished,
		Metrics:             metrics,
		Logger:              logger,
	})

	sched := scheduler.New(scheduler.Config{
		Store:   scheduleStore,
		Starter: orch,
		Leader:  leader,
		Logger:  logger,
	})
	if err := sched.Load(ctx, cfg.Schedules); err != nil {
		logger.Error("failed to load schedules", "error", err)
		os.Exit(1)
	}
	go sched.Run(ctx)

	if cfg.Definitions.Watch && cfg.Definitions.Dir != "" {
		watcher := engine.NewWatcher(cfg.Definitions.Dir, catalog, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("definitions watcher stopped", "error", err)
			}
		}()
	}

	handler := api.NewHandler(api.Config{
		Orchestrator: orch,
		Definitions:  definitions,
		Scheduler:    sched,
		Metrics:      metrics,
		Logger:       logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if orch.IsStopped() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", metrics.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "state_machines", catalog.Names())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	orch.Stop()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// loadDefinitionsDir регистрирует определения из каталога.
// Отсутствующий каталог не является ошибкой.
func loadDefinitionsDir(dir string, catalog *engine.Catalog, logger *slog.Logger) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Warn("definitions dir not found, skipping", "dir", dir)
		return nil
	}

	defs, err := engine.LoadDir(dir)
	if err != nil {
		return err
	}
	if err := engine.RegisterAll(catalog, defs); err != nil {
		return err
	}
	logger.Info("definitions loaded", "dir", dir, "count", len(defs))
	return nil
}

// registerHTTPTasks регистрирует задачи, выполняемые HTTP-запросом.
func registerHTTPTasks(registry *worker.Registry, tasks []config.HTTPTask) error {
	for _, t := range tasks {
		exec := worker.NewHTTPExecutor(t.URL)
		if t.Method != "" {
			exec.Method = t.Method
		}
		exec.Headers = t.Headers
		if t.TimeoutSec > 0 {
			exec.Client = &http.Client{Timeout: time.Duration(t.TimeoutSec) * time.Second}
		}
		if err := registry.Register(t.ID, exec); err != nil {
			return err
		}
	}
	return nil
}
