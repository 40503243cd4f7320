// stepflow-worker — выполняет задачи, вызванные движком через RabbitMQ.
//
// Worker:
//   - Получает запросы на вызов задач из очереди tasks.invoke
//   - Выполняет обработчики задач и HTTP-задачи из конфигурации
//   - Отправляет результат или Failure в reply-очередь вызывающего
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/stepflow/internal/config"
	"github.com/shaiso/stepflow/internal/handlers"
	"github.com/shaiso/stepflow/internal/mq"
	"github.com/shaiso/stepflow/internal/repo"
	"github.com/shaiso/stepflow/internal/telemetry"
	"github.com/shaiso/stepflow/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("stepflow-worker")
	logger.Info("starting stepflow-worker")

	cfg, err := config.Load(os.Getenv("STEPFLOW_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Объектное хранилище обработчиков: PostgreSQL, если настроен
	var store handlers.ObjectStore = handlers.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL, repo.WithApplicationName("stepflow-worker"), repo.WithMaxConns(4))
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := repo.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		store = repo.NewObjectRepo(pool)
		logger.Info("database connected")
	}

	registry := worker.NewRegistry(logger)
	h := handlers.New(handlers.Config{Store: store, Bucket: cfg.Bucket, Logger: logger})
	if err := h.Register(registry); err != nil {
		logger.Error("failed to register handlers", "error", err)
		os.Exit(1)
	}
	for _, t := range cfg.HTTPTasks {
		exec := worker.NewHTTPExecutor(t.URL)
		if t.Method != "" {
			exec.Method = t.Method
		}
		exec.Headers = t.Headers
		if t.TimeoutSec > 0 {
			exec.Client = &http.Client{Timeout: time.Duration(t.TimeoutSec) * time.Second}
		}
		if err := registry.Register(t.ID, exec); err != nil {
			logger.Error("failed to register http task", "task", t.ID, "error", err)
			os.Exit(1)
		}
	}

	// RabbitMQ
	mqURL := cfg.RabbitMQURL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	conn, err := mq.Dial(ctx, mq.ConnectionConfig{
		URL:    mqURL,
		Name:   "stepflow-worker",
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

	w := worker.New(worker.Config{
		Publisher:      mq.NewPublisher(conn, logger),
		Conn:           conn,
		Registry:       registry,
		Prefetch:       cfg.Worker.Prefetch,
		DefaultTimeout: cfg.TaskTimeout(),
		Logger:         logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	metrics := telemetry.NewMetrics()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if w.IsStopped() || !conn.IsConnected() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	w.Stop()
	logger.Info("stepflow-worker stopped")
}
