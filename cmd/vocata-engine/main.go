// Vocata Engine — пул выполнения tasks одного stage.
//
// Engine:
//   - Потребляет task.dispatch из своей очереди engine.<engine_id>
//   - Захватывает task CAS'ом (READY -> RUNNING) с lease
//   - Вызывает inference-сервис stage'а по HTTP
//   - Публикует отчёт в tasks.report
//
// Терминальный статус task'а выставляет Scheduler по отчёту; без
// RabbitMQ engine пишет переход в хранилище сам, Scheduler сводит
// состояние poll'ом.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/engine"
	"github.com/shaiso/Vocata/internal/mq"
	"github.com/shaiso/Vocata/internal/repo"
	"github.com/shaiso/Vocata/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()

	engineID := os.Getenv("ENGINE_ID")
	if engineID == "" {
		logger.Error("ENGINE_ID is required (stage name, e.g. \"transcribe\")")
		os.Exit(1)
	}

	inferenceURL := os.Getenv("INFERENCE_URL")
	if inferenceURL == "" {
		logger.Error("INFERENCE_URL is required")
		os.Exit(1)
	}

	logger = logger.With("engine_id", engineID)
	logger.Info("starting vocata-engine")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	taskRepo := repo.NewTaskRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Executor: engine_id совпадает с именем stage
	registry := engine.NewRegistry()
	registry.Register(domain.Stage(engineID), engine.NewHTTPExecutor(inferenceURL))

	// Создаём runner
	runner := engine.New(engine.Config{
		EngineID:  engineID,
		TaskRepo:  taskRepo,
		Publisher: publisher,
		Conn:      mqConn,
		Registry:  registry,
		Logger:    logger,
	})

	// Запускаем runner
	if err := runner.Start(ctx); err != nil {
		logger.Error("failed to start engine runner", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8084"
	if v := os.Getenv("ENGINE_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем runner
	runner.Stop()
	logger.Info("vocata-engine stopped")
}
