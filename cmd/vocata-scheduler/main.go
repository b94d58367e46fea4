// Vocata Scheduler — управляет выполнением jobs.
//
// Scheduler:
//   - Получает новые jobs из RabbitMQ (и polling'ом как fallback)
//   - Строит DAG tasks по параметрам job
//   - Диспатчит готовые tasks в очереди engines
//   - Применяет отчёты, retry-политику и reaper истёкших lease
//   - Финализирует jobs и чистит старые записи по расписанию
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Vocata/internal/mq"
	"github.com/shaiso/Vocata/internal/repo"
	"github.com/shaiso/Vocata/internal/scheduler"
	"github.com/shaiso/Vocata/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting vocata-scheduler")

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

	// Создаём репозитории
	jobRepo := repo.NewJobRepo(pool)
	taskRepo := repo.NewTaskRepo(pool)
	sessionRepo := repo.NewSessionRepo(pool)

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

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Создаём scheduler
	sched := scheduler.New(scheduler.Config{
		JobRepo:   jobRepo,
		TaskRepo:  taskRepo,
		Publisher: publisher,
		Conn:      mqConn,
		Logger:    logger,
	})

	// Запускаем scheduler
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Retention: чистка терминальных jobs и завершённых сессий по cron
	retention, err := scheduler.NewRetention(scheduler.RetentionConfig{
		JobRepo:     jobRepo,
		SessionRepo: sessionRepo,
		Logger:      logger,
		CronExpr:    os.Getenv("RETENTION_CRON"),
	})
	if err != nil {
		logger.Error("failed to create retention", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := retention.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("retention error", "error", err)
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("SCHEDULER_PORT"); v != "" {
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

	// Останавливаем scheduler
	sched.Stop()
	logger.Info("vocata-scheduler stopped")
}
