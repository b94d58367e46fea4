// Vocata Sessiond — фоновая часть session router'а.
//
// Sessiond:
//   - Потребляет workers.heartbeat и sessions.end из RabbitMQ
//   - Следит за здоровьем парка worker'ов (Health Monitor)
//   - Эвиктит мёртвых worker'ов и принудительно завершает их сессии
//
// Синхронная аллокация сессий идёт через vocata-api; sessiond
// обслуживает только асинхронные события и liveness.
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
	"github.com/shaiso/Vocata/internal/registry"
	"github.com/shaiso/Vocata/internal/repo"
	"github.com/shaiso/Vocata/internal/session"
	"github.com/shaiso/Vocata/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting vocata-sessiond")

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

	workerRepo := repo.NewWorkerRepo(pool)
	sessionRepo := repo.NewSessionRepo(pool)

	workerRegistry := registry.NewRegistry(workerRepo, logger)
	allocator := session.NewAllocator(workerRepo, sessionRepo, logger)

	// RabbitMQ: без него heartbeats принимает только HTTP API,
	// а событийный router не запускается.
	var router *session.Router
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running without event router", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		router = session.NewRouter(workerRegistry, allocator, mqConn, logger)
		if err := router.Start(ctx); err != nil {
			logger.Error("failed to start session router", "error", err)
			os.Exit(1)
		}
	}

	// Health Monitor
	monitor := registry.NewMonitor(workerRepo, allocator, logger, registry.MonitorConfig{})
	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("monitor error", "error", err)
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8085"
	if v := os.Getenv("SESSIOND_PORT"); v != "" {
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

	if router != nil {
		router.Stop()
	}
	logger.Info("vocata-sessiond stopped")
}
