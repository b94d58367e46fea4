package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/Vocata/internal/domain"
	"github.com/shaiso/Vocata/internal/mq"
	"github.com/shaiso/Vocata/internal/registry"
)

// Router — event-driven часть session router'а.
//
// Потребляет:
//   - workers.heartbeat — liveness и self-reported загрузка worker'ов
//   - sessions.end      — протокольные завершения сессий от worker'ов
//
// Аллокация сессий идёт синхронно через HTTP API (Allocator),
// Router обслуживает только асинхронные события.
type Router struct {
	registry  *registry.Registry
	allocator *Allocator

	conn *mq.Connection

	heartbeatConsumer *mq.Consumer
	endConsumer       *mq.Consumer

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewRouter создаёт новый Router.
func NewRouter(reg *registry.Registry, allocator *Allocator, conn *mq.Connection, logger *slog.Logger) *Router {
	return &Router{
		registry:  reg,
		allocator: allocator,
		conn:      conn,
		logger:    logger,
	}
}

// Start запускает consumers.
func (r *Router) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	r.heartbeatConsumer = mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueWorkersHeartbeat),
		Handler:  r.handleHeartbeat,
		Prefetch: 20,
	})

	r.endConsumer = mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueSessionsEnd),
		Handler:  r.handleSessionEnd,
		Prefetch: 10,
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.heartbeatConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("heartbeat consumer error", "error", err)
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.endConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("session end consumer error", "error", err)
		}
	}()

	r.logger.Info("session router started")
	return nil
}

// Stop останавливает Router.
func (r *Router) Stop() {
	r.logger.Info("stopping session router...")

	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	if r.heartbeatConsumer != nil {
		r.heartbeatConsumer.Stop()
	}
	if r.endConsumer != nil {
		r.endConsumer.Stop()
	}

	r.wg.Wait()
	r.logger.Info("session router stopped")
}

// handleHeartbeat обрабатывает heartbeat worker'а.
func (r *Router) handleHeartbeat(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.WorkerHeartbeatPayload](&delivery.Message)
	if err != nil {
		r.logger.Error("failed to parse worker.heartbeat payload", "error", err)
		return err
	}

	err = r.registry.Heartbeat(ctx, payload.WorkerID, payload.ActiveSessions)
	if errors.Is(err, registry.ErrWorkerNotFound) {
		// Heartbeat до регистрации: worker после рестарта router'а
		// с чистой БД. Регистрируем по данным heartbeat'а.
		_, err = r.registry.Register(ctx, registry.Registration{
			ID:        payload.WorkerID,
			Endpoint:  payload.Endpoint,
			Capacity:  payload.Capacity,
			Models:    payload.Models,
			Languages: payload.Languages,
		})
	}
	if err != nil {
		r.logger.Error("failed to apply heartbeat",
			"worker_id", payload.WorkerID,
			"error", err,
		)
		return err
	}

	return nil
}

// handleSessionEnd обрабатывает протокольное завершение сессии.
func (r *Router) handleSessionEnd(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.SessionEndPayload](&delivery.Message)
	if err != nil {
		r.logger.Error("failed to parse session.end payload", "error", err)
		return err
	}

	reason := payload.Reason
	if reason == "" {
		reason = domain.EndReasonClientClose
	}

	err = r.allocator.End(ctx, payload.SessionID, reason)
	if errors.Is(err, ErrSessionNotFound) {
		// Сессия уже вычищена retention'ом — дубликат, ack.
		r.logger.Debug("session end for unknown session discarded",
			"session_id", payload.SessionID,
		)
		return nil
	}
	if err != nil {
		r.logger.Error("failed to end session",
			"session_id", payload.SessionID,
			"error", err,
		)
		return err
	}

	return nil
}
