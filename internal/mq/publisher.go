package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeJobSubmitted    MessageType = "job.submitted"
	MessageTypeTaskDispatch    MessageType = "task.dispatch"
	MessageTypeTaskReport      MessageType = "task.report"
	MessageTypeWorkerHeartbeat MessageType = "worker.heartbeat"
	MessageTypeSessionEnd      MessageType = "session.end"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// JobSubmittedPayload — payload для сообщения о новом job.
type JobSubmittedPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// TaskDispatchPayload — payload для постановки task'а в очередь engine'а.
// Доставка — at-least-once: consumer обязан выиграть CAS-claim, прежде
// чем начать выполнение.
type TaskDispatchPayload struct {
	TaskID   uuid.UUID `json:"task_id"`
	JobID    uuid.UUID `json:"job_id"`
	Stage    string    `json:"stage"`
	EngineID string    `json:"engine_id"`
}

// TaskReportPayload — payload отчёта engine'а о результате task'а.
type TaskReportPayload struct {
	TaskID     uuid.UUID      `json:"task_id"`
	JobID      uuid.UUID      `json:"job_id"`
	Stage      string         `json:"stage"`
	Status     string         `json:"status"` // COMPLETED или FAILED
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempt    int            `json:"attempt"`
	DurationMS int64          `json:"duration_ms"`
}

// WorkerHeartbeatPayload — payload heartbeat'а real-time worker'а.
// active_sessions — self-report, авторитетный над счётчиком в хранилище.
type WorkerHeartbeatPayload struct {
	WorkerID       string    `json:"worker_id"`
	Endpoint       string    `json:"endpoint"`
	Capacity       int       `json:"capacity"`
	ActiveSessions int       `json:"active_sessions"`
	Models         []string  `json:"models,omitempty"`
	Languages      []string  `json:"languages,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SessionEndPayload — payload протокольного завершения live-сессии.
type SessionEndPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Reason    string    `json:"reason"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishJobSubmitted публикует событие о новом job.
// Потребитель: Scheduler.
func (p *Publisher) PublishJobSubmitted(ctx context.Context, jobID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobSubmitted,
		Payload:   JobSubmittedPayload{JobID: jobID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeJobs, RoutingKeySubmitted, msg)
}

// PublishTaskDispatch ставит task в очередь его engine'а.
// Потребитель: Engine runner соответствующего stage.
func (p *Publisher) PublishTaskDispatch(ctx context.Context, payload TaskDispatchPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskDispatch,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKey(payload.EngineID), msg)
}

// PublishTaskReport публикует отчёт о результате task'а.
// Потребитель: Scheduler.
func (p *Publisher) PublishTaskReport(ctx context.Context, payload TaskReportPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskReport,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyReport, msg)
}

// PublishHeartbeat публикует heartbeat worker'а.
// Потребитель: Session router.
func (p *Publisher) PublishHeartbeat(ctx context.Context, payload WorkerHeartbeatPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeWorkerHeartbeat,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeWorkers, RoutingKeyHeartbeat, msg)
}

// PublishSessionEnd публикует протокольное завершение сессии.
// Потребитель: Session router.
func (p *Publisher) PublishSessionEnd(ctx context.Context, payload SessionEndPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeSessionEnd,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeWorkers, RoutingKeySessionEnd, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
