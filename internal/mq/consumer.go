package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает доставленное сообщение.
// Ненулевая ошибка возвращает сообщение в очередь (nack + requeue);
// сообщения, которые очередь отвергает повторно, уходят в vocata.dlq
// через DLX-аргументы самой очереди.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — сообщение, доставленное consumer'ом.
// Подтверждение (ack/nack) делает сам consumer по результату Handler'а.
type Delivery struct {
	// Message — конверт Vocata (id, type, payload, timestamp).
	Message Message

	// Queue — очередь, из которой пришло сообщение.
	Queue string

	// Redelivered — повторная доставка после nack или разрыва.
	Redelivered bool
}

// ConsumerConfig — конфигурация consumer'а.
type ConsumerConfig struct {
	// Queue — имя очереди (jobs.submitted, tasks.report, engine.<id>...).
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — глубина незаподтверждённых доставок (default: 1).
	Prefetch int
}

// Consumer читает одну очередь и гоняет сообщения через Handler.
// Разрыв соединения переживает сам: ждёт redial и открывает поток заново.
type Consumer struct {
	conn     *Connection
	log      *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	stop context.CancelFunc
}

// NewConsumer создаёт consumer очереди cfg.Queue.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		log:      logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start блокирует до отмены контекста, потребляя очередь.
// После разрыва соединения ждёт Resumed() и продолжает.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.stop = cancel

	for {
		err := c.drain(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Warn("consumer interrupted, waiting for reconnect", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Resumed():
		}
	}
}

// Stop прерывает Start.
func (c *Consumer) Stop() {
	if c.stop != nil {
		c.stop()
	}
}

// drain открывает поток доставки и обрабатывает его до закрытия.
func (c *Consumer) drain(ctx context.Context) error {
	stream, err := c.open()
	if err != nil {
		return err
	}

	c.log.Info("consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-stream:
			if !ok {
				return ErrStreamClosed
			}
			c.dispatch(ctx, raw)
		}
	}
}

// open настраивает prefetch и подписывается на очередь.
func (c *Consumer) open() (<-chan amqp.Delivery, error) {
	ch := c.conn.channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	stream, err := ch.Consume(
		c.queue,
		"vocata."+c.queue, // consumer tag
		false,             // ack вручную по результату Handler'а
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}

	return stream, nil
}

// dispatch прогоняет одну доставку через Handler и подтверждает её.
func (c *Consumer) dispatch(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		// Конверт не читается — retry бессмыслен, сразу в DLQ
		c.log.Error("malformed message, sending to DLQ",
			"error", err,
			"body", string(raw.Body),
		)
		raw.Nack(false, false)
		return
	}

	d := &Delivery{
		Message:     msg,
		Queue:       c.queue,
		Redelivered: raw.Redelivered,
	}

	if err := c.handler(ctx, d); err != nil {
		c.log.Error("handler failed, requeueing",
			"message_id", msg.ID,
			"type", msg.Type,
			"redelivered", raw.Redelivered,
			"error", err,
		)
		raw.Nack(false, true)
		return
	}

	raw.Ack(false)
}

// ParsePayload приводит payload сообщения к типу T.
// После json.Unmarshal конверта payload — map[string]any; при публикации
// внутри процесса он уже типизирован. Оба случая сводятся через
// промежуточный JSON.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("unmarshal payload: %w", err)
	}

	return out, nil
}
