package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeJobs    Exchange = "vocata.jobs"
	ExchangeTasks   Exchange = "vocata.tasks"
	ExchangeWorkers Exchange = "vocata.workers"
	ExchangeDLQ     Exchange = "vocata.dlq"
)

// Queues — имена статических очередей.
const (
	QueueJobsSubmitted    Queue = "jobs.submitted"
	QueueTasksReport      Queue = "tasks.report"
	QueueWorkersHeartbeat Queue = "workers.heartbeat"
	QueueSessionsEnd      Queue = "sessions.end"
	QueueDLQTasks         Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeySubmitted  RoutingKey = "submitted"
	RoutingKeyReport     RoutingKey = "report"
	RoutingKeyHeartbeat  RoutingKey = "heartbeat"
	RoutingKeySessionEnd RoutingKey = "session.end"
	RoutingKeyDLQTasks   RoutingKey = "tasks"
)

// EngineQueue возвращает имя очереди для engine с указанным ID.
// Очереди engine'ов объявляются динамически в DeclareEngineQueue.
func EngineQueue(engineID string) Queue {
	return Queue("engine." + engineID)
}

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// DeclareEngineQueue объявляет очередь engine.<engine_id> и привязывает её
// к vocata.tasks с routing key, равным engine_id. Вызывается и scheduler'ом
// перед dispatch'ем, и самим engine'ом при старте: объявление идемпотентно.
func DeclareEngineQueue(ctx context.Context, conn *Connection, engineID string) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		dlqArgs := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
		}

		queue := EngineQueue(engineID)
		if _, err := ch.QueueDeclare(string(queue), true, false, false, false, dlqArgs); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		if err := ch.QueueBind(string(queue), engineID, string(ExchangeTasks), false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeJobs, "direct"},
		{ExchangeTasks, "direct"},
		{ExchangeWorkers, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт статические очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// jobs.submitted — без DLQ (job обрабатывается один раз)
		{QueueJobsSubmitted, nil},

		// tasks.report — без DLQ (дубликаты отчётов — no-op)
		{QueueTasksReport, nil},

		// workers.heartbeat — без DLQ (потерянный heartbeat заменит следующий)
		{QueueWorkersHeartbeat, nil},

		// sessions.end — без DLQ (повторное завершение — no-op)
		{QueueSessionsEnd, nil},

		// dlq.tasks — сама DLQ очередь
		{QueueDLQTasks, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает статические очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueJobsSubmitted, RoutingKeySubmitted, ExchangeJobs},
		{QueueTasksReport, RoutingKeyReport, ExchangeTasks},
		{QueueWorkersHeartbeat, RoutingKeyHeartbeat, ExchangeWorkers},
		{QueueSessionsEnd, RoutingKeySessionEnd, ExchangeWorkers},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Vocata RabbitMQ Topology:

    vocata.jobs (direct)
    └── jobs.submitted [routing: submitted]
            Consumer: Scheduler

    vocata.tasks (direct)
    ├── engine.<engine_id> [routing: <engine_id>] (dynamic)
    │       Consumer: Engine runner
    │       DLQ: dlq.tasks
    └── tasks.report [routing: report]
            Consumer: Scheduler

    vocata.workers (direct)
    ├── workers.heartbeat [routing: heartbeat]
    │       Consumer: Session router
    └── sessions.end [routing: session.end]
            Consumer: Session router

    vocata.dlq (direct)
    └── dlq.tasks [routing: tasks]
            Manual processing
  `
}
