// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - job.submitted    — новый job принят API
//   - task.dispatch    — task готов к выполнению engine'ом
//   - task.report      — engine отчитался о результате task'а
//   - worker.heartbeat — heartbeat real-time worker'а
//   - session.end      — протокольное завершение live-сессии
//
// Exchanges:
//   - vocata.jobs     — события jobs
//   - vocata.tasks    — dispatch и отчёты tasks
//   - vocata.workers  — heartbeats и события сессий
//   - vocata.dlq      — dead letter queue
//
// Очереди engine.<engine_id> объявляются динамически: по одной на
// stage-engine, routing key равен engine_id.
package mq
