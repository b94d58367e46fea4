// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go         — Handler с DI (репозитории, publisher, allocator, logger)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (logging, recovery)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects (request/response)
//   - job_handler.go     — обработчики для /jobs
//   - session_handler.go — обработчики для /sessions
//   - worker_handler.go  — обработчики для /workers
//
// API предоставляет REST endpoints для batch-транскрипции (jobs),
// live-сессий и реестра worker'ов.
package api
