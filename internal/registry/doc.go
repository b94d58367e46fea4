// Package registry управляет парком real-time worker'ов.
//
// Registry обрабатывает регистрацию и heartbeats: worker объявляет
// endpoint, capacity и capabilities при старте и подтверждает liveness
// периодическими heartbeat'ами. Self-reported загрузка worker'а
// авторитетна над счётчиком слотов в хранилище.
//
// Monitor — ticking-цикл, который эвиктит worker'ов с просроченным
// heartbeat'ом: CAS в UNHEALTHY, затем принудительное завершение всех
// привязанных сессий с причиной worker_lost. Порядок строгий — слоты
// и сессии освобождаются только после подтверждённой эвикции.
package registry
