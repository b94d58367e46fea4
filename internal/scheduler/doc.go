// Package scheduler управляет выполнением jobs.
//
// Scheduler отвечает за:
//   - Получение новых jobs из очереди RabbitMQ
//   - Построение DAG из параметров job
//   - Постановку готовых tasks в очереди engine'ов
//   - Отслеживание отчётов engine'ов, retry и skip-каскады
//   - Возврат брошенных tasks по истечению visibility timeout
//   - Финализацию job (COMPLETED/FAILED/CANCELLED)
//
// Scheduler — это "мозг" системы, который координирует выполнение.
// Все переходы статусов идут через CAS в хранилище, поэтому несколько
// экземпляров scheduler'а работают над одними jobs без координации.
package scheduler
