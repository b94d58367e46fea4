// Package cli реализует инструмент командной строки Vocata.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Vocata API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления jobs, sessions и workers.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Vocata API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	jobs, err := client.ListJobs(0)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: vocata job list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - job: list, submit, show, tasks, cancel
//   - session: open, show, activate, end
//   - worker: list, show
//
// Каждая группа создаётся через фабричную функцию (NewJobCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
