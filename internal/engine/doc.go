// Package engine реализует runner, выполняющий tasks одного stage.
//
// Runner отвечает за:
//   - Потребление tasks из своей очереди engine.<engine_id>
//   - Захват task'а через CAS с lease (at-least-once доставка)
//   - Вызов inference-сервиса stage'а (HTTPExecutor)
//   - Публикацию отчёта в tasks.report
//
// Runner — stateless компонент: несколько экземпляров одного engine'а
// потребляют из одной очереди, захват через CAS исключает двойное
// выполнение. Терминальный статус task'у выставляет Scheduler по
// отчёту — runner только захватывает и выполняет.
package engine
