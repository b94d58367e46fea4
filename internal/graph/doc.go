// Package graph строит DAG tasks из параметров job.
//
// Build — чистая детерминированная функция без I/O: параметры job
// однозначно определяют набор stages и рёбра зависимостей.
// Некорректные комбинации параметров отклоняются здесь, на этапе
// построения — а не обнаруживаются позже как отсутствующая зависимость.
//
// FromTasks восстанавливает граф из сохранённых tasks (после рестарта
// scheduler'а) и повторно проверяет ацикличность.
package graph
