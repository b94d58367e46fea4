package graph

import (
	"fmt"
	"sort"

	"github.com/shaiso/Vocata/internal/domain"
)

// Node — узел в DAG job'а.
type Node struct {
	// Task — task из хранилища.
	Task *domain.Task

	// Stage — stage узла (ключ в графе).
	Stage domain.Stage

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Graph — направленный ациклический граф tasks одного job.
type Graph struct {
	// Nodes — все узлы графа (stage → Node).
	Nodes map[domain.Stage]*Node

	// Order — узлы в порядке вставки (Seq). Определяет порядок dispatch.
	Order []*Node
}

// Readiness — результат оценки PENDING task'а относительно его зависимостей.
type Readiness int

const (
	// NotReady — есть незавершённые зависимости, ждём.
	NotReady Readiness = iota

	// Ready — все зависимости терминально-успешны, можно ставить в очередь.
	Ready

	// Skip — task нужно пометить SKIPPED: зависимость пропущена или упала.
	Skip
)

// FromTasks восстанавливает граф из сохранённых tasks.
//
// Используется и при построении (самопроверка Build), и при восстановлении
// состояния job после рестарта scheduler'а: рёбра хранятся в самих tasks,
// in-memory граф полностью воспроизводим из хранилища.
func FromTasks(tasks []domain.Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyGraph
	}

	g := &Graph{Nodes: make(map[domain.Stage]*Node, len(tasks))}

	// Первый проход: создаём узлы
	for i := range tasks {
		task := &tasks[i]
		if _, exists := g.Nodes[task.Stage]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, task.Stage)
		}
		g.Nodes[task.Stage] = &Node{
			Task:  task,
			Stage: task.Stage,
		}
	}

	// Второй проход: связываем по зависимостям
	for i := range tasks {
		task := &tasks[i]
		node := g.Nodes[task.Stage]
		for _, dep := range task.DependsOn {
			depNode, exists := g.Nodes[dep]
			if !exists {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, task.Stage, dep)
			}
			addEdge(depNode, node)
		}
	}

	// Порядок вставки
	g.Order = make([]*Node, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		g.Order = append(g.Order, node)
	}
	sort.Slice(g.Order, func(i, j int) bool {
		return g.Order[i].Task.Seq < g.Order[j].Task.Seq
	})

	// Проверяем на циклы
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// addEdge добавляет ребро между узлами, игнорируя дубликаты.
func addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Stage == from.Stage {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// checkAcyclic выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) checkAcyclic() error {
	inDegree := make(map[domain.Stage]int, len(g.Nodes))
	queue := make([]*Node, 0, len(g.Nodes))

	for stage, node := range g.Nodes {
		inDegree[stage] = node.InDegree
		if node.InDegree == 0 {
			queue = append(queue, node)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++

		for _, dependent := range node.Dependents {
			inDegree[dependent.Stage]--
			if inDegree[dependent.Stage] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if visited != len(g.Nodes) {
		return ErrCyclicDependency
	}

	return nil
}

// Node возвращает узел по stage.
func (g *Graph) Node(stage domain.Stage) *Node {
	return g.Nodes[stage]
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// Evaluate оценивает PENDING task относительно статусов остальных.
//
// Правила:
//   - зависимость COMPLETED — удовлетворена;
//   - зависимость SKIPPED — удовлетворяет только merge (он всегда
//     наблюдает финал каждой ветки); остальные потребители пропущенной
//     ветки пропускаются каскадно — их вход не существует;
//   - зависимость FAILED — потребитель пропускается (упасть мог только
//     required task, job уже обречён);
//   - иначе — ждём.
func (g *Graph) Evaluate(stage domain.Stage, statuses map[domain.Stage]domain.TaskStatus) Readiness {
	node := g.Nodes[stage]
	if node == nil {
		return NotReady
	}

	for _, dep := range node.DependsOn {
		switch statuses[dep.Stage] {
		case domain.TaskStatusCompleted:
			// удовлетворена
		case domain.TaskStatusSkipped:
			if stage != domain.StageMerge {
				return Skip
			}
		case domain.TaskStatusFailed:
			return Skip
		default:
			return NotReady
		}
	}

	return Ready
}

// IsComplete проверяет, все ли tasks терминальны.
func (g *Graph) IsComplete(statuses map[domain.Stage]domain.TaskStatus) bool {
	for stage := range g.Nodes {
		if !statuses[stage].IsTerminal() {
			return false
		}
	}
	return true
}

// Outcome возвращает терминальный статус job'а по статусам tasks.
// Вызывается только когда IsComplete — true: COMPLETED, если каждый
// required task COMPLETED; иначе FAILED.
func (g *Graph) Outcome(statuses map[domain.Stage]domain.TaskStatus) domain.JobStatus {
	for stage, node := range g.Nodes {
		if node.Task.Required && statuses[stage] != domain.TaskStatusCompleted {
			return domain.JobStatusFailed
		}
	}
	return domain.JobStatusCompleted
}
