package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/stepflow/internal/domain"
)

// Node — узел графа переходов.
type Node struct {
	// Name — имя состояния.
	Name string

	// State — определение состояния.
	State *domain.State

	// InDegree — количество входящих рёбер next.
	InDegree int

	// Next — узел, в который ведёт next (nil для терминального состояния).
	Next *Node

	// Fallbacks — узлы-обработчики из правил Catch, в объявленном порядке.
	Fallbacks []*Node
}

// Graph — граф переходов одной state machine (или ветки Parallel).
//
// Рёбра next должны образовывать ациклический граф: выполнение
// без ошибок всегда завершается. Рёбра Catch в проверку циклов не входят.
type Graph struct {
	// Nodes — все узлы графа (имя состояния → Node).
	Nodes map[string]*Node

	// Start — узел StartAt.
	Start *Node

	// Order — топологический порядок по рёбрам next.
	Order []*Node
}

// BuildGraph строит граф переходов и проверяет его.
//
// Ошибки (все — *DefinitionError):
//   - ErrUnknownState: StartAt, next или catch.next ссылаются на несуществующее состояние
//   - ErrCyclicTransition: цикл по рёбрам next
//   - ErrUnreachableState: состояние недостижимо из StartAt
func BuildGraph(sm *domain.StateMachine) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*Node, len(sm.States))}

	// Первый проход: создаём узлы
	for _, name := range sortedStateNames(sm) {
		g.Nodes[name] = &Node{Name: name, State: sm.States[name]}
	}

	start, ok := g.Nodes[sm.StartAt]
	if !ok {
		return nil, NewDefinitionError("", "start_at",
			fmt.Sprintf("start_at references unknown state: %s", sm.StartAt), ErrUnknownState)
	}
	g.Start = start

	// Второй проход: связываем узлы
	for _, name := range sortedStateNames(sm) {
		if err := g.link(g.Nodes[name]); err != nil {
			return nil, err
		}
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	if err := g.checkReachability(); err != nil {
		return nil, err
	}

	return g, nil
}

// link связывает узел по next и catch.
func (g *Graph) link(node *Node) error {
	st := node.State

	if st.Next != "" {
		next, ok := g.Nodes[st.Next]
		if !ok {
			return NewDefinitionError(node.Name, "next",
				fmt.Sprintf("next references unknown state: %s", st.Next), ErrUnknownState)
		}
		node.Next = next
		next.InDegree++
	}

	for i, rule := range st.Catch {
		target, ok := g.Nodes[rule.Next]
		if !ok {
			return NewDefinitionError(node.Name, fmt.Sprintf("catch[%d].next", i),
				fmt.Sprintf("catch references unknown state: %s", rule.Next), ErrUnknownState)
		}
		node.Fallbacks = append(node.Fallbacks, target)
	}

	return nil
}

// topologicalSort выполняет топологическую сортировку по рёбрам next (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	queue := make([]*Node, 0)
	for _, name := range g.sortedNames() {
		node := g.Nodes[name]
		inDegree[name] = node.InDegree
		if node.InDegree == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		if node.Next != nil {
			inDegree[node.Next.Name]--
			if inDegree[node.Next.Name] == 0 {
				queue = append(queue, node.Next)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(g.Nodes) {
		var cycle []string
		for _, name := range g.sortedNames() {
			if inDegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		state := ""
		if len(cycle) > 0 {
			state = cycle[0]
		}
		return nil, NewDefinitionError(state, "next",
			fmt.Sprintf("cycle through next transitions: %v", cycle), ErrCyclicTransition)
	}

	return order, nil
}

// checkReachability проверяет, что все состояния достижимы из Start по next и catch.
func (g *Graph) checkReachability() error {
	visited := make(map[string]bool, len(g.Nodes))
	stack := []*Node{g.Start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node.Name] {
			continue
		}
		visited[node.Name] = true

		if node.Next != nil {
			stack = append(stack, node.Next)
		}
		stack = append(stack, node.Fallbacks...)
	}

	for _, name := range g.sortedNames() {
		if !visited[name] {
			return NewDefinitionError(name, "",
				fmt.Sprintf("state %s is not reachable from %s", name, g.Start.Name), ErrUnreachableState)
		}
	}
	return nil
}

// Size возвращает количество узлов в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// TerminalNodes возвращает узлы без next.
func (g *Graph) TerminalNodes() []*Node {
	nodes := make([]*Node, 0)
	for _, node := range g.Order {
		if node.Next == nil {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

func (g *Graph) sortedNames() []string {
	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedStateNames(sm *domain.StateMachine) []string {
	names := make([]string, 0, len(sm.States))
	for name := range sm.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
