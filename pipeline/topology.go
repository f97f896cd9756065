package pipeline

import "sort"

// kahnOrder computes a deterministic topological order over nodeOrder
// given edges, using Kahn's algorithm with an ascending-nodeID
// tie-break among nodes simultaneously ready to run (spec §4.3): two
// graphs with the same nodes and edges always produce the same
// execution order regardless of declaration order.
func kahnOrder(nodeOrder []string, edges []Edge) ([]string, error) {
	inDegree := make(map[string]int, len(nodeOrder))
	outAdj := make(map[string][]string, len(nodeOrder))
	for _, id := range nodeOrder {
		inDegree[id] = 0
	}
	for _, e := range edges {
		inDegree[e.To]++
		outAdj[e.From] = append(outAdj[e.From], e.To)
	}

	ready := make([]string, 0, len(nodeOrder))
	for _, id := range nodeOrder {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodeOrder))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, to := range outAdj[next] {
			inDegree[to]--
			if inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}

	if len(order) != len(nodeOrder) {
		return nil, newGraphCyclicError(nodeOrder, inDegree)
	}
	return order, nil
}

// newGraphCyclicError lists, sorted by ID, every node still awaiting
// predecessors once Kahn's algorithm has stalled.
func newGraphCyclicError(nodeOrder []string, remainingInDegree map[string]int) error {
	stuck := make([]string, 0)
	for _, id := range nodeOrder {
		if remainingInDegree[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	sort.Strings(stuck)
	return &GraphCyclicError{Cycle: stuck}
}
