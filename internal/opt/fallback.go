package opt

import "sort"

// Greedy is the deterministic single-pass planner. Stops are taken by
// window urgency, then distance from the depot, then input order, and each
// goes to its cheapest feasible placement or to the unassigned set.
func Greedy(p *Problem, softWindows bool, latenessPenalty float64) SolveResult {
	e := &evaluator{p: p, soft: softWindows, penalty: latenessPenalty}
	order := make([]int, 0, len(p.Stops))
	for i := 1; i < p.Size(); i++ {
		order = append(order, i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := order[a], order[b]
		if p.winEnd[x] != p.winEnd[y] {
			return p.winEnd[x] < p.winEnd[y]
		}
		if p.Dist[0][x] != p.Dist[0][y] {
			return p.Dist[0][x] < p.Dist[0][y]
		}
		return x < y
	})
	routes := make([][]int, len(p.Vehicles))
	states := make([]routeState, len(routes))
	for v := range routes {
		routes[v] = []int{}
		states[v] = e.state(v, routes[v])
	}
	var unassigned []int
	for _, node := range order {
		ins, _, ok := e.bestInsertion(states, node)
		if !ok {
			unassigned = append(unassigned, node)
			continue
		}
		routes[ins.v] = insertAt(routes[ins.v], node, ins.pos)
		states[ins.v] = e.state(ins.v, routes[ins.v])
	}
	return SolveResult{
		Routes:               routes,
		Unassigned:           sortedCopy(unassigned),
		Cost:                 routesCost(e, routes),
		ConstructionComplete: true,
	}
}
