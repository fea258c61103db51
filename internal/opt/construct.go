package opt

import (
	"context"
	"math"
)

// construct seeds a solution with regret-2 cheapest insertion. Stops with a
// single feasible vehicle go first; a stop with no feasible placement is
// left unassigned. It stops early when ctx is done and reports whether every
// stop was considered.
func construct(ctx context.Context, e *evaluator, inc *Incumbent) (routes [][]int, unassigned []int, complete bool) {
	p := e.p
	routes = make([][]int, len(p.Vehicles))
	states := make([]routeState, len(routes))
	for v := range routes {
		routes[v] = []int{}
		states[v] = e.state(v, routes[v])
	}
	pending := make([]int, 0, len(p.Stops))
	for i := 1; i < p.Size(); i++ {
		pending = append(pending, i)
	}
	for len(pending) > 0 {
		if ctx.Err() != nil {
			return routes, sortedCopy(append(unassigned, pending...)), false
		}
		pick := -1
		var pickIns insertion
		pickRegret := math.Inf(-1)
		keep := pending[:0]
		for _, node := range pending {
			ins, second, ok := e.bestInsertion(states, node)
			if !ok {
				unassigned = append(unassigned, node)
				continue
			}
			keep = append(keep, node)
			regret := second - ins.delta
			if pick >= 0 && !moreUrgent(regret, ins.delta, pickRegret, pickIns.delta) {
				continue
			}
			pick, pickIns, pickRegret = node, ins, regret
		}
		pending = keep
		if pick < 0 {
			break
		}
		routes[pickIns.v] = insertAt(routes[pickIns.v], pick, pickIns.pos)
		states[pickIns.v] = e.state(pickIns.v, routes[pickIns.v])
		pending = removeValue(pending, pick)
		if inc != nil {
			inc.offer(routes, append(append([]int{}, unassigned...), pending...), false)
		}
	}
	return routes, sortedCopy(unassigned), true
}

// moreUrgent prefers the larger regret, then the cheaper insertion. A stop
// with a single feasible vehicle has infinite regret.
func moreUrgent(regret, delta, otherRegret, otherDelta float64) bool {
	ri, oi := math.IsInf(regret, 1), math.IsInf(otherRegret, 1)
	switch {
	case ri && oi:
		return delta < otherDelta-eps
	case ri:
		return true
	case oi:
		return false
	case regret > otherRegret+eps:
		return true
	case regret < otherRegret-eps:
		return false
	}
	return delta < otherDelta-eps
}

func removeValue(xs []int, x int) []int {
	for i, y := range xs {
		if y == x {
			return append(xs[:i], xs[i+1:]...)
		}
	}
	return xs
}
