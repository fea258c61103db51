package opt

import "math"

// eps is the tolerance for every cost and time comparison.
const eps = 1e-9

// evaluator checks routes against one problem. It is read-only and shared
// by all search workers.
type evaluator struct {
	p       *Problem
	soft    bool
	penalty float64
}

type routeEval struct {
	travel     float64 // sum of cost matrix legs including the return leg
	lateness   float64
	load       float64
	finish     float64 // return time at the depot
	arrivalSum float64
}

func (r routeEval) cost(penalty float64) float64 { return r.travel + penalty*r.lateness }

// evaluate walks seq from the depot and back. It reports false when the
// route breaks capacity, a hard window or the shift end.
func (e *evaluator) evaluate(v int, seq []int) (routeEval, bool) {
	p := e.p
	var r routeEval
	t := p.shiftFrom[v]
	prev := 0
	for _, node := range seq {
		r.load += p.demand[node]
		arrive := t + p.Cost[prev][node]
		r.travel += p.Cost[prev][node]
		r.arrivalSum += arrive
		start := math.Max(arrive, p.winStart[node])
		if start > p.winEnd[node]+eps {
			if !e.soft {
				return r, false
			}
			r.lateness += start - p.winEnd[node]
		}
		t = start + p.service[node]
		prev = node
	}
	if r.load > p.capacity[v]+eps {
		return r, false
	}
	r.travel += p.Cost[prev][0]
	r.finish = t + p.Cost[prev][0]
	if r.finish > p.shiftTo[v]+eps {
		return r, false
	}
	return r, true
}

func (e *evaluator) duration(v int, r routeEval) float64 {
	return r.finish - e.p.shiftFrom[v]
}

// routeState caches forward service starts and backward latest starts so an
// insertion can be checked in constant time.
type routeState struct {
	seq    []int
	load   float64
	cost   float64
	begin  []float64
	latest []float64
}

func (e *evaluator) state(v int, seq []int) routeState {
	p := e.p
	st := routeState{seq: seq, begin: make([]float64, len(seq)), latest: make([]float64, len(seq))}
	t := p.shiftFrom[v]
	prev := 0
	for i, node := range seq {
		st.load += p.demand[node]
		st.cost += p.Cost[prev][node]
		start := math.Max(t+p.Cost[prev][node], p.winStart[node])
		st.begin[i] = start
		t = start + p.service[node]
		prev = node
	}
	st.cost += p.Cost[prev][0]
	next, nextLatest := 0, p.shiftTo[v]
	for i := len(seq) - 1; i >= 0; i-- {
		node := seq[i]
		st.latest[i] = math.Min(p.winEnd[node], nextLatest-p.Cost[node][next]-p.service[node])
		next, nextLatest = node, st.latest[i]
	}
	if e.soft {
		if r, ok := e.evaluate(v, seq); ok {
			st.cost = r.cost(e.penalty)
		}
	}
	return st
}

// insertion is a candidate placement of one stop.
type insertion struct {
	v, pos  int
	delta   float64
	dur     float64
	arrSum  float64
	settled bool // dur and arrSum are filled in
}

// tryInsert returns the marginal cost of placing node at pos in vehicle v.
func (e *evaluator) tryInsert(v int, st *routeState, node, pos int) (float64, bool) {
	p := e.p
	if st.load+p.demand[node] > p.capacity[v]+eps {
		return 0, false
	}
	prev, depart := 0, p.shiftFrom[v]
	if pos > 0 {
		prev = st.seq[pos-1]
		depart = st.begin[pos-1] + p.service[prev]
	}
	next := 0
	if pos < len(st.seq) {
		next = st.seq[pos]
	}
	if e.soft {
		cand := insertAt(st.seq, node, pos)
		r, ok := e.evaluate(v, cand)
		if !ok {
			return 0, false
		}
		return r.cost(e.penalty) - st.cost, true
	}
	start := math.Max(depart+p.Cost[prev][node], p.winStart[node])
	if start > p.winEnd[node]+eps {
		return 0, false
	}
	arriveNext := start + p.service[node] + p.Cost[node][next]
	if pos == len(st.seq) {
		if arriveNext > p.shiftTo[v]+eps {
			return 0, false
		}
	} else if math.Max(arriveNext, p.winStart[next]) > st.latest[pos]+eps {
		return 0, false
	}
	return p.Cost[prev][node] + p.Cost[node][next] - p.Cost[prev][next], true
}

// settle fills the secondary tie-break keys of a candidate.
func (e *evaluator) settle(c *insertion, st *routeState, node int) {
	if c.settled {
		return
	}
	r, _ := e.evaluate(c.v, insertAt(st.seq, node, c.pos))
	c.dur = e.duration(c.v, r)
	c.arrSum = r.arrivalSum
	c.settled = true
}

// better orders insertions by marginal cost, route duration, earlier
// arrivals, vehicle index and position.
func (e *evaluator) better(a, b *insertion, states []routeState, node int) bool {
	if a.delta < b.delta-eps {
		return true
	}
	if a.delta > b.delta+eps {
		return false
	}
	e.settle(a, &states[a.v], node)
	e.settle(b, &states[b.v], node)
	if a.dur < b.dur-eps {
		return true
	}
	if a.dur > b.dur+eps {
		return false
	}
	if a.v != b.v {
		return a.v < b.v
	}
	if a.arrSum < b.arrSum-eps {
		return true
	}
	if a.arrSum > b.arrSum+eps {
		return false
	}
	return a.pos < b.pos
}

// bestInsertion scans every vehicle and position for node. second is the
// cheapest marginal cost offered by any other vehicle.
func (e *evaluator) bestInsertion(states []routeState, node int) (best insertion, second float64, ok bool) {
	second = math.Inf(1)
	for v := range states {
		st := &states[v]
		var vb insertion
		found := false
		for pos := 0; pos <= len(st.seq); pos++ {
			d, feasible := e.tryInsert(v, st, node, pos)
			if !feasible {
				continue
			}
			c := insertion{v: v, pos: pos, delta: d}
			if !found || e.better(&c, &vb, states, node) {
				vb, found = c, true
			}
		}
		if !found {
			continue
		}
		if !ok {
			best, ok = vb, true
			continue
		}
		if e.better(&vb, &best, states, node) {
			second = math.Min(second, best.delta)
			best = vb
		} else {
			second = math.Min(second, vb.delta)
		}
	}
	return best, second, ok
}

func insertAt(seq []int, node, pos int) []int {
	out := make([]int, 0, len(seq)+1)
	out = append(out, seq[:pos]...)
	out = append(out, node)
	return append(out, seq[pos:]...)
}

func routesCost(e *evaluator, routes [][]int) float64 {
	total := 0.0
	for v, seq := range routes {
		r, _ := e.evaluate(v, seq)
		total += r.cost(e.penalty)
	}
	return total
}

func cloneRoutes(routes [][]int) [][]int {
	out := make([][]int, len(routes))
	for i, r := range routes {
		out[i] = append([]int{}, r...)
	}
	return out
}
