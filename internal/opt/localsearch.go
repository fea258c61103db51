package opt

import (
	"context"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

type moveKind int

const (
	moveNone moveKind = iota
	moveRelocate
	moveSwap
	moveTwoOpt
)

// move is one neighborhood step. Relocate takes routes[a][i] to position j
// of routes[b] (j indexes the route after removal when a == b). Swap
// exchanges routes[a][i] and routes[b][j]. TwoOpt reverses routes[a][i..j].
type move struct {
	kind       moveKind
	a, b, i, j int
	delta      float64
}

type searchTask struct{ a, b int }

type localSearch struct {
	e       *evaluator
	workers int
	rng     *rand.Rand
	routes  [][]int
	cost    []float64
	load    []float64
}

func newLocalSearch(e *evaluator, routes [][]int, workers int, seed int64) *localSearch {
	ls := &localSearch{
		e:       e,
		workers: workers,
		rng:     rand.New(rand.NewSource(seed)),
		routes:  routes,
		cost:    make([]float64, len(routes)),
		load:    make([]float64, len(routes)),
	}
	for v := range routes {
		ls.refresh(v)
	}
	return ls
}

func (ls *localSearch) refresh(v int) {
	r, _ := ls.e.evaluate(v, ls.routes[v])
	ls.cost[v] = r.cost(ls.e.penalty)
	ls.load[v] = r.load
}

// improve runs best-improvement rounds until no move strictly lowers the
// objective or ctx is done. It returns the number of rounds and whether the
// search converged.
func (ls *localSearch) improve(ctx context.Context, unassigned []int, inc *Incumbent) ([]int, int, bool) {
	rounds := 0
	for {
		if ctx.Err() != nil {
			return unassigned, rounds, false
		}
		rounds++
		if rest, ok := ls.insertUnassigned(unassigned); ok {
			unassigned = rest
			inc.offer(ls.routes, unassigned, true)
			continue
		}
		m, err := ls.bestMove(ctx)
		if err != nil {
			return unassigned, rounds, false
		}
		if m.kind == moveNone {
			return unassigned, rounds, true
		}
		ls.apply(m)
		inc.offer(ls.routes, unassigned, true)
	}
}

// insertUnassigned places the unassigned stop with the cheapest feasible
// insertion. Serving one more stop always beats any cost saving.
func (ls *localSearch) insertUnassigned(unassigned []int) ([]int, bool) {
	if len(unassigned) == 0 {
		return unassigned, false
	}
	states := make([]routeState, len(ls.routes))
	for v := range ls.routes {
		states[v] = ls.e.state(v, ls.routes[v])
	}
	pick := -1
	var best insertion
	for _, node := range unassigned {
		ins, _, ok := ls.e.bestInsertion(states, node)
		if !ok {
			continue
		}
		if pick < 0 || ins.delta < best.delta-eps {
			pick, best = node, ins
		}
	}
	if pick < 0 {
		return unassigned, false
	}
	ls.routes[best.v] = insertAt(ls.routes[best.v], pick, best.pos)
	ls.refresh(best.v)
	return removeValue(append([]int{}, unassigned...), pick), true
}

// bestMove evaluates every neighborhood in parallel. Tasks are visited in a
// seeded order and ties keep the earliest task, so the result does not
// depend on scheduling.
func (ls *localSearch) bestMove(ctx context.Context) (move, error) {
	m := len(ls.routes)
	tasks := make([]searchTask, 0, m*(m+1)/2)
	for a := 0; a < m; a++ {
		for b := a; b < m; b++ {
			tasks = append(tasks, searchTask{a, b})
		}
	}
	ls.rng.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })
	found := make([]move, len(tasks))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(ls.workers)
	for ti, t := range tasks {
		eg.Go(func() error {
			var err error
			if t.a == t.b {
				found[ti], err = ls.intra(gctx, t.a)
			} else {
				found[ti], err = ls.inter(gctx, t.a, t.b)
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return move{}, err
	}
	best := move{}
	for _, f := range found {
		if f.kind == moveNone {
			continue
		}
		if best.kind == moveNone || f.delta < best.delta-eps {
			best = f
		}
	}
	return best, nil
}

func at(seq []int, k int) int {
	if k < 0 || k >= len(seq) {
		return 0
	}
	return seq[k]
}

// without returns the element at position k of seq with index skip removed.
func without(seq []int, skip, k int) int {
	if k >= skip {
		k++
	}
	return at(seq, k)
}

// consider evaluates the rewritten routes of a candidate and keeps it when
// it strictly improves on best. vb is -1 for single-route moves.
func (ls *localSearch) consider(best *move, cand move, va int, sa []int, vb int, sb []int) {
	e := ls.e
	ra, ok := e.evaluate(va, sa)
	if !ok {
		return
	}
	delta := ra.cost(e.penalty) - ls.cost[va]
	if vb >= 0 {
		rb, ok := e.evaluate(vb, sb)
		if !ok {
			return
		}
		delta += rb.cost(e.penalty) - ls.cost[vb]
	}
	cand.delta = delta
	if delta >= -eps {
		return
	}
	if best.kind == moveNone || delta < best.delta-eps {
		*best = cand
	}
}

func (ls *localSearch) intra(ctx context.Context, v int) (move, error) {
	c := ls.e.p.Cost
	s := ls.routes[v]
	k := len(s)
	best := move{}
	for i := 0; i < k; i++ {
		if err := ctx.Err(); err != nil {
			return move{}, err
		}
		x := s[i]
		prev, next := at(s, i-1), at(s, i+1)
		gain := c[prev][x] + c[x][next] - c[prev][next]
		for j := 0; j < k; j++ {
			if j == i {
				continue
			}
			p2, n2 := without(s, i, j-1), without(s, i, j)
			delta := c[p2][x] + c[x][n2] - c[p2][n2] - gain
			if ls.prunable(&best, delta) {
				continue
			}
			ls.consider(&best, move{kind: moveRelocate, a: v, b: v, i: i, j: j}, v, relocated(s, i, j), -1, nil)
		}
		// 2-opt on s[i..j]; inner tracks the asymmetric cost change of the
		// reversed interior.
		inner := 0.0
		for j := i + 1; j < k; j++ {
			inner += c[s[j]][s[j-1]] - c[s[j-1]][s[j]]
			after := at(s, j+1)
			delta := c[prev][s[j]] + c[s[i]][after] - c[prev][s[i]] - c[s[j]][after] + inner
			if ls.prunable(&best, delta) {
				continue
			}
			ls.consider(&best, move{kind: moveTwoOpt, a: v, b: v, i: i, j: j}, v, reversed(s, i, j), -1, nil)
		}
	}
	return best, nil
}

func (ls *localSearch) inter(ctx context.Context, a, b int) (move, error) {
	p := ls.e.p
	c := p.Cost
	A, B := ls.routes[a], ls.routes[b]
	best := move{}
	for i := 0; i < len(A); i++ {
		if err := ctx.Err(); err != nil {
			return move{}, err
		}
		x := A[i]
		pa, na := at(A, i-1), at(A, i+1)
		gainA := c[pa][x] + c[x][na] - c[pa][na]
		if ls.load[b]+p.demand[x] <= p.capacity[b]+eps {
			for j := 0; j <= len(B); j++ {
				pb, nb := at(B, j-1), at(B, j)
				delta := c[pb][x] + c[x][nb] - c[pb][nb] - gainA
				if ls.prunable(&best, delta) {
					continue
				}
				ls.consider(&best, move{kind: moveRelocate, a: a, b: b, i: i, j: j},
					a, removedAt(A, i), b, insertAt(B, x, j))
			}
		}
		for j := 0; j < len(B); j++ {
			y := B[j]
			if ls.load[a]-p.demand[x]+p.demand[y] > p.capacity[a]+eps || ls.load[b]-p.demand[y]+p.demand[x] > p.capacity[b]+eps {
				continue
			}
			pb, nb := at(B, j-1), at(B, j+1)
			delta := c[pa][y] + c[y][na] - c[pa][x] - c[x][na] +
				c[pb][x] + c[x][nb] - c[pb][y] - c[y][nb]
			if ls.prunable(&best, delta) {
				continue
			}
			ls.consider(&best, move{kind: moveSwap, a: a, b: b, i: i, j: j},
				a, replacedAt(A, i, y), b, replacedAt(B, j, x))
		}
	}
	for j := 0; j < len(B); j++ {
		if err := ctx.Err(); err != nil {
			return move{}, err
		}
		y := B[j]
		if ls.load[a]+p.demand[y] > p.capacity[a]+eps {
			continue
		}
		pb, nb := at(B, j-1), at(B, j+1)
		gainB := c[pb][y] + c[y][nb] - c[pb][nb]
		for i := 0; i <= len(A); i++ {
			pa, na := at(A, i-1), at(A, i)
			delta := c[pa][y] + c[y][na] - c[pa][na] - gainB
			if ls.prunable(&best, delta) {
				continue
			}
			ls.consider(&best, move{kind: moveRelocate, a: b, b: a, i: j, j: i},
				b, removedAt(B, j), a, insertAt(A, y, i))
		}
	}
	return best, nil
}

// prunable rejects a travel delta that cannot win in hard mode. Soft mode
// always evaluates because lateness can fall while travel grows.
func (ls *localSearch) prunable(best *move, delta float64) bool {
	if ls.e.soft {
		return false
	}
	return delta >= -eps || (best.kind != moveNone && delta >= best.delta-eps)
}

func (ls *localSearch) apply(m move) {
	switch m.kind {
	case moveRelocate:
		if m.a == m.b {
			ls.routes[m.a] = relocated(ls.routes[m.a], m.i, m.j)
		} else {
			x := ls.routes[m.a][m.i]
			ls.routes[m.a] = removedAt(ls.routes[m.a], m.i)
			ls.routes[m.b] = insertAt(ls.routes[m.b], x, m.j)
			ls.refresh(m.b)
		}
	case moveSwap:
		x, y := ls.routes[m.a][m.i], ls.routes[m.b][m.j]
		ls.routes[m.a] = replacedAt(ls.routes[m.a], m.i, y)
		ls.routes[m.b] = replacedAt(ls.routes[m.b], m.j, x)
		ls.refresh(m.b)
	case moveTwoOpt:
		ls.routes[m.a] = reversed(ls.routes[m.a], m.i, m.j)
	}
	ls.refresh(m.a)
}

func removedAt(seq []int, i int) []int {
	out := make([]int, 0, len(seq)-1)
	out = append(out, seq[:i]...)
	return append(out, seq[i+1:]...)
}

func relocated(seq []int, i, j int) []int {
	return insertAt(removedAt(seq, i), seq[i], j)
}

func replacedAt(seq []int, i, x int) []int {
	out := append([]int{}, seq...)
	out[i] = x
	return out
}

func reversed(seq []int, i, j int) []int {
	out := append([]int{}, seq...)
	for l, r := i, j; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}
