package opt

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type SolveOptions struct {
	Seed            int64
	Workers         int
	SoftWindows     bool
	LatenessPenalty float64 // cost per minute late, soft windows only
	// Incumbent, when set, receives every improved solution so a caller
	// can stop waiting and still hold the best plan found so far.
	Incumbent *Incumbent
}

// SolveResult is the raw per-vehicle index sequence produced by Solve or
// Greedy. Indices refer to the problem matrices.
type SolveResult struct {
	Routes               [][]int
	Unassigned           []int
	Cost                 float64
	Iterations           int
	ConstructionComplete bool
	Converged            bool
	TimedOut             bool
	Cancelled            bool
}

// Solve seeds a plan by regret insertion and improves it by local search
// until no strictly improving move remains or ctx is done. The deadline of
// ctx is the time budget. It never fails on a well-formed problem.
func Solve(ctx context.Context, p *Problem, opts SolveOptions) SolveResult {
	e := &evaluator{p: p, soft: opts.SoftWindows, penalty: opts.LatenessPenalty}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers()
	}
	inc := opts.Incumbent
	if inc == nil {
		inc = &Incumbent{}
	}
	routes, unassigned, complete := construct(ctx, e, inc)
	inc.offer(routes, unassigned, complete)
	res := SolveResult{ConstructionComplete: complete}
	if complete {
		ls := newLocalSearch(e, routes, workers, opts.Seed)
		unassigned, res.Iterations, res.Converged = ls.improve(ctx, unassigned, inc)
		routes = ls.routes
	}
	res.Routes = routes
	res.Unassigned = sortedCopy(unassigned)
	res.Cost = routesCost(e, routes)
	if !res.Converged {
		switch err := ctx.Err(); {
		case errors.Is(err, context.DeadlineExceeded):
			res.TimedOut = true
		case err != nil:
			res.Cancelled = true
		}
	}
	return res
}

// Incumbent holds a copy of the best solution published by a running solve.
type Incumbent struct {
	mu          sync.Mutex
	set         bool
	routes      [][]int
	unassigned  []int
	constructed bool
}

func (in *Incumbent) offer(routes [][]int, unassigned []int, constructed bool) {
	if in == nil {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.set = true
	in.routes = cloneRoutes(routes)
	in.unassigned = sortedCopy(unassigned)
	in.constructed = constructed
}

// Load returns the latest published solution, if any.
func (in *Incumbent) Load() (routes [][]int, unassigned []int, constructed, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.set {
		return nil, nil, false, false
	}
	return cloneRoutes(in.routes), append([]int{}, in.unassigned...), in.constructed, true
}

func sortedCopy(xs []int) []int {
	out := append([]int{}, xs...)
	sort.Ints(out)
	return out
}
