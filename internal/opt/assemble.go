package opt

import (
	"fmt"
	"math"
)

type Status string

const (
	StatusOptimalWithinBudget Status = "optimal_within_budget"
	StatusFeasible            Status = "feasible"
	StatusInfeasiblePartial   Status = "infeasible_partial"
	StatusFallbackUsed        Status = "fallback_used"
)

// Visit is one served stop. Times are minutes from the plan start; Load is
// the cumulative load after the stop.
type Visit struct {
	StopID       string
	Arrival      float64
	ServiceStart float64
	Departure    float64
	Load         float64
	Lateness     float64
}

// Route covers the delivery path from the depot to the last stop. The
// closing leg back to the depot is reported separately.
type Route struct {
	VehicleID      string
	Visits         []Visit
	StopIDs        []string
	TotalDistance  float64
	TotalTime      float64
	TotalLoad      float64
	ReturnDistance float64
	ReturnTime     float64
	Cost           float64
}

type Solution struct {
	Routes      []Route
	Unassigned  []string
	Status      Status
	Cost        float64
	Iterations  int
	Approximate bool
	Degraded    bool
	Warnings    []string
}

// Assemble converts per-vehicle index sequences into routes. It fails with
// ErrInternalSolver when an index is out of range or served twice.
func Assemble(p *Problem, routes [][]int, unassigned []int, status Status) (Solution, error) {
	if len(routes) != len(p.Vehicles) {
		return Solution{}, fmt.Errorf("%w: %d routes for %d vehicles", ErrInternalSolver, len(routes), len(p.Vehicles))
	}
	n := p.Size()
	seen := make([]bool, n)
	mark := func(idx int) error {
		if idx <= 0 || idx >= n {
			return fmt.Errorf("%w: stop index %d outside matrix of size %d", ErrInternalSolver, idx, n)
		}
		if seen[idx] {
			return fmt.Errorf("%w: stop index %d placed twice", ErrInternalSolver, idx)
		}
		seen[idx] = true
		return nil
	}
	sol := Solution{
		Routes:      make([]Route, len(routes)),
		Unassigned:  []string{},
		Status:      status,
		Approximate: p.Approximate,
		Degraded:    p.Degraded,
	}
	for v, seq := range routes {
		veh := p.Vehicles[v]
		r := Route{VehicleID: veh.ID, Visits: []Visit{}, StopIDs: []string{}}
		depart := p.shiftFrom[v]
		t := depart
		prev := 0
		for _, idx := range seq {
			if err := mark(idx); err != nil {
				return Solution{}, err
			}
			arrive := t + p.Cost[prev][idx]
			start := math.Max(arrive, p.winStart[idx])
			r.TotalDistance += p.Dist[prev][idx]
			r.Cost += p.Cost[prev][idx]
			r.TotalLoad += p.demand[idx]
			t = start + p.service[idx]
			r.Visits = append(r.Visits, Visit{
				StopID:       p.Stops[idx-1].ID,
				Arrival:      arrive,
				ServiceStart: start,
				Departure:    t,
				Load:         r.TotalLoad,
				Lateness:     math.Max(0, start-p.winEnd[idx]),
			})
			r.StopIDs = append(r.StopIDs, p.Stops[idx-1].ID)
			prev = idx
		}
		if len(seq) > 0 {
			r.TotalTime = t - depart
			r.ReturnDistance = p.Dist[prev][0]
			r.ReturnTime = p.Cost[prev][0]
			r.Cost += p.Cost[prev][0]
		}
		sol.Cost += r.Cost
		sol.Routes[v] = r
	}
	for _, idx := range unassigned {
		if err := mark(idx); err != nil {
			return Solution{}, err
		}
		sol.Unassigned = append(sol.Unassigned, p.Stops[idx-1].ID)
	}
	for i := 1; i < n; i++ {
		if !seen[i] {
			return Solution{}, fmt.Errorf("%w: stop index %d neither routed nor unassigned", ErrInternalSolver, i)
		}
	}
	for _, w := range p.Warnings {
		sol.Warnings = append(sol.Warnings, w.Error())
	}
	return sol, nil
}
