package opt

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

func testConfig() Config {
	c := DefaultConfig()
	c.TimeBudget = 2 * time.Second
	return c
}

func optimize(t *testing.T, stops []Stop, vehicles []Vehicle, cfg Config) Solution {
	t.Helper()
	sol, err := Optimize(context.Background(), Request{Stops: stops, Vehicles: vehicles, Config: cfg, PlanStart: noon})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	return sol
}

// checkSolution asserts capacity, windows, shift ends and exactly-once
// coverage.
func checkSolution(t *testing.T, stops []Stop, vehicles []Vehicle, sol Solution) {
	t.Helper()
	const tol = 1e-6
	byID := map[string]Stop{}
	for _, s := range stops {
		byID[s.ID] = s
	}
	seen := map[string]int{}
	if len(sol.Routes) != len(vehicles) {
		t.Fatalf("got %d routes for %d vehicles", len(sol.Routes), len(vehicles))
	}
	for vi, r := range sol.Routes {
		v := vehicles[vi]
		if r.VehicleID != v.ID {
			t.Fatalf("route %d belongs to %s, want %s", vi, r.VehicleID, v.ID)
		}
		if r.TotalLoad > v.Capacity+tol {
			t.Fatalf("vehicle %s load %v exceeds capacity %v", v.ID, r.TotalLoad, v.Capacity)
		}
		for _, vis := range r.Visits {
			seen[vis.StopID]++
			s := byID[vis.StopID]
			if s.Window != nil && (vis.ServiceStart < s.Window.Start-tol || vis.ServiceStart > s.Window.End+tol) {
				t.Fatalf("stop %s served at %v outside [%v,%v]", s.ID, vis.ServiceStart, s.Window.Start, s.Window.End)
			}
			if vis.ServiceStart < vis.Arrival-tol {
				t.Fatalf("stop %s served before arrival", s.ID)
			}
		}
		if v.Shift != nil && len(r.Visits) > 0 {
			back := v.Shift.Start + r.TotalTime + r.ReturnTime
			if back > v.Shift.End+tol {
				t.Fatalf("vehicle %s returns at %v after shift end %v", v.ID, back, v.Shift.End)
			}
		}
	}
	for _, id := range sol.Unassigned {
		seen[id]++
	}
	for _, s := range stops {
		if seen[s.ID] != 1 {
			t.Fatalf("stop %s appears %d times", s.ID, seen[s.ID])
		}
	}
	if len(seen) != len(stops) {
		t.Fatalf("solution mentions %d stops, input has %d", len(seen), len(stops))
	}
}

func randomInstance(seed int64, nStops, nVehicles int) ([]Stop, []Vehicle) {
	rng := rand.New(rand.NewSource(seed))
	stops := make([]Stop, nStops)
	for i := range stops {
		s := Stop{
			ID:             "s" + string(rune('A'+i%26)) + string(rune('a'+i/26)),
			Location:       Point{rng.Float64()*0.4 - 0.2, rng.Float64()*0.4 - 0.2},
			Demand:         float64(1 + rng.Intn(4)),
			ServiceMinutes: float64(rng.Intn(10)),
		}
		if rng.Intn(3) > 0 {
			start := float64(rng.Intn(300))
			s.Window = &TimeWindow{Start: start, End: start + 30 + float64(rng.Intn(180))}
		}
		stops[i] = s
	}
	vehicles := make([]Vehicle, nVehicles)
	for i := range vehicles {
		vehicles[i] = Vehicle{
			ID:       "v" + string(rune('0'+i)),
			Capacity: float64(10 + rng.Intn(15)),
			Depot:    Point{0, 0},
			Shift:    &TimeWindow{Start: 0, End: 480},
		}
	}
	return stops, vehicles
}

func TestScenarioTwoStopsInDistanceOrder(t *testing.T) {
	stops := []Stop{
		{ID: "near", Location: Point{0, 1}, Demand: 1},
		{ID: "far", Location: Point{0, 2}, Demand: 1},
	}
	vehicles := []Vehicle{depotVehicle("v1", 5)}
	for _, disable := range []bool{false, true} {
		cfg := testConfig()
		cfg.DisableSolver = disable
		sol := optimize(t, stops, vehicles, cfg)
		r := sol.Routes[0]
		if !reflect.DeepEqual(r.StopIDs, []string{"near", "far"}) {
			t.Fatalf("disable=%v: sequence %v", disable, r.StopIDs)
		}
		want := Haversine(Point{0, 0}, Point{0, 1}) + Haversine(Point{0, 1}, Point{0, 2})
		if math.Abs(r.TotalDistance-want) > 1e-9 {
			t.Fatalf("total distance %v, want %v", r.TotalDistance, want)
		}
		if r.TotalLoad != 2 || len(sol.Unassigned) != 0 {
			t.Fatalf("unexpected load %v or unassigned %v", r.TotalLoad, sol.Unassigned)
		}
		if !disable && sol.Status != StatusOptimalWithinBudget {
			t.Fatalf("status %s", sol.Status)
		}
	}
}

func TestScenarioCapacityLeavesOneUnassigned(t *testing.T) {
	stops := []Stop{
		{ID: "a", Location: Point{0, 0.1}, Demand: 1},
		{ID: "b", Location: Point{0.1, 0}, Demand: 1},
	}
	sol := optimize(t, stops, []Vehicle{depotVehicle("v1", 1)}, testConfig())
	if len(sol.Routes[0].StopIDs) != 1 || len(sol.Unassigned) != 1 {
		t.Fatalf("routes %v unassigned %v", sol.Routes[0].StopIDs, sol.Unassigned)
	}
	if sol.Status != StatusInfeasiblePartial {
		t.Fatalf("status %s, want %s", sol.Status, StatusInfeasiblePartial)
	}
	if len(sol.Warnings) == 0 {
		t.Fatalf("expected a capacity warning")
	}
}

func TestScenarioUnreachableWindowUnassigned(t *testing.T) {
	// serving "slow" first keeps the vehicle busy until after "tight"
	// closes, and "tight" first makes "slow" miss its own window
	stops := []Stop{
		{ID: "slow", Location: Point{0, 0.01}, Demand: 1, ServiceMinutes: 120, Window: &TimeWindow{Start: 0, End: 10}},
		{ID: "tight", Location: Point{0, 0.02}, Demand: 1, Window: &TimeWindow{Start: 50, End: 60}},
	}
	vehicles := []Vehicle{depotVehicle("v1", 5)}
	for _, disable := range []bool{false, true} {
		cfg := testConfig()
		cfg.DisableSolver = disable
		sol := optimize(t, stops, vehicles, cfg)
		if !reflect.DeepEqual(sol.Unassigned, []string{"tight"}) {
			t.Fatalf("disable=%v: unassigned %v", disable, sol.Unassigned)
		}
		checkSolution(t, stops, vehicles, sol)
	}
}

func TestScenarioZeroBudgetUsesFallback(t *testing.T) {
	stops, vehicles := randomInstance(3, 12, 2)
	cfg := testConfig()
	cfg.TimeBudget = 0
	cfg.UseFallbackOnTimeout = true
	sol := optimize(t, stops, vehicles, cfg)
	if sol.Status != StatusFallbackUsed {
		t.Fatalf("status %s, want %s", sol.Status, StatusFallbackUsed)
	}
	checkSolution(t, stops, vehicles, sol)
}

func TestZeroBudgetWithoutFallbackIsPartial(t *testing.T) {
	stops, vehicles := randomInstance(3, 12, 2)
	cfg := testConfig()
	cfg.TimeBudget = 0
	cfg.UseFallbackOnTimeout = false
	sol := optimize(t, stops, vehicles, cfg)
	if sol.Status != StatusInfeasiblePartial || len(sol.Unassigned) != len(stops) {
		t.Fatalf("status %s with %d unassigned", sol.Status, len(sol.Unassigned))
	}
}

func TestSolutionsRespectConstraints(t *testing.T) {
	for seed := int64(1); seed <= 8; seed++ {
		stops, vehicles := randomInstance(seed, 40, 4)
		for _, disable := range []bool{false, true} {
			cfg := testConfig()
			cfg.DisableSolver = disable
			sol := optimize(t, stops, vehicles, cfg)
			checkSolution(t, stops, vehicles, sol)
		}
	}
}

func TestSolveConvergesWithoutDeadline(t *testing.T) {
	for seed := int64(11); seed <= 14; seed++ {
		stops, vehicles := randomInstance(seed, 30, 3)
		p := mustBuild(t, stops, vehicles)
		res := Solve(context.Background(), p, SolveOptions{Seed: 1})
		if !res.Converged || !res.ConstructionComplete || res.TimedOut {
			t.Fatalf("seed %d: unexpected result flags %+v", seed, res)
		}
		sol, err := Assemble(p, res.Routes, res.Unassigned, statusOf(res))
		if err != nil {
			t.Fatalf("assemble: %v", err)
		}
		checkSolution(t, stops, vehicles, sol)
		if math.Abs(sol.Cost-res.Cost) > 1e-6 {
			t.Fatalf("assembled cost %v, solver cost %v", sol.Cost, res.Cost)
		}
	}
}

func TestGreedyIsDeterministic(t *testing.T) {
	stops, vehicles := randomInstance(5, 35, 3)
	cfg := testConfig()
	cfg.DisableSolver = true
	first := optimize(t, stops, vehicles, cfg)
	a, _ := json.Marshal(first)
	for i := 0; i < 5; i++ {
		again := optimize(t, stops, vehicles, cfg)
		b, _ := json.Marshal(again)
		if string(a) != string(b) {
			t.Fatalf("run %d differs:\n%s\n%s", i, a, b)
		}
	}
	if first.Status != StatusFallbackUsed {
		t.Fatalf("status %s", first.Status)
	}
}

func TestSolveIsReproducibleForSeed(t *testing.T) {
	stops, vehicles := randomInstance(9, 30, 3)
	p := mustBuild(t, stops, vehicles)
	a := Solve(context.Background(), p, SolveOptions{Seed: 42, Workers: 4})
	b := Solve(context.Background(), p, SolveOptions{Seed: 42, Workers: 1})
	if !a.Converged || !b.Converged {
		t.Fatalf("expected convergence")
	}
	if !reflect.DeepEqual(a.Routes, b.Routes) || !reflect.DeepEqual(a.Unassigned, b.Unassigned) {
		t.Fatalf("same seed produced different plans:\n%v\n%v", a.Routes, b.Routes)
	}
}

func TestLocalSearchUntanglesRoute(t *testing.T) {
	stops := []Stop{
		{ID: "s1", Location: Point{0, 0.1}},
		{ID: "s2", Location: Point{0, 0.2}},
		{ID: "s3", Location: Point{0, 0.3}},
		{ID: "s4", Location: Point{0, 0.4}},
	}
	p := mustBuild(t, stops, []Vehicle{depotVehicle("v1", 10)})
	e := &evaluator{p: p}
	ls := newLocalSearch(e, [][]int{{3, 1, 4, 2}}, 2, 1)
	before := ls.cost[0]
	_, _, converged := ls.improve(context.Background(), nil, nil)
	if !converged {
		t.Fatalf("expected convergence")
	}
	if ls.cost[0] >= before {
		t.Fatalf("cost did not improve: %v -> %v", before, ls.cost[0])
	}
	optimal := 2 * p.Cost[0][4]
	if math.Abs(ls.cost[0]-optimal) > 1e-6 {
		t.Fatalf("cost %v, want %v (route %v)", ls.cost[0], optimal, ls.routes[0])
	}
}

func TestCancelledContextSkipsFallback(t *testing.T) {
	stops, vehicles := randomInstance(4, 10, 2)
	ctx, cancel := context.WithCancel(context.Background())
	p := mustBuild(t, stops, vehicles)
	cancel()
	sol, err := Run(ctx, p, testConfig())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sol.Status == StatusFallbackUsed {
		t.Fatalf("cancellation must not trigger the fallback")
	}
	if sol.Status != StatusInfeasiblePartial {
		t.Fatalf("status %s", sol.Status)
	}
}

func TestTimeBudgetIsHonoured(t *testing.T) {
	stops, vehicles := randomInstance(21, 150, 6)
	p := mustBuild(t, stops, vehicles)
	cfg := testConfig()
	cfg.TimeBudget = 50 * time.Millisecond
	cfg.WatchdogGrace = 50 * time.Millisecond
	start := time.Now()
	sol, err := Run(context.Background(), p, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("run took %v with a 50ms budget", d)
	}
	checkSolution(t, stops, vehicles, sol)
}

func TestSoftWindowsServeLateStops(t *testing.T) {
	stops := []Stop{
		{ID: "late", Location: Point{0, 1}, Demand: 1, Window: &TimeWindow{Start: 0, End: 10}},
	}
	cfg := testConfig()
	cfg.SoftWindows = true
	sol := optimize(t, stops, []Vehicle{depotVehicle("v1", 5)}, cfg)
	if len(sol.Unassigned) != 0 {
		t.Fatalf("soft windows should serve the stop, unassigned %v", sol.Unassigned)
	}
	if sol.Routes[0].Visits[0].Lateness <= 0 {
		t.Fatalf("expected lateness to be reported")
	}
	cfg.SoftWindows = false
	sol = optimize(t, stops, []Vehicle{depotVehicle("v1", 5)}, cfg)
	if len(sol.Unassigned) != 1 {
		t.Fatalf("hard windows should reject the stop")
	}
}

func TestOptimizeRejectsNegativeBudget(t *testing.T) {
	cfg := testConfig()
	cfg.TimeBudget = -time.Second
	_, err := Optimize(context.Background(), Request{
		Stops:    []Stop{{ID: "s1"}},
		Vehicles: []Vehicle{depotVehicle("v1", 1)},
		Config:   cfg,
	})
	if err == nil {
		t.Fatalf("expected an error for a negative budget")
	}
}

func TestEqualInsertionsPreferLowestVehicle(t *testing.T) {
	// both vehicles reach the stop at the same cost and duration; the later
	// shift start of v0 only changes arrival times
	stops := []Stop{{ID: "s", Location: Point{0, 0.05}, Demand: 1}}
	late := depotVehicle("v0", 5)
	late.Shift = &TimeWindow{Start: 10, End: 600}
	early := depotVehicle("v1", 5)
	early.Shift = &TimeWindow{Start: 0, End: 600}
	p := mustBuild(t, stops, []Vehicle{late, early})

	g := Greedy(p, false, 0)
	if len(g.Routes[0]) != 1 || len(g.Routes[1]) != 0 {
		t.Fatalf("greedy routes %v, want stop on vehicle 0", g.Routes)
	}
	res := Solve(context.Background(), p, SolveOptions{Seed: 1})
	if len(res.Routes[0]) != 1 || len(res.Routes[1]) != 0 {
		t.Fatalf("solve routes %v, want stop on vehicle 0", res.Routes)
	}
}

// stalledSolve publishes the given incumbent and then ignores its deadline
// until release is closed.
func stalledSolve(release <-chan struct{}, routes [][]int, unassigned []int, constructed bool) solveFunc {
	return func(_ context.Context, _ *Problem, opts SolveOptions) SolveResult {
		if routes != nil {
			opts.Incumbent.offer(routes, unassigned, constructed)
		}
		<-release
		return SolveResult{}
	}
}

func TestWatchdogAbandonsStalledSolver(t *testing.T) {
	stops := []Stop{
		{ID: "a", Location: Point{0, 0.01}, Demand: 1},
		{ID: "b", Location: Point{0, 0.02}, Demand: 1},
	}
	p := mustBuild(t, stops, []Vehicle{depotVehicle("v", 5)})
	cfg := testConfig()
	cfg.TimeBudget = 20 * time.Millisecond
	cfg.WatchdogGrace = 20 * time.Millisecond
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	cases := []struct {
		name       string
		routes     [][]int
		unassigned []int
		complete   bool
		fallback   bool
		status     Status
		stopIDs    []string
		missing    []string
	}{
		{name: "constructed incumbent", routes: [][]int{{2, 1}}, complete: true, fallback: true,
			status: StatusFeasible, stopIDs: []string{"b", "a"}},
		{name: "partial incumbent", routes: [][]int{{1}}, unassigned: []int{2}, fallback: false,
			status: StatusInfeasiblePartial, stopIDs: []string{"a"}, missing: []string{"b"}},
		{name: "partial incumbent with fallback", routes: [][]int{{1}}, unassigned: []int{2}, fallback: true,
			status: StatusFallbackUsed},
		{name: "nothing published", fallback: false,
			status: StatusInfeasiblePartial, missing: []string{"a", "b"}},
	}
	for _, tc := range cases {
		c := cfg
		c.UseFallbackOnTimeout = tc.fallback
		start := time.Now()
		sol, err := run(context.Background(), p, c, stalledSolve(release, tc.routes, tc.unassigned, tc.complete))
		elapsed := time.Since(start)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if elapsed < c.TimeBudget+c.WatchdogGrace || elapsed > c.TimeBudget+c.WatchdogGrace+time.Second {
			t.Fatalf("%s: returned after %v", tc.name, elapsed)
		}
		if sol.Status != tc.status {
			t.Fatalf("%s: status %s, want %s", tc.name, sol.Status, tc.status)
		}
		if tc.status == StatusFallbackUsed {
			if len(sol.Unassigned) != 0 {
				t.Fatalf("%s: fallback left %v unassigned", tc.name, sol.Unassigned)
			}
			continue
		}
		if got := sol.Routes[0].StopIDs; !reflect.DeepEqual(append([]string{}, got...), append([]string{}, tc.stopIDs...)) {
			t.Fatalf("%s: route %v, want %v", tc.name, got, tc.stopIDs)
		}
		if !reflect.DeepEqual(append([]string{}, sol.Unassigned...), append([]string{}, tc.missing...)) {
			t.Fatalf("%s: unassigned %v, want %v", tc.name, sol.Unassigned, tc.missing)
		}
	}
}
