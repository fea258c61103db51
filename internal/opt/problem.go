package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// TimeWindow is expressed in minutes relative to the plan start.
type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Stop struct {
	ID             string
	Location       Point
	Demand         float64
	Window         *TimeWindow // nil: any time
	ServiceMinutes float64
}

type Vehicle struct {
	ID       string
	Capacity float64
	Depot    Point
	Shift    *TimeWindow // earliest departure, latest return
}

// Problem is one routing instance. Index 0 is the depot, stop i lives at
// index i+1. Cost holds adjusted travel minutes and doubles as the travel
// time used for window propagation; Dist holds kilometers for reporting.
type Problem struct {
	Depot    Point
	Stops    []Stop
	Vehicles []Vehicle
	Dist     [][]float64
	Cost     [][]float64

	Bucket      TimeBucket
	Approximate bool // some legs used a fallback estimate
	Degraded    bool // the configured provider failed, haversine was used
	Warnings    []error

	demand    []float64
	service   []float64
	winStart  []float64
	winEnd    []float64
	capacity  []float64
	shiftFrom []float64
	shiftTo   []float64
}

// Size is the matrix dimension: depot plus stops.
func (p *Problem) Size() int { return len(p.Stops) + 1 }

type BuildInput struct {
	Stops     []Stop
	Vehicles  []Vehicle
	Provider  DistanceProvider // nil: haversine
	Predictor ETAPredictor     // optional, queried live
	Costs     CostModel
	PlanStart time.Time
	Workers   int
	// Precomputed predictions take precedence over the live predictor.
	Precomputed PrecomputedETA
	// PredictTimeout bounds the live predictor phase; zero means no bound.
	PredictTimeout time.Duration
}

// ValidateInput checks stops and vehicles before any computation happens.
func ValidateInput(stops []Stop, vehicles []Vehicle) error {
	if len(vehicles) == 0 {
		return fmt.Errorf("%w: at least one vehicle is required", ErrMalformedInput)
	}
	seen := make(map[string]struct{}, len(stops))
	for i, s := range stops {
		if s.ID == "" {
			return fmt.Errorf("%w: stop %d has no id", ErrMalformedInput, i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: duplicate stop id %q", ErrMalformedInput, s.ID)
		}
		seen[s.ID] = struct{}{}
		if !s.Location.valid() {
			return fmt.Errorf("%w: stop %q has invalid coordinates", ErrMalformedInput, s.ID)
		}
		if !finiteNonNeg(s.Demand) {
			return fmt.Errorf("%w: stop %q has negative demand", ErrMalformedInput, s.ID)
		}
		if !finiteNonNeg(s.ServiceMinutes) {
			return fmt.Errorf("%w: stop %q has negative service duration", ErrMalformedInput, s.ID)
		}
		if err := checkWindow(s.Window); err != nil {
			return fmt.Errorf("%w: stop %q %v", ErrMalformedInput, s.ID, err)
		}
	}
	vseen := make(map[string]struct{}, len(vehicles))
	for i, v := range vehicles {
		if v.ID == "" {
			return fmt.Errorf("%w: vehicle %d has no id", ErrMalformedInput, i)
		}
		if _, dup := vseen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate vehicle id %q", ErrMalformedInput, v.ID)
		}
		vseen[v.ID] = struct{}{}
		if !finiteNonNeg(v.Capacity) {
			return fmt.Errorf("%w: vehicle %q has negative capacity", ErrMalformedInput, v.ID)
		}
		if !v.Depot.valid() {
			return fmt.Errorf("%w: vehicle %q has invalid depot coordinates", ErrMalformedInput, v.ID)
		}
		if Haversine(v.Depot, vehicles[0].Depot) > 1e-6 {
			return fmt.Errorf("%w: vehicle %q uses a different depot, only a single depot is supported", ErrMalformedInput, v.ID)
		}
		if err := checkWindow(v.Shift); err != nil {
			return fmt.Errorf("%w: vehicle %q shift %v", ErrMalformedInput, v.ID, err)
		}
	}
	return nil
}

func checkWindow(w *TimeWindow) error {
	if w == nil {
		return nil
	}
	if math.IsNaN(w.Start) || math.IsNaN(w.End) || math.IsInf(w.Start, 0) {
		return errors.New("window bounds must be numbers")
	}
	if w.End < w.Start {
		return errors.New("window ends before it starts")
	}
	return nil
}

func finiteNonNeg(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func defaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// BuildProblem assembles the instance and its matrices. Total demand above
// fleet capacity is recorded as a warning; the build still succeeds.
func BuildProblem(ctx context.Context, in BuildInput) (*Problem, error) {
	if err := ValidateInput(in.Stops, in.Vehicles); err != nil {
		return nil, err
	}
	if len(in.Stops) == 0 {
		return nil, ErrEmptyProblem
	}
	if err := in.Costs.Validate(); err != nil {
		return nil, err
	}
	workers := in.Workers
	if workers <= 0 {
		workers = defaultWorkers()
	}
	p := &Problem{
		Depot:    in.Vehicles[0].Depot,
		Stops:    in.Stops,
		Vehicles: in.Vehicles,
		Bucket:   BucketAt(in.PlanStart),
	}
	points := make([]Point, p.Size())
	points[0] = p.Depot
	for i, s := range in.Stops {
		points[i+1] = s.Location
	}

	provider := in.Provider
	if provider == nil {
		provider = HaversineProvider{}
	}
	if s, ok := provider.(Snapshotter); ok {
		provider = s.Snapshot()
	}
	est, err := estimateAll(ctx, provider, points, workers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.Degraded = true
		p.Warnings = append(p.Warnings, fmt.Errorf("%w: %v", ErrDistanceProviderUnavailable, err))
		est, err = estimateAll(ctx, HaversineProvider{}, points, workers)
		if err != nil {
			return nil, err
		}
	}

	var preds [][]*Prediction
	if in.Predictor != nil || len(in.Precomputed) > 0 {
		var incomplete bool
		preds, incomplete, err = predictAll(ctx, in.Predictor, in.Precomputed, points, in.PlanStart, workers, in.PredictTimeout)
		if err != nil {
			return nil, err
		}
		if incomplete {
			p.Warnings = append(p.Warnings, fmt.Errorf("%w: remaining legs use traffic multipliers", ErrPredictorUnavailable))
		}
	}

	n := p.Size()
	p.Dist = newMatrix(n)
	p.Cost = newMatrix(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			e := est[i][j]
			if e.Approximate {
				p.Approximate = true
			}
			var pr *Prediction
			if preds != nil {
				pr = preds[i][j]
			}
			p.Dist[i][j] = math.Max(0, e.Km)
			p.Cost[i][j] = in.Costs.Adjust(e, p.Bucket, pr)
		}
	}
	if err := p.prepare(); err != nil {
		return nil, err
	}
	if w := p.capacityWarning(); w != nil {
		p.Warnings = append(p.Warnings, w)
	}
	return p, nil
}

// NewProblem builds an instance from caller-supplied matrices.
func NewProblem(stops []Stop, vehicles []Vehicle, dist, cost [][]float64) (*Problem, error) {
	if err := ValidateInput(stops, vehicles); err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		return nil, ErrEmptyProblem
	}
	p := &Problem{
		Depot:    vehicles[0].Depot,
		Stops:    stops,
		Vehicles: vehicles,
		Dist:     dist,
		Cost:     cost,
	}
	if err := p.prepare(); err != nil {
		return nil, err
	}
	if w := p.capacityWarning(); w != nil {
		p.Warnings = append(p.Warnings, w)
	}
	return p, nil
}

func newMatrix(n int) [][]float64 {
	backing := make([]float64, n*n)
	m := make([][]float64, n)
	for i := range m {
		m[i] = backing[i*n : (i+1)*n : (i+1)*n]
	}
	return m
}

func checkMatrix(name string, m [][]float64, n int) error {
	if len(m) != n {
		return fmt.Errorf("%w: %s matrix has %d rows, want %d", ErrMalformedInput, name, len(m), n)
	}
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("%w: %s matrix row %d has %d columns, want %d", ErrMalformedInput, name, i, len(row), n)
		}
		for j, v := range row {
			if !finiteNonNeg(v) {
				return fmt.Errorf("%w: %s[%d][%d] must be finite and non-negative", ErrMalformedInput, name, i, j)
			}
			if i == j && v != 0 {
				return fmt.Errorf("%w: %s diagonal must be zero", ErrMalformedInput, name)
			}
		}
	}
	return nil
}

// prepare validates the matrices and derives per-index arrays.
func (p *Problem) prepare() error {
	n := p.Size()
	if err := checkMatrix("distance", p.Dist, n); err != nil {
		return err
	}
	if err := checkMatrix("cost", p.Cost, n); err != nil {
		return err
	}
	p.demand = make([]float64, n)
	p.service = make([]float64, n)
	p.winStart = make([]float64, n)
	p.winEnd = make([]float64, n)
	p.winEnd[0] = math.Inf(1)
	for i, s := range p.Stops {
		k := i + 1
		p.demand[k] = s.Demand
		p.service[k] = s.ServiceMinutes
		p.winEnd[k] = math.Inf(1)
		if s.Window != nil {
			p.winStart[k] = s.Window.Start
			p.winEnd[k] = s.Window.End
		}
	}
	m := len(p.Vehicles)
	p.capacity = make([]float64, m)
	p.shiftFrom = make([]float64, m)
	p.shiftTo = make([]float64, m)
	for v, veh := range p.Vehicles {
		p.capacity[v] = veh.Capacity
		p.shiftTo[v] = math.Inf(1)
		if veh.Shift != nil {
			p.shiftFrom[v] = veh.Shift.Start
			p.shiftTo[v] = veh.Shift.End
		}
	}
	return nil
}

func (p *Problem) capacityWarning() error {
	var demand, capacity float64
	for _, s := range p.Stops {
		demand += s.Demand
	}
	for _, v := range p.Vehicles {
		capacity += v.Capacity
	}
	if demand > capacity {
		return fmt.Errorf("%w: total demand %.2f exceeds fleet capacity %.2f", ErrCapacityInfeasible, demand, capacity)
	}
	return nil
}

func estimateAll(ctx context.Context, provider DistanceProvider, points []Point, workers int) ([][]Estimate, error) {
	n := len(points)
	if mp, ok := provider.(MatrixProvider); ok {
		m, err := mp.EstimateMatrix(ctx, points)
		if err != nil {
			return nil, err
		}
		if len(m) != n {
			return nil, fmt.Errorf("matrix provider returned %d rows for %d points", len(m), n)
		}
		for i, row := range m {
			if len(row) != n {
				return nil, fmt.Errorf("matrix provider row %d has %d columns for %d points", i, len(row), n)
			}
		}
		return m, nil
	}
	symmetric := false
	if s, ok := provider.(Symmetric); ok {
		symmetric = s.Symmetric()
	}
	out := make([][]Estimate, n)
	for i := range out {
		out[i] = make([]Estimate, n)
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			for j := 0; j < n; j++ {
				if i == j || (symmetric && j < i) {
					continue
				}
				e, err := provider.Estimate(gctx, points[i], points[j])
				if err != nil {
					return fmt.Errorf("estimate %d->%d: %w", i, j, err)
				}
				if !finiteNonNeg(e.Km) || !finiteNonNeg(e.Minutes) {
					return fmt.Errorf("estimate %d->%d: provider returned an invalid value", i, j)
				}
				out[i][j] = e
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if symmetric {
		for i := 0; i < n; i++ {
			for j := 0; j < i; j++ {
				out[i][j] = out[j][i]
			}
		}
	}
	return out, nil
}

// predictAll collects a prediction for every leg. Precomputed legs always
// apply. The live predictor is queried under timeout and abandoned for the
// rest of the build after its first failure; incomplete reports legs it
// never answered. Only cancellation of ctx aborts the build.
func predictAll(ctx context.Context, live ETAPredictor, pre PrecomputedETA, points []Point, departure time.Time, workers int, timeout time.Duration) ([][]*Prediction, bool, error) {
	n := len(points)
	out := make([][]*Prediction, n)
	for i := range out {
		out[i] = make([]*Prediction, n)
	}
	var lctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		lctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		lctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	var failed, skipped atomic.Bool
	var eg errgroup.Group
	eg.SetLimit(workers)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				if pr, ok := pre[[2]Point{points[i], points[j]}]; ok {
					out[i][j] = &pr
					continue
				}
				if live == nil {
					continue
				}
				if failed.Load() || lctx.Err() != nil {
					skipped.Store(true)
					continue
				}
				pr, err := live.PredictETA(lctx, points[i], points[j], departure)
				switch {
				case err == nil:
					out[i][j] = &pr
				case errors.Is(err, ErrNoPrediction):
				default:
					failed.Store(true)
					cancel()
				}
			}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return out, failed.Load() || skipped.Load(), nil
}
