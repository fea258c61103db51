package opt

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	DefaultTimeBudget      = 5 * time.Second
	DefaultWatchdogGrace   = 250 * time.Millisecond
	DefaultLatenessPenalty = 10.0

	// Without an explicit PredictTimeout the live ETA phase gets a quarter
	// of the time budget, kept within these bounds.
	MinPredictTimeout = 50 * time.Millisecond
	MaxPredictTimeout = 2 * time.Second
)

type Config struct {
	TimeBudget           time.Duration
	UseFallbackOnTimeout bool
	DisableSolver        bool
	Seed                 int64
	Workers              int
	WatchdogGrace        time.Duration // extra wait past the budget before abandoning the solver
	SoftWindows          bool
	LatenessPenalty      float64
	PredictTimeout       time.Duration // bound on live ETA queries during the build
	Costs                CostModel
}

func DefaultConfig() Config {
	return Config{
		TimeBudget:           DefaultTimeBudget,
		UseFallbackOnTimeout: true,
		Seed:                 1,
		WatchdogGrace:        DefaultWatchdogGrace,
		LatenessPenalty:      DefaultLatenessPenalty,
		Costs:                DefaultCostModel(),
	}
}

func (c Config) Validate() error {
	if c.TimeBudget < 0 {
		return fmt.Errorf("%w: time budget must not be negative", ErrMalformedInput)
	}
	if c.PredictTimeout < 0 {
		return fmt.Errorf("%w: predict timeout must not be negative", ErrMalformedInput)
	}
	if math.IsNaN(c.LatenessPenalty) || c.LatenessPenalty < 0 {
		return fmt.Errorf("%w: lateness penalty must not be negative", ErrMalformedInput)
	}
	return c.Costs.Validate()
}

func (c Config) predictTimeout() time.Duration {
	if c.PredictTimeout > 0 {
		return c.PredictTimeout
	}
	return min(max(c.TimeBudget/4, MinPredictTimeout), MaxPredictTimeout)
}

// Request is one optimization call. Provider defaults to haversine;
// Predictor and Precomputed are optional.
type Request struct {
	Stops       []Stop
	Vehicles    []Vehicle
	Config      Config
	Provider    DistanceProvider
	Predictor   ETAPredictor
	Precomputed PrecomputedETA
	PlanStart   time.Time
}

// Optimize validates the request, builds the problem and plans it. Only
// malformed input, an empty stop list, cancellation during the build or an
// internal inconsistency produce an error; everything else is reported
// through the solution status.
func Optimize(ctx context.Context, req Request) (Solution, error) {
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return Solution{}, err
	}
	p, err := BuildProblem(ctx, BuildInput{
		Stops:          req.Stops,
		Vehicles:       req.Vehicles,
		Provider:       req.Provider,
		Predictor:      req.Predictor,
		Precomputed:    req.Precomputed,
		PredictTimeout: cfg.predictTimeout(),
		Costs:          cfg.Costs,
		PlanStart:      req.PlanStart,
		Workers:        cfg.Workers,
	})
	if err != nil {
		return Solution{}, fmt.Errorf("build problem: %w", err)
	}
	return Run(ctx, p, cfg)
}

// Run plans an already built problem.
func Run(ctx context.Context, p *Problem, cfg Config) (Solution, error) {
	return run(ctx, p, cfg, Solve)
}

type solveFunc func(ctx context.Context, p *Problem, opts SolveOptions) SolveResult

func run(ctx context.Context, p *Problem, cfg Config, solve solveFunc) (Solution, error) {
	if cfg.DisableSolver {
		g := Greedy(p, cfg.SoftWindows, cfg.LatenessPenalty)
		return Assemble(p, g.Routes, g.Unassigned, StatusFallbackUsed)
	}
	res, err := solveWithWatchdog(ctx, p, cfg, solve)
	if err != nil {
		return Solution{}, err
	}
	if !res.ConstructionComplete && res.TimedOut && cfg.UseFallbackOnTimeout && ctx.Err() == nil {
		g := Greedy(p, cfg.SoftWindows, cfg.LatenessPenalty)
		return Assemble(p, g.Routes, g.Unassigned, StatusFallbackUsed)
	}
	sol, err := Assemble(p, res.Routes, res.Unassigned, statusOf(res))
	if err != nil {
		return Solution{}, err
	}
	sol.Iterations = res.Iterations
	return sol, nil
}

func statusOf(res SolveResult) Status {
	switch {
	case len(res.Unassigned) > 0:
		return StatusInfeasiblePartial
	case res.Converged:
		return StatusOptimalWithinBudget
	default:
		return StatusFeasible
	}
}

// solveWithWatchdog runs Solve under the time budget. If the solver has not
// returned by budget plus grace it is cancelled and abandoned, and the last
// published incumbent is used instead.
func solveWithWatchdog(ctx context.Context, p *Problem, cfg Config, solve solveFunc) (SolveResult, error) {
	sctx, cancel := context.WithTimeout(ctx, cfg.TimeBudget)
	defer cancel()
	inc := &Incumbent{}
	type outcome struct {
		res SolveResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrInternalSolver, r)}
			}
		}()
		done <- outcome{res: solve(sctx, p, SolveOptions{
			Seed:            cfg.Seed,
			Workers:         cfg.Workers,
			SoftWindows:     cfg.SoftWindows,
			LatenessPenalty: cfg.LatenessPenalty,
			Incumbent:       inc,
		})}
	}()
	grace := cfg.WatchdogGrace
	if grace <= 0 {
		grace = DefaultWatchdogGrace
	}
	watchdog := time.NewTimer(cfg.TimeBudget + grace)
	defer watchdog.Stop()
	select {
	case out := <-done:
		return out.res, out.err
	case <-watchdog.C:
		cancel()
		res := SolveResult{TimedOut: true}
		routes, unassigned, constructed, ok := inc.Load()
		if !ok {
			routes = make([][]int, len(p.Vehicles))
			for i := 1; i < p.Size(); i++ {
				unassigned = append(unassigned, i)
			}
		}
		res.Routes, res.Unassigned, res.ConstructionComplete = routes, unassigned, constructed
		return res, nil
	}
}
