package model

import (
	"fmt"
	"math"
	"time"

	"fleetopt/internal/opt"
)

// Apply layers the overrides on top of base.
func (c *SolverConfigIn) Apply(base opt.Config) opt.Config {
	out := base
	out.Costs.Traffic.Multipliers = map[opt.TimeBucket]float64{}
	for b, m := range base.Costs.Traffic.Multipliers {
		out.Costs.Traffic.Multipliers[b] = m
	}
	if c == nil {
		return out
	}
	if c.TimeBudgetSeconds != nil {
		out.TimeBudget = time.Duration(*c.TimeBudgetSeconds * float64(time.Second))
	}
	if c.UseFallbackOnTimeout != nil {
		out.UseFallbackOnTimeout = *c.UseFallbackOnTimeout
	}
	if c.DisableSolver != nil {
		out.DisableSolver = *c.DisableSolver
	}
	if c.SoftWindows != nil {
		out.SoftWindows = *c.SoftWindows
	}
	if c.LatenessPenalty != nil {
		out.LatenessPenalty = *c.LatenessPenalty
	}
	if c.Seed != nil {
		out.Seed = *c.Seed
	}
	if c.SpeedKph != nil {
		out.Costs.SpeedKph = *c.SpeedKph
	}
	if len(c.TrafficMultiplierTable) > 0 {
		out.Costs.Traffic.Version = "request"
		for b, m := range c.TrafficMultiplierTable {
			out.Costs.Traffic.Multipliers[opt.TimeBucket(b)] = m
		}
	}
	if c.ETABlendWeight != nil {
		out.Costs.ETABlendWeight = *c.ETABlendWeight
	}
	if c.ETAConfidenceThreshold != nil {
		out.Costs.ETAConfidenceThreshold = *c.ETAConfidenceThreshold
	}
	return out
}

// ToCore converts the request into engine inputs. Provider and a remote
// predictor are chosen by the caller.
func (r OptimizeRequest) ToCore(base opt.Config, now time.Time) (opt.Request, opt.PrecomputedETA, error) {
	req := opt.Request{Config: r.Config.Apply(base), PlanStart: now}
	if r.PlanStart != "" {
		ts, err := time.Parse(time.RFC3339, r.PlanStart)
		if err != nil {
			return opt.Request{}, nil, fmt.Errorf("%w: planStart must be RFC3339", opt.ErrMalformedInput)
		}
		req.PlanStart = ts
	}
	req.Stops = make([]opt.Stop, len(r.Stops))
	where := map[string]opt.Point{}
	for i, s := range r.Stops {
		req.Stops[i] = opt.Stop{
			ID:             s.ID,
			Location:       opt.Point{Lat: s.Lat, Lon: s.Lon},
			Demand:         s.Demand,
			Window:         window(s.WindowStart, s.WindowEnd),
			ServiceMinutes: s.ServiceDuration,
		}
		where[s.ID] = req.Stops[i].Location
	}
	req.Vehicles = make([]opt.Vehicle, len(r.Vehicles))
	for i, v := range r.Vehicles {
		req.Vehicles[i] = opt.Vehicle{
			ID:       v.ID,
			Capacity: v.Capacity,
			Depot:    opt.Point{Lat: v.DepotLat, Lon: v.DepotLon},
			Shift:    window(v.ShiftStart, v.ShiftEnd),
		}
	}
	if len(r.Vehicles) > 0 {
		where[DepotID] = req.Vehicles[0].Depot
	}
	var pre opt.PrecomputedETA
	if len(r.Predictions) > 0 {
		pre = opt.PrecomputedETA{}
		for _, p := range r.Predictions {
			from, ok := where[p.FromID]
			if !ok {
				return opt.Request{}, nil, fmt.Errorf("%w: prediction references unknown stop %q", opt.ErrMalformedInput, p.FromID)
			}
			to, ok := where[p.ToID]
			if !ok {
				return opt.Request{}, nil, fmt.Errorf("%w: prediction references unknown stop %q", opt.ErrMalformedInput, p.ToID)
			}
			pre[[2]opt.Point{from, to}] = opt.Prediction{Minutes: p.PredictedMinutes, Confidence: p.Confidence}
		}
	}
	return req, pre, nil
}

func window(start, end *float64) *opt.TimeWindow {
	if start == nil && end == nil {
		return nil
	}
	w := &opt.TimeWindow{End: math.Inf(1)}
	if start != nil {
		w.Start = *start
	}
	if end != nil {
		w.End = *end
	}
	return w
}

// PlanFromSolution renders a solution for storage and the API.
func PlanFromSolution(id, batchKey string, createdAt time.Time, sol opt.Solution) Plan {
	p := Plan{
		ID:                id,
		BatchKey:          batchKey,
		CreatedAt:         createdAt.UTC().Format(time.RFC3339),
		Status:            string(sol.Status),
		Routes:            make([]RouteOut, len(sol.Routes)),
		UnassignedStopIDs: append([]string{}, sol.Unassigned...),
		Cost:              sol.Cost,
		Iterations:        sol.Iterations,
		Approximate:       sol.Approximate,
		Degraded:          sol.Degraded,
		Warnings:          append([]string(nil), sol.Warnings...),
	}
	if sol.Status != opt.StatusOptimalWithinBudget {
		p.Warnings = append(p.Warnings, "status: "+string(sol.Status))
	}
	for i, r := range sol.Routes {
		out := RouteOut{
			VehicleID:      r.VehicleID,
			StopSequence:   append([]string{}, r.StopIDs...),
			TotalDistance:  r.TotalDistance,
			TotalTime:      r.TotalTime,
			TotalLoad:      r.TotalLoad,
			ReturnDistance: r.ReturnDistance,
			ReturnTime:     r.ReturnTime,
			Visits:         make([]VisitOut, len(r.Visits)),
		}
		for j, v := range r.Visits {
			out.Visits[j] = VisitOut{
				StopID:       v.StopID,
				Arrival:      v.Arrival,
				ServiceStart: v.ServiceStart,
				Departure:    v.Departure,
				Load:         v.Load,
				Lateness:     v.Lateness,
			}
		}
		p.Routes[i] = out
	}
	return p
}

// Profile describes cfg in wire form.
func Profile(cfg opt.Config) OptimizerProfile {
	table := map[string]float64{}
	for b, m := range cfg.Costs.Traffic.Multipliers {
		table[string(b)] = m
	}
	return OptimizerProfile{
		TimeBudgetSeconds:      cfg.TimeBudget.Seconds(),
		UseFallbackOnTimeout:   cfg.UseFallbackOnTimeout,
		DisableSolver:          cfg.DisableSolver,
		SoftWindows:            cfg.SoftWindows,
		LatenessPenalty:        cfg.LatenessPenalty,
		Seed:                   cfg.Seed,
		SpeedKph:               cfg.Costs.SpeedKph,
		TrafficTableVersion:    cfg.Costs.Traffic.Version,
		TrafficMultiplierTable: table,
		ETABlendWeight:         cfg.Costs.ETABlendWeight,
		ETAConfidenceThreshold: cfg.Costs.ETAConfidenceThreshold,
	}
}

// Config turns a profile back into engine configuration on top of base.
func (p OptimizerProfile) Config(base opt.Config) opt.Config {
	out := base
	out.TimeBudget = time.Duration(p.TimeBudgetSeconds * float64(time.Second))
	out.UseFallbackOnTimeout = p.UseFallbackOnTimeout
	out.DisableSolver = p.DisableSolver
	out.SoftWindows = p.SoftWindows
	out.LatenessPenalty = p.LatenessPenalty
	out.Seed = p.Seed
	out.Costs.SpeedKph = p.SpeedKph
	out.Costs.ETABlendWeight = p.ETABlendWeight
	out.Costs.ETAConfidenceThreshold = p.ETAConfidenceThreshold
	out.Costs.Traffic = opt.TrafficTable{Version: p.TrafficTableVersion, Multipliers: map[opt.TimeBucket]float64{}}
	for b, m := range p.TrafficMultiplierTable {
		out.Costs.Traffic.Multipliers[opt.TimeBucket(b)] = m
	}
	return out
}
