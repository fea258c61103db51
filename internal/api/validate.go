package api

import (
	"fmt"

	"fleetopt/internal/model"
)

const (
	maxStops             = 5000
	maxVehicles          = 1000
	maxTimeBudgetSeconds = 300
)

// validateOptimizeRequest rejects requests the engine should never see.
// Geometry, windows and capacities are checked by the engine itself.
func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if len(req.Stops) > maxStops {
		return fmt.Errorf("too many stops: %d (max %d)", len(req.Stops), maxStops)
	}
	if len(req.Vehicles) > maxVehicles {
		return fmt.Errorf("too many vehicles: %d (max %d)", len(req.Vehicles), maxVehicles)
	}
	if len(req.BatchKey) > 200 {
		return fmt.Errorf("batchKey must be at most 200 characters")
	}
	for i, s := range req.Stops {
		if s.ID == model.DepotID {
			return fmt.Errorf("stops[%d]: id %q is reserved", i, model.DepotID)
		}
	}
	if c := req.Config; c != nil {
		if c.TimeBudgetSeconds != nil && (*c.TimeBudgetSeconds < 0 || *c.TimeBudgetSeconds > maxTimeBudgetSeconds) {
			return fmt.Errorf("timeBudgetSeconds must be in [0,%d]", maxTimeBudgetSeconds)
		}
		if c.LatenessPenalty != nil && *c.LatenessPenalty < 0 {
			return fmt.Errorf("latenessPenalty must be >= 0")
		}
	}
	for i, p := range req.Predictions {
		if p.Confidence < 0 || p.Confidence > 1 {
			return fmt.Errorf("predictions[%d]: confidence must be in [0,1]", i)
		}
		if p.PredictedMinutes < 0 {
			return fmt.Errorf("predictions[%d]: predictedMinutes must be >= 0", i)
		}
	}
	return nil
}
