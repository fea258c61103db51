package opt

import "errors"

var (
	// ErrMalformedInput is returned for structurally invalid problems.
	ErrMalformedInput = errors.New("malformed input")
	// ErrEmptyProblem is returned when there is nothing to route.
	ErrEmptyProblem = errors.New("empty problem")
	// ErrCapacityInfeasible is a warning: total demand exceeds total fleet
	// capacity, so some stops will end up unassigned.
	ErrCapacityInfeasible = errors.New("capacity infeasible")
	// ErrInternalSolver means the solver produced an inconsistent plan.
	ErrInternalSolver = errors.New("internal solver error")
	// ErrDistanceProviderUnavailable is recoverable: estimates fall back to haversine.
	ErrDistanceProviderUnavailable = errors.New("distance provider unavailable")
	// ErrPredictorUnavailable is recoverable: legs the live predictor did not
	// answer use traffic multipliers.
	ErrPredictorUnavailable = errors.New("eta predictor unavailable")
	// ErrNoPrediction is returned by predictors that have nothing for a leg.
	ErrNoPrediction = errors.New("no prediction")
)
