package model

// Wire types for the optimization API. Times are minutes from planStart.

type StopIn struct {
	ID              string   `json:"id"`
	Lat             float64  `json:"lat"`
	Lon             float64  `json:"lon"`
	Demand          float64  `json:"demand"`
	WindowStart     *float64 `json:"windowStart,omitempty"`
	WindowEnd       *float64 `json:"windowEnd,omitempty"`
	ServiceDuration float64  `json:"serviceDuration,omitempty"`
}

type VehicleIn struct {
	ID         string   `json:"id"`
	Capacity   float64  `json:"capacity"`
	DepotLat   float64  `json:"depotLat"`
	DepotLon   float64  `json:"depotLon"`
	ShiftStart *float64 `json:"shiftStart,omitempty"`
	ShiftEnd   *float64 `json:"shiftEnd,omitempty"`
}

// SolverConfigIn overrides the server defaults field by field.
type SolverConfigIn struct {
	TimeBudgetSeconds      *float64           `json:"timeBudgetSeconds,omitempty"`
	UseFallbackOnTimeout   *bool              `json:"useFallbackOnTimeout,omitempty"`
	DisableSolver          *bool              `json:"disableSolver,omitempty"`
	SoftWindows            *bool              `json:"softWindows,omitempty"`
	LatenessPenalty        *float64           `json:"latenessPenalty,omitempty"`
	Seed                   *int64             `json:"seed,omitempty"`
	SpeedKph               *float64           `json:"speedKph,omitempty"`
	TrafficMultiplierTable map[string]float64 `json:"trafficMultiplierTable,omitempty"`
	ETABlendWeight         *float64           `json:"etaBlendWeight,omitempty"`
	ETAConfidenceThreshold *float64           `json:"etaConfidenceThreshold,omitempty"`
}

// PredictionIn is a precomputed ETA for one leg. DepotID names the depot.
type PredictionIn struct {
	FromID           string  `json:"fromId"`
	ToID             string  `json:"toId"`
	PredictedMinutes float64 `json:"predictedMinutes"`
	Confidence       float64 `json:"confidence"`
}

const DepotID = "depot"

type OptimizeRequest struct {
	BatchKey    string          `json:"batchKey,omitempty"`
	PlanStart   string          `json:"planStart,omitempty"` // RFC3339, defaults to now
	Stops       []StopIn        `json:"stops"`
	Vehicles    []VehicleIn     `json:"vehicles"`
	Config      *SolverConfigIn `json:"config,omitempty"`
	Predictions []PredictionIn  `json:"predictions,omitempty"`
}

type VisitOut struct {
	StopID       string  `json:"stopId"`
	Arrival      float64 `json:"arrival"`
	ServiceStart float64 `json:"serviceStart"`
	Departure    float64 `json:"departure"`
	Load         float64 `json:"load"`
	Lateness     float64 `json:"lateness,omitempty"`
}

type RouteOut struct {
	VehicleID      string     `json:"vehicleId"`
	StopSequence   []string   `json:"stopSequence"`
	TotalDistance  float64    `json:"totalDistance"`
	TotalTime      float64    `json:"totalTime"`
	TotalLoad      float64    `json:"totalLoad"`
	ReturnDistance float64    `json:"returnDistance"`
	ReturnTime     float64    `json:"returnTime"`
	Visits         []VisitOut `json:"visits"`
}

// Plan is a stored optimization result.
type Plan struct {
	ID                string     `json:"planId"`
	BatchKey          string     `json:"batchKey,omitempty"`
	CreatedAt         string     `json:"createdAt"`
	Status            string     `json:"status"`
	Routes            []RouteOut `json:"routes"`
	UnassignedStopIDs []string   `json:"unassignedStopIds"`
	Cost              float64    `json:"cost"`
	Iterations        int        `json:"iterations,omitempty"`
	Approximate       bool       `json:"approximate,omitempty"`
	Degraded          bool       `json:"degraded,omitempty"`
	Warnings          []string   `json:"warnings,omitempty"`
}

// PlanEvent is published to stream subscribers of a batch.
type PlanEvent struct {
	Type     string `json:"type"`
	BatchKey string `json:"batchKey"`
	PlanID   string `json:"planId,omitempty"`
	Status   string `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

const (
	EventPlanStarted    = "plan.started"
	EventPlanCompleted  = "plan.completed"
	EventPlanSuperseded = "plan.superseded"
	EventPlanFailed     = "plan.failed"
)

// OptimizerProfile is the effective default configuration, as served by
// GET /v1/optimizer/config.
type OptimizerProfile struct {
	TimeBudgetSeconds      float64            `json:"timeBudgetSeconds" yaml:"timeBudgetSeconds"`
	UseFallbackOnTimeout   bool               `json:"useFallbackOnTimeout" yaml:"useFallbackOnTimeout"`
	DisableSolver          bool               `json:"disableSolver" yaml:"disableSolver"`
	SoftWindows            bool               `json:"softWindows" yaml:"softWindows"`
	LatenessPenalty        float64            `json:"latenessPenalty" yaml:"latenessPenalty"`
	Seed                   int64              `json:"seed" yaml:"seed"`
	SpeedKph               float64            `json:"speedKph" yaml:"speedKph"`
	TrafficTableVersion    string             `json:"trafficTableVersion" yaml:"trafficTableVersion"`
	TrafficMultiplierTable map[string]float64 `json:"trafficMultiplierTable" yaml:"trafficMultiplierTable"`
	ETABlendWeight         float64            `json:"etaBlendWeight" yaml:"etaBlendWeight"`
	ETAConfidenceThreshold float64            `json:"etaConfidenceThreshold" yaml:"etaConfidenceThreshold"`
}
