package opt

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	DefaultSpeedKph               = 30.0
	DefaultETABlendWeight         = 0.7
	DefaultETAConfidenceThreshold = 0.6
)

// TimeBucket names a time-of-day traffic regime.
type TimeBucket string

const (
	BucketNight       TimeBucket = "night"
	BucketMorningPeak TimeBucket = "morning_peak"
	BucketMidday      TimeBucket = "midday"
	BucketEveningPeak TimeBucket = "evening_peak"
	BucketEvening     TimeBucket = "evening"
)

// Buckets lists every bucket in day order.
var Buckets = []TimeBucket{BucketNight, BucketMorningPeak, BucketMidday, BucketEveningPeak, BucketEvening}

// BucketAt maps a wall-clock time onto its traffic bucket.
func BucketAt(t time.Time) TimeBucket {
	switch h := t.Hour(); {
	case h < 7:
		return BucketNight
	case h <= 9:
		return BucketMorningPeak
	case h <= 15:
		return BucketMidday
	case h <= 19:
		return BucketEveningPeak
	default:
		return BucketEvening
	}
}

// TrafficTable holds one multiplier per bucket. Missing buckets count as 1.
type TrafficTable struct {
	Version     string
	Multipliers map[TimeBucket]float64
}

func DefaultTrafficTable() TrafficTable {
	return TrafficTable{
		Version: "builtin-1",
		Multipliers: map[TimeBucket]float64{
			BucketNight:       0.8,
			BucketMorningPeak: 1.3,
			BucketMidday:      1.0,
			BucketEveningPeak: 1.3,
			BucketEvening:     0.9,
		},
	}
}

func (t TrafficTable) Multiplier(b TimeBucket) float64 {
	if m, ok := t.Multipliers[b]; ok {
		return m
	}
	return 1
}

func (t TrafficTable) Validate() error {
	for b, m := range t.Multipliers {
		if !knownBucket(b) {
			return fmt.Errorf("%w: unknown time bucket %q", ErrMalformedInput, b)
		}
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			return fmt.Errorf("%w: traffic multiplier for %s must be a non-negative number", ErrMalformedInput, b)
		}
	}
	return nil
}

func knownBucket(b TimeBucket) bool {
	for _, k := range Buckets {
		if k == b {
			return true
		}
	}
	return false
}

// Prediction is an external travel-time estimate for one leg.
type Prediction struct {
	Minutes    float64
	Confidence float64
}

// ETAPredictor is the delivery-time prediction collaborator. Implementations
// return ErrNoPrediction (or any error) when they have nothing useful.
type ETAPredictor interface {
	PredictETA(ctx context.Context, from, to Point, departure time.Time) (Prediction, error)
}

// CostModel turns raw estimates into the travel minutes the solver optimizes.
type CostModel struct {
	SpeedKph               float64
	Traffic                TrafficTable
	ETABlendWeight         float64
	ETAConfidenceThreshold float64
}

func DefaultCostModel() CostModel {
	return CostModel{
		SpeedKph:               DefaultSpeedKph,
		Traffic:                DefaultTrafficTable(),
		ETABlendWeight:         DefaultETABlendWeight,
		ETAConfidenceThreshold: DefaultETAConfidenceThreshold,
	}
}

func (m CostModel) Validate() error {
	if math.IsNaN(m.SpeedKph) || m.SpeedKph <= 0 {
		return fmt.Errorf("%w: speed must be positive", ErrMalformedInput)
	}
	if math.IsNaN(m.ETABlendWeight) || m.ETABlendWeight < 0 || m.ETABlendWeight > 1 {
		return fmt.Errorf("%w: eta blend weight must be within [0,1]", ErrMalformedInput)
	}
	if math.IsNaN(m.ETAConfidenceThreshold) || m.ETAConfidenceThreshold < 0 || m.ETAConfidenceThreshold > 1 {
		return fmt.Errorf("%w: eta confidence threshold must be within [0,1]", ErrMalformedInput)
	}
	return m.Traffic.Validate()
}

// BaseMinutes is the unadjusted travel time of an estimate.
func (m CostModel) BaseMinutes(e Estimate) float64 {
	if e.Minutes > 0 {
		return e.Minutes
	}
	speed := m.SpeedKph
	if speed <= 0 {
		speed = DefaultSpeedKph
	}
	return e.Km / speed * 60
}

// Adjust returns the edge cost in minutes. A confident prediction is blended
// with the base estimate; otherwise the bucket multiplier applies. The result
// is never negative and never decreases when the base estimate grows.
func (m CostModel) Adjust(e Estimate, bucket TimeBucket, pred *Prediction) float64 {
	base := math.Max(0, m.BaseMinutes(e))
	var out float64
	if pred != nil && pred.Minutes >= 0 && !math.IsNaN(pred.Minutes) && pred.Confidence >= m.ETAConfidenceThreshold {
		w := math.Min(1, math.Max(0, m.ETABlendWeight))
		out = w*pred.Minutes + (1-w)*base
	} else {
		out = base * math.Max(0, m.Traffic.Multiplier(bucket))
	}
	if math.IsNaN(out) || out < 0 {
		return 0
	}
	return out
}

// PrecomputedETA serves predictions supplied up front, keyed by leg.
type PrecomputedETA map[[2]Point]Prediction

func (p PrecomputedETA) PredictETA(_ context.Context, from, to Point, _ time.Time) (Prediction, error) {
	if pr, ok := p[[2]Point{from, to}]; ok {
		return pr, nil
	}
	return Prediction{}, ErrNoPrediction
}
