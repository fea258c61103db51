package opt

import (
	"context"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0088

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Estimate is a single origin/destination measurement. Minutes is zero when
// the provider only knows distances.
type Estimate struct {
	Km          float64
	Minutes     float64
	Approximate bool
}

// DistanceProvider returns the travel estimate between two points.
type DistanceProvider interface {
	Estimate(ctx context.Context, from, to Point) (Estimate, error)
}

// MatrixProvider is implemented by providers that can answer a whole
// origin/destination table in one call.
type MatrixProvider interface {
	EstimateMatrix(ctx context.Context, points []Point) ([][]Estimate, error)
}

// Symmetric marks providers whose estimates do not depend on direction.
type Symmetric interface {
	Symmetric() bool
}

// Snapshotter returns an immutable view that stays consistent for one build.
type Snapshotter interface {
	Snapshot() DistanceProvider
}

// Haversine returns the great-circle distance in kilometers.
func Haversine(a, b Point) float64 {
	toRad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * toRad
	dLon := (b.Lon - a.Lon) * toRad
	s1 := math.Sin(dLat / 2)
	s2 := math.Sin(dLon / 2)
	h := s1*s1 + math.Cos(a.Lat*toRad)*math.Cos(b.Lat*toRad)*s2*s2
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineProvider is the default provider. It never fails.
type HaversineProvider struct{}

func (HaversineProvider) Estimate(_ context.Context, from, to Point) (Estimate, error) {
	return Estimate{Km: Haversine(from, to)}, nil
}

func (HaversineProvider) Symmetric() bool { return true }
