// Package geofence classifies whether a reported position counts as arrival
// at a job site. It is pure geometry; nothing here touches a job.
package geofence

import (
	"math"

	"github.com/fieldops-dev/fieldops/internal/models"
)

// DefaultArrivalRadiusMeters is used when a job does not override the radius.
const DefaultArrivalRadiusMeters = 30.0

const earthRadiusMeters = 6371000.0

// Evaluation is the result of comparing one sample against a target site.
type Evaluation struct {
	DistanceMeters float64 `json:"distanceMeters"`
	HasArrived     bool    `json:"hasArrived"`
}

// Distance returns the great-circle (haversine) distance in meters between
// two coordinates. Accurate to well under a meter at geofence radii.
func Distance(a, b models.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Evaluate compares current against target. A single sample at or inside the
// radius is sufficient to flag arrival; debouncing is left to the sampling
// interval of the caller.
func Evaluate(current, target models.Coordinate, radiusMeters float64) Evaluation {
	if radiusMeters <= 0 {
		radiusMeters = DefaultArrivalRadiusMeters
	}
	d := Distance(current, target)
	return Evaluation{
		DistanceMeters: d,
		HasArrived:     d <= radiusMeters,
	}
}
