// Package geo computes great-circle distances between geographic points.
package geo

import (
	"fmt"
	"math"

	"github.com/rewired-gh/quakewatch/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// Distance returns the haversine distance between a and b in kilometres.
// It is symmetric and zero for identical points.
func Distance(a, b models.Location) float64 {
	toRad := func(d float64) float64 { return d * (math.Pi / 180) }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// DistancePtr returns the distance from ref to p, or nil when either is unknown.
func DistancePtr(ref, p *models.Location) *float64 {
	if ref == nil || p == nil {
		return nil
	}
	d := Distance(*ref, *p)
	return &d
}

// FormatDistance renders km for humans: metres below 1 km, one decimal below
// 10 km, whole kilometres otherwise.
func FormatDistance(km float64) string {
	switch {
	case km < 1:
		return fmt.Sprintf("%d m", int(math.Round(km*1000)))
	case km < 10:
		return fmt.Sprintf("%.1f km", km)
	default:
		return fmt.Sprintf("%d km", int(math.Round(km)))
	}
}
