// Package geo provides the pure geographic helpers used by the Atlas map:
// great-circle distance and the cosmetic arc drawn between two pins.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for distance filters.
	EarthRadiusMeters = 6371000.0
	// DefaultArcPoints is the number of samples in an arc route.
	DefaultArcPoints = 40
	// arcBend is the control point offset as a fraction of the chord length.
	arcBend = 0.2
)

// Haversine returns the great-circle distance in meters between a and b.
// Points are orb order: [lng, lat].
func Haversine(a, b orb.Point) float64 {
	lat1 := radians(a.Lat())
	lat2 := radians(b.Lat())
	dLat := radians(b.Lat() - a.Lat())
	dLng := radians(b.Lon() - a.Lon())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// ArcRoute returns a quadratic Bezier curve from one point to another with
// pointCount samples, both endpoints included. The curve bends to the left
// of the direction of travel. It is a visual flourish, not a road path.
func ArcRoute(from, to orb.Point, pointCount int) orb.LineString {
	if pointCount < 2 {
		pointCount = DefaultArcPoints
	}

	dx := to.Lon() - from.Lon()
	dy := to.Lat() - from.Lat()
	ctrl := orb.Point{
		(from.Lon()+to.Lon())/2 - dy*arcBend,
		(from.Lat()+to.Lat())/2 + dx*arcBend,
	}

	line := make(orb.LineString, pointCount)
	for i := 0; i < pointCount; i++ {
		t := float64(i) / float64(pointCount-1)
		u := 1 - t
		line[i] = orb.Point{
			u*u*from.Lon() + 2*u*t*ctrl.Lon() + t*t*to.Lon(),
			u*u*from.Lat() + 2*u*t*ctrl.Lat() + t*t*to.Lat(),
		}
	}
	line[0] = from
	line[pointCount-1] = to
	return line
}

// ArcRouteCoords is ArcRoute for callers holding raw coordinates.
func ArcRouteCoords(fromLng, fromLat, toLng, toLat float64, pointCount int) orb.LineString {
	return ArcRoute(orb.Point{fromLng, fromLat}, orb.Point{toLng, toLat}, pointCount)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
