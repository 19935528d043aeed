package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Distance returns the great-circle distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	return orbgeo.DistanceHaversine(p1.orb(), p2.orb())
}

// Bearing returns the initial bearing from p1 to p2 in degrees, normalized to [0, 360).
func Bearing(p1, p2 Point) float64 {
	return NormalizeHeading(orbgeo.Bearing(p1.orb(), p2.orb()))
}

// NormalizeAngle normalizes an angle difference to the range (-180, 180].
func NormalizeAngle(angleDeg float64) float64 {
	for angleDeg > 180 {
		angleDeg -= 360
	}
	for angleDeg <= -180 {
		angleDeg += 360
	}
	return angleDeg
}

// NormalizeHeading maps any angle into [0, 360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// Lerp linearly interpolates between a and b at fraction k.
func Lerp(a, b, k float64) float64 {
	return a + (b-a)*k
}

// LerpHeading interpolates between two headings along the shortest arc.
// NaN in either input yields NaN.
func LerpHeading(h0, h1, k float64) float64 {
	if math.IsNaN(h0) || math.IsNaN(h1) {
		return math.NaN()
	}
	dh := NormalizeAngle(h1 - h0)
	return NormalizeHeading(h0 + dh*k)
}
