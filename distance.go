package elevation

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/tidwall/geodesic"
)

// EarthRadius is the mean radius of the earth in meters.
const EarthRadius = 6371000

// MetersPerDegree is the length of one degree of a great circle on a
// sphere of radius EarthRadius.
const MetersPerDegree = 2 * math.Pi * EarthRadius / 360

// EarthDistance measures distances on a spherical earth.
type EarthDistance struct{}

// GeodesicDistance measures distances on the WGS84 ellipsoid.
type GeodesicDistance struct{}

// Distance returns the great-circle distance between a and b, ignoring
// elevation.
func (EarthDistance) Distance(a, b Point) float64 {
	return latLng(a).Distance(latLng(b)).Radians() * EarthRadius
}

// Distance3D returns the distance between a and b including their elevation
// difference.
func (d EarthDistance) Distance3D(a, b Point) float64 {
	return math.Hypot(d.Distance(a, b), b.Ele-a.Ele)
}

// Distance returns the geodesic distance between a and b, ignoring
// elevation.
func (GeodesicDistance) Distance(a, b Point) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &s12, nil, nil)
	return s12
}

// Distance3D returns the distance between a and b including their elevation
// difference.
func (d GeodesicDistance) Distance3D(a, b Point) float64 {
	return math.Hypot(d.Distance(a, b), b.Ele-a.Ele)
}

func latLng(p Point) s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}
