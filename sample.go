package elevation

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/twpayne/go-geom"
)

// ErrInvalidDistance is returned when the distance between two points is not
// finite.
var ErrInvalidDistance = errors.New("invalid distance")

// Sample returns points with extra points inserted so that no segment is
// much longer than maxSegmentDistance meters. A segment a-b is split into
// round(d/maxSegmentDistance) equal parts along the great circle, where d is
// distanceCalc.Distance3D(a, b), and each inserted point takes its elevation
// from provider. Original points are never modified. Sequences of fewer than
// two points are returned as is.
func Sample(points []Point, maxSegmentDistance float64, distanceCalc DistanceCalculator, provider Provider) ([]Point, error) {
	if len(points) <= 1 {
		return points, nil
	}
	if !(maxSegmentDistance > 0) {
		return nil, fmt.Errorf("%v: invalid maximum segment distance", maxSegmentDistance)
	}

	result := make([]Point, 0, len(points))
	result = append(result, points[0])
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		distance := distanceCalc.Distance3D(a, b)
		if math.IsNaN(distance) || math.IsInf(distance, 0) {
			return nil, fmt.Errorf("%v: %w", distance, ErrInvalidDistance)
		}
		n := segmentCount(distance, maxSegmentDistance)
		if n > 1 {
			pa := s2.PointFromLatLng(latLng(a))
			pb := s2.PointFromLatLng(latLng(b))
			for k := 1; k < n; k++ {
				ll := s2.LatLngFromPoint(s2.Interpolate(float64(k)/float64(n), pa, pb))
				lat, lon := ll.Lat.Degrees(), ll.Lng.Degrees()
				ele, err := provider.Elevation(lat, lon)
				if err != nil {
					return nil, err
				}
				result = append(result, Point{Lat: lat, Lon: lon, Ele: ele})
			}
		}
		result = append(result, b)
	}
	return result, nil
}

// SampleLineString is like Sample for a line string with an XYZ layout,
// where X is longitude, Y is latitude, and Z is elevation.
func SampleLineString(lineString *geom.LineString, maxSegmentDistance float64, distanceCalc DistanceCalculator, provider Provider) (*geom.LineString, error) {
	if layout := lineString.Layout(); layout != geom.XYZ {
		return nil, fmt.Errorf("%v: unsupported layout", layout)
	}
	coords := lineString.Coords()
	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{Lat: coord.Y(), Lon: coord.X(), Ele: coord[2]}
	}
	sampledPoints, err := Sample(points, maxSegmentDistance, distanceCalc, provider)
	if err != nil {
		return nil, err
	}
	flatCoords := make([]float64, 0, 3*len(sampledPoints))
	for _, point := range sampledPoints {
		flatCoords = append(flatCoords, point.Lon, point.Lat, point.Ele)
	}
	return geom.NewLineStringFlat(geom.XYZ, flatCoords).SetSRID(lineString.SRID()), nil
}

// segmentCount returns the number of parts a segment of length distance is
// split into, rounding half up and never less than one.
func segmentCount(distance, maxSegmentDistance float64) int {
	return max(int(math.Floor(distance/maxSegmentDistance+0.5)), 1)
}
