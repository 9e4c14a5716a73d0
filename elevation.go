// Package elevation adds terrain elevation to routing polylines.
package elevation

// A Point is a geographic point with an elevation in meters.
type Point struct {
	Lat float64
	Lon float64
	Ele float64
}

// A Coord is a coordinate in a raster's model space.
type Coord struct {
	X float64
	Y float64
}

// A TileCoord is a tile coordinate.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// A Provider returns the ground elevation at a coordinate.
//
// Elevation returns 0 and no error when the provider has no data at lat,
// lon. Errors are reserved for storage failures.
type Provider interface {
	Elevation(lat, lon float64) (float64, error)
	CanInterpolate() bool
	Release()
}

// A DistanceCalculator returns the distance in meters between two points,
// including their elevation difference.
type DistanceCalculator interface {
	Distance3D(a, b Point) float64
}

// A Raster is a grid of samples addressed by column and row.
type Raster interface {
	Sample(c, r int) (float64, bool)
	Size() (int, int)
}
