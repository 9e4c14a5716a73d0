package elevation

import "math"

// A CoordTransformFunc transforms a latitude and longitude into a model
// coordinate.
type CoordTransformFunc func(lat, lon float64) (Coord, error)

// A GeoTIFFProvider is a Provider backed by a GeoTIFFTileSet.
type GeoTIFFProvider struct {
	tileSet   *GeoTIFFTileSet
	transform CoordTransformFunc
}

// NewGeoTIFFProvider returns a new GeoTIFFProvider that samples tileSet at
// the coordinates returned by transform.
func NewGeoTIFFProvider(tileSet *GeoTIFFTileSet, transform CoordTransformFunc) *GeoTIFFProvider {
	return &GeoTIFFProvider{
		tileSet:   tileSet,
		transform: transform,
	}
}

// LonLatCoord returns a Coord with X set to lon and Y set to lat.
func LonLatCoord(lat, lon float64) (Coord, error) {
	return Coord{X: lon, Y: lat}, nil
}

// Elevation returns the elevation at lat, lon, or 0 if there is no data.
func (p *GeoTIFFProvider) Elevation(lat, lon float64) (float64, error) {
	coord, err := p.transform(lat, lon)
	if err != nil {
		return 0, err
	}
	sample, err := p.tileSet.Sample(coord)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(sample) {
		return 0, nil
	}
	return sample, nil
}

// Elevations returns the elevations at points, ignoring their current
// elevations. It reads each tile once.
func (p *GeoTIFFProvider) Elevations(points []Point) ([]float64, error) {
	coords := make([]Coord, len(points))
	for i, point := range points {
		var err error
		coords[i], err = p.transform(point.Lat, point.Lon)
		if err != nil {
			return nil, err
		}
	}
	samples, err := p.tileSet.Samples(coords)
	if err != nil {
		return nil, err
	}
	for i, sample := range samples {
		if math.IsNaN(sample) {
			samples[i] = 0
		}
	}
	return samples, nil
}

func (p *GeoTIFFProvider) CanInterpolate() bool {
	return p.tileSet.CanInterpolate()
}

// Release closes all open tiles.
func (p *GeoTIFFProvider) Release() {
	p.tileSet.Purge()
}

// TileSet returns p's tile set.
func (p *GeoTIFFProvider) TileSet() *GeoTIFFTileSet {
	return p.tileSet
}
