package elevation

import (
	"fmt"
	"io/fs"
	"math"
	"slices"
	"sync"

	"github.com/twpayne/go-proj/v10"
)

const eudemTileSize = 1000000

// NewEUDEM returns a GeoTIFFTileSet of EU-DEM v1.1 tiles in fsys.
// Coordinates are EPSG:3035 eastings and northings.
func NewEUDEM(fsys fs.FS, options ...GeoTIFFTileSetOption) (*GeoTIFFTileSet, error) {
	return NewGeoTIFFTileSet(slices.Concat(
		[]GeoTIFFTileSetOption{
			WithFS(fsys),
			WithSRID(3035),
			WithTileCoordFunc(eudemTileCoord),
			WithTileFilenameFunc(eudemTileFilename),
		},
		options,
	)...)
}

// NewEUDEMProvider returns a Provider backed by the EU-DEM tiles in fsys.
func NewEUDEMProvider(fsys fs.FS, options ...GeoTIFFTileSetOption) (*GeoTIFFProvider, error) {
	tileSet, err := NewEUDEM(fsys, options...)
	if err != nil {
		return nil, err
	}
	transformer, err := newEPSG3035Transformer()
	if err != nil {
		return nil, err
	}
	return NewGeoTIFFProvider(tileSet, transformer.transform), nil
}

func eudemTileCoord(coord Coord) (TileCoord, bool) {
	if coord.X < 0 || coord.Y < 0 {
		return TileCoord{}, false
	}
	return TileCoord{
		C: 10 * int(math.Floor(coord.X/eudemTileSize)),
		R: 10 * int(math.Floor(coord.Y/eudemTileSize)),
	}, true
}

func eudemTileFilename(tileCoord TileCoord) string {
	return fmt.Sprintf("eu_dem_v11_E%02dN%02d.TIF", tileCoord.C, tileCoord.R)
}

// An epsg3035Transformer transforms EPSG:4326 coordinates to EPSG:3035.
// PROJ objects are not safe for concurrent use.
type epsg3035Transformer struct {
	mutex sync.Mutex
	pj    *proj.PJ
}

func newEPSG3035Transformer() (*epsg3035Transformer, error) {
	pj, err := proj.NewCRSToCRS("epsg:4326", "epsg:3035", nil)
	if err != nil {
		return nil, err
	}
	return &epsg3035Transformer{
		pj: pj,
	}, nil
}

// transform returns the easting and northing of lat, lon. EPSG:4326 and
// EPSG:3035 both use northing-first axis order.
func (t *epsg3035Transformer) transform(lat, lon float64) (Coord, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	coord, err := t.pj.Forward(proj.NewCoord(lat, lon, 0, 0))
	if err != nil {
		return Coord{}, err
	}
	return Coord{X: coord.Y(), Y: coord.X()}, nil
}
