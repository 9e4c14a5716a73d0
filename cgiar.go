package elevation

import (
	"fmt"
	"io/fs"
	"math"
	"slices"
)

const cgiarTileSize = 5

// NewCGIAR returns a GeoTIFFTileSet of CGIAR-CSI SRTM v4.1 zipped tiles in
// fsys. Coordinates are longitude and latitude.
func NewCGIAR(fsys fs.FS, options ...GeoTIFFTileSetOption) (*GeoTIFFTileSet, error) {
	return NewGeoTIFFTileSet(slices.Concat(
		[]GeoTIFFTileSetOption{
			WithFS(fsys),
			WithSRID(4326),
			WithZippedTiles(),
			WithTileCoordFunc(cgiarTileCoord),
			WithTileFilenameFunc(cgiarTileFilename),
		},
		options,
	)...)
}

// NewCGIARProvider returns a Provider backed by the CGIAR tiles in fsys.
func NewCGIARProvider(fsys fs.FS, options ...GeoTIFFTileSetOption) (*GeoTIFFProvider, error) {
	tileSet, err := NewCGIAR(fsys, options...)
	if err != nil {
		return nil, err
	}
	return NewGeoTIFFProvider(tileSet, LonLatCoord), nil
}

// CGIARCoverage returns whether lat, lon lies within the CGIAR tiles, which
// extend from 60°S (exclusive) to 60°N (inclusive).
func CGIARCoverage(lat, lon float64) bool {
	return -60 < lat && lat <= 60
}

// cgiarTileCoord returns the one-based tile column, counted eastwards from
// 180°W, and row, counted southwards from 60°N.
func cgiarTileCoord(coord Coord) (TileCoord, bool) {
	if coord.X < -180 || 180 < coord.X || !CGIARCoverage(coord.Y, coord.X) {
		return TileCoord{}, false
	}
	return TileCoord{
		C: min(int(math.Floor((coord.X+180)/cgiarTileSize))+1, 360/cgiarTileSize),
		R: int(math.Floor((60-coord.Y)/cgiarTileSize)) + 1,
	}, true
}

func cgiarTileFilename(tileCoord TileCoord) string {
	return fmt.Sprintf("srtm_%02d_%02d.zip", tileCoord.C, tileCoord.R)
}
