package elevation

import (
	"fmt"
	"io/fs"
	"math"
	"slices"
)

const (
	gmtedTileWidth  = 30
	gmtedTileHeight = 20
)

// NewGMTED returns a GeoTIFFTileSet of GMTED2010 7.5 arc-second mean
// elevation tiles in fsys. Coordinates are longitude and latitude.
func NewGMTED(fsys fs.FS, options ...GeoTIFFTileSetOption) (*GeoTIFFTileSet, error) {
	return NewGeoTIFFTileSet(slices.Concat(
		[]GeoTIFFTileSetOption{
			WithFS(fsys),
			WithSRID(4326),
			WithTileCoordFunc(gmtedTileCoord),
			WithTileFilenameFunc(gmtedTileFilename),
		},
		options,
	)...)
}

// NewGMTEDProvider returns a Provider backed by the GMTED2010 tiles in fsys.
// GMTED2010 covers the whole globe, which makes it a suitable fallback.
func NewGMTEDProvider(fsys fs.FS, options ...GeoTIFFTileSetOption) (*GeoTIFFProvider, error) {
	tileSet, err := NewGMTED(fsys, options...)
	if err != nil {
		return nil, err
	}
	return NewGeoTIFFProvider(tileSet, LonLatCoord), nil
}

func gmtedTileCoord(coord Coord) (TileCoord, bool) {
	if coord.X < -180 || 180 < coord.X || coord.Y < -90 || 90 < coord.Y {
		return TileCoord{}, false
	}
	return TileCoord{
		C: min(int(math.Floor((coord.X+180)/gmtedTileWidth)), 360/gmtedTileWidth-1),
		R: min(int(math.Floor((coord.Y+90)/gmtedTileHeight)), 180/gmtedTileHeight-1),
	}, true
}

// gmtedTileFilename returns the filename of the tile at tileCoord, named
// after its southwest corner.
func gmtedTileFilename(tileCoord TileCoord) string {
	minLat := -90 + gmtedTileHeight*tileCoord.R
	minLon := -180 + gmtedTileWidth*tileCoord.C
	latSign := 'N'
	if minLat < 0 {
		latSign = 'S'
	}
	lonSign := 'E'
	if minLon < 0 {
		lonSign = 'W'
	}
	return fmt.Sprintf("%02d%c%03d%c_20101117_gmted_mea075.tif", abs(minLat), latSign, abs(minLon), lonSign)
}
