package elevation

import (
	"fmt"
	"math"
)

// A TileID identifies a one degree tile. Lat and Lon are magnitudes.
type TileID struct {
	North bool
	Lat   int
	East  bool
	Lon   int
}

// NewTileID returns the TileID of the tile containing lat, lon. Zero
// latitudes and longitudes are south and west.
func NewTileID(lat, lon float64) TileID {
	minLat := int(math.Floor(lat))
	minLon := int(math.Floor(lon))
	return TileID{
		North: lat > 0,
		Lat:   abs(minLat),
		East:  lon > 0,
		Lon:   abs(minLon),
	}
}

// MinLat returns the latitude of id's southern edge.
func (id TileID) MinLat() int {
	if id.North {
		return id.Lat
	}
	return -id.Lat
}

// MinLon returns the longitude of id's western edge.
func (id TileID) MinLon() int {
	if id.East {
		return id.Lon
	}
	return -id.Lon
}

func (id TileID) String() string {
	latSign := 'S'
	if id.North {
		latSign = 'N'
	}
	lonSign := 'W'
	if id.East {
		lonSign = 'E'
	}
	return fmt.Sprintf("%c%02d%c%03d", latSign, id.Lat, lonSign, id.Lon)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
