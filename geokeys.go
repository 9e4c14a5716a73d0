package elevation

import (
	"errors"
	"fmt"
)

var errParse = errors.New("parse error")

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyPrimeMeridian          GeoKey = 2051
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyGeogAngularUnitSize    GeoKey = 2055
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidInvFlattening GeoKey = 2059
	GeoKeyPrimeMeridianLongitude GeoKey = 2061

	GeoKeyProjectedCRS GeoKey = 3072
	GeoKeyPCSCitation  GeoKey = 3073
	GeoKeyProjection   GeoKey = 3074
	GeoKeyProjMethod   GeoKey = 3075
	GeoKeyLinearUnits  GeoKey = 3076

	GeoKeyVertical GeoKey = 4096
)

// Model types.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
)

// Raster types.
const (
	RasterPixelIsArea  = 1
	RasterPixelIsPoint = 2
)

// userDefined is the GeoKey value for a user-defined CRS.
const userDefined = 32767

type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey][]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and its associated double and
// ASCII parameters.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, fmt.Errorf("%w: short directory", errParse)
	}

	if keyDirectoryVersion := directory[0]; keyDirectoryVersion != 1 {
		return nil, fmt.Errorf("%w: key directory version %d", errParse, keyDirectoryVersion)
	}
	if keyRevision := directory[1]; keyRevision != 1 {
		return nil, fmt.Errorf("%w: key revision %d", errParse, keyRevision)
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("%w: expected %d keys", errParse, numberOfKeys)
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey][]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		entry := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(entry[0])
		location, count, valueOffset := int(entry[1]), int(entry[2]), int(entry[3])
		switch location {
		case 0:
			if count != 1 {
				return nil, fmt.Errorf("%w: key %d: count %d", errParse, key, count)
			}
			parsedGeoKeys.Params[key] = valueOffset
		case 34736: // GeoDoubleParamsTag
			if valueOffset+count > len(doubleParams) {
				return nil, fmt.Errorf("%w: key %d: double params out of range", errParse, key)
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[valueOffset : valueOffset+count]
		case 34737: // GeoASCIIParamsTag
			if valueOffset+count > len(asciiParams) {
				return nil, fmt.Errorf("%w: key %d: ASCII params out of range", errParse, key)
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[valueOffset : valueOffset+count])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// SRID returns the EPSG code of the CRS, or 0 if it is user-defined or
// absent.
func (k *ParsedGeoKeys) SRID() int {
	var key GeoKey
	switch k.Params[GeoKeyGTModelType] {
	case ModelTypeProjected:
		key = GeoKeyProjectedCRS
	case ModelTypeGeographic:
		key = GeoKeyGeodeticCRS
	default:
		return 0
	}
	if srid := k.Params[key]; srid != userDefined {
		return srid
	}
	return 0
}

// RasterType returns the raster type, defaulting to RasterPixelIsArea.
func (k *ParsedGeoKeys) RasterType() int {
	if rasterType, ok := k.Params[GeoKeyGTRasterType]; ok {
		return rasterType
	}
	return RasterPixelIsArea
}
