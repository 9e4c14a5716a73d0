package elevation

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	missingTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevation_missing_tile_cache_hits_total",
		Help: "The total number of hits on the missing tile cache",
	})
	missingTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevation_missing_tile_cache_misses_total",
		Help: "The total number of misses on the missing tile cache",
	})
	geoTIFFTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevation_geotiff_tile_cache_hits_total",
		Help: "The total number of hits on the GeoTIFF tile cache",
	})
	geoTIFFTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevation_geotiff_tile_cache_misses_total",
		Help: "The total number of misses on the GeoTIFF tile cache",
	})
	geoTIFFTileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevation_geotiff_tile_cache_evictions_total",
		Help: "The total number of evictions from the GeoTIFF tile cache",
	})
)

// A TileCoordFunc returns the tile coordinate for a coordinate.
type TileCoordFunc func(Coord) (TileCoord, bool)

// A TileFilenameFunc returns the tile filename for a tile coordinate.
type TileFilenameFunc func(TileCoord) string

// A GeoTIFFTileSet is a set of GeoTIFF tiles.
//
// Open tiles are kept in an LRU cache and closed on eviction. Readers hold
// mutex for reading while they use a tile so that a tile is never closed
// under them.
type GeoTIFFTileSet struct {
	mutex              sync.RWMutex
	fsys               fs.FS
	srid               int
	tileCoordFunc      TileCoordFunc
	tileFilenameFunc   TileFilenameFunc
	zipped             bool
	interpolate        bool
	logger             *zap.Logger
	missingTiles       sync.Map
	geoTIFFTileOptions []GeoTIFFTileOption
	cacheSize          int
	geoTIFFTileCache   *lru.Cache[TileCoord, *GeoTIFFTile]
}

// A GeoTIFFTileSetOption sets an option on a GeoTIFFTileSet.
type GeoTIFFTileSetOption func(*GeoTIFFTileSet)

// NewGeoTIFFTileSet returns a new GeoTIFFTileSet with the given options.
func NewGeoTIFFTileSet(options ...GeoTIFFTileSetOption) (*GeoTIFFTileSet, error) {
	s := &GeoTIFFTileSet{
		cacheSize: 32,
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}

	switch {
	case s.fsys == nil:
		return nil, errors.New("no filesystem")
	case s.tileCoordFunc == nil:
		return nil, errors.New("no tile coordinate function")
	case s.tileFilenameFunc == nil:
		return nil, errors.New("no tile filename function")
	}

	var err error
	s.geoTIFFTileCache, err = lru.NewWithEvict(s.cacheSize, func(tileCoord TileCoord, tile *GeoTIFFTile) {
		if err := tile.Close(); err != nil {
			s.logger.Warn("close tile", zap.Int("c", tileCoord.C), zap.Int("r", tileCoord.R), zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithCacheSize sets the maximum number of open tiles.
func WithCacheSize(cacheSize int) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.cacheSize = cacheSize
	}
}

func WithFS(fsys fs.FS) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.fsys = fsys
	}
}

func WithGeoTIFFTileOptions(geoTIFFTileOptions ...GeoTIFFTileOption) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.geoTIFFTileOptions = geoTIFFTileOptions
	}
}

// WithInterpolation enables bilinear interpolation within each tile.
func WithInterpolation(interpolate bool) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.interpolate = interpolate
	}
}

func WithLogger(logger *zap.Logger) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.logger = logger
	}
}

func WithTileCoordFunc(tileCoordFunc TileCoordFunc) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.tileCoordFunc = tileCoordFunc
	}
}

func WithTileFilenameFunc(tileFilenameFunc TileFilenameFunc) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.tileFilenameFunc = tileFilenameFunc
	}
}

// WithSRID sets the expected SRID of every tile. Tiles that declare a
// different SRID are rejected.
func WithSRID(srid int) GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.srid = srid
	}
}

// WithZippedTiles sets s to read each tile from the first .tif entry of a
// zip file.
func WithZippedTiles() GeoTIFFTileSetOption {
	return func(s *GeoTIFFTileSet) {
		s.zipped = true
	}
}

// CanInterpolate returns whether s interpolates between samples.
func (s *GeoTIFFTileSet) CanInterpolate() bool {
	return s.interpolate
}

// Purge closes all open tiles and forgets all missing tiles.
func (s *GeoTIFFTileSet) Purge() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.geoTIFFTileCache.Purge()
	s.missingTiles.Clear()
}

// Sample returns the sample at coord. Missing samples are NaN.
func (s *GeoTIFFTileSet) Sample(coord Coord) (float64, error) {
	tileCoord, ok := s.tileCoordFunc(coord)
	if !ok {
		return math.NaN(), nil
	}
	sample := math.NaN()
	err := s.withTile(tileCoord, func(tile *GeoTIFFTile) error {
		var err error
		sample, err = s.tileSample(tile, coord)
		return err
	})
	return sample, err
}

// Samples returns the samples at coords. Missing samples are represented by
// NaNs.
func (s *GeoTIFFTileSet) Samples(coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))

	// Group indexes by tile coord.
	indexesByTileCoord := make(map[TileCoord][]int)
	for index, coord := range coords {
		tileCoord, ok := s.tileCoordFunc(coord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByTileCoord[tileCoord] = append(indexesByTileCoord[tileCoord], index)
	}

	// Populate samples one tile at a time.
	for tileCoord, indexes := range indexesByTileCoord {
		if err := s.withTile(tileCoord, func(tile *GeoTIFFTile) error {
			if tile == nil {
				for _, index := range indexes {
					samples[index] = math.NaN()
				}
				return nil
			}
			if s.interpolate {
				for _, index := range indexes {
					var err error
					samples[index], err = tile.Interpolate(coords[index])
					if err != nil {
						return err
					}
				}
				return nil
			}
			tileCoords := make([]Coord, len(indexes))
			for i, index := range indexes {
				tileCoords[i] = coords[index]
			}
			tileSamples, err := tile.Samples(tileCoords)
			if err != nil {
				return err
			}
			for i, index := range indexes {
				samples[index] = tileSamples[i]
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return samples, nil
}

// SRID returns s's SRID.
func (s *GeoTIFFTileSet) SRID() int {
	return s.srid
}

func (s *GeoTIFFTileSet) tileSample(tile *GeoTIFFTile, coord Coord) (float64, error) {
	switch {
	case tile == nil:
		return math.NaN(), nil
	case s.interpolate:
		return tile.Interpolate(coord)
	default:
		return tile.Sample(coord)
	}
}

// withTile calls f with the tile at tileCoord, or nil if the tile is missing.
// The tile is only valid for the duration of f.
func (s *GeoTIFFTileSet) withTile(tileCoord TileCoord, f func(*GeoTIFFTile) error) error {
	s.mutex.RLock()
	if tile, ok := s.cachedTile(tileCoord); ok {
		defer s.mutex.RUnlock()
		return f(tile)
	}
	s.mutex.RUnlock()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tile, ok := s.cachedTile(tileCoord)
	if !ok {
		geoTIFFTileCacheMisses.Inc()
		var err error
		tile, err = s.getTile(tileCoord)
		if err != nil {
			return err
		}
		if tile != nil {
			if eviction := s.geoTIFFTileCache.Add(tileCoord, tile); eviction {
				geoTIFFTileCacheEvictions.Inc()
			}
		}
	}
	return f(tile)
}

// cachedTile returns the tile at tileCoord if it is open or known to be
// missing.
func (s *GeoTIFFTileSet) cachedTile(tileCoord TileCoord) (*GeoTIFFTile, bool) {
	if _, ok := s.missingTiles.Load(tileCoord); ok {
		missingTileCacheHits.Inc()
		return nil, true
	}
	if tile, ok := s.geoTIFFTileCache.Get(tileCoord); ok {
		geoTIFFTileCacheHits.Inc()
		return tile, true
	}
	return nil, false
}

// getTile opens the tile at tileCoord. It returns nil if the tile is missing.
func (s *GeoTIFFTileSet) getTile(tileCoord TileCoord) (*GeoTIFFTile, error) {
	filename := s.tileFilenameFunc(tileCoord)
	var tile *GeoTIFFTile
	var err error
	if s.zipped {
		tile, err = s.openZippedTile(filename)
	} else {
		tile, err = NewGeoTIFFTile(s.fsys, filename, s.geoTIFFTileOptions...)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.missingTiles.Store(tileCoord, struct{}{})
		missingTileCacheMisses.Inc()
		s.logger.Debug("missing tile", zap.String("filename", filename))
		return nil, nil
	case err != nil:
		s.logger.Warn("open tile", zap.String("filename", filename), zap.Error(err))
		return nil, err
	}

	if s.srid != 0 && tile.SRID() != 0 && tile.SRID() != s.srid {
		_ = tile.Close()
		return nil, fmt.Errorf("%s: SRID %d, expected %d", filename, tile.SRID(), s.srid)
	}
	s.logger.Debug("opened tile", zap.String("filename", filename))
	return tile, nil
}

// openZippedTile opens the GeoTIFF inside the zip file filename.
func (s *GeoTIFFTileSet) openZippedTile(filename string) (*GeoTIFFTile, error) {
	data, err := fs.ReadFile(s.fsys, filename)
	if err != nil {
		return nil, err
	}
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	tiffData, err := readZipEntry(zipReader, ".tif")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	tile, err := NewGeoTIFFTileFromReader(bytes.NewReader(tiffData), nil, s.geoTIFFTileOptions...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return tile, nil
}
