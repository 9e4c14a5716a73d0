package elevation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultHGTResolution = 1201
	hgtVoid              = -32768
)

var (
	// ErrIsDirectory is returned when a tile container is a directory.
	ErrIsDirectory = errors.New("is a directory")
	// ErrTileSize is returned when a tile payload has the wrong length.
	ErrTileSize = errors.New("invalid tile size")

	errNoZipEntry = errors.New("no matching zip entry")
)

var (
	hgtTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevation_hgt_tile_cache_hits_total",
		Help: "The total number of hits on the decoded HGT tile cache",
	})
	hgtTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevation_hgt_tile_cache_misses_total",
		Help: "The total number of misses on the decoded HGT tile cache",
	})
	hgtTileReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elevation_hgt_tile_read_errors_total",
		Help: "The total number of HGT tiles that could not be read or decoded",
	})
)

// An hgtTile is a decoded HGT tile. Row 0 is the northern edge.
type hgtTile struct {
	resolution int
	samples    []int16
}

// An HGTProvider reads one degree SRTM HGT tiles from zip containers in a
// directory.
type HGTProvider struct {
	dir         string
	extension   string
	resolution  int
	interpolate bool
	logger      *zap.Logger
	tiles       sync.Map // TileID to *hgtTile.
	loadGroup   singleflight.Group
}

// An HGTProviderOption sets an option on an HGTProvider.
type HGTProviderOption func(*HGTProvider)

// NewHGTProvider returns a new HGTProvider reading tiles from dir.
func NewHGTProvider(dir string, options ...HGTProviderOption) (*HGTProvider, error) {
	fileInfo, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !fileInfo.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", dir)
	}

	p := &HGTProvider{
		dir:        dir,
		extension:  "hgt",
		resolution: defaultHGTResolution,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(p)
	}
	if p.resolution < 2 {
		return nil, fmt.Errorf("%d: invalid resolution", p.resolution)
	}
	return p, nil
}

// WithHGTResolution sets the number of samples per tile side.
func WithHGTResolution(resolution int) HGTProviderOption {
	return func(p *HGTProvider) {
		p.resolution = resolution
	}
}

// WithHGTInterpolation enables bilinear interpolation.
func WithHGTInterpolation(interpolate bool) HGTProviderOption {
	return func(p *HGTProvider) {
		p.interpolate = interpolate
	}
}

// WithHGTExtension sets the tile extension, without the trailing .zip.
func WithHGTExtension(extension string) HGTProviderOption {
	return func(p *HGTProvider) {
		p.extension = extension
	}
}

// WithHGTLogger sets the logger.
func WithHGTLogger(logger *zap.Logger) HGTProviderOption {
	return func(p *HGTProvider) {
		p.logger = logger
	}
}

// FileName returns the name of the container holding the tile at lat, lon.
func (p *HGTProvider) FileName(lat, lon float64) string {
	return p.fileName(NewTileID(lat, lon))
}

// Elevation returns the elevation at lat, lon. Voids have elevation 0. A
// tile container that cannot be read, including one that does not exist, is
// an error.
func (p *HGTProvider) Elevation(lat, lon float64) (float64, error) {
	tileID := NewTileID(lat, lon)
	tile, err := p.getTileCached(tileID)
	if err != nil {
		return 0, err
	}

	scale := float64(p.resolution - 1)
	x := (lon - float64(tileID.MinLon())) * scale
	y := (float64(tileID.MinLat()+1) - lat) * scale
	var sample float64
	var ok bool
	if p.interpolate {
		sample, ok = InterpolateBilinear(tile, x, y)
	} else {
		sample, ok = NearestSample(tile, x, y)
	}
	if !ok {
		return 0, nil
	}
	return sample, nil
}

// CanInterpolate returns whether p interpolates between samples.
func (p *HGTProvider) CanInterpolate() bool {
	return p.interpolate
}

// Release drops all decoded tiles.
func (p *HGTProvider) Release() {
	p.tiles.Clear()
}

// ReadTileFile returns the contents of the first entry of the zip container
// name.
func ReadTileFile(name string) ([]byte, error) {
	fileInfo, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("%s: %w", name, ErrIsDirectory)
	}
	zipReader, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer zipReader.Close()
	data, err := readZipEntry(&zipReader.Reader, "")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return data, nil
}

// readZipEntry reads the first entry of zipReader whose name has suffix.
func readZipEntry(zipReader *zip.Reader, suffix string) ([]byte, error) {
	for _, zipFile := range zipReader.File {
		if !strings.HasSuffix(strings.ToLower(zipFile.Name), suffix) {
			continue
		}
		r, err := zipFile.Open()
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, errNoZipEntry
}

func (p *HGTProvider) fileName(tileID TileID) string {
	return filepath.Join(p.dir, tileID.String()+"."+p.extension+".zip")
}

// getTileCached returns the decoded tile for tileID.
func (p *HGTProvider) getTileCached(tileID TileID) (*hgtTile, error) {
	if tile, ok := p.tiles.Load(tileID); ok {
		hgtTileCacheHits.Inc()
		return tile.(*hgtTile), nil
	}

	tile, err, _ := p.loadGroup.Do(tileID.String(), func() (any, error) {
		if tile, ok := p.tiles.Load(tileID); ok {
			return tile, nil
		}
		hgtTileCacheMisses.Inc()
		return p.getTile(tileID)
	})
	if err != nil {
		return nil, err
	}
	return tile.(*hgtTile), nil
}

// getTile reads and decodes the tile for tileID.
func (p *HGTProvider) getTile(tileID TileID) (*hgtTile, error) {
	filename := p.fileName(tileID)
	data, err := ReadTileFile(filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		hgtTileReadErrors.Inc()
		p.logger.Debug("missing tile", zap.Stringer("tile", tileID), zap.String("filename", filename))
		return nil, err
	case err != nil:
		hgtTileReadErrors.Inc()
		p.logger.Warn("read tile", zap.String("filename", filename), zap.Error(err))
		return nil, err
	}

	tile, err := decodeHGT(data, p.resolution)
	if err != nil {
		hgtTileReadErrors.Inc()
		p.logger.Warn("decode tile", zap.String("filename", filename), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	p.tiles.Store(tileID, tile)
	p.logger.Debug("loaded tile", zap.Stringer("tile", tileID), zap.String("filename", filename))
	return tile, nil
}

// decodeHGT decodes big-endian 16-bit samples.
func decodeHGT(data []byte, resolution int) (*hgtTile, error) {
	if expected := 2 * resolution * resolution; len(data) != expected {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrTileSize, len(data), expected)
	}
	samples := make([]int16, resolution*resolution)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(data[2*i : 2*i+2]))
	}
	return &hgtTile{
		resolution: resolution,
		samples:    samples,
	}, nil
}

// Sample returns the sample at column c and row r.
func (t *hgtTile) Sample(c, r int) (float64, bool) {
	sample := t.samples[r*t.resolution+c]
	if sample == hgtVoid {
		return 0, false
	}
	return float64(sample), true
}

// Size returns the width and height of t.
func (t *hgtTile) Size() (int, int) {
	return t.resolution, t.resolution
}
