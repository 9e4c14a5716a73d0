package elevation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"
	"github.com/klauspost/compress/zlib"
)

// TIFF field types.
const (
	tiffASCII  = 2
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
)

var geographicGeoKeys = []uint16{
	1, 1, 0, 3,
	uint16(GeoKeyGTModelType), 0, 1, ModelTypeGeographic,
	uint16(GeoKeyGTRasterType), 0, 1, RasterPixelIsArea,
	uint16(GeoKeyGeodeticCRS), 0, 1, 4326,
}

type testByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// A testGeoTIFF describes a single-band GeoTIFF to encode. Sample (c, r) has
// the value 100*r+c unless samples is set.
type testGeoTIFF struct {
	byteOrder    testByteOrder
	width        int
	height       int
	tileWidth    int // Zero for strips.
	tileLength   int
	rowsPerStrip int
	bitsPerPixel int
	compression  int
	predictor    int
	noData       string
	samples      []float64
	scale        [3]float64
	tiepoint     [6]float64
	geoKeys      []uint16
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count int
	data  []byte
}

func newTestGeoTIFF() testGeoTIFF {
	return testGeoTIFF{
		byteOrder:    binary.LittleEndian,
		width:        20,
		height:       12,
		rowsPerStrip: 5,
		bitsPerPixel: 16,
		compression:  compressionNone,
		scale:        [3]float64{1, 1, 0},
		tiepoint:     [6]float64{0, 0, 0, 10, 50, 0},
		geoKeys:      geographicGeoKeys,
	}
}

func (g testGeoTIFF) sample(c, r int) float64 {
	if g.samples != nil {
		return g.samples[r*g.width+c]
	}
	return float64(100*r + c)
}

func (g testGeoTIFF) shorts(values ...uint16) []byte {
	data := make([]byte, 2*len(values))
	for i, value := range values {
		g.byteOrder.PutUint16(data[2*i:], value)
	}
	return data
}

func (g testGeoTIFF) longs(values ...uint32) []byte {
	data := make([]byte, 4*len(values))
	for i, value := range values {
		g.byteOrder.PutUint32(data[4*i:], value)
	}
	return data
}

func (g testGeoTIFF) doubles(values ...float64) []byte {
	data := make([]byte, 8*len(values))
	for i, value := range values {
		g.byteOrder.PutUint64(data[8*i:], math.Float64bits(value))
	}
	return data
}

// encodeBlock returns the compressed block whose top left pixel is c0, r0.
func (g testGeoTIFF) encodeBlock(t *testing.T, c0, r0, width, rows int) []byte {
	t.Helper()
	bytesPerSample := g.bitsPerPixel / 8
	data := make([]byte, 0, width*rows*bytesPerSample)
	for r := r0; r < r0+rows; r++ {
		var previous int16
		for c := c0; c < c0+width; c++ {
			sample := math.NaN()
			if c < g.width && r < g.height {
				sample = g.sample(c, r)
			}
			switch bytesPerSample {
			case 2:
				value := int16(0)
				if !math.IsNaN(sample) {
					value = int16(sample)
				}
				if g.predictor == predictorHorizontal {
					value, previous = value-previous, value
				}
				data = g.byteOrder.AppendUint16(data, uint16(value))
			case 4:
				data = g.byteOrder.AppendUint32(data, math.Float32bits(float32(sample)))
			default:
				data = append(data, byte(sample))
			}
		}
	}
	switch g.compression {
	case compressionDeflate, compressionAdobeDeflate:
		buffer := &bytes.Buffer{}
		zlibWriter := zlib.NewWriter(buffer)
		_, err := zlibWriter.Write(data)
		assert.NoError(t, err)
		assert.NoError(t, zlibWriter.Close())
		return buffer.Bytes()
	default:
		return data
	}
}

func (g testGeoTIFF) encode(t *testing.T) []byte {
	t.Helper()

	var blocks [][]byte
	if g.tileWidth != 0 {
		for r0 := 0; r0 < g.height; r0 += g.tileLength {
			for c0 := 0; c0 < g.width; c0 += g.tileWidth {
				blocks = append(blocks, g.encodeBlock(t, c0, r0, g.tileWidth, g.tileLength))
			}
		}
	} else {
		for r0 := 0; r0 < g.height; r0 += g.rowsPerStrip {
			blocks = append(blocks, g.encodeBlock(t, 0, r0, g.width, min(g.rowsPerStrip, g.height-r0)))
		}
	}
	blockByteCounts := make([]uint32, len(blocks))
	for i, block := range blocks {
		blockByteCounts[i] = uint32(len(block))
	}

	sampleFormat := uint16(sampleFormatInt)
	if g.bitsPerPixel == 32 {
		sampleFormat = sampleFormatFloat
	}
	entries := []tiffEntry{
		{tag: 256, typ: tiffShort, count: 1, data: g.shorts(uint16(g.width))},
		{tag: 257, typ: tiffShort, count: 1, data: g.shorts(uint16(g.height))},
		{tag: 258, typ: tiffShort, count: 1, data: g.shorts(uint16(g.bitsPerPixel))},
		{tag: 259, typ: tiffShort, count: 1, data: g.shorts(uint16(g.compression))},
		{tag: 262, typ: tiffShort, count: 1, data: g.shorts(1)},
		{tag: 277, typ: tiffShort, count: 1, data: g.shorts(1)},
		{tag: 284, typ: tiffShort, count: 1, data: g.shorts(1)},
		{tag: 339, typ: tiffShort, count: 1, data: g.shorts(sampleFormat)},
		{tag: 33550, typ: tiffDouble, count: 3, data: g.doubles(g.scale[:]...)},
		{tag: 33922, typ: tiffDouble, count: 6, data: g.doubles(g.tiepoint[:]...)},
	}
	offsetsTag, byteCountsTag := uint16(273), uint16(279)
	if g.tileWidth != 0 {
		offsetsTag, byteCountsTag = 324, 325
		entries = append(entries,
			tiffEntry{tag: 322, typ: tiffShort, count: 1, data: g.shorts(uint16(g.tileWidth))},
			tiffEntry{tag: 323, typ: tiffShort, count: 1, data: g.shorts(uint16(g.tileLength))},
		)
	} else {
		entries = append(entries, tiffEntry{tag: 278, typ: tiffShort, count: 1, data: g.shorts(uint16(g.rowsPerStrip))})
	}
	entries = append(entries,
		tiffEntry{tag: offsetsTag, typ: tiffLong, count: len(blocks), data: make([]byte, 4*len(blocks))},
		tiffEntry{tag: byteCountsTag, typ: tiffLong, count: len(blocks), data: g.longs(blockByteCounts...)},
	)
	if g.predictor != 0 {
		entries = append(entries, tiffEntry{tag: 317, typ: tiffShort, count: 1, data: g.shorts(uint16(g.predictor))})
	}
	if g.geoKeys != nil {
		entries = append(entries, tiffEntry{tag: 34735, typ: tiffShort, count: len(g.geoKeys), data: g.shorts(g.geoKeys...)})
	}
	if g.noData != "" {
		entries = append(entries, tiffEntry{tag: 42113, typ: tiffASCII, count: len(g.noData) + 1, data: append([]byte(g.noData), 0)})
	}
	slices.SortFunc(entries, func(a, b tiffEntry) int {
		return int(a.tag) - int(b.tag)
	})

	// Layout: header, IFD, out-of-line values, blocks.
	ifdSize := 2 + 12*len(entries) + 4
	valueOffsets := make([]int, len(entries))
	offset := 8 + ifdSize
	for i, entry := range entries {
		if len(entry.data) > 4 {
			valueOffsets[i] = offset
			offset += len(entry.data) + len(entry.data)%2
		}
	}
	blockOffsets := make([]uint32, len(blocks))
	for i, block := range blocks {
		blockOffsets[i] = uint32(offset)
		offset += len(block)
	}
	for i := range entries {
		if entries[i].tag == offsetsTag {
			entries[i].data = g.longs(blockOffsets...)
		}
	}

	var data []byte
	if g.byteOrder == binary.LittleEndian {
		data = append(data, 'I', 'I')
	} else {
		data = append(data, 'M', 'M')
	}
	data = g.byteOrder.AppendUint16(data, 42)
	data = g.byteOrder.AppendUint32(data, 8)
	data = g.byteOrder.AppendUint16(data, uint16(len(entries)))
	for i, entry := range entries {
		data = g.byteOrder.AppendUint16(data, entry.tag)
		data = g.byteOrder.AppendUint16(data, entry.typ)
		data = g.byteOrder.AppendUint32(data, uint32(entry.count))
		if len(entry.data) > 4 {
			data = g.byteOrder.AppendUint32(data, uint32(valueOffsets[i]))
		} else {
			value := make([]byte, 4)
			copy(value, entry.data)
			data = append(data, value...)
		}
	}
	data = g.byteOrder.AppendUint32(data, 0)
	for _, entry := range entries {
		if len(entry.data) > 4 {
			data = append(data, entry.data...)
			if len(entry.data)%2 != 0 {
				data = append(data, 0)
			}
		}
	}
	for _, block := range blocks {
		data = append(data, block...)
	}
	return data
}

func newTestGeoTIFFTile(t *testing.T, g testGeoTIFF, options ...GeoTIFFTileOption) *GeoTIFFTile {
	t.Helper()
	tile, err := NewGeoTIFFTileFromReader(bytes.NewReader(g.encode(t)), nil, options...)
	assert.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, tile.Close())
	})
	return tile
}

// pixelCenter returns the model coordinate of the center of pixel c, r of
// tiles with unit scale and their origin at 10, 50.
func pixelCenter(c, r int) Coord {
	return Coord{X: 10.5 + float64(c), Y: 49.5 - float64(r)}
}

func TestGeoTIFFTile_Formats(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*testGeoTIFF)
	}{
		{
			name:   "striped_int16_little_endian",
			modify: func(g *testGeoTIFF) {},
		},
		{
			name: "striped_int16_big_endian_deflate",
			modify: func(g *testGeoTIFF) {
				g.byteOrder = binary.BigEndian
				g.compression = compressionDeflate
			},
		},
		{
			name: "striped_int16_predictor",
			modify: func(g *testGeoTIFF) {
				g.compression = compressionAdobeDeflate
				g.predictor = predictorHorizontal
			},
		},
		{
			name: "single_strip",
			modify: func(g *testGeoTIFF) {
				g.rowsPerStrip = 0
			},
		},
		{
			name: "tiled_float32",
			modify: func(g *testGeoTIFF) {
				g.bitsPerPixel = 32
				g.tileWidth = 16
				g.tileLength = 16
			},
		},
		{
			name: "tiled_float32_big_endian_deflate",
			modify: func(g *testGeoTIFF) {
				g.byteOrder = binary.BigEndian
				g.bitsPerPixel = 32
				g.compression = compressionDeflate
				g.tileWidth = 16
				g.tileLength = 16
			},
		},
		{
			name: "tiled_int16_predictor",
			modify: func(g *testGeoTIFF) {
				g.compression = compressionDeflate
				g.predictor = predictorHorizontal
				g.tileWidth = 8
				g.tileLength = 8
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGeoTIFF()
			tc.modify(&g)
			if g.rowsPerStrip == 0 {
				g.rowsPerStrip = g.height
			}
			tile := newTestGeoTIFFTile(t, g)
			assert.Equal(t, 4326, tile.SRID())

			var coords []Coord
			var expected []float64
			for r := range g.height {
				for c := range g.width {
					actual, err := tile.Sample(pixelCenter(c, r))
					assert.NoError(t, err)
					assert.Equal(t, g.sample(c, r), actual)
					coords = append(coords, pixelCenter(c, r))
					expected = append(expected, g.sample(c, r))
				}
			}

			actual, err := tile.Samples(coords)
			assert.NoError(t, err)
			assert.Equal(t, expected, actual)
		})
	}
}

func TestGeoTIFFTile_Outside(t *testing.T) {
	tile := newTestGeoTIFFTile(t, newTestGeoTIFF())
	for _, coord := range []Coord{
		{X: 9.4, Y: 45},
		{X: 30.6, Y: 45},
		{X: 15, Y: 50.6},
		{X: 15, Y: 37.4},
	} {
		sample, err := tile.Sample(coord)
		assert.NoError(t, err)
		assert.True(t, math.IsNaN(sample))

		sample, err = tile.Interpolate(coord)
		assert.NoError(t, err)
		assert.True(t, math.IsNaN(sample))
	}

	samples, err := tile.Samples([]Coord{{X: 0, Y: 0}, pixelCenter(1, 2)})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(samples))
	assert.True(t, math.IsNaN(samples[0]))
	assert.Equal(t, 201.0, samples[1])
}

func TestGeoTIFFTile_Interpolate(t *testing.T) {
	tile := newTestGeoTIFFTile(t, newTestGeoTIFF())
	for _, tc := range []struct {
		name     string
		coord    Coord
		expected float64
	}{
		{name: "pixel_center", coord: pixelCenter(3, 4), expected: 403},
		{name: "between_columns", coord: Coord{X: 12, Y: 46.5}, expected: 301.5},
		{name: "between_rows", coord: Coord{X: 12.5, Y: 46}, expected: 352},
		{name: "edge", coord: Coord{X: 10.25, Y: 49.75}, expected: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := tile.Interpolate(tc.coord)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestGeoTIFFTile_NoData(t *testing.T) {
	g := newTestGeoTIFF()
	g.width = 32
	g.height = 32
	g.bitsPerPixel = 32
	g.compression = compressionDeflate
	g.tileWidth = 16
	g.tileLength = 16
	g.noData = "-9999"
	g.samples = make([]float64, g.width*g.height)
	for r := range g.height {
		for c := range g.width {
			switch {
			case c >= 16 && r >= 16:
				g.samples[r*g.width+c] = -9999
			case c == 2 && r == 2:
				g.samples[r*g.width+c] = -9999
			default:
				g.samples[r*g.width+c] = float64(c + r)
			}
		}
	}
	tile := newTestGeoTIFFTile(t, g)

	sample, err := tile.Sample(pixelCenter(2, 2))
	assert.NoError(t, err)
	assert.True(t, math.IsNaN(sample))

	sample, err = tile.Sample(pixelCenter(3, 2))
	assert.NoError(t, err)
	assert.Equal(t, 5.0, sample)

	// The missing neighbour is ignored.
	sample, err = tile.Interpolate(Coord{X: 13, Y: 47.5})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, sample)

	// The empty block is read twice, the second time matching its
	// compressed bytes.
	for range 2 {
		samples, err := tile.Samples([]Coord{pixelCenter(20, 20), pixelCenter(31, 31), pixelCenter(0, 0)})
		assert.NoError(t, err)
		assert.True(t, math.IsNaN(samples[0]))
		assert.True(t, math.IsNaN(samples[1]))
		assert.Equal(t, 0.0, samples[2])

		sample, err := tile.Interpolate(pixelCenter(20, 20))
		assert.NoError(t, err)
		assert.True(t, math.IsNaN(sample))
	}
}

func TestGeoTIFFTile_PixelIsPoint(t *testing.T) {
	g := newTestGeoTIFF()
	g.geoKeys = []uint16{
		1, 1, 0, 3,
		uint16(GeoKeyGTModelType), 0, 1, ModelTypeProjected,
		uint16(GeoKeyGTRasterType), 0, 1, RasterPixelIsPoint,
		uint16(GeoKeyProjectedCRS), 0, 1, 3035,
	}
	tile := newTestGeoTIFFTile(t, g)
	assert.Equal(t, 3035, tile.SRID())

	sample, err := tile.Sample(Coord{X: 13, Y: 48})
	assert.NoError(t, err)
	assert.Equal(t, 203.0, sample)
}

func TestGeoTIFFTile_SmallBlockCache(t *testing.T) {
	g := newTestGeoTIFF()
	g.rowsPerStrip = 1
	tile := newTestGeoTIFFTile(t, g, WithBlockCacheSize(1))
	testSampleSamplesEquivalence(t, tile, g)
}

func TestNewGeoTIFFTileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		modify   func(*testGeoTIFF)
		expected error
	}{
		{
			name: "8_bit",
			modify: func(g *testGeoTIFF) {
				g.bitsPerPixel = 8
			},
			expected: errors.ErrUnsupported,
		},
		{
			name: "jpeg",
			modify: func(g *testGeoTIFF) {
				g.compression = 7
			},
			expected: errors.ErrUnsupported,
		},
		{
			name: "negative_scale",
			modify: func(g *testGeoTIFF) {
				g.scale = [3]float64{1, -1, 0}
			},
			expected: errors.ErrUnsupported,
		},
		{
			name: "geokeys",
			modify: func(g *testGeoTIFF) {
				g.geoKeys = []uint16{2, 1, 0, 0}
			},
			expected: errParse,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGeoTIFF()
			tc.modify(&g)
			_, err := NewGeoTIFFTileFromReader(bytes.NewReader(g.encode(t)), nil)
			assert.IsError(t, err, tc.expected)
		})
	}

	_, err := NewGeoTIFFTileFromReader(bytes.NewReader([]byte("not a TIFF file")), nil)
	assert.Error(t, err)
}

func TestNewGeoTIFFTile_FS(t *testing.T) {
	fsys := fstest.MapFS{
		"tile.tif": &fstest.MapFile{Data: newTestGeoTIFF().encode(t)},
	}

	tile, err := NewGeoTIFFTile(fsys, "tile.tif")
	assert.NoError(t, err)
	sample, err := tile.Sample(pixelCenter(4, 7))
	assert.NoError(t, err)
	assert.Equal(t, 704.0, sample)
	assert.NoError(t, tile.Close())

	_, err = NewGeoTIFFTile(fsys, "missing.tif")
	assert.IsError(t, err, fs.ErrNotExist)
}

func TestNewGeoTIFFTile_EUDEM(t *testing.T) {
	geoTIFFTile, err := NewGeoTIFFTile(os.DirFS("testdata/eu_dem"), "eu_dem_v11_E00N20.TIF")
	if errors.Is(err, fs.ErrNotExist) {
		t.Skip(err)
	}
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, geoTIFFTile.Close())
	}()
	assert.Equal(t, 3035, geoTIFFTile.SRID())

	visitAllBlocks(t, geoTIFFTile)

	for _, tc := range []struct {
		coord    Coord
		expected float64
	}{
		{coord: Coord{X: 970705, Y: 2789764}, expected: 517},
		{coord: Coord{X: 971739, Y: 2793094}, expected: 79},
		{coord: Coord{X: 950258, Y: 2769570}, expected: 586},
	} {
		actual, err := geoTIFFTile.Sample(tc.coord)
		assert.NoError(t, err)
		assert.Equal(t, tc.expected, actual)
	}
}

func visitAllBlocks(t *testing.T, f *GeoTIFFTile) {
	t.Helper()
	for r := range f.blocksDown {
		for c := range f.blocksAcross {
			_, err := f.getBlockSamplesCached(TileCoord{C: c, R: r})
			if !errors.Is(err, errEmptyBlock) {
				assert.NoError(t, err)
			}
		}
	}
}

func testSampleSamplesEquivalence(t *testing.T, f *GeoTIFFTile, g testGeoTIFF) {
	t.Helper()
	r := rand.New(rand.NewPCG(0, 0))
	for range 256 {
		n := r.IntN(16)
		coords := make([]Coord, n)
		for i := range coords {
			coords[i] = Coord{
				X: g.tiepoint[3] + r.Float64()*float64(g.width),
				Y: g.tiepoint[4] - r.Float64()*float64(g.height),
			}
		}
		sampleCoords := make([]float64, n)
		for i, coord := range coords {
			var err error
			sampleCoords[i], err = f.Sample(coord)
			assert.NoError(t, err)
		}
		samplesCoords, err := f.Samples(coords)
		assert.NoError(t, err)
		assert.Equal(t, sampleCoords, samplesCoords)
	}
}
