package elevation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionAdobeDeflate = 32946

	predictorNone       = 1
	predictorHorizontal = 2

	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

var (
	errShortRead  = errors.New("short read")
	errEmptyBlock = errors.New("empty block")
)

// A ReadAtSeeker can be read both sequentially and at random offsets.
type ReadAtSeeker interface {
	io.ReaderAt
	io.ReadSeeker
}

// A GeoTIFFTile is an open single-band GeoTIFF elevation raster. The image
// is stored in blocks, which are either TIFF tiles or TIFF strips.
type GeoTIFFTile struct {
	reader                 io.ReaderAt
	closer                 io.Closer
	byteOrder              binary.ByteOrder
	imageWidth             int
	imageLength            int
	blockWidth             int
	blockLength            int
	blocksAcross           int
	blocksDown             int
	striped                bool
	blockOffsets           []uint64
	blockByteCounts        []uint64
	smallestBlockByteCount uint64
	compression            int
	predictor              int
	bytesPerSample         int
	noData                 float32
	hasNoData              bool
	blockCacheSizeBytes    int
	blockSamplesCache      *lru.Cache[TileCoord, []float32]
	emptyBlockMutex        sync.Mutex
	emptyBlockBytes        []byte
	scaleX                 float64
	scaleY                 float64
	translateX             float64
	translateY             float64
	pixelCenterOffset      float64
	srid                   int
}

type GeoTIFFTileOption func(*GeoTIFFTile)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth          uint16    `tiff:"field,tag=256"`
	ImageLength         uint16    `tiff:"field,tag=257"`
	BitsPerSample       uint16    `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint16    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint16    `tiff:"field,tag=322"`
	TileLength          uint16    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag  []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag    []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag  []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag  []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag   string    `tiff:"field,tag=34737"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// NewGeoTIFFTile opens filename in fsys and returns a new GeoTIFFTile.
func NewGeoTIFFTile(fsys fs.FS, filename string, options ...GeoTIFFTileOption) (*GeoTIFFTile, error) {
	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	r, ok := file.(ReadAtSeeker)
	if !ok {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	tile, err := NewGeoTIFFTileFromReader(r, file, options...)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return tile, nil
}

// NewGeoTIFFTileFromReader returns a new GeoTIFFTile reading from r. If
// closer is not nil then it is closed when the GeoTIFFTile is closed.
func NewGeoTIFFTileFromReader(r ReadAtSeeker, closer io.Closer, options ...GeoTIFFTileOption) (*GeoTIFFTile, error) {
	f := &GeoTIFFTile{
		reader:              r,
		closer:              closer,
		blockCacheSizeBytes: 128 << 20, // 128MB.
	}
	for _, option := range options {
		option(f)
	}

	byteOrderMark := make([]byte, 2)
	if _, err := r.ReadAt(byteOrderMark, 0); err != nil {
		return nil, err
	}
	switch string(byteOrderMark) {
	case "II":
		f.byteOrder = binary.LittleEndian
	case "MM":
		f.byteOrder = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF file")
	}

	tiffTIFF, err := tiff.Parse(r, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}

	if len(tiffTIFF.IFDs()) < 1 {
		return nil, errors.New("no IFDs")
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	switch {
	case ifd.BitsPerSample == 16 && ifd.SampleFormat == sampleFormatInt:
	case ifd.BitsPerSample == 32 && ifd.SampleFormat == sampleFormatFloat:
	default:
		return nil, fmt.Errorf("%d-bit sample format %d: %w", ifd.BitsPerSample, ifd.SampleFormat, errors.ErrUnsupported)
	}
	switch ifd.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobeDeflate:
	default:
		return nil, fmt.Errorf("compression %d: %w", ifd.Compression, errors.ErrUnsupported)
	}
	switch {
	case ifd.Predictor == 0 || ifd.Predictor == predictorNone:
	case ifd.Predictor == predictorHorizontal && ifd.SampleFormat == sampleFormatInt:
	default:
		return nil, fmt.Errorf("predictor %d: %w", ifd.Predictor, errors.ErrUnsupported)
	}
	if ifd.SamplesPerPixel > 1 ||
		ifd.PlanarConfiguration > 1 ||
		len(ifd.ModelPixelScaleTag) != 3 ||
		len(ifd.ModelTiepointTag) != 6 || ifd.ModelTiepointTag[0] != 0 || ifd.ModelTiepointTag[1] != 0 {
		return nil, errors.ErrUnsupported
	}

	f.imageWidth = int(ifd.ImageWidth)
	f.imageLength = int(ifd.ImageLength)
	f.compression = int(ifd.Compression)
	f.predictor = int(ifd.Predictor)
	f.bytesPerSample = int(ifd.BitsPerSample) / 8
	if ifd.TileWidth != 0 && ifd.TileLength != 0 {
		f.blockWidth = int(ifd.TileWidth)
		f.blockLength = int(ifd.TileLength)
		f.blockOffsets = ifd.TileOffsets
		f.blockByteCounts = ifd.TileByteCounts
	} else {
		f.striped = true
		f.blockWidth = f.imageWidth
		f.blockLength = int(ifd.RowsPerStrip)
		if f.blockLength == 0 || f.blockLength > f.imageLength {
			f.blockLength = f.imageLength
		}
		f.blockOffsets = ifd.StripOffsets
		f.blockByteCounts = ifd.StripByteCounts
	}
	if f.imageWidth == 0 || f.imageLength == 0 || f.blockWidth == 0 || f.blockLength == 0 {
		return nil, errors.New("empty image")
	}
	f.blocksAcross = (f.imageWidth + f.blockWidth - 1) / f.blockWidth
	f.blocksDown = (f.imageLength + f.blockLength - 1) / f.blockLength
	blocksPerImage := f.blocksAcross * f.blocksDown
	if len(f.blockByteCounts) != blocksPerImage || len(f.blockOffsets) != blocksPerImage {
		return nil, errors.New("incorrect number of block byte counts or offsets")
	}
	f.smallestBlockByteCount = slices.Min(f.blockByteCounts)

	if ifd.GDALNoData != "" {
		noData, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00")), 64)
		if err != nil {
			return nil, fmt.Errorf("GDAL_NODATA: %w", err)
		}
		f.noData = float32(noData)
		f.hasNoData = true
	}

	blockByteCount := f.blockWidth * f.blockLength * f.bytesPerSample
	blockCacheCount := max(f.blockCacheSizeBytes/blockByteCount, 1)
	f.blockSamplesCache, err = lru.New[TileCoord, []float32](blockCacheCount)
	if err != nil {
		return nil, err
	}

	scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	if scaleX <= 0 || scaleY <= 0 {
		return nil, errors.ErrUnsupported
	}
	f.scaleX = scaleX
	f.scaleY = scaleY
	f.translateX = ifd.ModelTiepointTag[3]
	f.translateY = ifd.ModelTiepointTag[4]

	f.pixelCenterOffset = 0.5
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return nil, err
		}
		f.srid = geoKeys.SRID()
		if geoKeys.RasterType() == RasterPixelIsPoint {
			f.pixelCenterOffset = 0
		}
	}

	return f, nil
}

// WithBlockCacheSize sets the maximum size in bytes of decoded blocks to
// cache.
func WithBlockCacheSize(blockCacheSize int) GeoTIFFTileOption {
	return func(f *GeoTIFFTile) {
		f.blockCacheSizeBytes = blockCacheSize
	}
}

func (f *GeoTIFFTile) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// SRID returns the EPSG code of f's CRS, or 0 if it is unknown.
func (f *GeoTIFFTile) SRID() int {
	return f.srid
}

// Sample returns the sample nearest to coord. Missing samples are NaN.
func (f *GeoTIFFTile) Sample(coord Coord) (float64, error) {
	x, y := f.pixelCoord(coord)
	return f.pixel(int(math.Round(x)), int(math.Round(y)))
}

// Samples returns the samples nearest to coords. It is significantly faster
// than calling [Sample] for each coordinate.
func (f *GeoTIFFTile) Samples(coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))
	pixels := make([][2]int, len(coords))

	// Group indexes by block coord.
	indexesByBlockCoord := make(map[TileCoord][]int)
	for index, coord := range coords {
		x, y := f.pixelCoord(coord)
		c, r := int(math.Round(x)), int(math.Round(y))
		blockCoord, ok := f.blockCoord(c, r)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		pixels[index] = [2]int{c, r}
		indexesByBlockCoord[blockCoord] = append(indexesByBlockCoord[blockCoord], index)
	}

	// Populate samples one block at a time.
	for blockCoord, indexes := range indexesByBlockCoord {
		switch blockSamples, err := f.getBlockSamplesCached(blockCoord); {
		case errors.Is(err, errEmptyBlock):
			for _, index := range indexes {
				samples[index] = math.NaN()
			}
		case err != nil:
			return nil, err
		default:
			for _, index := range indexes {
				samples[index] = f.blockSample(blockSamples, pixels[index][0], pixels[index][1])
			}
		}
	}

	return samples, nil
}

// Interpolate returns the bilinear interpolation of the samples around
// coord. Missing samples are NaN.
func (f *GeoTIFFTile) Interpolate(coord Coord) (float64, error) {
	x, y := f.pixelCoord(coord)
	if x < -0.5 || float64(f.imageWidth)-0.5 < x || y < -0.5 || float64(f.imageLength)-0.5 < y {
		return math.NaN(), nil
	}
	raster := &geoTIFFRaster{tile: f}
	sample, ok := InterpolateBilinear(raster, x, y)
	switch {
	case raster.err != nil:
		return 0, raster.err
	case !ok:
		return math.NaN(), nil
	default:
		return sample, nil
	}
}

// A geoTIFFRaster adapts a GeoTIFFTile to a Raster, recording the first
// error.
type geoTIFFRaster struct {
	tile *GeoTIFFTile
	err  error
}

func (r *geoTIFFRaster) Sample(c, row int) (float64, bool) {
	if r.err != nil {
		return 0, false
	}
	sample, err := r.tile.pixel(c, row)
	if err != nil {
		r.err = err
		return 0, false
	}
	return sample, !math.IsNaN(sample)
}

func (r *geoTIFFRaster) Size() (int, int) {
	return r.tile.imageWidth, r.tile.imageLength
}

// pixelCoord returns the fractional pixel coordinate of coord, with
// integers at pixel centers.
func (f *GeoTIFFTile) pixelCoord(coord Coord) (float64, float64) {
	x := (coord.X-f.translateX)/f.scaleX - f.pixelCenterOffset
	y := (f.translateY-coord.Y)/f.scaleY - f.pixelCenterOffset
	return x, y
}

// pixel returns the sample at column c and row r.
func (f *GeoTIFFTile) pixel(c, r int) (float64, error) {
	blockCoord, ok := f.blockCoord(c, r)
	if !ok {
		return math.NaN(), nil
	}
	switch blockSamples, err := f.getBlockSamplesCached(blockCoord); {
	case errors.Is(err, errEmptyBlock):
		return math.NaN(), nil
	case err != nil:
		return 0, err
	default:
		return f.blockSample(blockSamples, c, r), nil
	}
}

// blockCoord returns the block containing column c and row r.
func (f *GeoTIFFTile) blockCoord(c, r int) (TileCoord, bool) {
	if c < 0 || f.imageWidth <= c || r < 0 || f.imageLength <= r {
		return TileCoord{}, false
	}
	return TileCoord{
		C: c / f.blockWidth,
		R: r / f.blockLength,
	}, true
}

// blockSample returns the sample from blockSamples at column c and row r.
func (f *GeoTIFFTile) blockSample(blockSamples []float32, c, r int) float64 {
	sample := blockSamples[c%f.blockWidth+(r%f.blockLength)*f.blockWidth]
	if f.hasNoData && sample == f.noData {
		return math.NaN()
	}
	return float64(sample)
}

// getCompressedBlockData returns the compressed data of the block at
// blockCoord. If the block is known to be empty, it returns errEmptyBlock.
func (f *GeoTIFFTile) getCompressedBlockData(blockCoord TileCoord) ([]byte, error) {
	blockIndex := blockCoord.C + f.blocksAcross*blockCoord.R
	blockByteCount := f.blockByteCounts[blockIndex]
	blockOffset := f.blockOffsets[blockIndex]
	compressedData := make([]byte, blockByteCount)
	n, err := f.reader.ReadAt(compressedData, int64(blockOffset))
	switch {
	case n == int(blockByteCount):
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}
	f.emptyBlockMutex.Lock()
	defer f.emptyBlockMutex.Unlock()
	if f.emptyBlockBytes != nil && bytes.Equal(compressedData, f.emptyBlockBytes) {
		return nil, errEmptyBlock
	}
	return compressedData, nil
}

// blockRows returns the number of rows stored in the block at blockCoord.
// Tiles are always padded but the last strip may be short.
func (f *GeoTIFFTile) blockRows(blockCoord TileCoord) int {
	if !f.striped {
		return f.blockLength
	}
	return min(f.blockLength, f.imageLength-blockCoord.R*f.blockLength)
}

// decompressBlockData decompresses compressedData into size bytes.
func (f *GeoTIFFTile) decompressBlockData(compressedData []byte, size int) ([]byte, error) {
	var r io.Reader
	switch f.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	default:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	}
	blockData := make([]byte, size)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// decodeBlockData decodes blockData into a full block of samples.
func (f *GeoTIFFTile) decodeBlockData(blockData []byte, rows int) []float32 {
	blockSamples := make([]float32, f.blockWidth*f.blockLength)
	sampleCount := f.blockWidth * rows
	switch f.bytesPerSample {
	case 2:
		ints := make([]int16, sampleCount)
		for i := range ints {
			ints[i] = int16(f.byteOrder.Uint16(blockData[2*i : 2*i+2]))
		}
		if f.predictor == predictorHorizontal {
			for row := range rows {
				rowInts := ints[row*f.blockWidth : (row+1)*f.blockWidth]
				for i := 1; i < len(rowInts); i++ {
					rowInts[i] += rowInts[i-1]
				}
			}
		}
		for i, sample := range ints {
			blockSamples[i] = float32(sample)
		}
	case 4:
		for i := range sampleCount {
			blockSamples[i] = math.Float32frombits(f.byteOrder.Uint32(blockData[4*i : 4*i+4]))
		}
	}
	return blockSamples
}

// getBlockSamples returns the samples of the block at blockCoord.
func (f *GeoTIFFTile) getBlockSamples(blockCoord TileCoord) ([]float32, error) {
	compressedBlockData, err := f.getCompressedBlockData(blockCoord)
	if err != nil {
		return nil, err
	}

	rows := f.blockRows(blockCoord)
	blockData, err := f.decompressBlockData(compressedBlockData, f.blockWidth*rows*f.bytesPerSample)
	if err != nil {
		return nil, err
	}
	blockSamples := f.decodeBlockData(blockData, rows)

	// If we do not know what an empty block looks like compressed, check to
	// see if this is an empty block, and, if so, use its bytes to detect
	// empty blocks before they are decompressed. We assume that the empty
	// block is the smallest block.
	if f.hasNoData && len(compressedBlockData) == int(f.smallestBlockByteCount) && !f.striped {
		isEmptyBlock := true
		for _, sample := range blockSamples {
			if sample != f.noData {
				isEmptyBlock = false
				break
			}
		}
		if isEmptyBlock {
			f.emptyBlockMutex.Lock()
			f.emptyBlockBytes = compressedBlockData
			f.emptyBlockMutex.Unlock()
			return nil, errEmptyBlock
		}
	}

	return blockSamples, nil
}

// getBlockSamplesCached returns the block at blockCoord using f's cache.
func (f *GeoTIFFTile) getBlockSamplesCached(blockCoord TileCoord) ([]float32, error) {
	if blockSamples, ok := f.blockSamplesCache.Get(blockCoord); ok {
		return blockSamples, nil
	}
	blockSamples, err := f.getBlockSamples(blockCoord)
	if err != nil {
		return nil, err
	}
	f.blockSamplesCache.Add(blockCoord, blockSamples)
	return blockSamples, nil
}
