package elevation_test

import (
	"errors"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"testing"

	"github.com/alecthomas/assert/v2"

	elevation "github.com/twpayne/go-routing-elevation"
)

func TestEUDEM_Samples(t *testing.T) {
	if _, err := os.Stat("testdata/eu_dem"); errors.Is(err, fs.ErrNotExist) {
		t.Skip("missing eu_dem test data")
	}

	fsys := os.DirFS("testdata/eu_dem")
	euDEM, err := elevation.NewEUDEM(fsys)
	assert.NoError(t, err)
	defer euDEM.Purge()

	for i, tc := range []struct {
		requiredFiles []string
		coords        []elevation.Coord
		expected      []float64
	}{
		{
			requiredFiles: []string{
				"eu_dem_v11_E00N20.TIF",
			},
			coords: []elevation.Coord{
				{X: 970705, Y: 2789764},
				{X: 971739, Y: 2793094},
				{X: 969236, Y: 2787499},
				{X: 950258, Y: 2769570},
			},
			expected: []float64{
				517, // QGIS says 518.
				79,
				6,   // QGIS says 13.
				586, // QGIS says 593.
			},
		},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			for _, filename := range tc.requiredFiles {
				if _, err := fsys.(fs.StatFS).Stat(filename); errors.Is(err, fs.ErrNotExist) {
					t.Skip(err)
				}
			}
			actual, err := euDEM.Samples(tc.coords)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestEUDEMProvider_Elevation(t *testing.T) {
	if _, err := os.Stat("testdata/eu_dem"); errors.Is(err, fs.ErrNotExist) {
		t.Skip("missing eu_dem test data")
	}

	fsys := os.DirFS("testdata/eu_dem")
	p, err := elevation.NewEUDEMProvider(fsys, elevation.WithInterpolation(true))
	assert.NoError(t, err)
	defer p.Release()

	for _, tc := range []struct {
		name     string
		filename string
		lat, lon float64
	}{
		{
			name:     "azores",
			filename: "eu_dem_v11_E00N20.TIF",
			lat:      39.466667,
			lon:      -31.216667,
		},
		{
			name:     "la_plagne",
			filename: "eu_dem_v11_E40N20.TIF",
			lat:      45.505288300000004,
			lon:      6.6771972,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := fsys.(fs.StatFS).Stat(tc.filename); errors.Is(err, fs.ErrNotExist) {
				t.Skip(err)
			}
			actual, err := p.Elevation(tc.lat, tc.lon)
			assert.NoError(t, err)
			assert.True(t, actual > 0)
		})
	}

	t.Run("null_island", func(t *testing.T) {
		actual, err := p.Elevation(0, 0)
		assert.NoError(t, err)
		assert.Equal(t, 0.0, actual)
	})
}

func BenchmarkSingleTileSixteenCloseSamples(b *testing.B) {
	r := rand.New(rand.NewPCG(0, 0))
	euDEM, err := elevation.NewEUDEM(os.DirFS("testdata/eu_dem"))
	assert.NoError(b, err)
	if sample, err := euDEM.Sample(elevation.Coord{X: 950000, Y: 2769000}); err != nil || math.IsNaN(sample) {
		b.Skip("missing eu_dem test data")
	}
	b.ResetTimer()
	for range b.N {
		coords := make([]elevation.Coord, 16)
		for i := range coords {
			coords[i] = elevation.Coord{
				X: float64(947000 + r.IntN(7000)),
				Y: float64(2766000 + r.IntN(7000)),
			}
		}
		samples, err := euDEM.Samples(coords)
		assert.NoError(b, err)
		assert.Equal(b, len(coords), len(samples))
		for _, sample := range samples {
			assert.False(b, math.IsNaN(sample))
		}
	}
}
