package elevation

import "math"

// InterpolateBilinear returns the bilinear interpolation of raster at the
// fractional column x and row y. Missing neighbours are ignored and the
// remaining weights renormalized. It returns false if all four neighbours
// are missing.
func InterpolateBilinear(raster Raster, x, y float64) (float64, bool) {
	width, height := raster.Size()
	x0 := min(max(int(math.Floor(x)), 0), max(width-2, 0))
	y0 := min(max(int(math.Floor(y)), 0), max(height-2, 0))
	x1 := min(x0+1, width-1)
	y1 := min(y0+1, height-1)
	dx := min(max(x-float64(x0), 0), 1)
	dy := min(max(y-float64(y0), 0), 1)

	neighbours := [4]struct {
		c, r   int
		weight float64
	}{
		{x0, y0, (1 - dx) * (1 - dy)},
		{x1, y0, dx * (1 - dy)},
		{x0, y1, (1 - dx) * dy},
		{x1, y1, dx * dy},
	}
	result, weightSum, missing := 0.0, 0.0, false
	for _, n := range neighbours {
		sample, ok := raster.Sample(n.c, n.r)
		if !ok {
			missing = true
			continue
		}
		result += sample * n.weight
		weightSum += n.weight
	}
	switch {
	case weightSum == 0:
		return 0, false
	case missing:
		return result / weightSum, true
	default:
		return result, true
	}
}

// NearestSample returns the sample of raster closest to the fractional
// column x and row y.
func NearestSample(raster Raster, x, y float64) (float64, bool) {
	width, height := raster.Size()
	c := min(max(int(math.Round(x)), 0), width-1)
	r := min(max(int(math.Round(y)), 0), height-1)
	return raster.Sample(c, r)
}
