package main

import (
	"errors"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	elevation "github.com/twpayne/go-routing-elevation"
)

// A config is the effective configuration.
type config struct {
	HGTDir        string `yaml:"hgt-dir,omitempty"`
	HGTResolution int    `yaml:"hgt-resolution"`
	CGIARDir      string `yaml:"cgiar-dir,omitempty"`
	GMTEDDir      string `yaml:"gmted-dir,omitempty"`
	EUDEMDir      string `yaml:"eudem-dir,omitempty"`
	Interpolate   bool   `yaml:"interpolate"`
	Geodesic      bool   `yaml:"geodesic"`
	LogLevel      string `yaml:"log-level"`
	LogFile       string `yaml:"log-file,omitempty"`
}

func newConfig(v *viper.Viper) *config {
	return &config{
		HGTDir:        v.GetString("hgt-dir"),
		HGTResolution: v.GetInt("hgt-resolution"),
		CGIARDir:      v.GetString("cgiar-dir"),
		GMTEDDir:      v.GetString("gmted-dir"),
		EUDEMDir:      v.GetString("eudem-dir"),
		Interpolate:   v.GetBool("interpolate"),
		Geodesic:      v.GetBool("geodesic"),
		LogLevel:      v.GetString("log-level"),
		LogFile:       v.GetString("log-file"),
	}
}

// europe returns whether lat, lon lies within the EU-DEM extent.
func europe(lat, lon float64) bool {
	return 27 < lat && lat < 72 && -32 < lon && lon < 45
}

// newProvider returns the provider stack described by c. HGT tiles take
// precedence over CGIAR tiles within SRTM coverage, EU-DEM takes precedence
// within Europe, and GMTED2010 covers everywhere else.
func (c *config) newProvider(logger *zap.Logger) (elevation.Provider, error) {
	var primary elevation.Provider
	var primaryCoverage func(lat, lon float64) bool
	switch {
	case c.HGTDir != "":
		hgtProvider, err := elevation.NewHGTProvider(c.HGTDir,
			elevation.WithHGTResolution(c.HGTResolution),
			elevation.WithHGTInterpolation(c.Interpolate),
			elevation.WithHGTLogger(logger.Named("hgt")),
		)
		if err != nil {
			return nil, err
		}
		primary, primaryCoverage = hgtProvider, elevation.SRTMCoverage
	case c.CGIARDir != "":
		cgiarProvider, err := elevation.NewCGIARProvider(os.DirFS(c.CGIARDir), c.geoTIFFTileSetOptions(logger.Named("cgiar"))...)
		if err != nil {
			return nil, err
		}
		primary, primaryCoverage = cgiarProvider, elevation.CGIARCoverage
	}

	var fallback elevation.Provider
	if c.GMTEDDir != "" {
		gmtedProvider, err := elevation.NewGMTEDProvider(os.DirFS(c.GMTEDDir), c.geoTIFFTileSetOptions(logger.Named("gmted"))...)
		if err != nil {
			return nil, err
		}
		fallback = gmtedProvider
	}

	var rules []elevation.CoverageRule
	if c.EUDEMDir != "" {
		eudemProvider, err := elevation.NewEUDEMProvider(os.DirFS(c.EUDEMDir), c.geoTIFFTileSetOptions(logger.Named("eudem"))...)
		if err != nil {
			return nil, err
		}
		rules = append(rules, elevation.CoverageRule{
			Covers:   europe,
			Provider: eudemProvider,
		})
	}

	switch {
	case primary == nil && fallback == nil && len(rules) == 0:
		return nil, errors.New("no elevation data configured")
	case primary == nil && fallback == nil:
		return elevation.NewMultiSourceProviderWithRules(rules[0].Provider, rules[1:]...), nil
	case primary == nil:
		return elevation.NewMultiSourceProviderWithRules(fallback, rules...), nil
	case fallback == nil:
		fallback = primary
	}
	rules = append(rules, elevation.CoverageRule{
		Covers:   primaryCoverage,
		Provider: primary,
	})
	return elevation.NewMultiSourceProviderWithRules(fallback, rules...), nil
}

func (c *config) geoTIFFTileSetOptions(logger *zap.Logger) []elevation.GeoTIFFTileSetOption {
	return []elevation.GeoTIFFTileSetOption{
		elevation.WithInterpolation(c.Interpolate),
		elevation.WithLogger(logger),
	}
}

func (c *config) distanceCalculator() elevation.DistanceCalculator {
	if c.Geodesic {
		return elevation.GeodesicDistance{}
	}
	return elevation.EarthDistance{}
}
