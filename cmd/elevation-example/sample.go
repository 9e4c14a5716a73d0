package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	elevation "github.com/twpayne/go-routing-elevation"
)

func (a *app) newSampleCmd() *cobra.Command {
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Add elevation samples to a GeoJSON LineString",
		Args:  cobra.NoArgs,
		RunE:  a.runSample,
	}
	sampleCmd.Flags().Float64("max-distance", 100, "maximum segment distance in meters")
	sampleCmd.Flags().String("input", "-", "input file")
	return sampleCmd
}

func (a *app) runSample(cmd *cobra.Command, args []string) error {
	maxDistance, err := cmd.Flags().GetFloat64("max-distance")
	if err != nil {
		return err
	}
	input, err := cmd.Flags().GetString("input")
	if err != nil {
		return err
	}

	var data []byte
	if input == "-" {
		data, err = io.ReadAll(a.stdin)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return err
	}

	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return err
	}
	lineString, ok := g.(*geom.LineString)
	if !ok {
		return fmt.Errorf("%T: unsupported geometry", g)
	}

	cfg := newConfig(a.config)
	provider, err := cfg.newProvider(a.logger)
	if err != nil {
		return err
	}
	defer provider.Release()

	if lineString.Layout() == geom.XY {
		lineString, err = addElevations(lineString, provider)
		if err != nil {
			return err
		}
	}

	sampledLineString, err := elevation.SampleLineString(lineString, maxDistance, cfg.distanceCalculator(), provider)
	if err != nil {
		return err
	}
	a.logger.Debug("sampled", zap.Int("input", lineString.NumCoords()), zap.Int("output", sampledLineString.NumCoords()))

	output, err := geojson.Marshal(sampledLineString)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return err
}

// addElevations returns an XYZ copy of the XY lineString with elevations
// from provider.
func addElevations(lineString *geom.LineString, provider elevation.Provider) (*geom.LineString, error) {
	flatCoords := make([]float64, 0, 3*lineString.NumCoords())
	for i := range lineString.NumCoords() {
		coord := lineString.Coord(i)
		ele, err := provider.Elevation(coord.Y(), coord.X())
		if err != nil {
			return nil, err
		}
		flatCoords = append(flatCoords, coord.X(), coord.Y(), ele)
	}
	return geom.NewLineStringFlat(geom.XYZ, flatCoords).SetSRID(lineString.SRID()), nil
}
