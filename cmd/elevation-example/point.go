package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) newPointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "point latitude longitude",
		Short: "Print the elevation of a point",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runPoint,
	}
}

func (a *app) runPoint(cmd *cobra.Command, args []string) error {
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return err
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return err
	}

	provider, err := newConfig(a.config).newProvider(a.logger)
	if err != nil {
		return err
	}
	defer provider.Release()

	ele, err := provider.Elevation(lat, lon)
	if err != nil {
		return err
	}
	a.logger.Debug("elevation", zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Float64("ele", ele))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), ele)
	return err
}
