package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type app struct {
	config      *viper.Viper
	logger      *zap.Logger
	closeLogger func() error
	stdin       io.Reader
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	a := &app{
		config:      viper.New(),
		logger:      zap.NewNop(),
		closeLogger: func() error { return nil },
		stdin:       stdin,
	}

	rootCmd := &cobra.Command{
		Use:               "elevation-example",
		Short:             "Look up terrain elevations and sample routes",
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.persistentPreRunE,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			_ = a.logger.Sync()
			return a.closeLogger()
		},
	}

	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.String("config", "", "YAML configuration file")
	persistentFlags.String("hgt-dir", "", "directory of SRTM HGT tiles")
	persistentFlags.Int("hgt-resolution", 1201, "samples per HGT tile side")
	persistentFlags.String("cgiar-dir", "", "directory of CGIAR SRTM GeoTIFF tiles")
	persistentFlags.String("gmted-dir", "", "directory of GMTED2010 GeoTIFF tiles")
	persistentFlags.String("eudem-dir", "", "directory of EU-DEM GeoTIFF tiles")
	persistentFlags.Bool("interpolate", false, "interpolate between samples")
	persistentFlags.Bool("geodesic", false, "measure distances on the WGS84 ellipsoid")
	persistentFlags.String("log-level", "info", "log level")
	persistentFlags.String("log-file", "", "log file")
	if err := a.config.BindPFlags(persistentFlags); err != nil {
		panic(err)
	}
	a.config.SetEnvPrefix("ELEVATION")
	a.config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.config.AutomaticEnv()

	rootCmd.AddCommand(
		a.newPointCmd(),
		a.newSampleCmd(),
		a.newConfigCmd(),
	)

	return rootCmd
}

func (a *app) persistentPreRunE(cmd *cobra.Command, args []string) error {
	if configFile := a.config.GetString("config"); configFile != "" {
		if err := a.readConfigFile(configFile); err != nil {
			return err
		}
	}
	logger, closeLogger, err := newLogger(a.config.GetString("log-level"), a.config.GetString("log-file"), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	a.closeLogger = closeLogger
	return nil
}

// readConfigFile merges the settings in configFile under any flags and
// environment variables.
func (a *app) readConfigFile(configFile string) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}
	var settings map[string]any
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("%s: %w", configFile, err)
	}
	return a.config.MergeConfigMap(settings)
}

func (a *app) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			if err := encoder.Encode(newConfig(a.config)); err != nil {
				return err
			}
			return encoder.Close()
		},
	}
}

func main() {
	if err := newRootCmd(os.Stdin).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
