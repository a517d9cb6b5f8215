package cli

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the tpulower configuration file. Optional fields are pointers, so "not set" can be told
// apart from zero values. Values only apply to flags not explicitly set.
type Config struct {
	// Lowering
	Mode                  *string  `yaml:"mode"`
	Asymmetric            *bool    `yaml:"asymmetric"`
	BiasOverflowTolerance *float64 `yaml:"bias_overflow_tolerance"`
	CalibrationTable      string   `yaml:"calibration_table"`
	Prune                 *bool    `yaml:"prune"`

	// Evaluation
	Workers *int `yaml:"workers"`
}

// LoadConfig reads the configuration file at path. An empty path returns a zero Config.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config file")
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config file %q", path)
	}
	return cfg, nil
}

// applyLowerConfig applies config file defaults to the lower options, when the corresponding flag
// was not explicitly set.
func applyLowerConfig(cmd *cobra.Command, cfg Config, opts *lowerOptions) {
	flags := cmd.Flags()
	if cfg.Mode != nil && !flags.Changed("mode") {
		opts.mode = *cfg.Mode
	}
	if cfg.Asymmetric != nil && !flags.Changed("asymmetric") {
		opts.asymmetric = *cfg.Asymmetric
	}
	if cfg.BiasOverflowTolerance != nil && !flags.Changed("tolerance") {
		opts.tolerance = *cfg.BiasOverflowTolerance
	}
	if cfg.CalibrationTable != "" && !flags.Changed("calibration-table") {
		opts.calibrationTable = cfg.CalibrationTable
	}
	if cfg.Prune != nil && !flags.Changed("prune") {
		opts.prune = *cfg.Prune
	}
}

// applyEvalConfig applies config file defaults to the eval options.
func applyEvalConfig(cmd *cobra.Command, cfg Config, opts *evalOptions) {
	if cfg.Workers != nil && !cmd.Flags().Changed("workers") {
		opts.workers = *cfg.Workers
	}
}
