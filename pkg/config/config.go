// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of the training command: it is set from command-line
// flags, optionally on top of a TOML configuration file.
//
// Example of a configuration file:
//
//	data_path = "data/s-mnist/40x40-smnist.mat"
//	optimizer = "sgd"
//	learning_rate = 0.01
//	hidden_layer_sizes = [1500, 1300, 1000, 600, 200, 20, 35]
//
// Flags explicitly given on the command line take precedence over the file.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/imednet/pkg/ml/train"
	"github.com/gomlx/imednet/pkg/ml/train/optimizers"
	"github.com/gomlx/imednet/pkg/support/fsutil"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config of a training run. It is immutable after Resolve.
type Config struct {
	DataPath          string `toml:"data_path"`
	ModelSavePath     string `toml:"model_save_path"`
	ModelLoadPath     string `toml:"model_load_path"`
	LaunchTensorboard bool   `toml:"launch_tensorboard"`
	LaunchGUI         bool   `toml:"launch_gui"`
	PlotFreq          int    `toml:"plot_freq"`
	Device            int    `toml:"device"`

	BatchSize    int     `toml:"batch_size"`
	Optimizer    string  `toml:"optimizer"`
	LearningRate float64 `toml:"learning_rate"`
	Momentum     float64 `toml:"momentum"`

	// LRDecay and WeightDecay are unset when 0.
	LRDecay     float64 `toml:"lr_decay"`
	WeightDecay float64 `toml:"weight_decay"`

	ValFail          int   `toml:"val_fail"`
	HiddenLayerSizes []int `toml:"hidden_layer_sizes"`

	// Seed for initialization, dataset permutation and batch shuffling. 0 means a random seed.
	Seed uint64 `toml:"seed"`

	// ConfigFile is the TOML file the configuration was read from, if any.
	ConfigFile string `toml:"-"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataPath:         "data/s-mnist/40x40-smnist.mat",
		ModelSavePath:    "models/encoder_decoder/imednet-40x40-smnist",
		PlotFreq:         0,
		Device:           0,
		BatchSize:        100,
		Optimizer:        "adam",
		LearningRate:     0.001,
		Momentum:         0.5,
		ValFail:          60,
		HiddenLayerSizes: []int{1500, 1300, 1000, 600, 200, 20, 35},
	}
}

// intList implements flag.Value for a list of ints separated by spaces or commas.
type intList struct {
	values *[]int
}

// ParseIntList parses a list of ints separated by spaces and/or commas.
func ParseIntList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	values := make([]int, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid integer %q in list %q", field, s)
		}
		values = append(values, v)
	}
	return values, nil
}

func (l intList) String() string {
	if l.values == nil {
		return ""
	}
	parts := make([]string, len(*l.values))
	for ii, v := range *l.values {
		parts[ii] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

func (l intList) Set(s string) error {
	values, err := ParseIntList(s)
	if err != nil {
		return err
	}
	*l.values = values
	return nil
}

// RegisterFlags registers the training flags in fs, bound to the fields of cfg. The current values
// of cfg are the flag defaults.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.DataPath, "data-path", cfg.DataPath, "Path to the dataset file (.mat or .npz).")
	fs.StringVar(&cfg.ModelSavePath, "model-save-path", cfg.ModelSavePath,
		"Where to save the model. A timestamp is appended to create a new directory per run.")
	fs.StringVar(&cfg.ModelLoadPath, "model-load-path", cfg.ModelLoadPath,
		"Run directory from which to load parameters and the dataset permutation to resume training.")
	fs.BoolVar(&cfg.LaunchTensorboard, "launch-tensorboard", cfg.LaunchTensorboard,
		"Launch the training monitor (imednet_monitor) on the run directory.")
	fs.BoolVar(&cfg.LaunchGUI, "launch-gui", cfg.LaunchGUI, "Launch the training GUI (imednet_gui) on the run directory.")
	fs.IntVar(&cfg.PlotFreq, "plot-freq", cfg.PlotFreq, "Plot the losses every this many epochs. 0 disables plotting.")
	fs.IntVar(&cfg.Device, "device", cfg.Device, "Device number. Only the CPU is supported, other values are recorded and ignored.")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Batch size.")
	fs.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer,
		fmt.Sprintf("Optimizer, one of %v.", optimizers.Names()))
	fs.Float64Var(&cfg.LearningRate, "learning-rate", cfg.LearningRate, "Learning rate.")
	fs.Float64Var(&cfg.Momentum, "momentum", cfg.Momentum, "Momentum, used by sgd and rmsprop.")
	fs.Float64Var(&cfg.LRDecay, "lr-decay", cfg.LRDecay, "Learning rate decay, used by adagrad. 0 means unset.")
	fs.Float64Var(&cfg.WeightDecay, "weight-decay", cfg.WeightDecay, "Weight decay (L2 penalty). 0 means unset.")
	fs.IntVar(&cfg.ValFail, "val-fail", cfg.ValFail,
		"Stop training after this many epochs without improvement of the validation loss.")
	fs.Var(intList{&cfg.HiddenLayerSizes}, "hidden-layer-sizes",
		"Sizes of the hidden layers, separated by spaces or commas.")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed. 0 picks a random one.")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile,
		"TOML configuration file. Flags given explicitly take precedence over its values.")
}

// Resolve returns the configuration from args: defaults, then the TOML file given by --config (if
// any), then the flags explicitly set. The result is validated.
func Resolve(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()
	RegisterFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ConfigFile != "" {
		// Values of the flags given explicitly, to re-apply on top of the file.
		explicit := make(map[string]string)
		fs.Visit(func(f *flag.Flag) {
			if f.Name != "config" {
				explicit[f.Name] = f.Value.String()
			}
		})
		configFile, err := fsutil.ReplaceTildeInDir(cfg.ConfigFile)
		if err != nil {
			return cfg, err
		}
		fromFile := Default()
		if err := LoadFile(configFile, &fromFile); err != nil {
			return cfg, err
		}
		cfg = fromFile
		cfg.ConfigFile = configFile
		for name, value := range explicit {
			if err := fs.Set(name, value); err != nil {
				return cfg, errors.Wrapf(err, "re-applying flag --%s=%q", name, value)
			}
		}
	}
	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ExpandPaths replaces a leading "~" in the dataset and model paths by the user's home directory.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.DataPath, &c.ModelSavePath, &c.ModelLoadPath} {
		expanded, err := fsutil.ReplaceTildeInDir(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// LoadFile reads a TOML configuration file on top of cfg. Unknown keys are an error.
func LoadFile(filePath string, cfg *Config) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open configuration file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	return errors.WithMessagef(Decode(f, cfg), "configuration file %q", filePath)
}

// Decode reads a TOML configuration from r on top of cfg. Unknown keys are an error.
func Decode(r io.Reader, cfg *Config) error {
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return errors.Errorf("unknown configuration keys:\n%s", strictErr.String())
		}
		return errors.Wrap(err, "failed to parse TOML configuration")
	}
	return nil
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.DataPath == "" {
		return errors.New("data path is required")
	}
	if c.ModelSavePath == "" {
		return errors.New("model save path is required")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("invalid batch size %d", c.BatchSize)
	}
	if c.ValFail <= 0 {
		return errors.Errorf("invalid val-fail %d", c.ValFail)
	}
	if c.PlotFreq < 0 {
		return errors.Errorf("invalid plot frequency %d", c.PlotFreq)
	}
	if c.LearningRate < 0 {
		return errors.Errorf("invalid learning rate %g", c.LearningRate)
	}
	for ii, size := range c.HiddenLayerSizes {
		if size <= 0 {
			return errors.Errorf("invalid hidden layer #%d size %d", ii, size)
		}
	}
	if !slices.Contains(optimizers.Names(), strings.ToLower(c.Optimizer)) {
		return errors.Errorf("unknown optimizer %q, valid values are %v", c.Optimizer, optimizers.Names())
	}
	return nil
}

// OptimizerOptions returns the hyperparameters for optimizers.New.
func (c Config) OptimizerOptions() optimizers.Options {
	return optimizers.Options{
		LearningRate: c.LearningRate,
		Momentum:     c.Momentum,
		LRDecay:      c.LRDecay,
		WeightDecay:  c.WeightDecay,
	}
}

// TrainParams returns the training parameters: the configured batch size, val-fail and seed,
// with the fixed 0.7/0.15/0.15 split and unbounded epochs.
func (c Config) TrainParams() train.Params {
	params := train.DefaultParams()
	params.BatchSize = c.BatchSize
	params.ValFail = c.ValFail
	params.Seed = c.Seed
	return params
}
