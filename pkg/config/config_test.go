// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(new(strings.Builder))
	return fs
}

func TestDefaults(t *testing.T) {
	cfg, err := Resolve(newFlagSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, "adam", cfg.Optimizer)
	assert.Equal(t, 0.001, cfg.LearningRate)
	assert.Equal(t, 0.5, cfg.Momentum)
	assert.Equal(t, 60, cfg.ValFail)
	assert.Equal(t, []int{1500, 1300, 1000, 600, 200, 20, 35}, cfg.HiddenLayerSizes)

	params := cfg.TrainParams()
	assert.Equal(t, -1, params.Epochs)
	assert.Equal(t, 0.7, params.TrainingRatio)
	assert.Equal(t, 0.15, params.ValidationRatio)
	assert.Equal(t, 0.15, params.TestRatio)
}

func TestFlags(t *testing.T) {
	cfg, err := Resolve(newFlagSet(), []string{
		"--batch-size=32", "--optimizer=sgd", "--learning-rate=0.1",
		"--hidden-layer-sizes", "100 50,20", "--plot-freq=5", "--launch-gui",
	})
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, "sgd", cfg.Optimizer)
	assert.Equal(t, 0.1, cfg.OptimizerOptions().LearningRate)
	assert.Equal(t, []int{100, 50, 20}, cfg.HiddenLayerSizes)
	assert.Equal(t, 5, cfg.PlotFreq)
	assert.True(t, cfg.LaunchGUI)

	cfg, err = Resolve(newFlagSet(), []string{"--hidden-layer-sizes="})
	require.NoError(t, err)
	assert.Empty(t, cfg.HiddenLayerSizes)

	for _, args := range [][]string{
		{"--batch-size=0"},
		{"--val-fail=-1"},
		{"--optimizer=lbfgs"},
		{"--hidden-layer-sizes=10 x"},
		{"--hidden-layer-sizes=10 0"},
		{"--learning-rate=-1"},
	} {
		_, err = Resolve(newFlagSet(), args)
		require.Error(t, err, "args %v", args)
	}
}

func TestConfigFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "train.toml")
	require.NoError(t, os.WriteFile(filePath, []byte(`
data_path = "data/other.npz"
optimizer = "rmsprop"
batch_size = 10
hidden_layer_sizes = [30, 20]
seed = 7
`), 0o644))

	cfg, err := Resolve(newFlagSet(), []string{"--config", filePath, "--batch-size=64"})
	require.NoError(t, err)
	assert.Equal(t, "data/other.npz", cfg.DataPath)
	assert.Equal(t, "rmsprop", cfg.Optimizer)
	assert.Equal(t, 64, cfg.BatchSize, "explicit flags take precedence over the file")
	assert.Equal(t, []int{30, 20}, cfg.HiddenLayerSizes)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, filePath, cfg.ConfigFile)
	assert.Equal(t, Default().ModelSavePath, cfg.ModelSavePath)

	unknown := filepath.Join(t.TempDir(), "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("epochs = 10\n"), 0o644))
	_, err = Resolve(newFlagSet(), []string{"--config", unknown})
	require.Error(t, err)

	_, err = Resolve(newFlagSet(), []string{"--config", filepath.Join(t.TempDir(), "missing.toml")})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestExpandPaths(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)
	cfg, err := Resolve(newFlagSet(), []string{
		"--data-path=~/data/smnist.mat", "--model-save-path=~/models/imednet",
		"--model-load-path=~/models/imednet 2025-01-02 03:04:05.000000",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "data/smnist.mat"), cfg.DataPath)
	assert.Equal(t, filepath.Join(usr.HomeDir, "models/imednet"), cfg.ModelSavePath)
	assert.Equal(t, filepath.Join(usr.HomeDir, "models/imednet 2025-01-02 03:04:05.000000"), cfg.ModelLoadPath)

	// Paths without a tilde are kept as given.
	cfg, err = Resolve(newFlagSet(), []string{"--model-load-path=runs/imednet"})
	require.NoError(t, err)
	assert.Equal(t, "runs/imednet", cfg.ModelLoadPath)
	assert.Equal(t, Default().DataPath, cfg.DataPath)
}
