// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"github.com/gomlx/imednet/pkg/core/numpy"
	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/gomlx/imednet/pkg/ml/models"
	"github.com/gomlx/imednet/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Checkpoint is the content of a run directory, as loaded by Load.
type Checkpoint struct {
	Dir          string
	Architecture *models.Architecture
	LayerSizes   []int
	Scale        *smnist.Scale

	// Parameters are nil if the run didn't save them (e.g. it was interrupted).
	Parameters models.StateDict

	// Indeks is nil if the run didn't save it.
	Indeks []int
}

// Load reads the run directory dir.
func Load(dir string) (*Checkpoint, error) {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint directory %q", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("checkpoint path %q is not a directory", dir)
	}
	c := &Checkpoint{Dir: dir}

	layerSizes, err := numpy.FromNpyFile(filepath.Join(dir, LayerSizesFile))
	if err != nil {
		return nil, errors.WithMessage(err, "loading layer sizes")
	}
	c.LayerSizes = layerSizes.Ints()
	if c.Scale, err = LoadScale(dir); err != nil {
		return nil, err
	}

	c.Architecture = &models.Architecture{Model: models.EncoderDecoderName, LayerSizes: slices.Clone(c.LayerSizes)}
	if exists, _ := fsutil.FileExists(filepath.Join(dir, ModelFile)); exists {
		if c.Architecture, err = LoadArchitecture(dir); err != nil {
			return nil, err
		}
		if !slices.Equal(c.Architecture.LayerSizes, c.LayerSizes) {
			return nil, errors.Errorf("checkpoint %q: model file layer sizes %v differ from %s %v",
				dir, c.Architecture.LayerSizes, LayerSizesFile, c.LayerSizes)
		}
	}

	if c.Parameters, err = LoadParameters(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if c.Indeks, err = LoadIndeks(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return c, nil
}

// Model builds the model of the checkpoint, with its parameters loaded.
func (c *Checkpoint) Model() (*models.EncoderDecoder, error) {
	if c.Parameters == nil {
		return nil, errors.Errorf("checkpoint %q has no saved parameters", c.Dir)
	}
	model, err := models.FromArchitecture(c.Architecture, c.Scale)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q", c.Dir)
	}
	if err := model.LoadStateDict(c.Parameters); err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q", c.Dir)
	}
	return model, nil
}

// LoadArchitecture reads the model file of the run directory dir.
func LoadArchitecture(dir string) (*models.Architecture, error) {
	filePath := filepath.Join(dir, ModelFile)
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model file %q", filePath)
	}
	arch := &models.Architecture{}
	if err := json.Unmarshal(contents, arch); err != nil {
		return nil, errors.Wrapf(err, "failed to parse model file %q", filePath)
	}
	return arch, nil
}

// LoadParameters reads the parameters saved in the run directory dir.
func LoadParameters(dir string) (models.StateDict, error) {
	arrays, err := numpy.FromNpzFile(filepath.Join(dir, ParametersFile))
	if err != nil {
		return nil, err
	}
	return arrays, nil
}

// LoadScale reads the scaling files of the run directory dir.
func LoadScale(dir string) (*smnist.Scale, error) {
	read := func(name string) (*numpy.Array, error) {
		array, err := numpy.FromNpyFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.WithMessage(err, "loading scale")
		}
		return array, nil
	}
	xMin, err := read(ScaleXMinFile)
	if err != nil {
		return nil, err
	}
	xMax, err := read(ScaleXMaxFile)
	if err != nil {
		return nil, err
	}
	yMin, err := read(ScaleYMinFile)
	if err != nil {
		return nil, err
	}
	yMax, err := read(ScaleYMaxFile)
	if err != nil {
		return nil, err
	}
	if yMin.Size() != 1 || yMax.Size() != 1 {
		return nil, errors.Errorf("scale y_min/y_max in %q must be scalars, got shapes %v and %v", dir, yMin.Shape, yMax.Shape)
	}
	scale := &smnist.Scale{XMin: xMin.Data, XMax: xMax.Data, YMin: yMin.Data[0], YMax: yMax.Data[0]}
	if err := scale.Validate(len(scale.XMin)); err != nil {
		return nil, errors.WithMessagef(err, "scale in %q", dir)
	}
	return scale, nil
}
