// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements the run directory of a training: a new timestamped directory per
// run, holding the model architecture, the data scaling, the best parameters, the resumption index
// (the dataset permutation) and a human-readable description of the run.
//
// File names and formats are the ones used by the PyTorch imednet scripts, so run directories can be
// inspected with NumPy:
//
//   - network_description.txt: free text, written as the run progresses.
//   - model.pt: the architecture, in JSON.
//   - net_parameters: a NumPy .npz archive with the best parameters, by variable name.
//   - net_indeks.npy, layer_sizes.npy: int64 vectors.
//   - scale_x_min.npy, scale_x_max.npy, scale_y_min.npy, scale_y_max.npy: the output scaling.
//
// Example:
//
//	runDir, err := checkpoints.CreateRunDir(*flagModelSavePath, time.Now())
//	...
//	_ = runDir.Description().Writef("\nModel: %s", model)
//	err = runDir.SaveModelSetup(model)
//	...
//	result, err := trainer.Train(ctx, ds)
//	...
//	err = runDir.SaveTrainingResult(result.BestParameters, result.Indeks)
package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/imednet/pkg/core/numpy"
	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/gomlx/imednet/pkg/ml/models"
	"github.com/gomlx/imednet/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the files in a run directory.
const (
	DescriptionFile = "network_description.txt"
	ModelFile       = "model.pt"
	ParametersFile  = "net_parameters"
	IndeksFile      = "net_indeks.npy"
	LayerSizesFile  = "layer_sizes.npy"
	ScaleXMinFile   = "scale_x_min.npy"
	ScaleXMaxFile   = "scale_x_max.npy"
	ScaleYMinFile   = "scale_y_min.npy"
	ScaleYMaxFile   = "scale_y_max.npy"

	// PlotPointsFile holds the training metrics, one JSON object per line. Only written when
	// plotting or monitoring is enabled.
	PlotPointsFile = "training_plot_points.json"

	// PlotsDir holds the rendered plots. Only created when plotting or monitoring is enabled.
	PlotsDir = "plots"

	// StopFile requests a running training to stop when it is created in the run directory.
	StopFile = "STOP"

	// FinishedEntry starts the last entry of the description of a run whose training ended.
	FinishedEntry = "Training finished"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)

	// TimestampLayout is appended (after a space) to the save path to name a run directory.
	TimestampLayout = "2006-01-02 15:04:05.000000"
)

// RunDir is the directory of one training run.
type RunDir struct {
	// Path of the directory.
	Path string

	// CreatedAt is the timestamp used in the directory name.
	CreatedAt time.Time

	// RunID is a random identifier of the run, recorded in the description.
	RunID string

	description *Description
}

// RunDirPath returns the run directory name for savePath at time now.
func RunDirPath(savePath string, now time.Time) string {
	return savePath + " " + now.Format(TimestampLayout)
}

// CreateRunDir creates the run directory "<savePath> <timestamp>", including missing parents, and
// starts its description file. It fails if the directory already exists.
func CreateRunDir(savePath string, now time.Time) (*RunDir, error) {
	if savePath == "" {
		return nil, errors.New("empty model save path")
	}
	savePath, err := fsutil.ReplaceTildeInDir(savePath)
	if err != nil {
		return nil, err
	}
	rd := &RunDir{
		Path:      RunDirPath(savePath, now),
		CreatedAt: now,
		RunID:     uuid.NewString(),
	}
	if err := fsutil.CreateNewDir(rd.Path, DirPermMode); err != nil {
		return nil, errors.WithMessage(err, "creating run directory")
	}
	rd.description, err = startDescription(rd.File(DescriptionFile), now, rd.RunID)
	if err != nil {
		return nil, err
	}
	klog.Infof("Created run directory %q", rd.Path)
	return rd, nil
}

// File returns the path of the given file name within the run directory.
func (rd *RunDir) File(name string) string {
	return filepath.Join(rd.Path, name)
}

// Description file of the run.
func (rd *RunDir) Description() *Description {
	return rd.description
}

// Close the description file.
func (rd *RunDir) Close() error {
	return rd.description.Close()
}

// SaveModelSetup saves what is known before training: the architecture, the layer sizes and the
// output scaling.
func (rd *RunDir) SaveModelSetup(model *models.EncoderDecoder) error {
	if err := rd.SaveArchitecture(model.Architecture()); err != nil {
		return err
	}
	if err := numpy.ToNpyFile(numpy.FromInts(model.LayerSizes()), rd.File(LayerSizesFile)); err != nil {
		return err
	}
	return rd.SaveScale(model.Scale())
}

// SaveTrainingResult saves the best parameters and the resumption index.
func (rd *RunDir) SaveTrainingResult(params models.StateDict, indeks []int) error {
	if err := SaveIndeks(rd.File(IndeksFile), indeks); err != nil {
		return err
	}
	return rd.SaveParameters(params)
}

// SaveArchitecture writes the model file.
func (rd *RunDir) SaveArchitecture(arch *models.Architecture) error {
	filePath := rd.File(ModelFile)
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create model file %q", filePath)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	if err = enc.Encode(arch); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write model file %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close model file %q", filePath)
}

// SaveScale writes the four scaling files.
func (rd *RunDir) SaveScale(scale *smnist.Scale) error {
	arrays := []struct {
		name  string
		array *numpy.Array
	}{
		{ScaleXMinFile, numpy.New(numpy.Float64, slices.Clone(scale.XMin), len(scale.XMin))},
		{ScaleXMaxFile, numpy.New(numpy.Float64, slices.Clone(scale.XMax), len(scale.XMax))},
		{ScaleYMinFile, numpy.Scalar(scale.YMin)},
		{ScaleYMaxFile, numpy.Scalar(scale.YMax)},
	}
	for _, entry := range arrays {
		if err := numpy.ToNpyFile(entry.array, rd.File(entry.name)); err != nil {
			return errors.WithMessage(err, "saving scale")
		}
	}
	return nil
}

// SaveParameters writes the parameters file. It writes to a temporary file first, so a
// previous version is never left truncated.
func (rd *RunDir) SaveParameters(params models.StateDict) error {
	filePath := rd.File(ParametersFile)
	tmpPath := filePath + ".tmp"
	if err := numpy.ToNpzFile(params, tmpPath); err != nil {
		return errors.WithMessage(err, "saving parameters")
	}
	return errors.Wrapf(os.Rename(tmpPath, filePath), "failed to rename %q to %q", tmpPath, filePath)
}

// SaveIndeks writes the resumption index to filePath.
func SaveIndeks(filePath string, indeks []int) error {
	return numpy.ToNpyFile(numpy.FromInts(indeks), filePath)
}

// LoadIndeks reads the resumption index from a run directory.
func LoadIndeks(dir string) ([]int, error) {
	array, err := numpy.FromNpyFile(filepath.Join(dir, IndeksFile))
	if err != nil {
		return nil, err
	}
	if array.Rank() != 1 {
		return nil, errors.Errorf("indeks in %q has shape %v, expected a vector", dir, array.Shape)
	}
	return array.Ints(), nil
}

// MarkFinished appends the final entry to the description, after the training results were saved.
func (rd *RunDir) MarkFinished(format string, args ...any) error {
	return rd.description.Writef("\n"+FinishedEntry+": "+format, args...)
}

// Finished returns whether the training of the run directory dir ended, that is, whether its
// description has the entry written by MarkFinished.
func Finished(dir string) bool {
	contents, err := os.ReadFile(filepath.Join(dir, DescriptionFile))
	if err != nil {
		return false
	}
	return strings.Contains(string(contents), "\n"+FinishedEntry+": ")
}

// RequestStop creates the stop request file.
func (rd *RunDir) RequestStop() error {
	return RequestStop(rd.Path)
}

// StopRequested returns whether the stop request file exists.
func (rd *RunDir) StopRequested() bool {
	return StopRequested(rd.Path)
}

// RequestStop creates the stop request file in the run directory dir.
func RequestStop(dir string) error {
	filePath := filepath.Join(dir, StopFile)
	return errors.Wrapf(os.WriteFile(filePath, nil, 0o644), "failed to create stop request %q", filePath)
}

// StopRequested returns whether the stop request file exists in the run directory dir.
// Errors checking for it are logged and reported as no request.
func StopRequested(dir string) bool {
	exists, err := fsutil.FileExists(filepath.Join(dir, StopFile))
	if err != nil {
		klog.Warningf("Failed to check for stop request in %q: %v", dir, err)
		return false
	}
	return exists
}
