// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/imednet/pkg/config"
	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/pkg/ml/models"
	"github.com/gomlx/imednet/pkg/ml/train"
	"github.com/gomlx/imednet/pkg/ml/train/optimizers"
	"github.com/gomlx/imednet/ui/commandline"
	"github.com/gomlx/imednet/ui/launcher"
	"github.com/gomlx/imednet/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// run holds the objects of one training run.
type run struct {
	cfg     config.Config
	dir     *checkpoints.RunDir
	model   *models.EncoderDecoder
	trainer *train.Trainer
	result  *train.Result
}

// formatInts formats a list like "[1600, 1500, 54]".
func formatInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// trainModel runs the whole training for the configuration: it creates the run directory, loads
// the data, creates (or loads) the model, trains it and saves the results.
func trainModel(ctx context.Context, cfg config.Config, params train.Params, now time.Time) (*run, error) {
	r := &run{cfg: cfg}
	var err error
	r.dir, err = checkpoints.CreateRunDir(cfg.ModelSavePath, now)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.dir.Close(); err != nil {
			klog.Errorf("Failed to close description: %+v", err)
		}
	}()
	ds, err := smnist.Load(cfg.DataPath)
	if err != nil {
		return nil, err
	}
	klog.Infof("Loaded %d samples from %q", ds.NumSamples(), cfg.DataPath)

	if err = r.createModel(ds); err != nil {
		return nil, err
	}
	if err = r.dir.SaveModelSetup(r.model); err != nil {
		return nil, err
	}
	if err = r.describe(params); err != nil {
		return nil, err
	}
	if cfg.Device != 0 {
		klog.Warningf("Device %d requested, but only the CPU is supported: training on the CPU", cfg.Device)
	}

	optimizer, err := optimizers.New(cfg.Optimizer, cfg.OptimizerOptions())
	if err != nil {
		return nil, err
	}
	r.trainer = train.NewTrainer(r.model, optimizer, params)
	r.trainer.StopRequestFn = r.dir.StopRequested
	if cfg.ModelLoadPath != "" {
		r.trainer.Indeks, err = checkpoints.LoadIndeks(cfg.ModelLoadPath)
		if err != nil {
			return nil, errors.WithMessagef(err, "loading the dataset permutation from %q", cfg.ModelLoadPath)
		}
	}
	r.attachHooks()

	r.result, err = r.trainer.Train(ctx, ds)
	if err != nil {
		return nil, err
	}
	if err = r.dir.SaveTrainingResult(r.result.BestParameters, r.result.Indeks); err != nil {
		return nil, err
	}
	if err = r.dir.MarkFinished("%s after %d epochs", r.result.StopReason, r.result.Epochs); err != nil {
		return nil, err
	}
	if err = commandline.ReportResult(commandline.Output, r.result, r.model.NumParameters()); err != nil {
		return nil, err
	}
	return r, nil
}

// describe writes the setup of the run to its description file.
func (r *run) describe(params train.Params) error {
	desc := r.dir.Description()
	type entry struct {
		format string
		arg    any
	}
	entries := []entry{
		{"\nModel: %s", models.EncoderDecoderName},
		{"\nData path: %s", r.cfg.DataPath},
		{"\nModel save path: %s", r.dir.Path},
	}
	if r.cfg.ModelLoadPath != "" {
		entries = append(entries, entry{"\nModel load path: %s", r.cfg.ModelLoadPath})
	}
	if r.cfg.ConfigFile != "" {
		entries = append(entries, entry{"\nConfiguration file: %s", r.cfg.ConfigFile})
	}
	entries = append(entries,
		entry{"\nLayer sizes: %s", formatInts(r.model.LayerSizes())},
		entry{"\nNumber of parameters: %d", r.model.NumParameters()},
		entry{"\nOptimizer: %s", r.cfg.Optimizer},
		entry{"\nLearning rate: %g", r.cfg.LearningRate},
		entry{"\nMomentum: %g", r.cfg.Momentum},
		entry{"\nLR decay: %g", r.cfg.LRDecay},
		entry{"\nWeight decay: %g", r.cfg.WeightDecay},
		entry{"\nBatch size: %d", params.BatchSize},
		entry{"\nVal fail: %d", params.ValFail},
		entry{"\nDevice: %d", r.cfg.Device},
		entry{"\nSeed: %d", params.Seed},
	)
	for _, e := range entries {
		if err := desc.Writef(e.format, e.arg); err != nil {
			return err
		}
	}
	return nil
}

// createModel creates the model for the data scale, and loads its parameters from the load path
// or initializes them randomly.
func (r *run) createModel(ds *smnist.Dataset) error {
	var err error
	r.model, err = models.NewEncoderDecoder(models.LayerSizes(r.cfg.HiddenLayerSizes), ds.Scale)
	if err != nil {
		return err
	}
	if r.cfg.ModelLoadPath != "" {
		params, err := checkpoints.LoadParameters(r.cfg.ModelLoadPath)
		if err != nil {
			return err
		}
		if err = r.model.LoadStateDict(params); err != nil {
			return errors.WithMessagef(err, "loading parameters from %q", r.cfg.ModelLoadPath)
		}
		klog.Infof(" + Loaded parameters from file: %s", r.cfg.ModelLoadPath)
		return nil
	}
	r.model.InitializeRandomly(r.cfg.Seed)
	klog.Infof(" + Initialized parameters randomly")
	return nil
}

// attachHooks attaches the progress bar, the plots and the saving of the best parameters to the
// training loop, and launches the monitor and the GUI if requested.
func (r *run) attachHooks() {
	loop := r.trainer.Loop
	commandline.AttachProgressBar(loop)

	// The dataset permutation is saved as soon as it's known, and the best parameters at every
	// improvement, so an interrupted run can still be resumed.
	loop.OnStart("Save indeks", 200, func(_ *train.Loop, _ *train.Split) error {
		return checkpoints.SaveIndeks(r.dir.File(checkpoints.IndeksFile), r.trainer.Indeks)
	})
	train.OnImprovement(loop, "Save best parameters", 200, func(_ *train.Loop, _ train.EpochMetrics) error {
		return r.dir.SaveParameters(r.model.StateDict())
	})
	loop.OnEnd("Description", 200, func(_ *train.Loop, result *train.Result) error {
		return r.dir.Description().Writef(
			"\nEpochs: %d\nBest epoch: %d\nBest validation loss: %g\nTest loss: %g\nStop reason: %s\nTraining time: %s",
			result.Epochs, result.BestEpoch, result.BestValidationLoss, result.TestLoss, result.StopReason,
			result.Duration.Round(time.Millisecond))
	})

	if r.cfg.PlotFreq > 0 || r.cfg.LaunchTensorboard || r.cfg.LaunchGUI {
		plots.Attach(loop, r.dir.Path, r.cfg.PlotFreq)
	}
	if r.cfg.LaunchTensorboard {
		if _, err := launcher.LaunchMonitor(r.dir.Path); err != nil {
			klog.Warningf("Failed to launch the monitor: %+v", err)
		}
	}
	if r.cfg.LaunchGUI {
		if !launcher.HasWindows() {
			klog.Warningf("No display available, the GUI may fail to start")
		}
		if _, err := launcher.LaunchGUI(r.dir.Path); err != nil {
			klog.Warningf("Failed to launch the GUI: %+v", err)
		}
	}
}
