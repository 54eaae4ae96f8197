// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imednet_predict uses a trained network to predict the DMP of digit images, and integrates it to
// the trajectory that draws the digit.
//
// The inputs are image files given as arguments, and/or samples of a dataset (-data and -samples),
// in which case the original trajectory of the sample is used as target, or the trajectory of its
// DMP if the dataset has no trajectories. For each input it writes to
// the output directory the trajectory (CSV), its plot and the 40x40 network input (PNG).
//
// Example:
//
//	imednet_predict -run="~/models/imednet 2025-01-02 03:04:05.000000" -invert my_digit.png
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/imednet/pkg/dmp"
	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagRunDir  = flag.String("run", "", "Run directory with the trained network.")
	flagData    = flag.String("data", "", "Dataset (.mat or .npz) to take the -samples from.")
	flagSamples = flag.String("samples", "0", "Comma-separated indices of the -data samples to predict.")
	flagInvert  = flag.Bool("invert", false, "Invert the image files: use it for dark digits on a light background.")
	flagOutput  = flag.String("out", "", "Output directory. Defaults to the \"predictions\" sub-directory of -run.")
	flagTau     = flag.Float64("tau", 1, "Temporal scaling of the DMP integration.")
	flagDT      = flag.Float64("dt", 0.01, "Time step of the DMP integration.")
)

// PredictionsDir is the default output sub-directory of the run directory.
const PredictionsDir = "predictions"

// parseIndices parses a comma-separated list of non-negative integers.
func parseIndices(list string) ([]int, error) {
	var indices []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			return nil, errors.Errorf("invalid sample index %q", part)
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagRunDir == "" {
		klog.Errorf("Missing -run directory with the trained network. See 'imednet_predict -help'")
		os.Exit(1)
	}
	if flag.NArg() == 0 && *flagData == "" {
		klog.Errorf("Nothing to predict: give image files as arguments, or -data. See 'imednet_predict -help'")
		os.Exit(1)
	}
	err := exceptions.TryCatch[error](func() {
		runDir := fsutil.MustReplaceTildeInDir(*flagRunDir)
		outDir := *flagOutput
		if outDir == "" {
			outDir = filepath.Join(runDir, PredictionsDir)
		}
		opts := dmp.IntegrateOptions{Tau: *flagTau, DT: *flagDT}

		var samples []*sample
		for _, filePath := range flag.Args() {
			samples = append(samples, must.M1(loadImageSample(fsutil.MustReplaceTildeInDir(filePath), *flagInvert)))
		}
		if *flagData != "" {
			ds := must.M1(loadDataset(fsutil.MustReplaceTildeInDir(*flagData)))
			for _, idx := range must.M1(parseIndices(*flagSamples)) {
				samples = append(samples, must.M1(datasetSample(ds, idx, opts)))
			}
		}
		must.M(run(os.Stdout, runDir, outDir, samples, opts))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// run loads the network from runDir, predicts the samples and saves the results in outDir.
func run(w io.Writer, runDir, outDir string, samples []*sample, opts dmp.IntegrateOptions) error {
	ckpt, err := checkpoints.Load(runDir)
	if err != nil {
		return err
	}
	model, err := ckpt.Model()
	if err != nil {
		return err
	}
	klog.V(1).Infof("Loaded %s from %q", model, runDir)
	predictions, err := predict(model, samples, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, checkpoints.DirPermMode); err != nil {
		return errors.Wrapf(err, "creating output directory %q", outDir)
	}

	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		Headers("Input", "Start", "Goal", "End", "RMSE")
	for _, p := range predictions {
		if err := p.save(outDir); err != nil {
			return err
		}
		end := p.Trajectory[len(p.Trajectory)-1]
		rmse := "-"
		if !math.IsNaN(p.RMSE) {
			rmse = fmt.Sprintf("%.4g", p.RMSE)
		}
		table.Row(p.Sample.Name, formatPoint(p.Params.Y0), formatPoint(p.Params.Goal), formatPoint(end), rmse)
	}
	_, err = fmt.Fprintf(w, "%s\nResults saved in %q\n", table.Render(), outDir)
	return errors.Wrap(err, "writing results")
}

func formatPoint(pt [dmp.Dims]float64) string {
	return fmt.Sprintf("(%.3g, %.3g)", pt[0], pt[1])
}
