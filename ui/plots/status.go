// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"math"
	"os"

	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// RunStatus summarizes the progress of a training run, as seen from its run directory.
type RunStatus struct {
	Dir string

	// Points recorded so far. Empty if the points file doesn't exist yet.
	Points Points

	// Epochs recorded so far.
	Epochs int

	// TrainLoss and ValidationLoss of the last recorded epoch. NaN if there are none.
	TrainLoss, ValidationLoss float64

	// BestEpoch and BestValidationLoss recorded so far, -1 and NaN if there are none.
	BestEpoch          int
	BestValidationLoss float64

	// StopRequested is true if the STOP file was created.
	StopRequested bool

	// Finished is true once the training ended and its results were saved.
	Finished bool
}

// ReadRunStatus reads the status of the training in the run directory.
func ReadRunStatus(runDir string) (*RunStatus, error) {
	runDir = fsutil.MustReplaceTildeInDir(runDir)
	if info, err := os.Stat(runDir); err != nil {
		return nil, errors.Wrapf(err, "run directory %q", runDir)
	} else if !info.IsDir() {
		return nil, errors.Errorf("run directory %q is not a directory", runDir)
	}
	s := &RunStatus{
		Dir:                runDir,
		TrainLoss:          math.NaN(),
		ValidationLoss:     math.NaN(),
		BestEpoch:          -1,
		BestValidationLoss: math.NaN(),
		StopRequested:      checkpoints.StopRequested(runDir),
		Finished:           checkpoints.Finished(runDir),
	}

	rawPoints, err := LoadPointsFromRunDir(runDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s.Points = NewPoints(rawPoints)
	for _, step := range s.Points.Steps() {
		for _, pt := range s.Points[step] {
			switch pt.MetricName {
			case TrainLossName:
				s.TrainLoss = pt.Value
			case ValidationLossName:
				s.ValidationLoss = pt.Value
				s.Epochs = int(step) + 1
				if s.BestEpoch < 0 || pt.Value < s.BestValidationLoss {
					s.BestEpoch, s.BestValidationLoss = int(step), pt.Value
				}
			}
		}
	}
	return s, nil
}
