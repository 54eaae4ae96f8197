// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"path/filepath"

	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/pkg/ml/train"
	"k8s.io/klog/v2"
)

// Metric names recorded by the Recorder.
const (
	TrainLossName      = "Train loss"
	ValidationLossName = "Validation loss"
)

// Recorder collects the losses of every epoch of a training loop into the run directory points
// file, and renders them to PNG files every PlotFreq epochs.
//
// The points file is what the monitor and the GUI follow while training.
type Recorder struct {
	// Dir is the run directory.
	Dir string

	// PlotFreq is the number of epochs between PNG renderings. If <= 0 only the points are saved.
	PlotFreq int

	points    []Point
	writer    chan<- Point
	errReport <-chan error
}

// Attach creates a Recorder that saves plot points in runDir, and attaches it to the loop.
func Attach(loop *train.Loop, runDir string, plotFreq int) *Recorder {
	r := &Recorder{Dir: runDir, PlotFreq: plotFreq}
	r.writer, r.errReport = CreatePointsWriter(filepath.Join(runDir, TrainingPlotFileName))
	loop.OnEpoch("Plots", 100, r.onEpoch)
	train.EveryNEpochs(loop, plotFreq, "Plots PNG", 101, func(_ *train.Loop, _ train.EpochMetrics) error {
		r.render()
		return nil
	})
	loop.OnEnd("Plots", 100, r.onEnd)
	return r
}

// Points recorded so far.
func (r *Recorder) Points() Points {
	return NewPoints(r.points)
}

func (r *Recorder) add(point Point) {
	r.points = append(r.points, point)
	if r.writer != nil {
		r.writer <- point
	}
}

func (r *Recorder) onEpoch(_ *train.Loop, metrics train.EpochMetrics) error {
	step := float64(metrics.Epoch)
	r.add(Point{MetricName: TrainLossName, Short: "train", MetricType: MetricTypeLoss, Step: step, Value: metrics.TrainLoss})
	r.add(Point{MetricName: ValidationLossName, Short: "val", MetricType: MetricTypeLoss, Step: step, Value: metrics.ValidationLoss})
	return nil
}

// render the PNG plots. Failures are logged, a missing plot doesn't stop training.
func (r *Recorder) render() {
	if len(r.points) == 0 {
		return
	}
	if _, err := r.Points().SaveAllPNG(filepath.Join(r.Dir, checkpoints.PlotsDir)); err != nil {
		klog.Warningf("Failed to render plots: %+v", err)
	}
}

func (r *Recorder) onEnd(_ *train.Loop, _ *train.Result) error {
	if r.PlotFreq > 0 {
		r.render()
	}
	return r.Close()
}

// Close flushes and closes the points file. It is called automatically at the end of the
// training loop, and it is safe to call more than once.
func (r *Recorder) Close() error {
	if r.writer == nil {
		return nil
	}
	close(r.writer)
	r.writer = nil
	return <-r.errReport
}
