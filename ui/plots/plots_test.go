// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/pkg/ml/models"
	"github.com/gomlx/imednet/pkg/ml/train"
	"github.com/gomlx/imednet/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"
)

func lossPoints(numEpochs int) []Point {
	var points []Point
	for epoch := range numEpochs {
		step := float64(epoch)
		points = append(points,
			Point{MetricName: TrainLossName, Short: "train", MetricType: MetricTypeLoss, Step: step, Value: 1 / (step + 1)},
			Point{MetricName: ValidationLossName, Short: "val", MetricType: MetricTypeLoss, Step: step, Value: 2 / (step + 1)})
	}
	return points
}

func TestPointsWriterAndLoad(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, TrainingPlotFileName)
	writer, errReport := CreatePointsWriter(filePath)
	for _, pt := range lossPoints(3) {
		writer <- pt
	}
	close(writer)
	require.NoError(t, <-errReport)

	// A second writer appends.
	writer, errReport = CreatePointsWriter(filePath)
	writer <- Point{MetricName: TrainLossName, MetricType: MetricTypeLoss, Step: 3, Value: 0.1}
	close(writer)
	require.NoError(t, <-errReport)

	raw, err := LoadPointsFromRunDir(dir)
	require.NoError(t, err)
	require.Len(t, raw, 7)
	assert.Equal(t, lossPoints(3), raw[:6])

	// Truncated trailing line is ignored.
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	raw, err = ReadPoints(bytes.NewReader(append(contents, []byte(`{"MetricName":"Tr`)...)))
	require.NoError(t, err)
	assert.Len(t, raw, 7)

	_, err = ReadPoints(strings.NewReader("not json"))
	require.Error(t, err)
	_, err = LoadPointsFromRunDir(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPointsUtilities(t *testing.T) {
	points := NewPoints(lossPoints(4))
	assert.Equal(t, []float64{0, 1, 2, 3}, points.Steps())
	assert.Equal(t, []string{TrainLossName, ValidationLossName}, points.MetricsNames())
	assert.Equal(t, []string{MetricTypeLoss}, points.MetricTypes())

	steps, values := points.Series(ValidationLossName)
	assert.Equal(t, []float64{0, 1, 2, 3}, steps)
	assert.Equal(t, []float64{2, 1, 2.0 / 3, 0.5}, values)

	last, found := points.Last(TrainLossName)
	require.True(t, found)
	assert.Equal(t, 3.0, last.Step)
	_, found = points.Last("accuracy")
	assert.False(t, found)

	table := points.String()
	assert.Contains(t, table, "Epoch")
	assert.Contains(t, table, ValidationLossName)
	assert.Contains(t, table, "0.666667")

	points.Filter(func(p Point) bool { return p.MetricName == TrainLossName && p.Step >= 2 })
	assert.Equal(t, []float64{2, 3}, points.Steps())
	assert.Len(t, points.Extract(), 2)
}

func TestRender(t *testing.T) {
	points := NewPoints(lossPoints(5))
	dir := filepath.Join(t.TempDir(), checkpoints.PlotsDir)

	files, err := points.SaveAllPNG(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "loss.png")}, files)
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	var buf bytes.Buffer
	require.NoError(t, points.RenderSVG(&buf, MetricTypeLoss, 640, 320))
	assert.Contains(t, buf.String(), "<svg")
	files, err = points.SaveAllSVG(dir, 640, 320)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "loss.svg")}, files)

	img, err := points.Image(MetricTypeLoss, 4*vg.Inch, 2*vg.Inch)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())

	require.ErrorIs(t, points.RenderSVG(&buf, "accuracy", 640, 320), ErrNoPoints)
	_, err = points.PlotForMetricType("accuracy")
	require.ErrorIs(t, err, ErrNoPoints)
}

func TestRecorder(t *testing.T) {
	var images, outputs [][]float64
	for i := range 20 {
		img := make([]float64, smnist.InputSize)
		img[i] = 1
		out := make([]float64, smnist.OutputSize)
		for j := range out {
			out[j] = float64(i * (j + 1))
		}
		images = append(images, img)
		outputs = append(outputs, out)
	}
	ds, err := smnist.New(images, outputs)
	require.NoError(t, err)
	model, err := models.NewEncoderDecoder(models.LayerSizes([]int{4}), ds.Scale)
	require.NoError(t, err)
	model.InitializeRandomly(1)

	params := train.DefaultParams()
	params.Epochs = 4
	params.BatchSize = 5
	trainer := train.NewTrainer(model, optimizers.StochasticGradientDescent().WithLearningRate(0.01).Done(), params)
	runDir := t.TempDir()
	recorder := Attach(trainer.Loop, runDir, 2)
	_, err = trainer.Train(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, recorder.Close())

	raw, err := LoadPointsFromRunDir(runDir)
	require.NoError(t, err)
	assert.Len(t, raw, 8)
	assert.Equal(t, recorder.Points().Extract(), NewPoints(raw).Extract())
	_, err = os.Stat(filepath.Join(runDir, checkpoints.PlotsDir, PNGFileName(MetricTypeLoss)))
	require.NoError(t, err)
}

func TestReadRunStatus(t *testing.T) {
	runDir := t.TempDir()
	s, err := ReadRunStatus(runDir)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Epochs)
	assert.Equal(t, -1, s.BestEpoch)
	assert.False(t, s.Finished)
	assert.False(t, s.StopRequested)

	writer, errReport := CreatePointsWriter(filepath.Join(runDir, TrainingPlotFileName))
	for ii, value := range []float64{3, 1, 2} {
		writer <- Point{MetricName: TrainLossName, MetricType: MetricTypeLoss, Step: float64(ii), Value: value / 2}
		writer <- Point{MetricName: ValidationLossName, MetricType: MetricTypeLoss, Step: float64(ii), Value: value}
	}
	close(writer)
	require.NoError(t, <-errReport)
	require.NoError(t, checkpoints.RequestStop(runDir))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, checkpoints.DescriptionFile),
		[]byte("Network created: now\n"+checkpoints.FinishedEntry+": val_fail"), 0o644))

	s, err = ReadRunStatus(runDir)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Epochs)
	assert.Equal(t, 1, s.BestEpoch)
	assert.Equal(t, 1.0, s.BestValidationLoss)
	assert.Equal(t, 2.0, s.ValidationLoss)
	assert.Equal(t, 1.0, s.TrainLoss)
	assert.True(t, s.StopRequested)
	assert.True(t, s.Finished)

	_, err = ReadRunStatus(filepath.Join(runDir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
