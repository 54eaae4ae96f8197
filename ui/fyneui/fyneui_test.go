// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fyneui

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"fyne.io/fyne/v2/test"
	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/ui/plots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Waiting for training to start", statusMessage(&plots.RunStatus{}))
	assert.Equal(t, "Training: epoch 3", statusMessage(&plots.RunStatus{Epochs: 3}))
	assert.Equal(t, "Stop requested (3 epochs)", statusMessage(&plots.RunStatus{Epochs: 3, StopRequested: true}))
	assert.Equal(t, "Training finished after 4 epochs",
		statusMessage(&plots.RunStatus{Epochs: 4, StopRequested: true, Finished: true}))
	assert.Equal(t, " - ", formatLoss(math.NaN()))
	assert.Equal(t, "0.25", formatLoss(0.25))
}

func TestWindowStop(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(runDir, checkpoints.DescriptionFile), []byte("Network created"), 0o644))
	a := test.NewApp()
	defer a.Quit()

	win := NewWindow(a, runDir)
	win.update()
	assert.Equal(t, "Waiting for training to start", win.StatusText.Text)
	assert.Equal(t, "Network created", win.Description.Text)

	test.Tap(win.StopButton)
	assert.True(t, checkpoints.StopRequested(runDir))
	assert.True(t, win.StopButton.Disabled())
	win.Close()
}
