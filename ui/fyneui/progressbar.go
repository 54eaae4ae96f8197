// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fyneui

import (
	"fmt"
	"image"
	"time"

	"fyne.io/fyne/v2"
	"github.com/gomlx/imednet/ui/plots"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// This file has the methods related to following the progress of the training.

// updatesPolling reads the run directory status every window.UpdateFrequency, and updates the
// widgets. It exits when the window is closed.
//
// It's started in a separate goroutine by Start.
func (win *Window) updatesPolling() {
	for {
		win.update()
		timer := time.NewTimer(win.UpdateFrequency)
		select {
		case <-win.done:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// update reads the run status and refreshes the widgets. Plots are only re-rendered when new
// epochs were recorded.
func (win *Window) update() {
	status, err := plots.ReadRunStatus(win.RunDir)
	if err != nil {
		klog.Warningf("Failed to read run status: %+v", err)
		return
	}
	var plotImage image.Image
	if status.Epochs != win.lastEpochs {
		win.lastEpochs = status.Epochs
		if status.Epochs > 0 {
			plotImage, err = status.Points.Image(plots.MetricTypeLoss, 6*vg.Inch, 3*vg.Inch)
			if err != nil {
				klog.Warningf("Failed to render loss plot: %+v", err)
			}
		}
	}
	description := win.readDescription()
	fyne.Do(func() {
		win.StatusText.SetText(statusMessage(status))
		win.updateTrainingForm(status)
		if status.StopRequested || status.Finished {
			win.StopButton.Disable()
		}
		if plotImage != nil {
			win.PlotImage.Image = plotImage
			win.PlotImage.Refresh()
		}
		if description != win.Description.Text {
			win.Description.SetText(description)
		}
	})
}

// statusMessage is the headline of the window.
func statusMessage(status *plots.RunStatus) string {
	switch {
	case status.Finished:
		return fmt.Sprintf("Training finished after %d epochs", status.Epochs)
	case status.StopRequested:
		return fmt.Sprintf("Stop requested (%d epochs)", status.Epochs)
	case status.Epochs == 0:
		return "Waiting for training to start"
	default:
		return fmt.Sprintf("Training: epoch %d", status.Epochs)
	}
}
