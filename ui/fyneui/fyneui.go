// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fyneui implements a simple GUI control panel for a training run, displayed by the
// imednet_gui program. It follows the run directory and shows:
//
// - Training progress: epochs, losses and the best validation loss so far.
// - The loss curves.
// - The run description.
//
// The "Stop training" button creates the STOP file in the run directory, which makes the training
// stop at the end of the current epoch, still saving the best parameters.
//
// How to use this:
//
//	a := app.New()
//	win := fyneui.NewWindow(a, runDir)
//	win.Start()
//	a.Run()
package fyneui

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"
	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"k8s.io/klog/v2"
)

// Window holds the Fyne window of the control panel for one run directory. Create it with NewWindow.
type Window struct {
	RunDir string

	Win          fyne.Window
	StatusText   *widget.Label
	StopButton   *widget.Button
	TrainingForm *widget.Form
	PlotImage    *canvas.Image
	Description  *widget.Label

	// UpdateFrequency is the polling period of the run directory.
	UpdateFrequency time.Duration

	startTime  time.Time
	lastEpochs int
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWindow creates and shows the control panel window for runDir.
func NewWindow(a fyne.App, runDir string) *Window {
	win := &Window{
		RunDir:          runDir,
		UpdateFrequency: time.Second,
		StatusText:      widget.NewLabel("Waiting for training to start"),
		PlotImage:       canvas.NewImageFromImage(nil),
		Description:     widget.NewLabel(""),
		startTime:       time.Now(),
		lastEpochs:      -1,
		done:            make(chan struct{}),
	}
	win.StatusText.Alignment = fyne.TextAlignCenter
	win.StatusText.TextStyle = fyne.TextStyle{Bold: true}
	win.StatusText.Importance = widget.HighImportance
	win.StopButton = widget.NewButton("Stop training", win.requestStop)
	win.StopButton.Importance = widget.DangerImportance
	win.PlotImage.FillMode = canvas.ImageFillContain
	win.PlotImage.SetMinSize(fyne.NewSize(640, 320))
	win.Description.Wrapping = fyne.TextWrapWord
	win.newTrainingForm()

	buttonStrip := container.NewHBox(layout.NewSpacer(), win.StopButton)
	top := container.NewVBox(
		widget.NewLabelWithStyle(filepath.Base(runDir), fyne.TextAlignCenter, fyne.TextStyle{Monospace: true}),
		win.StatusText,
		win.TrainingForm,
		buttonStrip,
		widget.NewSeparator(),
	)
	tabs := container.NewAppTabs(
		container.NewTabItem("Loss", win.PlotImage),
		container.NewTabItem("Description", container.NewVScroll(win.Description)),
	)
	w := a.NewWindow(fmt.Sprintf("imednet: %s", filepath.Base(runDir)))
	w.SetContent(container.NewBorder(top, nil, nil, nil, tabs))
	w.Resize(fyne.NewSize(720, 640))
	w.SetOnClosed(win.stopPolling)
	w.Show()
	win.Win = w
	return win
}

// requestStop creates the STOP file of the run directory.
func (win *Window) requestStop() {
	if err := checkpoints.RequestStop(win.RunDir); err != nil {
		klog.Errorf("Failed to request training to stop: %+v", err)
		win.StatusText.SetText("Failed to request stop, see logs")
		return
	}
	klog.Infof("Requested training in %q to stop", win.RunDir)
	win.StopButton.SetText("Stop requested")
	win.StopButton.Disable()
}

// Start polling the run directory for updates, in a separate goroutine.
func (win *Window) Start() {
	go win.updatesPolling()
}

func (win *Window) stopPolling() {
	win.closeOnce.Do(func() { close(win.done) })
}

// Close the window and stop polling.
func (win *Window) Close() {
	win.stopPolling()
	fyne.Do(win.Win.Close)
}

// readDescription returns the contents of the run description file, or an empty string.
func (win *Window) readDescription() string {
	contents, err := os.ReadFile(filepath.Join(win.RunDir, checkpoints.DescriptionFile))
	if err != nil {
		return ""
	}
	return string(contents)
}
