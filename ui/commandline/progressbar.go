// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/imednet/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// Output where the progress bar is drawn.
var Output io.Writer = os.Stdout

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "imednet.commandline.progressBar"

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// progressBar holds a progressbar being displayed.
type progressBar struct {
	bar *progressbar.ProgressBar

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	numLinesPrinted  int
	updates          chan train.EpochMetrics
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

func (pBar *progressBar) onStart(loop *train.Loop, split *train.Split) error {
	// -1 makes it a spinner, used when the number of epochs is not bounded.
	pBar.bar = progressbar.NewOptions(loop.MaxEpochs,
		progressbar.OptionSetDescription(fmt.Sprintf("      [bold]%s training samples", humanize.Comma(int64(len(split.Train))))),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("epochs"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(Output),
	)
	pBar.isFirstOutput = true
	pBar.updates = make(chan train.EpochMetrics, 100) // Large buffer so training is not blocked.
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates(loop)
	return nil
}

func (pBar *progressBar) onEpoch(_ *train.Loop, metrics train.EpochMetrics) error {
	pBar.updates <- metrics
	return nil
}

// drawUpdates asynchronously: training may be faster than the terminal.
func (pBar *progressBar) drawUpdates(loop *train.Loop) {
	defer pBar.asyncUpdatesDone.Done()
	for update := range pBar.updates {
		// Exhaust the updates in the buffer.
		amount := 1
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount++
				update = newUpdate
			default:
				break exhaust
			}
		}

		// Create the table to be printed.
		valFail := loop.Trainer.Params().ValFail
		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row("Epoch", humanize.Comma(int64(update.Epoch+1)))
		pBar.statsTable.Row("Median epoch duration", FormatDuration(loop.MedianEpochDuration()))
		pBar.statsTable.Row("Train loss", FormatLoss(update.TrainLoss))
		pBar.statsTable.Row("Validation loss", FormatLoss(update.ValidationLoss))
		pBar.statsTable.Row("Best validation loss", fmt.Sprintf("%s (epoch %d)",
			FormatLoss(update.BestValidationLoss), update.BestEpoch+1))
		pBar.statsTable.Row("Epochs without improvement", fmt.Sprintf("%d of %d", update.FailCount, valFail))
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
		}

		// Clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			pBar.termenv.CursorPrevLine(pBar.numLinesPrinted)
		}
		pBar.isFirstOutput = false
		rendered := pBar.statsStyle.Render(pBar.statsTable.String())
		_, _ = fmt.Fprintln(Output, rendered)
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprintln(Output)
		pBar.numLinesPrinted = lipgloss.Height(rendered) + 1
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

func (pBar *progressBar) onEnd(_ *train.Loop, _ *train.Result) error {
	if pBar.updates != nil {
		close(pBar.updates)
	}
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(Output)
	return nil
}

// AttachProgressBar creates a commandline progress bar and attaches it to the Loop, so that
// everytime Loop is run, it will display a progress bar with progression and metrics.
//
// The associated data will be attached to the train.Loop, so nothing is returned.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(loop *train.Loop, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		extraMetricFns: extraMetrics,
		termenv:        termenv.NewOutput(Output),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		statsTable:     newTable(),
	}
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	loop.OnEpoch(ProgressBarName, 0, pBar.onEpoch)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}
