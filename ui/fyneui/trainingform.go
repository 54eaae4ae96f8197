// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fyneui

import (
	"fmt"
	"math"
	"time"

	"fyne.io/fyne/v2/widget"
	"github.com/gomlx/imednet/ui/plots"
)

// TrainingForm holds running information about the training: epochs, elapsed time and losses.

// Rows of the training form.
const (
	rowEpochs = iota
	rowElapsed
	rowTrainLoss
	rowValidationLoss
	rowBest
)

func (win *Window) newTrainingForm() {
	win.TrainingForm = widget.NewForm(
		widget.NewFormItem("Epochs", widget.NewRichTextWithText(" - ")),
		widget.NewFormItem("Watching for", widget.NewRichTextWithText(" - ")),
		widget.NewFormItem("Train loss", widget.NewRichTextWithText(" - ")),
		widget.NewFormItem("Validation loss", widget.NewRichTextWithText(" - ")),
		widget.NewFormItem("Best validation loss", widget.NewRichTextWithText(" - ")),
	)
}

func formatLoss(loss float64) string {
	if math.IsNaN(loss) {
		return " - "
	}
	return fmt.Sprintf("%.6g", loss)
}

func (win *Window) updateTrainingForm(status *plots.RunStatus) {
	rowAt := func(idx int) *widget.RichText {
		return win.TrainingForm.Items[idx].Widget.(*widget.RichText)
	}
	rowAt(rowEpochs).ParseMarkdown(fmt.Sprintf("%d", status.Epochs))
	rowAt(rowElapsed).ParseMarkdown(time.Since(win.startTime).Round(time.Second).String())
	rowAt(rowTrainLoss).ParseMarkdown(formatLoss(status.TrainLoss))
	rowAt(rowValidationLoss).ParseMarkdown(formatLoss(status.ValidationLoss))
	if status.BestEpoch >= 0 {
		rowAt(rowBest).ParseMarkdown(fmt.Sprintf("%s (epoch %d)", formatLoss(status.BestValidationLoss), status.BestEpoch))
	}
}
