// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/imednet/pkg/ml/train"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// newTable returns a table styled for metrics: right-aligned names on the first column.
func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

// FormatDuration pretty prints duration with at most two decimal places.
func FormatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fµs", float64(d)/float64(time.Microsecond))
	}
}

// FormatLoss pretty prints a loss value.
func FormatLoss(loss float64) string {
	if math.IsNaN(loss) {
		return "n/a"
	}
	return fmt.Sprintf("%.6g", loss)
}

// ReportResult writes a summary of a training result to w.
func ReportResult(w io.Writer, result *train.Result, numParameters int) error {
	table := newTable().
		Row("Stop reason", string(result.StopReason)).
		Row("Epochs", humanize.Comma(int64(result.Epochs))).
		Row("Best epoch", humanize.Comma(int64(result.BestEpoch))).
		Row("Best validation loss", FormatLoss(result.BestValidationLoss)).
		Row("Test loss", FormatLoss(result.TestLoss)).
		Row("Parameters", humanize.Comma(int64(numParameters))).
		Row("Training time", FormatDuration(result.Duration))
	_, err := fmt.Fprintln(w, table.String())
	return err
}
