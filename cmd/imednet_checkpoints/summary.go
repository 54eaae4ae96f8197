// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/ui/plots"
	"github.com/pkg/errors"
)

// runInfo is what is loaded from each run directory for the reports.
type runInfo struct {
	Name       string
	Checkpoint *checkpoints.Checkpoint
	Status     *plots.RunStatus
	// Entries of the description file, by key.
	Entries map[string]string
}

func loadRuns(dirs []string) ([]*runInfo, error) {
	names := minimalUniqueNames(dirs...)
	runs := make([]*runInfo, len(dirs))
	for ii, dir := range dirs {
		ckpt, err := checkpoints.Load(dir)
		if err != nil {
			return nil, err
		}
		status, err := plots.ReadRunStatus(ckpt.Dir)
		if err != nil {
			return nil, err
		}
		entries, err := readDescriptionEntries(ckpt.Dir)
		if err != nil {
			return nil, err
		}
		runs[ii] = &runInfo{Name: names[ii], Checkpoint: ckpt, Status: status, Entries: entries}
	}
	return runs, nil
}

// readDescriptionEntries parses the "Key: value" lines of the description of a run. Repeated keys
// keep the last value. A missing description yields no entries.
func readDescriptionEntries(dir string) (map[string]string, error) {
	entries := make(map[string]string)
	contents, err := os.ReadFile(filepath.Join(dir, checkpoints.DescriptionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entries, nil
		}
		return nil, errors.Wrapf(err, "reading description of %q", dir)
	}
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ": ")
		if found && key != "" {
			entries[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return entries, errors.Wrapf(scanner.Err(), "parsing description of %q", dir)
}

// statusOf returns a one-word status of the run.
func statusOf(status *plots.RunStatus) string {
	switch {
	case status.Finished:
		return "finished"
	case status.StopRequested:
		return "stopping"
	default:
		return "running"
	}
}

// summary prints one column per run, rows that differ across runs are highlighted.
func summary(w io.Writer, runs []*runInfo) error {
	if _, err := fmt.Fprintln(w, titleStyle.Render("Summary")); err != nil {
		return errors.Wrap(err, "writing summary")
	}
	table := newPlainTableWithReds(lipgloss.Right, lipgloss.Left)
	addRow := func(name string, valueFn func(r *runInfo) string) {
		row := make([]string, len(runs))
		for ii, r := range runs {
			row[ii] = valueFn(r)
		}
		table.Row(len(runs) > 1 && !isAllEqual(row), append([]string{name}, row...)...)
	}
	addRow("run", func(r *runInfo) string { return r.Name })
	addRow("run id", func(r *runInfo) string { return r.Entries["Run ID"] })
	addRow("created", func(r *runInfo) string { return r.Entries["Network created"] })
	addRow("status", func(r *runInfo) string { return statusOf(r.Status) })
	addRow("layer sizes", func(r *runInfo) string { return fmt.Sprint(r.Checkpoint.LayerSizes) })
	addRow("# variables", func(r *runInfo) string {
		return humanize.Comma(int64(len(r.Checkpoint.Parameters)))
	})
	addRow("# parameters", func(r *runInfo) string {
		var size int
		for _, array := range r.Checkpoint.Parameters {
			size += array.Size()
		}
		return humanize.Comma(int64(size))
	})
	addRow("# bytes", func(r *runInfo) string {
		var memory int
		for _, array := range r.Checkpoint.Parameters {
			memory += array.Size() * array.DType.Size()
		}
		return humanize.Bytes(uint64(memory))
	})
	addRow("epochs", func(r *runInfo) string { return humanize.Comma(int64(r.Status.Epochs)) })
	addRow("best epoch", func(r *runInfo) string {
		if r.Status.BestEpoch < 0 {
			return "-"
		}
		return humanize.Comma(int64(r.Status.BestEpoch))
	})
	addRow("best validation loss", func(r *runInfo) string { return formatFloat(r.Status.BestValidationLoss) })
	addRow("test loss", func(r *runInfo) string { return r.Entries["Test loss"] })
	addRow("stop reason", func(r *runInfo) string { return r.Entries["Stop reason"] })
	_, err := fmt.Fprintln(w, table.Table.Render())
	return errors.Wrap(err, "writing summary")
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.6g", v)
}
