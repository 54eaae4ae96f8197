// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 0, 0, 0)

// monitor renders the plots of a run directory as it progresses.
type monitor struct {
	RunDir              string
	Output              io.Writer
	LastRows            int
	SVGWidth, SVGHeight int

	// rendered is the number of epochs in the last rendering.
	rendered int
}

// refresh re-renders the plots if new epochs were recorded since the last refresh. It returns the
// current status of the run.
func (m *monitor) refresh() (*plots.RunStatus, error) {
	status, err := plots.ReadRunStatus(m.RunDir)
	if err != nil {
		return nil, err
	}
	if status.Epochs <= m.rendered {
		return status, nil
	}
	m.rendered = status.Epochs

	plotsDir := filepath.Join(m.RunDir, checkpoints.PlotsDir)
	if _, err = status.Points.SaveAllPNG(plotsDir); err != nil {
		return nil, err
	}
	if _, err = status.Points.SaveAllSVG(plotsDir, m.SVGWidth, m.SVGHeight); err != nil {
		return nil, err
	}

	// Print the most recent epochs.
	recent := plots.NewPoints(status.Points.Extract())
	if m.LastRows > 0 {
		steps := recent.Steps()
		if len(steps) > m.LastRows {
			first := steps[len(steps)-m.LastRows]
			recent.Filter(func(p plots.Point) bool { return p.Step >= first })
		}
	}
	title := fmt.Sprintf("%s: %d epochs, best validation loss %.6g at epoch %d",
		filepath.Base(m.RunDir), status.Epochs, status.BestValidationLoss, status.BestEpoch)
	_, err = fmt.Fprintf(m.Output, "%s\n%s\n", titleStyle.Render(title), recent.TableForMetrics())
	return status, errors.Wrap(err, "failed to print status")
}

// follow refreshes the plots whenever the points file changes, until the training finishes or ctx
// is cancelled. It also polls every pollPeriod, in case file events are missed.
func (m *monitor) follow(ctx context.Context, pollPeriod time.Duration) (err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	// The points file may not exist yet, so the directory is watched.
	if err = watcher.Add(m.RunDir); err != nil {
		return errors.Wrapf(err, "failed to watch run directory %q", m.RunDir)
	}
	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()

	for {
		status, err := m.refresh()
		if err != nil {
			return err
		}
		if status.Finished {
			klog.Infof("Training in %q finished", m.RunDir)
			return nil
		}
	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				name := filepath.Base(event.Name)
				if (name == plots.TrainingPlotFileName || name == checkpoints.DescriptionFile) &&
					(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					break wait
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				klog.Warningf("File watcher error: %v", err)
			case <-ticker.C:
				break wait
			}
		}
	}
}
