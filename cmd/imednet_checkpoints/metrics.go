// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/imednet/ui/plots"
	"github.com/pkg/errors"
)

// metricsFilter selects which metrics are reported. The zero value selects all metrics.
type metricsFilter struct {
	// Names matches the name or the short name of the metric.
	Names *regexp.Regexp
	// Types of the metrics to include, if not empty.
	Types map[string]bool
}

func newMetricsFilter(names, types string) (f metricsFilter, err error) {
	if names != "" {
		f.Names, err = regexp.Compile(names)
		if err != nil {
			return f, errors.Wrapf(err, "invalid metrics names matcher %q", names)
		}
	}
	if types != "" {
		f.Types = make(map[string]bool)
		for _, metricType := range strings.Split(types, ",") {
			f.Types[strings.TrimSpace(metricType)] = true
		}
	}
	return f, nil
}

func (f metricsFilter) match(p plots.Point) bool {
	if f.Names != nil && !f.Names.MatchString(p.MetricName) && !f.Names.MatchString(p.Short) {
		return false
	}
	if len(f.Types) > 0 && !f.Types[p.MetricType] {
		return false
	}
	return true
}

// filteredPoints returns the points of the run selected by the filter.
func filteredPoints(r *runInfo, filter metricsFilter) plots.Points {
	points := plots.NewPoints(r.Status.Points.Extract())
	points.Filter(filter.match)
	return points
}

// metrics prints the table of metrics of each run, one row per epoch.
func metrics(w io.Writer, runs []*runInfo, filter metricsFilter) error {
	for _, r := range runs {
		if _, err := fmt.Fprintln(w, titleStyle.Render("Metrics: "+r.Name)); err != nil {
			return errors.Wrap(err, "writing metrics")
		}
		points := filteredPoints(r, filter)
		text := points.TableForMetrics()
		if len(points.Steps()) == 0 {
			text = italicStyle.Render(fmt.Sprintf("  no metrics found in %q", plots.TrainingPlotFileName))
		}
		if _, err := fmt.Fprintln(w, text); err != nil {
			return errors.Wrap(err, "writing metrics")
		}
	}
	return nil
}

// metricsDataFrame converts the selected metrics of the runs to a data frame with the columns
// "run", "epoch" and one column per metric name. Missing values are NaN.
func metricsDataFrame(runs []*runInfo, filter metricsFilter) dataframe.DataFrame {
	var metricNames []string
	seen := make(map[string]bool)
	var runColumn []string
	var epochColumn []int
	values := make(map[string][]float64)
	pointsPerRun := make([]plots.Points, len(runs))
	for ii, r := range runs {
		pointsPerRun[ii] = filteredPoints(r, filter)
		for _, name := range pointsPerRun[ii].MetricsNames() {
			if !seen[name] {
				seen[name] = true
				metricNames = append(metricNames, name)
			}
		}
	}
	for ii, r := range runs {
		points := pointsPerRun[ii]
		for _, step := range points.Steps() {
			runColumn = append(runColumn, r.Name)
			epochColumn = append(epochColumn, int(step))
			row := make(map[string]float64)
			for _, p := range points[step] {
				row[p.MetricName] = p.Value
			}
			for _, name := range metricNames {
				v, found := row[name]
				if !found {
					v = math.NaN()
				}
				values[name] = append(values[name], v)
			}
		}
	}
	columns := []series.Series{
		series.New(runColumn, series.String, "run"),
		series.New(epochColumn, series.Int, "epoch"),
	}
	for _, name := range metricNames {
		columns = append(columns, series.New(values[name], series.Float, name))
	}
	return dataframe.New(columns...)
}

// exportCSV writes the selected metrics of the runs to filePath, in CSV format.
func exportCSV(filePath string, runs []*runInfo, filter metricsFilter) (err error) {
	df := metricsDataFrame(runs, filter)
	if df.Err != nil {
		return errors.Wrap(df.Err, "building metrics table")
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing %q", filePath)
		}
	}()
	return errors.Wrapf(df.WriteCSV(f), "writing %q", filePath)
}
