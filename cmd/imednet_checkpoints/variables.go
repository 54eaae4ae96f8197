// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/imednet/pkg/core/numpy"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// variableStats are the magnitudes reported for each variable.
type variableStats struct {
	MAV, RMS, MaxAV float64
}

func statsOf(array *numpy.Array) (s variableStats) {
	n := float64(len(array.Data))
	if n == 0 {
		return
	}
	s.MAV = floats.Norm(array.Data, 1) / n
	s.RMS = floats.Norm(array.Data, 2) / math.Sqrt(n)
	s.MaxAV = floats.Norm(array.Data, math.Inf(1))
	return
}

// listVariables prints the saved parameters of each run.
func listVariables(w io.Writer, runs []*runInfo, withGlossary bool) error {
	for _, r := range runs {
		params := r.Checkpoint.Parameters
		if _, err := fmt.Fprintln(w, titleStyle.Render("Variables: "+r.Name)); err != nil {
			return errors.Wrap(err, "writing variables")
		}
		if len(params) == 0 {
			if _, err := fmt.Fprintln(w, italicStyle.Render("  no saved parameters")); err != nil {
				return errors.Wrap(err, "writing variables")
			}
			continue
		}
		table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Right)
		table.Headers("Name", "Shape", "Size", "Bytes", "MAV", "RMS", "MaxAV")
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			array := params[name]
			stats := statsOf(array)
			table.Row(name, fmt.Sprintf("(%s) %v", array.DType, array.Shape),
				humanize.Comma(int64(array.Size())),
				humanize.Bytes(uint64(array.Size()*array.DType.Size())),
				fmt.Sprintf("%.3g", stats.MAV), fmt.Sprintf("%.3g", stats.RMS), fmt.Sprintf("%.3g", stats.MaxAV))
		}
		if _, err := fmt.Fprintln(w, table.Render()); err != nil {
			return errors.Wrap(err, "writing variables")
		}
	}
	if withGlossary {
		_, err := fmt.Fprintf(w, "  %s:\n   ◦ %s: %s\n   ◦ %s: %s\n   ◦ %s: %s\n",
			sectionStyle.Render("Glossary"),
			emphasisStyle.Render("MAV"), italicStyle.Render("Mean Absolute Value"),
			emphasisStyle.Render("RMS"), italicStyle.Render("Root Mean Square"),
			emphasisStyle.Render("MaxAV"), italicStyle.Render("Max Absolute Value"))
		return errors.Wrap(err, "writing glossary")
	}
	return nil
}

// listScale prints the output scaling of each run: the raw range of each DMP parameter.
func listScale(w io.Writer, runs []*runInfo) error {
	for _, r := range runs {
		scale := r.Checkpoint.Scale
		title := fmt.Sprintf("Scale: %s (to [%g, %g])", r.Name, scale.YMin, scale.YMax)
		if _, err := fmt.Fprintln(w, titleStyle.Render(title)); err != nil {
			return errors.Wrap(err, "writing scale")
		}
		table := newPlainTableWithReds(lipgloss.Right)
		table.Table.Headers("Feature", "XMin", "XMax")
		for j := range scale.Len() {
			// Constant features can't be normalized, they are highlighted.
			table.Row(scale.XMin[j] == scale.XMax[j], fmt.Sprint(j),
				fmt.Sprintf("%.6g", scale.XMin[j]), fmt.Sprintf("%.6g", scale.XMax[j]))
		}
		if _, err := fmt.Fprintln(w, table.Table.Render()); err != nil {
			return errors.Wrap(err, "writing scale")
		}
	}
	return nil
}
