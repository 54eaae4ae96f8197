// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Palette used for the series of the PNG plots, cycled through in metric name order.
var Palette = []color.Color{
	color.RGBA{R: 20, G: 80, B: 200, A: 255},
	color.RGBA{R: 200, G: 30, B: 30, A: 255},
	color.RGBA{R: 40, G: 140, B: 40, A: 255},
	color.RGBA{R: 150, G: 60, B: 170, A: 255},
}

// ErrNoPoints is returned when asked to render a metric type without any points.
var ErrNoPoints = errors.New("no plot points")

// PNGFileName returns the name of the PNG file used for the metric type.
func PNGFileName(metricType string) string {
	return metricType + ".png"
}

// SVGFileName returns the name of the SVG file used for the metric type.
func SVGFileName(metricType string) string {
	return metricType + ".svg"
}

// namesOfType returns the metric names of the given type.
func (points Points) namesOfType(metricType string) []string {
	var names []string
	for _, name := range points.MetricsNames() {
		if pt, _ := points.Last(name); pt.MetricType == metricType {
			names = append(names, name)
		}
	}
	return names
}

// PlotForMetricType creates a gonum plot with one line per metric of the given type.
func (points Points) PlotForMetricType(metricType string) (*plot.Plot, error) {
	names := points.namesOfType(metricType)
	if len(names) == 0 {
		return nil, errors.Wrapf(ErrNoPoints, "metric type %q", metricType)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s metrics", metricType)
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = metricType
	p.Add(plotter.NewGrid())
	for ii, name := range names {
		steps, values := points.Series(name)
		xys := make(plotter.XYs, len(steps))
		for jj := range steps {
			xys[jj] = plotter.XY{X: steps[jj], Y: values[jj]}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create line for %q", name)
		}
		line.Color = Palette[ii%len(Palette)]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	return p, nil
}

// SavePNG renders the metrics of the given type to a PNG file.
func (points Points) SavePNG(metricType, filePath string, width, height vg.Length) error {
	p, err := points.PlotForMetricType(metricType)
	if err != nil {
		return err
	}
	if err = p.Save(width, height, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	return nil
}

// Image renders the metrics of the given type to an in-memory image, e.g. to display in a GUI.
func (points Points) Image(metricType string, width, height vg.Length) (image.Image, error) {
	p, err := points.PlotForMetricType(metricType)
	if err != nil {
		return nil, err
	}
	canvas := vgimg.New(width, height)
	p.Draw(draw.New(canvas))
	return canvas.Image(), nil
}

// SaveAllPNG renders one PNG file per metric type into dir, creating it if needed.
// It returns the paths of the files written.
func (points Points) SaveAllPNG(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, errors.Wrapf(err, "failed to create plots directory %q", dir)
	}
	var files []string
	for _, metricType := range points.MetricTypes() {
		filePath := filepath.Join(dir, PNGFileName(metricType))
		if err := points.SavePNG(metricType, filePath, 8*vg.Inch, 4*vg.Inch); err != nil {
			return files, err
		}
		files = append(files, filePath)
	}
	return files, nil
}

// RenderSVG renders the metrics of the given type as an SVG diagram, using margaid.
func (points Points) RenderSVG(w io.Writer, metricType string, width, height int) error {
	names := points.namesOfType(metricType)
	if len(names) == 0 {
		return errors.Wrapf(ErrNoPoints, "metric type %q", metricType)
	}
	allSeries := make([]*mg.Series, 0, len(names))
	allPoints := mg.NewSeries()
	for _, name := range names {
		s := mg.NewSeries(mg.Titled(name))
		steps, values := points.Series(name)
		for ii := range steps {
			v := mg.MakeValue(steps[ii], values[ii])
			s.Add(v)
			allPoints.Add(v)
		}
		allSeries = append(allSeries, s)
	}
	diagram := mg.New(width, height,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epoch")
	diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('g', 3, 10), true, metricType)
	diagram.Frame()
	diagram.Title(fmt.Sprintf("%s metrics", metricType))
	diagram.Legend(mg.BottomLeft)
	if err := diagram.Render(w); err != nil {
		return errors.Wrapf(err, "failed to render plot for %q", metricType)
	}
	return nil
}

// SaveAllSVG renders one SVG file per metric type into dir, creating it if needed.
func (points Points) SaveAllSVG(dir string, width, height int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, errors.Wrapf(err, "failed to create plots directory %q", dir)
	}
	var files []string
	for _, metricType := range points.MetricTypes() {
		var buf bytes.Buffer
		if err := points.RenderSVG(&buf, metricType, width, height); err != nil {
			return files, err
		}
		filePath := filepath.Join(dir, SVGFileName(metricType))
		if err := os.WriteFile(filePath, buf.Bytes(), 0o664); err != nil {
			return files, errors.Wrapf(err, "failed to write %q", filePath)
		}
		files = append(files, filePath)
	}
	return files, nil
}
