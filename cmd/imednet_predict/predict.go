// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/gomlx/imednet/pkg/dmp"
	"github.com/gomlx/imednet/pkg/ml/models"
	"github.com/gomlx/imednet/ui/plots"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// sample is one input of the network.
type sample struct {
	Name string
	// Pixels is the flattened 40x40 image, with the pixel range of the dataset ([0, 255], white
	// digit on black).
	Pixels []float64
	// Target is the expected trajectory, only known for dataset samples.
	Target [][dmp.Dims]float64
}

// prediction for one sample.
type prediction struct {
	Sample     *sample
	Params     dmp.Params
	Trajectory [][dmp.Dims]float64
	// RMSE of Trajectory against the target, NaN if there is no target.
	RMSE float64
}

// imageToPixels converts any image to the input format of the network: gray scale, resized to
// 40x40. Images with a dark digit on a light background should be inverted.
func imageToPixels(img image.Image, invert bool) (*image.NRGBA, []float64) {
	gray := imaging.Grayscale(img)
	if invert {
		gray = imaging.Invert(gray)
	}
	small := imaging.Resize(gray, smnist.ImageSize, smnist.ImageSize, imaging.Lanczos)
	pixels := make([]float64, smnist.InputSize)
	for y := range smnist.ImageSize {
		for x := range smnist.ImageSize {
			// Gray scale: the red channel has the luminance.
			pixels[y*smnist.ImageSize+x] = float64(small.Pix[small.PixOffset(x, y)])
		}
	}
	return small, pixels
}

// loadImageSample reads an image file (any format supported by imaging).
func loadImageSample(filePath string, invert bool) (*sample, error) {
	img, err := imaging.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image %q", filePath)
	}
	_, pixels := imageToPixels(img, invert)
	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	return &sample{Name: name, Pixels: pixels}, nil
}

// loadDataset loads the dataset with its original trajectories, if the file has them.
func loadDataset(filePath string) (*smnist.Dataset, error) {
	ds, err := smnist.Load(filePath, smnist.WithOriginalTrajectories())
	if err == nil {
		return ds, nil
	}
	if !errors.Is(err, smnist.ErrMalformed) {
		return nil, err
	}
	ds, plainErr := smnist.Load(filePath)
	if plainErr != nil {
		return nil, plainErr
	}
	klog.V(1).Infof("Using integrated DMPs as targets, original trajectories not available: %v", err)
	return ds, nil
}

// datasetSample returns the sample idx of the dataset. Its target is the original trajectory if
// the dataset has it, otherwise the integrated trajectory of its DMP parameters.
func datasetSample(ds *smnist.Dataset, idx int, opts dmp.IntegrateOptions) (*sample, error) {
	if idx < 0 || idx >= ds.NumSamples() {
		return nil, errors.Errorf("sample %d out of range, dataset has %d samples", idx, ds.NumSamples())
	}
	s := &sample{
		Name:   fmt.Sprintf("sample_%d", idx),
		Pixels: append([]float64(nil), ds.Images.RawRowView(idx)...),
	}
	if ds.Trajectories != nil {
		s.Target = append([][dmp.Dims]float64(nil), ds.Trajectories[idx]...)
		return s, nil
	}
	rawOutputs := ds.Scale.Denormalize(ds.Outputs.Slice(idx, idx+1, 0, smnist.OutputSize))
	params, err := dmp.FromVector(rawOutputs.RawRowView(0))
	if err != nil {
		return nil, err
	}
	s.Target = dmp.Integrate(params, opts)
	return s, nil
}

// predict runs the model on all samples at once, and integrates the predicted DMPs.
func predict(model *models.EncoderDecoder, samples []*sample, opts dmp.IntegrateOptions) ([]*prediction, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	x := mat.NewDense(len(samples), smnist.InputSize, nil)
	for ii, s := range samples {
		if len(s.Pixels) != smnist.InputSize {
			return nil, errors.Errorf("sample %q has %d pixels, expected %d", s.Name, len(s.Pixels), smnist.InputSize)
		}
		x.SetRow(ii, s.Pixels)
	}
	outputs := model.Predict(x)
	predictions := make([]*prediction, len(samples))
	for ii, s := range samples {
		params, err := dmp.FromVector(outputs.RawRowView(ii))
		if err != nil {
			return nil, errors.WithMessagef(err, "sample %q", s.Name)
		}
		p := &prediction{Sample: s, Params: params, Trajectory: dmp.Integrate(params, opts)}
		p.RMSE = dmp.RMSE(p.Trajectory, s.Target)
		predictions[ii] = p
	}
	return predictions, nil
}

// trajectoryDataFrame returns the predicted trajectory, and the target if known, one row per step.
func (p *prediction) trajectoryDataFrame() dataframe.DataFrame {
	n := len(p.Trajectory)
	steps := make([]int, n)
	xs, ys := make([]float64, n), make([]float64, n)
	for ii, pt := range p.Trajectory {
		steps[ii], xs[ii], ys[ii] = ii, pt[0], pt[1]
	}
	columns := []series.Series{
		series.New(steps, series.Int, "step"),
		series.New(xs, series.Float, "x"),
		series.New(ys, series.Float, "y"),
	}
	if p.Sample.Target != nil {
		target := dmp.Resample(p.Sample.Target, n)
		txs, tys := make([]float64, n), make([]float64, n)
		for ii, pt := range target {
			txs[ii], tys[ii] = pt[0], pt[1]
		}
		columns = append(columns, series.New(txs, series.Float, "target_x"), series.New(tys, series.Float, "target_y"))
	}
	return dataframe.New(columns...)
}

func trajectoryLine(trajectory [][dmp.Dims]float64) (*plotter.Line, error) {
	xys := make(plotter.XYs, len(trajectory))
	for ii, pt := range trajectory {
		xys[ii] = plotter.XY{X: pt[0], Y: pt[1]}
	}
	return plotter.NewLine(xys)
}

// plot draws the predicted trajectory, and the target if known.
func (p *prediction) plot() (*plot.Plot, error) {
	plt := plot.New()
	plt.Title.Text = p.Sample.Name
	plt.X.Label.Text = "x"
	plt.Y.Label.Text = "y"
	plt.Add(plotter.NewGrid())
	line, err := trajectoryLine(p.Trajectory)
	if err != nil {
		return nil, errors.Wrapf(err, "plotting %q", p.Sample.Name)
	}
	line.Color = plots.Palette[0]
	line.Width = vg.Points(2)
	plt.Add(line)
	plt.Legend.Add("predicted", line)
	if p.Sample.Target != nil {
		target, err := trajectoryLine(p.Sample.Target)
		if err != nil {
			return nil, errors.Wrapf(err, "plotting target of %q", p.Sample.Name)
		}
		target.Color = plots.Palette[1]
		target.Width = vg.Points(1)
		target.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		plt.Add(target)
		plt.Legend.Add("target", target)
	}
	return plt, nil
}

// inputImage returns the network input as an image.
func (s *sample) inputImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, smnist.ImageSize, smnist.ImageSize))
	for ii, v := range s.Pixels {
		img.Pix[ii] = uint8(max(0, min(255, v)))
	}
	return img
}

// save writes the files of the prediction to dir: "<name>.csv" with the trajectory, "<name>.png"
// with its plot and "<name>_input.png" with the network input.
func (p *prediction) save(dir string) (err error) {
	name := filepath.Join(dir, p.Sample.Name)
	f, err := os.Create(name + ".csv")
	if err != nil {
		return errors.Wrapf(err, "creating trajectory file for %q", p.Sample.Name)
	}
	err = p.trajectoryDataFrame().WriteCSV(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "writing %q", name+".csv")
	}

	plt, err := p.plot()
	if err != nil {
		return err
	}
	if err = plt.Save(5*vg.Inch, 5*vg.Inch, name+".png"); err != nil {
		return errors.Wrapf(err, "saving plot %q", name+".png")
	}
	return errors.Wrapf(imaging.Save(p.Sample.inputImage(), name+"_input.png"),
		"saving input image of %q", p.Sample.Name)
}
