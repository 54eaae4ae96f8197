// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package smnist loads the synthetic MNIST-like dataset of 40x40 digit images paired with the DMP
// parameters (and optionally the original trajectories) that draw each digit.
//
// Two file formats are accepted, chosen by the file extension:
//
//   - ".mat": a MATLAB v5 file with the double (or uint8) matrices "images" (N x 1600),
//     "outputs" (N x 54, raw DMP parameters) and, optionally, "trajectories" (N x 2T, the T x
//     coordinates followed by the T y coordinates of each sample).
//   - ".npz": a NumPy archive with the arrays "images" (N x 1600 or N x 40 x 40), "outputs" (N x 54)
//     and, optionally, "trajectories" (N x T x 2).
//
// The DMP outputs are normalized with a Scale computed over the whole dataset.
package smnist

import (
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/daniellowtw/matlab"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/imednet/pkg/core/numpy"
	"github.com/gomlx/imednet/pkg/dmp"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

const (
	// ImageSize is the width and height of the images.
	ImageSize = 40

	// InputSize is the number of pixels of one image.
	InputSize = ImageSize * ImageSize

	// OutputSize is the length of the DMP parameter vector of one sample.
	OutputSize = dmp.VectorSize
)

// Names of the variables (MATLAB) or arrays (NumPy) read from the dataset file.
var (
	ImagesKey       = "images"
	OutputsKey      = "outputs"
	TrajectoriesKey = "trajectories"
)

// ErrMalformed is wrapped by all errors caused by invalid dataset contents.
var ErrMalformed = errors.New("malformed dataset")

// Dataset holds the whole dataset in memory.
type Dataset struct {
	// Images with one flattened (row-major) image per row: N x InputSize.
	Images *mat.Dense

	// Outputs are the normalized DMP parameters: N x OutputSize.
	Outputs *mat.Dense

	// Scale used to normalize Outputs.
	Scale *Scale

	// Trajectories are the original (unscaled) trajectories, only loaded if requested
	// with WithOriginalTrajectories. Otherwise nil.
	Trajectories [][][dmp.Dims]float64
}

// NumSamples in the dataset.
func (ds *Dataset) NumSamples() int {
	rows, _ := ds.Images.Dims()
	return rows
}

// Image returns sample idx as a grayscale image, with pixel values clipped to [0, 255].
func (ds *Dataset) Image(idx int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, ImageSize, ImageSize))
	row := ds.Images.RawRowView(idx)
	for y := range ImageSize {
		for x := range ImageSize {
			v := max(0, min(255, row[y*ImageSize+x]))
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return img
}

type loadConfig struct {
	originalTrajectories bool
}

// Option for Load.
type Option func(*loadConfig)

// WithOriginalTrajectories makes Load also read the original trajectories. It fails if the
// file doesn't have them.
func WithOriginalTrajectories() Option {
	return func(c *loadConfig) { c.originalTrajectories = true }
}

// Load reads the dataset from filePath, in the format given by its extension (".mat" or ".npz").
func Load(filePath string, options ...Option) (*Dataset, error) {
	var cfg loadConfig
	for _, opt := range options {
		opt(&cfg)
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, errors.Wrapf(err, "dataset file %q", filePath)
	}

	var (
		raw *rawDataset
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".mat":
		raw, err = readMat(filePath, cfg.originalTrajectories)
	case ".npz":
		raw, err = readNpz(filePath, cfg.originalTrajectories)
	default:
		return nil, errors.Errorf("unknown dataset format %q for file %q: use .mat or .npz", ext, filePath)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "loading dataset %q", filePath)
	}
	ds, err := raw.build()
	if err != nil {
		return nil, errors.WithMessagef(err, "loading dataset %q", filePath)
	}
	klog.V(1).Infof("Loaded %d samples from %q (trajectories=%v)", ds.NumSamples(), filePath, ds.Trajectories != nil)
	return ds, nil
}

// New builds a Dataset from in-memory images (one flattened image per entry) and raw (unscaled)
// DMP parameter vectors.
func New(images, rawOutputs [][]float64) (*Dataset, error) {
	if len(images) != len(rawOutputs) {
		return nil, errors.Wrapf(ErrMalformed, "%d images but %d outputs", len(images), len(rawOutputs))
	}
	raw := &rawDataset{numSamples: len(images)}
	for ii := range images {
		if len(images[ii]) != InputSize {
			return nil, errors.Wrapf(ErrMalformed, "image #%d has %d pixels, expected %d", ii, len(images[ii]), InputSize)
		}
		if len(rawOutputs[ii]) != OutputSize {
			return nil, errors.Wrapf(ErrMalformed, "output #%d has length %d, expected %d", ii, len(rawOutputs[ii]), OutputSize)
		}
		raw.images = append(raw.images, images[ii]...)
		raw.outputs = append(raw.outputs, rawOutputs[ii]...)
	}
	return raw.build()
}

// rawDataset holds the row-major contents read from a file, before validation and scaling.
type rawDataset struct {
	numSamples   int
	images       []float64
	outputs      []float64
	trajectories [][][dmp.Dims]float64
}

func (raw *rawDataset) build() (*Dataset, error) {
	n := raw.numSamples
	if n == 0 {
		return nil, errors.Wrapf(ErrMalformed, "dataset has no samples")
	}
	if len(raw.images) != n*InputSize {
		return nil, errors.Wrapf(ErrMalformed, "images have %d values, expected %d samples x %d pixels",
			len(raw.images), n, InputSize)
	}
	if len(raw.outputs) != n*OutputSize {
		return nil, errors.Wrapf(ErrMalformed, "outputs have %d values, expected %d samples x %d parameters",
			len(raw.outputs), n, OutputSize)
	}
	if raw.trajectories != nil && len(raw.trajectories) != n {
		return nil, errors.Wrapf(ErrMalformed, "%d trajectories for %d samples", len(raw.trajectories), n)
	}
	rawOutputs := mat.NewDense(n, OutputSize, raw.outputs)
	scale := NewScale(rawOutputs)
	return &Dataset{
		Images:       mat.NewDense(n, InputSize, raw.images),
		Outputs:      scale.Normalize(rawOutputs),
		Scale:        scale,
		Trajectories: raw.trajectories,
	}, nil
}

func readMat(filePath string, withTrajectories bool) (*rawDataset, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open MATLAB file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	// The MATLAB parser may panic on truncated or corrupt files.
	var vars map[string]matVar
	exception := exceptions.Try(func() {
		vars, err = readMatVars(f, withTrajectories)
	})
	if exception != nil {
		return nil, errors.Wrapf(ErrMalformed, "failed to parse MATLAB file: %v", exception)
	}
	if err != nil {
		return nil, err
	}

	outputs := vars[OutputsKey]
	n, err := outputs.rows(OutputsKey, OutputSize)
	if err != nil {
		return nil, err
	}
	images := vars[ImagesKey]
	numImages, err := images.rows(ImagesKey, InputSize)
	if err != nil {
		return nil, err
	}
	if numImages != n {
		return nil, errors.Wrapf(ErrMalformed, "%d images but %d outputs", numImages, n)
	}

	// MATLAB stores matrices column-major.
	raw := &rawDataset{
		numSamples: n,
		images:     numpy.FortranToC([]int{n, InputSize}, images.values),
		outputs:    numpy.FortranToC([]int{n, OutputSize}, outputs.values),
	}
	if withTrajectories {
		trajectories := vars[TrajectoriesKey]
		if !trajectories.is2D() || trajectories.dims[0] != n || trajectories.dims[1] == 0 || trajectories.dims[1]%2 != 0 {
			return nil, errors.Wrapf(ErrMalformed, "%q has shape %v, expected (%d, 2T)", TrajectoriesKey, trajectories.dims, n)
		}
		raw.trajectories, err = trajectoriesFromColumnMajor(n, trajectories.values)
		if err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// matVar is a numeric MATLAB variable: values are stored column-major.
type matVar struct {
	dims   []int
	values []float64
}

// is2D reports whether v is a matrix whose dimensions match its number of values.
func (v matVar) is2D() bool {
	return len(v.dims) == 2 && v.dims[0] >= 0 && v.dims[1] >= 0 && v.dims[0]*v.dims[1] == len(v.values)
}

// rows returns the number of rows of v, which must be a matrix with numColumns columns.
func (v matVar) rows(name string, numColumns int) (int, error) {
	if !v.is2D() || v.dims[1] != numColumns {
		return 0, errors.Wrapf(ErrMalformed, "%q has shape %v, expected (N, %d)", name, v.dims, numColumns)
	}
	return v.dims[0], nil
}

// readMatVars reads the dataset variables from a MATLAB file.
func readMatVars(r io.Reader, withTrajectories bool) (map[string]matVar, error) {
	matlabFile, err := matlab.NewFileFromReader(r)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "failed to parse MATLAB file: %v", err)
	}
	names := []string{ImagesKey, OutputsKey}
	if withTrajectories {
		names = append(names, TrajectoriesKey)
	}
	vars := make(map[string]matVar, len(names))
	for _, name := range names {
		matrix, found := matlabFile.GetVar(name)
		if !found {
			return nil, errors.Wrapf(ErrMalformed, "variable %q not found in MATLAB file", name)
		}
		values, err := toFloat64s(matrix.Value())
		if err != nil {
			return nil, errors.WithMessagef(err, "variable %q", name)
		}
		dims := make([]int, len(matrix.Dimension))
		for ii, dim := range matrix.Dimension {
			dims[ii] = int(dim)
		}
		vars[name] = matVar{dims: dims, values: values}
	}
	return vars, nil
}

// trajectoriesFromColumnMajor converts an N x 2T column-major matrix, where each row holds the
// T x coordinates followed by the T y coordinates, into per-sample point lists.
func trajectoriesFromColumnMajor(n int, values []float64) ([][][dmp.Dims]float64, error) {
	if n == 0 || len(values)%(2*n) != 0 {
		return nil, errors.Wrapf(ErrMalformed, "%q has %d values, not a multiple of 2 x %d samples",
			TrajectoriesKey, len(values), n)
	}
	numPoints := len(values) / (2 * n)
	values = numpy.FortranToC([]int{n, 2 * numPoints}, values)
	trajectories := make([][][dmp.Dims]float64, n)
	for ii := range n {
		row := values[ii*2*numPoints : (ii+1)*2*numPoints]
		trajectory := make([][dmp.Dims]float64, numPoints)
		for p := range numPoints {
			trajectory[p] = [dmp.Dims]float64{row[p], row[numPoints+p]}
		}
		trajectories[ii] = trajectory
	}
	return trajectories, nil
}

// toFloat64s converts the values decoded from a MATLAB numeric variable.
func toFloat64s(values []any) ([]float64, error) {
	out := make([]float64, len(values))
	for ii, value := range values {
		switch v := value.(type) {
		case float64:
			out[ii] = v
		case float32:
			out[ii] = float64(v)
		case int8:
			out[ii] = float64(v)
		case uint8:
			out[ii] = float64(v)
		case int16:
			out[ii] = float64(v)
		case uint16:
			out[ii] = float64(v)
		case int32:
			out[ii] = float64(v)
		case uint32:
			out[ii] = float64(v)
		case int64:
			out[ii] = float64(v)
		case uint64:
			out[ii] = float64(v)
		default:
			return nil, errors.Wrapf(ErrMalformed, "value #%d has non-numeric type %T", ii, value)
		}
	}
	return out, nil
}

func readNpz(filePath string, withTrajectories bool) (*rawDataset, error) {
	arrays, err := numpy.FromNpzFile(filePath)
	if err != nil {
		if errors.Is(err, numpy.ErrInvalidFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrapf(ErrMalformed, "%v", err)
		}
		return nil, err
	}
	images, found := arrays[ImagesKey]
	if !found {
		return nil, errors.Wrapf(ErrMalformed, "array %q not found in archive", ImagesKey)
	}
	outputs, found := arrays[OutputsKey]
	if !found {
		return nil, errors.Wrapf(ErrMalformed, "array %q not found in archive", OutputsKey)
	}
	if outputs.Rank() != 2 || outputs.Shape[1] != OutputSize {
		return nil, errors.Wrapf(ErrMalformed, "%q has shape %v, expected (N, %d)", OutputsKey, outputs.Shape, OutputSize)
	}
	n := outputs.Shape[0]
	if images.Rank() == 0 || images.Shape[0] != n {
		return nil, errors.Wrapf(ErrMalformed, "%q has shape %v, expected %d samples", ImagesKey, images.Shape, n)
	}
	raw := &rawDataset{numSamples: n, images: images.Data, outputs: outputs.Data}
	if withTrajectories {
		trajectories, found := arrays[TrajectoriesKey]
		if !found {
			return nil, errors.Wrapf(ErrMalformed, "array %q not found in archive", TrajectoriesKey)
		}
		if trajectories.Rank() != 3 || trajectories.Shape[0] != n || trajectories.Shape[2] != dmp.Dims {
			return nil, errors.Wrapf(ErrMalformed, "%q has shape %v, expected (%d, T, %d)",
				TrajectoriesKey, trajectories.Shape, n, dmp.Dims)
		}
		numPoints := trajectories.Shape[1]
		raw.trajectories = make([][][dmp.Dims]float64, n)
		for ii := range n {
			trajectory := make([][dmp.Dims]float64, numPoints)
			for p := range numPoints {
				base := (ii*numPoints + p) * dmp.Dims
				trajectory[p] = [dmp.Dims]float64{trajectories.Data[base], trajectories.Data[base+1]}
			}
			raw.trajectories[ii] = trajectory
		}
	}
	return raw, nil
}
