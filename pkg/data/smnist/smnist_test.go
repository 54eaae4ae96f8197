// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package smnist

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/imednet/pkg/core/numpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// syntheticSamples returns n images and raw outputs, where output feature j of sample i is i*j
// and image pixels are all equal to i.
func syntheticSamples(n int) (images, outputs [][]float64) {
	for i := range n {
		img := make([]float64, InputSize)
		for p := range img {
			img[p] = float64(i)
		}
		out := make([]float64, OutputSize)
		for j := range out {
			out[j] = float64(i * j)
		}
		images = append(images, img)
		outputs = append(outputs, out)
	}
	return
}

func TestScale(t *testing.T) {
	raw := mat.NewDense(3, 2, []float64{
		0, 5,
		10, 5,
		5, 5,
	})
	s := NewScale(raw)
	require.NoError(t, s.Validate(2))
	assert.Equal(t, []float64{0, 5}, s.XMin)
	assert.Equal(t, []float64{10, 5}, s.XMax)

	scaled := s.Normalize(raw)
	assert.Equal(t, []float64{-1, 1, 0}, mat.Col(nil, 0, scaled))
	// Constant feature maps to YMin and back to its value.
	assert.Equal(t, []float64{-1, -1, -1}, mat.Col(nil, 1, scaled))
	assert.True(t, mat.EqualApprox(raw, s.Denormalize(scaled), 1e-12))

	require.Error(t, s.Validate(3))
	assert.Panics(t, func() { s.Normalize(mat.NewDense(1, 3, nil)) })
}

func TestNew(t *testing.T) {
	images, outputs := syntheticSamples(4)
	ds, err := New(images, outputs)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.NumSamples())
	assert.Equal(t, OutputSize, ds.Scale.Len())
	assert.Equal(t, 3.0*53, ds.Scale.XMax[53])
	assert.InDelta(t, 1.0, ds.Outputs.At(3, 53), 1e-12)
	assert.InDelta(t, -1.0, ds.Outputs.At(0, 53), 1e-12)
	assert.Nil(t, ds.Trajectories)
	assert.Equal(t, uint8(2), ds.Image(2).GrayAt(10, 10).Y)

	_, err = New(images, outputs[:3])
	require.ErrorIs(t, err, ErrMalformed)
	images[1] = images[1][:10]
	_, err = New(images, outputs)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = New(nil, nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func writeNpzDataset(t *testing.T, n, numPoints int, withTrajectories bool) string {
	images, outputs := syntheticSamples(n)
	var flatImages, flatOutputs []float64
	for i := range n {
		flatImages = append(flatImages, images[i]...)
		flatOutputs = append(flatOutputs, outputs[i]...)
	}
	arrays := map[string]*numpy.Array{
		ImagesKey:  numpy.New(numpy.Uint8, flatImages, n, ImageSize, ImageSize),
		OutputsKey: numpy.New(numpy.Float64, flatOutputs, n, OutputSize),
	}
	if withTrajectories {
		values := make([]float64, 0, n*numPoints*2)
		for i := range n {
			for p := range numPoints {
				values = append(values, float64(i+p), -float64(p))
			}
		}
		arrays[TrajectoriesKey] = numpy.New(numpy.Float32, values, n, numPoints, 2)
	}
	filePath := filepath.Join(t.TempDir(), "smnist.npz")
	require.NoError(t, numpy.ToNpzFile(arrays, filePath))
	return filePath
}

func TestLoadNpz(t *testing.T) {
	filePath := writeNpzDataset(t, 5, 3, true)
	ds, err := Load(filePath)
	require.NoError(t, err)
	assert.Equal(t, 5, ds.NumSamples())
	assert.Nil(t, ds.Trajectories)
	assert.Equal(t, 4.0, ds.Images.At(4, InputSize-1))

	ds, err = Load(filePath, WithOriginalTrajectories())
	require.NoError(t, err)
	require.Len(t, ds.Trajectories, 5)
	require.Len(t, ds.Trajectories[2], 3)
	assert.Equal(t, [2]float64{4, -2}, ds.Trajectories[2][2])

	// Requesting trajectories from a file without them fails.
	filePath = writeNpzDataset(t, 5, 3, false)
	_, err = Load(filePath, WithOriginalTrajectories())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.mat"))
	require.ErrorIs(t, err, os.ErrNotExist)

	unknown := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(unknown, []byte("1,2,3"), 0o644))
	_, err = Load(unknown)
	require.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "data.mat")
	require.NoError(t, os.WriteFile(garbage, []byte("not a matlab file"), 0o644))
	_, err = Load(garbage)
	require.Error(t, err)
}

func TestToFloat64s(t *testing.T) {
	values, err := toFloat64s([]any{float64(1.5), uint8(255), int32(-3), float32(0.25)})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 255, -3, 0.25}, values)

	_, err = toFloat64s([]any{"x"})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestTrajectoriesFromColumnMajor(t *testing.T) {
	// 2 samples, 2 points each: rows [x0 x1 y0 y1] = [1 2 3 4] and [5 6 7 8], stored column-major.
	values := []float64{1, 5, 2, 6, 3, 7, 4, 8}
	trajectories, err := trajectoriesFromColumnMajor(2, values)
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{1, 3}, {2, 4}}, trajectories[0])
	assert.Equal(t, [][2]float64{{5, 7}, {6, 8}}, trajectories[1])

	_, err = trajectoriesFromColumnMajor(2, values[:7])
	require.ErrorIs(t, err, ErrMalformed)
}

func TestLoadMat(t *testing.T) {
	// testdata/smnist_small.mat holds 3 samples: uint8 images with pixel p of sample i equal to
	// (7i+p) mod 256, double outputs with parameter j of sample i equal to 100i+j, and 4-point
	// trajectories with x_t = 10i+t and y_t = -x_t.
	filePath := filepath.Join("testdata", "smnist_small.mat")
	ds, err := Load(filePath, WithOriginalTrajectories())
	require.NoError(t, err)
	require.Equal(t, 3, ds.NumSamples())

	assert.Equal(t, 0.0, ds.Images.At(0, 0))
	assert.Equal(t, 48.0, ds.Images.At(1, 41))
	assert.Equal(t, 77.0, ds.Images.At(2, InputSize-1))
	assert.Equal(t, uint8(48), ds.Image(1).GrayAt(1, 1).Y)

	require.Equal(t, OutputSize, ds.Scale.Len())
	assert.Equal(t, 5.0, ds.Scale.XMin[5])
	assert.Equal(t, 205.0, ds.Scale.XMax[5])
	assert.InDelta(t, -1.0, ds.Outputs.At(0, 7), 1e-12)
	assert.InDelta(t, 0.0, ds.Outputs.At(1, 7), 1e-12)
	assert.InDelta(t, 1.0, ds.Outputs.At(2, 7), 1e-12)

	require.Len(t, ds.Trajectories, 3)
	require.Len(t, ds.Trajectories[2], 4)
	assert.Equal(t, [2]float64{0, 0}, ds.Trajectories[0][0])
	assert.Equal(t, [2]float64{13, -13}, ds.Trajectories[1][3])
	assert.Equal(t, [2]float64{22, -22}, ds.Trajectories[2][2])

	ds, err = Load(filePath)
	require.NoError(t, err)
	assert.Nil(t, ds.Trajectories)
}

// matMatrix is a double matrix written by writeMat, with values in column-major order.
type matMatrix struct {
	name       string
	rows, cols int
	values     []float64
}

// writeMat writes an uncompressed little-endian MATLAB v5 file with the given matrices.
func writeMat(t *testing.T, matrices ...matMatrix) string {
	var buf bytes.Buffer
	header := []byte("MATLAB 5.0 MAT-file, Platform: GLNXA64, Created on: Fri Oct 16 10:00:00 2026")
	buf.Write(header)
	buf.Write(bytes.Repeat([]byte{' '}, 116-len(header)))
	buf.Write(make([]byte, 8))
	buf.Write([]byte{0, 1, 'I', 'M'})
	for _, m := range matrices {
		var sub bytes.Buffer
		writeMatElement(&sub, 6, []byte{6, 0, 0, 0, 0, 0, 0, 0}) // Flags: double class.
		dims := binary.LittleEndian.AppendUint32(nil, uint32(m.rows))
		dims = binary.LittleEndian.AppendUint32(dims, uint32(m.cols))
		writeMatElement(&sub, 5, dims)
		writeMatElement(&sub, 1, []byte(m.name))
		data := make([]byte, 0, 8*len(m.values))
		for _, v := range m.values {
			data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
		}
		writeMatElement(&sub, 9, data)
		writeMatElement(&buf, 14, sub.Bytes())
	}
	filePath := filepath.Join(t.TempDir(), "smnist.mat")
	require.NoError(t, os.WriteFile(filePath, buf.Bytes(), 0o644))
	return filePath
}

func writeMatElement(buf *bytes.Buffer, dataType uint32, data []byte) {
	buf.Write(binary.LittleEndian.AppendUint32(nil, dataType))
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(data))))
	buf.Write(data)
	if rem := len(data) % 8; rem != 0 {
		buf.Write(make([]byte, 8-rem))
	}
}

func TestLoadMatShapes(t *testing.T) {
	const n = 3
	images := matMatrix{name: ImagesKey, rows: n, cols: InputSize, values: make([]float64, n*InputSize)}
	outputs := matMatrix{name: OutputsKey, rows: n, cols: OutputSize, values: make([]float64, n*OutputSize)}
	for ii := range outputs.values {
		outputs.values[ii] = float64(ii)
	}
	trajectories := matMatrix{name: TrajectoriesKey, rows: n, cols: 6, values: make([]float64, n*6)}

	ds, err := Load(writeMat(t, images, outputs, trajectories), WithOriginalTrajectories())
	require.NoError(t, err)
	assert.Equal(t, n, ds.NumSamples())
	require.Len(t, ds.Trajectories[0], 3)

	// Same number of values, but stored transposed.
	transposedImages := images
	transposedImages.rows, transposedImages.cols = InputSize, n
	_, err = Load(writeMat(t, transposedImages, outputs))
	require.ErrorIs(t, err, ErrMalformed)

	transposedOutputs := outputs
	transposedOutputs.rows, transposedOutputs.cols = OutputSize, n
	_, err = Load(writeMat(t, images, transposedOutputs))
	require.ErrorIs(t, err, ErrMalformed)

	fewerImages := images
	fewerImages.rows, fewerImages.values = n-1, images.values[:(n-1)*InputSize]
	_, err = Load(writeMat(t, fewerImages, outputs))
	require.ErrorIs(t, err, ErrMalformed)

	oddTrajectories := matMatrix{name: TrajectoriesKey, rows: n, cols: 5, values: make([]float64, n*5)}
	_, err = Load(writeMat(t, images, outputs, oddTrajectories), WithOriginalTrajectories())
	require.ErrorIs(t, err, ErrMalformed)
	_, err = Load(writeMat(t, images, outputs, oddTrajectories))
	require.NoError(t, err)
}

func TestLoadNpzInvalidShape(t *testing.T) {
	header := "{'descr': '<f8', 'fortran_order': False, 'shape': (-1, 54), }\n"
	var npy bytes.Buffer
	npy.WriteString("\x93NUMPY\x01\x00")
	npy.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(header))))
	npy.WriteString(header)

	var archive bytes.Buffer
	zipWriter := zip.NewWriter(&archive)
	w, err := zipWriter.Create(OutputsKey + ".npy")
	require.NoError(t, err)
	_, err = w.Write(npy.Bytes())
	require.NoError(t, err)
	require.NoError(t, zipWriter.Close())

	filePath := filepath.Join(t.TempDir(), "smnist.npz")
	require.NoError(t, os.WriteFile(filePath, archive.Bytes(), 0o644))
	_, err = Load(filePath)
	require.ErrorIs(t, err, ErrMalformed)
}
