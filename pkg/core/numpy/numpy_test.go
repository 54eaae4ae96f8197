// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package numpy

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNpyHeaderAlignment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ToNpyWriter(New(Float64, []float64{1, 2, 3, 4, 5, 6}, 2, 3), &buf))
	raw := buf.Bytes()
	headerLen := int(binary.LittleEndian.Uint16(raw[8:10]))
	assert.Zero(t, (10+headerLen)%64, "data must start 64-byte aligned")
	assert.Equal(t, byte('\n'), raw[10+headerLen-1])
	assert.Len(t, raw, 10+headerLen+6*8)
}

func TestNpyFiles(t *testing.T) {
	dir := t.TempDir()

	layers := FromInts([]int{1600, 1500, 54})
	require.NoError(t, ToNpyFile(layers, filepath.Join(dir, "layer_sizes.npy")))
	got, err := FromNpyFile(filepath.Join(dir, "layer_sizes.npy"))
	require.NoError(t, err)
	assert.Equal(t, Int64, got.DType)
	assert.Equal(t, []int{3}, got.Shape)
	assert.Equal(t, []int{1600, 1500, 54}, got.Ints())

	require.NoError(t, ToNpyFile(Scalar(-1), filepath.Join(dir, "scalar.npy")))
	got, err = FromNpyFile(filepath.Join(dir, "scalar.npy"))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Rank())
	assert.Equal(t, []float64{-1}, got.Data)

	f32 := New(Float32, []float64{0.5, -2, math.Inf(1)}, 3)
	require.NoError(t, ToNpyFile(f32, filepath.Join(dir, "f32.npy")))
	got, err = FromNpyFile(filepath.Join(dir, "f32.npy"))
	require.NoError(t, err)
	assert.Equal(t, f32.Data, got.Data)

	_, err = FromNpyFile(filepath.Join(dir, "missing.npy"))
	require.Error(t, err)
}

func TestFortranOrder(t *testing.T) {
	// 2x3 matrix [[1 2 3] [4 5 6]] stored column-major.
	values := FortranToC([]int{2, 3}, []float64{1, 4, 2, 5, 3, 6})
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, values)

	header := "{'descr': '<f8', 'fortran_order': True, 'shape': (2, 3), }\n"
	var buf bytes.Buffer
	buf.WriteString(magicString)
	buf.Write([]byte{1, 0})
	buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(header))))
	buf.WriteString(header)
	buf.Write(encodeValues(Float64, []float64{1, 4, 2, 5, 3, 6}))
	got, err := FromNpyReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, got.Data)
}

func TestNpz(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "net_parameters")
	arrays := map[string]*Array{
		"layers.0.weight": New(Float64, []float64{1, 2, 3, 4, 5, 6}, 3, 2),
		"layers.0.bias":   New(Float64, []float64{0, 0, 0}, 3),
	}
	require.NoError(t, ToNpzFile(arrays, filePath))
	got, err := FromNpzFile(filePath)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int{3, 2}, got["layers.0.weight"].Shape)
	assert.Equal(t, arrays["layers.0.weight"].Data, got["layers.0.weight"].Data)
	assert.Equal(t, arrays["layers.0.bias"].Data, got["layers.0.bias"].Data)
}

// rawNpy builds the contents of a version 1.0 .npy file with the given header and data.
func rawNpy(header string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(magicString)
	buf.Write([]byte{1, 0})
	buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(header))))
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

func TestNpyInvalidContents(t *testing.T) {
	for _, header := range []string{
		"{'descr': '<f8', 'fortran_order': False, 'shape': (-1, 54), }\n",
		"{'descr': '<f8', 'fortran_order': False, 'shape': (4611686018427387904, 4), }\n",
		"{'descr': '<f8', 'fortran_order': False, 'shape': (1073741824, 2), }\n",
		"{'descr': '<c16', 'fortran_order': False, 'shape': (2,), }\n",
		"{'descr': '<f8', 'shape': (2,), }\n",
	} {
		_, err := FromNpyReader(bytes.NewReader(rawNpy(header, nil)))
		require.ErrorIsf(t, err, ErrInvalidFormat, "header %q", header)
	}

	_, err := FromNpyReader(bytes.NewReader([]byte("not a numpy file at all")))
	require.ErrorIs(t, err, ErrInvalidFormat)

	// A header claiming more data than available.
	header := "{'descr': '<f8', 'fortran_order': False, 'shape': (1000000, 54), }\n"
	_, err = FromNpyReader(bytes.NewReader(rawNpy(header, encodeValues(Float64, []float64{1, 2, 3}))))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = FromNpzReader(bytes.NewReader([]byte("not a zip")), 9)
	require.ErrorIs(t, err, ErrInvalidFormat)
}
