// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"math"
	"testing"

	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testScale() *smnist.Scale {
	s := &smnist.Scale{
		XMin: make([]float64, OutputSize),
		XMax: make([]float64, OutputSize),
		YMin: -1,
		YMax: 1,
	}
	for j := range OutputSize {
		s.XMin[j] = -float64(j)
		s.XMax[j] = float64(j + 1)
	}
	return s
}

func TestLayerSizes(t *testing.T) {
	hidden := []int{1500, 1300, 1000, 600, 200, 20, 35}
	sizes := LayerSizes(hidden)
	require.Len(t, sizes, 1+len(hidden)+1)
	assert.Equal(t, 1600, sizes[0])
	assert.Equal(t, 54, sizes[len(sizes)-1])
	assert.Equal(t, hidden, sizes[1:len(sizes)-1])

	assert.Equal(t, []int{1600, 54}, LayerSizes(nil))
}

func TestNewEncoderDecoderValidation(t *testing.T) {
	for _, sizes := range [][]int{
		{1600},
		{1599, 10, 54},
		{1600, 10, 53},
		{1600, 0, 54},
		{1600, -3, 54},
	} {
		_, err := NewEncoderDecoder(sizes, testScale())
		require.ErrorIs(t, err, ErrInvalidArchitecture, "layer sizes %v", sizes)
	}

	badScale := testScale()
	badScale.XMax = badScale.XMax[:10]
	_, err := NewEncoderDecoder(LayerSizes([]int{8}), badScale)
	require.ErrorIs(t, err, ErrInvalidArchitecture)

	m, err := NewEncoderDecoder(LayerSizes([]int{8}), testScale())
	require.NoError(t, err)
	assert.Equal(t, 1600*8+8+8*54+54, m.NumParameters())
	names := make([]string, 0, len(m.Variables()))
	for _, v := range m.Variables() {
		names = append(names, v.Name())
	}
	assert.Equal(t, []string{"layers.0.weight", "layers.0.bias", "layers.1.weight", "layers.1.bias"}, names)
	assert.Equal(t, []int{8, 1600}, m.Variables()[0].Shape())
}

func TestInitializeRandomly(t *testing.T) {
	m, err := NewEncoderDecoder(LayerSizes([]int{8, 4}), testScale())
	require.NoError(t, err)
	m.InitializeRandomly(1)
	for _, v := range m.Variables() {
		if len(v.Shape()) == 1 {
			assert.Equal(t, make([]float64, v.Size()), v.Values(), "bias %s must be zero", v)
		} else {
			assert.NotEqual(t, make([]float64, v.Size()), v.Values(), "weight %s must be initialized", v)
		}
	}
}

func TestStateDict(t *testing.T) {
	m, err := NewEncoderDecoder(LayerSizes([]int{8}), testScale())
	require.NoError(t, err)
	m.InitializeRandomly(3)
	sd := m.StateDict()

	other, err := NewEncoderDecoder(LayerSizes([]int{8}), testScale())
	require.NoError(t, err)
	require.NoError(t, other.LoadStateDict(sd.Clone()))
	for ii, v := range other.Variables() {
		assert.Equal(t, m.Variables()[ii].Values(), v.Values())
	}

	// Changing the model doesn't change a previously taken state dict.
	m.Variables()[0].Values()[0] += 1
	assert.NotEqual(t, m.Variables()[0].Values()[0], sd["layers.0.weight"].Data[0])

	wrong, err := NewEncoderDecoder(LayerSizes([]int{9}), testScale())
	require.NoError(t, err)
	require.ErrorIs(t, wrong.LoadStateDict(sd), ErrShapeMismatch)
	delete(sd, "layers.1.bias")
	require.ErrorIs(t, other.LoadStateDict(sd), ErrShapeMismatch)
}

// TestBackward compares the analytical gradients with finite differences.
func TestBackward(t *testing.T) {
	m, err := NewEncoderDecoder(LayerSizes([]int{3}), testScale())
	require.NoError(t, err)
	m.InitializeRandomly(5)
	for _, v := range m.Variables() {
		for ii := range v.Values() {
			v.Values()[ii] += 0.01 * float64(ii%7)
		}
	}
	x := mat.NewDense(2, InputSize, nil)
	y := mat.NewDense(2, OutputSize, nil)
	for j := range InputSize {
		x.Set(0, j, math.Sin(float64(j)))
		x.Set(1, j, math.Cos(float64(j))/2)
	}
	for j := range OutputSize {
		y.Set(0, j, 0.5)
		y.Set(1, j, -0.25)
	}

	loss := m.Backward(x, y)
	assert.InDelta(t, m.Loss(x, y), loss, 1e-12)

	const epsilon = 1e-6
	for _, v := range m.Variables() {
		for _, idx := range []int{0, v.Size() / 2, v.Size() - 1} {
			original := v.Values()[idx]
			v.Values()[idx] = original + epsilon
			plus := m.Loss(x, y)
			v.Values()[idx] = original - epsilon
			minus := m.Loss(x, y)
			v.Values()[idx] = original
			numerical := (plus - minus) / (2 * epsilon)
			assert.InDelta(t, numerical, v.Grad()[idx], 1e-6, "gradient of %s[%d]", v, idx)
		}
	}
}

func TestPredictDenormalizes(t *testing.T) {
	m, err := NewEncoderDecoder(LayerSizes(nil), testScale())
	require.NoError(t, err)
	// All zeros: the normalized output is 0, the middle of each feature range.
	predictions := m.Predict(mat.NewDense(1, InputSize, nil))
	for j := range OutputSize {
		assert.InDelta(t, 0.5, predictions.At(0, j), 1e-12)
	}
	assert.Equal(t, "EncoderDecoder", m.Architecture().Model)
}
