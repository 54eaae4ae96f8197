// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"testing"

	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/gomlx/imednet/pkg/ml/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestModel returns the smallest model (no hidden layers) with all weights set to 1, and
// gradients set to 0.5.
func newTestModel(t *testing.T) *models.EncoderDecoder {
	scale := &smnist.Scale{
		XMin: make([]float64, models.OutputSize),
		XMax: make([]float64, models.OutputSize),
		YMin: -1,
		YMax: 1,
	}
	m, err := models.NewEncoderDecoder(models.LayerSizes(nil), scale)
	require.NoError(t, err)
	for _, v := range m.Variables() {
		for ii := range v.Values() {
			v.Values()[ii] = 1
			v.Grad()[ii] = 0.5
		}
	}
	return m
}

func firstValue(m *models.EncoderDecoder) float64 {
	return m.Variables()[0].Values()[0]
}

func TestNew(t *testing.T) {
	assert.Equal(t, []string{"adagrad", "adam", "rmsprop", "sgd"}, Names())
	for _, name := range Names() {
		opt, err := New(name, Options{LearningRate: 0.1})
		require.NoError(t, err, name)
		require.NotNil(t, opt)
	}
	_, err := New("ADAM", Options{LearningRate: 0.1})
	require.NoError(t, err)
	_, err = New("lbfgs", Options{LearningRate: 0.1})
	require.Error(t, err)
	_, err = New("adam", Options{LearningRate: -1})
	require.Error(t, err)
}

func TestSGD(t *testing.T) {
	m := newTestModel(t)
	opt := StochasticGradientDescent().WithLearningRate(0.1).Done()
	opt.Step(m.Variables())
	assert.InDelta(t, 1-0.05, firstValue(m), 1e-12)

	// With momentum 0.5: velocity is 0.5, then 0.5*0.5+0.5 = 0.75.
	m = newTestModel(t)
	opt = StochasticGradientDescent().WithLearningRate(0.1).WithMomentum(0.5).Done()
	opt.Step(m.Variables())
	opt.Step(m.Variables())
	assert.InDelta(t, 1-0.05-0.075, firstValue(m), 1e-12)

	// Weight decay adds decay*value to the gradient: 0.5 + 0.1*1.
	m = newTestModel(t)
	opt = StochasticGradientDescent().WithLearningRate(0.1).WithWeightDecay(0.1).Done()
	opt.Step(m.Variables())
	assert.InDelta(t, 1-0.06, firstValue(m), 1e-12)
	assert.Equal(t, 0.5, m.Variables()[0].Grad()[0], "gradients must not be modified")
}

func TestAdam(t *testing.T) {
	// First Adam step moves every parameter by ~learning rate, regardless of the gradient magnitude.
	m := newTestModel(t)
	opt := Adam().LearningRate(0.01).Done()
	opt.Step(m.Variables())
	assert.InDelta(t, 1-0.01, firstValue(m), 1e-6)

	// With a constant gradient the bias-corrected moments don't change.
	opt.Step(m.Variables())
	assert.InDelta(t, 1-0.02, firstValue(m), 1e-6)
}

func TestAdagrad(t *testing.T) {
	m := newTestModel(t)
	opt := Adagrad().LearningRate(0.1).LRDecay(1).Done()
	opt.Step(m.Variables())
	// sum = 0.25, update = 0.1 * 0.5 / 0.5.
	assert.InDelta(t, 1-0.1, firstValue(m), 1e-8)
	opt.Step(m.Variables())
	// lr = 0.1/2, sum = 0.5, update = 0.05 * 0.5 / sqrt(0.5).
	assert.InDelta(t, 1-0.1-0.05*0.5/0.7071067811865476, firstValue(m), 1e-8)
}

func TestRMSProp(t *testing.T) {
	m := newTestModel(t)
	opt := RMSProp().LearningRate(0.01).Done()
	opt.Step(m.Variables())
	// squares = 0.01*0.25, update = 0.5/0.05 = 10.
	assert.InDelta(t, 1-0.1, firstValue(m), 1e-6)
}
