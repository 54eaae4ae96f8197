// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorLayout(t *testing.T) {
	assert.Equal(t, 54, VectorSize)

	v := make([]float64, VectorSize)
	for ii := range v {
		v[ii] = float64(ii)
	}
	p, err := FromVector(v)
	require.NoError(t, err)
	assert.Equal(t, [Dims]float64{0, 1}, p.Y0)
	assert.Equal(t, [Dims]float64{2, 3}, p.Goal)
	assert.Equal(t, 4.0, p.W[0][0])
	assert.Equal(t, float64(4+N), p.W[1][0])
	assert.Equal(t, v, p.Vector())

	_, err = FromVector(v[:10])
	require.Error(t, err)
}

func TestIntegrateConvergesToGoal(t *testing.T) {
	p := Params{Y0: [Dims]float64{0, 0}, Goal: [Dims]float64{1, -2}}
	trajectory := Integrate(p, IntegrateOptions{Tau: 2})
	require.Len(t, trajectory, 201)
	assert.Equal(t, p.Y0, trajectory[0])
	last := trajectory[len(trajectory)-1]
	assert.InDelta(t, 1.0, last[0], 1e-2)
	assert.InDelta(t, -2.0, last[1], 1e-2)
}

func TestRMSE(t *testing.T) {
	a := [][Dims]float64{{0, 0}, {1, 0}, {2, 0}}
	assert.InDelta(t, 0.0, RMSE(a, a), 1e-12)

	// Same line sampled at a different rate.
	b := Resample(a, 5)
	assert.Equal(t, [Dims]float64{0.5, 0}, b[1])
	assert.InDelta(t, 0.0, RMSE(a, b), 1e-12)

	shifted := [][Dims]float64{{0, 1}, {1, 1}, {2, 1}}
	assert.InDelta(t, 1.0, RMSE(a, shifted), 1e-12)
}
