// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dmp implements two-dimensional discrete Dynamic Movement Primitives (DMP): the parameter vector
// layout predicted by the encoder-decoder network, and the integration of parameters into a trajectory.
package dmp

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// N is the number of radial basis functions per dimension.
	N = 25

	// Dims is the number of spatial dimensions of a trajectory (x, y).
	Dims = 2

	// VectorSize is the length of a flattened parameter vector: start and goal for each dimension,
	// followed by the N weights of each dimension.
	VectorSize = Dims*N + 2*Dims
)

// Params of a two-dimensional DMP.
type Params struct {
	Y0, Goal [Dims]float64
	W        [Dims][N]float64
}

// FromVector parses a flattened parameter vector laid out as
// [y0x, y0y, goalx, goaly, wx_0..wx_{N-1}, wy_0..wy_{N-1}].
func FromVector(v []float64) (Params, error) {
	var p Params
	if len(v) != VectorSize {
		return p, errors.Errorf("dmp.FromVector: vector has length %d, expected %d", len(v), VectorSize)
	}
	copy(p.Y0[:], v[0:Dims])
	copy(p.Goal[:], v[Dims:2*Dims])
	for d := range Dims {
		copy(p.W[d][:], v[2*Dims+d*N:2*Dims+(d+1)*N])
	}
	return p, nil
}

// Vector returns the flattened representation, the inverse of FromVector.
func (p Params) Vector() []float64 {
	v := make([]float64, 0, VectorSize)
	v = append(v, p.Y0[:]...)
	v = append(v, p.Goal[:]...)
	for d := range Dims {
		v = append(v, p.W[d][:]...)
	}
	return v
}

// IntegrateOptions configures Integrate. Zero values are replaced by the defaults.
type IntegrateOptions struct {
	// Tau is the temporal scaling, defaults to 1.
	Tau float64

	// DT is the integration time step, defaults to 0.01.
	DT float64

	// AlphaZ, BetaZ and AlphaX are the DMP gains. Defaults are 48, AlphaZ/4 and 2.
	AlphaZ, BetaZ, AlphaX float64
}

func (opts IntegrateOptions) withDefaults() IntegrateOptions {
	if opts.Tau <= 0 {
		opts.Tau = 1
	}
	if opts.DT <= 0 {
		opts.DT = 0.01
	}
	if opts.AlphaZ <= 0 {
		opts.AlphaZ = 48
	}
	if opts.BetaZ <= 0 {
		opts.BetaZ = opts.AlphaZ / 4
	}
	if opts.AlphaX <= 0 {
		opts.AlphaX = 2
	}
	return opts
}

// basis returns centers and widths of the radial basis functions, equally spaced in time.
func basis(alphaX float64) (centers, widths [N]float64) {
	for i := range N {
		centers[i] = math.Exp(-alphaX * float64(i) / float64(N-1))
	}
	for i := range N - 1 {
		d := (centers[i+1] - centers[i]) * 0.75
		widths[i] = d * d
	}
	widths[N-1] = widths[N-2]
	return
}

// Integrate the DMP with Euler steps over one time constant, returning the trajectory points
// (including the starting point).
func Integrate(p Params, opts IntegrateOptions) [][Dims]float64 {
	opts = opts.withDefaults()
	centers, widths := basis(opts.AlphaX)
	numSteps := int(math.Round(opts.Tau / opts.DT))

	y := p.Y0
	var z [Dims]float64
	x := 1.0
	trajectory := make([][Dims]float64, 0, numSteps+1)
	trajectory = append(trajectory, y)
	var psi [N]float64
	for range numSteps {
		var psiSum float64
		for i := range N {
			diff := x - centers[i]
			psi[i] = math.Exp(-0.5 * diff * diff / widths[i])
			psiSum += psi[i]
		}
		for d := range Dims {
			var f float64
			for i := range N {
				f += psi[i] * p.W[d][i]
			}
			if psiSum > 0 {
				f = f * x / psiSum
			}
			dz := (opts.AlphaZ*(opts.BetaZ*(p.Goal[d]-y[d])-z[d]) + f) / opts.Tau
			dy := z[d] / opts.Tau
			z[d] += dz * opts.DT
			y[d] += dy * opts.DT
		}
		x += -opts.AlphaX * x / opts.Tau * opts.DT
		trajectory = append(trajectory, y)
	}
	return trajectory
}

// Resample a trajectory to numPoints points, linearly interpolating on the sample index.
func Resample(trajectory [][Dims]float64, numPoints int) [][Dims]float64 {
	if numPoints <= 0 || len(trajectory) == 0 {
		return nil
	}
	out := make([][Dims]float64, numPoints)
	if len(trajectory) == 1 || numPoints == 1 {
		for ii := range out {
			out[ii] = trajectory[0]
		}
		return out
	}
	scale := float64(len(trajectory)-1) / float64(numPoints-1)
	for ii := range out {
		pos := float64(ii) * scale
		lo := int(math.Floor(pos))
		if lo >= len(trajectory)-1 {
			out[ii] = trajectory[len(trajectory)-1]
			continue
		}
		frac := pos - float64(lo)
		for d := range Dims {
			out[ii][d] = trajectory[lo][d]*(1-frac) + trajectory[lo+1][d]*frac
		}
	}
	return out
}

// RMSE returns the root-mean-square point distance between two trajectories, after resampling
// both to the length of the longest one.
func RMSE(a, b [][Dims]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.NaN()
	}
	n := max(len(a), len(b))
	a, b = Resample(a, n), Resample(b, n)
	var sum float64
	for ii := range n {
		for d := range Dims {
			diff := a[ii][d] - b[ii][d]
			sum += diff * diff
		}
	}
	return math.Sqrt(sum / float64(n))
}
