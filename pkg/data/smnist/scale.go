// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package smnist

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Scale is the per-feature min/max normalization applied to the DMP outputs: the raw range
// [XMin[i], XMax[i]] of each feature is mapped linearly to [YMin, YMax].
type Scale struct {
	XMin, XMax []float64
	YMin, YMax float64
}

// NewScale computes the column-wise min/max of raw, with the target range [-1, 1].
func NewScale(raw mat.Matrix) *Scale {
	rows, cols := raw.Dims()
	s := &Scale{
		XMin: make([]float64, cols),
		XMax: make([]float64, cols),
		YMin: -1,
		YMax: 1,
	}
	for j := range cols {
		s.XMin[j], s.XMax[j] = raw.At(0, j), raw.At(0, j)
		for i := 1; i < rows; i++ {
			v := raw.At(i, j)
			s.XMin[j] = min(s.XMin[j], v)
			s.XMax[j] = max(s.XMax[j], v)
		}
	}
	return s
}

// Len returns the number of features.
func (s *Scale) Len() int { return len(s.XMin) }

// Validate checks the scale is consistent and has numFeatures features.
func (s *Scale) Validate(numFeatures int) error {
	if s == nil {
		return errors.New("scale is nil")
	}
	if len(s.XMin) != numFeatures || len(s.XMax) != numFeatures {
		return errors.Errorf("scale has %d/%d (min/max) features, expected %d", len(s.XMin), len(s.XMax), numFeatures)
	}
	if s.YMax <= s.YMin {
		return errors.Errorf("invalid scale target range [%g, %g]", s.YMin, s.YMax)
	}
	return nil
}

// NormalizeValue maps a raw value of feature j to the target range.
// Constant features (XMax == XMin) map to YMin.
func (s *Scale) NormalizeValue(j int, x float64) float64 {
	span := s.XMax[j] - s.XMin[j]
	if span == 0 {
		return s.YMin
	}
	return (s.YMax-s.YMin)*(x-s.XMin[j])/span + s.YMin
}

// DenormalizeValue is the inverse of NormalizeValue.
func (s *Scale) DenormalizeValue(j int, y float64) float64 {
	span := s.XMax[j] - s.XMin[j]
	return (y-s.YMin)*span/(s.YMax-s.YMin) + s.XMin[j]
}

// Normalize returns a new matrix with every column normalized.
func (s *Scale) Normalize(raw mat.Matrix) *mat.Dense {
	return s.apply(raw, s.NormalizeValue)
}

// Denormalize returns a new matrix with every column mapped back to the raw range.
func (s *Scale) Denormalize(scaled mat.Matrix) *mat.Dense {
	return s.apply(scaled, s.DenormalizeValue)
}

func (s *Scale) apply(m mat.Matrix, fn func(j int, v float64) float64) *mat.Dense {
	rows, cols := m.Dims()
	if cols != s.Len() {
		panic(errors.Errorf("scale has %d features, matrix has %d columns", s.Len(), cols))
	}
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, v float64) float64 { return fn(j, v) }, m)
	return out
}

// String implements fmt.Stringer.
func (s *Scale) String() string {
	return fmt.Sprintf("Scale(%d features -> [%g, %g])", s.Len(), s.YMin, s.YMax)
}
