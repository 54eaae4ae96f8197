// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Split holds the sample indices of each subset of the dataset.
type Split struct {
	Train, Validation, Test []int
}

// NewIndeks returns a random permutation of numSamples indices, deterministic for the seed.
func NewIndeks(numSamples int, seed uint64) []int {
	return newRNG(seed).Perm(numSamples)
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, ^seed))
}

// ValidateIndeks checks that indeks is a permutation of [0, numSamples).
func ValidateIndeks(indeks []int, numSamples int) error {
	if len(indeks) != numSamples {
		return errors.Errorf("indeks has %d entries, dataset has %d samples", len(indeks), numSamples)
	}
	seen := make([]bool, numSamples)
	for ii, idx := range indeks {
		if idx < 0 || idx >= numSamples {
			return errors.Errorf("indeks[%d]=%d out of range [0, %d)", ii, idx, numSamples)
		}
		if seen[idx] {
			return errors.Errorf("indeks[%d]=%d is repeated", ii, idx)
		}
		seen[idx] = true
	}
	return nil
}

// SplitIndeks splits the permutation indeks in consecutive train, validation and test parts,
// sized by the ratios in params. Rounding remainders go to the test set when the ratios add up
// to 1.
func SplitIndeks(indeks []int, params Params) (*Split, error) {
	n := len(indeks)
	count := func(ratio float64) int { return int(math.Floor(float64(n)*ratio + 1e-9)) }
	numTrain := count(params.TrainingRatio)
	numValidation := count(params.ValidationRatio)
	numTest := count(params.TestRatio)
	if params.TrainingRatio+params.ValidationRatio+params.TestRatio >= 1-1e-9 {
		numTest = n - numTrain - numValidation
	}
	if numTrain == 0 || numValidation == 0 {
		return nil, errors.Errorf("not enough samples (%d) for a split with %d training and %d validation samples",
			n, numTrain, numValidation)
	}
	return &Split{
		Train:      slices.Clone(indeks[:numTrain]),
		Validation: slices.Clone(indeks[numTrain : numTrain+numValidation]),
		Test:       slices.Clone(indeks[numTrain+numValidation : numTrain+numValidation+numTest]),
	}, nil
}

// gatherRows returns a new matrix with the given rows of m, or nil if rows is empty.
func gatherRows(m *mat.Dense, rows []int) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	_, cols := m.Dims()
	out := mat.NewDense(len(rows), cols, nil)
	for ii, row := range rows {
		out.SetRow(ii, m.RawRowView(row))
	}
	return out
}
