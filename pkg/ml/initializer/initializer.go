// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer implements the parameter initializers used by the models: they fill the
// values of a parameter of a given shape, drawing random numbers from a seeded generator.
package initializer

import (
	"math"
	"math/rand/v2"
)

// Initializer fills values (the row-major storage of a tensor with the given shape).
type Initializer func(rng *rand.Rand, shape []int, values []float64)

// Variable is anything with a shape and mutable values that can be initialized.
type Variable interface {
	Shape() []int
	Values() []float64
}

// Zero initializes variables with zero.
var Zero Initializer = func(_ *rand.Rand, _ []int, values []float64) {
	clear(values)
}

// Uniform returns an initializer that generates random uniform values from [minValue, maxValue).
func Uniform(minValue, maxValue float64) Initializer {
	return func(rng *rand.Rand, _ []int, values []float64) {
		for ii := range values {
			values[ii] = minValue + rng.Float64()*(maxValue-minValue)
		}
	}
}

// computeFanInFanOut of a dense layer weight, stored as (out, in).
func computeFanInFanOut(shape []int) (fanIn, fanOut int) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return shape[0], shape[0]
	default:
		receptiveFieldSize := 1
		for _, dim := range shape[2:] {
			receptiveFieldSize *= dim
		}
		return shape[1] * receptiveFieldSize, shape[0] * receptiveFieldSize
	}
}

// XavierUniform returns an initializer that generates random values with a uniform distribution in
// the range +/- gain*sqrt(6 / (fanIn+fanOut)).
//
// Weights are expected in (out, in) layout. Variables with rank <= 1 (biases) are initialized to zero.
func XavierUniform(gain float64) Initializer {
	return func(rng *rand.Rand, shape []int, values []float64) {
		if len(shape) <= 1 {
			clear(values)
			return
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		limit := gain * math.Sqrt(6.0/float64(max(1, fanIn+fanOut)))
		Uniform(-limit, limit)(rng, shape, values)
	}
}

// NewRNG returns the random number generator used for a given seed.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Apply initializes all variables in order with a generator seeded with seed: 1-D variables are
// set to zero and the others are drawn with XavierUniform(1).
func Apply[V Variable](variables []V, seed uint64) {
	rng := NewRNG(seed)
	xavier := XavierUniform(1)
	for _, v := range variables {
		if len(v.Shape()) == 1 {
			Zero(rng, v.Shape(), v.Values())
		} else {
			xavier(rng, v.Shape(), v.Values())
		}
	}
}
