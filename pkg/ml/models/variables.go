// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"slices"

	"github.com/gomlx/imednet/pkg/core/numpy"
	"github.com/pkg/errors"
)

// Variable (or weights) of a model, learned during training.
//
// Its values are stored row-major and shared with the matrices used by the model, so updating
// Values in place (as the optimizers do) changes the model.
//
// Always use it by reference (pointer), never by value.
type Variable struct {
	name   string
	shape  []int
	values []float64
	grad   []float64
}

func newVariable(name string, shape ...int) *Variable {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Variable{
		name:   name,
		shape:  shape,
		values: make([]float64, size),
		grad:   make([]float64, size),
	}
}

// Name of the variable, as used in the state dictionary (e.g. "layers.0.weight").
func (v *Variable) Name() string { return v.name }

// Shape of the variable. Don't modify it.
func (v *Variable) Shape() []int { return v.shape }

// Size is the number of values of the variable.
func (v *Variable) Size() int { return len(v.values) }

// Values of the variable, row-major.
func (v *Variable) Values() []float64 { return v.values }

// Grad holds the gradient of the loss with respect to the variable, as computed by the last call to
// EncoderDecoder.Backward.
func (v *Variable) Grad() []float64 { return v.grad }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	return fmt.Sprintf("%s%v", v.name, v.shape)
}

// StateDict maps variable names to copies of their values.
type StateDict map[string]*numpy.Array

// Clone returns a deep copy of the state dictionary.
func (sd StateDict) Clone() StateDict {
	clone := make(StateDict, len(sd))
	for name, array := range sd {
		clone[name] = numpy.New(array.DType, slices.Clone(array.Data), slices.Clone(array.Shape)...)
	}
	return clone
}

// stateDict of the given variables.
func stateDict(variables []*Variable) StateDict {
	sd := make(StateDict, len(variables))
	for _, v := range variables {
		sd[v.name] = numpy.New(numpy.Float64, slices.Clone(v.values), slices.Clone(v.shape)...)
	}
	return sd
}

// loadStateDict copies the values from sd into the variables. Missing, extra or mis-shaped
// entries are an error, in which case the variables are left unchanged.
func loadStateDict(variables []*Variable, sd StateDict) error {
	if len(sd) != len(variables) {
		return errors.Wrapf(ErrShapeMismatch, "state dict has %d entries, model has %d variables", len(sd), len(variables))
	}
	for _, v := range variables {
		array, found := sd[v.name]
		if !found {
			return errors.Wrapf(ErrShapeMismatch, "state dict is missing variable %q", v.name)
		}
		if !slices.Equal(array.Shape, v.shape) {
			return errors.Wrapf(ErrShapeMismatch, "variable %q has shape %v, state dict has %v", v.name, v.shape, array.Shape)
		}
	}
	for _, v := range variables {
		copy(v.values, sd[v.name].Data)
	}
	return nil
}
