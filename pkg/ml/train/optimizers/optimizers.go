// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements a collection of ML optimizers that can be used by train.Trainer,
// or by themselves. They all implement optimizers.Interface.
//
// Hyperparameters follow the PyTorch conventions: weight decay
// is an L2 penalty added to the gradient, and learning-rate decay only applies to Adagrad.
package optimizers

import (
	"slices"
	"strings"

	"github.com/gomlx/imednet/pkg/ml/models"
	"github.com/pkg/errors"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Step updates the values of the variables (weights) of a model using their gradients
	// (models.Variable.Grad), as computed by the last backward pass.
	Step(variables []*models.Variable)
}

// Options common to all optimizers. Zero values of the optional fields mean "unset".
type Options struct {
	LearningRate float64

	// Momentum is used by "sgd" and "rmsprop".
	Momentum float64

	// LRDecay is used by "adagrad".
	LRDecay float64

	// WeightDecay is the L2 penalty coefficient.
	WeightDecay float64
}

var (
	// KnownOptimizers is a map of known optimizers by name to their constructors.
	KnownOptimizers = map[string]func(opts Options) Interface{
		"sgd": func(opts Options) Interface {
			return StochasticGradientDescent().WithLearningRate(opts.LearningRate).
				WithMomentum(opts.Momentum).WithWeightDecay(opts.WeightDecay).Done()
		},
		"adam": func(opts Options) Interface {
			return Adam().LearningRate(opts.LearningRate).WeightDecay(opts.WeightDecay).Done()
		},
		"adagrad": func(opts Options) Interface {
			return Adagrad().LearningRate(opts.LearningRate).LRDecay(opts.LRDecay).WeightDecay(opts.WeightDecay).Done()
		},
		"rmsprop": func(opts Options) Interface {
			return RMSProp().LearningRate(opts.LearningRate).Momentum(opts.Momentum).WeightDecay(opts.WeightDecay).Done()
		},
	}
)

// Names returns the sorted names of the known optimizers.
func Names() []string {
	names := make([]string, 0, len(KnownOptimizers))
	for name := range KnownOptimizers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New creates the optimizer with the given name (case-insensitive).
func New(name string, opts Options) (Interface, error) {
	constructor, found := KnownOptimizers[strings.ToLower(name)]
	if !found {
		return nil, errors.Errorf("unknown optimizer %q, valid values are %v", name, Names())
	}
	if opts.LearningRate < 0 {
		return nil, errors.Errorf("invalid learning rate %g for optimizer %q", opts.LearningRate, name)
	}
	return constructor(opts), nil
}

// gradientWithDecay returns the gradient of v, with the L2 penalty added if weightDecay != 0.
// buf is used as scratch space when needed.
func gradientWithDecay(v *models.Variable, weightDecay float64, buf *[]float64) []float64 {
	grad := v.Grad()
	if weightDecay == 0 {
		return grad
	}
	if cap(*buf) < len(grad) {
		*buf = make([]float64, len(grad))
	}
	decayed := (*buf)[:len(grad)]
	values := v.Values()
	for ii, g := range grad {
		decayed[ii] = g + weightDecay*values[ii]
	}
	return decayed
}

// stateFor returns the per-variable state slice, allocating it (zeroed) on first use.
func stateFor(state map[string][]float64, v *models.Variable) []float64 {
	s, found := state[v.Name()]
	if !found {
		s = make([]float64, v.Size())
		state[v.Name()] = s
	}
	return s
}

// SGDConfig holds the configuration of the stochastic gradient descent optimizer.
type SGDConfig struct {
	learningRate, momentum, weightDecay float64
}

// SGDDefaultLearningRate is used by SGD if no learning rate is set.
const SGDDefaultLearningRate = 0.1

// StochasticGradientDescent creates an optimizer configuration for SGD, optionally with momentum.
// Call Done when finished configuring.
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{learningRate: SGDDefaultLearningRate}
}

// WithLearningRate sets the learning rate. Negative values are ignored.
func (c *SGDConfig) WithLearningRate(learningRate float64) *SGDConfig {
	if learningRate >= 0 {
		c.learningRate = learningRate
	}
	return c
}

// WithMomentum sets the momentum factor.
func (c *SGDConfig) WithMomentum(momentum float64) *SGDConfig {
	c.momentum = momentum
	return c
}

// WithWeightDecay sets the L2 penalty.
func (c *SGDConfig) WithWeightDecay(weightDecay float64) *SGDConfig {
	c.weightDecay = weightDecay
	return c
}

// Done returns the configured optimizer.
func (c *SGDConfig) Done() Interface {
	return &sgd{config: *c, velocity: make(map[string][]float64)}
}

type sgd struct {
	config   SGDConfig
	velocity map[string][]float64
	buf      []float64
}

// Step implements Interface.
func (o *sgd) Step(variables []*models.Variable) {
	for _, v := range variables {
		grad := gradientWithDecay(v, o.config.weightDecay, &o.buf)
		values := v.Values()
		if o.config.momentum == 0 {
			for ii, g := range grad {
				values[ii] -= o.config.learningRate * g
			}
			continue
		}
		velocity, initialized := o.velocity[v.Name()]
		if !initialized {
			// First step: the velocity starts as the gradient itself.
			velocity = slices.Clone(grad)
			o.velocity[v.Name()] = velocity
		} else {
			for ii, g := range grad {
				velocity[ii] = o.config.momentum*velocity[ii] + g
			}
		}
		for ii := range values {
			values[ii] -= o.config.learningRate * velocity[ii]
		}
	}
}
