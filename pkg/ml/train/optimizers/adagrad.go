// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/imednet/pkg/ml/models"
)

// AdagradDefaultLearningRate is used by Adagrad if no learning rate is set.
const AdagradDefaultLearningRate = 0.01

// Adagrad optimizer: the learning rate of each parameter is divided by the square root of the
// sum of its past squared gradients. The base learning rate decays as lr / (1 + (step-1)*lrDecay).
func Adagrad() *AdagradConfig {
	return &AdagradConfig{
		learningRate: AdagradDefaultLearningRate,
		epsilon:      1e-10,
	}
}

// AdagradConfig holds the configuration of the Adagrad optimizer.
type AdagradConfig struct {
	learningRate, lrDecay, epsilon, weightDecay float64
}

// LearningRate sets the base learning rate. Negative values are ignored.
func (c *AdagradConfig) LearningRate(value float64) *AdagradConfig {
	if value >= 0 {
		c.learningRate = value
	}
	return c
}

// LRDecay sets the learning rate decay.
func (c *AdagradConfig) LRDecay(lrDecay float64) *AdagradConfig {
	c.lrDecay = lrDecay
	return c
}

// WeightDecay configures the optimizer to add an L2 penalty to the gradient.
func (c *AdagradConfig) WeightDecay(weightDecay float64) *AdagradConfig {
	c.weightDecay = weightDecay
	return c
}

// Done returns the configured optimizer.
func (c *AdagradConfig) Done() Interface {
	return &adagrad{config: *c, sums: make(map[string][]float64)}
}

type adagrad struct {
	config AdagradConfig
	step   int
	sums   map[string][]float64
	buf    []float64
}

// Step implements Interface.
func (o *adagrad) Step(variables []*models.Variable) {
	o.step++
	c := &o.config
	learningRate := c.learningRate / (1 + float64(o.step-1)*c.lrDecay)
	for _, v := range variables {
		grad := gradientWithDecay(v, c.weightDecay, &o.buf)
		sums := stateFor(o.sums, v)
		values := v.Values()
		for ii, g := range grad {
			sums[ii] += g * g
			values[ii] -= learningRate * g / (math.Sqrt(sums[ii]) + c.epsilon)
		}
	}
}
