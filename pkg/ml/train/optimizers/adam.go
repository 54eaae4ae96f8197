// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/imednet/pkg/ml/models"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001

	// RMSPropDefaultLearningRate is used by RMSProp if no learning rate is set.
	RMSPropDefaultLearningRate = 0.01
)

// Adam optimizer, as described in https://arxiv.org/abs/1412.6980.
//
// It returns a configuration object that can be used to set its parameters. Once configured
// call Done and it will return an optimizer.Interface.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
	}
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam based optimizer.Interface.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	weightDecay  float64
}

// LearningRate sets the base learning rate. Negative values are ignored.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	if value >= 0 {
		c.learningRate = value
	}
	return c
}

// WeightDecay configures the optimizer to add an L2 penalty to the gradient.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// Done will finish the configuration and construct an optimizer.Interface that implements Adam
// with the configuration.
func (c *AdamConfig) Done() Interface {
	return &adam{
		config:       *c,
		firstMoment:  make(map[string][]float64),
		secondMoment: make(map[string][]float64),
	}
}

type adam struct {
	config                    AdamConfig
	step                      int
	firstMoment, secondMoment map[string][]float64
	buf                       []float64
}

// Step implements Interface.
func (o *adam) Step(variables []*models.Variable) {
	o.step++
	c := &o.config
	biasCorrection1 := 1 - math.Pow(c.beta1, float64(o.step))
	biasCorrection2 := 1 - math.Pow(c.beta2, float64(o.step))
	stepSize := c.learningRate / biasCorrection1
	for _, v := range variables {
		grad := gradientWithDecay(v, c.weightDecay, &o.buf)
		m1 := stateFor(o.firstMoment, v)
		m2 := stateFor(o.secondMoment, v)
		values := v.Values()
		for ii, g := range grad {
			m1[ii] = c.beta1*m1[ii] + (1-c.beta1)*g
			m2[ii] = c.beta2*m2[ii] + (1-c.beta2)*g*g
			denominator := math.Sqrt(m2[ii])/math.Sqrt(biasCorrection2) + c.epsilon
			values[ii] -= stepSize * m1[ii] / denominator
		}
	}
}

// RMSProp optimizer: it divides the gradient by a running average of its recent magnitude.
//
// It returns a configuration object that can be used to set its parameters. Once configured
// call Done and it will return an optimizer.Interface.
func RMSProp() *RMSPropConfig {
	return &RMSPropConfig{
		learningRate: RMSPropDefaultLearningRate,
		alpha:        0.99,
		epsilon:      1e-8,
	}
}

// RMSPropConfig holds the configuration of the RMSProp optimizer.
type RMSPropConfig struct {
	learningRate, alpha, epsilon, momentum, weightDecay float64
}

// LearningRate sets the base learning rate. Negative values are ignored.
func (c *RMSPropConfig) LearningRate(value float64) *RMSPropConfig {
	if value >= 0 {
		c.learningRate = value
	}
	return c
}

// Momentum sets the momentum factor applied to the normalized updates.
func (c *RMSPropConfig) Momentum(momentum float64) *RMSPropConfig {
	c.momentum = momentum
	return c
}

// WeightDecay configures the optimizer to add an L2 penalty to the gradient.
func (c *RMSPropConfig) WeightDecay(weightDecay float64) *RMSPropConfig {
	c.weightDecay = weightDecay
	return c
}

// Done returns the configured optimizer.
func (c *RMSPropConfig) Done() Interface {
	return &rmsprop{
		config:   *c,
		squares:  make(map[string][]float64),
		velocity: make(map[string][]float64),
	}
}

type rmsprop struct {
	config            RMSPropConfig
	squares, velocity map[string][]float64
	buf               []float64
}

// Step implements Interface.
func (o *rmsprop) Step(variables []*models.Variable) {
	c := &o.config
	for _, v := range variables {
		grad := gradientWithDecay(v, c.weightDecay, &o.buf)
		squares := stateFor(o.squares, v)
		var velocity []float64
		if c.momentum > 0 {
			velocity = stateFor(o.velocity, v)
		}
		values := v.Values()
		for ii, g := range grad {
			squares[ii] = c.alpha*squares[ii] + (1-c.alpha)*g*g
			update := g / (math.Sqrt(squares[ii]) + c.epsilon)
			if velocity != nil {
				velocity[ii] = c.momentum*velocity[ii] + update
				update = velocity[ii]
			}
			values[ii] -= c.learningRate * update
		}
	}
}
