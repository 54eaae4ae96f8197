// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models implements the encoder-decoder network that maps flattened digit images to
// normalized DMP parameter vectors.
//
// The network is a stack of dense layers: tanh on the hidden layers and identity on the output.
// Its variables are named like their PyTorch counterparts ("layers.<i>.weight" with shape (out, in)
// and "layers.<i>.bias"), so state dictionaries are interchangeable with PyTorch ones.
package models

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/gomlx/imednet/pkg/ml/initializer"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// InputSize of the network: one 40x40 image.
	InputSize = smnist.InputSize

	// OutputSize of the network: one DMP parameter vector.
	OutputSize = smnist.OutputSize

	// EncoderDecoderName is the model name recorded in the architecture description.
	EncoderDecoderName = "EncoderDecoder"
)

var (
	// ErrInvalidArchitecture is wrapped by errors about invalid layer sizes or scale.
	ErrInvalidArchitecture = errors.New("invalid architecture")

	// ErrShapeMismatch is wrapped by errors loading a state dictionary not matching the model.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// LayerSizes returns the full list of layer widths for the given hidden layer sizes:
// [InputSize] + hidden + [OutputSize].
func LayerSizes(hidden []int) []int {
	sizes := make([]int, 0, len(hidden)+2)
	sizes = append(sizes, InputSize)
	sizes = append(sizes, hidden...)
	return append(sizes, OutputSize)
}

// Architecture describes the model, and is what is saved as the model file of a checkpoint.
type Architecture struct {
	Model            string `json:"model"`
	LayerSizes       []int  `json:"layer_sizes"`
	HiddenActivation string `json:"hidden_activation"`
	OutputActivation string `json:"output_activation"`
	NumParameters    int    `json:"num_parameters"`
}

type dense struct {
	in, out      int
	weight, bias *Variable
	weightMat    *mat.Dense // (out, in), shares storage with weight.
}

// EncoderDecoder network.
type EncoderDecoder struct {
	layerSizes []int
	scale      *smnist.Scale
	layers     []*dense
	variables  []*Variable
}

// NewEncoderDecoder creates the network with the given layer widths (see LayerSizes) and the
// scale used to denormalize its predictions. Variables are zero until initialized with
// InitializeRandomly or LoadStateDict.
func NewEncoderDecoder(layerSizes []int, scale *smnist.Scale) (*EncoderDecoder, error) {
	if len(layerSizes) < 2 {
		return nil, errors.Wrapf(ErrInvalidArchitecture, "needs at least 2 layer sizes (input and output), got %v", layerSizes)
	}
	if layerSizes[0] != InputSize {
		return nil, errors.Wrapf(ErrInvalidArchitecture, "first layer size must be %d, got %d", InputSize, layerSizes[0])
	}
	if last := layerSizes[len(layerSizes)-1]; last != OutputSize {
		return nil, errors.Wrapf(ErrInvalidArchitecture, "last layer size must be %d, got %d", OutputSize, last)
	}
	for ii, size := range layerSizes {
		if size <= 0 {
			return nil, errors.Wrapf(ErrInvalidArchitecture, "layer #%d has invalid size %d", ii, size)
		}
	}
	if err := scale.Validate(OutputSize); err != nil {
		return nil, errors.Wrapf(ErrInvalidArchitecture, "%v", err)
	}

	m := &EncoderDecoder{
		layerSizes: slices.Clone(layerSizes),
		scale:      scale,
	}
	for ii := range len(layerSizes) - 1 {
		in, out := layerSizes[ii], layerSizes[ii+1]
		layer := &dense{
			in:     in,
			out:    out,
			weight: newVariable(fmt.Sprintf("layers.%d.weight", ii), out, in),
			bias:   newVariable(fmt.Sprintf("layers.%d.bias", ii), out),
		}
		layer.weightMat = mat.NewDense(out, in, layer.weight.values)
		m.layers = append(m.layers, layer)
		m.variables = append(m.variables, layer.weight, layer.bias)
	}
	return m, nil
}

// FromArchitecture creates the model described by arch.
func FromArchitecture(arch *Architecture, scale *smnist.Scale) (*EncoderDecoder, error) {
	if arch.Model != EncoderDecoderName {
		return nil, errors.Wrapf(ErrInvalidArchitecture, "unknown model %q", arch.Model)
	}
	return NewEncoderDecoder(arch.LayerSizes, scale)
}

// Architecture returns the description of the model.
func (m *EncoderDecoder) Architecture() *Architecture {
	return &Architecture{
		Model:            EncoderDecoderName,
		LayerSizes:       slices.Clone(m.layerSizes),
		HiddenActivation: "tanh",
		OutputActivation: "identity",
		NumParameters:    m.NumParameters(),
	}
}

// LayerSizes returns a copy of the layer widths, including input and output.
func (m *EncoderDecoder) LayerSizes() []int { return slices.Clone(m.layerSizes) }

// Scale used to denormalize predictions.
func (m *EncoderDecoder) Scale() *smnist.Scale { return m.scale }

// Variables of the model, in layer order (weight then bias of each layer).
func (m *EncoderDecoder) Variables() []*Variable { return m.variables }

// NumParameters returns the total number of scalar parameters.
func (m *EncoderDecoder) NumParameters() int {
	var total int
	for _, v := range m.variables {
		total += v.Size()
	}
	return total
}

// InitializeRandomly sets biases to zero and draws the weights with Xavier-uniform (gain 1),
// deterministically for a given seed.
func (m *EncoderDecoder) InitializeRandomly(seed uint64) {
	initializer.Apply(m.variables, seed)
}

// StateDict returns a copy of the variable values by name.
func (m *EncoderDecoder) StateDict() StateDict { return stateDict(m.variables) }

// LoadStateDict sets the variable values from sd, which must have exactly the model's variables
// with matching shapes.
func (m *EncoderDecoder) LoadStateDict(sd StateDict) error {
	return loadStateDict(m.variables, sd)
}

// forward returns the activations of every layer, starting with the input itself.
func (m *EncoderDecoder) forward(x mat.Matrix) []mat.Matrix {
	rows, cols := x.Dims()
	if cols != InputSize {
		panic(errors.Wrapf(ErrShapeMismatch, "input has %d columns, expected %d", cols, InputSize))
	}
	activations := make([]mat.Matrix, 0, len(m.layers)+1)
	activations = append(activations, x)
	lastLayer := len(m.layers) - 1
	for li, layer := range m.layers {
		z := mat.NewDense(rows, layer.out, nil)
		z.Mul(activations[li], layer.weightMat.T())
		bias := layer.bias.values
		if li < lastLayer {
			z.Apply(func(_, j int, v float64) float64 { return math.Tanh(v + bias[j]) }, z)
		} else {
			z.Apply(func(_, j int, v float64) float64 { return v + bias[j] }, z)
		}
		activations = append(activations, z)
	}
	return activations
}

// Forward returns the normalized predictions for the images in x (one flattened image per row).
func (m *EncoderDecoder) Forward(x mat.Matrix) *mat.Dense {
	activations := m.forward(x)
	return activations[len(activations)-1].(*mat.Dense)
}

// Predict returns the denormalized DMP parameter vectors for the images in x.
func (m *EncoderDecoder) Predict(x mat.Matrix) *mat.Dense {
	return m.scale.Denormalize(m.Forward(x))
}

// meanSquaredError of predictions against targets, with the difference left in diff.
func meanSquaredError(predictions, targets mat.Matrix) (loss float64, diff *mat.Dense) {
	rows, cols := predictions.Dims()
	if tRows, tCols := targets.Dims(); tRows != rows || tCols != cols {
		panic(errors.Wrapf(ErrShapeMismatch, "targets have shape (%d, %d), predictions (%d, %d)", tRows, tCols, rows, cols))
	}
	diff = mat.NewDense(rows, cols, nil)
	diff.Sub(predictions, targets)
	var sum float64
	for _, v := range diff.RawMatrix().Data {
		sum += v * v
	}
	return sum / float64(rows*cols), diff
}

// Loss returns the mean squared error of the model on images x against normalized targets y.
func (m *EncoderDecoder) Loss(x, y mat.Matrix) float64 {
	loss, _ := meanSquaredError(m.Forward(x), y)
	return loss
}

// Backward runs the model on x, computes the mean squared error against y and stores the gradients
// of the loss in every Variable.Grad. It returns the loss.
func (m *EncoderDecoder) Backward(x, y mat.Matrix) float64 {
	activations := m.forward(x)
	loss, delta := meanSquaredError(activations[len(activations)-1], y)
	rows, cols := delta.Dims()
	delta.Scale(2/float64(rows*cols), delta)

	for li := len(m.layers) - 1; li >= 0; li-- {
		layer := m.layers[li]
		input := activations[li]

		gradWeight := mat.NewDense(layer.out, layer.in, layer.weight.grad)
		gradWeight.Mul(delta.T(), input)
		gradBias := layer.bias.grad
		clear(gradBias)
		for i := range rows {
			for j, v := range delta.RawRowView(i) {
				gradBias[j] += v
			}
		}
		if li == 0 {
			break
		}

		// Back-propagate through the weights and the tanh of the previous layer.
		previous := mat.NewDense(rows, layer.in, nil)
		previous.Mul(delta, layer.weightMat)
		previous.Apply(func(i, j int, v float64) float64 {
			a := input.At(i, j)
			return v * (1 - a*a)
		}, previous)
		delta = previous
	}
	return loss
}

// String implements fmt.Stringer.
func (m *EncoderDecoder) String() string {
	return fmt.Sprintf("%s(layers=%v)", EncoderDecoderName, m.layerSizes)
}
