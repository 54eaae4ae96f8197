// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train implements the training of the encoder-decoder model: splitting the dataset,
// running epochs of mini-batch gradient descent and stopping early when the validation loss
// stops improving.
//
// Functionality like progress bars, plots and checkpointing are attached to the Trainer.Loop
// as hooks.
package train

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/gomlx/imednet/pkg/data/smnist"
	"github.com/gomlx/imednet/pkg/ml/models"
	"github.com/gomlx/imednet/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Params of the training.
type Params struct {
	// Epochs is the maximum number of epochs, or -1 to train until early stopping.
	Epochs int

	// BatchSize of the mini-batches. The last batch of an epoch may be smaller.
	BatchSize int

	// TrainingRatio, ValidationRatio and TestRatio are the fractions of the dataset used for each subset.
	TrainingRatio, ValidationRatio, TestRatio float64

	// ValFail is the number of consecutive epochs without improvement of the validation loss after
	// which training stops.
	ValFail int

	// Seed for the dataset permutation and the batch shuffling.
	Seed uint64
}

// DefaultParams returns the default training parameters.
func DefaultParams() Params {
	return Params{
		Epochs:          -1,
		BatchSize:       100,
		TrainingRatio:   0.7,
		ValidationRatio: 0.15,
		TestRatio:       0.15,
		ValFail:         60,
	}
}

// Validate returns an error if the parameters are not usable.
func (p Params) Validate() error {
	if p.BatchSize <= 0 {
		return errors.Errorf("invalid batch size %d", p.BatchSize)
	}
	if p.ValFail <= 0 {
		return errors.Errorf("invalid val_fail %d", p.ValFail)
	}
	if p.Epochs == 0 || p.Epochs < -1 {
		return errors.Errorf("invalid number of epochs %d, use -1 for unbounded", p.Epochs)
	}
	for _, ratio := range []float64{p.TrainingRatio, p.ValidationRatio, p.TestRatio} {
		if ratio < 0 || ratio > 1 || math.IsNaN(ratio) {
			return errors.Errorf("invalid split ratios %g/%g/%g", p.TrainingRatio, p.ValidationRatio, p.TestRatio)
		}
	}
	if sum := p.TrainingRatio + p.ValidationRatio + p.TestRatio; sum > 1+1e-9 {
		return errors.Errorf("split ratios add up to %g > 1", sum)
	}
	return nil
}

// StopReason tells why training stopped.
type StopReason string

// Stop reasons.
const (
	StopValFail   StopReason = "val_fail"
	StopMaxEpochs StopReason = "max_epochs"
	StopCancelled StopReason = "cancelled"
	StopRequested StopReason = "stop_requested"

	// StopError is set on the Result given to the OnEnd hooks when training fails.
	StopError StopReason = "error"
)

// ErrNonFiniteLoss is returned when the loss becomes NaN or infinite.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// Result of a training run.
type Result struct {
	// BestParameters are the model parameters of the epoch with the lowest validation loss.
	BestParameters models.StateDict

	// BestEpoch is the epoch (starting from 0) of BestParameters, and BestValidationLoss its loss.
	BestEpoch          int
	BestValidationLoss float64

	// TestLoss of the BestParameters on the test set. NaN if the test set is empty.
	TestLoss float64

	// Epochs is the number of epochs run.
	Epochs int

	// Indeks is the sample permutation that defined the split.
	Indeks []int

	StopReason StopReason
	Duration   time.Duration
}

// Trainer trains a model with an optimizer.
type Trainer struct {
	model     *models.EncoderDecoder
	optimizer optimizers.Interface
	params    Params

	// Loop to which hooks can be attached before calling Train.
	Loop *Loop

	// Indeks is the sample permutation used to split the dataset. If set before Train (e.g. loaded
	// from a previous run) it is reused, otherwise a new one is drawn from Params.Seed.
	// After Train it holds the permutation used.
	Indeks []int

	// StopRequestFn, if set, is checked before each epoch: if it returns true training stops,
	// keeping the best parameters so far.
	StopRequestFn func() bool
}

// NewTrainer creates a trainer for the model.
func NewTrainer(model *models.EncoderDecoder, optimizer optimizers.Interface, params Params) *Trainer {
	t := &Trainer{
		model:     model,
		optimizer: optimizer,
		params:    params,
	}
	t.Loop = newLoop(t)
	return t
}

// Model being trained.
func (t *Trainer) Model() *models.EncoderDecoder { return t.model }

// Params used for training.
func (t *Trainer) Params() Params { return t.params }

// subsets of the dataset, as matrices.
type subsets struct {
	trainX, trainY, valX, valY, testX, testY *mat.Dense
}

// Train the model on the dataset until one of the stopping conditions is met: ValFail epochs
// without improvement, Params.Epochs reached, ctx cancelled or a stop requested.
//
// On return the model holds the best parameters found.
func (t *Trainer) Train(ctx context.Context, ds *smnist.Dataset) (*Result, error) {
	startTime := time.Now()
	if err := t.params.Validate(); err != nil {
		return nil, err
	}
	numSamples := ds.NumSamples()
	if t.Indeks == nil {
		t.Indeks = NewIndeks(numSamples, t.params.Seed)
	} else if err := ValidateIndeks(t.Indeks, numSamples); err != nil {
		return nil, errors.WithMessage(err, "invalid resumption indeks")
	}
	split, err := SplitIndeks(t.Indeks, t.params)
	if err != nil {
		return nil, err
	}
	data := &subsets{
		trainX: gatherRows(ds.Images, split.Train),
		trainY: gatherRows(ds.Outputs, split.Train),
		valX:   gatherRows(ds.Images, split.Validation),
		valY:   gatherRows(ds.Outputs, split.Validation),
		testX:  gatherRows(ds.Images, split.Test),
		testY:  gatherRows(ds.Outputs, split.Test),
	}
	klog.V(1).Infof("Split %d samples: %d train, %d validation, %d test",
		numSamples, len(split.Train), len(split.Validation), len(split.Test))

	loop := t.Loop
	loop.reset(t.params.Epochs)
	result := &Result{
		BestEpoch:          -1,
		BestValidationLoss: math.Inf(1),
		TestLoss:           math.NaN(),
		Indeks:             slices.Clone(t.Indeks),
	}
	// fail runs the OnEnd hooks before returning err, so they can release their resources.
	fail := func(err error) (*Result, error) {
		result.StopReason = StopError
		result.Duration = time.Since(startTime)
		if endErr := loop.end(result); endErr != nil {
			klog.Warningf("Failed to finish the training loop after an error: %+v", endErr)
		}
		return nil, err
	}
	if err := loop.start(split); err != nil {
		return fail(err)
	}

	rng := newRNG(t.params.Seed + 1)
	order := make([]int, len(split.Train))
	for ii := range order {
		order[ii] = ii
	}
	var failCount int
	for epoch := 0; ; epoch++ {
		if t.params.Epochs > 0 && epoch >= t.params.Epochs {
			result.StopReason = StopMaxEpochs
			break
		}
		if ctx.Err() != nil {
			result.StopReason = StopCancelled
			break
		}
		if t.StopRequestFn != nil && t.StopRequestFn() {
			result.StopReason = StopRequested
			break
		}
		loop.Epoch = epoch
		epochStart := time.Now()
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		trainLoss, err := t.trainEpoch(data, order)
		if err != nil {
			return fail(errors.WithMessagef(err, "epoch %d", epoch))
		}
		valLoss := t.model.Loss(data.valX, data.valY)
		if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
			return fail(errors.Wrapf(ErrNonFiniteLoss, "validation loss %g at epoch %d", valLoss, epoch))
		}
		result.Epochs = epoch + 1

		improved := valLoss < result.BestValidationLoss
		if improved {
			result.BestValidationLoss = valLoss
			result.BestEpoch = epoch
			result.BestParameters = t.model.StateDict()
			failCount = 0
		} else {
			failCount++
		}
		metrics := EpochMetrics{
			Epoch:              epoch,
			TrainLoss:          trainLoss,
			ValidationLoss:     valLoss,
			Improved:           improved,
			BestEpoch:          result.BestEpoch,
			BestValidationLoss: result.BestValidationLoss,
			FailCount:          failCount,
			Duration:           time.Since(epochStart),
		}
		klog.V(1).Infof("Epoch %d: train loss %.6g, validation loss %.6g (best %.6g at epoch %d, fail count %d)",
			epoch, trainLoss, valLoss, result.BestValidationLoss, result.BestEpoch, failCount)
		if err := loop.epochEnd(metrics); err != nil {
			return fail(err)
		}
		if failCount >= t.params.ValFail {
			result.StopReason = StopValFail
			break
		}
	}

	if result.BestParameters != nil {
		if err := t.model.LoadStateDict(result.BestParameters); err != nil {
			return fail(errors.WithMessage(err, "restoring best parameters"))
		}
	} else {
		// Stopped before the first epoch: the current parameters are the best known.
		result.BestParameters = t.model.StateDict()
	}
	if data.testX != nil {
		result.TestLoss = t.model.Loss(data.testX, data.testY)
	}
	result.Duration = time.Since(startTime)
	klog.Infof("Training stopped (%s) after %d epochs: best validation loss %.6g at epoch %d, test loss %.6g",
		result.StopReason, result.Epochs, result.BestValidationLoss, result.BestEpoch, result.TestLoss)
	if err := loop.end(result); err != nil {
		return nil, err
	}
	return result, nil
}

// trainEpoch runs one pass over the training data in the given order, and returns the mean loss
// weighted by batch size.
func (t *Trainer) trainEpoch(data *subsets, order []int) (float64, error) {
	_, inputSize := data.trainX.Dims()
	_, outputSize := data.trainY.Dims()
	variables := t.model.Variables()
	var sumLoss float64
	for start := 0; start < len(order); start += t.params.BatchSize {
		batch := order[start:min(start+t.params.BatchSize, len(order))]
		batchX := mat.NewDense(len(batch), inputSize, nil)
		batchY := mat.NewDense(len(batch), outputSize, nil)
		for ii, row := range batch {
			batchX.SetRow(ii, data.trainX.RawRowView(row))
			batchY.SetRow(ii, data.trainY.RawRowView(row))
		}
		loss := t.model.Backward(batchX, batchY)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, errors.Wrapf(ErrNonFiniteLoss, "training loss %g at batch starting at %d", loss, start)
		}
		t.optimizer.Step(variables)
		sumLoss += loss * float64(len(batch))
	}
	return sumLoss / float64(len(order)), nil
}
