// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks. It is called after the dataset is split, before the
// first epoch.
type OnStartFn func(loop *Loop, split *Split) error

// OnEpochFn is the type of OnEpoch hooks, called after each epoch is trained and validated.
type OnEpochFn func(loop *Loop, metrics EpochMetrics) error

// OnEndFn is the type of OnEnd hooks, called after training stops, with the final result.
type OnEndFn func(loop *Loop, result *Result) error

// EpochMetrics are the metrics of one finished epoch.
type EpochMetrics struct {
	// Epoch number, starting from 0.
	Epoch int

	// TrainLoss is the mean loss over the training batches of the epoch, and ValidationLoss the loss
	// over the whole validation set after the epoch.
	TrainLoss, ValidationLoss float64

	// Improved is true if ValidationLoss is the best so far.
	Improved bool

	// BestEpoch and BestValidationLoss so far, including this epoch.
	BestEpoch          int
	BestValidationLoss float64

	// FailCount is the number of consecutive epochs without improvement.
	FailCount int

	// Duration of the epoch, including validation.
	Duration time.Duration
}

// Loop holds the state of a training run and the hooks attached to it: by itself it doesn't do
// much, but one can attach functionality to it, like progress bars, plotting tools or
// checkpointing.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// Trainer associated with this loop.
	Trainer *Trainer

	// Epoch currently being executed, or the last one executed after training.
	Epoch int

	// MaxEpochs is Params.Epochs: -1 if the number of epochs is not bounded.
	MaxEpochs int

	// History of the metrics of all finished epochs.
	History []EpochMetrics

	// EpochDurations collected during training.
	EpochDurations []time.Duration

	// Registered hooks.
	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onEpoch *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// newLoop creates the loop owned by trainer.
func newLoop(trainer *Trainer) *Loop {
	return &Loop{
		Trainer: trainer,
		onStart: newPriorityHooks[*hookWithName[OnStartFn]](),
		onEpoch: newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:   newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// reset the run state, keeping the hooks.
func (loop *Loop) reset(maxEpochs int) {
	loop.Epoch = 0
	loop.MaxEpochs = maxEpochs
	loop.History = nil
	loop.EpochDurations = nil
}

// start of loop: it calls the OnStart hooks.
func (loop *Loop) start(split *Split) error {
	for hook := range loop.onStart.All() {
		if err := hook.fn(loop, split); err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

// epochEnd records the metrics and calls the OnEpoch hooks.
func (loop *Loop) epochEnd(metrics EpochMetrics) error {
	loop.History = append(loop.History, metrics)
	loop.EpochDurations = append(loop.EpochDurations, metrics.Duration)
	for hook := range loop.onEpoch.All() {
		if err := hook.fn(loop, metrics); err != nil {
			return errors.WithMessagef(err, "OnEpoch(hook %q, epoch=%d)", hook.name, metrics.Epoch)
		}
	}
	return nil
}

// end of loop: it calls the OnEnd hooks.
func (loop *Loop) end(result *Result) error {
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop, result); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// MedianEpochDuration returns the median duration of each epoch. It returns 1 millisecond
// if no epoch was recorded (to avoid potential division by 0).
func (loop *Loop) MedianEpochDuration() time.Duration {
	if len(loop.EpochDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.EpochDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{
		name: name,
		fn:   fn,
	})
}

// OnEpoch adds a hook with given priority and name (for error reporting) called after each epoch.
func (loop *Loop) OnEpoch(name string, priority Priority, fn OnEpochFn) {
	loop.onEpoch.Add(priority, &hookWithName[OnEpochFn]{
		name: name,
		fn:   fn,
	})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop,
// after the last epoch.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{
		name: name,
		fn:   fn,
	})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all registered hooks in priority order.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i] < keys[j]
		})
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
