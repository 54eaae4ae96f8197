// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
)

type everyNEpochs struct {
	n  int
	fn OnEpochFn
}

func (eN *everyNEpochs) onEpoch(loop *Loop, metrics EpochMetrics) error {
	if (metrics.Epoch+1)%eN.n != 0 {
		return nil
	}
	return eN.fn(loop, metrics)
}

// EveryNEpochs registers a OnEpoch hook on the loop that is called every N epochs.
// If n <= 0 nothing is registered.
//
// Notice that it does not call `fn` at the last epoch (except by coincidence).
func EveryNEpochs(loop *Loop, n int, name string, priority Priority, fn OnEpochFn) {
	if n <= 0 {
		return
	}
	eN := &everyNEpochs{n: n, fn: fn}
	fullName := fmt.Sprintf("EveryNEpochs(%d): %s", n, name)
	loop.OnEpoch(fullName, priority, eN.onEpoch)
}

// OnImprovement registers an OnEpoch hook called only on epochs that improved the best
// validation loss, for instance to save the best parameters so far.
func OnImprovement(loop *Loop, name string, priority Priority, fn OnEpochFn) {
	loop.OnEpoch(fmt.Sprintf("OnImprovement: %s", name), priority, func(loop *Loop, metrics EpochMetrics) error {
		if !metrics.Improved {
			return nil
		}
		return fn(loop, metrics)
	})
}
