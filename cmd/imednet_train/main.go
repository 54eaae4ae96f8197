// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imednet_train trains an encoder-decoder network that maps 40x40 digit images to the DMP
// parameters of the trajectory that draws them.
//
// Each run creates a new directory "<model-save-path> <timestamp>" holding the architecture, the
// data scaling, the best parameters, the dataset permutation and a description of the run. A run
// can be resumed from a previous run directory with -model-load-path.
//
// Training stops after -val-fail epochs without improvement of the validation loss, on Control+C,
// or when a STOP file is created in the run directory (see imednet_gui).
package main

import (
	"context"
	"flag"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/imednet/pkg/config"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	cfg := must.M1(config.Resolve(flag.CommandLine, os.Args[1:]))
	if cfg.Seed == 0 {
		cfg.Seed = randomSeed()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err := exceptions.TryCatch[error](func() {
		_ = must.M1(trainModel(ctx, cfg, cfg.TrainParams(), time.Now()))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// randomSeed returns a non-zero random seed.
func randomSeed() uint64 {
	for {
		if seed := rand.Uint64(); seed != 0 {
			return seed
		}
	}
}
