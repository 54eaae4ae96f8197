// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imednet_monitor follows a training run directory: whenever new epochs are recorded it re-renders
// the loss plots (PNG and SVG) into the "plots" sub-directory, and prints the latest losses.
//
// It is started by imednet_train with -launch-tensorboard, but it can also be started by hand on
// any run directory. It exits when the training finishes, or on Control+C.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/imednet/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagRunDir   = flag.String("run", "", "Run directory to monitor.")
	flagOnce     = flag.Bool("once", false, "Render the plots once and exit, instead of following the run.")
	flagPoll     = flag.Duration("poll", 5*time.Second, "Polling period, in case file events are missed.")
	flagLastRows = flag.Int("rows", 10, "Number of most recent epochs to print.")
	flagWidth    = flag.Int("svg_width", 1024, "Width of the SVG plots.")
	flagHeight   = flag.Int("svg_height", 400, "Height of the SVG plots.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagRunDir == "" && flag.NArg() == 1 {
		*flagRunDir = flag.Arg(0)
	}
	if *flagRunDir == "" {
		klog.Errorf("Missing run directory to monitor. See 'imednet_monitor -help'")
		os.Exit(1)
	}

	m := &monitor{
		RunDir:    must.M1(fsutil.ReplaceTildeInDir(*flagRunDir)),
		Output:    os.Stdout,
		LastRows:  *flagLastRows,
		SVGWidth:  *flagWidth,
		SVGHeight: *flagHeight,
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err := exceptions.TryCatch[error](func() {
		if *flagOnce {
			_ = must.M1(m.refresh())
			return
		}
		must.M(m.follow(ctx, *flagPoll))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
