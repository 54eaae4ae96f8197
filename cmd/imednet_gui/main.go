// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imednet_gui is a control panel for a training run: it displays the progress and the loss curves
// of the run, and has a button to stop the training (which still saves the best parameters).
//
// It is started by imednet_train with -launch-gui, but it can also be started by hand on any run
// directory.
package main

import (
	"flag"
	"os"
	"time"

	"fyne.io/fyne/v2/app"
	"github.com/gomlx/imednet/pkg/support/fsutil"
	"github.com/gomlx/imednet/ui/fyneui"
	"github.com/gomlx/imednet/ui/launcher"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagRunDir = flag.String("run", "", "Run directory to follow.")
	flagPoll   = flag.Duration("poll", time.Second, "How often to read the run directory for updates.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagRunDir == "" && flag.NArg() == 1 {
		*flagRunDir = flag.Arg(0)
	}
	if *flagRunDir == "" {
		klog.Errorf("Missing run directory. See 'imednet_gui -help'")
		os.Exit(1)
	}
	if !launcher.HasWindows() {
		klog.Warningf("No display found (DISPLAY and WAYLAND_DISPLAY are not set)")
	}
	runDir := must.M1(fsutil.ReplaceTildeInDir(*flagRunDir))
	if _, err := os.Stat(runDir); err != nil {
		klog.Fatalf("Invalid run directory: %v", err)
	}

	a := app.New()
	win := fyneui.NewWindow(a, runDir)
	win.UpdateFrequency = *flagPoll
	win.Start()
	a.Run()
}
