// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imednet_checkpoints reports on one or more training run directories: a summary of the runs, the
// saved parameters, the output scaling and the training metrics. The metrics can also be exported
// to a CSV file.
//
// When more than one run directory is given, the summary shows them side by side and highlights
// the rows where they differ.
//
// Example:
//
//	imednet_checkpoints -vars -metrics -metrics_names=Validation ~/models/imednet*
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/imednet/pkg/support/fsutil"
	"github.com/gomlx/imednet/ui/plots"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagSummary  = flag.Bool("summary", true, "Display a summary of the runs.")
	flagVars     = flag.Bool("vars", false, "Lists the saved parameters, with their magnitudes.")
	flagGlossary = flag.Bool("glossary", true, "Explains the columns of -vars.")
	flagScale    = flag.Bool("scale", false, "Lists the output scaling: the raw range of each DMP parameter.")
	flagMetrics  = flag.Bool("metrics", false,
		fmt.Sprintf("Lists the metrics collected for plotting in file %q", plots.TrainingPlotFileName))
	flagMetricsNames = flag.String("metrics_names", "",
		"Regular expression that if matches the name or short name, the metric is included.")
	flagMetricsTypes = flag.String("metrics_types", "",
		"Comma-separate list of metric types to include in the metrics report and export.")
	flagCSV = flag.String("csv", "", "If set, exports the metrics of all runs to this CSV file.")
)

// options of a report.
type options struct {
	Summary, Vars, Glossary, Scale, Metrics bool
	Filter                                  metricsFilter
	CSVPath                                 string
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() == 0 {
		klog.Errorf("Missing run directory to read from. See 'imednet_checkpoints -help'")
		os.Exit(1)
	}
	err := exceptions.TryCatch[error](func() {
		opts := options{
			Summary:  *flagSummary,
			Vars:     *flagVars,
			Glossary: *flagGlossary,
			Scale:    *flagScale,
			Metrics:  *flagMetrics,
			Filter:   must.M1(newMetricsFilter(*flagMetricsNames, *flagMetricsTypes)),
			CSVPath:  *flagCSV,
		}
		dirs := make([]string, flag.NArg())
		for ii, arg := range flag.Args() {
			dirs[ii] = fsutil.MustReplaceTildeInDir(arg)
		}
		must.M(report(os.Stdout, dirs, opts))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// report loads the run directories and prints the reports selected in opts.
func report(w io.Writer, dirs []string, opts options) error {
	runs, err := loadRuns(dirs)
	if err != nil {
		return err
	}
	if opts.Summary {
		if err := summary(w, runs); err != nil {
			return err
		}
	}
	if opts.Vars {
		if err := listVariables(w, runs, opts.Glossary); err != nil {
			return err
		}
	}
	if opts.Scale {
		if err := listScale(w, runs); err != nil {
			return err
		}
	}
	if opts.Metrics {
		if err := metrics(w, runs, opts.Filter); err != nil {
			return err
		}
	}
	if opts.CSVPath != "" {
		if err := exportCSV(opts.CSVPath, runs, opts.Filter); err != nil {
			return err
		}
		klog.V(1).Infof("Metrics exported to %q", opts.CSVPath)
	}
	return nil
}

