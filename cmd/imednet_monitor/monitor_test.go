// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gomlx/imednet/pkg/ml/checkpoints"
	"github.com/gomlx/imednet/ui/plots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePoints(t *testing.T, runDir string, fromEpoch, toEpoch int) {
	writer, errReport := plots.CreatePointsWriter(filepath.Join(runDir, plots.TrainingPlotFileName))
	for epoch := fromEpoch; epoch < toEpoch; epoch++ {
		step := float64(epoch)
		writer <- plots.Point{MetricName: plots.TrainLossName, MetricType: plots.MetricTypeLoss, Step: step, Value: 1 / (step + 1)}
		writer <- plots.Point{MetricName: plots.ValidationLossName, MetricType: plots.MetricTypeLoss, Step: step, Value: 2 / (step + 1)}
	}
	close(writer)
	require.NoError(t, <-errReport)
}

func TestRefresh(t *testing.T) {
	runDir := t.TempDir()
	var out strings.Builder
	m := &monitor{RunDir: runDir, Output: &out, LastRows: 2, SVGWidth: 640, SVGHeight: 320}

	// Nothing recorded yet.
	status, err := m.refresh()
	require.NoError(t, err)
	assert.Equal(t, 0, status.Epochs)
	assert.Empty(t, out.String())

	writePoints(t, runDir, 0, 5)
	status, err = m.refresh()
	require.NoError(t, err)
	assert.Equal(t, 5, status.Epochs)
	for _, name := range []string{"loss.png", "loss.svg"} {
		_, err = os.Stat(filepath.Join(runDir, checkpoints.PlotsDir, name))
		require.NoError(t, err)
	}
	printed := out.String()
	assert.Contains(t, printed, "5 epochs")
	assert.Contains(t, printed, "0.4")
	assert.NotContains(t, printed, "0.666667")

	// No new epochs: nothing printed.
	out.Reset()
	_, err = m.refresh()
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestFollowFinished(t *testing.T) {
	runDir := t.TempDir()
	writePoints(t, runDir, 0, 2)
	require.NoError(t, os.WriteFile(filepath.Join(runDir, checkpoints.DescriptionFile),
		[]byte("Network created: now\n"+checkpoints.FinishedEntry+": max_epochs after 2 epochs"), 0o644))
	var out strings.Builder
	m := &monitor{RunDir: runDir, Output: &out, SVGWidth: 640, SVGHeight: 320}
	require.NoError(t, m.follow(context.Background(), time.Minute))
	assert.Equal(t, 2, m.rendered)
}

// syncBuilder is a strings.Builder safe for concurrent use.
type syncBuilder struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuilder) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuilder) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func TestFollowCancelled(t *testing.T) {
	runDir := t.TempDir()
	var out syncBuilder
	m := &monitor{RunDir: runDir, Output: &out, SVGWidth: 640, SVGHeight: 320}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.follow(ctx, 10*time.Millisecond) }()
	writePoints(t, runDir, 0, 3)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "3 epochs")
	}, 10*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
