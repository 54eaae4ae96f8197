// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Description is the human-readable description file of a run. Entries are written (and
// flushed) as the run progresses, so it is informative even if the run is interrupted.
//
// It is safe for concurrent use.
type Description struct {
	mu       sync.Mutex
	filePath string
	f        *os.File
}

func createDescription(filePath string) (*Description, error) {
	f, err := os.Create(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create description file %q", filePath)
	}
	return &Description{filePath: filePath, f: f}, nil
}

// startDescription creates the description file with its header lines. The file is closed if
// the header can't be written.
func startDescription(filePath string, now time.Time, runID string) (*Description, error) {
	d, err := createDescription(filePath)
	if err != nil {
		return nil, err
	}
	if err := d.Writef("Network created: %s\nRun ID: %s", now.Format(TimestampLayout), runID); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Writef appends formatted text to the description. Entries usually start with a "\n".
func (d *Description) Writef(format string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return errors.Errorf("description file %q already closed", d.filePath)
	}
	if _, err := fmt.Fprintf(d.f, format, args...); err != nil {
		return errors.Wrapf(err, "failed to write to description file %q", d.filePath)
	}
	return errors.Wrapf(d.f.Sync(), "failed to sync description file %q", d.filePath)
}

// Close the description file. It is a no-op if already closed.
func (d *Description) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return errors.Wrapf(err, "failed to close description file %q", d.filePath)
}
