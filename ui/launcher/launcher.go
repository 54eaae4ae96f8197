// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package launcher starts the companion processes of a training run, the monitor and the GUI.
//
// Processes are started in the background and never awaited: training carries on regardless of
// whether they are still running, failed or were closed.
package launcher

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// MonitorCommand is the program started by LaunchMonitor.
	MonitorCommand = "imednet_monitor"

	// GUICommand is the program started by LaunchGUI.
	GUICommand = "imednet_gui"
)

// ErrNotFound is returned when the program to launch cannot be found.
var ErrNotFound = errors.New("program not found")

// LookPath finds the program: first next to the running executable, then in $PATH.
func LookPath(program string) (string, error) {
	if filepath.IsAbs(program) {
		return program, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), program)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	found, err := exec.LookPath(program)
	if err != nil {
		return "", errors.Wrapf(ErrNotFound, "%q: %v", program, err)
	}
	return found, nil
}

// Start runs the program in the background with the given arguments. If logPath is not empty,
// the program's stdout and stderr are appended to it.
//
// The returned command is already started. The process is reaped in a goroutine, so callers
// don't need to (and shouldn't) call Wait.
func Start(logPath string, program string, args ...string) (*exec.Cmd, error) {
	programPath, err := LookPath(program)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(programPath, args...)
	var logFile *os.File
	if logPath != "" {
		logFile, err = os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open log file %q for %s", logPath, program)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err = cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, errors.Wrapf(err, "failed to start %q", programPath)
	}
	klog.V(1).Infof("Started %s (pid %d): %v", program, cmd.Process.Pid, cmd.Args)
	go func() {
		if err := cmd.Wait(); err != nil {
			klog.V(1).Infof("%s exited: %v", program, err)
		}
		if logFile != nil {
			_ = logFile.Close()
		}
	}()
	return cmd, nil
}

// LaunchMonitor starts the monitor for the run directory, logging to "<runDir>/monitor.log".
func LaunchMonitor(runDir string) (*exec.Cmd, error) {
	return Start(filepath.Join(runDir, "monitor.log"), MonitorCommand, "-run", runDir)
}

// LaunchGUI starts the GUI for the run directory, logging to "<runDir>/gui.log".
func LaunchGUI(runDir string) (*exec.Cmd, error) {
	return Start(filepath.Join(runDir, "gui.log"), GUICommand, "-run", runDir)
}

// HasWindows checks if the environment has a graphical display available, by verifying the
// DISPLAY or WAYLAND_DISPLAY environment variables.
func HasWindows() bool {
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}
