// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package esptool runs Espressif's esptool to write images to a hub.
package esptool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
)

// ErrNotFound is returned by Init when no esptool executable is available.
var ErrNotFound = errors.New("esptool not found, install it with 'pip install esptool' or set its path with --esptool")

// Names are tried in this order on the PATH.
var Names = []string{"esptool", "esptool.exe", "esptool.py"}

var progressLine = regexp.MustCompile(`Writing at 0x[0-9a-f]+\.{3} \((\d+) %\)`)

var lookPath = exec.LookPath

// ExitError reports a non-zero exit of esptool.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("esptool exited with code %d", e.Code)
}

// Layout is how an image is placed in flash.
type Layout struct {
	Flags  []string
	Offset string
}

type Tool struct {
	// Path is an explicit executable, tried before the PATH lookup.
	Path   string
	Logger *slog.Logger

	resolved string
}

// Init locates the executable. A configured Path must work; otherwise Names
// are looked up on the PATH. It must succeed before Flash is called.
func (t *Tool) Init() error {
	if t.Path != "" {
		p, err := lookPath(t.Path)
		if err != nil {
			return fmt.Errorf("the configured esptool '%s' cannot be used: %w", t.Path, err)
		}
		t.resolved = p
		t.logger().Debug("using configured esptool", "path", p)
		return nil
	}
	for _, name := range Names {
		if p, err := lookPath(name); err == nil {
			t.resolved = p
			t.logger().Debug("found esptool", "path", p)
			return nil
		}
	}
	return ErrNotFound
}

// Executable is the path found by Init.
func (t *Tool) Executable() string {
	return t.resolved
}

// Args builds the esptool command line for writing file on port.
func Args(port string, layout Layout, file string) []string {
	args := []string{"--port", port, "write_flash"}
	args = append(args, layout.Flags...)
	return append(args, layout.Offset, file)
}

// Flash writes file to the hub on port. progress is called with the
// percentage esptool reports while writing.
func (t *Tool) Flash(ctx context.Context, port string, layout Layout, file string, progress func(percent int)) error {
	if t.resolved == "" {
		return ErrNotFound
	}
	args := Args(port, layout, file)
	logger := t.logger()
	logger.Debug("running esptool", "path", t.resolved, "args", args)

	cmd := exec.CommandContext(ctx, t.resolved, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start esptool: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, func(line string) {
			logger.Debug("esptool", "out", line)
			if m := progressLine.FindStringSubmatch(line); m != nil && progress != nil {
				if percent, err := strconv.Atoi(m[1]); err == nil {
					progress(percent)
				}
			}
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			logger.Error("esptool", "err", line)
		})
	}()
	// The pipes must be drained before Wait closes them.
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return err
	}
	return nil
}

// scanLines calls fn for every non-empty line of r. esptool redraws its
// progress with carriage returns, so those end a line too.
func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Split(splitLines)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fn(line)
		}
	}
	io.Copy(io.Discard, r)
}

func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (t *Tool) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
