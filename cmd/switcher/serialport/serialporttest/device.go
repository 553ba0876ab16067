// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package serialporttest provides an in-memory hub simulator for tests.
package serialporttest

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/pishock-switcher/switcher/cmd/switcher/serialport"
)

// Handler answers a line written by the host. An empty answer sends nothing.
type Handler func(line string) string

// Device simulates a hub on the other end of a serial cable. Every line the
// host writes is recorded and passed to the handler.
type Device struct {
	// ChunkSize splits answers into writes of at most this many bytes.
	ChunkSize int
	// OpenErr, if set, is returned by the opener.
	OpenErr error

	mu      sync.Mutex
	handler Handler
	lines   []string
	opens   int
	open    bool
	out     chan []byte
}

func NewDevice(handler Handler) *Device {
	return &Device{handler: handler}
}

func (d *Device) SetHandler(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// Lines returns all lines written by the host so far.
func (d *Device) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

// Opens returns how often the port was opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// IsOpen reports whether the host currently holds the port.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Emit sends unsolicited data to the host. It is dropped if the port is closed.
func (d *Device) Emit(data string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out != nil {
		d.out <- []byte(data)
	}
}

func (d *Device) Opener() serialport.Opener {
	return func(path string) (io.ReadWriteCloser, error) {
		if d.OpenErr != nil {
			return nil, d.OpenErr
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.open {
			return nil, errors.New("port busy")
		}
		d.open = true
		d.opens++

		hostR, devW := io.Pipe()
		devR, hostW := io.Pipe()
		out := make(chan []byte, 64)
		d.out = out

		go d.write(devW, out)
		go d.read(devR, out)

		return &pipeConn{r: hostR, w: hostW, onClose: d.closed}, nil
	}
}

func (d *Device) read(r io.Reader, out chan []byte) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		d.mu.Lock()
		d.lines = append(d.lines, line)
		handler := d.handler
		d.mu.Unlock()

		if handler == nil {
			continue
		}
		if answer := handler(line); answer != "" {
			out <- []byte(answer)
		}
	}
	d.mu.Lock()
	if d.out == out {
		d.out = nil
	}
	close(out)
	d.mu.Unlock()
}

func (d *Device) closed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
}

func (d *Device) write(w io.WriteCloser, out chan []byte) {
	defer w.Close()
	failed := false
	for data := range out {
		if failed {
			continue
		}
		for len(data) > 0 {
			n := len(data)
			if d.ChunkSize > 0 && n > d.ChunkSize {
				n = d.ChunkSize
			}
			if _, err := w.Write(data[:n]); err != nil {
				failed = true
				break
			}
			data = data[n:]
		}
	}
}

type pipeConn struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	onClose func()
	once    sync.Once
}

func (c *pipeConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *pipeConn) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *pipeConn) Close() error {
	c.once.Do(c.onClose)
	c.r.Close()
	return c.w.Close()
}
