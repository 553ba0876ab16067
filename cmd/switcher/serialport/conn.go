// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is what both firmware families talk on their console.
	DefaultBaudRate = 115200

	readBufferSize   = 1024
	subscriberBuffer = 64
)

var (
	ErrClosed = errors.New("serial port is closed")
	// ErrNoModemLines is returned by Reset when the port cannot drive DTR/RTS.
	ErrNoModemLines = errors.New("serial port has no modem control lines")
)

// ResetPulse is how long RTS is held to reset the board.
const ResetPulse = 100 * time.Millisecond

type modemLines interface {
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// Opener opens the underlying device for a path.
type Opener func(path string) (io.ReadWriteCloser, error)

// ModeOpener returns an Opener backed by a real serial port.
func ModeOpener(baud int) Opener {
	return func(path string) (io.ReadWriteCloser, error) {
		port, err := serial.Open(path, &serial.Mode{
			BaudRate: baud,
		})
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("the port '%s' was not found", path)
		}
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// Conn owns a serial connection and fans its inbound bytes out to any
// number of subscriptions. Subscriptions outlive Close/Reopen cycles so
// a caller can give the port to another process and take it back.
type Conn struct {
	path string
	open Opener

	mu   sync.Mutex
	port io.ReadWriteCloser
	stop chan struct{}
	done chan struct{}

	writeMu sync.Mutex

	subs   *xsync.MapOf[uint64, *Subscription]
	nextID atomic.Uint64
}

// Open opens path at the given baud rate.
func Open(path string, baud int) (*Conn, error) {
	return NewConn(path, ModeOpener(baud))
}

// NewConn opens path through the given opener.
func NewConn(path string, open Opener) (*Conn, error) {
	c := &Conn{
		path: path,
		open: open,
		subs: xsync.NewMapOf[uint64, *Subscription](),
	}
	if err := c.Reopen(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) Path() string {
	return c.path
}

// IsOpen reports whether the underlying port is currently held.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// Reopen opens the underlying port again after Close. It is a no-op if the
// port is already open.
func (c *Conn) Reopen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		return nil
	}
	port, err := c.open(c.path)
	if err != nil {
		return err
	}
	c.port = port
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.pump(port, c.stop, c.done)
	return nil
}

// Close releases the underlying port. Subscriptions stay attached.
func (c *Conn) Close() error {
	c.mu.Lock()
	port, stop, done := c.port, c.stop, c.done
	c.port, c.stop, c.done = nil, nil, nil
	c.mu.Unlock()

	if port == nil {
		return nil
	}
	close(stop)
	err := port.Close()
	<-done
	return err
}

func (c *Conn) Write(data []byte) (int, error) {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		return 0, ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	written := 0
	for written < len(data) {
		n, err := port.Write(data[written:])
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Reset reboots the board by pulsing RTS with DTR released, the same wiring
// esptool uses for its hard reset.
func (c *Conn) Reset() error {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		return ErrClosed
	}
	lines, ok := port.(modemLines)
	if !ok {
		return ErrNoModemLines
	}
	if err := lines.SetDTR(false); err != nil {
		return err
	}
	if err := lines.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(ResetPulse)
	return lines.SetRTS(false)
}

// WriteLine writes line followed by a newline.
func (c *Conn) WriteLine(line string) error {
	_, err := c.Write([]byte(line + "\n"))
	return err
}

// Subscribe attaches a new listener to the inbound stream. The caller must
// Close the subscription when done with it.
func (c *Conn) Subscribe() *Subscription {
	s := &Subscription{
		id:   c.nextID.Add(1),
		conn: c,
		data: make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}
	c.subs.Store(s.id, s)
	return s
}

// Subscribers returns the number of attached subscriptions.
func (c *Conn) Subscribers() int {
	return c.subs.Size()
}

func (c *Conn) pump(port io.Reader, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.subs.Range(func(_ uint64, s *Subscription) bool {
				s.deliver(chunk, stop)
				return true
			})
		}
		if err != nil {
			return
		}
	}
}

// Subscription is a handle on the inbound byte stream of a Conn.
type Subscription struct {
	id   uint64
	conn *Conn
	data chan []byte
	done chan struct{}
	once sync.Once
}

// Data delivers inbound chunks in arrival order. The channel is never closed.
func (s *Subscription) Data() <-chan []byte {
	return s.data
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.conn.subs.Delete(s.id)
		close(s.done)
	})
}

func (s *Subscription) deliver(chunk []byte, stop <-chan struct{}) {
	select {
	case s.data <- chunk:
	case <-s.done:
	case <-stop:
	}
}
