// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pishock-switcher/switcher/cmd/switcher/firmware"
	"github.com/pishock-switcher/switcher/cmd/switcher/serialport"
)

const (
	DefaultInterval = 1000 * time.Millisecond
	DefaultTimeout  = 10000 * time.Millisecond
)

var ErrProbeInFlight = errors.New("a probe of this kind is already running")

// Kind selects the command a probe sends and the frame it waits for.
type Kind int

const (
	KindTerminalInfo Kind = iota
	KindJSONConfig
	kindCount
)

type kindSpec struct {
	name    string
	command string
	marker  string
	family  firmware.Family
}

var specs = [kindCount]kindSpec{
	KindTerminalInfo: {
		name:    "terminal-info",
		command: `{"cmd":"info"}`,
		marker:  "TERMINALINFO: ",
		family:  firmware.PiShock,
	},
	KindJSONConfig: {
		name:    "json-config",
		command: "jsonconfig",
		marker:  "$SYS$|Response|JsonConfig|",
		family:  firmware.OpenShock,
	},
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return specs[k].name
}

// Family is the firmware family that answers this kind of probe.
func (k Kind) Family() firmware.Family {
	if k < 0 || k >= kindCount {
		return firmware.Unknown
	}
	return specs[k].family
}

// KindFor returns the probe kind that reads the state of a family.
func KindFor(f firmware.Family) (Kind, bool) {
	for k := Kind(0); k < kindCount; k++ {
		if specs[k].family == f {
			return k, true
		}
	}
	return 0, false
}

// ProtocolError means a frame was found but its payload did not parse.
// The device speaks something other than what we expect.
type ProtocolError struct {
	Kind    Kind
	Payload []byte
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed %s response '%s': %v", e.Kind, e.Payload, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Result is a parsed probe answer. Payload always holds the raw JSON object;
// the typed field for the kind is set when the object matches its schema.
type Result struct {
	Kind         Kind
	Payload      json.RawMessage
	TerminalInfo *TerminalInfo
	JSONConfig   *JSONConfig
}

func (r *Result) Family() firmware.Family {
	return r.Kind.Family()
}

// Networks returns the WiFi networks of a terminal info answer. Entries are
// decoded leniently so firmware that changes field types still backs up.
func (r *Result) Networks() ([]Network, error) {
	if r.TerminalInfo != nil {
		return r.TerminalInfo.Networks, nil
	}
	var raw struct {
		Networks []map[string]interface{} `json:"networks"`
	}
	if err := json.Unmarshal(r.Payload, &raw); err != nil {
		return nil, err
	}
	var networks []Network
	config := &mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &networks,
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw.Networks); err != nil {
		return nil, err
	}
	return networks, nil
}

// Transport is the part of a serial connection a probe needs.
type Transport interface {
	WriteLine(line string) error
	Subscribe() *serialport.Subscription
}

type Option func(*Engine)

// WithInterval sets how often the probe command is repeated.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithTimeout sets how long a probe waits for an answer.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Engine runs request/response probes over a transport.
type Engine struct {
	transport Transport
	logger    *slog.Logger
	interval  time.Duration
	timeout   time.Duration
	inflight  [kindCount]atomic.Bool
}

func NewEngine(transport Transport, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		transport: transport,
		logger:    logger,
		interval:  DefaultInterval,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Probe sends the command for kind right away and then on every interval
// until the answer frame arrives or the timeout elapses. A timeout returns
// nil, nil: the device did not answer, which is not an error.
func (e *Engine) Probe(ctx context.Context, kind Kind) (*Result, error) {
	if kind < 0 || kind >= kindCount {
		return nil, fmt.Errorf("unknown probe %s", kind)
	}
	if !e.inflight[kind].CompareAndSwap(false, true) {
		return nil, ErrProbeInFlight
	}
	defer e.inflight[kind].Store(false)

	spec := specs[kind]
	sub := e.transport.Subscribe()
	defer sub.Close()

	timeout := time.NewTimer(e.timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	scanner := newFrameScanner(spec.marker)
	send := func() error {
		if err := e.transport.WriteLine(spec.command); err != nil {
			return fmt.Errorf("failed to send %s probe: %w", kind, err)
		}
		return nil
	}

	if err := send(); err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			e.logger.Debug("probe timed out", "probe", kind, "timeout", e.timeout)
			return nil, nil
		case <-ticker.C:
			if err := send(); err != nil {
				return nil, err
			}
		case chunk := <-sub.Data():
			payload, ok := scanner.feed(chunk)
			if !ok {
				continue
			}
			return e.decode(kind, payload)
		}
	}
}

func (e *Engine) decode(kind Kind, payload []byte) (*Result, error) {
	if !json.Valid(payload) {
		var v interface{}
		err := json.Unmarshal(payload, &v)
		return nil, &ProtocolError{Kind: kind, Payload: payload, Err: err}
	}

	res := &Result{
		Kind:    kind,
		Payload: json.RawMessage(payload),
	}
	var err error
	switch kind {
	case KindTerminalInfo:
		var info TerminalInfo
		if err = json.Unmarshal(payload, &info); err == nil {
			res.TerminalInfo = &info
		}
	case KindJSONConfig:
		var config JSONConfig
		if err = json.Unmarshal(payload, &config); err == nil {
			res.JSONConfig = &config
		}
	}
	if err != nil {
		e.logger.Warn("probe answer does not match the expected schema", "probe", kind, "error", err)
	}
	return res, nil
}

// Detection is the outcome of racing the probes of all families.
type Detection struct {
	Family firmware.Family
	Result *Result
}

// Detect runs one probe per family at the same time. The first positive
// answer decides the family and cancels the others; Detect returns once all
// probes have released the stream. If nobody answers the family is Unknown.
func (e *Engine) Detect(ctx context.Context) (Detection, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	outcomes := make(chan outcome, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		go func(kind Kind) {
			res, err := e.Probe(ctx, kind)
			outcomes <- outcome{res, err}
		}(k)
	}

	var winner *Result
	var detectErr error
	for i := 0; i < int(kindCount); i++ {
		o := <-outcomes
		switch {
		case o.res != nil:
			if winner == nil && detectErr == nil {
				winner = o.res
				cancel()
			}
		case o.err != nil:
			if winner == nil && detectErr == nil {
				detectErr = o.err
				cancel()
			}
		}
	}

	if detectErr != nil {
		return Detection{}, detectErr
	}
	if winner == nil {
		return Detection{Family: firmware.Unknown}, nil
	}
	return Detection{Family: winner.Family(), Result: winner}, nil
}
