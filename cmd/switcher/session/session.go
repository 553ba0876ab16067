// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package session drives a connected hub through detection and flash cycles.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/pishock-switcher/switcher/cmd/switcher/backup"
	"github.com/pishock-switcher/switcher/cmd/switcher/esptool"
	"github.com/pishock-switcher/switcher/cmd/switcher/firmware"
	"github.com/pishock-switcher/switcher/cmd/switcher/probe"
	"github.com/pishock-switcher/switcher/cmd/switcher/prompt"
)

const (
	DefaultRestoreGrace  = 20000 * time.Millisecond
	DefaultRestorePacing = 250 * time.Millisecond
)

var (
	ErrCycleActive  = errors.New("a flash cycle is already running")
	ErrCycleAborted = errors.New("flash cycle aborted")
	ErrNoAnswer     = errors.New("the hub did not answer")
)

// FatalError marks errors after which the program cannot continue.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

type State int

const (
	Idle State = iota
	Detecting
	BackingUp
	Downloading
	Transforming
	Flashing
	Restoring
	WaitingForRestart
)

var stateNames = [...]string{
	Idle:              "Idle",
	Detecting:         "Detecting Firmware",
	BackingUp:         "Saving Data",
	Downloading:       "Downloading Firmware",
	Transforming:      "Processing Firmware",
	Flashing:          "Flashing",
	Restoring:         "Restoring Data",
	WaitingForRestart: "Waiting For Restart",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Event is passed to the observer on every state change and on progress.
// Percent is -1 when the state has no progress.
type Event struct {
	State   State
	Percent int
}

// Port is the serial connection to the hub.
type Port interface {
	probe.Transport
	Path() string
	Close() error
	Reopen() error
}

type Flasher interface {
	Init() error
	Flash(ctx context.Context, port string, layout esptool.Layout, file string, progress func(percent int)) error
}

type Resolver interface {
	Resolve(ctx context.Context, f firmware.Family) (firmware.Descriptor, error)
}

// Downloader fetches url to a temporary file and returns its path.
type Downloader func(ctx context.Context, url string, f firmware.Family, progress firmware.ProgressFunc) (string, error)

type Config struct {
	Port     Port
	Engine   *probe.Engine
	Store    backup.Store
	Prompter prompt.Prompter
	Resolver Resolver
	Download Downloader
	Flasher  Flasher
	Logger   *slog.Logger

	RestoreGrace  time.Duration
	RestorePacing time.Duration

	// OnEvent observes state changes. It is called synchronously.
	OnEvent func(Event)
	// OnFlashed is called after every successful flash cycle.
	OnFlashed func(from firmware.Family, to firmware.Family, restored bool)
}

type Session struct {
	cfg Config

	// Held for the duration of a detection or a flash cycle.
	mu       sync.Mutex
	firmware firmware.Family
	state    State
	stateMu  sync.Mutex

	after func(time.Duration) <-chan time.Time
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RestoreGrace <= 0 {
		cfg.RestoreGrace = DefaultRestoreGrace
	}
	if cfg.RestorePacing <= 0 {
		cfg.RestorePacing = DefaultRestorePacing
	}
	return &Session{
		cfg:   cfg,
		after: time.After,
	}
}

// Firmware is the family last detected or flashed.
func (s *Session) Firmware() firmware.Family {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.firmware
}

func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setFirmware(f firmware.Family) {
	s.stateMu.Lock()
	s.firmware = f
	s.stateMu.Unlock()
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
	s.emit(Event{State: state, Percent: -1})
}

func (s *Session) progress(state State) func(int) {
	return func(percent int) {
		s.emit(Event{State: state, Percent: percent})
	}
}

func (s *Session) emit(e Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(e)
	}
}

// Detect asks the hub which firmware it runs. The known firmware is only
// updated when the hub answers.
func (s *Session) Detect(ctx context.Context) (probe.Detection, error) {
	if !s.mu.TryLock() {
		return probe.Detection{}, ErrCycleActive
	}
	defer s.mu.Unlock()
	return s.detect(ctx)
}

func (s *Session) detect(ctx context.Context) (probe.Detection, error) {
	s.setState(Detecting)
	defer s.setState(Idle)

	detection, err := s.cfg.Engine.Detect(ctx)
	if err != nil {
		return detection, err
	}
	logger := s.cfg.Logger
	if !detection.Family.Known() {
		logger.Warn("could not detect firmware", "port", s.cfg.Port.Path())
		return detection, nil
	}
	s.setFirmware(detection.Family)

	res := detection.Result
	switch {
	case res.TerminalInfo != nil:
		logger.Info("detected firmware", "firmware", detection.Family,
			"version", res.TerminalInfo.Version, "mac", res.TerminalInfo.MacAddress)
	case res.JSONConfig != nil:
		logger.Info("detected firmware", "firmware", detection.Family,
			"hostname", res.JSONConfig.Wifi.Hostname)
	default:
		logger.Info("detected firmware", "firmware", detection.Family)
	}
	return detection, nil
}

// Backup reads the settings of the running firmware and stores them.
func (s *Session) Backup(ctx context.Context) error {
	if !s.mu.TryLock() {
		return ErrCycleActive
	}
	defer s.mu.Unlock()
	defer s.setState(Idle)
	return s.backup(ctx, s.cfg.Logger)
}

func (s *Session) backup(ctx context.Context, logger *slog.Logger) error {
	current := s.Firmware()
	kind, ok := probe.KindFor(current)
	if !ok {
		return fmt.Errorf("cannot save settings of %s firmware", current)
	}
	s.setState(BackingUp)

	res, err := s.cfg.Engine.Probe(ctx, kind)
	if err != nil {
		return err
	}
	if res == nil {
		return ErrNoAnswer
	}

	var data []byte
	switch current {
	case firmware.PiShock:
		networks, err := res.Networks()
		if err != nil {
			return fmt.Errorf("failed to read the networks of the hub: %w", err)
		}
		if networks == nil {
			networks = []probe.Network{}
		}
		if data, err = json.Marshal(networks); err != nil {
			return err
		}
	case firmware.OpenShock:
		data = res.Payload
	}

	if err := s.cfg.Store.Save(current, data); err != nil {
		return err
	}
	logger.Info("saved settings", "firmware", current, "path", s.cfg.Store.Path(current))
	return nil
}

// Restore sends the saved settings of f to the hub, which must already run
// f, and waits for the hub to restart. With ask set the user is asked first.
// It reports whether anything was restored.
func (s *Session) Restore(ctx context.Context, f firmware.Family, ask bool) (bool, error) {
	if !s.mu.TryLock() {
		return false, ErrCycleActive
	}
	defer s.mu.Unlock()
	defer s.setState(Idle)
	return s.restore(ctx, f, ask, s.cfg.Logger)
}

func (s *Session) restore(ctx context.Context, f firmware.Family, ask bool, logger *slog.Logger) (bool, error) {
	if !s.cfg.Store.Exists(f) {
		logger.Debug("no saved settings", "firmware", f)
		return false, nil
	}
	if ask {
		ok, err := s.cfg.Prompter.Confirm(fmt.Sprintf("You have data saved for %s! Do you want to restore it?", f), true)
		if err != nil || !ok {
			return false, err
		}
	}
	s.setState(Restoring)

	data, err := s.cfg.Store.Load(f)
	if err != nil {
		return false, err
	}

	switch f {
	case firmware.OpenShock:
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return false, err
		}
		logger.Debug("sending jsonconfig", "config", compact.String())
		if err := s.cfg.Port.WriteLine("jsonconfig " + compact.String()); err != nil {
			return false, err
		}
	case firmware.PiShock:
		networks, err := decodeNetworks(data)
		if err != nil {
			return false, err
		}
		limiter := rate.NewLimiter(rate.Every(s.cfg.RestorePacing), 1)
		for _, n := range networks {
			if err := limiter.Wait(ctx); err != nil {
				return false, err
			}
			line, err := addNetworkLine(n)
			if err != nil {
				return false, err
			}
			logger.Debug("adding network", "ssid", n.SSID)
			if err := s.cfg.Port.WriteLine(line); err != nil {
				return false, err
			}
		}
	default:
		return false, fmt.Errorf("cannot restore settings of %s firmware", f)
	}

	s.setState(WaitingForRestart)
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-s.after(s.cfg.RestoreGrace):
	}
	logger.Info("restored settings", "firmware", f)
	return true, nil
}

// Flash runs one full cycle: save the current settings, download and write
// the target firmware, and restore saved settings for it. Only one cycle
// runs at a time.
func (s *Session) Flash(ctx context.Context, target firmware.Family) error {
	if !s.mu.TryLock() {
		return ErrCycleActive
	}
	defer s.mu.Unlock()
	defer s.setState(Idle)

	logger := s.cfg.Logger.With("cycle", ulid.Make().String(), "target", target)
	if !target.Known() {
		return fmt.Errorf("cannot flash %s firmware", target)
	}
	if err := s.cfg.Flasher.Init(); err != nil {
		return &FatalError{Err: err}
	}

	from := s.Firmware()
	if from.Known() {
		if err := s.maybeBackup(ctx, from, logger); err != nil {
			return err
		}
	}

	s.setState(Downloading)
	desc, err := s.cfg.Resolver.Resolve(ctx, target)
	if err != nil {
		if errors.Is(err, prompt.ErrAborted) || ctx.Err() != nil {
			return err
		}
		return &FatalError{Err: fmt.Errorf("could not get firmware url: %w", err)}
	}
	logger.Debug("resolved firmware", "url", desc.URL, "version", desc.Version, "board", desc.Board)

	path, err := s.cfg.Download(ctx, desc.URL, target, s.progress(Downloading))
	if err != nil {
		return err
	}
	defer os.Remove(path)
	logger.Debug("downloaded firmware", "path", path)

	if desc.TruncateTo > 0 {
		s.setState(Transforming)
		if err := firmware.TruncateFile(path, desc.TruncateTo); err != nil {
			return err
		}
	}

	s.setState(Flashing)
	if err := s.cfg.Port.Close(); err != nil {
		logger.Warn("failed to release the port", "error", err)
	}
	layout := esptool.Layout{Flags: desc.FlashArgs, Offset: desc.Offset}
	flashErr := s.cfg.Flasher.Flash(ctx, s.cfg.Port.Path(), layout, path, s.progress(Flashing))
	reopenErr := s.cfg.Port.Reopen()
	if flashErr != nil {
		// The hub may be left half written; no further cycle is offered.
		return &FatalError{Err: fmt.Errorf("flashing failed: %w", flashErr)}
	}
	if reopenErr != nil {
		return fmt.Errorf("failed to reopen '%s' after flashing: %w", s.cfg.Port.Path(), reopenErr)
	}
	s.setFirmware(target)
	logger.Info("flashed firmware", "from", from)

	restored, err := s.restore(ctx, target, true, logger)
	if err != nil {
		return err
	}
	if s.cfg.OnFlashed != nil {
		s.cfg.OnFlashed(from, target, restored)
	}
	return nil
}

func (s *Session) maybeBackup(ctx context.Context, current firmware.Family, logger *slog.Logger) error {
	save, err := s.cfg.Prompter.Confirm(fmt.Sprintf("Do you want to save your %s settings?", current), true)
	if err != nil {
		return err
	}
	if !save {
		return nil
	}
	err = s.backup(ctx, logger)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	logger.Warn("failed to save settings", "error", err)

	cont, perr := s.cfg.Prompter.Confirm("There was a problem saving your settings. Do you want to flash anyway?", false)
	if perr != nil {
		return perr
	}
	if !cont {
		return ErrCycleAborted
	}
	return nil
}

// Run detects the firmware and offers to flash a family until the user
// cancels a prompt or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if _, err := s.Detect(ctx); err != nil {
		return err
	}

	families := firmware.Families()
	items := make([]string, len(families))
	for i, f := range families {
		items[i] = f.String()
	}
	for {
		if current := s.Firmware(); current.Known() {
			s.cfg.Logger.Info("board is running " + current.String())
		}
		i, err := s.cfg.Prompter.Select("What would you like to flash", items)
		if err != nil {
			return err
		}

		err = s.Flash(ctx, families[i])
		var fatal *FatalError
		switch {
		case err == nil:
		case errors.As(err, &fatal), errors.Is(err, prompt.ErrAborted), ctx.Err() != nil:
			return err
		case errors.Is(err, ErrCycleAborted):
			s.cfg.Logger.Info("flash cancelled")
		default:
			s.cfg.Logger.Error("flash failed", "error", err)
		}

		if _, err := s.Detect(ctx); err != nil {
			return err
		}
	}
}
