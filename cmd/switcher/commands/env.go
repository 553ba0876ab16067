// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pishock-switcher/switcher/cmd/switcher/analytics"
	"github.com/pishock-switcher/switcher/cmd/switcher/backup"
	"github.com/pishock-switcher/switcher/cmd/switcher/directory"
	"github.com/pishock-switcher/switcher/cmd/switcher/esptool"
	"github.com/pishock-switcher/switcher/cmd/switcher/firmware"
	"github.com/pishock-switcher/switcher/cmd/switcher/logging"
	"github.com/pishock-switcher/switcher/cmd/switcher/probe"
	"github.com/pishock-switcher/switcher/cmd/switcher/prompt"
	"github.com/pishock-switcher/switcher/cmd/switcher/serialport"
	"github.com/pishock-switcher/switcher/cmd/switcher/session"
)

func addSessionFlags(flags *pflag.FlagSet) {
	flags.StringP("port", "p", "", "serial port of the hub, found by its USB id if not set")
	flags.Int("baud", 0, "baud rate of the hub console (default 115200)")
	flags.String("esptool", "", "path to the esptool executable")
	flags.BoolP("yes", "y", false, "answer every yes/no question with its default")
	flags.Bool("debug", false, "log debug output, including the output of esptool")
	flags.String("log-format", "", "log format: auto, console, json or text")
}

// flagKeys maps flags to the settings they override.
var flagKeys = map[string]string{
	"port":       directory.PortKey,
	"baud":       directory.BaudKey,
	"esptool":    "esptool",
	"log-format": "log-format",
}

func loadSettings(cmd *cobra.Command) (*viper.Viper, directory.Settings, error) {
	cfg, err := directory.GetUserConfig()
	if err != nil {
		return nil, directory.Settings{}, err
	}
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			cfg.Set(key, f.Value.String())
		}
	}
	settings, err := directory.LoadSettings(cfg)
	return cfg, settings, err
}

func newLogger(cmd *cobra.Command, settings directory.Settings) (*slog.Logger, error) {
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, settings.LogFormat, debug)
}

func newPrompter(cmd *cobra.Command) (prompt.Prompter, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return nil, err
	}
	var p prompt.Prompter = prompt.Terminal{}
	if yes {
		p = prompt.AssumeYes{Prompter: p}
	}
	return p, nil
}

// environment is everything a command needs to talk to a hub.
type environment struct {
	settings directory.Settings
	logger   *slog.Logger
	conn     *serialport.Conn
	session  *session.Session
	ui       *progressUI
}

func newEnvironment(cmd *cobra.Command, client analytics.Client) (*environment, error) {
	ctx := cmd.Context()
	_, settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, settings)
	if err != nil {
		return nil, err
	}
	prompter, err := newPrompter(cmd)
	if err != nil {
		return nil, err
	}
	dataDir, err := directory.GetDataPath()
	if err != nil {
		return nil, err
	}

	path := settings.Port
	if path == "" {
		fmt.Fprintln(os.Stderr, "Finding Hub...")
		port, err := serialport.Await(ctx, logger,
			serialport.MatchUSB(serialport.HubVendorID, serialport.HubProductID),
			settings.PortRetryInterval)
		if err != nil {
			return nil, err
		}
		path = port.Path
	}
	conn, err := serialport.Open(path, settings.Baud)
	if err != nil {
		return nil, err
	}
	logger.Debug("opened hub", "port", path, "baud", settings.Baud)

	httpClient := &http.Client{}
	ui := newProgressUI(os.Stderr)
	sess := session.New(session.Config{
		Port: conn,
		Engine: probe.NewEngine(conn, logger,
			probe.WithInterval(settings.Probe.Interval),
			probe.WithTimeout(settings.Probe.Timeout)),
		Store:    backup.Store{Dir: dataDir},
		Prompter: ui.wrap(prompter),
		Resolver: &firmware.Resolver{
			Client:       httpClient,
			Prompter:     ui.wrap(prompter),
			Logger:       logger,
			PiShockURL:   settings.Firmware.PiShockURL,
			OpenShockURL: settings.Firmware.OpenShockURL,
		},
		Download: func(ctx context.Context, url string, f firmware.Family, progress firmware.ProgressFunc) (string, error) {
			return firmware.Download(ctx, httpClient, url, os.TempDir(), f, progress)
		},
		Flasher:       &esptool.Tool{Path: settings.Esptool, Logger: logger},
		Logger:        logger,
		RestoreGrace:  settings.Restore.Grace,
		RestorePacing: settings.Restore.Pacing,
		OnEvent:       ui.observe,
		OnFlashed: func(from firmware.Family, to firmware.Family, restored bool) {
			if client != nil {
				client.Enqueue(analytics.FirmwareFlashed(from.String(), to.String(), restored))
			}
		},
	})

	return &environment{
		settings: settings,
		logger:   logger,
		conn:     conn,
		session:  sess,
		ui:       ui,
	}, nil
}

// run calls fn and logs errors the program cannot recover from.
func (e *environment) run(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	e.ui.finish()
	var fatal *session.FatalError
	switch {
	case err == nil:
	case errors.As(err, &fatal):
		e.logger.Error("cannot continue", "error", fatal.Err)
	case errors.Is(err, prompt.ErrAborted):
		e.logger.Debug("cancelled by user")
	case errors.Is(err, context.Canceled):
	default:
		e.logger.Error(err.Error())
	}
	return err
}

func (e *environment) Close() error {
	return e.conn.Close()
}

// detect runs detection and fails if the hub does not answer.
func (e *environment) detect(ctx context.Context) (probe.Detection, error) {
	detection, err := e.session.Detect(ctx)
	if err != nil {
		return detection, err
	}
	if !detection.Family.Known() {
		return detection, fmt.Errorf("could not detect the firmware on '%s'", e.conn.Path())
	}
	return detection, nil
}
