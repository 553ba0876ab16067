// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package directory

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	PortKey = "port"
	BaudKey = "baud"
)

// Settings are the tunables of the tool, read from the user config.
type Settings struct {
	Port      string `mapstructure:"port" yaml:"port"`
	Baud      int    `mapstructure:"baud" yaml:"baud"`
	Esptool   string `mapstructure:"esptool" yaml:"esptool"`
	LogFormat string `mapstructure:"log-format" yaml:"log-format"`

	PortRetryInterval time.Duration `mapstructure:"port-retry-interval" yaml:"port-retry-interval"`

	Firmware struct {
		PiShockURL   string `mapstructure:"pishock-url" yaml:"pishock-url"`
		OpenShockURL string `mapstructure:"openshock-url" yaml:"openshock-url"`
	} `mapstructure:"firmware" yaml:"firmware"`

	Probe struct {
		Interval time.Duration `mapstructure:"interval" yaml:"interval"`
		Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	} `mapstructure:"probe" yaml:"probe"`

	Restore struct {
		Grace  time.Duration `mapstructure:"grace" yaml:"grace"`
		Pacing time.Duration `mapstructure:"pacing" yaml:"pacing"`
	} `mapstructure:"restore" yaml:"restore"`
}

// SetDefaults registers the default for every setting on cfg.
func SetDefaults(cfg *viper.Viper) {
	cfg.SetDefault(BaudKey, 115200)
	cfg.SetDefault("log-format", "auto")
	cfg.SetDefault("port-retry-interval", "1s")
	cfg.SetDefault("firmware.pishock-url", "https://do.pishock.com/api/GetLatestFirmware")
	cfg.SetDefault("firmware.openshock-url", "https://firmware.openshock.org")
	cfg.SetDefault("probe.interval", "1s")
	cfg.SetDefault("probe.timeout", "10s")
	cfg.SetDefault("restore.grace", "20s")
	cfg.SetDefault("restore.pacing", "250ms")
}

func LoadSettings(cfg *viper.Viper) (Settings, error) {
	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := cfg.Unmarshal(&s, hook); err != nil {
		return s, fmt.Errorf("failed to parse settings: %w", err)
	}
	if s.Baud <= 0 {
		return s, fmt.Errorf("invalid baud rate %d", s.Baud)
	}
	if s.Probe.Interval <= 0 || s.Probe.Timeout <= 0 {
		return s, fmt.Errorf("probe interval and timeout must be positive")
	}
	return s, nil
}
