// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package analytics

import (
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/analytics-go/v3"
	"github.com/spf13/viper"

	"github.com/pishock-switcher/switcher/cmd/switcher/directory"
)

const (
	configKey = "analytics"

	EventFirmwareFlashed = "Firmware Flashed"
	PageExecute          = "CLI Execute"
)

// Config is the analytics section of the user config. Nothing is sent
// until a write key is configured.
type Config struct {
	Disabled bool   `mapstructure:"disabled" yaml:"disabled" json:"disabled"`
	ClientID string `mapstructure:"cid" yaml:"cid" json:"cid"`
	WriteKey string `mapstructure:"write-key" yaml:"write-key" json:"write-key"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
}

// LoadConfig reads the analytics section of cfg, assigning and persisting
// a client id on first use.
func LoadConfig(cfg *viper.Viper) (Config, error) {
	var res Config
	rewrite := true
	if cfg.IsSet(configKey) {
		rewrite = cfg.UnmarshalKey(configKey, &res) != nil || res.ClientID == ""
	}

	if rewrite {
		if res.ClientID == "" {
			res.ClientID = uuid.New().String()
		}
		cfg.Set(configKey, res)
		if err := directory.WriteConfig(cfg); err != nil {
			return res, err
		}
	}
	return res, nil
}

// SetDisabled stores the opt-out flag in cfg.
func SetDisabled(cfg *viper.Viper, disabled bool) error {
	res, err := LoadConfig(cfg)
	if err != nil {
		return err
	}
	res.Disabled = disabled
	cfg.Set(configKey, res)
	return directory.WriteConfig(cfg)
}

func GetClient(cfg *viper.Viper) (Client, error) {
	res, err := LoadConfig(cfg)
	if err != nil {
		return nil, err
	}

	var client analytics.Client = discardClient{}
	if res.WriteKey != "" {
		client, err = analytics.NewWithConfig(res.WriteKey, analytics.Config{
			Interval:  time.Millisecond,
			BatchSize: 1,
			Endpoint:  res.Endpoint,
			Logger:    noopLogger{},
		})
		if err != nil {
			return nil, err
		}
	}

	return &proxyClient{
		disabled: res.Disabled,
		identity: &Identity{AnonymousID: res.ClientID},
		Client:   client,
	}, nil
}

type noopLogger struct{}

func (noopLogger) Logf(format string, args ...interface{})   {}
func (noopLogger) Errorf(format string, args ...interface{}) {}

type discardClient struct{}

func (discardClient) Enqueue(analytics.Message) error { return nil }
func (discardClient) Close() error                    { return nil }

type Client interface {
	analytics.Client
	Disable(bool)
	Disabled() bool
}

type proxyClient struct {
	disabled bool
	analytics.Client
	identity *Identity
}

func (c *proxyClient) Disable(b bool) {
	c.disabled = b
}

func (c *proxyClient) Disabled() bool {
	return c.disabled
}

func (c *proxyClient) Enqueue(msg analytics.Message) error {
	if c.disabled {
		return nil
	}

	return c.Client.Enqueue(c.identity.Populate(msg))
}

type Identity struct {
	AnonymousID string
}

// Populate fills in the anonymous id of messages that lack one.
func (i *Identity) Populate(msg analytics.Message) analytics.Message {
	switch t := msg.(type) {
	case analytics.Page:
		if t.AnonymousId == "" {
			t.AnonymousId = i.AnonymousID
		}
		return t
	case analytics.Track:
		if t.AnonymousId == "" {
			t.AnonymousId = i.AnonymousID
		}
		return t
	default:
		return msg
	}
}

// FirmwareFlashed builds the event sent after a successful flash cycle.
func FirmwareFlashed(from string, to string, restored bool) analytics.Track {
	return analytics.Track{
		Event: EventFirmwareFlashed,
		Properties: analytics.NewProperties().
			Set("from", from).
			Set("to", to).
			Set("restored", restored),
	}
}
