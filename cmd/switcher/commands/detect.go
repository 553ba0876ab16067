// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pishock-switcher/switcher/cmd/switcher/analytics"
	"github.com/pishock-switcher/switcher/cmd/switcher/probe"
)

type detectResult struct {
	Port     string `json:"port" yaml:"port"`
	Firmware string `json:"firmware" yaml:"firmware"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Mac      string `json:"mac,omitempty" yaml:"mac,omitempty"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
}

func newDetectResult(port string, d probe.Detection) detectResult {
	res := detectResult{
		Port:     port,
		Firmware: d.Family.String(),
	}
	if d.Result == nil {
		return res
	}
	if info := d.Result.TerminalInfo; info != nil {
		res.Version = info.Version
		res.Mac = info.MacAddress
	}
	if config := d.Result.JSONConfig; config != nil {
		res.Hostname = config.Wifi.Hostname
	}
	return res
}

func (r detectResult) Short() string {
	s := fmt.Sprintf("%s on %s", r.Firmware, r.Port)
	if r.Version != "" {
		s += " (version " + r.Version + ")"
	}
	if r.Hostname != "" {
		s += " (" + r.Hostname + ")"
	}
	return s
}

func DetectCmd(client analytics.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect the firmware running on the hub",
		Long: "Detect the firmware running on the hub by asking it in both the PiShock\n" +
			"and the OpenShock protocol at the same time.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := parseOutputFlag(cmd, os.Stdout)
			if err != nil {
				return err
			}
			env, err := newEnvironment(cmd, client)
			if err != nil {
				return err
			}
			defer env.Close()

			return env.run(cmd.Context(), func(ctx context.Context) error {
				detection, err := env.session.Detect(ctx)
				if err != nil {
					return err
				}
				return out.Encode(newDetectResult(env.conn.Path(), detection))
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func BackupCmd(client analytics.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Save the settings of the firmware running on the hub",
		Long: "Save the settings of the firmware running on the hub. PiShock hubs keep\n" +
			"their WiFi networks, OpenShock hubs their full configuration. The backup\n" +
			"replaces any earlier backup for the same firmware.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd, client)
			if err != nil {
				return err
			}
			defer env.Close()

			return env.run(cmd.Context(), func(ctx context.Context) error {
				if _, err := env.detect(ctx); err != nil {
					return err
				}
				return env.session.Backup(ctx)
			})
		},
	}
	return cmd
}
