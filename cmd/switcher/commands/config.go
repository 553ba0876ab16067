// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/pishock-switcher/switcher/cmd/switcher/analytics"
	"github.com/pishock-switcher/switcher/cmd/switcher/directory"
)

func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure Switcher",
		Long:  "Configure the Switcher command line tool.",
	}

	cmd.AddCommand(
		ConfigAnalyticsCmd(),
		ConfigShowCmd(),
	)
	return cmd
}

func ConfigAnalyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Configure reporting of anonymous tool usage statistics",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable reporting of anonymous tool usage statistics",
			Args:  cobra.NoArgs,
			RunE:  configAnalytics(false),
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable reporting of anonymous tool usage statistics",
			Args:  cobra.NoArgs,
			RunE:  configAnalytics(true),
		},
	)
	return cmd
}

func configAnalytics(disable bool) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		cfg, err := directory.GetUserConfig()
		if err != nil {
			return err
		}
		return analytics.SetDisabled(cfg, disable)
	}
}

type configView struct {
	ConfigPath string             `yaml:"config-path"`
	DataPath   string             `yaml:"data-path"`
	Settings   directory.Settings `yaml:"settings"`
}

func ConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "show",
		Short:        "Print the effective settings and where they are stored",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			configPath, err := directory.GetUserConfigPath()
			if err != nil {
				return err
			}
			dataPath, err := directory.GetDataPath()
			if err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(configView{
				ConfigPath: configPath,
				DataPath:   dataPath,
				Settings:   settings,
			})
		},
	}
	return cmd
}
