// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"runtime"

	segment "github.com/segmentio/analytics-go/v3"
	"github.com/spf13/cobra"

	"github.com/pishock-switcher/switcher/cmd/switcher/analytics"
	"github.com/pishock-switcher/switcher/cmd/switcher/directory"
)

type ctxKey string

const (
	ctxKeyInfo ctxKey = "info"
)

type Info struct {
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	Date    string `mapstructure:"date" yaml:"date" json:"date"`
}

func SetInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKeyInfo, info)
}

func GetInfo(ctx context.Context) Info {
	return ctx.Value(ctxKeyInfo).(Info)
}

func SwitcherCmd(info Info, isReleaseBuild bool) *cobra.Command {
	var analyticsClient analytics.Client
	if cfg, err := directory.GetUserConfig(); err == nil {
		analyticsClient, _ = analytics.GetClient(cfg)
	}

	cmd := &cobra.Command{
		Use:   "pishock-switcher",
		Short: "Switch a PiShock hub between PiShock and OpenShock firmware",
		Long: "Switcher finds a PiShock hub on USB, detects whether it runs PiShock or OpenShock\n" +
			"firmware and flashes the other one. The settings of the running firmware are saved\n" +
			"before flashing and restored when you switch back.\n\n" +
			"Without a sub command Switcher runs interactively until you cancel a prompt.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if analyticsClient == nil {
				return
			}
			properties := segment.Properties{
				"command":  cmd.UseLine(),
				"platform": runtime.GOOS,
			}

			if isReleaseBuild {
				properties.Set("version", info.Version)
			} else {
				properties.Set("version", "development")
			}

			go analyticsClient.Enqueue(segment.Page{
				Name:       analytics.PageExecute,
				Properties: properties,
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if analyticsClient != nil {
				analyticsClient.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd, analyticsClient)
			if err != nil {
				return err
			}
			defer env.Close()
			return env.run(cmd.Context(), func(ctx context.Context) error {
				return env.session.Run(ctx)
			})
		},
	}

	addSessionFlags(cmd.PersistentFlags())
	cmd.AddCommand(
		DetectCmd(analyticsClient),
		BackupCmd(analyticsClient),
		FlashCmd(analyticsClient),
		RestoreCmd(analyticsClient),
		MonitorCmd(analyticsClient),
		PortCmd(),
		ConfigCmd(),
		VersionCmd(info, isReleaseBuild),
	)
	return cmd
}
