// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pishock-switcher/switcher/cmd/switcher/analytics"
	"github.com/pishock-switcher/switcher/cmd/switcher/firmware"
)

func familyArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	_, err := firmware.ParseFamily(args[0])
	return err
}

func FlashCmd(client analytics.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flash <firmware>",
		Short: "Flash PiShock or OpenShock firmware onto the hub",
		Long: "Flash PiShock or OpenShock firmware onto the hub over serial using esptool.\n" +
			"The settings of the running firmware can be saved first, and saved settings\n" +
			"for the new firmware are offered for restore afterwards.",
		Args:         familyArg,
		ValidArgs:    []string{string(firmware.PiShock), string(firmware.OpenShock)},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := firmware.ParseFamily(args[0])
			if err != nil {
				return err
			}
			env, err := newEnvironment(cmd, client)
			if err != nil {
				return err
			}
			defer env.Close()

			return env.run(cmd.Context(), func(ctx context.Context) error {
				// Knowing the running firmware is only needed for the backup.
				if _, err := env.session.Detect(ctx); err != nil {
					return err
				}
				return env.session.Flash(ctx, target)
			})
		},
	}
	return cmd
}

func RestoreCmd(client analytics.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "restore <firmware>",
		Short:        "Send saved settings to a hub running the given firmware",
		Args:         familyArg,
		ValidArgs:    []string{string(firmware.PiShock), string(firmware.OpenShock)},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := firmware.ParseFamily(args[0])
			if err != nil {
				return err
			}
			env, err := newEnvironment(cmd, client)
			if err != nil {
				return err
			}
			defer env.Close()

			return env.run(cmd.Context(), func(ctx context.Context) error {
				detection, err := env.detect(ctx)
				if err != nil {
					return err
				}
				if detection.Family != family {
					return fmt.Errorf("the hub runs %s firmware, flash %s first", detection.Family, family)
				}
				restored, err := env.session.Restore(ctx, family, false)
				if err != nil {
					return err
				}
				if !restored {
					return fmt.Errorf("no saved settings for %s", family)
				}
				return nil
			})
		},
	}
	return cmd
}
