// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pishock-switcher/switcher/cmd/switcher/analytics"
	"github.com/pishock-switcher/switcher/cmd/switcher/serialport"
)

func MonitorCmd(client analytics.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print the serial output of the hub",
		Long: "Print the serial output of the hub until interrupted.\n" +
			"Lines typed on stdin are sent to the hub as terminal commands.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			attach, err := cmd.Flags().GetBool("attach")
			if err != nil {
				return err
			}
			env, err := newEnvironment(cmd, client)
			if err != nil {
				return err
			}
			defer env.Close()

			fmt.Fprintf(os.Stderr, "Starting serial monitor of port '%s' ...\n", env.conn.Path())
			return env.run(cmd.Context(), func(ctx context.Context) error {
				return monitor(ctx, env.conn, os.Stdin, cmd.OutOrStdout(), !attach)
			})
		},
	}

	cmd.Flags().BoolP("attach", "a", false, "attach to the serial output without rebooting the hub")
	return cmd
}

// monitor copies the hub output to out and in to the hub until ctx is done.
func monitor(ctx context.Context, conn *serialport.Conn, in io.Reader, out io.Writer, reset bool) error {
	sub := conn.Subscribe()
	defer sub.Close()

	if reset {
		if err := conn.Reset(); err != nil && !errors.Is(err, serialport.ErrNoModemLines) {
			return fmt.Errorf("failed to reset the hub: %w", err)
		}
	}

	inputErr := make(chan error, 1)
	if in != nil {
		go func() {
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				if err := conn.WriteLine(scanner.Text()); err != nil {
					inputErr <- err
					return
				}
			}
			inputErr <- scanner.Err()
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-inputErr:
			if err != nil {
				return err
			}
			// stdin closed; keep printing.
			inputErr = nil
		case chunk := <-sub.Data():
			if _, err := out.Write(chunk); err != nil {
				return err
			}
		}
	}
}
