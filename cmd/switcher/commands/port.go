// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pishock-switcher/switcher/cmd/switcher/directory"
	"github.com/pishock-switcher/switcher/cmd/switcher/serialport"
)

type portList []serialport.PortInfo

func (l portList) Elements() []Short {
	res := make([]Short, len(l))
	for i, p := range l {
		res[i] = p
	}
	return res
}

func PortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "List serial ports or choose the one the hub is on",
		Long: "List serial ports or choose the one the hub is on. Without a chosen port\n" +
			"the hub is found by the USB id of its serial bridge.",
	}
	cmd.AddCommand(PortListCmd(), PortSetCmd(), PortClearCmd())
	return cmd
}

func listPorts(cmd *cobra.Command) (portList, error) {
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return nil, err
	}
	ports, err := serialport.List()
	if err != nil {
		return nil, err
	}
	if !all {
		ports = serialport.FilterPorts(ports)
	}
	return ports, nil
}

func PortListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List the serial ports",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := parseOutputFlag(cmd, os.Stdout)
			if err != nil {
				return err
			}
			ports, err := listPorts(cmd)
			if err != nil {
				return err
			}
			return out.Encode(ports)
		},
	}
	cmd.Flags().Bool("all", false, "if set, will show all available ports")
	addOutputFlag(cmd)
	return cmd
}

func PortSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "set [port]",
		Short:        "Select the serial port you want to use",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}

			var port string
			if len(args) == 1 {
				port = args[0]
			} else {
				ports, err := listPorts(cmd)
				if err != nil {
					return err
				}
				if len(ports) == 0 {
					return fmt.Errorf("no serial ports detected. Is the hub plugged in and the CH340 driver installed?")
				}
				prompter, err := newPrompter(cmd)
				if err != nil {
					return err
				}
				items := make([]string, len(ports))
				for i, p := range ports {
					items[i] = p.Short()
				}
				i, err := prompter.Select("Choose what serial port you want to use", items)
				if err != nil {
					return err
				}
				port = ports[i].Path
			}

			cfg.Set(directory.PortKey, port)
			if err := directory.WriteConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("Using port '%s'\n", port)
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "if set, will show all available ports")
	return cmd
}

func PortClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "clear",
		Short:        "Forget the chosen port and find the hub by its USB id again",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			cfg.Set(directory.PortKey, "")
			return directory.WriteConfig(cfg)
		},
	}
	return cmd
}
