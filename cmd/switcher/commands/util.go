// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

type encoder interface {
	Encode(interface{}) error
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "short", "set output format to json, yaml or short")
}

func parseOutputFlag(cmd *cobra.Command, w io.Writer) (encoder, error) {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(output) {
	case "json":
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e, nil
	case "yaml":
		return yaml.NewEncoder(w), nil
	case "short":
		return newShortEncoder(w), nil
	default:
		return nil, fmt.Errorf("--output flag '%s' was not recognized. Must be either json, yaml or short", output)
	}
}

type shortEncoder struct {
	w io.Writer
}

func newShortEncoder(w io.Writer) *shortEncoder {
	return &shortEncoder{
		w: w,
	}
}

type Elements interface {
	Elements() []Short
}

type Short interface {
	Short() string
}

func (s *shortEncoder) Encode(v interface{}) error {
	switch t := v.(type) {
	case Elements:
		for _, e := range t.Elements() {
			fmt.Fprintln(s.w, e.Short())
		}
		return nil
	case Short:
		fmt.Fprintln(s.w, t.Short())
		return nil
	default:
		return fmt.Errorf("value type %T was not compatible with the Elements interface", v)
	}
}
