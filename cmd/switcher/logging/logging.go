// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
	"golang.org/x/term"
)

const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatText    = "text"
)

// New returns a logger writing to w. The auto format picks the console
// handler when w is a terminal and JSON otherwise.
func New(w io.Writer, format string, debug bool) (*slog.Logger, error) {
	level := &slog.LevelVar{}
	if debug {
		level.Set(slog.LevelDebug)
	}

	switch strings.ToLower(format) {
	case FormatAuto, "":
		if isTerminal(w) {
			format = FormatConsole
		} else {
			format = FormatJSON
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case FormatConsole:
		handler = console.NewHandler(w, &console.HandlerOptions{
			Level:     level,
			AddSource: debug,
		})
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: debug,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					a.Key = "ts"
				}
				return a
			},
		})
	case FormatText:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("unknown log format '%s', must be one of auto, console, json, text", format)
	}
	return slog.New(handler), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
