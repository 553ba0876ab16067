// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/pishock-switcher/switcher/cmd/switcher/prompt"
	"github.com/pishock-switcher/switcher/cmd/switcher/session"
)

// progressUI prints session states and draws a bar for states that report
// progress.
type progressUI struct {
	w io.Writer

	mu  sync.Mutex
	bar *pb.ProgressBar
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{w: w}
}

func (u *progressUI) observe(e session.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if e.Percent < 0 {
		u.finishLocked()
		if e.State != session.Idle {
			fmt.Fprintf(u.w, "%s...\n", e.State)
		}
		return
	}
	if u.bar == nil {
		u.bar = pb.New(100)
		u.bar.SetWriter(u.w)
		u.bar.Set("prefix", e.State.String()+" ")
		u.bar.Start()
	}
	u.bar.SetCurrent(int64(e.Percent))
}

func (u *progressUI) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finishLocked()
}

func (u *progressUI) finishLocked() {
	if u.bar != nil {
		u.bar.Finish()
		u.bar = nil
	}
}

// wrap returns a prompter that clears the bar before asking.
func (u *progressUI) wrap(p prompt.Prompter) prompt.Prompter {
	return &uiPrompter{ui: u, Prompter: p}
}

type uiPrompter struct {
	ui *progressUI
	prompt.Prompter
}

func (p *uiPrompter) Confirm(label string, def bool) (bool, error) {
	p.ui.finish()
	return p.Prompter.Confirm(label, def)
}

func (p *uiPrompter) Select(label string, items []string) (int, error) {
	p.ui.finish()
	return p.Prompter.Select(label, items)
}
