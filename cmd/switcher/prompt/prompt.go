// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package prompt asks the user yes/no and multiple choice questions.
package prompt

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user cancels a prompt. Callers treat it as
// a request to stop the whole program.
var ErrAborted = errors.New("prompt cancelled")

type Prompter interface {
	// Confirm asks a yes/no question. def is the answer on a plain enter.
	Confirm(label string, def bool) (bool, error)
	// Select asks to pick one of items and returns its index.
	Select(label string, items []string) (int, error)
}

// Terminal prompts on the controlling terminal.
type Terminal struct{}

func (Terminal) Confirm(label string, def bool) (bool, error) {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if def {
		p.Default = "y"
	}
	_, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		// An empty answer with a 'n' default also ends up here.
		return false, nil
	default:
		return false, ErrAborted
	}
}

func (Terminal) Select(label string, items []string) (int, error) {
	if len(items) == 0 {
		return 0, errors.New("nothing to choose from")
	}
	p := promptui.Select{
		Label:     label,
		Items:     items,
		Templates: &promptui.SelectTemplates{},
	}
	i, _, err := p.Run()
	if err != nil {
		return 0, ErrAborted
	}
	return i, nil
}

// AssumeYes answers every confirmation with its default and forwards
// selections to the wrapped prompter.
type AssumeYes struct {
	Prompter Prompter
}

func (a AssumeYes) Confirm(label string, def bool) (bool, error) {
	return def, nil
}

func (a AssumeYes) Select(label string, items []string) (int, error) {
	return a.Prompter.Select(label, items)
}
