// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package backup keeps the settings read from a hub before it is flashed,
// one JSON file per firmware family.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pishock-switcher/switcher/cmd/switcher/firmware"
)

// Store saves backups under Dir. Files are only ever replaced, never removed,
// so a backup outlives any number of flash cycles.
type Store struct {
	Dir string
}

func (s Store) Path(f firmware.Family) string {
	return filepath.Join(s.Dir, string(f)+".json")
}

// Save replaces the backup of f with data, which must be a JSON document.
func (s Store) Save(f firmware.Family, data []byte) error {
	if !f.Known() {
		return fmt.Errorf("cannot save settings for %s firmware", f)
	}
	if !json.Valid(data) {
		return fmt.Errorf("refusing to save invalid %s settings", f)
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return err
	}

	file := s.Path(f)
	tmp, err := os.CreateTemp(s.Dir, "."+string(f)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}

// Load returns the saved settings of f.
func (s Store) Load(f firmware.Family) ([]byte, error) {
	data, err := os.ReadFile(s.Path(f))
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("the backup '%s' is not valid JSON", s.Path(f))
	}
	return data, nil
}

func (s Store) Exists(f firmware.Family) bool {
	stat, err := os.Stat(s.Path(f))
	return err == nil && !stat.IsDir()
}
