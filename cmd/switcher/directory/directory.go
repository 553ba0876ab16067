// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

const (
	// UserConfigPathEnv if set, will load the user config from that path.
	UserConfigPathEnv = "SWITCHER_USER_CONFIG_PATH"
	// DataPathEnv if set, overrides where settings backups are kept.
	DataPathEnv = "SWITCHER_DATA_PATH"

	dataDirName = "PiShock-Switcher"
)

func GetUserConfigPath() (string, error) {
	if path, ok := os.LookupEnv(UserConfigPathEnv); ok {
		return path, nil
	}

	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homedir, ".config", "pishock-switcher", "config.yaml"), nil
}

// GetDataPath returns the per-user directory for settings backups. It is
// not created until something is saved.
func GetDataPath() (string, error) {
	if path, ok := os.LookupEnv(DataPathEnv); ok {
		return path, nil
	}
	base, err := dataBase(runtime.GOOS, os.Getenv, os.UserHomeDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, dataDirName), nil
}

func dataBase(goos string, getenv func(string) string, home func() (string, error)) (string, error) {
	if appData := getenv("APPDATA"); appData != "" {
		return appData, nil
	}
	if goos != "darwin" {
		if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
			return xdg, nil
		}
	}
	homedir, err := home()
	if err != nil {
		return "", err
	}
	if goos == "darwin" {
		return filepath.Join(homedir, "Library", "Preferences"), nil
	}
	return filepath.Join(homedir, ".local", "share"), nil
}

func GetUserConfig() (*viper.Viper, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config path: %w", err)
	}

	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetConfigFile(path)
	SetDefaults(cfg)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read user config: %w", err)
		}
	}
	return cfg, nil
}

func WriteConfig(cfg *viper.Viper) error {
	file := cfg.ConfigFileUsed()
	dir := filepath.Dir(file)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmpFile := filepath.Join(dir, ".config.tmp.yaml")
	if err := cfg.WriteConfigAs(tmpFile); err != nil {
		return err
	}
	defer os.Remove(tmpFile)

	return os.Rename(tmpFile, file)
}
