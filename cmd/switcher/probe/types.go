// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package probe

import "encoding/json"

// TerminalInfo is what PiShock firmware reports for the 'info' command.
type TerminalInfo struct {
	Version    string    `json:"version"`
	Type       int       `json:"type"`
	Connected  bool      `json:"connected"`
	Wifi       string    `json:"wifi"`
	Server     string    `json:"server"`
	MacAddress string    `json:"macaddress"`
	Shockers   []Shocker `json:"shockers"`
	Networks   []Network `json:"networks"`
	Claimed    bool      `json:"claimed"`
	IsDev      bool      `json:"isDev"`
	Publisher  bool      `json:"publisher"`
	Polled     bool      `json:"polled"`
	Subscriber bool      `json:"subscriber"`
	PublicIP   string    `json:"publicIp"`
	Internet   bool      `json:"internet"`
	OwnerID    int64     `json:"ownerId"`
}

type Shocker struct {
	ID     int64 `json:"id"`
	Type   int   `json:"type"`
	Paused bool  `json:"paused"`
}

// Network is a stored WiFi network on a PiShock hub.
type Network struct {
	SSID     string `json:"ssid" yaml:"ssid" mapstructure:"ssid"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
}

// JSONConfig is the configuration object of OpenShock firmware.
type JSONConfig struct {
	RF struct {
		TxPin            int  `json:"txPin"`
		KeepAliveEnabled bool `json:"keepAliveEnabled"`
	} `json:"rf"`
	Wifi struct {
		AccessPointSSID string          `json:"accessPointSSID"`
		Hostname        string          `json:"hostname"`
		Credentials     json.RawMessage `json:"credentials"`
	} `json:"wifi"`
	CaptivePortal struct {
		AlwaysEnabled bool `json:"alwaysEnabled"`
	} `json:"captivePortal"`
	Backend struct {
		Domain      string `json:"domain"`
		AuthToken   string `json:"authToken"`
		LCGOverride string `json:"lcgOverride"`
	} `json:"backend"`
	SerialInput struct {
		EchoEnabled bool `json:"echoEnabled"`
	} `json:"serialInput"`
	OTAUpdate struct {
		IsEnabled              bool   `json:"isEnabled"`
		CDNDomain              string `json:"cdnDomain"`
		UpdateChannel          string `json:"updateChannel"`
		CheckOnStartup         bool   `json:"checkOnStartup"`
		CheckPeriodically      bool   `json:"checkPeriodically"`
		CheckInterval          int    `json:"checkInterval"`
		AllowBackendManagement bool   `json:"allowBackendManagement"`
		RequireManualApproval  bool   `json:"requireManualApproval"`
		UpdateID               int64  `json:"updateId"`
		UpdateStep             string `json:"updateStep"`
	} `json:"otaUpdate"`
	EStop struct {
		Enabled bool `json:"enabled"`
		GPIOPin int  `json:"gpioPin"`
	} `json:"estop"`
}
