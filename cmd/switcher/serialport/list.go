// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package serialport

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
)

const (
	// HubVendorID and HubProductID identify the CH340 USB bridge used by the hubs.
	HubVendorID  = "1A86"
	HubProductID = "7523"

	// DefaultRetryInterval is how often Await enumerates the ports.
	DefaultRetryInterval = 1000 * time.Millisecond
)

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Path         string `json:"path" yaml:"path"`
	VendorID     string `json:"vendorId,omitempty" yaml:"vendorId,omitempty"`
	ProductID    string `json:"productId,omitempty" yaml:"productId,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty" yaml:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty" yaml:"product,omitempty"`
	IsUSB        bool   `json:"usb" yaml:"usb"`
}

func (p PortInfo) Short() string {
	if !p.IsUSB {
		return p.Path
	}
	return p.Path + " (" + p.VendorID + ":" + p.ProductID + ")"
}

// Match reports whether a port is the one we are waiting for.
type Match func(PortInfo) bool

// MatchUSB matches ports by vendor and product id, ignoring case.
func MatchUSB(vid string, pid string) Match {
	return func(p PortInfo) bool {
		return strings.EqualFold(p.VendorID, vid) && strings.EqualFold(p.ProductID, pid)
	}
}

// MatchPath matches a port by its exact path.
func MatchPath(path string) Match {
	return func(p PortInfo) bool {
		return p.Path == path
	}
}

// Overridden in tests.
var detailedPortsList = enumerator.GetDetailedPortsList

// List returns the serial ports currently present, with USB identifiers where
// the platform reports them.
func List() ([]PortInfo, error) {
	details, err := detailedPortsList()
	if err != nil {
		return nil, err
	}
	res := make([]PortInfo, 0, len(details))
	for _, d := range details {
		res = append(res, PortInfo{
			Path:         d.Name,
			VendorID:     d.VID,
			ProductID:    d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
			IsUSB:        d.IsUSB,
		})
	}
	return res, nil
}

// FilterPorts drops ports that are never useful for flashing, like bluetooth
// and virtual terminals.
func FilterPorts(ports []PortInfo) []PortInfo {
	var res []PortInfo
	for _, p := range ports {
		switch runtime.GOOS {
		case "darwin":
			if strings.Contains(p.Path, "Bluetooth") {
				continue
			}
		case "linux":
			if !strings.Contains(p.Path, "USB") && !strings.Contains(p.Path, "ACM") {
				continue
			}
		}
		res = append(res, p)
	}
	return res
}

// Await enumerates the ports every interval until one satisfies match. The
// device may not be plugged in yet, so an absent port is not an error.
func Await(ctx context.Context, logger *slog.Logger, match Match, interval time.Duration) (PortInfo, error) {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ports, err := List()
		if err != nil {
			logger.Debug("failed to enumerate serial ports", "error", err)
		}
		for _, p := range ports {
			if match(p) {
				return p, nil
			}
		}

		select {
		case <-ctx.Done():
			return PortInfo{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
