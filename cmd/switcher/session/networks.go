// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package session

import (
	"encoding/json"
	"fmt"

	"github.com/pishock-switcher/switcher/cmd/switcher/probe"
)

// decodeNetworks reads a PiShock backup. Object entries come back unchanged
// and in order. Entries that are not objects are skipped.
func decodeNetworks(data []byte) ([]probe.Network, error) {
	var entries []interface{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("the PiShock backup is not a list of networks: %w", err)
	}
	res := make([]probe.Network, 0, len(entries))
	for _, entry := range entries {
		if n, ok := networkFromValue(entry); ok {
			res = append(res, n)
		}
	}
	return res, nil
}

func networkFromValue(value interface{}) (probe.Network, bool) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return probe.Network{}, false
	}
	return probe.Network{
		SSID:     stringFromInterface(m["ssid"]),
		Password: stringFromInterface(m["password"]),
	}, true
}

func stringFromInterface(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

type addNetworkCommand struct {
	Cmd   string        `json:"cmd"`
	Value probe.Network `json:"value"`
}

func addNetworkLine(n probe.Network) (string, error) {
	b, err := json.Marshal(addNetworkCommand{Cmd: "addnetwork", Value: n})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
