// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package firmware

import (
	"fmt"
	"strings"
)

// Family is a firmware line a hub can run.
type Family string

const (
	Unknown   Family = ""
	PiShock   Family = "PiShock"
	OpenShock Family = "OpenShock"
)

// Families lists the flashable families in menu order.
func Families() []Family {
	return []Family{PiShock, OpenShock}
}

func (f Family) String() string {
	if f == Unknown {
		return "unknown"
	}
	return string(f)
}

func (f Family) Known() bool {
	return f == PiShock || f == OpenShock
}

// ParseFamily accepts a family name in any case.
func ParseFamily(s string) (Family, error) {
	for _, f := range Families() {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return Unknown, fmt.Errorf("unknown firmware '%s', must be one of %s", s, familyNames())
}

func familyNames() string {
	var names []string
	for _, f := range Families() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}
