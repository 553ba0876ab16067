// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package firmware

import (
	"fmt"
	"os"
)

const (
	// PiShockImageSize is where PiShock images are cut before flashing.
	PiShockImageSize = 0x3ff000
	// PaddingByte is the erased-flash value the cut tail must consist of.
	PaddingByte = 0xff
)

// IntegrityError is returned when the discarded tail of an image holds
// anything but padding.
type IntegrityError struct {
	// Offset is the absolute offset of the first non-padding byte.
	Offset int
	Value  byte
	// Tail is the number of bytes that would have been discarded.
	Tail int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("truncated part is not all 0x%02x: found 0x%02x at offset 0x%x of a %d byte tail",
		PaddingByte, e.Value, e.Offset, e.Tail)
}

// Truncate returns the first size bytes of data. The rest must be padding.
// Images no longer than size are returned unchanged.
func Truncate(data []byte, size int) ([]byte, error) {
	if len(data) <= size {
		return data, nil
	}
	tail := data[size:]
	for i, b := range tail {
		if b != PaddingByte {
			return nil, &IntegrityError{
				Offset: size + i,
				Value:  b,
				Tail:   len(tail),
			}
		}
	}
	return data[:size], nil
}

// TruncateFile truncates the image at path in place. The file is left
// untouched if the check fails.
func TruncateFile(path string, size int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	truncated, err := Truncate(data, size)
	if err != nil {
		return err
	}
	if len(truncated) == len(data) {
		return nil
	}
	return os.WriteFile(path, truncated, 0644)
}
