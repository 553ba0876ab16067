// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package probe

import "bytes"

// Frames larger than this are dropped instead of waiting for more data.
const maxFrameSize = 64 << 10

// frameScanner finds a marker followed by a complete JSON object in a stream
// of chunks. A frame may be split at any byte.
type frameScanner struct {
	marker []byte
	buf    []byte
}

func newFrameScanner(marker string) *frameScanner {
	return &frameScanner{marker: []byte(marker)}
}

// feed appends chunk and returns the first complete payload. The buffer is
// cleared after a match.
func (s *frameScanner) feed(chunk []byte) ([]byte, bool) {
	s.buf = append(s.buf, chunk...)
	for {
		i := bytes.Index(s.buf, s.marker)
		if i < 0 {
			// Keep just enough to recognize a marker split across chunks.
			if keep := len(s.marker) - 1; len(s.buf) > keep {
				s.buf = append(s.buf[:0], s.buf[len(s.buf)-keep:]...)
			}
			return nil, false
		}
		s.buf = append(s.buf[:0], s.buf[i:]...)
		rest := s.buf[len(s.marker):]
		if len(rest) == 0 {
			return nil, false
		}
		if rest[0] != '{' {
			// The marker was not the start of a frame.
			s.buf = append(s.buf[:0], rest...)
			continue
		}
		end, ok := objectEnd(rest)
		if !ok {
			// Frames are single lines. A line break or a new marker before the
			// object closes means this frame is broken; resume after it.
			if cut := bytes.IndexByte(rest, '\n'); cut >= 0 {
				s.buf = append(s.buf[:0], rest[cut+1:]...)
				continue
			}
			if next := bytes.Index(rest[1:], s.marker); next >= 0 {
				s.buf = append(s.buf[:0], rest[1+next:]...)
				continue
			}
			if len(rest) > maxFrameSize {
				s.buf = append(s.buf[:0], rest[1:]...)
				continue
			}
			return nil, false
		}
		payload := make([]byte, end)
		copy(payload, rest[:end])
		s.buf = s.buf[:0]
		return payload, true
	}
}

// objectEnd returns the length of the JSON object at the start of data, or
// false if the object is not closed yet. Braces inside strings are ignored.
func objectEnd(data []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
