// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package firmware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// ProgressFunc receives the download progress in whole percent.
type ProgressFunc func(percent int)

// TempPattern is the name pattern of downloaded images.
func TempPattern(f Family) string {
	return fmt.Sprintf("pishock-switcher-%s-firmware-*", strings.ToLower(string(f)))
}

// Download fetches url into a new temporary file in dir and returns its
// path. Progress is only reported when the server sends a content length.
// Nothing is left behind on failure.
func Download(ctx context.Context, client *http.Client, url string, dir string, f Family, progress ProgressFunc) (path string, err error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed downloading %s firmware: %v", f, resp.Status)
	}

	file, err := os.CreateTemp(dir, TempPattern(f))
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			os.Remove(file.Name())
		}
	}()

	var w io.Writer = file
	if progress != nil && resp.ContentLength > 0 {
		w = io.MultiWriter(file, &progressCounter{total: resp.ContentLength, report: progress, last: -1})
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		file.Close()
		return "", fmt.Errorf("failed downloading %s firmware: %w", f, err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return file.Name(), nil
}

type progressCounter struct {
	total    int64
	received int64
	last     int
	report   ProgressFunc
}

func (p *progressCounter) Write(b []byte) (int, error) {
	p.received += int64(len(b))
	percent := int(p.received * 100 / p.total)
	if percent != p.last {
		p.last = percent
		p.report(percent)
	}
	return len(b), nil
}
