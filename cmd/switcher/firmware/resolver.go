// Copyright (C) 2025 The PiShock Switcher Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package firmware

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/pishock-switcher/switcher/cmd/switcher/prompt"
)

const (
	DefaultPiShockURL   = "https://do.pishock.com/api/GetLatestFirmware"
	DefaultOpenShockURL = "https://firmware.openshock.org"

	// Hub variants as understood by the PiShock firmware API.
	piShockTypeUSBC   = 3
	piShockTypeLegacy = 4

	boardFilter = "pishock"
)

// Descriptor says where to get an image for a family and how to write it.
type Descriptor struct {
	Family  Family
	URL     string
	Version string
	Board   string
	// TruncateTo is the image size after download, zero to keep it as is.
	TruncateTo int
	FlashArgs  []string
	Offset     string
}

// Resolver turns a family into a Descriptor, asking the user for the
// hardware details the family needs.
type Resolver struct {
	Client       *http.Client
	Prompter     prompt.Prompter
	Logger       *slog.Logger
	PiShockURL   string
	OpenShockURL string
}

func (r *Resolver) Resolve(ctx context.Context, f Family) (Descriptor, error) {
	switch f {
	case PiShock:
		return r.resolvePiShock()
	case OpenShock:
		return r.resolveOpenShock(ctx)
	default:
		return Descriptor{}, fmt.Errorf("no firmware for family '%s'", f)
	}
}

func (r *Resolver) resolvePiShock() (Descriptor, error) {
	usbC, err := r.Prompter.Confirm("Does your hub have USB-C?", true)
	if err != nil {
		return Descriptor{}, err
	}
	hubType := piShockTypeLegacy
	if usbC {
		hubType = piShockTypeUSBC
	}

	base := r.PiShockURL
	if base == "" {
		base = DefaultPiShockURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return Descriptor{}, fmt.Errorf("invalid PiShock firmware url '%s': %w", base, err)
	}
	q := u.Query()
	q.Set("type", fmt.Sprint(hubType))
	u.RawQuery = q.Encode()

	return Descriptor{
		Family:     PiShock,
		URL:        u.String(),
		TruncateTo: PiShockImageSize,
		FlashArgs:  []string{"--flash_freq", "40m", "-z"},
		Offset:     "0x1000",
	}, nil
}

func (r *Resolver) resolveOpenShock(ctx context.Context) (Descriptor, error) {
	base := strings.TrimSuffix(r.OpenShockURL, "/")
	if base == "" {
		base = DefaultOpenShockURL
	}

	body, err := r.fetch(ctx, base+"/version-stable.txt")
	if err != nil {
		return Descriptor{}, err
	}
	version := strings.TrimSpace(body)
	if _, err := semver.NewVersion(strings.TrimPrefix(version, "v")); err != nil {
		return Descriptor{}, fmt.Errorf("unexpected OpenShock version '%s': %w", version, err)
	}

	body, err = r.fetch(ctx, fmt.Sprintf("%s/%s/boards.txt", base, version))
	if err != nil {
		return Descriptor{}, err
	}
	boards := FilterBoards(body)
	if len(boards) == 0 {
		return Descriptor{}, fmt.Errorf("OpenShock %s has no boards for PiShock hubs", version)
	}
	r.logger().Debug("resolved OpenShock release", "version", version, "boards", boards)

	i, err := r.Prompter.Select("Please choose your board", boards)
	if err != nil {
		return Descriptor{}, err
	}
	board := boards[i]

	return Descriptor{
		Family:  OpenShock,
		URL:     fmt.Sprintf("%s/%s/%s/firmware.bin", base, version, board),
		Version: version,
		Board:   board,
		Offset:  "0x0",
	}, nil
}

// FilterBoards returns the board names of a boards.txt listing that are
// meant for PiShock hardware.
func FilterBoards(listing string) []string {
	var boards []string
	scanner := bufio.NewScanner(strings.NewReader(listing))
	for scanner.Scan() {
		board := strings.TrimSpace(scanner.Text())
		if board == "" {
			continue
		}
		if strings.Contains(strings.ToLower(board), boardFilter) {
			boards = append(boards, board)
		}
	}
	return boards
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed fetching '%s': %v", rawURL, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Resolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
