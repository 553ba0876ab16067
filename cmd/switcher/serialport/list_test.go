package serialport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func withPorts(t *testing.T, fn func() ([]*enumerator.PortDetails, error)) {
	t.Helper()
	orig := detailedPortsList
	detailedPortsList = fn
	t.Cleanup(func() { detailedPortsList = orig })
}

func TestMatchUSBIgnoresCase(t *testing.T) {
	match := MatchUSB(HubVendorID, HubProductID)
	assert.True(t, match(PortInfo{VendorID: "1a86", ProductID: "7523"}))
	assert.True(t, match(PortInfo{VendorID: "1A86", ProductID: "7523"}))
	assert.False(t, match(PortInfo{VendorID: "10C4", ProductID: "EA60"}))
	assert.False(t, match(PortInfo{}))
}

func TestAwaitRetriesUntilPortAppears(t *testing.T) {
	var calls atomic.Int32
	withPorts(t, func() ([]*enumerator.PortDetails, error) {
		switch calls.Add(1) {
		case 1:
			return nil, errors.New("enumeration failed")
		case 2:
			return []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil
		default:
			return []*enumerator.PortDetails{
				{Name: "/dev/ttyS0"},
				{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
			}, nil
		}
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	port, err := Await(context.Background(), logger, MatchUSB(HubVendorID, HubProductID), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", port.Path)
	assert.EqualValues(t, 3, calls.Load())
}

func TestAwaitStopsOnCancel(t *testing.T) {
	withPorts(t, func() ([]*enumerator.PortDetails, error) {
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Await(ctx, logger, MatchPath("/dev/ttyUSB9"), time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
