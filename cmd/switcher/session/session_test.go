package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pishock-switcher/switcher/cmd/switcher/backup"
	"github.com/pishock-switcher/switcher/cmd/switcher/esptool"
	"github.com/pishock-switcher/switcher/cmd/switcher/firmware"
	"github.com/pishock-switcher/switcher/cmd/switcher/probe"
	"github.com/pishock-switcher/switcher/cmd/switcher/prompt"
	"github.com/pishock-switcher/switcher/cmd/switcher/serialport"
	"github.com/pishock-switcher/switcher/cmd/switcher/serialport/serialporttest"
)

const (
	terminalInfo = `{"version":"3.2.1","type":4,"macaddress":"AA:BB","networks":[{"ssid":"home","password":"x"},{"ssid":"work","password":"y"}],"ownerId":42}`
	jsonConfig   = `{"wifi":{"hostname":"OpenShock","credentials":[]},"backend":{"domain":"api.openshock.app","authToken":"t"}}`

	saveLabel     = "Do you want to save your PiShock settings?"
	continueLabel = "There was a problem saving your settings. Do you want to flash anyway?"
)

func piShock(line string) string {
	if line == `{"cmd":"info"}` {
		return "TERMINALINFO: " + terminalInfo + "\n"
	}
	return ""
}

func openShock(line string) string {
	if line == "jsonconfig" {
		return "$SYS$|Response|JsonConfig|" + jsonConfig + "\n"
	}
	return ""
}

func silent(string) string { return "" }

type fakePrompter struct {
	t        *testing.T
	mu       sync.Mutex
	confirms map[string]bool
	selects  []int
	asked    []string
}

func (p *fakePrompter) Confirm(label string, def bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, label)
	answer, ok := p.confirms[label]
	if !ok {
		p.t.Errorf("unexpected question %q", label)
		return false, prompt.ErrAborted
	}
	return answer, nil
}

func (p *fakePrompter) Select(label string, items []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, label)
	if len(p.selects) == 0 {
		return 0, prompt.ErrAborted
	}
	i := p.selects[0]
	p.selects = p.selects[1:]
	return i, nil
}

func (p *fakePrompter) questions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.asked...)
}

type flashCall struct {
	port     string
	layout   esptool.Layout
	size     int64
	portOpen bool
}

type fakeFlasher struct {
	dev     *serialporttest.Device
	initErr error
	err     error
	release chan struct{}

	mu    sync.Mutex
	calls []flashCall
}

func (f *fakeFlasher) Init() error {
	return f.initErr
}

func (f *fakeFlasher) Flash(ctx context.Context, port string, layout esptool.Layout, file string, progress func(int)) error {
	call := flashCall{port: port, layout: layout, size: -1, portOpen: f.dev.IsOpen()}
	if stat, err := os.Stat(file); err == nil {
		call.size = stat.Size()
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	progress(100)
	return f.err
}

func (f *fakeFlasher) flashed() []flashCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]flashCall(nil), f.calls...)
}

type fakeResolver struct {
	err      error
	resolved []firmware.Family
}

func (r *fakeResolver) Resolve(ctx context.Context, f firmware.Family) (firmware.Descriptor, error) {
	r.resolved = append(r.resolved, f)
	if r.err != nil {
		return firmware.Descriptor{}, r.err
	}
	if f == firmware.PiShock {
		return firmware.Descriptor{
			Family:     f,
			URL:        "https://example.invalid/pishock",
			TruncateTo: 32,
			FlashArgs:  []string{"--flash_freq", "40m", "-z"},
			Offset:     "0x1000",
		}, nil
	}
	return firmware.Descriptor{Family: f, URL: "https://example.invalid/openshock", Offset: "0x0"}, nil
}

type fixture struct {
	dev      *serialporttest.Device
	conn     *serialport.Conn
	store    backup.Store
	prompter *fakePrompter
	resolver *fakeResolver
	flasher  *fakeFlasher
	session  *Session

	image     []byte
	downloads []string

	mu      sync.Mutex
	events  []Event
	waits   []time.Duration
	flashed []string
}

func newFixture(t *testing.T, handler serialporttest.Handler) *fixture {
	f := &fixture{
		dev:      serialporttest.NewDevice(handler),
		store:    backup.Store{Dir: filepath.Join(t.TempDir(), "data")},
		prompter: &fakePrompter{t: t, confirms: map[string]bool{}},
		resolver: &fakeResolver{},
		image:    bytes.Repeat([]byte{0x42}, 16),
	}
	f.flasher = &fakeFlasher{dev: f.dev}

	conn, err := serialport.NewConn("/dev/ttyUSB0", f.dev.Opener())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	f.conn = conn

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := probe.NewEngine(conn, logger,
		probe.WithInterval(10*time.Millisecond),
		probe.WithTimeout(150*time.Millisecond))

	downloadDir := t.TempDir()
	f.session = New(Config{
		Port:     conn,
		Engine:   engine,
		Store:    f.store,
		Prompter: f.prompter,
		Resolver: f.resolver,
		Flasher:  f.flasher,
		Logger:   logger,
		Download: func(ctx context.Context, url string, family firmware.Family, progress firmware.ProgressFunc) (string, error) {
			file, err := os.CreateTemp(downloadDir, firmware.TempPattern(family))
			if err != nil {
				return "", err
			}
			defer file.Close()
			if _, err := file.Write(f.image); err != nil {
				return "", err
			}
			f.downloads = append(f.downloads, file.Name())
			progress(100)
			return file.Name(), nil
		},
		RestoreGrace:  20 * time.Second,
		RestorePacing: time.Millisecond,
		OnEvent: func(e Event) {
			f.mu.Lock()
			f.events = append(f.events, e)
			f.mu.Unlock()
		},
		OnFlashed: func(from, to firmware.Family, restored bool) {
			f.mu.Lock()
			f.flashed = append(f.flashed, from.String()+">"+to.String())
			f.mu.Unlock()
		},
	})
	f.session.after = func(d time.Duration) <-chan time.Time {
		f.mu.Lock()
		f.waits = append(f.waits, d)
		f.mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return f
}

func (f *fixture) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	var states []State
	for _, e := range f.events {
		if e.Percent < 0 {
			states = append(states, e.State)
		}
	}
	return states
}

func (f *fixture) assertDownloadsRemoved(t *testing.T) {
	for _, path := range f.downloads {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "download %s was not removed", path)
	}
}

func TestDetect(t *testing.T) {
	f := newFixture(t, piShock)

	detection, err := f.session.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, firmware.PiShock, detection.Family)
	assert.Equal(t, firmware.PiShock, f.session.Firmware())
	assert.Equal(t, []State{Detecting, Idle}, f.states())

	// A hub that stops answering keeps its last known firmware.
	f.dev.SetHandler(silent)
	detection, err = f.session.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, firmware.Unknown, detection.Family)
	assert.Equal(t, firmware.PiShock, f.session.Firmware())
	assert.Equal(t, 0, f.conn.Subscribers())
}

func TestFlashSavesAndSwitches(t *testing.T) {
	f := newFixture(t, piShock)
	f.prompter.confirms[saveLabel] = true

	_, err := f.session.Detect(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.session.Flash(context.Background(), firmware.OpenShock))

	data, err := f.store.Load(firmware.PiShock)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"ssid":"home","password":"x"},{"ssid":"work","password":"y"}]`, string(data))

	calls := f.flasher.flashed()
	require.Len(t, calls, 1)
	assert.Equal(t, "/dev/ttyUSB0", calls[0].port)
	assert.Equal(t, esptool.Layout{Offset: "0x0"}, calls[0].layout)
	assert.False(t, calls[0].portOpen, "port must be released while flashing")
	assert.EqualValues(t, len(f.image), calls[0].size)

	assert.True(t, f.dev.IsOpen())
	assert.Equal(t, 2, f.dev.Opens())
	assert.Equal(t, firmware.OpenShock, f.session.Firmware())
	assert.Equal(t, []string{saveLabel}, f.prompter.questions())
	assert.Equal(t, []string{"PiShock>OpenShock"}, f.flashed)
	assert.Empty(t, f.waits)
	f.assertDownloadsRemoved(t)

	assert.Equal(t, []State{Detecting, Idle, BackingUp, Downloading, Flashing, Idle}, f.states())
}

func TestFlashWithoutKnownFirmwareSkipsBackup(t *testing.T) {
	f := newFixture(t, silent)

	require.NoError(t, f.session.Flash(context.Background(), firmware.OpenShock))
	assert.Empty(t, f.prompter.questions())
	assert.False(t, f.store.Exists(firmware.PiShock))
	assert.Len(t, f.flasher.flashed(), 1)
}

func TestFlashDeclineBackup(t *testing.T) {
	f := newFixture(t, piShock)
	f.prompter.confirms[saveLabel] = false

	_, err := f.session.Detect(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.session.Flash(context.Background(), firmware.OpenShock))
	assert.False(t, f.store.Exists(firmware.PiShock))
	assert.Len(t, f.flasher.flashed(), 1)
}

func TestFlashBackupFailureAborts(t *testing.T) {
	f := newFixture(t, piShock)
	f.prompter.confirms[saveLabel] = true
	f.prompter.confirms[continueLabel] = false

	_, err := f.session.Detect(context.Background())
	require.NoError(t, err)
	f.dev.SetHandler(silent)

	err = f.session.Flash(context.Background(), firmware.OpenShock)
	assert.ErrorIs(t, err, ErrCycleAborted)
	assert.Empty(t, f.resolver.resolved)
	assert.Empty(t, f.flasher.flashed())
	assert.False(t, f.store.Exists(firmware.PiShock))
	assert.Equal(t, firmware.PiShock, f.session.Firmware())
	assert.Equal(t, Idle, f.session.State())
}

func TestFlashBackupFailureContinue(t *testing.T) {
	f := newFixture(t, piShock)
	f.prompter.confirms[saveLabel] = true
	f.prompter.confirms[continueLabel] = true

	_, err := f.session.Detect(context.Background())
	require.NoError(t, err)
	f.dev.SetHandler(silent)

	require.NoError(t, f.session.Flash(context.Background(), firmware.OpenShock))
	assert.False(t, f.store.Exists(firmware.PiShock), "a failed backup must not write a file")
	assert.Len(t, f.flasher.flashed(), 1)
	assert.Equal(t, []string{saveLabel, continueLabel}, f.prompter.questions())
}

func TestFlashTruncatesPiShockImage(t *testing.T) {
	f := newFixture(t, silent)
	f.image = append(bytes.Repeat([]byte{0x42}, 30), bytes.Repeat([]byte{0xff}, 100)...)

	require.NoError(t, f.session.Flash(context.Background(), firmware.PiShock))
	calls := f.flasher.flashed()
	require.Len(t, calls, 1)
	assert.EqualValues(t, 32, calls[0].size)
	assert.Equal(t, esptool.Layout{Flags: []string{"--flash_freq", "40m", "-z"}, Offset: "0x1000"}, calls[0].layout)
	assert.Contains(t, f.states(), Transforming)
	f.assertDownloadsRemoved(t)
}

func TestFlashIntegrityFailure(t *testing.T) {
	f := newFixture(t, silent)
	f.image = append(bytes.Repeat([]byte{0xff}, 40), 0x00)

	err := f.session.Flash(context.Background(), firmware.PiShock)
	var integrityErr *firmware.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Empty(t, f.flasher.flashed())
	assert.True(t, f.dev.IsOpen())
	assert.Equal(t, 1, f.dev.Opens())
	f.assertDownloadsRemoved(t)
}

func TestFlashFailureReopensPort(t *testing.T) {
	f := newFixture(t, silent)
	f.flasher.err = &esptool.ExitError{Code: 2}
	require.NoError(t, f.store.Save(firmware.OpenShock, []byte(jsonConfig)))

	err := f.session.Flash(context.Background(), firmware.OpenShock)
	var exitErr *esptool.ExitError
	require.ErrorAs(t, err, &exitErr)
	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.True(t, f.dev.IsOpen())
	assert.Equal(t, 2, f.dev.Opens())
	assert.Equal(t, firmware.Unknown, f.session.Firmware())
	// No restore offer after a failed flash.
	assert.Empty(t, f.prompter.questions())
	assert.Empty(t, f.flashed)
	f.assertDownloadsRemoved(t)
}

func TestFlashMissingEsptoolIsFatal(t *testing.T) {
	f := newFixture(t, silent)
	f.flasher.initErr = esptool.ErrNotFound

	err := f.session.Flash(context.Background(), firmware.OpenShock)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, esptool.ErrNotFound)
	assert.Empty(t, f.resolver.resolved)
}

func TestFlashResolveFailureIsFatal(t *testing.T) {
	f := newFixture(t, silent)
	f.resolver.err = errors.New("no route to host")

	err := f.session.Flash(context.Background(), firmware.OpenShock)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Empty(t, f.downloads)

	// A cancelled prompt is passed through as is.
	f.resolver.err = prompt.ErrAborted
	err = f.session.Flash(context.Background(), firmware.OpenShock)
	assert.ErrorIs(t, err, prompt.ErrAborted)
	assert.False(t, errors.As(err, &fatal))
}

func TestFlashRestoresOpenShock(t *testing.T) {
	f := newFixture(t, silent)
	f.prompter.confirms["You have data saved for OpenShock! Do you want to restore it?"] = true
	require.NoError(t, f.store.Save(firmware.OpenShock, []byte("{\n  \"wifi\": {\"hostname\": \"OpenShock\"}\n}")))

	require.NoError(t, f.session.Flash(context.Background(), firmware.OpenShock))
	require.Eventually(t, func() bool { return len(f.dev.Lines()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{`jsonconfig {"wifi":{"hostname":"OpenShock"}}`}, f.dev.Lines())
	assert.Equal(t, []time.Duration{20 * time.Second}, f.waits)
	assert.Equal(t, []State{Downloading, Flashing, Restoring, WaitingForRestart, Idle}, f.states())
	assert.Equal(t, []string{"unknown>OpenShock"}, f.flashed)
}

func TestFlashRestoresPiShockNetworks(t *testing.T) {
	f := newFixture(t, silent)
	f.prompter.confirms["You have data saved for PiShock! Do you want to restore it?"] = true
	saved := `[{"ssid":"home","password":"x"},{"ssid":" home ","password":"dup"},{"ssid":"","password":"blank"},{"ssid":"work","password":"y"}]`
	require.NoError(t, f.store.Save(firmware.PiShock, []byte(saved)))

	require.NoError(t, f.session.Flash(context.Background(), firmware.PiShock))
	want := []string{
		`{"cmd":"addnetwork","value":{"ssid":"home","password":"x"}}`,
		`{"cmd":"addnetwork","value":{"ssid":" home ","password":"dup"}}`,
		`{"cmd":"addnetwork","value":{"ssid":"","password":"blank"}}`,
		`{"cmd":"addnetwork","value":{"ssid":"work","password":"y"}}`,
	}
	require.Eventually(t, func() bool { return len(f.dev.Lines()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, f.dev.Lines())
	assert.Len(t, f.waits, 1)
}

func TestFlashRestoreDeclined(t *testing.T) {
	f := newFixture(t, silent)
	f.prompter.confirms["You have data saved for OpenShock! Do you want to restore it?"] = false
	require.NoError(t, f.store.Save(firmware.OpenShock, []byte(jsonConfig)))

	require.NoError(t, f.session.Flash(context.Background(), firmware.OpenShock))
	assert.Empty(t, f.dev.Lines())
	assert.Empty(t, f.waits)
	assert.True(t, f.store.Exists(firmware.OpenShock), "backups are never removed")
}

func TestOneCycleAtATime(t *testing.T) {
	f := newFixture(t, silent)
	f.flasher.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.session.Flash(context.Background(), firmware.OpenShock)
	}()
	require.Eventually(t, func() bool { return len(f.flasher.flashed()) == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, f.session.Flash(context.Background(), firmware.PiShock), ErrCycleActive)
	_, err := f.session.Detect(context.Background())
	assert.ErrorIs(t, err, ErrCycleActive)
	assert.ErrorIs(t, f.session.Backup(context.Background()), ErrCycleActive)

	close(f.flasher.release)
	require.NoError(t, <-done)
	assert.Len(t, f.flasher.flashed(), 1)
}

func TestBackupOpenShock(t *testing.T) {
	f := newFixture(t, openShock)

	_, err := f.session.Detect(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.session.Backup(context.Background()))

	data, err := f.store.Load(firmware.OpenShock)
	require.NoError(t, err)
	assert.JSONEq(t, jsonConfig, string(data))
}

func TestBackupUnknownFirmware(t *testing.T) {
	f := newFixture(t, silent)
	assert.Error(t, f.session.Backup(context.Background()))
}

func TestRestoreWithoutBackup(t *testing.T) {
	f := newFixture(t, silent)
	restored, err := f.session.Restore(context.Background(), firmware.PiShock, false)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Empty(t, f.prompter.questions())
}

func TestRestoreCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t, silent)
	require.NoError(t, f.store.Save(firmware.OpenShock, []byte(jsonConfig)))
	f.session.after = func(time.Duration) <-chan time.Time { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	restored, err := f.session.Restore(ctx, firmware.OpenShock, false)
	assert.True(t, restored)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun(t *testing.T) {
	f := newFixture(t, piShock)
	f.prompter.confirms[saveLabel] = false
	f.prompter.selects = []int{1}

	err := f.session.Run(context.Background())
	assert.ErrorIs(t, err, prompt.ErrAborted)

	calls := f.flasher.flashed()
	require.Len(t, calls, 1)
	assert.Equal(t, "0x0", calls[0].layout.Offset)

	// The hub still answers as PiShock after the fake flash, so detection
	// after the cycle brings the session back to PiShock.
	assert.Equal(t, firmware.PiShock, f.session.Firmware())
	questions := f.prompter.questions()
	assert.Equal(t, "What would you like to flash", questions[0])
	assert.Equal(t, "What would you like to flash", questions[len(questions)-1])
}

func TestRunStopsAfterFailedFlash(t *testing.T) {
	f := newFixture(t, silent)
	f.flasher.err = &esptool.ExitError{Code: 2}
	f.prompter.selects = []int{1, 1}

	err := f.session.Run(context.Background())
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	var exitErr *esptool.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)

	assert.Len(t, f.flasher.flashed(), 1)
	assert.Equal(t, []string{"What would you like to flash"}, f.prompter.questions())
	assert.True(t, f.dev.IsOpen())
	f.assertDownloadsRemoved(t)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Waiting For Restart", WaitingForRestart.String())
	assert.True(t, strings.HasPrefix(State(42).String(), "State("))
}
