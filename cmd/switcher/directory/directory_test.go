package directory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataBase(t *testing.T) {
	home := func() (string, error) { return "/home/ada", nil }
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}

	tests := []struct {
		goos string
		vars map[string]string
		want string
	}{
		{"windows", map[string]string{"APPDATA": `C:\Users\ada\AppData\Roaming`}, `C:\Users\ada\AppData\Roaming`},
		{"darwin", nil, filepath.Join("/home/ada", "Library", "Preferences")},
		{"darwin", map[string]string{"XDG_DATA_HOME": "/xdg"}, filepath.Join("/home/ada", "Library", "Preferences")},
		{"linux", nil, filepath.Join("/home/ada", ".local", "share")},
		{"linux", map[string]string{"XDG_DATA_HOME": "/xdg"}, "/xdg"},
	}
	for _, test := range tests {
		got, err := dataBase(test.goos, env(test.vars), home)
		require.NoError(t, err)
		assert.Equal(t, test.want, got, test.goos)
	}

	_, err := dataBase("linux", env(nil), func() (string, error) { return "", errors.New("no home") })
	assert.Error(t, err)
}

func TestGetDataPathOverride(t *testing.T) {
	t.Setenv(DataPathEnv, "/tmp/switcher-data")
	path, err := GetDataPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/switcher-data", path)
}

func TestUserConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	t.Setenv(UserConfigPathEnv, path)

	cfg, err := GetUserConfig()
	require.NoError(t, err)
	cfg.Set(PortKey, "/dev/ttyUSB1")
	cfg.Set("restore.grace", "5s")
	require.NoError(t, WriteConfig(cfg))

	_, err = os.Stat(filepath.Join(filepath.Dir(path), ".config.tmp.yaml"))
	assert.True(t, os.IsNotExist(err))

	cfg, err = GetUserConfig()
	require.NoError(t, err)
	settings, err := LoadSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", settings.Port)
	assert.Equal(t, 5*time.Second, settings.Restore.Grace)
	assert.Equal(t, 115200, settings.Baud)
	assert.Equal(t, 10*time.Second, settings.Probe.Timeout)
	assert.Equal(t, time.Second, settings.PortRetryInterval)
	assert.Equal(t, "https://firmware.openshock.org", settings.Firmware.OpenShockURL)
}

func TestLoadSettingsRejectsBadValues(t *testing.T) {
	t.Setenv(UserConfigPathEnv, filepath.Join(t.TempDir(), "config.yaml"))
	cfg, err := GetUserConfig()
	require.NoError(t, err)

	cfg.Set("probe.timeout", "soon")
	_, err = LoadSettings(cfg)
	assert.Error(t, err)

	cfg.Set("probe.timeout", "1s")
	cfg.Set(BaudKey, 0)
	_, err = LoadSettings(cfg)
	assert.Error(t, err)
}
