package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pishock-switcher/switcher/cmd/switcher/firmware"
)

func TestStore(t *testing.T) {
	store := Store{Dir: filepath.Join(t.TempDir(), "PiShock-Switcher")}
	assert.Equal(t, filepath.Join(store.Dir, "PiShock.json"), store.Path(firmware.PiShock))
	assert.Equal(t, filepath.Join(store.Dir, "OpenShock.json"), store.Path(firmware.OpenShock))

	assert.False(t, store.Exists(firmware.PiShock))
	_, err := store.Load(firmware.PiShock)
	assert.ErrorIs(t, err, os.ErrNotExist)

	networks := []byte(`[{"ssid":"home","password":"x"}]`)
	require.NoError(t, store.Save(firmware.PiShock, networks))
	assert.True(t, store.Exists(firmware.PiShock))
	assert.False(t, store.Exists(firmware.OpenShock))

	data, err := store.Load(firmware.PiShock)
	require.NoError(t, err)
	assert.Equal(t, networks, data)

	// Saving again replaces the file and leaves no temporaries behind.
	require.NoError(t, store.Save(firmware.PiShock, []byte(`[]`)))
	data, err = store.Load(firmware.PiShock)
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), data)

	entries, err := os.ReadDir(store.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStoreRejects(t *testing.T) {
	store := Store{Dir: t.TempDir()}
	assert.Error(t, store.Save(firmware.Unknown, []byte(`{}`)))
	assert.Error(t, store.Save(firmware.OpenShock, []byte(`{"rf":`)))
	assert.False(t, store.Exists(firmware.OpenShock))

	require.NoError(t, os.WriteFile(store.Path(firmware.OpenShock), []byte("garbage"), 0644))
	_, err := store.Load(firmware.OpenShock)
	assert.ErrorContains(t, err, "not valid JSON")
}
