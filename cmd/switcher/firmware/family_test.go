package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFamily(t *testing.T) {
	for _, s := range []string{"PiShock", "pishock", "PISHOCK"} {
		f, err := ParseFamily(s)
		require.NoError(t, err)
		assert.Equal(t, PiShock, f)
	}

	f, err := ParseFamily("openshock")
	require.NoError(t, err)
	assert.Equal(t, OpenShock, f)

	_, err = ParseFamily("tasmota")
	assert.ErrorContains(t, err, "PiShock, OpenShock")
}

func TestFamilyString(t *testing.T) {
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "OpenShock", OpenShock.String())
	assert.False(t, Unknown.Known())
	assert.True(t, PiShock.Known())
}
