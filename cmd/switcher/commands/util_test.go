package commands

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pishock-switcher/switcher/cmd/switcher/serialport"
)

func outputCmd(t *testing.T, output string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	addOutputFlag(cmd)
	require.NoError(t, cmd.Flags().Set("output", output))
	return cmd
}

func Test_parseOutputFlag(t *testing.T) {
	ports := portList{
		{Path: "/dev/ttyUSB0", VendorID: "1A86", ProductID: "7523", IsUSB: true},
		{Path: "/dev/ttyS0"},
	}

	tests := []struct {
		output string
		want   string
	}{
		{"short", "/dev/ttyUSB0 (1A86:7523)\n/dev/ttyS0\n"},
		{"yaml", "- path: /dev/ttyUSB0\n  vendorId: 1A86\n  productId: \"7523\"\n  usb: true\n- path: /dev/ttyS0\n  usb: false\n"},
	}
	for _, test := range tests {
		t.Run(test.output, func(t *testing.T) {
			var buf bytes.Buffer
			out, err := parseOutputFlag(outputCmd(t, test.output), &buf)
			require.NoError(t, err)
			require.NoError(t, out.Encode(ports))
			assert.Equal(t, test.want, buf.String())
		})
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		out, err := parseOutputFlag(outputCmd(t, "JSON"), &buf)
		require.NoError(t, err)
		require.NoError(t, out.Encode(ports))
		assert.JSONEq(t, `[{"path":"/dev/ttyUSB0","vendorId":"1A86","productId":"7523","usb":true},{"path":"/dev/ttyS0","usb":false}]`, buf.String())
	})

	_, err := parseOutputFlag(outputCmd(t, "xml"), &bytes.Buffer{})
	assert.Error(t, err)
}

func Test_shortEncoderRejects(t *testing.T) {
	assert.Error(t, newShortEncoder(&bytes.Buffer{}).Encode(42))
	var buf bytes.Buffer
	require.NoError(t, newShortEncoder(&buf).Encode(serialport.PortInfo{Path: "COM3"}))
	assert.Equal(t, "COM3\n", buf.String())
}
