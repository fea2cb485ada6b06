package devices

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pitchnet-go/internal/capture"
)

func TestPrintDevices(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, printDevices(&buf, []capture.DeviceInfo{
		{Index: 0, Name: "USB Audio", ID: "hw:1,0", IsDefault: true},
		{Index: 2, Name: "HDMI", ID: "hw:0,3"},
	}))
	assert.Equal(t, "0: USB Audio (default), ID: hw:1,0\n2: HDMI, ID: hw:0,3\n", buf.String())

	buf.Reset()
	require.NoError(t, printDevices(&buf, nil))
	assert.Equal(t, "no capture devices found\n", buf.String())
}
