package output

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tphakala/pitchnet-go/internal/inference"
)

func TestParseEncoding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", EncodingJSON, false},
		{"JSON", EncodingJSON, false},
		{" msgpack ", EncodingMsgpack, false},
		{"protobuf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestEncodeFormats(t *testing.T) {
	t.Parallel()
	r := inference.Result{Sequence: 9, SessionID: "s", Pitch: 69, Confidence: 0.8, Amplitude: 0.1, Gated: false}

	data, err := EncodingJSON.Encode(r)
	require.NoError(t, err)
	var asJSON map[string]any
	require.NoError(t, json.Unmarshal(data, &asJSON))
	assert.InDelta(t, 69, asJSON["pitch"], 1e-6)
	assert.Equal(t, "s", asJSON["sessionId"])

	data, err = EncodingMsgpack.Encode(r)
	require.NoError(t, err)
	var asMsgpack map[string]any
	require.NoError(t, msgpack.Unmarshal(data, &asMsgpack))
	assert.Equal(t, "s", asMsgpack["session_id"])
}

func TestSplitChannelsOrder(t *testing.T) {
	t.Parallel()
	ch := SplitChannels(inference.Result{Pitch: 60, Confidence: 0.5, Amplitude: 0.2})
	assert.Equal(t, "amplitude", ch[0].Name)
	assert.Equal(t, "confidence", ch[1].Name)
	assert.Equal(t, "pitch", ch[2].Name)
	assert.InDelta(t, 60, ch[2].Value, 0)

	data, err := EncodingJSON.EncodeChannel(4, ch[2])
	require.NoError(t, err)
	assert.JSONEq(t, `{"sequence":4,"value":60}`, string(data))
}
