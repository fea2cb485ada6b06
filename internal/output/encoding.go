package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
)

// Encoding selects the MQTT payload format.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding accepts "json" or "msgpack", case-insensitively.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", errors.Newf("unsupported payload encoding %q", s).
			Component("output").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Encode serializes a full result.
func (e Encoding) Encode(r inference.Result) ([]byte, error) {
	return e.marshal(r)
}

// Channel is one scalar of a split result.
type Channel struct {
	Name  string
	Value float32
}

// SplitChannels returns the scalars of r in emission order: amplitude,
// confidence, pitch.
func SplitChannels(r inference.Result) [3]Channel {
	return [3]Channel{
		{Name: "amplitude", Value: r.Amplitude},
		{Name: "confidence", Value: r.Confidence},
		{Name: "pitch", Value: r.Pitch},
	}
}

type channelPayload struct {
	Sequence uint64  `json:"sequence" msgpack:"sequence"`
	Value    float32 `json:"value" msgpack:"value"`
}

// EncodeChannel serializes one channel value tagged with the result sequence.
func (e Encoding) EncodeChannel(sequence uint64, c Channel) ([]byte, error) {
	return e.marshal(channelPayload{Sequence: sequence, Value: c.Value})
}

func (e Encoding) marshal(v any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch e {
	case EncodingMsgpack:
		data, err = msgpack.Marshal(v)
	default:
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e, err)
	}
	return data, nil
}
