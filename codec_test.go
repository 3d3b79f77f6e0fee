// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customMessage struct {
	Name  string   `cbor:"name" json:"name"`
	Count int      `cbor:"count" json:"count"`
	Tags  []string `cbor:"tags" json:"tags"`
}

func (*customMessage) MessageType() string { return "test_custom" }

func init() {
	RegisterMessage(&customMessage{})
}

func TestPackageRoundTrip(t *testing.T) {
	request := NewPackage(Payload{"cmd": "ping", "nested": map[string]any{"ok": true}}, "B", "A")
	packages := []*Package{
		request,
		request.Reply(&IdentifySuccessful{}),
		request.Reply(&ServerErrorMessage{Reason: "No such destination"}),
		request.Reply(&RequestError{Type: "*errors.errorString", Message: "boom"}),
		NewPackage(&customMessage{Name: "n", Count: 3, Tags: []string{"a", "b"}}, "worker", "A"),
		NewPackage(nil, "B", "A"),
	}

	for _, codec := range []Codec{CBOR, JSON} {
		t.Run(codec.Name(), func(t *testing.T) {
			for _, p := range packages {
				data, err := EncodePackage(codec, p)
				require.NoError(t, err)

				got, err := DecodePackage(codec, data)
				require.NoError(t, err)
				assert.Equal(t, p, got)
			}
		})
	}
}

func TestDecodePackageErrors(t *testing.T) {
	tests := []struct {
		name string
		env  envelope
	}{
		{name: "version", env: envelope{Version: 2, Destination: "A"}},
		{name: "unknown type", env: envelope{Version: WireVersion, Type: "nope", Destination: "A"}},
		{name: "bad body", env: envelope{Version: WireVersion, Type: "server_error", Data: []byte{0xff}, Destination: "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := CBOR.Encode(&tt.env)
			require.NoError(t, err)
			_, err = DecodePackage(CBOR, data)
			require.ErrorIs(t, err, ErrMalformedPackage)
		})
	}

	_, err := DecodePackage(JSON, []byte("{"))
	require.ErrorIs(t, err, ErrMalformedPackage)
}

func TestDecodePackageKeepsRouting(t *testing.T) {
	data, err := CBOR.Encode(&envelope{
		Version:      WireVersion,
		Type:         "nope",
		Destination:  "A",
		Source:       "C",
		SourceConvID: "c-1",
	})
	require.NoError(t, err)

	p, err := DecodePackage(CBOR, data)
	require.ErrorIs(t, err, ErrMalformedPackage)
	require.ErrorIs(t, err, ErrUnknownMessage)
	require.NotNil(t, p)
	assert.Equal(t, &Package{Destination: "A", Source: "C", SourceConvID: "c-1"}, p)
}

func TestPayloadNormalizedForm(t *testing.T) {
	sent := Payload{
		"n":     1,
		"neg":   int8(-2),
		"big":   uint32(70000),
		"ratio": 1.5,
		"tags":  []string{"a", "b"},
		"nested": map[string]any{
			"count": 7,
			"list":  []int{1, 2},
		},
		"none": nil,
	}
	want := Payload{
		"n":     int64(1),
		"neg":   int64(-2),
		"big":   int64(70000),
		"ratio": 1.5,
		"tags":  []any{"a", "b"},
		"nested": map[string]any{
			"count": int64(7),
			"list":  []any{int64(1), int64(2)},
		},
		"none": nil,
	}

	for _, codec := range []Codec{CBOR, JSON} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := EncodeMessage(codec, sent)
			require.NoError(t, err)
			got, err := DecodeMessage(codec, "payload", data)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			// The normalized form round-trips unchanged.
			data, err = EncodeMessage(codec, want)
			require.NoError(t, err)
			got, err = DecodeMessage(codec, "payload", data)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())

	c, err = CodecByName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = CodecByName("pickle")
	require.Error(t, err)
}

func TestRegisterMessageTwicePanics(t *testing.T) {
	assert.NotPanics(t, func() { RegisterMessage(&customMessage{}) })
	assert.Panics(t, func() { RegisterMessage(conflictingMessage{}) })
}

type conflictingMessage struct{}

func (conflictingMessage) MessageType() string { return "test_custom" }
