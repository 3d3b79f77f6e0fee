// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is the envelope format version written by EncodePackage.
const WireVersion = 1

// Codec encodes values for the wire.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec is a JSON-based codec
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// CBORCodec encodes with canonical CBOR (RFC 8949 core deterministic).
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBORCodec. Untyped maps decode as map[string]any
// and untyped integers as int64, the normalized form of Payload values.
func NewCBORCodec() (*CBORCodec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return &CBORCodec{enc: em, dec: dm}, nil
}

func (*CBORCodec) Name() string { return "cbor" }

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

var (
	// CBOR is the default codec.
	CBOR Codec = mustCBOR()
	JSON Codec = JSONCodec{}
)

func mustCBOR() *CBORCodec {
	c, err := NewCBORCodec()
	if err != nil {
		panic(err)
	}
	return c
}

// CodecByName returns the codec registered under name ("cbor" or "json").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "cbor":
		return CBOR, nil
	case "json":
		return JSON, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}

type envelope struct {
	Version           uint8  `cbor:"v" json:"v"`
	Type              string `cbor:"t,omitempty" json:"t,omitempty"`
	Data              []byte `cbor:"d,omitempty" json:"d,omitempty"`
	Destination       string `cbor:"dst" json:"dst"`
	Source            string `cbor:"src" json:"src"`
	SourceConvID      string `cbor:"sid" json:"sid"`
	DestinationConvID string `cbor:"did,omitempty" json:"did,omitempty"`
}

// EncodePackage serializes p. The payload is encoded with the same codec
// and tagged with its registered message type.
func EncodePackage(c Codec, p *Package) ([]byte, error) {
	env := envelope{
		Version:           WireVersion,
		Destination:       p.Destination,
		Source:            p.Source,
		SourceConvID:      p.SourceConvID,
		DestinationConvID: p.DestinationConvID,
	}
	if p.Data != nil {
		data, err := EncodeMessage(c, p.Data)
		if err != nil {
			return nil, err
		}
		env.Type = p.Data.MessageType()
		env.Data = data
	}
	return c.Encode(&env)
}

// DecodePackage is the inverse of EncodePackage. When only the message
// body cannot be decoded, the Package is returned without Data alongside
// the error, so the sender can still be answered.
func DecodePackage(c Codec, b []byte) (*Package, error) {
	var env envelope
	if err := c.Decode(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPackage, err)
	}
	if env.Version != WireVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedPackage, env.Version)
	}

	p := &Package{
		Destination:       env.Destination,
		Source:            env.Source,
		SourceConvID:      env.SourceConvID,
		DestinationConvID: env.DestinationConvID,
	}
	if env.Type != "" {
		msg, err := DecodeMessage(c, env.Type, env.Data)
		if err != nil {
			return p, err
		}
		p.Data = msg
	}
	return p, nil
}

// EncodeMessage encodes a single message body.
func EncodeMessage(c Codec, m Message) ([]byte, error) {
	data, err := c.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return data, nil
}

// DecodeMessage decodes a message body of the registered type typ.
func DecodeMessage(c Codec, typ string, data []byte) (Message, error) {
	target, result, err := newMessage(typ)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := c.Decode(data, target); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformedPackage, typ, err)
		}
	}
	return result(), nil
}
