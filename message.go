// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Message is the payload carried by a Package. Every concrete type that
// crosses the wire must be registered with RegisterMessage.
type Message interface {
	MessageType() string
}

var (
	messagesMu sync.RWMutex
	messages   = map[string]reflect.Type{}
)

// RegisterMessage makes the type of sample decodable. Pointer samples
// decode to pointers, value samples to values. It panics if the type name
// is already taken by a different type.
func RegisterMessage(sample Message) {
	name := sample.MessageType()
	typ := reflect.TypeOf(sample)

	messagesMu.Lock()
	defer messagesMu.Unlock()
	if prev, ok := messages[name]; ok && prev != typ {
		panic(fmt.Sprintf("link: message type %q registered twice (%v, %v)", name, prev, typ))
	}
	messages[name] = typ
}

// newMessage returns a pointer suitable for unmarshaling into, and a
// function that turns it back into the registered form.
func newMessage(name string) (any, func() Message, error) {
	messagesMu.RLock()
	typ, ok := messages[name]
	messagesMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %w %q", ErrMalformedPackage, ErrUnknownMessage, name)
	}

	if typ.Kind() == reflect.Pointer {
		ptr := reflect.New(typ.Elem())
		return ptr.Interface(), func() Message { return ptr.Interface().(Message) }, nil
	}
	ptr := reflect.New(typ)
	return ptr.Interface(), func() Message { return ptr.Elem().Interface().(Message) }, nil
}

// Payload is a free-form dictionary message.
//
// Values come back from either codec in one normalized form: integers as
// int64, other numbers as float64, arrays as []any and maps as
// map[string]any. JSON writes integral floats without a fraction, so
// float64(2) sent as JSON arrives as int64(2).
type Payload map[string]any

func (Payload) MessageType() string { return "payload" }

// UnmarshalJSON decodes numbers the way the CBOR codec does.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		m[k] = normalizeJSON(v)
	}
	*p = m
	return nil
}

func normalizeJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeJSON(e)
		}
	case []any:
		for i, e := range v {
			v[i] = normalizeJSON(e)
		}
	}
	return v
}

// IdentifySuccessful is sent by the relay once a link has been accepted.
type IdentifySuccessful struct{}

func (*IdentifySuccessful) MessageType() string { return "identify_successful" }

// ServerErrorMessage carries a failure reported by the relay or by a
// remote link.
type ServerErrorMessage struct {
	Reason string `cbor:"reason" json:"reason"`
}

func (*ServerErrorMessage) MessageType() string { return "server_error" }

// RequestError is sent back in place of a response when the local
// handler fails.
type RequestError struct {
	Type    string `cbor:"type" json:"type"`
	Message string `cbor:"message" json:"message"`
}

func (*RequestError) MessageType() string { return "request_error" }

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// newRequestError wraps a handler failure for transmission.
func newRequestError(err error) *RequestError {
	return &RequestError{Type: fmt.Sprintf("%T", err), Message: err.Error()}
}

func init() {
	RegisterMessage(Payload{})
	RegisterMessage(&IdentifySuccessful{})
	RegisterMessage(&ServerErrorMessage{})
	RegisterMessage(&RequestError{})
}
