// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("link: not connected")
	ErrNotIdentified    = errors.New("link: not identified")
	ErrInvalidLinkType  = errors.New("link: link type must not contain ':'")
	ErrInvalidNodeID    = errors.New("link: node id must not be empty or contain ':'")
	ErrMalformedPackage = errors.New("link: malformed package")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrMisrouted        = errors.New("link: package addressed to another node")
	ErrAlreadyFulfilled = errors.New("link: pending request already fulfilled")
	ErrRequestTimeout   = errors.New("link: request timeout")
	ErrConnectionLost   = errors.New("link: connection lost")
	ErrLinkClosed       = errors.New("link: closed")
	ErrUnknownScheme    = errors.New("link: unknown transport scheme")
)

// NetworkError is returned when the relay, or the node a request was
// addressed to, answers with a ServerErrorMessage.
type NetworkError struct {
	Reason string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("link: network error: %s", e.Reason)
}

// PanicError is reported to the requester when the local handler panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}
