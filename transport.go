// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// Transport schemes
const (
	SchemeWS   = "ws"   // WebSocket, default relay protocol
	SchemeWSS  = "wss"  // WebSocket over TLS
	SchemeTCP  = "tcp"  // Length-prefixed frames over TCP
	SchemeGRPC = "grpc" // Bidirectional gRPC stream, requires build tag
)

// DialFunc opens a Transport to the relay at u.
type DialFunc func(ctx context.Context, u *url.URL) (Transport, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]DialFunc{
		SchemeWS:  dialWebsocket,
		SchemeWSS: dialWebsocket,
		SchemeTCP: dialTCP,
	}
)

// registerTransport registers a new transport (used by build tags)
func registerTransport(scheme string, dial DialFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[scheme] = dial
}

// AvailableTransports returns the registered schemes, sorted.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(scheme string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[scheme]
	return ok
}

// Dial opens a Transport for the master URI, choosing the implementation
// by URI scheme.
func Dial(ctx context.Context, masterURI string) (Transport, error) {
	u, err := url.Parse(masterURI)
	if err != nil {
		return nil, fmt.Errorf("parse master uri: %w", err)
	}
	transportsMu.RLock()
	dial, ok := transports[u.Scheme]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}
	return dial(ctx, u)
}
