// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Requester issues a request to another node and waits for its reply.
// *Link is the implementation; the gateway depends only on this.
type Requester interface {
	Request(ctx context.Context, msg Message, destination string) (Message, error)
}

// Handler serves requests that other nodes send to this link.
type Handler interface {
	HandleRequest(ctx context.Context, msg Message) (Message, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, msg Message) (Message, error)

func (f HandlerFunc) HandleRequest(ctx context.Context, msg Message) (Message, error) {
	return f(ctx, msg)
}

// Transport is one duplex, message-oriented connection to the relay.
type Transport interface {
	io.Closer
	Send(ctx context.Context, data []byte) error
	// SendText writes a text frame. Only the identification line uses it.
	SendText(ctx context.Context, line string) error
	Recv(ctx context.Context) ([]byte, error)
}

// Option configures a Link
type Option func(*options)

type options struct {
	nid            string
	codec          Codec
	logger         *zap.Logger
	dialer         DialFunc
	requestTimeout time.Duration
	registerer     prometheus.Registerer
}

// WithNodeID fixes the node id instead of generating one.
func WithNodeID(nid string) Option {
	return func(o *options) { o.nid = nid }
}

// WithCodec sets the wire codec (CBOR by default)
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger (no-op by default)
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialer replaces scheme-based dialing of the master URI.
func WithDialer(d DialFunc) Option {
	return func(o *options) { o.dialer = d }
}

// WithRequestTimeout bounds how long Request waits for a reply. Zero
// leaves the bound to the caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithRegisterer registers the link's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}
