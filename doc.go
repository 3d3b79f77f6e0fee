// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package link connects a node to a relay that routes request/response
// messages between nodes.
//
// A Link dials the relay, identifies itself with a node id, a link type
// and a shared secret, and then multiplexes any number of concurrent
// requests over the one connection. Each request carries a fresh
// conversation id; the reply echoes it back and is matched to the waiting
// caller. Requests arriving from other nodes are passed to the Handler and
// its result is sent back as the reply.
//
// # Transport Selection
//
// The relay address scheme picks the transport:
//
//	ws://, wss://   websocket (default)
//	tcp://          length-prefixed frames over TCP
//	grpc://         bidirectional gRPC stream (requires -tags grpc)
//
// # Usage
//
//	l, err := link.New("ws://relay:44445/", secret, "worker", handler,
//	    link.WithLogger(logger),
//	    link.WithRequestTimeout(30*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Close()
//
//	go l.Run(ctx)
//
//	reply, err := l.Request(ctx, link.Payload{"cmd": "ping"}, "other-type")
//
// Run returns when the connection is lost or identification fails. The
// link does not reconnect on its own; call Run again to reconnect.
//
// # Architecture
//
//   - link.go: Link, the read loop and request multiplexing
//   - package.go: Package routing envelope and conversation ids
//   - message.go: Message types and the type registry
//   - codec.go: CBOR and JSON wire codecs
//   - pending.go: PendingRequest single-assignment reply slot
//   - transport.go: Transport registry keyed by URI scheme
//   - dial.go, tcp.go, dial_grpc.go: websocket, TCP and gRPC transports
//   - gateway.go, json.go: JSON-RPC gateway for non-Go callers
//   - metrics.go: Prometheus collectors
package link
