//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// RelayStreamMethod is the full method name of the relay's bidirectional
// frame stream.
const RelayStreamMethod = "/link.Relay/Link"

func init() {
	// Register gRPC transport when build tag is enabled
	registerTransport(SchemeGRPC, dialGRPC)
}

var relayStreamDesc = &grpc.StreamDesc{
	StreamName:    "Link",
	ServerStreams: true,
	ClientStreams: true,
}

// frameCodec moves raw frames through gRPC without a protobuf schema.
type frameCodec struct{}

func (frameCodec) Name() string { return "link-frame" }

func (frameCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("frame codec: unexpected type %T", v)
	}
	return *b, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("frame codec: unexpected type %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

type grpcConn struct {
	conn    *grpc.ClientConn
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	writeMu sync.Mutex
}

func dialGRPC(ctx context.Context, u *url.URL) (Transport, error) {
	conn, err := grpc.NewClient(u.Host,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}

	// The stream outlives the dial context; Close cancels it.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := conn.NewStream(streamCtx, relayStreamDesc, RelayStreamMethod,
		grpc.ForceCodec(frameCodec{}),
	)
	stop()
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("grpc stream: %w", err)
	}
	return &grpcConn{conn: conn, stream: stream, cancel: cancel}, nil
}

func (c *grpcConn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.stream.SendMsg(&data)
}

func (c *grpcConn) SendText(ctx context.Context, line string) error {
	return c.Send(ctx, []byte(line))
}

// Recv cancels the whole stream if ctx ends first; gRPC offers no
// per-message read deadline.
func (c *grpcConn) Recv(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	var data []byte
	if err := c.stream.RecvMsg(&data); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return data, nil
}

func (c *grpcConn) Close() error {
	c.cancel()
	return c.conn.Close()
}
