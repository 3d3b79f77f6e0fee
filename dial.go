// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn implements Transport over a gorilla/websocket connection.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// dialWebsocket connects to a ws:// or wss:// relay
func dialWebsocket(ctx context.Context, u *url.URL) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return NewWebsocketTransport(conn), nil
}

// NewWebsocketTransport wraps an established websocket connection.
func NewWebsocketTransport(conn *websocket.Conn) Transport {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.BinaryMessage, data)
}

func (c *wsConn) SendText(ctx context.Context, line string) error {
	return c.write(ctx, websocket.TextMessage, []byte(line))
}

func (c *wsConn) write(ctx context.Context, kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(deadline)
	stop := expireOnDone(ctx, func() {
		c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(kind, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *wsConn) Recv(ctx context.Context) ([]byte, error) {
	c.conn.SetReadDeadline(time.Time{})
	stop := expireOnDone(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// expireOnDone runs expire once ctx ends. The returned stop does not
// return while expire is still running, so the caller may touch the
// connection's deadlines again right after it.
func expireOnDone(ctx context.Context, expire func()) (stop func()) {
	done := make(chan struct{})
	stopFunc := context.AfterFunc(ctx, func() {
		defer close(done)
		expire()
	})
	return func() {
		if !stopFunc() {
			<-done
		}
	}
}
