// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"
)

// MaxFrameSize caps a single length-prefixed frame.
const MaxFrameSize = 64 * 1024 * 1024

var ErrFrameTooLarge = errors.New("link: frame too large")

// tcpConn implements Transport over a byte stream: every frame is
// [4 len][payload], big-endian.
type tcpConn struct {
	conn    net.Conn
	writeMu sync.Mutex
	header  [4]byte
}

// dialTCP connects to a tcp:// relay
func dialTCP(ctx context.Context, u *url.URL) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("tcp dial: %w", err)
	}
	return NewStreamTransport(conn), nil
}

// NewStreamTransport frames messages over an established byte stream.
func NewStreamTransport(conn net.Conn) Transport {
	return &tcpConn{conn: conn}
}

func (c *tcpConn) Send(ctx context.Context, data []byte) error {
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

	if err := WriteFrame(c.conn, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *tcpConn) SendText(ctx context.Context, line string) error {
	return c.Send(ctx, []byte(line))
}

// Recv must not be called concurrently; the link has a single reader.
func (c *tcpConn) Recv(ctx context.Context) ([]byte, error) {
	c.conn.SetReadDeadline(time.Time{})
	stop := expireOnDone(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := readFrame(c.conn, c.header[:])
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return data, err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("frame write: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, make([]byte, 4))
}

func readFrame(r io.Reader, header []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header)
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
