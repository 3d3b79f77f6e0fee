// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testTimeout  = 5 * time.Second
	testNID      = "A"
	testLinkType = "worker"
	testSecret   = "s3cr3t"
)

type frame struct {
	text bool
	data []byte
}

// pipeTransport is an in-memory Transport; the test plays the relay on
// the other end.
type pipeTransport struct {
	in     chan []byte
	out    chan frame
	closed chan struct{}
	once   sync.Once

	// stallWrites makes writes hang like a relay that stopped reading.
	stallWrites atomic.Bool
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 64),
		out:    make(chan frame, 64),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) Send(ctx context.Context, data []byte) error {
	return p.write(ctx, frame{data: data})
}

func (p *pipeTransport) SendText(ctx context.Context, line string) error {
	return p.write(ctx, frame{text: true, data: []byte(line)})
}

func (p *pipeTransport) write(ctx context.Context, f frame) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	if p.stallWrites.Load() {
		select {
		case <-p.closed:
			return io.ErrClosedPipe
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case p.out <- f:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeTransport) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-p.out:
		return f
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for frame from link")
		return frame{}
	}
}

func (p *pipeTransport) nextPackage(t *testing.T) *Package {
	t.Helper()
	f := p.next(t)
	require.False(t, f.text, "unexpected text frame %q", f.data)
	pkg, err := DecodePackage(CBOR, f.data)
	require.NoError(t, err)
	return pkg
}

func (p *pipeTransport) requireSilent(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f := <-p.out:
		t.Fatalf("unexpected frame from link: text=%v %q", f.text, f.data)
	case <-time.After(d):
	}
}

func (p *pipeTransport) push(t *testing.T, pkg *Package) {
	t.Helper()
	data, err := EncodePackage(CBOR, pkg)
	require.NoError(t, err)
	p.in <- data
}

// acceptIdentify expects the identification line and accepts it.
func (p *pipeTransport) acceptIdentify(t *testing.T) {
	t.Helper()
	f := p.next(t)
	require.True(t, f.text)
	require.Equal(t, "Identify A:worker:s3cr3t", string(f.data))
	p.push(t, NewPackage(&IdentifySuccessful{}, testNID, "relay"))
}

// fakeRelay hands out a fresh pipeTransport for every dial.
type fakeRelay struct {
	conns chan *pipeTransport
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{conns: make(chan *pipeTransport, 8)}
}

func (r *fakeRelay) dial(ctx context.Context, u *url.URL) (Transport, error) {
	p := newPipeTransport()
	r.conns <- p
	return p, nil
}

func (r *fakeRelay) accept(t *testing.T) *pipeTransport {
	t.Helper()
	select {
	case p := <-r.conns:
		return p
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func newTestLink(t *testing.T, handler Handler, opts ...Option) (*Link, *fakeRelay) {
	t.Helper()
	relay := newFakeRelay()
	opts = append([]Option{WithNodeID(testNID), WithDialer(relay.dial)}, opts...)
	l, err := New("ws://relay.invalid/", testSecret, testLinkType, handler, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, relay
}

// runLink starts Run and completes identification. The returned channel
// yields Run's result.
func runLink(t *testing.T, l *Link, relay *fakeRelay) (*pipeTransport, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	conn := relay.accept(t)
	conn.acceptIdentify(t)
	require.Eventually(t, l.Identified, testTimeout, time.Millisecond)
	return conn, errCh
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

type result struct {
	msg Message
	err error
}

func requestAsync(ctx context.Context, l *Link, msg Message, destination string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		msg, err := l.Request(ctx, msg, destination)
		ch <- result{msg, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for request")
		return result{}
	}
}
