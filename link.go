// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// session is one relay connection. lost is closed, and cause set, when
// the connection goes away.
type session struct {
	tr    Transport
	lost  chan struct{}
	cause error
}

// Link is a client endpoint of the relay protocol. It owns a single relay
// connection over which any number of concurrent Requests and inbound
// requests are multiplexed by conversation id.
//
// Run is the only reader of the connection once started; Connect and
// Identify may also be called directly before Run takes over.
type Link struct {
	nid       string
	linkType  string
	secret    string
	masterURI *url.URL

	handler        Handler
	codec          Codec
	dial           DialFunc
	requestTimeout time.Duration
	log            *zap.Logger
	metrics        *metrics

	connectMu sync.Mutex

	mu       sync.Mutex
	sess     *session
	pending  map[string]*PendingRequest
	closed   bool
	closedCh chan struct{}

	connected  *gate
	identified *gate
}

// New creates a Link for the relay at masterURI. It does not connect;
// call Run, or Connect and Identify.
func New(masterURI, secret, linkType string, handler Handler, opts ...Option) (*Link, error) {
	if strings.Contains(linkType, ":") {
		return nil, ErrInvalidLinkType
	}
	u, err := url.Parse(masterURI)
	if err != nil {
		return nil, fmt.Errorf("parse master uri: %w", err)
	}

	o := &options{
		codec:  CBOR,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	nid := o.nid
	if nid == "" {
		nid = uuid.NewString()
	} else if strings.Contains(nid, ":") {
		return nil, ErrInvalidNodeID
	}

	dial := o.dialer
	if dial == nil {
		dial = func(ctx context.Context, u *url.URL) (Transport, error) {
			return Dial(ctx, u.String())
		}
	}

	m := newMetrics(linkType)
	if o.registerer != nil {
		if err := m.register(o.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return &Link{
		nid:            nid,
		linkType:       linkType,
		secret:         secret,
		masterURI:      u,
		handler:        handler,
		codec:          o.codec,
		dial:           dial,
		requestTimeout: o.requestTimeout,
		log:            o.logger.With(zap.String("nid", nid), zap.String("link_type", linkType)),
		metrics:        m,
		pending:        make(map[string]*PendingRequest),
		closedCh:       make(chan struct{}),
		connected:      newGate(),
		identified:     newGate(),
	}, nil
}

// NID returns the node id this link identifies with.
func (l *Link) NID() string { return l.nid }

func (l *Link) LinkType() string { return l.linkType }

func (l *Link) Connected() bool { return l.connected.IsSet() }

func (l *Link) Identified() bool { return l.identified.IsSet() }

// Pending returns the number of requests waiting for a reply.
func (l *Link) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Connect opens the relay connection. It is a no-op while connected.
func (l *Link) Connect(ctx context.Context) error {
	l.connectMu.Lock()
	defer l.connectMu.Unlock()

	l.mu.Lock()
	closed, sess := l.closed, l.sess
	l.mu.Unlock()
	if closed {
		return ErrLinkClosed
	}
	if sess != nil {
		return nil
	}

	l.log.Debug("connecting", zap.String("master_uri", l.masterURI.Redacted()))
	tr, err := l.dial(ctx, l.masterURI)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		tr.Close()
		return ErrLinkClosed
	}
	l.sess = &session{tr: tr, lost: make(chan struct{})}
	l.mu.Unlock()

	l.connected.Set()
	l.log.Info("connected")
	return nil
}

// Identify authenticates with the relay. It waits for the connection,
// sends the identification line and reads exactly one reply Package.
func (l *Link) Identify(ctx context.Context) error {
	if err := l.wait(ctx, l.connected); err != nil {
		return err
	}
	s := l.session()
	if s == nil {
		return ErrNotConnected
	}

	line := fmt.Sprintf("Identify %s:%s:%s", l.nid, l.linkType, l.secret)
	if err := s.tr.SendText(ctx, line); err != nil {
		l.disconnect(s, err)
		return fmt.Errorf("send identification: %w", err)
	}

	p, err := l.Receive(ctx)
	if err != nil {
		return err
	}
	if se, ok := p.Data.(*ServerErrorMessage); ok {
		l.log.Error("identification refused", zap.String("reason", se.Reason))
		return &NetworkError{Reason: se.Reason}
	}

	l.identified.Set()
	l.log.Info("identified")
	return nil
}

// Send writes p to the relay, blocking until the link is identified.
func (l *Link) Send(ctx context.Context, p *Package) error {
	s, err := l.ready(ctx)
	if err != nil {
		return err
	}
	return l.write(ctx, s, p)
}

// Receive reads one Package from the relay. A read failure drops the
// connection and is returned unwrapped. A Package whose body cannot be
// decoded is returned without Data together with the decode error.
func (l *Link) Receive(ctx context.Context) (*Package, error) {
	s := l.session()
	if s == nil {
		return nil, ErrNotConnected
	}

	data, err := s.tr.Recv(ctx)
	if err != nil {
		l.disconnect(s, err)
		return nil, err
	}

	p, err := DecodePackage(l.codec, data)
	if p == nil {
		return nil, err
	}
	if p.Destination != l.nid {
		return nil, fmt.Errorf("%w: %s", ErrMisrouted, p.Destination)
	}
	return p, err
}

// Request sends msg to destination and waits for the reply addressed to
// its conversation id. A ServerErrorMessage reply is returned as a
// *NetworkError, never as a value.
func (l *Link) Request(ctx context.Context, msg Message, destination string) (reply Message, err error) {
	p := NewPackage(msg, destination, l.nid)
	req := NewPendingRequest()
	l.register(p.SourceConvID, req)
	defer l.unregister(p.SourceConvID)

	defer func() {
		l.metrics.requests.WithLabelValues(requestOutcome(err)).Inc()
	}()

	if l.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.requestTimeout, ErrRequestTimeout)
		defer cancel()
	}

	s, err := l.ready(ctx)
	if err != nil {
		return nil, contextErr(ctx, err)
	}
	if err := l.write(ctx, s, p); err != nil {
		return nil, contextErr(ctx, err)
	}
	l.log.Debug("request sent",
		zap.String("conv_id", p.SourceConvID),
		zap.String("destination", destination),
	)

	select {
	case <-req.Done():
	case <-s.lost:
		select {
		case <-req.Done():
		default:
			return nil, fmt.Errorf("%w: %w", ErrConnectionLost, s.cause)
		}
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}

	data, _ := req.Wait(ctx)
	if se, ok := data.(*ServerErrorMessage); ok {
		return nil, &NetworkError{Reason: se.Reason}
	}
	return data, nil
}

// Run is the read loop. It connects and identifies as needed, fulfills
// pending requests with their replies and serves every other Package with
// the handler. Handler failures are answered with a RequestError and do not
// stop the loop; identification and transport failures end Run, and the
// caller decides whether to run it again.
//
// Handlers run with a context that is canceled when Run returns, and Run
// waits for them before returning.
func (l *Link) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var handlers sync.WaitGroup
	defer func() {
		cancel()
		handlers.Wait()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !l.connected.IsSet() {
			if err := l.Connect(ctx); err != nil {
				return err
			}
		}
		if !l.identified.IsSet() {
			if err := l.Identify(ctx); err != nil {
				return err
			}
		}

		p, err := l.Receive(ctx)
		switch {
		case p != nil && err != nil:
			l.log.Warn("undecodable message",
				zap.String("conv_id", p.SourceConvID),
				zap.String("source", p.Source),
				zap.Error(err),
			)
			p.Data = &RequestError{Type: "undecodable_message", Message: err.Error()}
			if p.IsReply() {
				l.resolve(p)
				continue
			}
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				l.metrics.inbound.WithLabelValues(outcomeFailed).Inc()
				l.reply(ctx, p, p.Data)
			}()
			continue
		case errors.Is(err, ErrMalformedPackage), errors.Is(err, ErrMisrouted):
			l.log.Warn("dropping package", zap.Error(err))
			continue
		case err != nil:
			return err
		}

		if p.IsReply() {
			l.resolve(p)
			continue
		}
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			l.serve(ctx, p)
		}()
	}
}

// Close drops the connection. Requests in flight fail with ErrLinkClosed
// and the link cannot be reconnected.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.closedCh)
	s := l.sess
	l.mu.Unlock()

	if s == nil {
		return nil
	}
	return l.disconnect(s, ErrLinkClosed)
}

func (l *Link) resolve(p *Package) {
	l.mu.Lock()
	req, ok := l.pending[p.DestinationConvID]
	l.mu.Unlock()

	if !ok {
		l.log.Debug("dropping reply without pending request",
			zap.String("conv_id", p.DestinationConvID),
			zap.String("source", p.Source),
		)
		return
	}
	if err := req.Set(p.Data); err != nil {
		l.log.Warn("duplicate reply", zap.String("conv_id", p.DestinationConvID))
	}
}

func (l *Link) serve(ctx context.Context, p *Package) {
	resp, err := l.handle(ctx, p.Data)
	if err != nil {
		l.log.Warn("request handler failed",
			zap.String("conv_id", p.SourceConvID),
			zap.String("source", p.Source),
			zap.Error(err),
		)
		l.metrics.inbound.WithLabelValues(outcomeFailed).Inc()
		resp = newRequestError(err)
	} else {
		l.metrics.inbound.WithLabelValues(outcomeOK).Inc()
	}

	l.reply(ctx, p, resp)
}

func (l *Link) reply(ctx context.Context, p *Package, resp Message) {
	if err := l.Send(ctx, p.Reply(resp)); err != nil {
		l.log.Warn("reply failed", zap.String("conv_id", p.SourceConvID), zap.Error(err))
	}
}

func (l *Link) handle(ctx context.Context, msg Message) (resp Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	if l.handler == nil {
		return nil, errors.New("no request handler")
	}
	return l.handler.HandleRequest(ctx, msg)
}

func (l *Link) write(ctx context.Context, s *session, p *Package) error {
	data, err := EncodePackage(l.codec, p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.tr.Send(ctx, data); err != nil {
		// A write that fails or is cut short leaves the connection in an
		// unknown state for every other conversation on it.
		l.disconnect(s, err)
		return fmt.Errorf("send %s: %w", p.SourceConvID, err)
	}
	return nil
}

// ready blocks until the link is identified and returns the live session.
func (l *Link) ready(ctx context.Context) (*session, error) {
	for {
		if err := l.wait(ctx, l.identified); err != nil {
			return nil, err
		}
		l.mu.Lock()
		s := l.sess
		l.mu.Unlock()
		if s != nil && l.identified.IsSet() {
			return s, nil
		}
	}
}

func (l *Link) wait(ctx context.Context, g *gate) error {
	select {
	case <-g.C():
		return nil
	case <-l.closedCh:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) session() *session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess
}

// disconnect tears s down if it is still the live session.
func (l *Link) disconnect(s *session, cause error) error {
	l.mu.Lock()
	if l.sess != s {
		l.mu.Unlock()
		return nil
	}
	l.sess = nil
	l.connected.Clear()
	l.identified.Clear()
	s.cause = cause
	close(s.lost)
	l.mu.Unlock()

	l.metrics.disconnects.Inc()
	l.log.Warn("disconnected", zap.Error(cause))
	return s.tr.Close()
}

func (l *Link) register(convID string, req *PendingRequest) {
	l.mu.Lock()
	l.pending[convID] = req
	l.mu.Unlock()
	l.metrics.pending.Inc()
}

func (l *Link) unregister(convID string) {
	l.mu.Lock()
	delete(l.pending, convID)
	l.mu.Unlock()
	l.metrics.pending.Dec()
}

// contextErr prefers the context's cause, so a timed out request reports
// ErrRequestTimeout rather than a bare deadline error.
func contextErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return context.Cause(ctx)
	}
	return err
}

func requestOutcome(err error) string {
	var netErr *NetworkError
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &netErr):
		return outcomeRemote
	case errors.Is(err, ErrRequestTimeout):
		return outcomeTimeout
	default:
		return outcomeFailed
	}
}
