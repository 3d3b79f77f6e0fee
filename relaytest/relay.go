// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relaytest runs an in-process relay for exercising links in
// tests. It authenticates identification lines against a shared secret
// and routes Packages by node id or by link type.
package relaytest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luxfi/link"
)

// Source is the Source of Packages the relay itself originates.
const Source = "relay"

var ErrUnknownNode = errors.New("relaytest: unknown node")

type node struct {
	nid      string
	linkType string
	tr       link.Transport
}

// Relay is a WebSocket relay served by an httptest.Server.
type Relay struct {
	secret   string
	codec    link.Codec
	log      *zap.Logger
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	nodes   map[string]*node
	changed chan struct{}
}

// Option configures a Relay
type Option func(*Relay)

// WithCodec sets the wire codec; it must match the links' codec.
func WithCodec(c link.Codec) Option {
	return func(r *Relay) { r.codec = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.log = l }
}

// New starts a relay accepting links that present secret.
func New(secret string, opts ...Option) *Relay {
	r := &Relay{
		secret:  secret,
		codec:   link.CBOR,
		log:     zap.NewNop(),
		nodes:   make(map[string]*node),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.serveHTTP))
	return r
}

// URL returns the ws:// master URI of the relay.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

// Nodes returns the ids of the identified links, sorted.
func (r *Relay) Nodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	nids := make([]string, 0, len(r.nodes))
	for nid := range r.nodes {
		nids = append(nids, nid)
	}
	sort.Strings(nids)
	return nids
}

// WaitForNode blocks until nid has identified.
func (r *Relay) WaitForNode(ctx context.Context, nid string) error {
	for {
		r.mu.Lock()
		_, ok := r.nodes[nid]
		changed := r.changed
		r.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Inject delivers p to the link identified as nid, as is.
func (r *Relay) Inject(ctx context.Context, nid string, p *link.Package) error {
	r.mu.Lock()
	n, ok := r.nodes[nid]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nid)
	}
	return r.send(ctx, n.tr, p)
}

// Disconnect drops the connection of nid.
func (r *Relay) Disconnect(nid string) error {
	r.mu.Lock()
	n, ok := r.nodes[nid]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nid)
	}
	return n.tr.Close()
}

// Close disconnects every link and stops the server.
func (r *Relay) Close() error {
	r.mu.Lock()
	var err error
	for _, n := range r.nodes {
		err = multierr.Append(err, n.tr.Close())
	}
	r.mu.Unlock()
	r.server.Close()
	return err
}

func (r *Relay) serveHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	tr := link.NewWebsocketTransport(conn)
	defer tr.Close()

	ctx := req.Context()
	n, err := r.identify(ctx, tr)
	if err != nil {
		r.log.Info("identification failed", zap.Error(err))
		return
	}
	defer r.remove(n)

	for {
		data, err := tr.Recv(ctx)
		if err != nil {
			r.log.Debug("link gone", zap.String("nid", n.nid), zap.Error(err))
			return
		}
		p, err := link.DecodePackage(r.codec, data)
		if err != nil {
			r.log.Warn("bad package", zap.String("nid", n.nid), zap.Error(err))
			continue
		}
		r.route(ctx, n, p)
	}
}

func (r *Relay) identify(ctx context.Context, tr link.Transport) (*node, error) {
	data, err := tr.Recv(ctx)
	if err != nil {
		return nil, err
	}
	line, ok := strings.CutPrefix(string(data), "Identify ")
	if !ok {
		return nil, fmt.Errorf("unexpected first frame %q", data)
	}
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed identification %q", line)
	}
	n := &node{nid: parts[0], linkType: parts[1], tr: tr}

	if parts[2] != r.secret {
		refusal := link.NewPackage(&link.ServerErrorMessage{Reason: "Invalid secret"}, n.nid, Source)
		return nil, multierr.Append(errors.New("invalid secret"), r.send(ctx, tr, refusal))
	}

	r.mu.Lock()
	if old, ok := r.nodes[n.nid]; ok {
		old.tr.Close()
	}
	r.nodes[n.nid] = n
	r.notify()
	r.mu.Unlock()

	r.log.Info("link identified", zap.String("nid", n.nid), zap.String("link_type", n.linkType))
	return n, r.send(ctx, tr, link.NewPackage(&link.IdentifySuccessful{}, n.nid, Source))
}

func (r *Relay) remove(n *node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[n.nid] == n {
		delete(r.nodes, n.nid)
		r.notify()
	}
}

// notify must be called with r.mu held.
func (r *Relay) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// lookup resolves destination as a node id first, then as a link type.
func (r *Relay) lookup(destination string) *node {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[destination]; ok {
		return n
	}
	var match *node
	for _, n := range r.nodes {
		if n.linkType == destination && (match == nil || n.nid < match.nid) {
			match = n
		}
	}
	return match
}

func (r *Relay) route(ctx context.Context, from *node, p *link.Package) {
	p.Source = from.nid

	target := r.lookup(p.Destination)
	if target == nil {
		if p.IsReply() {
			r.log.Debug("dropping reply to unknown node", zap.String("destination", p.Destination))
			return
		}
		refusal := p.Reply(&link.ServerErrorMessage{Reason: "No such destination: " + p.Destination})
		if err := r.send(ctx, from.tr, refusal); err != nil {
			r.log.Warn("refusal failed", zap.String("nid", from.nid), zap.Error(err))
		}
		return
	}

	p.Destination = target.nid
	if err := r.send(ctx, target.tr, p); err != nil {
		r.log.Warn("forward failed", zap.String("nid", target.nid), zap.Error(err))
	}
}

func (r *Relay) send(ctx context.Context, tr link.Transport, p *link.Package) error {
	data, err := link.EncodePackage(r.codec, p)
	if err != nil {
		return err
	}
	return tr.Send(ctx, data)
}
