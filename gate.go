// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import "sync"

// gate is a resettable readiness signal. The channel returned by C is
// closed while the gate is set; clearing swaps in a fresh open channel.
type gate struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		g.set = true
		close(g.ch)
	}
}

func (g *gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		g.set = false
		g.ch = make(chan struct{})
	}
}

func (g *gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

func (g *gate) C() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}
