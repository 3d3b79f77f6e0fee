// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"sync"
)

// PendingRequest is a single-assignment future for the reply to one
// outstanding request.
type PendingRequest struct {
	mu   sync.Mutex
	done chan struct{}
	set  bool
	data Message
}

func NewPendingRequest() *PendingRequest {
	return &PendingRequest{done: make(chan struct{})}
}

// Set stores the reply and releases the waiter. Only the first call
// takes effect; later calls return ErrAlreadyFulfilled.
func (r *PendingRequest) Set(data Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		return ErrAlreadyFulfilled
	}
	r.set = true
	r.data = data
	close(r.done)
	return nil
}

// Done is closed once the request has been resolved.
func (r *PendingRequest) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until Set is called or ctx ends. A request that is already
// resolved returns its data even if ctx is done.
func (r *PendingRequest) Wait(ctx context.Context) (Message, error) {
	select {
	case <-r.done:
		return r.data, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.data, nil
	}
}
