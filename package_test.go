// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyCorrelation(t *testing.T) {
	p := NewPackage(Payload{"cmd": "ping"}, "B", "A")
	require.NotEmpty(t, p.SourceConvID)
	assert.False(t, p.IsReply())

	r := p.Reply(Payload{"pong": true})
	assert.True(t, r.IsReply())
	assert.Equal(t, p.Destination, r.Source)
	assert.Equal(t, p.Source, r.Destination)
	assert.Equal(t, p.SourceConvID, r.DestinationConvID)
	assert.NotEqual(t, p.SourceConvID, r.SourceConvID)

	// Answering a reply chains a fresh id again.
	rr := r.Reply(nil)
	assert.Equal(t, r.SourceConvID, rr.DestinationConvID)
	assert.Equal(t, "B", rr.Destination)
	assert.NotEqual(t, r.SourceConvID, rr.SourceConvID)
}

func TestNewPackageFreshIDs(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewPackage(nil, "B", "A").SourceConvID
		_, dup := seen[id]
		require.False(t, dup, "duplicate conversation id %s", id)
		seen[id] = struct{}{}
	}
}

func TestPackageString(t *testing.T) {
	p := &Package{Data: Payload{}, Source: "A", Destination: "B", SourceConvID: "1"}
	assert.Equal(t, "Package(payload: A -> B, 1)", p.String())

	r := &Package{Source: "B", Destination: "A", SourceConvID: "2", DestinationConvID: "1"}
	assert.Equal(t, "Package(<nil>: B -> A, 2 <- 1)", r.String())
}
