// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"fmt"

	"github.com/google/uuid"
)

// Package is the envelope exchanged with the relay. A Package with a
// DestinationConvID is a reply; one without is a fresh request.
type Package struct {
	Data Message

	// Destination is a link type or a concrete node id.
	Destination string
	Source      string

	SourceConvID      string
	DestinationConvID string
}

// NewPackage builds a request Package with a fresh conversation id.
func NewPackage(data Message, destination, source string) *Package {
	return &Package{
		Data:         data,
		Destination:  destination,
		Source:       source,
		SourceConvID: newConvID(),
	}
}

// Reply builds the answer to p: the endpoints are swapped and the new
// Package points back at p's conversation id.
func (p *Package) Reply(data Message) *Package {
	return &Package{
		Data:              data,
		Destination:       p.Source,
		Source:            p.Destination,
		SourceConvID:      newConvID(),
		DestinationConvID: p.SourceConvID,
	}
}

// IsReply reports whether p answers an earlier Package.
func (p *Package) IsReply() bool {
	return p.DestinationConvID != ""
}

func (p *Package) String() string {
	typ := "<nil>"
	if p.Data != nil {
		typ = p.Data.MessageType()
	}
	if p.IsReply() {
		return fmt.Sprintf("Package(%s: %s -> %s, %s <- %s)", typ, p.Source, p.Destination, p.SourceConvID, p.DestinationConvID)
	}
	return fmt.Sprintf("Package(%s: %s -> %s, %s)", typ, p.Source, p.Destination, p.SourceConvID)
}

func newConvID() string {
	return uuid.NewString()
}
