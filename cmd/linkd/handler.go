// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/luxfi/link"
)

// newHandler answers {"cmd": "ping"} with {"pong": true} and echoes
// everything else.
func newHandler(logger *zap.Logger) link.Handler {
	return link.HandlerFunc(func(ctx context.Context, msg link.Message) (link.Message, error) {
		if msg != nil {
			logger.Debug("request", zap.String("type", msg.MessageType()))
		}
		if p, ok := msg.(link.Payload); ok && p["cmd"] == "ping" {
			return link.Payload{"pong": true}, nil
		}
		return msg, nil
	})
}
