// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/luxfi/link"
	"github.com/luxfi/link/relaytest"
)

func TestRunServesRequests(t *testing.T) {
	relay := relaytest.New("s3cr3t")
	defer relay.Close()

	cfg := &Config{
		MasterURI:    relay.URL(),
		Secret:       "s3cr3t",
		LinkType:     "linkd",
		NodeID:       "linkd-1",
		Codec:        "cbor",
		RestartDelay: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- run(runCtx, cfg, zap.NewNop()) }()

	client, err := link.New(relay.URL(), "s3cr3t", "client", nil)
	require.NoError(t, err)
	defer client.Close()
	go client.Run(ctx)

	require.NoError(t, relay.WaitForNode(ctx, "linkd-1"))
	reply, err := client.Request(ctx, link.Payload{"cmd": "ping"}, "linkd")
	require.NoError(t, err)
	assert.Equal(t, link.Payload{"pong": true}, reply)

	// Dropped by the relay, then brought back by the supervisor.
	require.NoError(t, relay.Disconnect("linkd-1"))
	require.Eventually(t, func() bool {
		reply, err := client.Request(ctx, link.Payload{"cmd": "echo"}, "linkd-1")
		return err == nil && assert.ObjectsAreEqual(link.Payload{"cmd": "echo"}, reply)
	}, 5*time.Second, 20*time.Millisecond)

	stop()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestHTTPHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "linkd_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h, err := newHTTPHandler(requesterFunc(func(ctx context.Context, msg link.Message, destination string) (link.Message, error) {
		return link.Payload{"to": destination}, nil
	}), reg, zaptest.NewLogger(t))
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "linkd_test_total 1"))

	gw, err := link.NewGatewayClient(srv.URL + "/rpc")
	require.NoError(t, err)
	reply, err := gw.Request(context.Background(), link.Payload{}, "B")
	require.NoError(t, err)
	assert.Equal(t, link.Payload{"to": "B"}, reply)
}

func TestHandler(t *testing.T) {
	h := newHandler(zaptest.NewLogger(t))

	reply, err := h.HandleRequest(context.Background(), link.Payload{"cmd": "ping"})
	require.NoError(t, err)
	assert.Equal(t, link.Payload{"pong": true}, reply)

	reply, err = h.HandleRequest(context.Background(), &link.IdentifySuccessful{})
	require.NoError(t, err)
	assert.Equal(t, &link.IdentifySuccessful{}, reply)
}

type requesterFunc func(ctx context.Context, msg link.Message, destination string) (link.Message, error)

func (f requesterFunc) Request(ctx context.Context, msg link.Message, destination string) (link.Message, error) {
	return f(ctx, msg, destination)
}
