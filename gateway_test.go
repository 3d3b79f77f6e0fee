// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/link"
)

func startGateway(t *testing.T, requester link.Requester, wrap func(http.Handler) http.Handler) string {
	t.Helper()
	h, err := link.NewGatewayHandler(requester, nil)
	require.NoError(t, err)
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestGatewayRequest(t *testing.T) {
	ctx := testContext(t)
	relay := newRelay(t)
	a, _ := startLink(t, relay, "gateway", nil)
	startLink(t, relay, "greeter", greeter("b"))

	var sawToken atomic.Bool
	uri := startGateway(t, a, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Token") == "t0k" && r.URL.Query().Get("trace") == "1" {
				sawToken.Store(true)
			}
			next.ServeHTTP(w, r)
		})
	})

	client, err := link.NewGatewayClient(uri, link.WithHeader("X-Token", "t0k"), link.WithQueryParam("trace", "1"))
	require.NoError(t, err)

	reply, err := client.Request(ctx, link.Payload{"cmd": "via-http"}, "greeter")
	require.NoError(t, err)
	assert.Equal(t, link.Payload{"from": "b", "cmd": "via-http"}, reply)
	assert.True(t, sawToken.Load())

	reply, err = client.Request(ctx, link.Payload{"cmd": "fail"}, "greeter")
	require.NoError(t, err)
	require.IsType(t, &link.RequestError{}, reply)

	_, err = client.Request(ctx, link.Payload{}, "nobody")
	var netErr *link.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, netErr.Reason, "nobody")
}

type staticRequester struct {
	reply link.Message
	err   error
	got   link.Message
}

func (s *staticRequester) Request(ctx context.Context, msg link.Message, destination string) (link.Message, error) {
	s.got = msg
	return s.reply, s.err
}

func TestGatewayBadParams(t *testing.T) {
	ctx := testContext(t)
	uri := startGateway(t, &staticRequester{}, nil)
	u, err := url.Parse(uri)
	require.NoError(t, err)

	var reply link.GatewayReply
	err = link.SendJSONRequest(ctx, u, link.GatewayMethod, &link.GatewayArgs{Destination: "B", Type: "nope"}, &reply)
	var rpcErr *json2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, json2.E_BAD_PARAMS, rpcErr.Code)

	err = link.SendJSONRequest(ctx, u, link.GatewayMethod, &link.GatewayArgs{}, &reply)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, json2.E_BAD_PARAMS, rpcErr.Code)
}

func TestGatewayForwardsLocalFailure(t *testing.T) {
	ctx := testContext(t)
	requester := &staticRequester{err: link.ErrRequestTimeout}
	uri := startGateway(t, requester, nil)

	client, err := link.NewGatewayClient(uri)
	require.NoError(t, err)

	_, err = client.Request(ctx, &link.IdentifySuccessful{}, "B")
	var rpcErr *json2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, json2.E_INTERNAL, rpcErr.Code)
	assert.Equal(t, &link.IdentifySuccessful{}, requester.got)
}

func TestGatewayNilReply(t *testing.T) {
	uri := startGateway(t, &staticRequester{}, nil)
	client, err := link.NewGatewayClient(uri)
	require.NoError(t, err)

	reply, err := client.Request(testContext(t), nil, "B")
	require.NoError(t, err)
	assert.Nil(t, reply)
}
