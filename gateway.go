// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	rpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

// GatewayMethod is the JSON-RPC method served by NewGatewayHandler.
const GatewayMethod = "Link.Request"

// GatewayArgs are the params of a Link.Request call. Data is the message
// body in JSON, Type its registered message type.
type GatewayArgs struct {
	Destination string          `json:"destination"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// GatewayReply is the result of a Link.Request call.
type GatewayReply struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type gatewayService struct {
	requester Requester
	log       *zap.Logger
}

func (s *gatewayService) Request(r *http.Request, args *GatewayArgs, reply *GatewayReply) error {
	if args.Destination == "" {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "destination is required"}
	}
	var msg Message
	if args.Type != "" {
		m, err := DecodeMessage(JSON, args.Type, args.Data)
		if err != nil {
			return &json2.Error{Code: json2.E_BAD_PARAMS, Message: err.Error()}
		}
		msg = m
	}

	resp, err := s.requester.Request(r.Context(), msg, args.Destination)
	if err != nil {
		s.log.Debug("gateway request failed", zap.String("destination", args.Destination), zap.Error(err))
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return &json2.Error{Code: json2.E_SERVER, Message: netErr.Reason}
		}
		return &json2.Error{Code: json2.E_INTERNAL, Message: err.Error()}
	}
	if resp == nil {
		return nil
	}

	data, err := EncodeMessage(JSON, resp)
	if err != nil {
		return &json2.Error{Code: json2.E_INTERNAL, Message: err.Error()}
	}
	reply.Type = resp.MessageType()
	reply.Data = data
	return nil
}

// NewGatewayHandler serves requester over HTTP as the JSON-RPC 2.0 method
// Link.Request. A NetworkError maps to json2.E_SERVER.
func NewGatewayHandler(requester Requester, logger *zap.Logger) (http.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := rpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	if err := s.RegisterService(&gatewayService{requester: requester, log: logger}, "Link"); err != nil {
		return nil, fmt.Errorf("register gateway service: %w", err)
	}
	return s, nil
}

// GatewayClient issues requests through a remote gateway. It implements
// Requester.
type GatewayClient struct {
	uri  *url.URL
	opts []RequestOption
}

func NewGatewayClient(uri string, opts ...RequestOption) (*GatewayClient, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse gateway uri: %w", err)
	}
	return &GatewayClient{uri: u, opts: opts}, nil
}

func (c *GatewayClient) Request(ctx context.Context, msg Message, destination string) (Message, error) {
	args := GatewayArgs{Destination: destination}
	if msg != nil {
		data, err := EncodeMessage(JSON, msg)
		if err != nil {
			return nil, err
		}
		args.Type = msg.MessageType()
		args.Data = data
	}

	var reply GatewayReply
	err := SendJSONRequest(ctx, c.uri, GatewayMethod, &args, &reply, c.opts...)
	var rpcErr *json2.Error
	if errors.As(err, &rpcErr) && rpcErr.Code == json2.E_SERVER {
		return nil, &NetworkError{Reason: rpcErr.Message}
	}
	if err != nil {
		return nil, err
	}
	if reply.Type == "" {
		return nil, nil
	}
	return DecodeMessage(JSON, reply.Type, reply.Data)
}
