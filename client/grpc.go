package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lguibr/rpcactor/envelope"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPC sends envelopes over the hand-written rpcactor.Actor service.
type GRPC struct {
	conn *grpc.ClientConn
	own  bool
}

// DialGRPC connects to target without transport security.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPC, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	return &GRPC{conn: conn, own: true}, nil
}

// NewGRPC wraps an existing connection. Close leaves it open.
func NewGRPC(conn *grpc.ClientConn) *GRPC {
	return &GRPC{conn: conn}
}

// Send invokes the actor with a raw envelope body and returns the raw
// envelope response.
func (g *GRPC) Send(ctx context.Context, actor string, body []byte) ([]byte, error) {
	out := new(envelope.CallResponse)
	in := &envelope.CallRequest{Actor: actor, Body: body}
	err := g.conn.Invoke(ctx, envelope.GRPCCallMethod, in, out, grpc.CallContentSubtype(envelope.CodecName))
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Call sends one request and decodes its result into reply.
func (g *GRPC) Call(ctx context.Context, actor, method string, params, reply any) error {
	req, err := newRequest(method, params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	raw, err := g.Send(ctx, actor, body)
	if err != nil {
		return err
	}
	var resp envelope.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return decodeResult(resp, reply)
}

func (g *GRPC) Close() error {
	if !g.own {
		return nil
	}
	return g.conn.Close()
}
