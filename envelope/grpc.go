package envelope

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// gRPC carries envelopes as JSON messages on a hand-written service, so no
// generated stubs are needed on either side.
const (
	GRPCServiceName = "rpcactor.Actor"
	GRPCCallMethod  = "/rpcactor.Actor/Call"
	CodecName       = "json"
)

// CallRequest addresses an envelope body to an actor.
type CallRequest struct {
	Actor string          `json:"actor"`
	Body  json.RawMessage `json:"body"`
}

// CallResponse carries the encoded envelope response.
type CallResponse struct {
	Body json.RawMessage `json:"body"`
}

// Codec is the gRPC codec for CallRequest and CallResponse.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
