// Package envelope implements the request/response envelope transport: one
// request object or an array of them per message, executed in order.
package envelope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/lguibr/rpcactor/rpcerr"
)

// RequestID correlates a response with its request. Clients may send it as a
// JSON string or number; it is always echoed as a string.
type RequestID string

func (id *RequestID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RequestID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("request id must be a string or number: %w", err)
	}
	*id = RequestID(n.String())
	return nil
}

// Request is a single envelope entry.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error for one Request.
type Response struct {
	JSONRPC string
	ID      RequestID
	Result  any
	Error   *rpcerr.Wire
}

type wireResponse struct {
	JSONRPC string       `json:"jsonrpc,omitempty"`
	ID      RequestID    `json:"id"`
	Result  any          `json:"result,omitempty"`
	Error   *rpcerr.Wire `json:"error,omitempty"`
}

// MarshalJSON always emits exactly one of "result" and "error"; a nil result
// is written as null.
func (r Response) MarshalJSON() ([]byte, error) {
	w := wireResponse{JSONRPC: r.JSONRPC, ID: r.ID, Error: r.Error}
	if r.Error == nil {
		result, err := json.Marshal(r.Result)
		if err != nil {
			return nil, err
		}
		w.Result = json.RawMessage(result)
	}
	return json.Marshal(w)
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var w struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      RequestID       `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcerr.Wire    `json:"error"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	r.JSONRPC, r.ID, r.Error = w.JSONRPC, w.ID, w.Error
	r.Result = nil
	if len(w.Result) > 0 {
		r.Result = w.Result
	}
	return nil
}

// Caller is the dispatch surface the envelope transport needs.
type Caller interface {
	CallNamed(ctx context.Context, path string, params json.RawMessage) (any, error)
}

// Handle runs one request and captures its outcome.
func Handle(ctx context.Context, c Caller, req Request) Response {
	resp := Response{JSONRPC: req.JSONRPC, ID: req.ID}
	if req.Method == "" {
		resp.Error = rpcerr.ToWire(rpcerr.InvalidExpressionf("missing method"))
		return resp
	}
	result, err := c.CallNamed(ctx, req.Method, req.Params)
	if err != nil {
		resp.Error = rpcerr.ToWire(err)
		return resp
	}
	resp.Result = result
	return resp
}

// IsBatch reports whether body holds an array of requests.
func IsBatch(body []byte) bool {
	b := bytes.TrimSpace(body)
	return len(b) > 0 && b[0] == '['
}

// Execute decodes body as one request or a batch, runs every entry in the
// order given and encodes the responses in the same shape. A failing entry
// yields an error response for its id and does not stop the batch. The
// returned error is non-nil only when body is not an envelope at all.
func Execute(ctx context.Context, c Caller, body []byte) ([]byte, error) {
	if !IsBatch(body) {
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, rpcerr.InvalidExpressionf("malformed request: %v", err)
		}
		return encode(Handle(ctx, c, req)), nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, rpcerr.InvalidExpressionf("malformed batch: %v", err)
	}
	if len(raws) == 0 {
		return nil, rpcerr.InvalidExpressionf("empty batch")
	}

	out := make([]json.RawMessage, 0, len(raws))
	for _, raw := range raws {
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			out = append(out, encode(Response{
				ID:    salvageID(raw),
				Error: rpcerr.ToWire(rpcerr.InvalidExpressionf("malformed request: %v", err)),
			}))
			continue
		}
		out = append(out, encode(Handle(ctx, c, req)))
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ErrorBody encodes a bare error response, used when a message cannot be
// decoded as an envelope at all.
func ErrorBody(err error) []byte {
	return encode(Response{Error: rpcerr.ToWire(err)})
}

// encode marshals resp, downgrading unserializable results to a handler error.
func encode(resp Response) json.RawMessage {
	b, err := json.Marshal(resp)
	if err == nil {
		return b
	}
	resp.Result = nil
	resp.Error = rpcerr.ToWire(rpcerr.HandlerFailure(fmt.Errorf("result is not serializable: %v", err)))
	b, _ = json.Marshal(resp)
	return b
}

func salvageID(raw json.RawMessage) RequestID {
	var partial struct {
		ID RequestID `json:"id"`
	}
	_ = json.Unmarshal(raw, &partial)
	return partial.ID
}
