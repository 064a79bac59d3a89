// File: server/handlers.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/lguibr/rpcactor/dispatch"
	"github.com/lguibr/rpcactor/envelope"
	"github.com/lguibr/rpcactor/expr"
	"github.com/lguibr/rpcactor/rpcerr"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error *rpcerr.Wire `json:"error"`
}

type resultBody struct {
	Result any `json:"result"`
}

// ServeHTTP routes /{actor}/... requests to the transport adapters.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic recovered in http handler",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.ByteString("stack", debug.Stack()))
			writeError(w, rpcerr.HandlerFailure(fmt.Errorf("internal error")))
		}
	}()

	actorID, rest, ok := splitActorPath(r.URL.Path)
	if !ok {
		writeError(w, rpcerr.NotFound(r.URL.Path))
		return
	}

	switch {
	case rest == "" || rest == "__schema":
		h.handleSchema(w, r, actorID)
	case rest == "rpc":
		h.handleEnvelope(w, r, actorID)
	case rest == "ws":
		h.handleSocket(w, r, actorID)
	case rest == "$" || strings.HasPrefix(rest, "$/"):
		h.handleExpression(w, r, actorID, strings.TrimPrefix(strings.TrimPrefix(rest, "$"), "/"))
	default:
		writeError(w, rpcerr.NotFound(rest))
	}
}

// splitActorPath splits "/{actor}/{rest}" into its parts.
func splitActorPath(path string) (actorID, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	actorID, rest, _ = strings.Cut(trimmed, "/")
	if actorID == "" || strings.HasPrefix(actorID, "_") {
		return "", "", false
	}
	return actorID, rest, true
}

// handleSchema serves the discovery document.
func (h *Host) handleSchema(w http.ResponseWriter, r *http.Request, actorID string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, "GET, HEAD")
		return
	}
	doc, err := h.call(r.Context(), actorID, func(ctx context.Context, a *actorHost) (any, error) {
		return a.dispatcher.Table().MarshalSchema()
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, doc.([]byte))
}

// handleEnvelope runs a single request or a batch in one actor turn.
func (h *Host) handleEnvelope(w http.ResponseWriter, r *http.Request, actorID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, rpcerr.ArgumentParsef("read body: %v", err))
		return
	}

	out, err := h.call(r.Context(), actorID, func(ctx context.Context, a *actorHost) (any, error) {
		return envelope.Execute(dispatch.WithTransport(ctx, "envelope"), a.dispatcher, body)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out.([]byte))
}

// invocation is a parsed path-adapter request.
type invocation struct {
	chain []expr.Operation
	path  string
	args  []any
}

// handleExpression serves /{actor}/$/... in its three forms: a chained
// expression, a single call, or REST segments.
func (h *Host) handleExpression(w http.ResponseWriter, r *http.Request, actorID, expression string) {
	inv, err := parseInvocation(r, expression, h.cfg.MaxSegments)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.call(r.Context(), actorID, func(ctx context.Context, a *actorHost) (any, error) {
		ctx = dispatch.WithTransport(ctx, "http")
		if inv.chain != nil {
			return a.dispatcher.Eval(ctx, inv.chain)
		}
		return a.dispatcher.Call(ctx, inv.path, inv.args)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := json.Marshal(resultBody{Result: result})
	if err != nil {
		writeError(w, rpcerr.HandlerFailure(fmt.Errorf("result is not serializable: %v", err)))
		return
	}
	writeRaw(w, http.StatusOK, b)
}

func parseInvocation(r *http.Request, expression string, maxSegments int) (invocation, error) {
	if strings.TrimSpace(expression) == "" {
		return invocation{}, rpcerr.InvalidExpressionf("empty expression")
	}

	if strings.ContainsAny(expression, "()") {
		node, err := expr.NewParser(expression).WithMaxSegments(maxSegments).Parse()
		if err != nil {
			return invocation{}, err
		}
		ops := expr.Operations(node)
		if expr.HasCallBeforeAccess(ops) {
			return invocation{chain: ops}, nil
		}
		names := make([]string, len(ops))
		for i, op := range ops {
			names[i] = op.Name
		}
		last := ops[len(ops)-1]
		if !last.IsCall {
			return invocation{chain: ops}, nil
		}
		return invocation{path: strings.Join(names, "."), args: last.Args}, nil
	}

	segments := strings.Split(strings.Trim(expression, "/"), "/")
	inv := invocation{path: segments[0], args: make([]any, 0, len(segments)-1)}
	for _, seg := range segments[1:] {
		v, err := expr.ParseArg(seg)
		if err != nil {
			return invocation{}, err
		}
		inv.args = append(inv.args, v)
	}
	if len(inv.args) > 0 {
		return inv, nil
	}

	args, err := requestArgs(r)
	if err != nil {
		return invocation{}, err
	}
	inv.args = args
	return inv, nil
}

// requestArgs reads arguments for REST calls without path arguments. Write
// verbs use the JSON body (array spread, anything else as one argument);
// read verbs use arg0, arg1... query parameters, or the whole query as one
// object.
func requestArgs(r *http.Request) ([]any, error) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, rpcerr.ArgumentParsef("read body: %v", err)
		}
		body = bytes.TrimSpace(body)
		if len(body) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, rpcerr.ArgumentParsef("body is not JSON: %v", err)
		}
		if arr, ok := v.([]any); ok {
			return arr, nil
		}
		return []any{v}, nil

	default:
		q := r.URL.Query()
		var args []any
		for i := 0; ; i++ {
			vals, ok := q["arg"+strconv.Itoa(i)]
			if !ok {
				break
			}
			raw := ""
			if len(vals) > 0 {
				raw = vals[0]
			}
			if strings.TrimSpace(raw) == "" {
				args = append(args, "")
				continue
			}
			v, err := expr.ParseArg(raw)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		if len(args) > 0 || len(q) == 0 {
			return args, nil
		}
		obj := make(map[string]any, len(q))
		for k, vals := range q {
			if len(vals) == 1 {
				obj[k] = vals[0]
			} else {
				obj[k] = vals
			}
		}
		return []any{obj}, nil
	}
}

func errorFrame(err error) []byte {
	return envelope.ErrorBody(err)
}

// methodNotAllowed answers with a plain HTTP status. A wrong verb never
// reaches dispatch, so it carries no RPC error code.
func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

func writeError(w http.ResponseWriter, err error) {
	e := rpcerr.From(err)
	writeJSON(w, e.Kind.HTTPStatus(), errorBody{Error: rpcerr.ToWire(e)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, b)
}

func writeRaw(w http.ResponseWriter, status int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
