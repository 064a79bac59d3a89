package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lguibr/rpcactor/envelope"
	"github.com/lguibr/rpcactor/rpcerr"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// ErrDuplexClosed is returned for calls made after the connection ended.
var ErrDuplexClosed = errors.New("duplex connection closed")

// Event is a server-initiated frame, such as a broadcast.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Duplex is a persistent connection to one actor. Calls may be issued
// concurrently; responses are matched to callers by request id.
type Duplex struct {
	ws     *websocket.Conn
	logger *zap.Logger

	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[envelope.RequestID]chan envelope.Response
	closed  bool
	err     error

	events chan Event
	done   chan struct{}
}

// DialDuplex opens the duplex transport of actor on the host at baseURL.
// baseURL may use http(s) or ws(s).
func DialDuplex(ctx context.Context, baseURL, actor string, logger *zap.Logger) (*Duplex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	origin := *u
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if origin.Scheme == "ws" {
		origin.Scheme = "http"
	} else if origin.Scheme == "wss" {
		origin.Scheme = "https"
	}
	u.Path += "/" + url.PathEscape(actor) + "/ws"

	cfg, err := websocket.NewConfig(u.String(), origin.String())
	if err != nil {
		return nil, fmt.Errorf("invalid websocket config: %w", err)
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.String(), err)
	}

	d := &Duplex{
		ws:      ws,
		logger:  logger.With(zap.String("actor", actor)),
		pending: make(map[envelope.RequestID]chan envelope.Response),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	go d.readLoop()
	return d, nil
}

// Events delivers server-initiated frames. It is closed when the connection
// ends. Events are dropped when the channel is full.
func (d *Duplex) Events() <-chan Event {
	return d.events
}

// Done is closed when the connection ends.
func (d *Duplex) Done() <-chan struct{} {
	return d.done
}

// Call sends one request and waits for its response.
func (d *Duplex) Call(ctx context.Context, method string, params, reply any) error {
	req, err := newRequest(method, params)
	if err != nil {
		return err
	}
	resp, err := d.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	return decodeResult(resp, reply)
}

// SendRaw writes a frame without waiting for a response.
func (d *Duplex) SendRaw(frame []byte) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return websocket.Message.Send(d.ws, string(frame))
}

func (d *Duplex) roundTrip(ctx context.Context, req envelope.Request) (envelope.Response, error) {
	ch := make(chan envelope.Response, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return envelope.Response{}, ErrDuplexClosed
	}
	d.pending[req.ID] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, req.ID)
		d.mu.Unlock()
	}()

	frame, err := json.Marshal(req)
	if err != nil {
		return envelope.Response{}, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := d.SendRaw(frame); err != nil {
		return envelope.Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-d.done:
		return envelope.Response{}, ErrDuplexClosed
	case <-ctx.Done():
		return envelope.Response{}, ctx.Err()
	}
}

func (d *Duplex) readLoop() {
	defer d.shutdown()
	for {
		var frame []byte
		if err := websocket.Message.Receive(d.ws, &frame); err != nil {
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			return
		}
		d.dispatch(frame)
	}
}

func (d *Duplex) dispatch(frame []byte) {
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(frame, &probe); err == nil && probe.Event != "" {
		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			return
		}
		select {
		case d.events <- ev:
		default:
			d.logger.Debug("dropping event", zap.String("event", ev.Event))
		}
		return
	}

	var resp envelope.Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		d.logger.Debug("ignoring undecodable frame", zap.Error(err))
		return
	}
	d.mu.Lock()
	ch, ok := d.pending[resp.ID]
	d.mu.Unlock()
	if !ok {
		d.logger.Debug("response without a pending call", zap.String("id", string(resp.ID)))
		return
	}
	ch <- resp
}

func (d *Duplex) shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.done)
	close(d.events)
}

// Close ends the connection.
func (d *Duplex) Close() error {
	return d.ws.Close()
}

// Err returns the error that ended the read loop, if any.
func (d *Duplex) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func newRequest(method string, params any) (envelope.Request, error) {
	req := envelope.Request{JSONRPC: "2.0", ID: envelope.RequestID(uuid.NewString()), Method: method}
	if params == nil {
		return req, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return req, rpcerr.ArgumentParsef("failed to encode params: %v", err)
	}
	req.Params = raw
	return req, nil
}
