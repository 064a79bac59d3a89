package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/lguibr/rpcactor/dispatch"
	"github.com/lguibr/rpcactor/rpcerr"
	"github.com/lguibr/rpcactor/session"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// hostConn is the host side of one duplex connection. It outlives actor
// activations and carries the connection's persisted identity.
type hostConn struct {
	id      session.Identity
	actorID string
	ws      *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *hostConn) Identity() session.Identity { return c.id }

// Send writes one text frame. Writes from actor turns and broadcasts are
// serialized here.
func (c *hostConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return websocket.Message.Send(c.ws, string(frame))
}

func (c *hostConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// connectionSet tracks open duplex connections per actor.
type connectionSet struct {
	mu          sync.RWMutex
	connections map[string]map[session.Identity]*hostConn
}

func newConnectionSet() *connectionSet {
	return &connectionSet{connections: make(map[string]map[session.Identity]*hostConn)}
}

func (s *connectionSet) OpenConnection(c *hostConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.connections[c.actorID]
	if !ok {
		byID = make(map[session.Identity]*hostConn)
		s.connections[c.actorID] = byID
	}
	byID[c.id] = c
}

func (s *connectionSet) CloseConnection(c *hostConn) {
	_ = c.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections[c.actorID], c.id) // remove the connection from the map
	if len(s.connections[c.actorID]) == 0 {
		delete(s.connections, c.actorID)
	}
}

func (s *connectionSet) Count(actorID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections[actorID])
}

func (s *connectionSet) Snapshot(actorID string) []*hostConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*hostConn, 0, len(s.connections[actorID]))
	for _, c := range s.connections[actorID] {
		out = append(out, c)
	}
	return out
}

func (s *connectionSet) CloseAll() {
	s.mu.Lock()
	all := s.connections
	s.connections = make(map[string]map[session.Identity]*hostConn)
	s.mu.Unlock()
	for _, byID := range all {
		for _, c := range byID {
			_ = c.Close()
		}
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// handleSocket accepts a duplex connection for actorID.
func (h *Host) handleSocket(w http.ResponseWriter, r *http.Request, actorID string) {
	if !isUpgrade(r) {
		writeJSON(w, http.StatusUpgradeRequired, errorBody{Error: rpcerr.ToWire(rpcerr.Transportf("websocket upgrade required"))})
		return
	}
	srv := websocket.Server{Handler: func(ws *websocket.Conn) { h.serveConnection(actorID, ws) }}
	srv.ServeHTTP(w, r)
}

// serveConnection runs the read loop of one connection. Every frame is a
// turn of the actor: the transport is recovered from the registry by the
// connection's identity, or recreated under that identity when the actor
// was evicted since the previous frame.
func (h *Host) serveConnection(actorID string, ws *websocket.Conn) {
	conn := &hostConn{id: session.NewIdentity(), actorID: actorID, ws: ws}
	logger := h.logger.With(zap.String("actor", actorID), zap.String("identity", string(conn.id)))
	ctx := dispatch.WithTransport(context.Background(), "websocket")

	h.conns.OpenConnection(conn)
	h.scope.Gauge("connections").Update(float64(h.conns.Count(actorID)))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered in connection read loop", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		h.conns.CloseConnection(conn)
		h.scope.Gauge("connections").Update(float64(h.conns.Count(actorID)))
		h.callIfActive(ctx, actorID, func(ctx context.Context, a *actorHost) (any, error) {
			a.registry.Remove(conn.id)
			return nil, nil
		})
		logger.Debug("connection closed")
	}()

	// Duplex turns have no deadline; the read loop ends only on transport failure.
	_, err := h.callWithin(ctx, actorID, 0, func(ctx context.Context, a *actorHost) (any, error) {
		a.registry.Register(conn)
		return nil, nil
	})
	if err != nil {
		logger.Warn("connection rejected", zap.Error(err))
		_ = conn.Send(errorFrame(err))
		return
	}
	logger.Debug("connection accepted")

	for {
		var frame []byte
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}

		_, err := h.callWithin(ctx, actorID, 0, func(ctx context.Context, a *actorHost) (any, error) {
			t, recovered := a.registry.Recover(conn.id, conn)
			if !recovered {
				h.scope.Counter("reattached").Inc(1)
			}
			return nil, t.Session().Handle(ctx, frame)
		})
		if err != nil {
			if rpcerr.KindOf(err) == rpcerr.Transport {
				logger.Info("transport failed, closing connection", zap.Error(err))
				return
			}
			_ = conn.Send(errorFrame(err))
		}
	}
}
