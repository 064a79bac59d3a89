// Package session implements the duplex transport bookkeeping: stable
// connection identities, the per-actor transport registry, and sessions that
// run envelope frames against a dispatcher.
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lguibr/rpcactor/envelope"
	"github.com/lguibr/rpcactor/rpcerr"
	"go.uber.org/zap"
)

// Identity is the opaque token naming a duplex connection independently of
// the in-memory objects serving it.
type Identity string

// NewIdentity mints a fresh identity.
func NewIdentity() Identity {
	return Identity(uuid.NewString())
}

type identityKey struct{}

// WithIdentity records the calling connection on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the calling connection's identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id != ""
}

// State is the lifecycle of a transport.
type State int32

const (
	Connecting State = iota
	Active
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Conn is the host-owned connection a transport writes to. It outlives
// transports: after eviction a new transport is attached to the same Conn.
type Conn interface {
	Identity() Identity
	Send(frame []byte) error
}

// Transport binds an identity to a connection for the lifetime of one actor
// instance.
type Transport struct {
	id      Identity
	conn    Conn
	state   atomic.Int32
	session *Session
}

func newTransport(id Identity, conn Conn) *Transport {
	t := &Transport{id: id, conn: conn}
	t.state.Store(int32(Connecting))
	return t
}

func (t *Transport) Identity() Identity { return t.id }

func (t *Transport) State() State { return State(t.state.Load()) }

// Session returns the session bound to t.
func (t *Transport) Session() *Session { return t.session }

// Send writes one frame. A write failure moves the transport to Errored.
func (t *Transport) Send(frame []byte) error {
	switch t.State() {
	case Closed, Errored:
		return rpcerr.Transportf("transport %s is %s", t.id, t.State())
	}
	if err := t.conn.Send(frame); err != nil {
		t.state.Store(int32(Errored))
		return rpcerr.Transportf("send on %s: %v", t.id, err)
	}
	t.state.CompareAndSwap(int32(Connecting), int32(Active))
	return nil
}

func (t *Transport) dispose() {
	t.state.CompareAndSwap(int32(Connecting), int32(Closed))
	t.state.CompareAndSwap(int32(Active), int32(Closed))
}

// Session runs envelope frames received on one transport.
type Session struct {
	transport *Transport
	caller    envelope.Caller
	logger    *zap.Logger
}

func newSession(t *Transport, caller envelope.Caller, logger *zap.Logger) *Session {
	return &Session{
		transport: t,
		caller:    caller,
		logger:    logger.With(zap.String("identity", string(t.id))),
	}
}

// Handle executes frame and writes the response on the transport. Frames
// that are not envelopes get a bare error response.
func (s *Session) Handle(ctx context.Context, frame []byte) error {
	ctx = WithIdentity(ctx, s.transport.id)
	out, err := envelope.Execute(ctx, s.caller, frame)
	if err != nil {
		s.logger.Debug("rejected frame", zap.Error(err))
		out = envelope.ErrorBody(err)
	}
	return s.transport.Send(out)
}
