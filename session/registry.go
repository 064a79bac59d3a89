package session

import (
	"sync"

	"github.com/lguibr/rpcactor/envelope"
	"go.uber.org/zap"
)

// Registry maps identities to live transports. It belongs to one actor
// instance and starts empty every time that instance is activated.
type Registry struct {
	mu         sync.RWMutex
	transports map[Identity]*Transport
	caller     envelope.Caller
	logger     *zap.Logger
}

// NewRegistry returns an empty registry whose sessions dispatch to caller.
func NewRegistry(caller envelope.Caller, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		transports: make(map[Identity]*Transport),
		caller:     caller,
		logger:     logger,
	}
}

// Register creates the transport and session for a newly accepted
// connection under the identity persisted on it.
func (r *Registry) Register(conn Conn) *Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attachLocked(conn.Identity(), conn)
}

// Lookup returns the transport registered under id.
func (r *Registry) Lookup(id Identity) (*Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[id]
	return t, ok
}

// Recover returns the transport for id, creating a fresh transport and
// session bound to conn under the same identity when the registry no longer
// has one. recovered is true when an existing transport was found.
func (r *Registry) Recover(id Identity, conn Conn) (t *Transport, recovered bool) {
	r.mu.RLock()
	t, ok := r.transports[id]
	r.mu.RUnlock()
	if ok {
		return t, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.transports[id]; ok {
		return t, true
	}
	r.logger.Info("reattaching transport", zap.String("identity", string(id)))
	return r.attachLocked(id, conn), false
}

// Remove deregisters and disposes the transport under id.
func (r *Registry) Remove(id Identity) bool {
	r.mu.Lock()
	t, ok := r.transports[id]
	delete(r.transports, id)
	r.mu.Unlock()
	if ok {
		t.dispose()
	}
	return ok
}

// Len returns the number of registered transports.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transports)
}

// Each calls fn for every transport until fn returns false.
func (r *Registry) Each(fn func(*Transport) bool) {
	r.mu.RLock()
	snapshot := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		snapshot = append(snapshot, t)
	}
	r.mu.RUnlock()
	for _, t := range snapshot {
		if !fn(t) {
			return
		}
	}
}

func (r *Registry) attachLocked(id Identity, conn Conn) *Transport {
	t := newTransport(id, conn)
	t.session = newSession(t, r.caller, r.logger)
	r.transports[id] = t
	return t
}
