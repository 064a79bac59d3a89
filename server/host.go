// File: server/host.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lguibr/rpcactor/bollywood"
	"github.com/lguibr/rpcactor/rpcerr"
	"github.com/lguibr/rpcactor/session"
	"github.com/lguibr/rpcactor/storage"
	"github.com/lguibr/rpcactor/utils"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// Factory creates a fresh instance for an actor id. It is called on every
// activation, so in-memory state does not survive eviction.
type Factory func(actorID string) any

// Option configures a Host.
type Option func(*Host)

// WithConfig sets the host configuration.
func WithConfig(cfg utils.Config) Option {
	return func(h *Host) { h.cfg = cfg }
}

// WithLogger sets the host logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithScope sets the metrics scope.
func WithScope(scope tally.Scope) Option {
	return func(h *Host) {
		if scope != nil {
			h.scope = scope
		}
	}
}

// WithStorage sets the durable storage backend shared by all actors.
func WithStorage(mem *storage.Memory) Option {
	return func(h *Host) {
		if mem != nil {
			h.store = mem
		}
	}
}

// WithEmitter sets the event emitter handed to actors.
func WithEmitter(em storage.Emitter) Option {
	return func(h *Host) {
		if em != nil {
			h.emitter = em
		}
	}
}

// Host serves actor instances addressed by id. Each id is backed by one
// bollywood process, spawned on first use and respawned after eviction.
type Host struct {
	engine  *bollywood.Engine
	factory Factory
	cfg     utils.Config
	logger  *zap.Logger
	scope   tally.Scope
	store   *storage.Memory
	emitter storage.Emitter

	mu     sync.Mutex
	actors map[string]*bollywood.PID

	conns *connectionSet
}

// New creates a Host that builds instances with factory.
func New(factory Factory, opts ...Option) *Host {
	h := &Host{
		factory: factory,
		cfg:     utils.DefaultConfig(),
		logger:  zap.NewNop(),
		scope:   tally.NoopScope,
		actors:  make(map[string]*bollywood.PID),
		conns:   newConnectionSet(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		h.store = storage.NewMemory()
	}
	if h.emitter == nil {
		h.emitter = storage.NewLogEmitter(h.logger)
	}
	h.engine = bollywood.NewEngine(bollywood.WithLogger(h.logger.Named("engine")))
	return h
}

// turn is a unit of work run inside an actor's Receive, so it never overlaps
// with another turn of the same actor.
type turn struct {
	ctx context.Context
	fn  func(ctx context.Context, a *actorHost) (any, error)
}

type outcome struct {
	value any
	err   error
}

// call runs fn as a turn of actorID and waits at most AskTimeout for it.
func (h *Host) call(ctx context.Context, actorID string, fn func(ctx context.Context, a *actorHost) (any, error)) (any, error) {
	return h.callWithin(ctx, actorID, h.cfg.AskTimeout, fn)
}

// callWithin runs fn as a turn of actorID, activating the actor if needed,
// and waits up to wait for it; zero waits until the turn finishes. The turn
// sees ctx's values but never its cancellation, so a caller going away does
// not abort a handler or the rest of its batch. A turn that reaches an actor
// while it is being evicted is retried once on a fresh activation.
func (h *Host) callWithin(ctx context.Context, actorID string, wait time.Duration, fn func(ctx context.Context, a *actorHost) (any, error)) (any, error) {
	ctx = context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		pid := h.pidFor(actorID)
		if pid == nil {
			return nil, rpcerr.Transportf("host is shutting down")
		}
		reply, err := h.engine.Ask(pid, turn{ctx: ctx, fn: fn}, wait)
		if errors.Is(err, bollywood.ErrActorStopped) || errors.Is(err, bollywood.ErrActorNotFound) {
			h.forget(actorID, pid)
			lastErr = err
			continue
		}
		if err != nil {
			return nil, rpcerr.Transportf("actor %s: %v", actorID, err)
		}
		out, ok := reply.(outcome)
		if !ok {
			return nil, rpcerr.Transportf("actor %s: unexpected reply %T", actorID, reply)
		}
		return out.value, out.err
	}
	return nil, rpcerr.Transportf("actor %s: %v", actorID, lastErr)
}

// callIfActive runs fn only when actorID currently has a live activation.
func (h *Host) callIfActive(ctx context.Context, actorID string, fn func(ctx context.Context, a *actorHost) (any, error)) {
	h.mu.Lock()
	pid, ok := h.actors[actorID]
	h.mu.Unlock()
	if !ok || !h.engine.IsAlive(pid) {
		return
	}
	if _, err := h.engine.Ask(pid, turn{ctx: ctx, fn: fn}, h.cfg.AskTimeout); err != nil {
		h.logger.Debug("turn on inactive actor skipped", zap.String("actor", actorID), zap.Error(err))
	}
}

func (h *Host) pidFor(actorID string) *bollywood.PID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pid, ok := h.actors[actorID]; ok && h.engine.IsAlive(pid) {
		return pid
	}
	props := bollywood.NewProps(func() bollywood.Actor {
		return newActorHost(h, actorID)
	}).WithMailboxSize(h.cfg.MailboxSize).WithPassivation(h.cfg.PassivateAfter)
	pid := h.engine.Spawn(props)
	if pid == nil {
		delete(h.actors, actorID)
		return nil
	}
	h.actors[actorID] = pid
	h.scope.Counter("activations").Inc(1)
	h.logger.Debug("actor spawned", zap.String("actor", actorID), zap.Stringer("pid", pid))
	return pid
}

func (h *Host) forget(actorID string, stale *bollywood.PID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pid, ok := h.actors[actorID]; ok && pid.ID == stale.ID {
		delete(h.actors, actorID)
	}
}

// Evict stops the activation of actorID as the idle timer would and waits
// for it to finish. Open duplex connections stay open. It reports whether an
// activation was running.
func (h *Host) Evict(actorID string) bool {
	h.mu.Lock()
	pid, ok := h.actors[actorID]
	delete(h.actors, actorID)
	h.mu.Unlock()
	if !ok || !h.engine.IsAlive(pid) {
		return false
	}

	h.engine.Stop(pid)
	deadline := time.Now().Add(h.cfg.AskTimeout)
	for h.engine.IsAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

// IsActive reports whether actorID has a live activation.
func (h *Host) IsActive(actorID string) bool {
	h.mu.Lock()
	pid, ok := h.actors[actorID]
	h.mu.Unlock()
	return ok && h.engine.IsAlive(pid)
}

// Shutdown closes every duplex connection and stops all actors.
func (h *Host) Shutdown(timeout time.Duration) {
	h.conns.CloseAll()
	h.engine.Shutdown(timeout)
}

func (h *Host) broadcast(actorID string, msg any, exclude ...session.Identity) int {
	frame, err := json.Marshal(broadcastFrame{Event: "broadcast", Data: msg})
	if err != nil {
		h.logger.Warn("broadcast payload is not serializable", zap.String("actor", actorID), zap.Error(err))
		return 0
	}

	skip := make(map[session.Identity]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	sent := 0
	for _, c := range h.conns.Snapshot(actorID) {
		if _, ok := skip[c.Identity()]; ok {
			continue
		}
		if err := c.Send(frame); err != nil {
			h.logger.Debug("broadcast send failed", zap.String("identity", string(c.Identity())), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

type broadcastFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
