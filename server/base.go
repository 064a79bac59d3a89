// File: server/base.go
package server

import (
	"context"
	"time"

	"github.com/lguibr/rpcactor/dispatch"
	"github.com/lguibr/rpcactor/session"
	"github.com/lguibr/rpcactor/storage"
	"go.uber.org/zap"
)

// Base is embedded by actor types to reach their host: durable storage, the
// event emitter and the actor's live connections. None of its methods are
// exposed over RPC.
type Base struct {
	env *actorEnv
}

// actorEnv is what the host hands to one activation of an actor.
type actorEnv struct {
	id      string
	host    *Host
	storage storage.Storage
	emitter storage.Emitter
	logger  *zap.Logger
}

type attachable interface {
	attach(env *actorEnv)
}

func (b *Base) attach(env *actorEnv) { b.env = env }

func (b *Base) environment() *actorEnv {
	if b.env == nil {
		// Detached instances (for example in unit tests) get private in-memory state.
		b.env = &actorEnv{
			storage: storage.NewMemory().Scope(""),
			emitter: storage.NewLogEmitter(nil),
			logger:  zap.NewNop(),
		}
	}
	return b.env
}

// ActorID returns the id the instance is served under.
func (b *Base) ActorID() string { return b.environment().id }

// Storage returns the actor's durable key/value scope. It is the only state
// that survives eviction.
func (b *Base) Storage() storage.Storage { return b.environment().storage }

// Emitter returns the host event emitter.
func (b *Base) Emitter() storage.Emitter { return b.environment().emitter }

// Logger returns a logger tagged with the actor id.
func (b *Base) Logger() *zap.Logger { return b.environment().logger }

// Emit publishes an event stamped with the actor, transport and caller found
// on ctx.
func (b *Base) Emit(ctx context.Context, kind, action string, payload any) error {
	meta := storage.EventContext{
		Actor:     b.ActorID(),
		Transport: dispatch.TransportFrom(ctx),
		At:        time.Now(),
	}
	if id, ok := session.IdentityFrom(ctx); ok {
		meta.Caller = string(id)
	}
	return b.Emitter().Emit(ctx, kind, action, payload, meta)
}

// Broadcast pushes msg to every duplex connection of the actor except the
// excluded ones and returns the number of connections reached.
func (b *Base) Broadcast(msg any, exclude ...session.Identity) int {
	env := b.environment()
	if env.host == nil {
		return 0
	}
	return env.host.broadcast(env.id, msg, exclude...)
}

// ConnectionCount returns the number of open duplex connections.
func (b *Base) ConnectionCount() int {
	env := b.environment()
	if env.host == nil {
		return 0
	}
	return env.host.conns.Count(env.id)
}

// Bind attaches storage and an emitter to an instance embedding Base without
// a running host. It reports whether instance embeds Base.
func Bind(instance any, id string, st storage.Storage, em storage.Emitter) bool {
	a, ok := instance.(attachable)
	if !ok {
		return false
	}
	if st == nil {
		st = storage.NewMemory().Scope(id)
	}
	if em == nil {
		em = storage.NewLogEmitter(nil)
	}
	a.attach(&actorEnv{id: id, storage: st, emitter: em, logger: zap.NewNop()})
	return true
}
