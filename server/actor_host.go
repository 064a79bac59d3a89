// File: server/actor_host.go
package server

import (
	"fmt"
	"runtime/debug"

	"github.com/lguibr/rpcactor/bollywood"
	"github.com/lguibr/rpcactor/dispatch"
	"github.com/lguibr/rpcactor/rpcerr"
	"github.com/lguibr/rpcactor/session"
	"go.uber.org/zap"
)

// actorHost is the bollywood actor wrapping one activation of a user
// instance. It owns the instance, its call table and its transport registry.
type actorHost struct {
	id   string
	host *Host

	instance   any
	dispatcher *dispatch.Dispatcher
	registry   *session.Registry
	initErr    error

	logger *zap.Logger
}

func newActorHost(h *Host, id string) *actorHost {
	return &actorHost{
		id:     id,
		host:   h,
		logger: h.logger.With(zap.String("actor", id)),
	}
}

// Receive handles messages for the actorHost.
func (a *actorHost) Receive(ctx bollywood.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic recovered in actor turn",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			ctx.Reply(outcome{err: rpcerr.HandlerFailure(fmt.Errorf("panic: %v", r))})
		}
	}()

	switch msg := ctx.Message().(type) {
	case bollywood.Started:
		a.activate()

	case turn:
		if a.initErr != nil {
			ctx.Reply(outcome{err: a.initErr})
			return
		}
		value, err := msg.fn(msg.ctx, a)
		ctx.Reply(outcome{value: value, err: err})

	case bollywood.Stopping:
		if a.registry != nil {
			a.registry.Each(func(t *session.Transport) bool {
				a.registry.Remove(t.Identity())
				return true
			})
		}
		if msg.Passivated {
			a.host.scope.Counter("passivations").Inc(1)
		}
		a.host.scope.Counter("evictions").Inc(1)
		a.logger.Debug("actor stopping", zap.Bool("passivated", msg.Passivated))

	case bollywood.Stopped:
		a.instance = nil
		a.dispatcher = nil
		a.registry = nil

	default:
		a.logger.Warn("unexpected message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// activate builds the instance, binds it to the host and reflects its call
// table. Failures are kept and returned to every caller of this activation.
func (a *actorHost) activate() {
	h := a.host
	instance := h.factory(a.id)
	if instance == nil {
		a.initErr = rpcerr.NotFound(a.id)
		return
	}
	if b, ok := instance.(attachable); ok {
		b.attach(&actorEnv{
			id:      a.id,
			host:    h,
			storage: h.store.Scope(a.id),
			emitter: h.emitter,
			logger:  a.logger,
		})
	}

	table, err := dispatch.BuildCallTable(instance, dispatch.WithBase(&Base{}))
	if err != nil {
		a.initErr = rpcerr.HandlerFailure(err)
		return
	}
	a.instance = instance
	a.dispatcher = dispatch.NewDispatcher(table,
		dispatch.WithScope(h.scope),
		dispatch.WithLogger(a.logger))
	a.registry = session.NewRegistry(a.dispatcher, a.logger)
	a.logger.Debug("actor activated",
		zap.Int("methods", len(table.Methods())),
		zap.Int("namespaces", len(table.Namespaces())))
}
