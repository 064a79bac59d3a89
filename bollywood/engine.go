package bollywood

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEngineStopping is returned when the engine refuses new work during shutdown.
	ErrEngineStopping = errors.New("bollywood: engine is stopping")
	// ErrActorNotFound is returned when the PID is not (or no longer) registered.
	ErrActorNotFound = errors.New("bollywood: actor not found")
	// ErrActorStopped is returned for messages that reached an actor after it stopped accepting work.
	ErrActorStopped = errors.New("bollywood: actor stopped")
	// ErrMailboxFull is returned when the actor mailbox is at capacity.
	ErrMailboxFull = errors.New("bollywood: mailbox full")
	// ErrAskTimeout is returned when an Ask did not receive a reply in time.
	ErrAskTimeout = errors.New("bollywood: ask timed out")
)

// Engine manages the lifecycle and message dispatching for actors.
type Engine struct {
	pidCounter     uint64
	requestCounter uint64
	actors         map[string]*process
	mu             sync.RWMutex // Protects the actors map
	stopping       atomic.Bool  // Indicates if the engine is shutting down
	futures        sync.Map     // requestID -> chan interface{}
	logger         *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a new actor engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		actors: make(map[string]*process),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// nextPID generates a unique process ID.
func (e *Engine) nextPID() *PID {
	id := atomic.AddUint64(&e.pidCounter, 1)
	return &PID{ID: fmt.Sprintf("actor-%d", id)}
}

// Spawn creates and starts a new actor based on the provided Props.
// It returns the PID of the newly created actor, or nil while shutting down.
func (e *Engine) Spawn(props *Props) *PID {
	if e.stopping.Load() {
		e.logger.Warn("engine is stopping, cannot spawn new actors")
		return nil
	}

	pid := e.nextPID()
	proc := newProcess(e, pid, props)

	e.mu.Lock()
	e.actors[pid.ID] = proc
	e.mu.Unlock()

	go proc.run()

	return pid
}

// Send delivers a message to the actor identified by the PID. Delivery
// failures are logged and otherwise ignored; use Ask when the caller needs to
// know the outcome.
func (e *Engine) Send(pid *PID, message interface{}, sender *PID) {
	if err := e.deliver(pid, &messageEnvelope{Sender: sender, Message: message}); err != nil {
		if !errors.Is(err, ErrEngineStopping) {
			e.logger.Debug("message dropped",
				zap.Stringer("pid", pid),
				zap.String("type", fmt.Sprintf("%T", message)),
				zap.Error(err))
		}
	}
}

// Ask sends a message and blocks until the actor replies through
// Context.Reply or the timeout expires. A reply that is an error value is
// returned as the error.
func (e *Engine) Ask(pid *PID, message interface{}, timeout time.Duration) (interface{}, error) {
	requestID := fmt.Sprintf("req-%d", atomic.AddUint64(&e.requestCounter, 1))
	replyCh := make(chan interface{}, 1)
	e.futures.Store(requestID, replyCh)
	defer e.futures.Delete(requestID)

	if err := e.deliver(pid, &messageEnvelope{Message: message, RequestID: requestID}); err != nil {
		return nil, err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case reply := <-replyCh:
		if err, ok := reply.(error); ok {
			return nil, err
		}
		return reply, nil
	case <-timer:
		return nil, fmt.Errorf("%w after %v", ErrAskTimeout, timeout)
	}
}

// replyFuture completes a pending Ask. Late replies are dropped.
func (e *Engine) replyFuture(requestID string, reply interface{}) {
	ch, ok := e.futures.Load(requestID)
	if !ok {
		return
	}
	select {
	case ch.(chan interface{}) <- reply:
	default:
	}
}

func (e *Engine) deliver(pid *PID, envelope *messageEnvelope) error {
	if pid == nil {
		return ErrActorNotFound
	}
	if e.stopping.Load() {
		return ErrEngineStopping
	}

	e.mu.RLock()
	proc, ok := e.actors[pid.ID]
	e.mu.RUnlock()
	if !ok {
		return ErrActorNotFound
	}
	return proc.sendMessage(envelope)
}

// Stop requests an actor to stop processing messages and shut down.
// Stopping is delivered to the actor before its goroutine exits.
func (e *Engine) Stop(pid *PID) {
	if pid == nil {
		return
	}
	e.mu.RLock()
	proc, ok := e.actors[pid.ID]
	e.mu.RUnlock()

	if ok {
		proc.requestStop()
	}
}

// IsAlive reports whether pid is still registered.
func (e *Engine) IsAlive(pid *PID) bool {
	if pid == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.actors[pid.ID]
	return ok
}

// remove removes an actor process from the engine's tracking.
func (e *Engine) remove(pid *PID) {
	e.mu.Lock()
	delete(e.actors, pid.ID)
	e.mu.Unlock()
}

// Shutdown stops all actors and waits for them to terminate gracefully.
func (e *Engine) Shutdown(timeout time.Duration) {
	if !e.stopping.CompareAndSwap(false, true) {
		e.logger.Debug("engine already shutting down")
		return
	}

	e.mu.RLock()
	procs := make([]*process, 0, len(e.actors))
	for _, proc := range e.actors {
		procs = append(procs, proc)
	}
	e.mu.RUnlock()

	e.logger.Info("engine shutdown initiated", zap.Int("actors", len(procs)))
	for _, proc := range procs {
		proc.requestStop()
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		e.mu.RLock()
		remaining := len(e.actors)
		e.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	e.mu.Lock()
	if remaining := len(e.actors); remaining > 0 {
		ids := make([]string, 0, remaining)
		for id := range e.actors {
			ids = append(ids, id)
		}
		e.logger.Warn("engine shutdown timeout", zap.Strings("remaining", ids))
		e.actors = make(map[string]*process)
	}
	e.mu.Unlock()

	e.logger.Info("engine shutdown complete")
}
