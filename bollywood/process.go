package bollywood

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultMailboxSize = 1024

// process represents the running instance of an actor, including its state and mailbox.
type process struct {
	engine   *Engine
	pid      *PID
	actor    Actor
	mailbox  chan *messageEnvelope
	props    *Props
	stopCh   chan struct{} // Signal to stop the run loop
	stopOnce sync.Once

	mu     sync.Mutex // Guards closed against concurrent sendMessage
	closed bool
}

func newProcess(engine *Engine, pid *PID, props *Props) *process {
	size := props.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}
	return &process{
		engine:  engine,
		pid:     pid,
		props:   props,
		mailbox: make(chan *messageEnvelope, size),
		stopCh:  make(chan struct{}),
	}
}

// sendMessage enqueues an envelope without blocking.
func (p *process) sendMessage(envelope *messageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrActorStopped
	}
	select {
	case p.mailbox <- envelope:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (p *process) requestStop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// run is the main loop for the actor process.
func (p *process) run() {
	defer p.engine.remove(p.pid)

	p.actor = p.props.Produce()
	if p.actor == nil {
		p.engine.logger.Error("producer returned nil actor", zap.Stringer("pid", p.pid))
		p.close()
		return
	}

	p.invokeReceive(Started{}, nil, "")
	passivated := p.loop()
	p.invokeReceive(Stopping{Passivated: passivated}, nil, "")
	p.close()
	p.invokeReceive(Stopped{}, nil, "")
}

// loop processes mailbox messages one at a time until stopped or idle for
// longer than PassivateAfter. It reports whether the exit was a passivation.
func (p *process) loop() bool {
	var idle *time.Timer
	var idleC <-chan time.Time
	if p.props.PassivateAfter > 0 {
		idle = time.NewTimer(p.props.PassivateAfter)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case <-p.stopCh:
			return false

		case <-idleC:
			p.engine.logger.Debug("passivating idle actor",
				zap.Stringer("pid", p.pid),
				zap.Duration("idle", p.props.PassivateAfter))
			return true

		case envelope := <-p.mailbox:
			p.invokeReceive(envelope.Message, envelope.Sender, envelope.RequestID)
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(p.props.PassivateAfter)
			}
		}
	}
}

// close stops accepting messages and fails any Ask still waiting in the mailbox.
func (p *process) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case envelope := <-p.mailbox:
			if envelope.RequestID != "" {
				p.engine.replyFuture(envelope.RequestID, ErrActorStopped)
			}
		default:
			return
		}
	}
}

// invokeReceive calls the actor's Receive method within a protected context.
func (p *process) invokeReceive(msg interface{}, sender *PID, requestID string) {
	ctx := &context{
		engine:    p.engine,
		self:      p.pid,
		sender:    sender,
		message:   msg,
		requestID: requestID,
	}

	defer func() {
		if r := recover(); r != nil {
			p.engine.logger.Error("actor panicked during Receive",
				zap.Stringer("pid", p.pid),
				zap.String("message", fmt.Sprintf("%T", msg)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			if requestID != "" {
				p.engine.replyFuture(requestID, fmt.Errorf("actor %s panicked: %v", p.pid, r))
			}
		}
	}()
	p.actor.Receive(ctx)
}
