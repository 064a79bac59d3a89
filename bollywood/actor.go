package bollywood

import "time"

// Actor is the interface implemented by anything the Engine can host.
// Receive is invoked for one message at a time; an actor never observes
// two concurrent Receive calls.
type Actor interface {
	Receive(ctx Context)
}

// Producer creates a fresh actor instance. It is called once per spawn, so a
// respawned (for example, passivated and reloaded) actor starts from a clean
// in-memory state.
type Producer func() Actor

// Props describes how to create and run an actor.
type Props struct {
	producer Producer

	// MailboxSize bounds the number of queued messages. Zero means defaultMailboxSize.
	MailboxSize int
	// PassivateAfter stops the actor after it stayed idle for this long.
	// Zero disables passivation.
	PassivateAfter time.Duration
}

// NewProps creates Props from a producer.
func NewProps(producer Producer) *Props {
	return &Props{producer: producer}
}

// WithMailboxSize sets the mailbox capacity.
func (p *Props) WithMailboxSize(size int) *Props {
	p.MailboxSize = size
	return p
}

// WithPassivation enables idle passivation.
func (p *Props) WithPassivation(after time.Duration) *Props {
	p.PassivateAfter = after
	return p
}

// Produce calls the producer.
func (p *Props) Produce() Actor {
	if p.producer == nil {
		return nil
	}
	return p.producer()
}
