package bollywood

// Started is the first message every actor receives.
type Started struct{}

// Stopping is delivered when the actor is asked to stop, either explicitly or
// because it was passivated. Passivated reports the latter.
type Stopping struct {
	Passivated bool
}

// Stopped is the last message an actor receives.
type Stopped struct{}

// messageEnvelope wraps a user message with routing metadata.
type messageEnvelope struct {
	Sender    *PID
	Message   interface{}
	RequestID string
}
