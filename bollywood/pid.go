package bollywood

// PID identifies a running actor process inside an Engine.
type PID struct {
	ID string
}

func (p *PID) String() string {
	if p == nil {
		return "<nil>"
	}
	return p.ID
}
