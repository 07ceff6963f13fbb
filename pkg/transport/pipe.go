package transport

import "sync"

type pipeState struct {
	mu     sync.Mutex
	closed bool
}

// PipeEnd is one side of an in-memory channel pair.
type PipeEnd struct {
	state *pipeState
	peer  *PipeEnd

	// guarded by state.mu
	receive func(payload []byte)
	pending [][]byte
}

// NewPipe returns two connected ends. Payloads transmitted on one end are
// received on the other in order; payloads sent before the other end
// listens are held until it does.
func NewPipe() (*PipeEnd, *PipeEnd) {
	state := &pipeState{}
	a := &PipeEnd{state: state}
	b := &PipeEnd{state: state}
	a.peer, b.peer = b, a
	return a, b
}

// Transmit delivers a copy of payload to the other end.
func (p *PipeEnd) Transmit(payload []byte, done func(err error)) {
	data := append([]byte(nil), payload...)

	p.state.mu.Lock()
	if p.state.closed {
		p.state.mu.Unlock()
		done(ErrClosed)
		return
	}
	if p.peer.receive == nil {
		p.peer.pending = append(p.peer.pending, data)
	} else {
		p.peer.receive(data)
	}
	p.state.mu.Unlock()
	done(nil)
}

// Listen starts delivery, beginning with anything already sent.
func (p *PipeEnd) Listen(receive func(payload []byte)) error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.closed {
		return ErrClosed
	}
	if p.receive != nil {
		return ErrAlreadyListening
	}
	p.receive = receive
	for _, data := range p.pending {
		receive(data)
	}
	p.pending = nil
	return nil
}

// Close closes both ends.
func (p *PipeEnd) Close() error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	p.state.closed = true
	p.pending, p.peer.pending = nil, nil
	return nil
}
