package worker

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MessagePort is one end of a MessageChannel (spec.md §4.10): messages
// posted to it are delivered to the paired port. A port buffers posts made
// before Start is called, mirroring the DOM's "port starts paused" model —
// messages queue silently until the receiving side opts in by calling
// Start, rather than being dropped.
type MessagePort struct {
	ID uuid.UUID

	mu      sync.Mutex
	paired  *MessagePort
	pending []Message
	started bool
	onMsg   func(Message)
	onClose func()
	closed  bool

	refd int32
}

func newPort() *MessagePort {
	return &MessagePort{ID: uuid.New(), refd: 1}
}

// MessageChannel is a pair of entangled MessagePorts (spec.md §4.10
// "MessageChannel produces two entangled MessagePort objects; a message
// posted to one is delivered to the other").
type MessageChannel struct {
	ID    uuid.UUID
	Port1 *MessagePort
	Port2 *MessagePort
}

// NewMessageChannel constructs a fresh entangled port pair.
func NewMessageChannel() *MessageChannel {
	p1, p2 := newPort(), newPort()
	p1.paired = p2
	p2.paired = p1
	return &MessageChannel{ID: uuid.New(), Port1: p1, Port2: p2}
}

// OnMessage registers the callback invoked for every message this port
// receives. Registering a callback implicitly starts the port, matching
// the DOM's onmessage-setter behavior (spec.md §4.10).
func (p *MessagePort) OnMessage(f func(Message)) {
	p.mu.Lock()
	p.onMsg = f
	backlog := p.drainLocked()
	p.started = true
	p.mu.Unlock()
	for _, m := range backlog {
		f(m)
	}
}

// Start begins delivering any messages queued before a receiver was ready,
// without requiring OnMessage to have been set yet (spec.md §4.10
// "start() flushes anything queued before the port had a listener").
func (p *MessagePort) Start() {
	p.mu.Lock()
	p.started = true
	backlog := p.drainLocked()
	cb := p.onMsg
	p.mu.Unlock()
	if cb == nil {
		return
	}
	for _, m := range backlog {
		cb(m)
	}
}

func (p *MessagePort) drainLocked() []Message {
	backlog := p.pending
	p.pending = nil
	return backlog
}

// Post sends a structured-clone Message to this port's paired port.
func (p *MessagePort) Post(m Message) {
	p.mu.Lock()
	other := p.paired
	closed := p.closed
	p.mu.Unlock()
	if other == nil || closed {
		return
	}
	other.receive(m)
}

func (p *MessagePort) receive(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if !p.started || p.onMsg == nil {
		p.pending = append(p.pending, m)
		return
	}
	cb := p.onMsg
	p.mu.Unlock()
	cb(m)
	p.mu.Lock()
}

// Close tears down this end of the channel. Per spec.md §4.10, closing one
// port delivers a final "close" notification to the paired port (its
// OnClose callback, if set; no message is sent) and severs delivery in both
// directions: a closed port drops what it receives, and Post on it sends
// nothing.
func (p *MessagePort) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	other := p.paired
	p.mu.Unlock()
	if other != nil {
		other.mu.Lock()
		onClose := other.onClose
		other.mu.Unlock()
		if onClose != nil {
			onClose()
		}
	}
}

// onClose, set via OnClose, fires when the paired port is closed.
func (p *MessagePort) OnClose(f func()) {
	p.mu.Lock()
	p.onClose = f
	p.mu.Unlock()
}

// Ref/Unref mirror Worker's keep-alive toggle: an unref'd port does not by
// itself keep the host event loop alive (spec.md §4.10).
func (p *MessagePort) Ref()          { atomic.StoreInt32(&p.refd, 1) }
func (p *MessagePort) Unref()        { atomic.StoreInt32(&p.refd, 0) }
func (p *MessagePort) Referenced() bool { return atomic.LoadInt32(&p.refd) == 1 }
