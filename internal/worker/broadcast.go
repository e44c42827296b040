package worker

import (
	"sync"

	"github.com/google/uuid"
)

// BroadcastChannel is one named rendezvous point (spec.md §4.10): any
// number of BroadcastChannel handles created with the same name form a
// group, and a message posted from one is delivered to every other member
// of the group (but never back to the sender).
type BroadcastChannel struct {
	ID   uuid.UUID
	Name string

	reg   *broadcastRegistry
	onMsg func(Message)
	mu    sync.Mutex
}

type broadcastRegistry struct {
	mu       sync.Mutex
	channels map[string][]*BroadcastChannel
}

var defaultRegistry = &broadcastRegistry{channels: make(map[string][]*BroadcastChannel)}

// NewBroadcastChannel joins (creating if necessary) the named broadcast
// group in the process-wide registry.
func NewBroadcastChannel(name string) *BroadcastChannel {
	bc := &BroadcastChannel{ID: uuid.New(), Name: name, reg: defaultRegistry}
	bc.reg.mu.Lock()
	bc.reg.channels[name] = append(bc.reg.channels[name], bc)
	bc.reg.mu.Unlock()
	return bc
}

// OnMessage registers the handler invoked when another member of this
// channel's group posts a message.
func (bc *BroadcastChannel) OnMessage(f func(Message)) {
	bc.mu.Lock()
	bc.onMsg = f
	bc.mu.Unlock()
}

// Post delivers m to every other handle in this channel's named group
// (spec.md §4.10 "delivered to every other member, never the sender").
func (bc *BroadcastChannel) Post(m Message) {
	bc.reg.mu.Lock()
	members := append([]*BroadcastChannel(nil), bc.reg.channels[bc.Name]...)
	bc.reg.mu.Unlock()
	for _, member := range members {
		if member == bc {
			continue
		}
		member.mu.Lock()
		cb := member.onMsg
		member.mu.Unlock()
		if cb != nil {
			cb(m)
		}
	}
}

// Close removes this handle from its named group's membership.
func (bc *BroadcastChannel) Close() {
	bc.reg.mu.Lock()
	defer bc.reg.mu.Unlock()
	members := bc.reg.channels[bc.Name]
	for i, member := range members {
		if member == bc {
			bc.reg.channels[bc.Name] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(bc.reg.channels[bc.Name]) == 0 {
		delete(bc.reg.channels, bc.Name)
	}
}
