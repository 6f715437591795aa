// Package link implements the Send/Recv Shim from spec §2 and §5: the one
// piece of the outgoing-message path that stays in scope even though the
// interconnect itself (spec §1's "link layer / outgoing queues") does not.
// The shim's job is solely to stamp and order outgoing events; actual
// delivery is behind the Peer interface, grounded in the teacher's
// BufferedSender/Port split (sim/bufferedsender.go, sim/port.go) — Send
// here plays BufferedSender.Send, Peer plays the Port it eventually sends
// through.
package link

import (
	"log"

	"github.com/relaycore/meshdir/wire"
)

// Peer is the narrow contract a transport must satisfy to receive events
// handed off by a Shim. A host simulator's own interconnect implements it;
// InMemoryPeer below is a reference implementation for tests and the demo.
type Peer interface {
	Deliver(evt *wire.Event)
}

// Shim stamps every outgoing event with its scheduled delivery time and
// forwards it to a Peer, enforcing the per-line ordering guarantee from
// spec §5: two events for the same line are never delivered out of the
// order they were sent in, even if issued back to back at the same
// logical time. The latency applied is chosen by the caller per send
// (tag/mshr/access latency, per operation class), not fixed at
// construction.
type Shim struct {
	peer Peer

	// lastSendTime remembers, per base address, the delivery time of the
	// most recently sent event for that line.
	lastSendTime map[uint64]wire.VTime
}

// NewShim creates a Shim that forwards every send to peer.
func NewShim(peer Peer) *Shim {
	return &Shim{
		lastSendTime: make(map[uint64]wire.VTime),
		peer:         peer,
	}
}

// Send schedules evt for delivery no earlier than now+latency, and never
// earlier than the previous send for the same base address — the
// max(now, line.timestamp) + latency rule from spec §5.
func (s *Shim) Send(now wire.VTime, evt *wire.Event, latency wire.Latency) {
	if evt == nil {
		log.Panic("link: Send called with a nil event")
	}

	base := now
	if prior, ok := s.lastSendTime[evt.BaseAddr]; ok && prior > base {
		base = prior
	}

	deliverAt := base + wire.VTime(latency)
	evt.SendTime = deliverAt
	s.lastSendTime[evt.BaseAddr] = deliverAt

	s.peer.Deliver(evt)
}

// Reset forgets every line's last-send bookkeeping, e.g. after the line has
// been invalidated and reused for an unrelated address.
func (s *Shim) Reset(baseAddr uint64) {
	delete(s.lastSendTime, baseAddr)
}

// InMemoryPeer is a reference Peer that simply records delivered events in
// the order Deliver was called, for use by tests and the demo CLI in place
// of a real interconnect.
type InMemoryPeer struct {
	Delivered []*wire.Event
}

// NewInMemoryPeer creates an empty InMemoryPeer.
func NewInMemoryPeer() *InMemoryPeer {
	return &InMemoryPeer{}
}

func (p *InMemoryPeer) Deliver(evt *wire.Event) {
	p.Delivered = append(p.Delivered, evt)
}

// Drain returns and clears every event recorded so far.
func (p *InMemoryPeer) Drain() []*wire.Event {
	out := p.Delivered
	p.Delivered = nil

	return out
}
