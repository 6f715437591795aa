package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// settleTransaction is called once a line has reached a state stable
// enough to service the event parked at the head of its MSHR entry. It
// replays that event through Handle rather than synthesizing a response
// directly: the now-stable line drives the ordinary request/replacement
// handler, which builds the correct response from the line's own fields.
// This mirrors the real protocol engine's behavior of re-dispatching a
// stalled head rather than special-casing "transaction completion" as a
// separate code path (spec §4.1's STALL/retry model).
//
// Events queued up behind the head while the transaction was in flight are
// replayed one at a time: a replay that resolves immediately (rather than
// re-parking itself) makes settleTransaction recurse to replay the next
// one, and once the queue is empty the entry is reclaimed instead of
// leaking an MSHR slot for an address that is stable again. A replay that
// stalls the line again leaves the remainder waiting for that transaction's
// own completion in turn, preserving per-address FIFO order (spec §5).
func (c *Controller) settleTransaction(now wire.VTime, baseAddr uint64) {
	if !c.table.Lookup(baseAddr) {
		return
	}

	next, err := c.table.PopFrontEvent(baseAddr)
	if err == nil {
		if outcome := c.Handle(now, next); outcome != Stall && outcome != Block {
			c.settleTransaction(now, baseAddr)
		}

		return
	}

	if pending, err := c.table.PendingWriteback(baseAddr); err == nil && pending {
		// Keep the entry open until the matching AckPut arrives.
		return
	}

	if rmErr := c.table.RemoveEntry(baseAddr); rmErr == nil {
		c.retryWaiters(now, baseAddr)
	}
}

// storePayload writes data into l's local slot if it has one, else into
// the MSHR's per-address data buffer (spec §3 invariant 5).
func (c *Controller) storePayload(l *directory.Line, data []byte) {
	if len(data) == 0 {
		return
	}

	if l.DataLine != nil {
		l.DataLine = data
		return
	}

	if err := c.table.SetDataBuffer(l.BaseAddr, data); err != nil {
		c.fatalf("buffering data for 0x%x: %v", l.BaseAddr, err)
	}
}
