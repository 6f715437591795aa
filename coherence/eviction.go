package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// handleEviction implements handle_eviction from spec §4.4: the policy for
// reclaiming candidate's slot. requestor is the id on whose behalf the
// slot is being freed (propagated so downstream writebacks can be
// attributed, even though the eviction itself has no single upstream
// requestor). fromDataCache is true when the call originates from the
// local data cache's own replacement policy rather than a directory-driven
// miss, enabling the lazy-deallocation shortcut.
func (c *Controller) handleEviction(
	now wire.VTime,
	l *directory.Line,
	requestor string,
	fromDataCache bool,
) Outcome {
	switch l.State {
	case directory.I:
		c.recordOutcome(l.State, wire.PutS, Done)
		return Done

	case directory.S:
		return c.evictShared(now, l, requestor, fromDataCache)

	case directory.E, directory.M:
		return c.evictExclusive(now, l, requestor, fromDataCache)

	default:
		// Already evicting or otherwise transitional.
		c.recordOutcome(l.State, wire.PutS, Stall)
		return Stall
	}
}

func (c *Controller) evictShared(
	now wire.VTime,
	l *directory.Line,
	requestor string,
	fromDataCache bool,
) Outcome {
	if l.HasSharers() && !fromDataCache {
		c.beginEvictionTransaction(l.BaseAddr, len(l.Sharers))
		c.invalidateSharersForEviction(now, l)
		l.State = directory.SI
		c.recordOutcome(directory.S, wire.Inv, Stall)

		return Stall
	}

	if fromDataCache && l.HasSharers() {
		// Lazy deallocation: sharers still hold the data upstream.
		l.Invalidate()
		c.recordOutcome(directory.S, wire.PutS, Done)

		return Done
	}

	c.writeback(now, l, wire.PutS, requestor)
	l.Invalidate()
	c.recordOutcome(directory.S, wire.PutS, Done)

	return Done
}

func (c *Controller) evictExclusive(
	now wire.VTime,
	l *directory.Line,
	requestor string,
	fromDataCache bool,
) Outcome {
	putCmd := wire.PutE
	if l.State == directory.M {
		putCmd = wire.PutM
	}

	if fromDataCache && l.HasOwner() {
		l.Invalidate()
		c.recordOutcome(l.State, putCmd, Done)

		return Done
	}

	if l.HasOwner() {
		c.beginEvictionTransaction(l.BaseAddr, 1)

		evt := wire.NewEventBuilder(wire.FetchInv).
			WithBaseAddr(l.BaseAddr).
			WithDst(l.Owner).
			Build()
		c.sendUp(now, evt, c.config.TagLatency)

		if l.State == directory.E {
			l.State = directory.EI
		} else {
			l.State = directory.MI
		}

		c.recordOutcome(l.State, wire.FetchInv, Stall)

		return Stall
	}

	prior := l.State
	c.writeback(now, l, putCmd, requestor)
	l.Invalidate()
	c.recordOutcome(prior, putCmd, Done)

	return Done
}

// beginEvictionTransaction opens an MSHR entry tracking an eviction in
// progress, satisfying invariant 3 (every transition state has a pending
// MSHR entry for its address).
func (c *Controller) beginEvictionTransaction(baseAddr uint64, acksNeeded int) {
	if !c.table.Lookup(baseAddr) {
		if err := c.table.AddEntry(baseAddr); err != nil {
			c.fatalf("opening eviction transaction for 0x%x: %v", baseAddr, err)
		}
	}

	if err := c.table.SetAcksNeeded(baseAddr, acksNeeded); err != nil {
		c.fatalf("setting acks_needed for eviction of 0x%x: %v", baseAddr, err)
	}
}

// invalidateSharersForEviction sends FetchInv to the first sharer (to pull
// data back for the writeback that follows) and Inv to the rest, per
// spec §4.4's "FetchInv to one sharer plus Inv to the rest" policy for an
// uncached S line. A locally cached line only needs plain Inv broadcasts.
func (c *Controller) invalidateSharersForEviction(now wire.VTime, l *directory.Line) {
	ids := l.SharerIDs()

	for i, id := range ids {
		cmd := wire.Inv
		if l.IsUncached() && i == 0 {
			cmd = wire.FetchInv
		}

		evt := wire.NewEventBuilder(cmd).
			WithBaseAddr(l.BaseAddr).
			WithDst(id).
			Build()
		c.sendUp(now, evt, c.config.TagLatency)
	}
}

// writeback emits a PutS/PutE/PutM carrying l's data downstream, honoring
// WritebackCleanBlocks and ExpectWritebackAck.
func (c *Controller) writeback(now wire.VTime, l *directory.Line, cmd wire.Command, requestor string) {
	b := wire.NewEventBuilder(cmd).
		WithBaseAddr(l.BaseAddr).
		WithDst(c.downstreamID).
		WithRequestor(requestor).
		WithDirty(l.State.IsModified())

	if c.config.WritebackCleanBlocks || l.State.IsModified() {
		b = b.WithPayload(c.lineData(l))
	}

	c.sendDown(now, b.Build(), c.config.AccessLatency)

	if c.config.ExpectWritebackAck {
		if !c.table.Lookup(l.BaseAddr) {
			if err := c.table.AddEntry(l.BaseAddr); err != nil {
				c.fatalf("tracking writeback ack for 0x%x: %v", l.BaseAddr, err)
			}
		}

		if err := c.table.SetPendingWriteback(l.BaseAddr, true); err != nil {
			c.fatalf("marking pending writeback for 0x%x: %v", l.BaseAddr, err)
		}
	}
}

// lineData returns l's data, preferring the local slot and falling back to
// the MSHR's per-address data buffer (spec §3 invariant 5).
func (c *Controller) lineData(l *directory.Line) []byte {
	if l.DataLine != nil {
		return l.DataLine
	}

	data, err := c.table.DataBuffer(l.BaseAddr)
	if err == nil && data != nil {
		return data
	}

	return nil
}
