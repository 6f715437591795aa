package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// ackWriteback acknowledges a replacement event from an upstream child.
func (c *Controller) ackWriteback(now wire.VTime, dst string, baseAddr uint64) {
	ack := wire.NewEventBuilder(wire.AckPut).
		WithBaseAddr(baseAddr).
		WithDst(dst).
		Build()
	c.sendUp(now, ack, c.config.MSHRLatency)
}

// handlePutS implements the PutS column of spec §4.6.
func (c *Controller) handlePutS(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	baseAddr := l.BaseAddr
	hasEntry := c.table.Lookup(baseAddr)

	if hasEntry {
		if acks, err := c.table.AcksNeeded(baseAddr); err == nil && acks > 0 {
			if _, decErr := c.table.DecrementAcks(baseAddr); decErr != nil {
				c.fatalf("decrementing acks for 0x%x on PutS: %v", baseAddr, decErr)
			}
		}
	}

	l.RemoveSharer(evt.Src)
	c.storePayload(l, evt.Payload)

	if hasEntry {
		if remaining, err := c.table.AcksNeeded(baseAddr); err == nil && remaining > 0 {
			c.recordOutcome(l.State, wire.PutS, Ignore)
			return Ignore
		}
	}

	prior := l.State

	if prior == directory.S || prior == directory.E || prior == directory.M {
		c.ackWriteback(now, evt.Src, baseAddr)
		c.recordOutcome(prior, wire.PutS, Done)

		return Done
	}

	// The Put carried the data (or the race-absorbed ack) a stalled
	// eviction/invalidation/request was waiting on; acks_needed was
	// already brought to 0 above, so the transition completes exactly
	// like the last AckInv/FetchResp would have (spec §4.3 rules 2-4).
	outcome := c.onAcksExhausted(now, l)
	c.recordOutcome(prior, wire.PutS, outcome)

	return outcome
}

// handlePutEM implements the PutE/PutM column of spec §4.6. Like PutS, an
// owner's PutE/PutM can be the last of several outstanding acks (e.g. a
// GetX also invalidating other sharers), so it goes through the same
// acks_needed countdown before the state-specific completion runs.
func (c *Controller) handlePutEM(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	baseAddr := l.BaseAddr
	prior := l.State

	c.storePayload(l, evt.Payload)
	l.ClearOwner()

	if evt.Dirty {
		l.State = promoteToModified(l.State)
	}

	if prior == directory.E || prior == directory.M {
		c.ackWriteback(now, evt.Src, baseAddr)

		if l.DataLine == nil {
			c.writeback(now, l, evt.Command, evt.Requestor)
		}

		c.recordOutcome(prior, evt.Command, Done)

		return Done
	}

	if prior == directory.EInvX || prior == directory.MInvX {
		return c.finishOwnerEviction(now, l, evt, baseAddr, prior)
	}

	remaining := c.decrementAcks(baseAddr)
	if remaining > 0 {
		c.recordOutcome(prior, evt.Command, Ignore)
		return Ignore
	}

	outcome := c.onAcksExhausted(now, l)
	c.recordOutcome(prior, evt.Command, outcome)

	return outcome
}

// finishOwnerEviction handles a PutE/PutM arriving from the owner while the
// line is E_InvX/M_InvX: the owner was being downgraded via our own
// FetchInvX on behalf of a parked GetS, but evicts instead. The owner gave
// up the block entirely, so unlike the ordinary FetchXResp completion
// (onAcksExhausted's EInvX/MInvX branch, which downgrades the owner into a
// sharer) there is no one left holding a copy. The line settles straight to
// E or M rather than S, and the parked GetS is replayed against that state:
// handleGetSOnExclusive already grants ownership (or a shared copy under
// MSI) to an owner-less line with data and no other sharers, so the normal
// settle-by-replay path produces the right response without adding the
// evicting owner back as a sharer (spec §4.6).
func (c *Controller) finishOwnerEviction(
	now wire.VTime,
	l *directory.Line,
	evt *wire.Event,
	baseAddr uint64,
	prior directory.State,
) Outcome {
	remaining := c.decrementAcks(baseAddr)
	if remaining > 0 {
		c.recordOutcome(prior, evt.Command, Ignore)
		return Ignore
	}

	if l.State == directory.MInvX {
		l.State = directory.M
	} else {
		l.State = directory.E
	}

	c.settleTransaction(now, baseAddr)
	c.recordOutcome(prior, evt.Command, Done)

	return Done
}

// promoteToModified maps an E-family transitional state to its M-family
// counterpart when a dirty payload arrives, per spec §9 open question (a):
// an explicit promotion rather than a fall-through switch arm.
func promoteToModified(s directory.State) directory.State {
	switch s {
	case directory.E:
		return directory.M
	case directory.EI:
		return directory.MI
	case directory.EInv:
		return directory.MInv
	case directory.EInvX:
		return directory.MInvX
	case directory.ED:
		return directory.MD
	default:
		return s
	}
}
