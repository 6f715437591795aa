package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// onAcksExhausted implements the "once acks_needed == 0" half of spec
// §4.7/§4.8: every handler that counts down acks_needed (AckInv, FetchResp,
// FetchXResp) converges here once the last one arrives, since what happens
// next depends only on which transient state the line is in, not on which
// kind of acknowledgment supplied the final decrement.
func (c *Controller) onAcksExhausted(now wire.VTime, l *directory.Line) Outcome {
	baseAddr := l.BaseAddr

	switch l.State {
	case directory.SI:
		c.writeback(now, l, wire.PutS, "")
		l.Invalidate()
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.EI:
		c.writeback(now, l, wire.PutE, "")
		l.Invalidate()
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.MI:
		c.writeback(now, l, wire.PutM, "")
		l.Invalidate()
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.SBInv:
		return c.finishFlushInvalidation(now, l)

	case directory.SMInv:
		if c.config.LastLevel {
			// No downstream forward was ever sent for this transaction
			// (handleUpgradeFromShared skips it when LastLevel is set), so
			// there is no further response to wait on: promote straight to
			// M and replay the parked GetX/GetSX now, rather than leaving
			// it stuck in SM forever.
			l.State = directory.M
			c.settleTransaction(now, baseAddr)

			return Done
		}

		l.State = directory.SM
		return Done

	case directory.SInv, directory.EInv, directory.MInv:
		if pend, ok := c.invalidationTransactions[baseAddr]; ok {
			c.finishInvalidation(now, l, pend.evt, pend.withData, pend.finalState)
			return Done
		}

		if l.State != directory.SInv {
			l.ClearOwner()
		}

		l.State = directory.M
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.EInvX, directory.MInvX:
		if pend, ok := c.invalidationTransactions[baseAddr]; ok {
			c.finishInvalidation(now, l, pend.evt, pend.withData, pend.finalState)
			return Done
		}

		oldOwner := l.Owner
		l.ClearOwner()
		l.AddSharer(oldOwner)
		l.State = directory.S
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.SD:
		l.State = directory.S
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.ED:
		l.State = directory.E
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.MD:
		l.State = directory.M
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.SMD:
		l.State = directory.SM
		c.settleTransaction(now, baseAddr)

		return Done

	case directory.S, directory.E, directory.M:
		// A plain Fetch waits for its data without moving the line out of
		// its stable state.
		if pend, ok := c.invalidationTransactions[baseAddr]; ok {
			c.finishInvalidation(now, l, pend.evt, pend.withData, pend.finalState)
			return Done
		}

		c.fatalf("acks exhausted while line 0x%x is in stable state %s", baseAddr, l.State)
		return Done

	default:
		c.fatalf("acks exhausted while line 0x%x is in unexpected state %s", baseAddr, l.State)
		return Done
	}
}

// decrementAcks applies one acknowledgment for baseAddr and reports how
// many remain, per spec §3 invariant 4.
func (c *Controller) decrementAcks(baseAddr uint64) int {
	if !c.table.Lookup(baseAddr) {
		return 0
	}

	acks, err := c.table.AcksNeeded(baseAddr)
	if err != nil || acks <= 0 {
		return 0
	}

	remaining, err := c.table.DecrementAcks(baseAddr)
	if err != nil {
		c.fatalf("decrementing acks for 0x%x: %v", baseAddr, err)
	}

	return remaining
}

// handleDataResp implements the GetSResp/GetXResp column of spec §4.8: a
// data response arriving from the downstream peer, completing an IS, IM or
// SM transition.
func (c *Controller) handleDataResp(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	baseAddr := l.BaseAddr
	prior := l.State

	c.storePayload(l, evt.Payload)

	switch l.State {
	case directory.IS:
		if c.config.Protocol == MESI {
			l.State = directory.E
		} else {
			l.State = directory.S
		}

	case directory.IM, directory.SM:
		l.State = directory.M

	default:
		c.fatalf("%s received while line 0x%x is in state %s", evt.Command, baseAddr, l.State)
	}

	if front, err := c.table.FrontEvent(baseAddr); err == nil && front.IsPrefetch {
		l.Prefetch = true
	}

	c.recordOutcome(prior, evt.Command, Done)
	c.settleTransaction(now, baseAddr)

	return Done
}

// handleFetchResp implements the FetchResp/FetchXResp column of spec §4.8:
// data supplied by a sharer/owner in response to our own Fetch/FetchInv/
// FetchInvX.
func (c *Controller) handleFetchResp(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	baseAddr := l.BaseAddr
	prior := l.State

	c.storePayload(l, evt.Payload)

	if evt.Dirty {
		l.State = promoteToModified(l.State)
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

// handleAckInv implements the AckInv column of spec §4.8. AckInv carries a
// payload whenever it acks an Inv-flavored invalidation this controller
// upgraded to FetchInv to pull data back (scenario D's eviction-triggered
// fetch), so it stores data and promotes dirtiness the same way FetchResp
// does.
func (c *Controller) handleAckInv(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	baseAddr := l.BaseAddr
	prior := l.State

	l.RemoveSharer(evt.Src)

	if l.Owner == evt.Src {
		l.ClearOwner()
	}

	c.storePayload(l, evt.Payload)

	if evt.Dirty {
		l.State = promoteToModified(l.State)
	}

	remaining := c.decrementAcks(baseAddr)
	if remaining > 0 {
		c.recordOutcome(prior, wire.AckInv, Ignore)
		return Ignore
	}

	outcome := c.onAcksExhausted(now, l)
	c.recordOutcome(prior, wire.AckInv, outcome)

	return outcome
}

// handleAckPut implements the AckPut column of spec §4.8: clear the
// pending-writeback mark and let anything stalled behind it replay.
func (c *Controller) handleAckPut(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	baseAddr := l.BaseAddr

	if c.table.Lookup(baseAddr) {
		if err := c.table.SetPendingWriteback(baseAddr, false); err != nil {
			c.fatalf("clearing pending writeback for 0x%x: %v", baseAddr, err)
		}
	}

	c.recordOutcome(l.State, wire.AckPut, Done)
	c.settleTransaction(now, baseAddr)

	return Done
}

// handleFlushLineResp implements the FlushLineResp column of spec §4.8.
func (c *Controller) handleFlushLineResp(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	prior := l.State

	switch l.State {
	case directory.SB:
		l.State = directory.S

	case directory.IB:
		l.Invalidate()

	default:
		c.fatalf("FlushLineResp received while line 0x%x is in state %s", l.BaseAddr, l.State)
	}

	c.recordOutcome(prior, wire.FlushLineResp, Done)
	c.settleTransaction(now, l.BaseAddr)

	return Done
}
