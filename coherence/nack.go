package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// dispatchNACK implements spec §4.1 point 5 and the network-hazard handling
// from §7.3: a NACK wraps the event the interconnect refused to deliver.
// Whether to resend depends on whether the reason the event was sent still
// holds, not on the event's command alone.
func (c *Controller) dispatchNACK(now wire.VTime, evt *wire.Event) Outcome {
	inner := evt.NACKedEvent
	if inner == nil {
		c.fatalf("NACK received with no wrapped event")
	}

	l, ok := c.array.Lookup(inner.BaseAddr)
	if !ok {
		return Ignore
	}

	if !c.nackPreconditionsHold(l, inner) {
		c.recordOutcome(l.State, wire.NACK, Ignore)
		return Ignore
	}

	if inner.Dst == c.downstreamID {
		c.sendDown(now, inner, c.config.MSHRLatency)
	} else {
		c.sendUp(now, inner, c.config.MSHRLatency)
	}

	c.recordOutcome(l.State, wire.NACK, Done)

	return Done
}

// nackPreconditionsHold re-checks whether resending inner is still
// meaningful. For the invalidation/fetch family, inner's destination must
// still be a sharer or the owner: Scenario F is a stale FetchInv whose
// target already responded and was dropped from the sharer set, which must
// be dropped rather than resent. For a replacement (PutS/PutE/PutM), the
// writeback must still be pending: the Inv-vs-pending-Put race (§4.3)
// clears the pending-writeback flag when it absorbs the Put, and a NACK
// for that same writeback arriving afterward must not resend it. Acks and
// flushes are worth retrying as long as the line still exists.
func (c *Controller) nackPreconditionsHold(l *directory.Line, inner *wire.Event) bool {
	switch {
	case inner.Command.IsInvalidation():
		return l.Sharers[inner.Dst] || l.Owner == inner.Dst

	case inner.Command.IsReplacement():
		pending, err := c.table.PendingWriteback(inner.BaseAddr)
		return err == nil && pending

	default:
		return true
	}
}
