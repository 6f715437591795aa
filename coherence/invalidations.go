package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// pendingInvalidation tracks a downstream-issued Inv/Fetch/FetchInv/
// FetchInvX/ForceInv while this controller collects acknowledgments from
// its own upstream sharers/owner. It is distinct from the ordinary MSHR
// head (an upstream request awaiting a downstream response): completion
// here means acking the downstream peer directly, not replaying an
// upstream request through the normal handler path.
type pendingInvalidation struct {
	evt        *wire.Event
	withData   bool
	forceInv   bool
	finalState directory.State
}

func (c *Controller) beginInvalidation(
	now wire.VTime,
	l *directory.Line,
	evt *wire.Event,
	withData bool,
	forceInv bool,
	transientState directory.State,
	finalState directory.State,
) Outcome {
	acks := 0

	for _, id := range l.SharerIDs() {
		cmd := wire.Inv
		if withData && !forceInv && acks == 0 {
			cmd = wire.FetchInv
		}

		inv := wire.NewEventBuilder(cmd).
			WithBaseAddr(l.BaseAddr).
			WithDst(id).
			Build()
		c.sendUp(now, inv, c.config.TagLatency)
		acks++
	}

	if l.HasOwner() {
		cmd := wire.Inv
		if withData {
			if forceInv {
				cmd = wire.ForceInv
			} else {
				cmd = wire.FetchInv
			}
		}

		inv := wire.NewEventBuilder(cmd).
			WithBaseAddr(l.BaseAddr).
			WithDst(l.Owner).
			Build()
		c.sendUp(now, inv, c.config.TagLatency)
		acks++
	}

	if acks == 0 {
		c.finishInvalidation(now, l, evt, withData, finalState)
		return Done
	}

	c.beginEvictionTransaction(l.BaseAddr, acks)

	if c.invalidationTransactions == nil {
		c.invalidationTransactions = make(map[uint64]*pendingInvalidation)
	}

	c.invalidationTransactions[l.BaseAddr] = &pendingInvalidation{
		evt:        evt,
		withData:   withData,
		forceInv:   forceInv,
		finalState: finalState,
	}

	l.State = transientState
	c.recordOutcome(l.State, evt.Command, Stall)

	return Stall
}

// finishInvalidation acks the downstream invalidation/fetch (with data, if
// required and available) and commits l to its final state.
func (c *Controller) finishInvalidation(
	now wire.VTime,
	l *directory.Line,
	evt *wire.Event,
	withData bool,
	finalState directory.State,
) {
	respCmd := wire.AckInv
	if withData {
		if evt.Command == wire.FetchInvX {
			respCmd = wire.FetchXResp
		} else {
			respCmd = wire.FetchResp
		}
	}

	b := wire.NewEventBuilder(respCmd).
		WithBaseAddr(l.BaseAddr).
		WithDst(evt.Src).
		WithDirty(l.State.IsModified())

	if withData {
		b = b.WithPayload(c.lineData(l))
	}

	c.sendDown(now, b.Build(), c.config.MSHRLatency)

	if finalState == directory.I {
		l.Invalidate()
	} else {
		l.State = finalState
	}

	delete(c.invalidationTransactions, l.BaseAddr)
}

// handleInv implements the Inv column of spec §4.7.
func (c *Controller) handleInv(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	if l.State == directory.I {
		c.finishInvalidation(now, l, evt, false, directory.I)
		c.recordOutcome(directory.I, wire.Inv, Done)

		return Done
	}

	return c.beginInvalidation(now, l, evt, false, false, invTransientFor(l.State), directory.I)
}

// handleFetch services a plain Fetch (no invalidation) by asking the
// current owner/first sharer for data, without changing membership.
func (c *Controller) handleFetch(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	dst := l.Owner
	if dst == "" && l.HasSharers() {
		dst = l.SharerIDs()[0]
	}

	if dst == "" {
		c.finishInvalidation(now, l, evt, true, l.State)
		c.recordOutcome(l.State, wire.Fetch, Done)

		return Done
	}

	fwd := wire.NewEventBuilder(wire.Fetch).
		WithBaseAddr(l.BaseAddr).
		WithDst(dst).
		Build()
	c.sendUp(now, fwd, c.config.TagLatency)

	c.beginEvictionTransaction(l.BaseAddr, 1)

	if c.invalidationTransactions == nil {
		c.invalidationTransactions = make(map[uint64]*pendingInvalidation)
	}

	c.invalidationTransactions[l.BaseAddr] = &pendingInvalidation{
		evt:        evt,
		withData:   true,
		finalState: l.State,
	}

	c.recordOutcome(l.State, wire.Fetch, Stall)

	return Stall
}

// handleFetchInv implements the FetchInv column of spec §4.7.
func (c *Controller) handleFetchInv(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	if l.State == directory.I {
		c.finishInvalidation(now, l, evt, true, directory.I)
		c.recordOutcome(directory.I, wire.FetchInv, Done)

		return Done
	}

	return c.beginInvalidation(now, l, evt, true, false, invTransientFor(l.State), directory.I)
}

// handleFetchInvX implements the FetchInvX column of spec §4.7: downgrade
// the owner without invalidating sharers.
func (c *Controller) handleFetchInvX(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	if !l.HasOwner() {
		c.finishInvalidation(now, l, evt, true, directory.S)
		c.recordOutcome(l.State, wire.FetchInvX, Done)

		return Done
	}

	fwd := wire.NewEventBuilder(wire.FetchInvX).
		WithBaseAddr(l.BaseAddr).
		WithDst(l.Owner).
		Build()
	c.sendUp(now, fwd, c.config.TagLatency)

	c.beginEvictionTransaction(l.BaseAddr, 1)

	if c.invalidationTransactions == nil {
		c.invalidationTransactions = make(map[uint64]*pendingInvalidation)
	}

	c.invalidationTransactions[l.BaseAddr] = &pendingInvalidation{
		evt:        evt,
		withData:   true,
		finalState: directory.S,
	}

	l.State = invTransientFor(l.State)
	c.recordOutcome(l.State, wire.FetchInvX, Stall)

	return Stall
}

// handleForceInv implements the ForceInv column of spec §4.7: invalidate
// regardless of cleanliness, never forwarding data in the ack.
func (c *Controller) handleForceInv(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	if l.State == directory.I {
		c.finishInvalidation(now, l, evt, false, directory.I)
		c.recordOutcome(directory.I, wire.ForceInv, Done)

		return Done
	}

	return c.beginInvalidation(now, l, evt, false, true, invTransientFor(l.State), directory.I)
}

// invTransientFor picks the *_Inv transient state matching l's current
// stable family, per spec §4.2.
func invTransientFor(s directory.State) directory.State {
	switch s {
	case directory.S:
		return directory.SInv
	case directory.E:
		return directory.EInv
	case directory.M:
		return directory.MInv
	case directory.SM:
		return directory.SMInv
	default:
		return directory.SInv
	}
}
