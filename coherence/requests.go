package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// parkNewTransaction opens (or reuses) an MSHR entry for addr and enqueues
// evt as its head, per the "park in MSHR" steps of spec §4.5.
func (c *Controller) parkNewTransaction(addr uint64, evt *wire.Event) {
	if !c.table.Lookup(addr) {
		if err := c.table.AddEntry(addr); err != nil {
			c.fatalf("parking transaction for 0x%x: %v", addr, err)
		}
	}

	if err := c.table.EnqueueEvent(addr, evt); err != nil {
		c.fatalf("enqueuing head event for 0x%x: %v", addr, err)
	}
}

// respondUpstream delivers a response to evt's requestor unless evt was a
// self-issued prefetch, in which case it only records the prefetch-hit
// metric (spec §4.5's prefetch-origin rule).
func (c *Controller) respondUpstream(now wire.VTime, evt *wire.Event, resp *wire.Event, latency wire.Latency) {
	if evt.IsPrefetch {
		c.sink.PrefetchHit(evt.BaseAddr)
		return
	}

	c.sendUp(now, resp, latency)
}

// handleGetS implements the GetS column of spec §4.5.
func (c *Controller) handleGetS(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	switch l.State {
	case directory.I:
		fwd := wire.NewEventBuilder(wire.GetS).
			WithBaseAddr(l.BaseAddr).
			WithDst(c.downstreamID).
			WithRequestor(evt.Src).
			WithPrefetch(evt.IsPrefetch).
			Build()
		c.sendDown(now, fwd, c.config.AccessLatency)

		l.State = directory.IS
		c.parkNewTransaction(l.BaseAddr, evt)
		c.recordOutcome(directory.I, wire.GetS, Stall)

		return Stall

	case directory.S:
		if data := c.lineData(l); data != nil {
			resp := wire.NewEventBuilder(wire.GetSResp).
				WithBaseAddr(l.BaseAddr).
				WithDst(evt.Src).
				WithPayload(data).
				Build()
			c.respondUpstream(now, evt, resp, c.config.AccessLatency)
			l.AddSharer(evt.Src)
			c.recordOutcome(directory.S, wire.GetS, Done)

			return Done
		}

		if !l.HasSharers() {
			c.fatalf("line 0x%x is S with no data and no sharer to fetch it from", l.BaseAddr)
		}

		return c.fetchFromSharerForGetS(now, l, evt, directory.SD)

	case directory.E, directory.M:
		return c.handleGetSOnExclusive(now, l, evt)

	default:
		c.fatalf("GetS received while line 0x%x is in state %s", l.BaseAddr, l.State)
		return Done
	}
}

func (c *Controller) fetchFromSharerForGetS(
	now wire.VTime,
	l *directory.Line,
	evt *wire.Event,
	nextState directory.State,
) Outcome {
	sharer := l.SharerIDs()[0]

	fetch := wire.NewEventBuilder(wire.Fetch).
		WithBaseAddr(l.BaseAddr).
		WithDst(sharer).
		Build()
	c.sendUp(now, fetch, c.config.TagLatency)

	c.beginEvictionTransaction(l.BaseAddr, 1)
	c.parkNewTransaction(l.BaseAddr, evt)
	l.State = nextState
	c.recordOutcome(l.State, wire.GetS, Stall)

	return Stall
}

func (c *Controller) handleGetSOnExclusive(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	if l.HasOwner() {
		fetch := wire.NewEventBuilder(wire.FetchInvX).
			WithBaseAddr(l.BaseAddr).
			WithDst(l.Owner).
			Build()
		c.sendUp(now, fetch, c.config.TagLatency)

		if l.State == directory.E {
			l.State = directory.EInvX
		} else {
			l.State = directory.MInvX
		}

		c.beginEvictionTransaction(l.BaseAddr, 1)
		c.parkNewTransaction(l.BaseAddr, evt)
		c.recordOutcome(l.State, wire.GetS, Stall)

		return Stall
	}

	data := c.lineData(l)

	if data == nil {
		if !l.HasSharers() {
			c.fatalf("line 0x%x is %s with no owner, no sharers, and no data", l.BaseAddr, l.State)
		}

		next := directory.ED
		if l.State == directory.M {
			next = directory.MD
		}

		return c.fetchFromSharerForGetS(now, l, evt, next)
	}

	if !l.HasSharers() && c.config.Protocol == MESI {
		resp := wire.NewEventBuilder(wire.GetXResp).
			WithBaseAddr(l.BaseAddr).
			WithDst(evt.Src).
			WithPayload(data).
			WithDirty(l.State == directory.M).
			Build()
		c.respondUpstream(now, evt, resp, c.config.AccessLatency)
		l.SetOwner(evt.Src)
		c.recordOutcome(l.State, wire.GetS, Done)

		return Done
	}

	resp := wire.NewEventBuilder(wire.GetSResp).
		WithBaseAddr(l.BaseAddr).
		WithDst(evt.Src).
		WithPayload(data).
		Build()
	c.respondUpstream(now, evt, resp, c.config.AccessLatency)
	l.AddSharer(evt.Src)
	c.recordOutcome(l.State, wire.GetS, Done)

	return Done
}

// handleGetXGetSX implements the GetX/GetSX column of spec §4.5.
func (c *Controller) handleGetXGetSX(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	switch l.State {
	case directory.I:
		fwd := wire.NewEventBuilder(evt.Command).
			WithBaseAddr(l.BaseAddr).
			WithDst(c.downstreamID).
			WithRequestor(evt.Src).
			WithPayload(evt.Payload).
			WithPrefetch(evt.IsPrefetch).
			Build()
		c.sendDown(now, fwd, c.config.AccessLatency)

		l.State = directory.IM
		c.parkNewTransaction(l.BaseAddr, evt)
		c.recordOutcome(directory.I, evt.Command, Stall)

		return Stall

	case directory.S:
		return c.handleUpgradeFromShared(now, l, evt)

	case directory.E:
		l.State = directory.M
		return c.handleGetXGetSXOnModified(now, l, evt)

	case directory.M:
		return c.handleGetXGetSXOnModified(now, l, evt)

	case directory.SM:
		// Request arrived too early: still waiting on its own upgrade.
		c.parkNewTransaction(l.BaseAddr, evt)
		c.recordOutcome(directory.SM, evt.Command, Stall)

		return Stall

	default:
		c.fatalf("%s received while line 0x%x is in state %s", evt.Command, l.BaseAddr, l.State)
		return Done
	}
}

func (c *Controller) handleUpgradeFromShared(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	others := 0
	for _, id := range l.SharerIDs() {
		if id == evt.Src {
			continue
		}

		inv := wire.NewEventBuilder(wire.Inv).
			WithBaseAddr(l.BaseAddr).
			WithDst(id).
			Build()
		c.sendUp(now, inv, c.config.TagLatency)
		others++
	}

	if c.config.LastLevel {
		// Promoted locally; no downstream forward ever happens for this
		// transaction, so with no other sharer to wait on there is nothing
		// to park for — grant ownership immediately.
		if others == 0 {
			return c.promoteSharedToModified(now, l, evt)
		}

		c.parkNewTransaction(l.BaseAddr, evt)
		c.beginEvictionTransaction(l.BaseAddr, others)
		l.State = directory.SMInv
		c.recordOutcome(directory.S, evt.Command, Stall)

		return Stall
	}

	c.parkNewTransaction(l.BaseAddr, evt)

	fwd := wire.NewEventBuilder(evt.Command).
		WithBaseAddr(l.BaseAddr).
		WithDst(c.downstreamID).
		WithRequestor(evt.Src).
		Build()
	c.sendDown(now, fwd, c.config.AccessLatency)

	if others > 0 {
		c.beginEvictionTransaction(l.BaseAddr, others)
		l.State = directory.SMInv
	} else {
		l.State = directory.SM
	}

	c.recordOutcome(directory.S, evt.Command, Stall)

	return Stall
}

// promoteSharedToModified grants evt's requestor ownership of an S line
// directly, with no downstream round trip: spec.md §4.5's last-level
// promotion, for the case where there was no other sharer to invalidate
// first. Mirrors handleGetXGetSXOnModified's own response-building, since
// this is the same "no sharers left, no owner, grant M" completion, just
// reached without ever going through the acks_needed countdown.
func (c *Controller) promoteSharedToModified(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	resp := wire.NewEventBuilder(wire.GetXResp).
		WithBaseAddr(l.BaseAddr).
		WithDst(evt.Src).
		WithPayload(c.lineData(l)).
		WithDirty(true).
		Build()
	c.respondUpstream(now, evt, resp, c.config.AccessLatency)
	l.RemoveSharer(evt.Src)
	l.SetOwner(evt.Src)
	l.State = directory.M
	c.recordOutcome(directory.S, evt.Command, Done)

	return Done
}

func (c *Controller) handleGetXGetSXOnModified(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	acks := 0

	for _, id := range l.SharerIDs() {
		if id == evt.Src {
			continue
		}

		inv := wire.NewEventBuilder(wire.Inv).
			WithBaseAddr(l.BaseAddr).
			WithDst(id).
			Build()
		c.sendUp(now, inv, c.config.TagLatency)
		acks++
	}

	if l.HasOwner() && l.Owner != evt.Src {
		fetch := wire.NewEventBuilder(wire.FetchInv).
			WithBaseAddr(l.BaseAddr).
			WithDst(l.Owner).
			Build()
		c.sendUp(now, fetch, c.config.TagLatency)
		acks++
	}

	if acks > 0 {
		c.beginEvictionTransaction(l.BaseAddr, acks)
		c.parkNewTransaction(l.BaseAddr, evt)
		l.State = directory.MInv
		c.recordOutcome(directory.M, evt.Command, Stall)

		return Stall
	}

	resp := wire.NewEventBuilder(wire.GetXResp).
		WithBaseAddr(l.BaseAddr).
		WithDst(evt.Src).
		WithPayload(c.lineData(l)).
		WithDirty(true).
		Build()
	c.respondUpstream(now, evt, resp, c.config.AccessLatency)
	l.RemoveSharer(evt.Src)
	l.SetOwner(evt.Src)
	c.recordOutcome(directory.M, evt.Command, Done)

	return Done
}
