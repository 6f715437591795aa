package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// pendingFlush tracks an upstream-issued FlushLine/FlushLineInv while this
// controller collects the acks it needs (downgrading another child's
// ownership, invalidating remaining sharers) before it can forward the
// flush downstream, per spec §4.9.
type pendingFlush struct {
	evt        *wire.Event
	invalidate bool
}

// handleFlushLine implements the FlushLine half of spec §4.9: preserve
// data, downgrade-but-don't-invalidate any other owner.
func (c *Controller) handleFlushLine(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	return c.handleFlush(now, l, evt, false)
}

// handleFlushLineInv implements the FlushLineInv half of spec §4.9:
// invalidate the whole line once clean.
func (c *Controller) handleFlushLineInv(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	return c.handleFlush(now, l, evt, true)
}

func (c *Controller) handleFlush(now wire.VTime, l *directory.Line, evt *wire.Event, invalidate bool) Outcome {
	baseAddr := l.BaseAddr
	originator := evt.Src
	acks := 0

	switch {
	case l.Owner == originator:
		l.ClearOwner()
		l.AddSharer(originator)
		c.storePayload(l, evt.Payload)

		if evt.Dirty {
			l.State = promoteToModified(l.State)
		}

	case l.HasOwner():
		cmd := wire.FetchInvX
		if invalidate {
			cmd = wire.FetchInv
		}

		fetch := wire.NewEventBuilder(cmd).
			WithBaseAddr(baseAddr).
			WithDst(l.Owner).
			Build()
		c.sendUp(now, fetch, c.config.TagLatency)
		acks++
	}

	if invalidate {
		for _, id := range l.SharerIDs() {
			if id == originator {
				continue
			}

			inv := wire.NewEventBuilder(wire.Inv).
				WithBaseAddr(baseAddr).
				WithDst(id).
				Build()
			c.sendUp(now, inv, c.config.TagLatency)
			acks++
		}
	}

	if acks > 0 {
		c.beginEvictionTransaction(baseAddr, acks)

		if c.pendingFlushes == nil {
			c.pendingFlushes = make(map[uint64]*pendingFlush)
		}

		c.pendingFlushes[baseAddr] = &pendingFlush{evt: evt, invalidate: invalidate}
		l.State = directory.SBInv
		c.recordOutcome(directory.SBInv, evt.Command, Stall)

		return Stall
	}

	return c.forwardFlush(now, l, evt, invalidate)
}

// finishFlushInvalidation is reached from onAcksExhausted once every ack a
// pending flush was waiting on has arrived.
func (c *Controller) finishFlushInvalidation(now wire.VTime, l *directory.Line) Outcome {
	baseAddr := l.BaseAddr

	pend, ok := c.pendingFlushes[baseAddr]
	if !ok {
		c.fatalf("flush acks exhausted for 0x%x with no pending flush recorded", baseAddr)
	}

	delete(c.pendingFlushes, baseAddr)

	return c.forwardFlush(now, l, pend.evt, pend.invalidate)
}

// forwardFlush sends the now-clean flush downstream and parks the line
// awaiting FlushLineResp.
func (c *Controller) forwardFlush(now wire.VTime, l *directory.Line, evt *wire.Event, invalidate bool) Outcome {
	baseAddr := l.BaseAddr

	cmd := wire.FlushLine
	if invalidate {
		cmd = wire.FlushLineInv
	}

	fwd := wire.NewEventBuilder(cmd).
		WithBaseAddr(baseAddr).
		WithDst(c.downstreamID).
		WithRequestor(evt.Src).
		WithPayload(c.lineData(l)).
		WithDirty(l.State.IsModified()).
		Build()
	c.sendDown(now, fwd, c.config.AccessLatency)

	if invalidate {
		l.State = directory.IB
	} else {
		l.State = directory.SB
	}

	if !c.table.Lookup(baseAddr) {
		if err := c.table.AddEntry(baseAddr); err != nil {
			c.fatalf("tracking flush completion for 0x%x: %v", baseAddr, err)
		}
	}

	c.recordOutcome(l.State, cmd, Stall)

	return Stall
}
