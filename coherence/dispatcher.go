package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

// Handle routes one incoming event through the dispatcher described in
// spec §4.1, then through the matching protocol-engine handler. now is the
// logical time this event was delivered to the controller — the "global
// mutable now" design note (spec §9) passed explicitly rather than read
// from a process-wide clock.
func (c *Controller) Handle(now wire.VTime, evt *wire.Event) Outcome {
	switch {
	case evt.Command.IsRequest():
		return c.dispatchRequest(now, evt)
	case evt.Command.IsReplacement():
		return c.dispatchReplacement(now, evt)
	case evt.Command.IsInvalidation():
		return c.dispatchInvalidation(now, evt)
	case evt.Command.IsResponse():
		return c.dispatchResponse(now, evt)
	case evt.Command.IsFlush():
		return c.dispatchFlush(now, evt)
	case evt.Command == wire.NACK:
		return c.dispatchNACK(now, evt)
	default:
		c.fatalf("unrecognized command %s", evt.Command)
		return Done
	}
}

func (c *Controller) dispatchRequest(now wire.VTime, evt *wire.Event) Outcome {
	l, ok := c.array.Lookup(evt.BaseAddr)
	if ok {
		c.array.Touch(evt.BaseAddr)

		if !evt.IsPrefetch && l.Prefetch {
			l.Prefetch = false
			c.sink.PrefetchHit(evt.BaseAddr)
		}

		if l.State.InTransition() {
			if err := c.table.EnqueueEvent(evt.BaseAddr, evt); err != nil {
				c.fatalf("request for in-transition line 0x%x has no MSHR entry: %v",
					evt.BaseAddr, err)
			}

			c.recordOutcome(l.State, evt.Command, Stall)
			return Stall
		}

		return c.dispatchStableRequest(now, l, evt)
	}

	l, allocated := c.array.Allocate(evt.BaseAddr)
	if !allocated {
		return c.stallOnReplacement(now, evt)
	}

	return c.dispatchStableRequest(now, l, evt)
}

// stallOnReplacement tries to free a slot for a new allocation by evicting
// a replacement candidate. If none is currently evictable, the request has
// no address of its own to be retried from and goes to noCandidateWaiters
// instead, swept on every transaction completion. If a candidate is found
// but its own eviction stalls, the request is parked under that victim's
// address and retried once the eviction completes.
func (c *Controller) stallOnReplacement(now wire.VTime, evt *wire.Event) Outcome {
	victim, ok := c.array.FindReplacementCandidate()
	if !ok {
		c.noCandidateWaiters = append(c.noCandidateWaiters, evt)
		return Block
	}

	outcome := c.handleEviction(now, victim, evt.Requestor, false)
	if outcome == Stall {
		c.replacementWaiters[victim.BaseAddr] = append(c.replacementWaiters[victim.BaseAddr], evt)
		return Block
	}

	l := c.array.Replace(victim, evt.BaseAddr)

	return c.dispatchStableRequest(now, l, evt)
}

func (c *Controller) dispatchStableRequest(now wire.VTime, l *directory.Line, evt *wire.Event) Outcome {
	switch evt.Command {
	case wire.GetS:
		return c.handleGetS(now, l, evt)
	case wire.GetX, wire.GetSX:
		return c.handleGetXGetSX(now, l, evt)
	default:
		c.fatalf("unreachable request command %s", evt.Command)
		return Done
	}
}

func (c *Controller) dispatchReplacement(now wire.VTime, evt *wire.Event) Outcome {
	l := c.mustLine(evt.BaseAddr)

	if l.DataLine == nil {
		l.DataLine = make([]byte, c.config.LineSize)
	}

	switch evt.Command {
	case wire.PutS:
		return c.handlePutS(now, l, evt)
	case wire.PutE, wire.PutM:
		return c.handlePutEM(now, l, evt)
	default:
		c.fatalf("unreachable replacement command %s", evt.Command)
		return Done
	}
}

func (c *Controller) dispatchInvalidation(now wire.VTime, evt *wire.Event) Outcome {
	hasEntry := c.table.Lookup(evt.BaseAddr)

	if !hasEntry {
		if c.table.IsFull() {
			return Stall
		}
	} else {
		pending, err := c.table.PendingWriteback(evt.BaseAddr)
		if err != nil {
			c.fatalf("invalidation collision check for 0x%x: %v", evt.BaseAddr, err)
		}

		if pending {
			// Inv vs pending Put race (spec §4.3): the incoming
			// invalidation counts as the AckPut. Drop both.
			if err := c.table.SetPendingWriteback(evt.BaseAddr, false); err != nil {
				c.fatalf("clearing absorbed writeback for 0x%x: %v", evt.BaseAddr, err)
			}

			l, _ := c.array.Lookup(evt.BaseAddr)
			if l != nil {
				c.recordOutcome(l.State, evt.Command, Done)
			}

			return Done
		}
	}

	l := c.mustLine(evt.BaseAddr)

	switch evt.Command {
	case wire.Inv:
		return c.handleInv(now, l, evt)
	case wire.Fetch:
		return c.handleFetch(now, l, evt)
	case wire.FetchInv:
		return c.handleFetchInv(now, l, evt)
	case wire.FetchInvX:
		return c.handleFetchInvX(now, l, evt)
	case wire.ForceInv:
		return c.handleForceInv(now, l, evt)
	default:
		c.fatalf("unreachable invalidation command %s", evt.Command)
		return Done
	}
}

func (c *Controller) dispatchResponse(now wire.VTime, evt *wire.Event) Outcome {
	l := c.mustLine(evt.BaseAddr)

	switch evt.Command {
	case wire.GetSResp, wire.GetXResp:
		return c.handleDataResp(now, l, evt)
	case wire.FetchResp, wire.FetchXResp:
		return c.handleFetchResp(now, l, evt)
	case wire.AckInv:
		return c.handleAckInv(now, l, evt)
	case wire.AckPut:
		return c.handleAckPut(now, l, evt)
	case wire.FlushLineResp:
		return c.handleFlushLineResp(now, l, evt)
	default:
		c.fatalf("unreachable response command %s", evt.Command)
		return Done
	}
}

func (c *Controller) dispatchFlush(now wire.VTime, evt *wire.Event) Outcome {
	l := c.mustLine(evt.BaseAddr)

	switch evt.Command {
	case wire.FlushLine:
		return c.handleFlushLine(now, l, evt)
	case wire.FlushLineInv:
		return c.handleFlushLineInv(now, l, evt)
	default:
		c.fatalf("unreachable flush command %s", evt.Command)
		return Done
	}
}
