// Package coherence implements the protocol engine from spec §4: the
// (state × event) transition table for a MESI directory controller. It is
// original to this module — the teacher carries no coherence protocol of
// its own — but its shape (a Builder that assembles a long-lived component
// holding narrow collaborator interfaces, one With* per knob) follows the
// teacher's writeevict.Builder/Comp pattern, and its dispatch-then-panic
// structure for unreachable (state, event) pairs follows the teacher's use
// of log.Panicf for protocol violations it cannot recover from.
package coherence

import (
	"log"

	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/link"
	"github.com/relaycore/meshdir/mshr"
	"github.com/relaycore/meshdir/stats"
	"github.com/relaycore/meshdir/wire"
)

// Controller is one instance of the directory protocol engine: the
// non-inclusive cache level described in spec §1. It owns no transport of
// its own — UpShim/DownShim carry events to upstream children and the
// downstream peer respectively — and no physical storage — Array is the
// narrow CacheArray contract from spec §1.
type Controller struct {
	name string
	id   string

	downstreamID string

	config Config

	array    directory.CacheArray
	table    mshr.MSHR
	upShim   *link.Shim
	downShim *link.Shim
	sink     stats.Sink

	// replacementWaiters holds requests that could not allocate a line
	// because the eviction of the victim found for them stalled (the victim
	// entered an eviction transition); they are retried once the victim
	// address's transaction completes. This
	// generalizes the MSHR's insertPointer(src, dst) chaining (spec §3)
	// into an explicit per-address waiter queue.
	replacementWaiters map[uint64][]*wire.Event

	// noCandidateWaiters holds misses for which FindReplacementCandidate
	// found no evictable line at all (spec §7.2's resource-pressure case,
	// e.g. every line in_transition()). These never get an MSHR entry of
	// their own — there is no victim address whose completion would retry
	// them — so they are swept on every transaction completion instead of
	// keyed to one.
	noCandidateWaiters []*wire.Event

	// invalidationTransactions tracks downstream-issued Inv/Fetch family
	// events awaiting acks from this controller's own sharers/owner,
	// keyed by base address. Kept separate from the MSHR's per-address
	// event FIFO because its completion acks the downstream peer
	// directly rather than replaying an upstream request.
	invalidationTransactions map[uint64]*pendingInvalidation

	// pendingFlushes tracks upstream-issued FlushLine/FlushLineInv events
	// awaiting the acks needed to forward them downstream.
	pendingFlushes map[uint64]*pendingFlush
}

// Name returns the controller's component name, in the teacher's
// Comp.Name() idiom.
func (c *Controller) Name() string {
	return c.name
}

// ID returns the identifier this controller uses as Src/Dst when building
// outgoing events.
func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) fatalf(format string, args ...any) {
	log.Panicf("%s: "+format, append([]any{c.name}, args...)...)
}

// mustLine fetches the tracked line for baseAddr, fataling if the caller
// expected one to already exist (replacements and invalidations both
// require this per spec §4.1.2-3).
func (c *Controller) mustLine(baseAddr uint64) *directory.Line {
	l, ok := c.array.Lookup(baseAddr)
	if !ok {
		c.fatalf("no directory line for address 0x%x", baseAddr)
	}

	return l
}

func (c *Controller) sendUp(now wire.VTime, evt *wire.Event, latency wire.Latency) {
	evt.Src = c.id
	c.upShim.Send(now, evt, latency)
}

func (c *Controller) sendDown(now wire.VTime, evt *wire.Event, latency wire.Latency) {
	evt.Src = c.id
	c.downShim.Send(now, evt, latency)
}

func (c *Controller) recordOutcome(state directory.State, cmd wire.Command, outcome Outcome) {
	if c.sink != nil {
		c.sink.Record(state.String(), cmd.String(), outcome.String())
	}
}

// retryWaiters re-dispatches every event parked behind baseAddr's
// transaction, now that it has completed, then sweeps noCandidateWaiters
// since this completion may have freed up a replacement candidate for one
// of them.
func (c *Controller) retryWaiters(now wire.VTime, baseAddr uint64) {
	waiters := c.replacementWaiters[baseAddr]
	if len(waiters) > 0 {
		delete(c.replacementWaiters, baseAddr)

		for _, evt := range waiters {
			c.Handle(now, evt)
		}
	}

	c.retryNoCandidateWaiters(now)
}

// retryNoCandidateWaiters re-dispatches every miss previously blocked with
// no evictable candidate at all. Each retry either finds a victim now (and
// proceeds or re-parks itself normally) or finds none again, in which case
// stallOnReplacement re-appends it to the fresh noCandidateWaiters slice
// for the next completion to sweep.
func (c *Controller) retryNoCandidateWaiters(now wire.VTime) {
	if len(c.noCandidateWaiters) == 0 {
		return
	}

	waiters := c.noCandidateWaiters
	c.noCandidateWaiters = nil

	for _, evt := range waiters {
		c.Handle(now, evt)
	}
}
