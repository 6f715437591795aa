package coherence_test

import (
	"github.com/relaycore/meshdir/coherence"
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/link"
	"github.com/relaycore/meshdir/mshr"
	"github.com/relaycore/meshdir/stats"
	"github.com/relaycore/meshdir/wire"
)

// fixture wires a Controller with reference collaborators the test can
// inspect directly, rather than reaching into the controller's own
// unexported fields.
type fixture struct {
	ctrl *coherence.Controller
	up   *link.InMemoryPeer
	down *link.InMemoryPeer
	array *directory.SimpleArray
	table mshr.MSHR
	sink  *stats.InMemorySink
}

func newFixture(cfg coherence.Config) *fixture {
	f := &fixture{
		up:    link.NewInMemoryPeer(),
		down:  link.NewInMemoryPeer(),
		array: directory.NewSimpleArray(cfg.Capacity),
		table: mshr.NewTable(cfg.NumMSHREntries),
		sink:  stats.NewInMemorySink(),
	}

	f.ctrl = coherence.MakeBuilder().
		WithID("L2").
		WithDownstreamID("MEM").
		WithConfig(cfg).
		WithCacheArray(f.array).
		WithMSHR(f.table).
		WithUpstreamPeer(f.up).
		WithDownstreamPeer(f.down).
		WithStatsSink(f.sink).
		Build("L2")

	return f
}

func defaultFixture() *fixture {
	return newFixture(coherence.DefaultConfig())
}

// seedLine forces a line into the given base address/state/owner/sharers
// combination without going through the dispatcher, for tests that only
// care about one transition starting from a stable line.
func (f *fixture) seedLine(baseAddr uint64, state directory.State, owner string, sharers ...string) *directory.Line {
	l, ok := f.array.Lookup(baseAddr)
	if !ok {
		l, _ = f.array.Allocate(baseAddr)
	}

	l.State = state
	l.Owner = owner

	for _, s := range sharers {
		l.AddSharer(s)
	}

	return l
}

func req(cmd wire.Command, baseAddr uint64, src string) *wire.Event {
	return wire.NewEventBuilder(cmd).WithBaseAddr(baseAddr).WithSrc(src).WithDst("L2").Build()
}

func resp(cmd wire.Command, baseAddr uint64, src string, payload []byte) *wire.Event {
	return wire.NewEventBuilder(cmd).
		WithBaseAddr(baseAddr).
		WithSrc(src).
		WithDst("L2").
		WithPayload(payload).
		Build()
}
