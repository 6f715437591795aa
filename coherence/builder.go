package coherence

import (
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/link"
	"github.com/relaycore/meshdir/mshr"
	"github.com/relaycore/meshdir/stats"
	"github.com/relaycore/meshdir/wire"
)

// Builder assembles a Controller, following the teacher's
// writeevict.Builder fluent-With*-then-Build(name) pattern.
type Builder struct {
	id           string
	downstreamID string
	config       Config
	array        directory.CacheArray
	table        mshr.MSHR
	upPeer       link.Peer
	downPeer     link.Peer
	sink         stats.Sink
}

// MakeBuilder creates a Builder with the same order-of-magnitude defaults
// writeevict.MakeBuilder uses for its own cache.
func MakeBuilder() Builder {
	return Builder{
		config: DefaultConfig(),
	}
}

// WithID sets the identifier the controller uses as Src/Dst on events.
func (b Builder) WithID(id string) Builder {
	b.id = id
	return b
}

// WithDownstreamID sets the identifier of the downstream peer the
// controller forwards misses and writebacks to.
func (b Builder) WithDownstreamID(id string) Builder {
	b.downstreamID = id
	return b
}

// WithConfig replaces the default Config wholesale.
func (b Builder) WithConfig(cfg Config) Builder {
	b.config = cfg
	return b
}

// WithCacheArray sets the physical cache array collaborator.
func (b Builder) WithCacheArray(array directory.CacheArray) Builder {
	b.array = array
	return b
}

// WithMSHR sets the transaction table collaborator.
func (b Builder) WithMSHR(table mshr.MSHR) Builder {
	b.table = table
	return b
}

// WithUpstreamPeer sets the transport events addressed to upstream
// children are delivered through.
func (b Builder) WithUpstreamPeer(peer link.Peer) Builder {
	b.upPeer = peer
	return b
}

// WithDownstreamPeer sets the transport events addressed to the
// downstream peer are delivered through.
func (b Builder) WithDownstreamPeer(peer link.Peer) Builder {
	b.downPeer = peer
	return b
}

// WithStatsSink sets the statistics collaborator.
func (b Builder) WithStatsSink(sink stats.Sink) Builder {
	b.sink = sink
	return b
}

func (b Builder) assertAllRequiredInformationIsAvailable() {
	if b.id == "" {
		panic("coherence: controller id is not specified")
	}

	if b.upPeer == nil {
		panic("coherence: upstream peer is not specified")
	}

	if b.downPeer == nil {
		panic("coherence: downstream peer is not specified")
	}
}

// Build returns a new Controller, defaulting the cache array and MSHR to
// in-process reference implementations sized from the Config if the
// caller did not supply its own.
func (b Builder) Build(name string) *Controller {
	b.assertAllRequiredInformationIsAvailable()

	if b.array == nil {
		b.array = directory.NewSimpleArray(b.config.Capacity)
	}

	if b.table == nil {
		b.table = mshr.NewTable(b.config.NumMSHREntries)
	}

	if b.sink == nil {
		b.sink = stats.NewInMemorySink()
	}

	return &Controller{
		name:                      name,
		id:                        b.id,
		downstreamID:              b.downstreamID,
		config:                    b.config,
		array:                     b.array,
		table:                     b.table,
		upShim:                    link.NewShim(b.upPeer),
		downShim:                  link.NewShim(b.downPeer),
		sink:                      b.sink,
		replacementWaiters:        make(map[uint64][]*wire.Event),
		invalidationTransactions:  make(map[uint64]*pendingInvalidation),
		pendingFlushes:            make(map[uint64]*pendingFlush),
	}
}
