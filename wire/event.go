package wire

import "github.com/rs/xid"

// NewEventID generates a unique event ID, the same way the teacher's
// parallel sim.IDGenerator does: a random, globally-sortable xid.
func NewEventID() string {
	return xid.New().String()
}

// Event is the single envelope used for every command in Command. Unlike a
// typical Akita memory message (which gets one Go type per command because
// the field sets genuinely differ), every coherence command here shares the
// same field set described in spec §6, so one struct with a Command tag is
// the more direct representation.
type Event struct {
	ID string

	Command Command

	// BaseAddr is the block-aligned address identifying the directory line.
	// FullAddr is the address the original access targeted (may differ from
	// BaseAddr by the intra-line offset).
	BaseAddr uint64
	FullAddr uint64

	Src       string // the id of whoever sent this event
	Dst       string // the id this event is addressed to
	Requestor string // the id that should ultimately receive a response

	Size uint64

	Payload []byte
	Dirty   bool
	Success bool

	// NACKedEvent is set only on a Command == NACK event: it is the event
	// the interconnect refused to deliver.
	NACKedEvent *Event

	MemFlags uint32

	// IsPrefetch marks an event the controller generated on its own behalf
	// (not in response to an upstream demand access); spec §4.5 and §4.8.
	IsPrefetch bool

	// SendTime is filled in by link.Shim right before the event is hand
	// off to the interconnect; it is the logical time the event is
	// scheduled to be delivered, not the time it was created.
	SendTime VTime
}

// EventBuilder builds Event values with a fluent With* chain, the same
// pattern the teacher uses for ReadReqBuilder/WriteReqBuilder.
type EventBuilder struct {
	e Event
}

// NewEventBuilder starts building an event of the given command.
func NewEventBuilder(cmd Command) EventBuilder {
	return EventBuilder{e: Event{Command: cmd}}
}

func (b EventBuilder) WithBaseAddr(a uint64) EventBuilder {
	b.e.BaseAddr = a
	return b
}

func (b EventBuilder) WithFullAddr(a uint64) EventBuilder {
	b.e.FullAddr = a
	return b
}

func (b EventBuilder) WithSrc(src string) EventBuilder {
	b.e.Src = src
	return b
}

func (b EventBuilder) WithDst(dst string) EventBuilder {
	b.e.Dst = dst
	return b
}

func (b EventBuilder) WithRequestor(r string) EventBuilder {
	b.e.Requestor = r
	return b
}

func (b EventBuilder) WithSize(n uint64) EventBuilder {
	b.e.Size = n
	return b
}

func (b EventBuilder) WithPayload(p []byte) EventBuilder {
	b.e.Payload = p
	return b
}

func (b EventBuilder) WithDirty(dirty bool) EventBuilder {
	b.e.Dirty = dirty
	return b
}

func (b EventBuilder) WithSuccess(success bool) EventBuilder {
	b.e.Success = success
	return b
}

func (b EventBuilder) WithNACKedEvent(evt *Event) EventBuilder {
	b.e.NACKedEvent = evt
	return b
}

func (b EventBuilder) WithMemFlags(flags uint32) EventBuilder {
	b.e.MemFlags = flags
	return b
}

func (b EventBuilder) WithPrefetch(isPrefetch bool) EventBuilder {
	b.e.IsPrefetch = isPrefetch
	return b
}

// Build finalizes the event, stamping it with a fresh ID.
func (b EventBuilder) Build() *Event {
	e := b.e
	e.ID = NewEventID()

	return &e
}
