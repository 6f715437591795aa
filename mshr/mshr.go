// Package mshr tracks in-flight transactions, one per block address
// currently out of a stable state: the MSHR entry described in spec §3
// (a FIFO of stalled events, an acks_needed counter, a pending-writeback
// flag and a data buffer), generalized from the teacher's address+PID
// keyed MSHR (mem/cache/internal/mshr) to the address-only keying this
// directory uses.
package mshr

import (
	"fmt"

	"github.com/relaycore/meshdir/wire"
)

// MSHR is the narrow contract the controller uses to track outstanding
// transactions. A host simulator could supply its own (e.g. backed by a
// shared pool across several directory instances); Table below is the
// reference implementation.
type MSHR interface {
	Lookup(baseAddr uint64) bool
	AddEntry(baseAddr uint64) error
	RemoveEntry(baseAddr uint64) error

	// EnqueueEvent appends evt to baseAddr's stalled-event FIFO.
	EnqueueEvent(baseAddr uint64, evt *wire.Event) error
	// FrontEvent returns, without removing, the oldest stalled event.
	FrontEvent(baseAddr uint64) (*wire.Event, error)
	// PopFrontEvent removes and returns the oldest stalled event.
	PopFrontEvent(baseAddr uint64) (*wire.Event, error)

	// AcksNeeded and SetAcksNeeded manage the outstanding-invalidation
	// countdown used while collecting AckInv/FetchResp/FetchXResp replies
	// (and Puts that race them).
	AcksNeeded(baseAddr uint64) (int, error)
	SetAcksNeeded(baseAddr uint64, n int) error
	DecrementAcks(baseAddr uint64) (int, error)

	// PendingWriteback and SetPendingWriteback track whether a writeback
	// already sent to the downstream peer for this address still awaits its
	// AckPut.
	PendingWriteback(baseAddr uint64) (bool, error)
	SetPendingWriteback(baseAddr uint64, pending bool) error

	// DataBuffer and SetDataBuffer hold a line's data while it has no
	// home in the cache array (spec §3 invariant 5).
	DataBuffer(baseAddr uint64) ([]byte, error)
	SetDataBuffer(baseAddr uint64, data []byte) error

	IsFull() bool
	Reset()
}

// NewTable creates an MSHR with room for capacity concurrent transactions.
func NewTable(capacity int) MSHR {
	return &table{
		capacity: capacity,
		entries:  make(map[uint64]*entry),
	}
}

type entry struct {
	baseAddr         uint64
	queue            []*wire.Event
	acksNeeded       int
	pendingWriteback bool
	data             []byte
}

type table struct {
	capacity int
	entries  map[uint64]*entry
}

func (t *table) Lookup(baseAddr uint64) bool {
	_, ok := t.entries[baseAddr]
	return ok
}

func (t *table) AddEntry(baseAddr uint64) error {
	if t.Lookup(baseAddr) {
		return fmt.Errorf("mshr: address 0x%x already has an entry", baseAddr)
	}

	if t.IsFull() {
		return fmt.Errorf("mshr: table is full")
	}

	t.entries[baseAddr] = &entry{baseAddr: baseAddr}

	return nil
}

func (t *table) RemoveEntry(baseAddr uint64) error {
	e, ok := t.entries[baseAddr]
	if !ok {
		return fmt.Errorf("mshr: no entry for address 0x%x", baseAddr)
	}

	if len(e.queue) != 0 {
		return fmt.Errorf("mshr: removing entry for 0x%x with %d stalled events still queued",
			baseAddr, len(e.queue))
	}

	delete(t.entries, baseAddr)

	return nil
}

func (t *table) get(baseAddr uint64) (*entry, error) {
	e, ok := t.entries[baseAddr]
	if !ok {
		return nil, fmt.Errorf("mshr: no entry for address 0x%x", baseAddr)
	}

	return e, nil
}

func (t *table) EnqueueEvent(baseAddr uint64, evt *wire.Event) error {
	e, err := t.get(baseAddr)
	if err != nil {
		return err
	}

	e.queue = append(e.queue, evt)

	return nil
}

func (t *table) FrontEvent(baseAddr uint64) (*wire.Event, error) {
	e, err := t.get(baseAddr)
	if err != nil {
		return nil, err
	}

	if len(e.queue) == 0 {
		return nil, fmt.Errorf("mshr: no stalled event queued for address 0x%x", baseAddr)
	}

	return e.queue[0], nil
}

func (t *table) PopFrontEvent(baseAddr uint64) (*wire.Event, error) {
	e, err := t.get(baseAddr)
	if err != nil {
		return nil, err
	}

	if len(e.queue) == 0 {
		return nil, fmt.Errorf("mshr: no stalled event queued for address 0x%x", baseAddr)
	}

	front := e.queue[0]
	e.queue = e.queue[1:]

	return front, nil
}

func (t *table) AcksNeeded(baseAddr uint64) (int, error) {
	e, err := t.get(baseAddr)
	if err != nil {
		return 0, err
	}

	return e.acksNeeded, nil
}

func (t *table) SetAcksNeeded(baseAddr uint64, n int) error {
	e, err := t.get(baseAddr)
	if err != nil {
		return err
	}

	e.acksNeeded = n

	return nil
}

func (t *table) DecrementAcks(baseAddr uint64) (int, error) {
	e, err := t.get(baseAddr)
	if err != nil {
		return 0, err
	}

	if e.acksNeeded <= 0 {
		return 0, fmt.Errorf("mshr: acks_needed for 0x%x already at 0", baseAddr)
	}

	e.acksNeeded--

	return e.acksNeeded, nil
}

func (t *table) PendingWriteback(baseAddr uint64) (bool, error) {
	e, err := t.get(baseAddr)
	if err != nil {
		return false, err
	}

	return e.pendingWriteback, nil
}

func (t *table) SetPendingWriteback(baseAddr uint64, pending bool) error {
	e, err := t.get(baseAddr)
	if err != nil {
		return err
	}

	e.pendingWriteback = pending

	return nil
}

func (t *table) DataBuffer(baseAddr uint64) ([]byte, error) {
	e, err := t.get(baseAddr)
	if err != nil {
		return nil, err
	}

	return e.data, nil
}

func (t *table) SetDataBuffer(baseAddr uint64, data []byte) error {
	e, err := t.get(baseAddr)
	if err != nil {
		return err
	}

	e.data = data

	return nil
}

func (t *table) IsFull() bool {
	return len(t.entries) >= t.capacity
}

func (t *table) Reset() {
	t.entries = make(map[uint64]*entry)
}
