package directory

import (
	"fmt"
	"sort"

	"github.com/relaycore/meshdir/wire"
)

// Line is one tracked block: the DirectoryLine from spec §3. Its lifecycle
// is bounded by the cache array that owns it — CacheArray.Replace drops one
// Line and hands its slot to a fresh Line for the new BaseAddr.
type Line struct {
	BaseAddr uint64
	State    State

	// Sharers holds the ids of upstream children holding the block in S (or
	// transiently, in a state that will resolve to S or I).
	Sharers map[string]bool

	// Owner is the id of the child holding the block in E/M. Invariant 1:
	// Owner != "" implies len(Sharers) == 0.
	Owner string

	// DataLine is the back-reference to a local data slot; nil means the
	// block is uncached locally and its data lives at a sharer/owner or in
	// the MSHR's per-address data buffer (invariant 5).
	DataLine []byte

	// Prefetch is true if the block was brought in by a prefetch and has
	// not yet been touched by a demand access.
	Prefetch bool

	// Timestamp is a slot for the logical time at which the most recently
	// scheduled outgoing message for this line is due. The controller does
	// not write it: per-address send ordering is kept by link.Shim, which
	// records the last delivery time for each base address itself.
	Timestamp wire.VTime
}

// NewLine creates a fresh, invalid line for baseAddr.
func NewLine(baseAddr uint64) *Line {
	return &Line{
		BaseAddr: baseAddr,
		State:    I,
		Sharers:  make(map[string]bool),
	}
}

// HasSharers reports whether the line has at least one sharer.
func (l *Line) HasSharers() bool {
	return len(l.Sharers) > 0
}

// HasOwner reports whether the line has an owner.
func (l *Line) HasOwner() bool {
	return l.Owner != ""
}

// IsUncached reports whether the line has no local data slot (invariant 5:
// only legal when the line also has a sharer or an owner, or is I).
func (l *Line) IsUncached() bool {
	return l.DataLine == nil
}

// AddSharer records id as holding the block in S.
func (l *Line) AddSharer(id string) {
	if l.Sharers == nil {
		l.Sharers = make(map[string]bool)
	}

	l.Sharers[id] = true
}

// RemoveSharer drops id from the sharer set, if present.
func (l *Line) RemoveSharer(id string) {
	delete(l.Sharers, id)
}

// SharerIDs returns the sharer ids in deterministic (sorted) order, so that
// "invalidate one, Inv the rest" picks a stable first sharer across runs.
func (l *Line) SharerIDs() []string {
	ids := make([]string, 0, len(l.Sharers))
	for id := range l.Sharers {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// SetOwner installs owner as the exclusive holder and clears the sharer
// set, maintaining invariant 1.
func (l *Line) SetOwner(owner string) {
	l.Owner = owner
	l.Sharers = make(map[string]bool)
}

// ClearOwner removes ownership without touching the sharer set.
func (l *Line) ClearOwner() {
	l.Owner = ""
}

// Invalidate resets the line back to I: no owner, no sharers, data slot
// untouched (the slot is about to be reclaimed by the cache array per
// invariant 2).
func (l *Line) Invalidate() {
	l.State = I
	l.Owner = ""
	l.Sharers = make(map[string]bool)
	l.Prefetch = false
}

// CheckInvariants validates invariants 1, 2, 3 and 5 from spec §3 against an
// mshrNonEmpty callback (since invariant 3 needs MSHR knowledge the line
// itself doesn't have). Invariant 4, the acks_needed count, is not checked
// here. It is used by tests, not by the hot path.
func (l *Line) CheckInvariants(mshrNonEmpty func(addr uint64) bool) error {
	if l.HasOwner() && l.HasSharers() {
		return fmt.Errorf("line 0x%x: owner %q present with non-empty sharers %v",
			l.BaseAddr, l.Owner, l.SharerIDs())
	}

	if l.State == I && (l.HasOwner() || l.HasSharers()) {
		return fmt.Errorf("line 0x%x: state I but owner=%q sharers=%v",
			l.BaseAddr, l.Owner, l.SharerIDs())
	}

	if l.State.InTransition() && !mshrNonEmpty(l.BaseAddr) {
		return fmt.Errorf("line 0x%x: state %s is transitional but MSHR has no entry",
			l.BaseAddr, l.State)
	}

	if l.IsUncached() && (l.State == S || l.State == E || l.State == M) {
		if !l.HasSharers() && !l.HasOwner() {
			return fmt.Errorf("line 0x%x: state %s uncached locally with no sharer or owner",
				l.BaseAddr, l.State)
		}
	}

	return nil
}
