// Package directory implements the per-line coherence state store: the
// DirectoryLine data model from spec §3, the closed set of coherence states
// from spec §4.2, and the CacheArray contract (spec §1's "physical cache
// array / replacement policy" external collaborator) through which the
// controller looks up, selects a replacement candidate for, and replaces
// lines. The teacher's tag array and LRU victim finder
// (mem/cache/internal/tagging) ground the reference CacheArray
// implementation; the directory-with-sharers semantics themselves have no
// teacher analogue and are original to this package, grounded instead in
// spec §3-§4 directly.
package directory

// State is one of the ~22 per-line coherence states from spec §4.2.
type State int

const (
	// Stable states.
	I State = iota
	S
	E
	M

	// Upgrade in flight.
	IS
	IM
	SM

	// Inval-in-progress (writeback to lower level).
	SI
	EI
	MI

	// Fetch/inval from above in progress.
	SInv
	EInv
	MInv
	SMInv
	EInvX
	MInvX

	// Data-fetch-from-sharer in progress.
	SD
	ED
	MD
	SMD

	// Flush-forward in progress.
	SB
	IB
	SBInv
)

var stateNames = map[State]string{
	I: "I", S: "S", E: "E", M: "M",
	IS: "IS", IM: "IM", SM: "SM",
	SI: "SI", EI: "EI", MI: "MI",
	SInv: "S_Inv", EInv: "E_Inv", MInv: "M_Inv", SMInv: "SM_Inv",
	EInvX: "E_InvX", MInvX: "M_InvX",
	SD: "S_D", ED: "E_D", MD: "M_D", SMD: "SM_D",
	SB: "S_B", IB: "I_B", SBInv: "SB_Inv",
}

// String returns the spec's own notation for the state, used in panic
// messages and stats labels.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "UnknownState"
}

// IsStable reports whether s is one of I, S, E, M — no MSHR entry is
// required for a line in a stable state (spec §3 invariant 3).
func (s State) IsStable() bool {
	return s == I || s == S || s == E || s == M
}

// InTransition is the negation of IsStable, matching the controller's
// in_transition() check used to keep replacement candidate selection away
// from lines with a reservation already held by an in-flight request
// (spec §5).
func (s State) InTransition() bool {
	return !s.IsStable()
}

// IsModified reports whether s is M or one of its transitional derivatives
// (MI, M_Inv, M_InvX, M_D) — the line holds data dirtier than its
// downstream copy, regardless of whether it has settled back to the
// stable M state yet. Writeback and fetch-response paths use this rather
// than comparing against M directly, since they often run while the line
// is still mid-transition.
func (s State) IsModified() bool {
	switch s {
	case M, MI, MInv, MInvX, MD:
		return true
	default:
		return false
	}
}
