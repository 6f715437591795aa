package coherence

// Outcome is the dispatcher's return code for one Handle call, spec §4.1.
type Outcome int

const (
	// Done means the event was fully consumed; if it was parked at the
	// head of the MSHR, that entry may now be popped.
	Done Outcome = iota
	// Stall means the event was parked at the MSHR head for its address
	// and should be retried once something about that address's state
	// changes.
	Stall
	// Block means the event was parked, but must not be retried until the
	// current MSHR head for its address completes.
	Block
	// Ignore means the event was consumed without affecting the MSHR head
	// (e.g. an absorbed race).
	Ignore
)

var outcomeNames = map[Outcome]string{
	Done:   "Done",
	Stall:  "Stall",
	Block:  "Block",
	Ignore: "Ignore",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}

	return "UnknownOutcome"
}
