package wire

// Command is the closed set of message types the directory controller can
// send or receive. Requests, replacements and flushes arrive from upstream
// children, as do the acks and fetch responses answering this controller's
// own invalidations; invalidations, fetches and data responses arrive from
// the downstream peer; NACKs come from the interconnect.
type Command int

// Requests, issued by an upstream child on a miss.
const (
	GetS Command = iota
	GetX
	GetSX
)

// Replacements, issued by an upstream child evicting a line it holds.
const (
	PutS Command = iota + 100
	PutE
	PutM
)

// Invalidations, issued downstream-to-upstream (by this controller to a
// child) or, when this controller is itself the child of some larger
// system, by the downstream peer to this controller.
const (
	Inv Command = iota + 200
	Fetch
	FetchInv
	FetchInvX
	ForceInv
)

// Responses.
const (
	GetSResp Command = iota + 300
	GetXResp
	FlushLineResp
	FetchResp
	FetchXResp
	AckInv
	AckPut
)

// Flushes, issued by an upstream child.
const (
	FlushLine Command = iota + 400
	FlushLineInv
)

// NACK is a negative acknowledgment from the interconnect. It is not a
// coherence command in its own right; it wraps the event that failed to
// deliver.
const NACK Command = 500

var commandNames = map[Command]string{
	GetS: "GetS", GetX: "GetX", GetSX: "GetSX",
	PutS: "PutS", PutE: "PutE", PutM: "PutM",
	Inv: "Inv", Fetch: "Fetch", FetchInv: "FetchInv",
	FetchInvX: "FetchInvX", ForceInv: "ForceInv",
	GetSResp: "GetSResp", GetXResp: "GetXResp",
	FlushLineResp: "FlushLineResp", FetchResp: "FetchResp",
	FetchXResp: "FetchXResp", AckInv: "AckInv", AckPut: "AckPut",
	FlushLine: "FlushLine", FlushLineInv: "FlushLineInv",
	NACK: "NACK",
}

// String returns the command's name, used in panics and stats labels.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return "UnknownCommand"
}

// IsRequest reports whether c is one of GetS/GetX/GetSX.
func (c Command) IsRequest() bool {
	return c == GetS || c == GetX || c == GetSX
}

// IsReplacement reports whether c is one of PutS/PutE/PutM.
func (c Command) IsReplacement() bool {
	return c == PutS || c == PutE || c == PutM
}

// IsInvalidation reports whether c is one of the downstream-issued
// invalidation/fetch commands.
func (c Command) IsInvalidation() bool {
	switch c {
	case Inv, Fetch, FetchInv, FetchInvX, ForceInv:
		return true
	default:
		return false
	}
}

// IsResponse reports whether c is one of the response commands.
func (c Command) IsResponse() bool {
	switch c {
	case GetSResp, GetXResp, FlushLineResp, FetchResp, FetchXResp, AckInv, AckPut:
		return true
	default:
		return false
	}
}

// IsFlush reports whether c is FlushLine or FlushLineInv.
func (c Command) IsFlush() bool {
	return c == FlushLine || c == FlushLineInv
}
