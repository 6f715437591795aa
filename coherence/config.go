package coherence

import "github.com/relaycore/meshdir/wire"

// Protocol selects between full MESI and MSI semantics (spec §6).
type Protocol int

const (
	MESI Protocol = iota
	MSI
)

func (p Protocol) String() string {
	if p == MSI {
		return "MSI"
	}

	return "MESI"
}

// Config holds the enumerated configuration knobs from spec §6.
type Config struct {
	Protocol Protocol

	// LastLevel, when true, promotes an S line to M locally on GetX
	// instead of forwarding downstream (spec §4.5 "last-level" rule).
	LastLevel bool

	// ExpectWritebackAck, when true, tracks every outbound Put* until its
	// AckPut arrives.
	ExpectWritebackAck bool

	// WritebackCleanBlocks, when false, PutS/PutE writebacks omit payload.
	WritebackCleanBlocks bool

	TagLatency        wire.Latency
	MSHRLatency       wire.Latency
	AccessLatency     wire.Latency
	LineSize          uint64
	PacketHeaderBytes uint64

	// NumMSHREntries bounds how many concurrent transactions the
	// controller's MSHR table can hold.
	NumMSHREntries int

	// Capacity bounds how many lines the cache array can track.
	Capacity int
}

// DefaultConfig returns a Config with the same order-of-magnitude defaults
// the teacher's writeevict.Builder uses for its own latency/capacity knobs.
func DefaultConfig() Config {
	return Config{
		Protocol:             MESI,
		LastLevel:            false,
		ExpectWritebackAck:   true,
		WritebackCleanBlocks: true,
		TagLatency:           2,
		MSHRLatency:          1,
		AccessLatency:        20,
		LineSize:             64,
		PacketHeaderBytes:    8,
		NumMSHREntries:       16,
		Capacity:             4096,
	}
}
