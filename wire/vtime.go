// Package wire defines the on-the-wire message format exchanged between the
// directory controller and its upstream children / downstream peer: the
// closed command set from spec §6 and the single Event envelope that carries
// every field a command might need.
package wire

// VTime is a point in the logical simulated clock. The controller never
// reads a process-wide clock: every handler takes the current VTime as an
// explicit argument, and link.Shim remembers, per base address, the VTime of
// the most recently scheduled outgoing message.
type VTime float64

// Latency is a duration expressed in the same unit as VTime.
type Latency float64
