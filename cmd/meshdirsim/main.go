// Command meshdirsim drives a single directory controller against a
// scripted trace, for manual inspection of the protocol engine outside a
// full discrete-event simulation.
package main

import "github.com/relaycore/meshdir/cmd/meshdirsim/cmd"

func main() {
	cmd.Execute()
}
