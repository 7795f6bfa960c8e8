// Command hypertube runs the P2P video acquisition and progressive
// streaming engine as a single process: HTTP API, download/conversion
// queue workers, and the cache sweeper all share one address space.
// Grounded on tracker/main.go's split between a thin main and a cmd
// package carrying the cobra command and wiring.
package main

import "github.com/angelasoler/hypertube/cmd/hypertube/cmd"

func main() {
	cmd.Execute()
}
