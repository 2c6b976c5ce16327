// Command tsswitch runs the input-switching relay: it reads fixed-size
// packets from one of several configured inputs at a time and forwards
// them to a single output, switching between inputs on demand, on
// receive timeout, or on primary-input pre-emption.
package main

import (
	"os"

	"github.com/mediaswitch/tsswitch/cmd/tsswitch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
