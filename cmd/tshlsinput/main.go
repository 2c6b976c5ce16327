// Command tshlsinput is a standalone HLS input producer: given a playlist
// URL it selects a variant, streams its segments as fixed-size packets, and
// writes them to stdout as a raw transport stream. It exercises the same
// internal/hlsinput package tsswitch's "hls:" input plugin uses, without a
// switch engine around it.
package main

import (
	"os"

	"github.com/mediaswitch/tsswitch/cmd/tshlsinput/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
