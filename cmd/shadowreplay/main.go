// Command shadowreplay records live-streaming rooms to a local archive and
// serves them for playback and clipping.
package main

import (
	"fmt"
	"os"

	"github.com/Xinrea/shadowreplay/cmd/shadowreplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
