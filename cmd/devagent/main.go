// Command devagent runs the MCU-side Application Device Manager client:
// a long-lived JSON-over-TCP session, RPC dispatch, and a FOTA update state
// machine.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
