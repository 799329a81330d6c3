// Command scorectl runs the scoring rules offline: weight normalization, RPE
// lookup, BFR checks and full session scoring against a protocol file.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "scorectl:", err)
		os.Exit(1)
	}
}
