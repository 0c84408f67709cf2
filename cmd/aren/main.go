// Command aren runs the bilingual assistant: as a server (HTTP and Matrix),
// as an interactive chat in the terminal, or as offline tooling for the
// trigger table (classify, replay).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
