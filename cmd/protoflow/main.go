// Command protoflow compiles and validates protocol specs and runs
// conformance scenarios against the dispatch engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/protoflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
