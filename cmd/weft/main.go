package main

import (
	"fmt"
	"os"

	"github.com/weft-labs/weft/internal/cli"
)

func main() {
	// Commands silence cobra's own error printing and format their own
	// diagnostics; anything still propagating gets one line here.
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
