// Command locmap renders a phone's location cache as an HTML map and a spreadsheet.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/locmap/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "locmap: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
