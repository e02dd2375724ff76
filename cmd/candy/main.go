// Command candy mints and delivers NFTs for a candy machine drop.
package main

import (
	"fmt"
	"os"

	"github.com/trungdo2789/mpl-candy/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
