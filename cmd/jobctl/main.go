// Command jobctl submits and inspects enhancement jobs from a terminal.
package main

import (
	"os"

	"storefront/worker/cmd/jobctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
