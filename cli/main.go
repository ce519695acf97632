package main

import (
	"os"

	"github.com/relic-hub/relic/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
