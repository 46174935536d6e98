// Package main provides the regexcorpus command.
package main

import (
	"os"

	"github.com/leapstack-labs/regexcorpus/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
