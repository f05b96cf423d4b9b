// Package main is the entry point for the syncloop CLI binary.
package main

import (
	"os"

	"syncloop/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
