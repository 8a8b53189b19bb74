// Package main provides the entry point for the codeplane CLI.
package main

import (
	"os"

	"github.com/codeplane/codeplane/cmd/codeplane/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
