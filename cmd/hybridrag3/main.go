// Package main provides the entry point for the hybridrag3 administrative CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/hybridrag3/cmd/hybridrag3/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
