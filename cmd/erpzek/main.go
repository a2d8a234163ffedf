// Package main is the entry point of the ERP ZEK CLI.
package main

import (
	"fmt"
	"os"

	"github.com/tarsbilisim/erpzek/cmd/erpzek/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Hata: %v\n", err)
		os.Exit(1)
	}
}
