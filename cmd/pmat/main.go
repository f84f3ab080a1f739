// ABOUTME: Entry point for the pmat command-line tool
// ABOUTME: Dispatches to cobra subcommands and sets the process exit code

// Command pmat is the command-line front-end for the PMAT dump analyzer:
// thin subcommands that each load a dump, call one core entry point, and
// format the result.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
