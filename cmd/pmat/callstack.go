// ABOUTME: Implements the callstack subcommand printing interpreter call-context frames
// ABOUTME: Formats SUB/TRY/EVAL frames with gimme, file, and line details
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prateek/pmat/object"
)

var callstackCmd = &cobra.Command{
	Use:   "callstack <dump>",
	Short: "print the interpreter's call-context stack",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallstack,
}

func init() {
	rootCmd.AddCommand(callstackCmd)
}

func runCallstack(cmd *cobra.Command, args []string) error {
	d, err := loadDump(args[0])
	if err != nil {
		return err
	}

	if len(d.Contexts) == 0 {
		fmt.Println("no call contexts recorded")
		return nil
	}
	for i, ctx := range d.Contexts {
		fmt.Printf("%d: %v (%v) at %s line %d", i, ctx.Type, ctx.Gimme, ctx.File, ctx.Line)
		switch ctx.Type {
		case object.ContextSub:
			fmt.Printf(" %s", describe(d, ctx.Code))
			if ctx.Args != 0 {
				fmt.Printf(" args %v", ctx.Args)
			}
		case object.ContextEval:
			if ctx.Source != 0 {
				fmt.Printf(" source %s", describe(d, ctx.Source))
			}
		}
		fmt.Println()
	}
	return nil
}
