// ABOUTME: Implements the symbols subcommand resolving sigil-prefixed names
// ABOUTME: Prints the bound object's identity and scalar body details
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prateek/pmat/symbols"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols <dump> <name>",
	Short: "resolve a sigil-prefixed symbol name to its object",
	Args:  cobra.ExactArgs(2),
	RunE:  runSymbols,
}

func init() {
	rootCmd.AddCommand(symbolsCmd)
}

func runSymbols(cmd *cobra.Command, args []string) error {
	d, err := loadDump(args[0])
	if err != nil {
		return err
	}

	addr, err := symbols.ResolveSymbol(d, args[1])
	if err != nil {
		return err
	}

	fmt.Printf("%s is %s\n", args[1], describe(d, addr))

	o, ok := d.Get(addr)
	if !ok {
		return nil
	}
	if o.Scalar != nil {
		s := o.Scalar
		if s.HasIV {
			fmt.Printf("  IV: %d\n", s.IV)
		}
		if s.HasUV {
			fmt.Printf("  UV: %d\n", s.UV)
		}
		if s.HasNV {
			fmt.Printf("  NV: %g\n", s.NV)
		}
	}
	fmt.Printf("  refcount: %d, owned bytes: %d\n", o.Refcnt, o.OwnedSize)
	return nil
}
