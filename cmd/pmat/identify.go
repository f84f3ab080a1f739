// ABOUTME: Implements the identify subcommand tracing an object's inrefs back to roots
// ABOUTME: Renders the reverse-reference graph as an indented tree or as JSON
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/errs"
	"github.com/prateek/pmat/object"
	"github.com/prateek/pmat/refs"
	"github.com/prateek/pmat/symbols"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <dump> <addr>",
	Short: "trace an object's incoming references back to the roots",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentify,
}

func init() {
	identifyCmd.Flags().Int("depth", 0, "depth bound for the reverse trace (0 = unlimited)")
	identifyCmd.Flags().Bool("weak", false, "follow weak references as well as strong")
	identifyCmd.Flags().Bool("all", false, "follow references of every strength")
	identifyCmd.Flags().Bool("json", false, "emit the trace graph as JSON")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlag("depth", cmd.Flags().Lookup("depth")); err != nil {
		return err
	}

	d, err := loadDump(args[0])
	if err != nil {
		return err
	}

	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	if _, ok := d.Get(addr); !ok && !d.IsImmortal(addr) {
		return errors.Wrapf(errs.ErrNoSuchAddress, "%v", addr)
	}

	strengths := refs.NewStrengthSet(refs.StrengthStrong)
	if weak, _ := cmd.Flags().GetBool("weak"); weak {
		strengths = refs.NewStrengthSet(refs.StrengthStrong, refs.StrengthWeak)
	}
	if all, _ := cmd.Flags().GetBool("all"); all {
		strengths = nil
	}

	idx := refs.NewInrefIndex(d)
	g := symbols.ReverseTrace(d, idx, addr, viper.GetInt("depth"), strengths)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	}

	fmt.Println(describe(d, g.Root))
	printTrace(d, g, g.Root, 1)
	return nil
}

// parseAddr accepts a hex address with or without a 0x prefix.
func parseAddr(s string) (object.Address, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad address %q", s)
	}
	return object.Address(v), nil
}

// printTrace renders the trace graph as an indented tree rooted at the
// traced object, one line per incoming reference. Cycle back-edges are
// annotated and not descended into.
func printTrace(d *dump.Dump, g *symbols.Graph, at object.Address, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, r := range g.Roots {
		if r.To == at {
			fmt.Printf("%s← root %s\n", indent, r.Name)
		}
	}
	for _, e := range g.Edges {
		if e.To != at {
			continue
		}
		if e.Cycle {
			fmt.Printf("%s← %s of %s (already seen)\n", indent, e.Role, describe(d, e.From))
			continue
		}
		fmt.Printf("%s← %s of %s\n", indent, e.Role, describe(d, e.From))
		printTrace(d, g, e.From, depth+1)
	}
}
