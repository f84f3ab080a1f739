// ABOUTME: Implements the size subcommand reporting memory usage by object kind
// ABOUTME: Supports structural, owned, and dominator-based retained accounting
package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/internal/dominators"
	"github.com/prateek/pmat/object"
)

var sizeCmd = &cobra.Command{
	Use:   "size <dump>",
	Short: "report memory usage by object kind",
	Args:  cobra.ExactArgs(1),
	RunE:  runSize,
}

func init() {
	sizeCmd.Flags().String("by", "owned", "size accounting: structure, owned, or retained")
	rootCmd.AddCommand(sizeCmd)
}

func runSize(cmd *cobra.Command, args []string) error {
	d, err := loadDump(args[0])
	if err != nil {
		return err
	}

	by, _ := cmd.Flags().GetString("by")
	switch by {
	case "structure":
		printKindTable(d, func(o *object.Object) uint64 { return structSize(d, o) })
	case "owned":
		printKindTable(d, func(o *object.Object) uint64 { return o.OwnedSize })
	case "retained":
		printRetained(d)
	default:
		return errors.Errorf("unknown size accounting %q", by)
	}
	return nil
}

func printKindTable(d *dump.Dump, sizeOf func(*object.Object) uint64) {
	counts := make(map[object.Kind]int)
	bytes := make(map[object.Kind]uint64)
	d.ForEach(func(o *object.Object) {
		counts[o.Kind]++
		bytes[o.Kind] += sizeOf(o)
	})

	kinds := make([]object.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return bytes[kinds[i]] > bytes[kinds[j]] })

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCOUNT\tBYTES")
	var totalCount int
	var totalBytes uint64
	for _, k := range kinds {
		fmt.Fprintf(w, "%v\t%d\t%d\n", k, counts[k], bytes[k])
		totalCount += counts[k]
		totalBytes += bytes[k]
	}
	fmt.Fprintf(w, "total\t%d\t%d\n", totalCount, totalBytes)
	w.Flush()
}

const retainedTop = 20

func printRetained(d *dump.Dump) {
	retained := dominators.Retained(d)

	addrs := make([]object.Address, 0, len(retained))
	for a := range retained {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		if retained[addrs[i]] != retained[addrs[j]] {
			return retained[addrs[i]] > retained[addrs[j]]
		}
		return addrs[i] < addrs[j]
	})
	if len(addrs) > retainedTop {
		addrs = addrs[:retainedTop]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tKIND\tRETAINED")
	for _, a := range addrs {
		kind := "?"
		if o, ok := d.Get(a); ok {
			kind = o.Kind.String()
		}
		fmt.Fprintf(w, "%v\t%s\t%d\n", a, kind, retained[a])
	}
	w.Flush()
}

// structSize estimates an object's structural footprint in the producer
// arena from the reconstructed model: a fixed per-value head plus the
// variant's own body (slot pointers, element pointers, key strings, PV
// bytes). This is the in-arena shape of the value itself, as opposed to
// the producer-recorded owned-size which also covers out-of-band buffers.
func structSize(d *dump.Dump, o *object.Object) uint64 {
	ptr := uint64(d.PtrSize)
	size := 4 * ptr

	switch o.Kind {
	case object.KindGlob:
		size += 8 * ptr
		if o.Glob != nil {
			size += uint64(len(o.Glob.Name))
		}
	case object.KindScalar:
		size += 2 * ptr
		if o.Scalar != nil {
			size += uint64(len(o.Scalar.PV))
		}
	case object.KindRef:
		size += ptr
	case object.KindArray, object.KindPadlist, object.KindPadnames, object.KindPad:
		if o.Array != nil {
			size += uint64(len(o.Array.Elements)) * ptr
		}
	case object.KindHash:
		if o.Hash != nil {
			size += hashBodySize(o.Hash, ptr)
		}
	case object.KindStash:
		if o.Stash != nil {
			size += hashBodySize(&o.Stash.Hash, ptr)
			size += 4*ptr + uint64(len(o.Stash.ClassName))
		}
	case object.KindCode:
		size += 8 * ptr
		if o.Code != nil {
			size += uint64(len(o.Code.Constants)+len(o.Code.GlobRefs)) * ptr
		}
	case object.KindIO:
		size += 3 * ptr
	case object.KindLvalue:
		size += ptr + 16
	}
	return size
}

func hashBodySize(h *object.Hash, ptr uint64) uint64 {
	size := uint64(len(h.Keys)) * 2 * ptr
	for _, k := range h.Keys {
		size += uint64(len(k))
	}
	return size
}
