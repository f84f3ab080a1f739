// ABOUTME: Property-style tests for reference-engine identities
// ABOUTME: Checks strength partitioning and the inref/outref inverse
package refs

import (
	"testing"

	"github.com/prateek/pmat/object"
)

// TestStrengthPartition asserts the filtered-view identities over every
// object in the fixture: the four strength classes partition the full
// outref set, and "direct" is exactly strong plus weak.
func TestStrengthPartition(t *testing.T) {
	d := buildGraphFixture(t)
	d.ForEach(func(o *object.Object) {
		all := Outrefs(d, o)

		var partitioned int
		for _, s := range []Strength{StrengthStrong, StrengthWeak, StrengthIndirect, StrengthInferred} {
			partitioned += len(Filter(all, NewStrengthSet(s)))
		}
		if partitioned != len(all) {
			t.Errorf("%v: strength classes partition to %d of %d outrefs", o.Address, partitioned, len(all))
		}

		direct := Filter(all, NewStrengthSet(StrengthStrong, StrengthWeak))
		strong := Filter(all, NewStrengthSet(StrengthStrong))
		weak := Filter(all, NewStrengthSet(StrengthWeak))
		if len(direct) != len(strong)+len(weak) {
			t.Errorf("%v: direct %d != strong %d + weak %d", o.Address, len(direct), len(strong), len(weak))
		}

		if got := Count(d, o, nil); got != len(all) {
			t.Errorf("%v: Count(nil) = %d, want %d", o.Address, got, len(all))
		}
	})
}

// TestInrefsMatchOutrefs asserts the inverse identity: every heap-owned
// inref corresponds to exactly one outref of its owner with the same
// role, strength, and target.
func TestInrefsMatchOutrefs(t *testing.T) {
	d := buildGraphFixture(t)
	idx := NewInrefIndex(d)

	d.ForEach(func(o *object.Object) {
		for _, in := range idx.Get(o.Address) {
			if in.FromRoot || in.FromStack {
				continue
			}
			owner, ok := d.Get(in.Owner)
			if !ok {
				t.Errorf("%v: inref owner %v not in heap", o.Address, in.Owner)
				return
			}
			matches := 0
			for _, out := range Outrefs(d, owner) {
				if out.Target == o.Address && out.Role == in.Role && out.Strength == in.Strength {
					matches++
				}
			}
			if matches != 1 {
				t.Errorf("%v: inref %q from %v matches %d outrefs, want 1", o.Address, in.Role, in.Owner, matches)
			}
		}
	})
}
