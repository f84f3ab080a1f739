// ABOUTME: Tests for retained-size accounting
// ABOUTME: Validates retention splits when objects gain independent roots
package dominators

import (
	"testing"

	"github.com/prateek/pmat/object"
)

func TestRetainedDiamond(t *testing.T) {
	d := buildDiamond(t)
	retained := Retained(d)

	want := map[object.Address]uint64{
		0x100: 100, // retains the whole reachable component
		0x200: 20,
		0x300: 30,
		0x400: 40,
	}
	for addr, size := range want {
		if got := retained[addr]; got != size {
			t.Errorf("retained[%v] = %d, want %d", addr, got, size)
		}
	}
	if _, ok := retained[0x500]; ok {
		t.Errorf("unreachable 0x500 has a retained size")
	}
}

func TestRetainedWithStackEntry(t *testing.T) {
	d := buildDiamond(t, 0x300)
	retained := Retained(d)

	// C and D are rooted independently now, so A retains only itself and B.
	if got := retained[0x100]; got != 30 {
		t.Errorf("retained[0x100] = %d, want 30", got)
	}
	if got := retained[0x300]; got != 30 {
		t.Errorf("retained[0x300] = %d, want 30", got)
	}
	if got := retained[0x400]; got != 40 {
		t.Errorf("retained[0x400] = %d, want 40", got)
	}
}
