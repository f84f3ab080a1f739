// ABOUTME: Fuzz tests for the full dump load pipeline
// ABOUTME: Ensures malformed inputs error out instead of panicking
package dump

import (
	"bytes"
	"testing"

	"github.com/prateek/pmat/object"
)

// FuzzLoad feeds arbitrary byte streams through the full load+fixup
// pipeline. The loader must never panic: every malformed input has to
// surface as an error, and every accepted input has to satisfy the
// address-identity invariant.
func FuzzLoad(f *testing.F) {
	f.Add(buildBasicDump())

	truncated := buildBasicDump()
	f.Add(truncated[:len(truncated)/2])

	badMagic := buildBasicDump()
	badMagic[0] = 'Q'
	f.Add(badMagic)

	badFlags := buildBasicDump()
	badFlags[4] = 0xe0
	f.Add(badFlags)

	badTag := buildBasicDump()
	f.Add(append(badTag[:len(badTag)-2], 0x7f))

	f.Fuzz(func(t *testing.T, data []byte) {
		d, err := Load(bytes.NewReader(data), Options{})
		if err != nil {
			return
		}
		d.ForEach(func(o *object.Object) {
			if o.Address == 0 {
				t.Error("loaded object with zero address")
			}
			got, ok := d.Get(o.Address)
			if !ok || got != o {
				t.Errorf("address %v does not round-trip through Get", o.Address)
			}
		})
	})
}
