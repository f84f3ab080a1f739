// ABOUTME: Fuzz tests for the binary primitive reader
// ABOUTME: Checks length-prefixed reads against hostile counts
package reader

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// FuzzReadString checks that arbitrary length prefixes and payloads never
// panic and that a successful read hands back exactly the bytes after the
// prefix.
func FuzzReadString(f *testing.F) {
	f.Add([]byte{5, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})       // None sentinel
	f.Add([]byte{0, 0, 0, 0})                   // empty string
	f.Add([]byte{0xfe, 0xff, 0xff, 0xff, 'x'})  // absurd length
	f.Add([]byte{3, 0, 0, 0, 'a'})              // truncated payload

	f.Fuzz(func(t *testing.T, data []byte) {
		cfgs := []Config{
			{Order: binary.LittleEndian, IntSize: 4, PtrSize: 4, FloatSize: 8},
			{Order: binary.BigEndian, IntSize: 8, PtrSize: 8, FloatSize: 8},
		}
		for _, cfg := range cfgs {
			r := New(bytes.NewReader(data), cfg)
			got, ok, err := r.ReadString()
			if err != nil {
				continue
			}
			if !ok && got != nil {
				t.Errorf("absent string carried data %q", got)
			}
			if ok && len(data) >= cfg.IntSize && len(got) > len(data)-cfg.IntSize {
				t.Errorf("string longer than remaining input: %d > %d", len(got), len(data)-cfg.IntSize)
			}
		}
	})
}

// FuzzReadPointerArray checks that wire-supplied element counts cannot
// drive allocation past what the stream actually backs.
func FuzzReadPointerArray(f *testing.F) {
	f.Add(uint64(0), []byte{})
	f.Add(uint64(2), []byte{1, 0, 0, 0, 2, 0, 0, 0})
	f.Add(uint64(1<<40), []byte{1, 2, 3, 4})

	f.Fuzz(func(t *testing.T, n uint64, data []byte) {
		cfg := Config{Order: binary.LittleEndian, IntSize: 4, PtrSize: 4, FloatSize: 8}
		r := New(bytes.NewReader(data), cfg)
		out, err := r.ReadPointerArrayOfN(n)
		if err != nil {
			return
		}
		if uint64(len(out)) != n {
			t.Errorf("got %d pointers, want %d", len(out), n)
		}
	})
}
