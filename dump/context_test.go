// ABOUTME: Tests for the call-context stack decoder
// ABOUTME: Covers frame decoding, the optional section, and malformed tags
package dump

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prateek/pmat/errs"
	"github.com/prateek/pmat/object"
)

// buildContextPreamble writes everything up to and including the heap-body
// terminator, leaving the builder positioned at the context section.
func buildContextPreamble() *synthBuilder {
	var b synthBuilder
	b.header(1, 1)
	b.typeSizeTable(standardTypeRows)
	b.immortals(0, 0, 0)
	b.roots(nil)
	b.stack(nil)
	b.scalarIV(0x1000, 1)
	b.u8(tagEOF)
	return &b
}

func TestLoadContexts(t *testing.T) {
	b := buildContextPreamble()
	b.ctxSubFrame(2, "main.pl", 10, 0x1000, 0)
	b.ctxTryFrame(0, "main.pl", 20)
	b.ctxEvalFrame(1, "(eval 1)", 3, 0x1000)
	b.u8(ctxEOF)

	d, err := Load(bytes.NewReader(b.buf.Bytes()), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d.Contexts) != 3 {
		t.Fatalf("got %d contexts, want 3", len(d.Contexts))
	}

	sub := d.Contexts[0]
	if sub.Type != object.ContextSub || sub.Gimme != object.GimmeArray {
		t.Errorf("frame 0: got %v/%v, want SUB/array", sub.Type, sub.Gimme)
	}
	if sub.File != "main.pl" || sub.Line != 10 || sub.Code != 0x1000 || sub.Args != 0 {
		t.Errorf("frame 0 fields: %+v", sub)
	}

	try := d.Contexts[1]
	if try.Type != object.ContextTry || try.Gimme != object.GimmeVoid || try.Line != 20 {
		t.Errorf("frame 1: %+v", try)
	}

	eval := d.Contexts[2]
	if eval.Type != object.ContextEval || eval.Gimme != object.GimmeScalar {
		t.Errorf("frame 2: got %v/%v, want EVAL/scalar", eval.Type, eval.Gimme)
	}
	if eval.File != "(eval 1)" || eval.Source != 0x1000 {
		t.Errorf("frame 2 fields: %+v", eval)
	}
}

func TestLoadMissingContextSection(t *testing.T) {
	b := buildContextPreamble()
	// Stream ends right after the heap terminator: the context section is
	// optional, so the load still succeeds with no frames.
	d, err := Load(bytes.NewReader(b.buf.Bytes()), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d.Contexts) != 0 {
		t.Errorf("got %d contexts, want none", len(d.Contexts))
	}
}

func TestLoadContextsMissingTerminator(t *testing.T) {
	b := buildContextPreamble()
	b.ctxTryFrame(0, "main.pl", 20)

	_, err := Load(bytes.NewReader(b.buf.Bytes()), Options{})
	if !errors.Is(err, errs.ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestLoadUnknownContextTag(t *testing.T) {
	b := buildContextPreamble()
	b.u8(0x07)

	_, err := Load(bytes.NewReader(b.buf.Bytes()), Options{})
	if !errors.Is(err, errs.ErrUnknownTag) {
		t.Fatalf("got %v, want ErrUnknownTag", err)
	}
}
