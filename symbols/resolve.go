// ABOUTME: Resolves sigil-prefixed dotted symbol names against the stash tree
// ABOUTME: Walks package stashes and selects the glob slot for the sigil

// Package symbols implements symbol resolution and reverse-trace:
// looking up a Perl-style dotted symbol name against the stash tree, and
// building a bounded inref graph from an object back to its named roots.
package symbols

import (
	"github.com/pkg/errors"

	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/errs"
	"github.com/prateek/pmat/object"
)

const defaultStashRoot = "defstash"

// ResolveSymbol looks up a single-sigil-prefixed dotted name, e.g.
// "$Foo::Bar::baz", by walking the stash tree from the default stash.
// A leading empty package segment (e.g. "$::x") means the default package
// itself. Every non-final segment X is resolved via the "X::" key in the
// current stash, whose value must be a GLOB naming the child stash; the
// final segment selects a slot off that segment's GLOB by sigil.
func ResolveSymbol(d *dump.Dump, name string) (object.Address, error) {
	if len(name) == 0 {
		return 0, errors.Wrap(errs.ErrNoSuchSymbol, "empty symbol")
	}
	sigil := name[0]
	switch sigil {
	case '$', '@', '%', '&':
	default:
		return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: missing sigil", name)
	}
	dotted := name[1:]

	segments := splitPackage(dotted)
	if len(segments) == 0 {
		return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: empty name", name)
	}

	stashAddr := d.Roots[defaultStashRoot]
	for i := 0; i < len(segments)-1; i++ {
		seg := segments[i]
		stashObj, ok := d.Get(stashAddr)
		if !ok || stashObj.Stash == nil {
			return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: %q is not a stash", name, seg)
		}
		globAddr, ok := stashObj.Stash.Values[seg+"::"]
		if !ok || globAddr == 0 {
			return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: no package %q", name, seg)
		}
		globObj, ok := d.Get(globAddr)
		if !ok || globObj.Kind != object.KindGlob || globObj.Glob == nil {
			return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: %q:: is not a glob", name, seg)
		}
		stashAddr = globObj.Glob.Hash
	}

	final := segments[len(segments)-1]
	stashObj, ok := d.Get(stashAddr)
	if !ok || stashObj.Stash == nil {
		return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: package is not a stash", name)
	}
	globAddr, ok := stashObj.Stash.Values[final]
	if !ok || globAddr == 0 {
		return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: no such name %q", name, final)
	}
	globObj, ok := d.Get(globAddr)
	if !ok || globObj.Kind != object.KindGlob || globObj.Glob == nil {
		return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: %q is not a glob", name, final)
	}

	var slot object.Address
	switch sigil {
	case '$':
		slot = globObj.Glob.Scalar
	case '@':
		slot = globObj.Glob.Array
	case '%':
		slot = globObj.Glob.Hash
	case '&':
		slot = globObj.Glob.Code
	}
	if slot == 0 {
		return 0, errors.Wrapf(errs.ErrNoSuchSymbol, "%q: sigil slot unbound", name)
	}
	return slot, nil
}

// splitPackage splits a dotted name on "::", dropping a single leading
// empty or "main" segment: "::x", "main::x", and plain "x" all name the
// same default-package symbol.
func splitPackage(dotted string) []string {
	var segments []string
	start := 0
	for i := 0; i+1 < len(dotted); i++ {
		if dotted[i] == ':' && dotted[i+1] == ':' {
			segments = append(segments, dotted[start:i])
			i++
			start = i + 1
		}
	}
	segments = append(segments, dotted[start:])
	if len(segments) > 1 && (segments[0] == "" || segments[0] == "main") {
		segments = segments[1:]
	}
	return segments
}
