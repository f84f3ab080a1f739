// ABOUTME: Decodes the call-context stack section of a dump
// ABOUTME: Handles SUB/TRY/EVAL frames and tolerates a wholly absent section
package dump

import (
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/prateek/pmat/errs"
	"github.com/prateek/pmat/object"
)

// Context-stack record tags, following the same tag-plus-common-
// fields-plus-type-specific-pointers convention as the heap body.
const (
	ctxEOF  = 0x00
	ctxSub  = 0x01
	ctxTry  = 0x02
	ctxEval = 0x03
)

// readContexts parses the call-context stack snapshot: gimme, file, and
// line are common to every frame, followed by type-specific fields, one
// frame per iteration until the tag-0 terminator. The whole section is
// optional: a stream that ends cleanly after the heap body yields an
// empty context stack. A terminator missing mid-section still surfaces
// as errs.ErrTruncated.
func (l *loader) readContexts(d *Dump) error {
	for {
		tag, err := l.rd.ReadU8()
		if err != nil {
			if len(d.Contexts) == 0 && stderrors.Is(err, errs.ErrTruncated) {
				return nil
			}
			return errors.Wrap(err, "reading context tag")
		}
		if tag == ctxEOF {
			return nil
		}
		if tag != ctxSub && tag != ctxTry && tag != ctxEval {
			return errors.Wrapf(errs.ErrUnknownTag, "context tag %#x", tag)
		}

		gimmeRaw, err := l.rd.ReadU8()
		if err != nil {
			return errors.Wrap(err, "reading context gimme")
		}
		fileBytes, ok, err := l.rd.ReadString()
		if err != nil {
			return errors.Wrap(err, "reading context file")
		}
		line, err := l.rd.ReadUint()
		if err != nil {
			return errors.Wrap(err, "reading context line")
		}

		ctx := object.Context{Gimme: object.Gimme(gimmeRaw), Line: line}
		if ok {
			ctx.File = string(fileBytes)
		}

		switch tag {
		case ctxSub:
			ctx.Type = object.ContextSub
			code, err := l.rd.ReadPointer()
			if err != nil {
				return errors.Wrap(err, "reading context code")
			}
			args, err := l.rd.ReadPointer()
			if err != nil {
				return errors.Wrap(err, "reading context args")
			}
			ctx.Code = object.Address(code)
			ctx.Args = object.Address(args)
		case ctxTry:
			ctx.Type = object.ContextTry
		case ctxEval:
			ctx.Type = object.ContextEval
			src, err := l.rd.ReadPointer()
			if err != nil {
				return errors.Wrap(err, "reading context source")
			}
			ctx.Source = object.Address(src)
		}

		d.Contexts = append(d.Contexts, ctx)
	}
}
