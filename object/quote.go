// ABOUTME: Renders scalar byte-string bodies as quoted literals for display
// ABOUTME: Single-quotes printable ASCII, hex-escapes everything else
package object

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// QuotePV renders a scalar's byte-string body as a quoted literal for
// human-readable output. Strings made entirely of printable ASCII are
// single-quoted, escaping only backslash and the quote itself; anything
// containing control or non-ASCII bytes is double-quoted with \xNN escapes
// for the non-printable bytes. When isUTF8 is set, well-formed multibyte
// sequences are preserved verbatim inside the double-quoted form.
func QuotePV(pv []byte, isUTF8 bool) string {
	if isPrintableASCII(pv) {
		var b strings.Builder
		b.WriteByte('\'')
		for _, c := range pv {
			if c == '\'' || c == '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		}
		b.WriteByte('\'')
		return b.String()
	}

	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(pv); {
		c := pv[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
			i++
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
			i++
		case isUTF8 && c >= 0x80:
			r, size := utf8.DecodeRune(pv[i:])
			if r == utf8.RuneError && size == 1 {
				fmt.Fprintf(&b, "\\x%02x", c)
				i++
				break
			}
			b.Write(pv[i : i+size])
			i += size
		default:
			fmt.Fprintf(&b, "\\x%02x", c)
			i++
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isPrintableASCII(pv []byte) bool {
	for _, c := range pv {
		if c < 0x20 || c >= 0x7f {
			return false
		}
	}
	return true
}
