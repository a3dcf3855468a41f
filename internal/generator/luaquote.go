package generator

import (
	"fmt"
	"strings"
)

// luaQuote renders s as a double-quoted Lua 5.1 string literal. Lua 5.1 has
// no \x escapes, so control bytes use decimal escapes.
func luaQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\%03d`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// luaComment flattens s into a single-line comment body.
func luaComment(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
