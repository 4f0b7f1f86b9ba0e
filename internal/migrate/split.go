package migrate

import "strings"

// splitStatements splits a script on top-level semicolons. Semicolons inside
// quoted strings, quoted identifiers, dollar-quoted bodies and comments do
// not terminate a statement. Comment-only fragments are dropped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		hasCode bool
	)
	flush := func() {
		if hasCode {
			stmts = append(stmts, strings.TrimSpace(current.String()))
		}
		current.Reset()
		hasCode = false
	}

	for i := 0; i < len(script); {
		c := script[i]
		switch {
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				end = len(script) - i
			}
			current.WriteString(script[i : i+end])
			i += end
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			n := len(script) - i
			if end >= 0 {
				n = end + 4
			}
			current.WriteString(script[i : i+n])
			i += n
		case c == '\'' || c == '"':
			n := quotedLen(script[i:], c)
			current.WriteString(script[i : i+n])
			hasCode = true
			i += n
		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				end := strings.Index(script[i+len(tag):], tag)
				n := len(script) - i
				if end >= 0 {
					n = len(tag) + end + len(tag)
				}
				current.WriteString(script[i : i+n])
				hasCode = true
				i += n
				continue
			}
			current.WriteByte(c)
			hasCode = true
			i++
		case c == ';':
			current.WriteByte(c)
			flush()
			i++
		default:
			current.WriteByte(c)
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
				hasCode = true
			}
			i++
		}
	}
	flush()
	return stmts
}

// quotedLen returns the length of the quoted token at the start of s,
// treating a doubled quote as an escape.
func quotedLen(s string, q byte) int {
	for i := 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

// dollarTag reports the $tag$ opening s, if any. Positional parameters such
// as $1 are not tags.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		isLetter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !(isDigit && i > 1) {
			return "", false
		}
	}
	return "", false
}
