package rules

import "strings"

// Pattern mask characters of the EasyList dialect.
const (
	// MaskStartURL is the "||" mask: match at the start of a domain label
	// after the scheme.
	MaskStartURL = "||"
	// MaskPipe is the "|" mask: anchor to the very start or end of the URL.
	MaskPipe = "|"
	// MaskSeparator is the "^" mask: match a single separator character or
	// the end of the URL.
	MaskSeparator = "^"
	// MaskAnyCharacter is the "*" mask: match zero or more of any character.
	MaskAnyCharacter = "*"
)

// tokenKind is the kind of a single pattern token.
type tokenKind uint8

const (
	tokenLiteral tokenKind = iota
	tokenWildcard
	tokenSeparator
	tokenStartAnchor
	tokenEndAnchor
	tokenDomainAnchor
)

// patternToken is one element of a compiled pattern.  A pattern is a flat
// token sequence, deliberately not a regular expression: the restricted
// grammar keeps matching time predictable no matter what a filter list
// author writes.
type patternToken struct {
	// literal is the matched substring, only set for tokenLiteral.
	literal string

	kind tokenKind
}

// compilePattern turns a pattern string into a token sequence.  Anchors are
// only recognized at the pattern edges; a "|" in the middle of a pattern is
// matched literally.  Unless matchCase is set, literals are lowercased so
// that they can be compared against the lowercased URL.
func compilePattern(pattern string, matchCase bool) (tokens []patternToken) {
	if strings.HasPrefix(pattern, MaskStartURL) {
		tokens = append(tokens, patternToken{kind: tokenDomainAnchor})
		pattern = pattern[len(MaskStartURL):]
	} else if strings.HasPrefix(pattern, MaskPipe) {
		tokens = append(tokens, patternToken{kind: tokenStartAnchor})
		pattern = pattern[len(MaskPipe):]
	}

	endAnchor := false
	if strings.HasSuffix(pattern, MaskPipe) {
		endAnchor = true
		pattern = pattern[:len(pattern)-len(MaskPipe)]
	}

	litStart := -1
	for i := 0; i < len(pattern); i++ {
		var kind tokenKind
		switch pattern[i] {
		case '*':
			kind = tokenWildcard
		case '^':
			kind = tokenSeparator
		default:
			if litStart == -1 {
				litStart = i
			}

			continue
		}

		if litStart != -1 {
			tokens = append(tokens, literalToken(pattern[litStart:i], matchCase))
			litStart = -1
		}

		// Collapse wildcard runs, "**" matches the same inputs as "*".
		if kind == tokenWildcard && len(tokens) > 0 &&
			tokens[len(tokens)-1].kind == tokenWildcard {
			continue
		}

		tokens = append(tokens, patternToken{kind: kind})
	}

	if litStart != -1 {
		tokens = append(tokens, literalToken(pattern[litStart:], matchCase))
	}

	if endAnchor {
		tokens = append(tokens, patternToken{kind: tokenEndAnchor})
	}

	return tokens
}

func literalToken(lit string, matchCase bool) (tok patternToken) {
	if !matchCase {
		lit = strings.ToLower(lit)
	}

	return patternToken{kind: tokenLiteral, literal: lit}
}

// isSeparatorByte reports whether c is a separator in the "^" sense:
// anything that is not a letter, a digit, or one of "-", ".", "_", "~".
func isSeparatorByte(c byte) (ok bool) {
	switch {
	case c >= 'a' && c <= 'z',
		c >= 'A' && c <= 'Z',
		c >= '0' && c <= '9',
		c == '-', c == '.', c == '_', c == '~':
		return false
	default:
		return true
	}
}

// matchTokens checks the compiled token sequence against url.  The url must
// already be lowercased unless the rule is case-sensitive, since literal
// tokens are stored lowercased and ASCII-compared.
func matchTokens(tokens []patternToken, url string) (ok bool) {
	if len(tokens) == 0 {
		return true
	}

	switch tokens[0].kind {
	case tokenStartAnchor:
		return matchHere(tokens[1:], url, 0)
	case tokenDomainAnchor:
		return matchDomainAnchor(tokens[1:], url)
	default:
		// Unanchored: the pattern may start anywhere.
		return matchAnywhere(tokens, url)
	}
}

// matchAnywhere tries the token sequence at every eligible start position.
// When the sequence starts with a literal, candidate positions are limited
// to that literal's occurrences.
func matchAnywhere(tokens []patternToken, url string) (ok bool) {
	if tokens[0].kind == tokenLiteral {
		lit := tokens[0].literal
		for from := 0; ; {
			i := strings.Index(url[from:], lit)
			if i == -1 {
				return false
			}

			pos := from + i
			if matchHere(tokens[1:], url, pos+len(lit)) {
				return true
			}

			from = pos + 1
		}
	}

	for pos := 0; pos <= len(url); pos++ {
		if matchHere(tokens, url, pos) {
			return true
		}
	}

	return false
}

// matchDomainAnchor handles the "||" mask: the rest of the pattern must
// match starting at the beginning of a domain label inside the URL's
// authority.  For a URL without a scheme separator the anchor degrades to
// matching at the string start or after any dot, which keeps malformed
// input matchable instead of failing it.
func matchDomainAnchor(tokens []patternToken, url string) (ok bool) {
	hostStart := 0
	hostEnd := len(url)

	if i := strings.Index(url, "//"); i != -1 {
		hostStart = i + 2
	}
	if i := strings.IndexAny(url[hostStart:], "/:?#"); i != -1 {
		hostEnd = hostStart + i
	}

	for pos := hostStart; pos <= hostEnd; pos++ {
		if pos != hostStart && url[pos-1] != '.' {
			continue
		}

		if matchHere(tokens, url, pos) {
			return true
		}
	}

	return false
}

// matchHere matches the token sequence against url starting exactly at pos.
func matchHere(tokens []patternToken, url string, pos int) (ok bool) {
	for ti := 0; ti < len(tokens); ti++ {
		switch tok := tokens[ti]; tok.kind {
		case tokenLiteral:
			if !strings.HasPrefix(url[pos:], tok.literal) {
				return false
			}

			pos += len(tok.literal)
		case tokenSeparator:
			// A separator also matches the end of the URL without
			// consuming anything.
			if pos == len(url) {
				continue
			}

			if !isSeparatorByte(url[pos]) {
				return false
			}

			pos++
		case tokenWildcard:
			rest := tokens[ti+1:]
			if len(rest) == 0 {
				return true
			}

			for p := pos; p <= len(url); p++ {
				if matchHere(rest, url, p) {
					return true
				}
			}

			return false
		case tokenEndAnchor:
			return pos == len(url)
		default:
			// Start anchors inside a sequence cannot be produced by
			// compilePattern.
			return false
		}
	}

	return true
}
