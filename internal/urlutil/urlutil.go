// Package urlutil contains best-effort URL and domain helpers for the
// filtering hot path.
//
// These deliberately avoid net/url: a malformed request URL must degrade to
// substring matching instead of failing the caller mid-request, and full URL
// parsing is too slow to run once per matched rule candidate.
package urlutil

import "strings"

// Hostname retrieves the hostname from a URL-like string.  It is a
// best-effort function: the result is not guaranteed to be correct for some
// edge cases, which include IPv6 literals and non-hierarchical URLs.  It
// returns an empty string when no hostname can be found, which callers must
// treat as "unknown", not as an error.
func Hostname(rawURL string) (hostname string) {
	rest := rawURL
	if i := strings.Index(rest, "//"); i != -1 {
		rest = rest[i+2:]
	} else if i = strings.IndexByte(rest, ':'); i != -1 {
		// Non-hierarchical URL (stun:, mailto:), see RFC 4395.
		rest = rest[i+1:]
	} else {
		return ""
	}

	if i := strings.IndexAny(rest, "/:?#"); i != -1 {
		rest = rest[:i]
	}

	return rest
}

// IsDomainName checks if name is a valid domain name:
//
//   - every label is 1 to 63 characters of letters, digits and hyphens, and
//     does not start or end with a hyphen;
//   - the whole name, including dots, is at most 253 characters;
//   - there are at least two labels, and the last one is either letters-only
//     of length >= 2 or an "xn--" punycode label.
func IsDomainName(name string) (ok bool) {
	if len(name) == 0 || len(name) > 253 {
		return false
	}

	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}

	for _, l := range labels {
		if !isDomainLabel(l) {
			return false
		}
	}

	return isTLDLabel(labels[len(labels)-1])
}

// isDomainLabel checks a single dot-separated label.
func isDomainLabel(label string) (ok bool) {
	if len(label) == 0 || len(label) > 63 {
		return false
	}

	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}

	for i := 0; i < len(label); i++ {
		c := label[i]
		if !isAlpha(c) && !isDigit(c) && c != '-' {
			return false
		}
	}

	return true
}

// isTLDLabel checks the last label: either at least two letters, or a
// punycode label like "xn--p1ai".
func isTLDLabel(label string) (ok bool) {
	if strings.HasPrefix(label, "xn--") {
		for i := len("xn--"); i < len(label); i++ {
			if !isAlpha(label[i]) && !isDigit(label[i]) {
				return false
			}
		}

		return len(label) > len("xn--")
	}

	if len(label) < 2 {
		return false
	}

	for i := 0; i < len(label); i++ {
		if !isAlpha(label[i]) {
			return false
		}
	}

	return true
}

func isAlpha(c byte) (ok bool) {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) (ok bool) {
	return c >= '0' && c <= '9'
}
