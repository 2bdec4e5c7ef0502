package rules

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// splitWithEscapeCharacter splits str by sep unless it is escaped with
// escapeCharacter.
func splitWithEscapeCharacter(str string, sep, escapeCharacter byte, preserveAllTokens bool) (parts []string) {
	parts = make([]string, 0)

	if str == "" {
		return parts
	}

	var sb strings.Builder
	escaped := false
	for i := 0; i < len(str); i++ {
		c := str[i]

		if c == escapeCharacter {
			escaped = true
		} else if c == sep {
			if escaped {
				sb.WriteByte(c)
				escaped = false
			} else {
				if preserveAllTokens || sb.Len() > 0 {
					parts = append(parts, sb.String())
					sb.Reset()
				}
			}
		} else {
			if escaped {
				escaped = false
				sb.WriteByte(escapeCharacter)
			}
			sb.WriteByte(c)
		}
	}

	if preserveAllTokens || sb.Len() > 0 {
		parts = append(parts, sb.String())
	}

	return parts
}

// isDomainOrSubdomainOfAny checks if domain is equal to or is a subdomain of
// any of domains.  An entry like "google.*" matches any "google.TLD" domain
// or subdomain where TLD is a known public suffix.
func isDomainOrSubdomainOfAny(domain string, domains []string) (ok bool) {
	for _, d := range domains {
		if strings.HasSuffix(d, ".*") {
			withoutWildcard := d[:len(d)-1]

			if strings.HasPrefix(domain, withoutWildcard) ||
				strings.Contains(domain, "."+withoutWildcard) {
				tld, icann := publicsuffix.PublicSuffix(domain)
				if tld != "" && icann && strings.HasSuffix(domain, withoutWildcard+tld) {
					return true
				}
			}
		} else {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				return true
			}
		}
	}

	return false
}
