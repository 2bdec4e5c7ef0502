// Package rules contains the rule model of the filtering engine: parsing a
// single EasyList-style line into a NetworkRule and matching it against a
// Request.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/webmacs/adblock/internal/urlutil"
)

// ErrUnsupportedRule signals that this might be a valid rule type, but it is
// not supported by this engine and the line should be skipped.
const ErrUnsupportedRule errors.Error = "this type of rules is unsupported"

// cosmeticRuleMarkers are the markers of element-hiding and other cosmetic
// rules.  Those carry no matchable network pattern and are only recognized
// so that the parser can skip them.
//
// The list must stay sorted by length, descending, for findRuleMarker to
// prefer the longest match.
var cosmeticRuleMarkers = []string{
	// HTML filtering.
	"$$", "$@$",
	// Script rules.
	"#%#", "#@%#",
	// Element hiding rules.
	"##", "#@#",
	// CSS injection.
	"#$#", "#@$#",
	// ExtCSS hiding rules.
	"#?#", "#@?#",
	// ExtCSS injection rules.
	"#$?#", "#@$?#",
}

func init() {
	sort.Slice(cosmeticRuleMarkers, func(i, j int) (less bool) {
		return len(cosmeticRuleMarkers[i]) > len(cosmeticRuleMarkers[j])
	})
}

// IsComment checks if the line is a comment.
func IsComment(line string) (ok bool) {
	if len(line) == 0 {
		return false
	}

	if line[0] == '!' {
		return true
	}

	if line[0] == '#' {
		// A leading '#' is a hosts-style comment unless it is actually a
		// cosmetic rule marker with an empty domain part.
		for _, marker := range cosmeticRuleMarkers {
			if strings.HasPrefix(line, marker) {
				return false
			}
		}

		return true
	}

	return false
}

// IsCosmetic checks if this is a cosmetic filtering rule.  Cosmetic rules
// are recognized but never evaluated by this engine.
func IsCosmetic(line string) (ok bool) {
	return findRuleMarker(line, '#') != "" || findRuleMarker(line, '$') != ""
}

// findRuleMarker looks for a cosmetic rule marker starting with
// firstMarkerChar in the rule text.  It returns the marker found or an empty
// string.
func findRuleMarker(ruleText string, firstMarkerChar byte) (marker string) {
	startIndex := strings.IndexByte(ruleText, firstMarkerChar)
	if startIndex == -1 {
		return ""
	}

	for _, m := range cosmeticRuleMarkers {
		if m[0] == firstMarkerChar && strings.HasPrefix(ruleText[startIndex:], m) {
			return m
		}
	}

	return ""
}

// loadDomains loads the value of a $domain modifier.  domains is the
// |-separated list of domains, entries prefixed with "~" are restricted.
// The permitted and restricted sets are disjoint by construction: every
// entry lands in exactly one of them.
func loadDomains(domains, sep string) (permitted, restricted []string, err error) {
	if domains == "" {
		return nil, nil, errors.Error("no domains specified")
	}

	for _, d := range strings.Split(domains, sep) {
		isRestricted := false
		if strings.HasPrefix(d, "~") {
			isRestricted = true
			d = d[1:]
		}

		if !urlutil.IsDomainName(d) && !strings.HasSuffix(d, ".*") {
			return nil, nil, fmt.Errorf("invalid domain specified: %s", domains)
		}

		if isRestricted {
			restricted = append(restricted, d)
		} else {
			permitted = append(permitted, d)
		}
	}

	return permitted, restricted, nil
}
