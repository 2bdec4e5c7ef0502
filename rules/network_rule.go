package rules

import (
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	maskWhiteList    = "@@"
	maskRegexRule    = "/"
	optionsDelimiter = '$'
	escapeCharacter  = '\\'
)

// minShortcutLength is the minimum length of a literal run that qualifies as
// a rule shortcut.  Shorter runs are too common in URLs to be selective.
const minShortcutLength = 3

// ErrTooWideRule is returned if the rule matches all urls but has no domain
// restrictions.
const ErrTooWideRule errors.Error = "the rule is too wide, add domain restrictions or make it more specific"

// NetworkRuleOption is the enumeration of various rule options.  In order to
// save memory, we store options as flags.
type NetworkRuleOption uint32

// NetworkRuleOption enumeration.
const (
	// OptionThirdParty is the $third-party modifier.
	OptionThirdParty NetworkRuleOption = 1 << iota
	// OptionMatchCase is the $match-case modifier.
	OptionMatchCase
)

// NetworkRule is a basic filtering rule: the parsed form of one filter-list
// line.
//
// https://kb.adguard.com/en/general/how-to-create-your-own-ad-filters#basic-rules
type NetworkRule struct {
	// RuleText is the original rule text.
	RuleText string

	// Whitelist is true if this is an exception ("@@") rule.
	Whitelist bool

	// Shortcut is the longest substring of the rule pattern with no special
	// characters, lowercased.  Empty if no literal run of at least
	// minShortcutLength characters exists.
	Shortcut string

	// permittedDomains and restrictedDomains come from the $domain
	// modifier.  They are disjoint.
	permittedDomains  []string
	restrictedDomains []string

	enabledOptions  NetworkRuleOption
	disabledOptions NetworkRuleOption

	// permittedRequestTypes has all permitted request types.  0 means ALL.
	permittedRequestTypes RequestType
	// restrictedRequestTypes has all restricted request types.  0 means
	// NONE.
	restrictedRequestTypes RequestType

	// pattern is the raw rule pattern, kept for shortcut extraction and
	// diagnostics.
	pattern string

	// tokens is the compiled pattern.
	tokens []patternToken
}

// NewNetworkRule parses the rule text and returns a filter rule.
func NewNetworkRule(ruleText string) (r *NetworkRule, err error) {
	pattern, options, whitelist, err := parseRuleText(ruleText)
	if err != nil {
		return nil, err
	}

	// Regex rules are a valid dialect extension, but this engine keeps the
	// restricted token grammar and skips them.
	if strings.HasPrefix(pattern, maskRegexRule) &&
		strings.HasSuffix(pattern, maskRegexRule) &&
		len(pattern) > 1 {
		return nil, ErrUnsupportedRule
	}

	r = &NetworkRule{
		RuleText:  ruleText,
		Whitelist: whitelist,
		pattern:   pattern,
	}

	err = r.loadOptions(options)
	if err != nil {
		return nil, err
	}

	// example.org/* matches the same URLs as example.org^.
	if strings.HasSuffix(r.pattern, "/*") {
		r.pattern = r.pattern[:len(r.pattern)-len("/*")] + MaskSeparator
	}

	// Reject rules that match everything and are not limited to a set of
	// source domains.
	if pattern == MaskStartURL || pattern == MaskPipe ||
		pattern == MaskAnyCharacter || len(pattern) < minShortcutLength {
		if len(r.permittedDomains) == 0 {
			return nil, ErrTooWideRule
		}
	}

	r.tokens = compilePattern(r.pattern, r.IsOptionEnabled(OptionMatchCase))
	r.loadShortcut()

	return r, nil
}

// Text returns the original rule text.
func (f *NetworkRule) Text() (text string) {
	return f.RuleText
}

// String returns the original rule text.
func (f *NetworkRule) String() (s string) {
	return f.RuleText
}

// Match checks if this filtering rule matches the specified request.
func (f *NetworkRule) Match(r *Request) (ok bool) {
	switch {
	case
		!f.matchShortcut(r),
		f.IsOptionEnabled(OptionThirdParty) && !r.ThirdParty,
		f.IsOptionDisabled(OptionThirdParty) && r.ThirdParty,
		!f.matchRequestType(r.RequestType),
		!f.matchSourceDomain(r.SourceHostname),
		!f.matchPattern(r):
		return false
	}

	return true
}

// IsOptionEnabled returns true if the specified option is enabled.
func (f *NetworkRule) IsOptionEnabled(option NetworkRuleOption) (ok bool) {
	return (f.enabledOptions & option) == option
}

// IsOptionDisabled returns true if the specified option is disabled.
func (f *NetworkRule) IsOptionDisabled(option NetworkRuleOption) (ok bool) {
	return (f.disabledOptions & option) == option
}

// GetPermittedDomains returns the domains this rule is limited to.
func (f *NetworkRule) GetPermittedDomains() (domains []string) {
	return f.permittedDomains
}

// matchShortcut simply checks if the shortcut is a substring of the URL.
func (f *NetworkRule) matchShortcut(r *Request) (ok bool) {
	return strings.Contains(r.URLLowerCase, f.Shortcut)
}

// matchPattern matches the compiled pattern tokens against the request URL.
func (f *NetworkRule) matchPattern(r *Request) (ok bool) {
	url := r.URLLowerCase
	if f.IsOptionEnabled(OptionMatchCase) {
		url = r.URL
	}

	return matchTokens(f.tokens, url)
}

// matchSourceDomain checks the request source domain against the rule's
// $domain modifier.  The restricted set wins over the permitted one.
func (f *NetworkRule) matchSourceDomain(domain string) (ok bool) {
	if len(f.permittedDomains) == 0 && len(f.restrictedDomains) == 0 {
		return true
	}

	if len(f.restrictedDomains) > 0 && isDomainOrSubdomainOfAny(domain, f.restrictedDomains) {
		// $domain=~example.org, and the source is example.org or below.
		return false
	}

	if len(f.permittedDomains) > 0 && !isDomainOrSubdomainOfAny(domain, f.permittedDomains) {
		// $domain=example.org, and the source is something else.
		return false
	}

	return true
}

// matchRequestType checks the request type against the rule's masks.
func (f *NetworkRule) matchRequestType(requestType RequestType) (ok bool) {
	if f.permittedRequestTypes != 0 &&
		(f.permittedRequestTypes&requestType) != requestType {
		return false
	}

	if f.restrictedRequestTypes != 0 &&
		(f.restrictedRequestTypes&requestType) == requestType {
		return false
	}

	return true
}

// setRequestType permits or forbids the specified request type.
func (f *NetworkRule) setRequestType(requestType RequestType, permitted bool) {
	if permitted {
		f.permittedRequestTypes |= requestType
	} else {
		f.restrictedRequestTypes |= requestType
	}
}

// setOptionEnabled enables or disables the specified option.
func (f *NetworkRule) setOptionEnabled(option NetworkRuleOption, enabled bool) {
	if enabled {
		f.enabledOptions |= option
	} else {
		f.disabledOptions |= option
	}
}

// loadOptions loads all the filtering rule options.  Unknown option names
// are ignored for forward compatibility with newer list dialects; only a
// known option with a bad value fails the rule.
func (f *NetworkRule) loadOptions(options string) (err error) {
	if options == "" {
		return nil
	}

	optionsParts := splitWithEscapeCharacter(options, ',', escapeCharacter, false)
	for _, option := range optionsParts {
		name, value := option, ""
		if valueIndex := strings.Index(option, "="); valueIndex > 0 {
			name = option[:valueIndex]
			value = option[valueIndex+1:]
		}

		err = f.loadOption(name, value)
		if err != nil {
			return err
		}
	}

	return nil
}

// loadOption loads the specified option with its value (optional).
func (f *NetworkRule) loadOption(name, value string) (err error) {
	switch name {
	// General options.
	case "third-party", "~first-party":
		f.setOptionEnabled(OptionThirdParty, true)
	case "~third-party", "first-party":
		f.setOptionEnabled(OptionThirdParty, false)
	case "match-case":
		f.setOptionEnabled(OptionMatchCase, true)
	case "~match-case":
		f.setOptionEnabled(OptionMatchCase, false)

	// $domain limits the rule to requests from the listed source domains.
	case "domain":
		f.permittedDomains, f.restrictedDomains, err = loadDomains(value, "|")

		return err

	// Content type options.
	case "document":
		f.setRequestType(TypeDocument, true)
	case "~document":
		f.setRequestType(TypeDocument, false)
	case "subdocument":
		f.setRequestType(TypeSubdocument, true)
	case "~subdocument":
		f.setRequestType(TypeSubdocument, false)
	case "script":
		f.setRequestType(TypeScript, true)
	case "~script":
		f.setRequestType(TypeScript, false)
	case "stylesheet":
		f.setRequestType(TypeStylesheet, true)
	case "~stylesheet":
		f.setRequestType(TypeStylesheet, false)
	case "object":
		f.setRequestType(TypeObject, true)
	case "~object":
		f.setRequestType(TypeObject, false)
	case "image":
		f.setRequestType(TypeImage, true)
	case "~image":
		f.setRequestType(TypeImage, false)
	case "xmlhttprequest":
		f.setRequestType(TypeXmlhttprequest, true)
	case "~xmlhttprequest":
		f.setRequestType(TypeXmlhttprequest, false)
	case "media":
		f.setRequestType(TypeMedia, true)
	case "~media":
		f.setRequestType(TypeMedia, false)
	case "font":
		f.setRequestType(TypeFont, true)
	case "~font":
		f.setRequestType(TypeFont, false)
	case "websocket":
		f.setRequestType(TypeWebsocket, true)
	case "~websocket":
		f.setRequestType(TypeWebsocket, false)
	case "ping":
		f.setRequestType(TypePing, true)
	case "~ping":
		f.setRequestType(TypePing, false)
	case "other":
		f.setRequestType(TypeOther, true)
	case "~other":
		f.setRequestType(TypeOther, false)

	default:
		// Unknown modifier: ignore it and keep the rule.
	}

	return nil
}

// loadShortcut extracts the shortcut from the pattern: the longest substring
// of the pattern that does not contain any special characters.
func (f *NetworkRule) loadShortcut() {
	shortcut := findShortcut(f.pattern)
	if len(shortcut) >= minShortcutLength {
		f.Shortcut = strings.ToLower(shortcut)
	}
}

// findShortcut searches for the longest substring of the pattern that does
// not contain any of the special characters "*", "^" and "|".  Ties are
// broken by the leftmost occurrence.
func findShortcut(pattern string) (shortcut string) {
	for pattern != "" {
		i := strings.IndexAny(pattern, "*^|")
		if i == -1 {
			if len(pattern) > len(shortcut) {
				return pattern
			}

			break
		}

		if i > len(shortcut) {
			shortcut = pattern[:i]
		}
		pattern = pattern[i+1:]
	}

	return shortcut
}

// parseRuleText splits the rule text into the pattern, the options string
// after the last unescaped "$", and the whitelist marker.
func parseRuleText(ruleText string) (pattern, options string, whitelist bool, err error) {
	startIndex := 0
	if strings.HasPrefix(ruleText, maskWhiteList) {
		whitelist = true
		startIndex = len(maskWhiteList)
	}

	if len(ruleText) <= startIndex {
		return "", "", whitelist, errors.Error("the rule is too short")
	}

	// Set the pattern to the rule text for the case of empty options.
	pattern = ruleText[startIndex:]

	foundEscaped := false
	for i := len(ruleText) - 2; i >= startIndex; i-- {
		c := ruleText[i]
		if c != optionsDelimiter {
			continue
		}

		if i > startIndex && ruleText[i-1] == escapeCharacter {
			foundEscaped = true

			continue
		}

		pattern = ruleText[startIndex:i]
		options = ruleText[i+1:]
		if foundEscaped {
			options = strings.ReplaceAll(options, `\$`, string(optionsDelimiter))
		}

		break
	}

	return pattern, options, whitelist, nil
}
