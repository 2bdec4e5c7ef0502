package rules

import (
	"math/bits"
	"strings"

	"github.com/webmacs/adblock/internal/urlutil"
	"golang.org/x/net/publicsuffix"
)

// maxURLLength limits the URL length by 4 KiB.  It appears that there can be
// URLs longer than a megabyte, and it makes no sense to go through the whole
// URL.
const maxURLLength = 4 * 1024

// RequestType is the request types enumeration.
type RequestType uint32

const (
	// TypeDocument (main frame).
	TypeDocument RequestType = 1 << iota
	// TypeSubdocument (iframe) $subdocument.
	TypeSubdocument
	// TypeScript (javascript, etc) $script.
	TypeScript
	// TypeStylesheet (css) $stylesheet.
	TypeStylesheet
	// TypeObject (flash, etc) $object.
	TypeObject
	// TypeImage (any image) $image.
	TypeImage
	// TypeXmlhttprequest (ajax/fetch) $xmlhttprequest.
	TypeXmlhttprequest
	// TypeMedia (video/music) $media.
	TypeMedia
	// TypeFont (any custom font) $font.
	TypeFont
	// TypeWebsocket (a websocket connection) $websocket.
	TypeWebsocket
	// TypePing (navigator.sendBeacon() or ping attribute on links) $ping.
	TypePing
	// TypeOther is any other request type.  It is the default type for
	// callers that do not know the kind of request they're checking.
	TypeOther
)

// Count returns the count of the enabled flags.
func (t RequestType) Count() (n int) {
	return bits.OnesCount32(uint32(t))
}

// Request represents a web filtering request with all its necessary
// properties.
type Request struct {
	// URL is the full request URL.
	URL string

	// URLLowerCase is the full request URL in lower case.
	URLLowerCase string

	// Hostname is the hostname extracted from URL.
	Hostname string

	// Domain is the effective top-level domain of the request with an
	// additional label.
	Domain string

	// SourceHostname is the hostname of the page the request originates
	// from.
	SourceHostname string

	// SourceDomain is the effective top-level domain of the source with an
	// additional label.
	SourceDomain string

	// RequestType is the type of the filtering request.
	RequestType RequestType

	// ThirdParty is true if the request target and the source belong to
	// different registrable domains.
	ThirdParty bool
}

// NewRequest creates a new Request for the given URL in the context of the
// page at sourceDomain.  sourceDomain may be empty, in which case no
// third-party and no $domain constraints will be considered satisfied or
// violated based on it.
func NewRequest(url, sourceDomain string, requestType RequestType) (r *Request) {
	if len(url) > maxURLLength {
		url = url[:maxURLLength]
	}

	urlLowerCase := strings.ToLower(url)

	r = &Request{
		RequestType: requestType,

		URL:          url,
		URLLowerCase: urlLowerCase,
		Hostname:     urlutil.Hostname(urlLowerCase),

		SourceHostname: strings.ToLower(sourceDomain),
	}

	r.Domain = effectiveTLDPlusOne(r.Hostname)
	if r.Domain == "" {
		r.Domain = r.Hostname
	}

	r.SourceDomain = effectiveTLDPlusOne(r.SourceHostname)
	if r.SourceDomain == "" {
		r.SourceDomain = r.SourceHostname
	}

	if r.SourceDomain != "" && r.SourceDomain != r.Domain {
		r.ThirdParty = true
	}

	return r
}

// effectiveTLDPlusOne is a faster version of publicsuffix.EffectiveTLDPlusOne
// that avoids using fmt.Errorf when the domain is less or equal the suffix.
func effectiveTLDPlusOne(hostname string) (domain string) {
	hostnameLen := len(hostname)
	if hostnameLen < 1 {
		return ""
	}

	if hostname[0] == '.' || hostname[hostnameLen-1] == '.' {
		return ""
	}

	suffix, _ := publicsuffix.PublicSuffix(hostname)

	i := hostnameLen - len(suffix) - 1
	if i < 0 || hostname[i] != '.' {
		return ""
	}

	return hostname[1+strings.LastIndex(hostname[:i], "."):]
}
