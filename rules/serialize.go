package rules

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/AdguardTeam/golibs/errors"
)

// Rule codec limits.  A serialized rule that claims anything bigger is
// corrupt, not big.
const (
	maxSerializedString = math.MaxUint16
	maxSerializedList   = 1024
)

// errCorruptRule is returned when a serialized rule cannot be decoded.
const errCorruptRule errors.Error = "corrupt serialized rule"

// WriteRuleTo appends the binary form of the rule to buf.  The encoding
// covers the complete rule model: the original text, flags, type masks,
// domain sets, the shortcut and the compiled pattern tokens, so that
// decoding does not have to re-parse the rule text.
func WriteRuleTo(buf *bytes.Buffer, f *NetworkRule) {
	writeString(buf, f.RuleText)
	writeString(buf, f.pattern)
	writeString(buf, f.Shortcut)

	var flags byte
	if f.Whitelist {
		flags |= 1
	}
	buf.WriteByte(flags)

	writeUvarint(buf, uint64(f.enabledOptions))
	writeUvarint(buf, uint64(f.disabledOptions))
	writeUvarint(buf, uint64(f.permittedRequestTypes))
	writeUvarint(buf, uint64(f.restrictedRequestTypes))

	writeStringList(buf, f.permittedDomains)
	writeStringList(buf, f.restrictedDomains)

	writeUvarint(buf, uint64(len(f.tokens)))
	for _, tok := range f.tokens {
		buf.WriteByte(byte(tok.kind))
		if tok.kind == tokenLiteral {
			writeString(buf, tok.literal)
		}
	}
}

// ReadRuleFrom decodes one rule written by WriteRuleTo.
func ReadRuleFrom(r *bytes.Reader) (f *NetworkRule, err error) {
	defer func() { err = errors.Annotate(err, "reading rule: %w") }()

	f = &NetworkRule{}

	if f.RuleText, err = readString(r); err != nil {
		return nil, err
	}
	if f.pattern, err = readString(r); err != nil {
		return nil, err
	}
	if f.Shortcut, err = readString(r); err != nil {
		return nil, err
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	f.Whitelist = flags&1 != 0

	var enabled, disabled, permTypes, restrTypes uint64
	for _, fld := range []*uint64{&enabled, &disabled, &permTypes, &restrTypes} {
		if *fld, err = binary.ReadUvarint(r); err != nil {
			return nil, err
		}
	}
	f.enabledOptions = NetworkRuleOption(enabled)
	f.disabledOptions = NetworkRuleOption(disabled)
	f.permittedRequestTypes = RequestType(permTypes)
	f.restrictedRequestTypes = RequestType(restrTypes)

	if f.permittedDomains, err = readStringList(r); err != nil {
		return nil, err
	}
	if f.restrictedDomains, err = readStringList(r); err != nil {
		return nil, err
	}

	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxSerializedList {
		return nil, errCorruptRule
	}

	f.tokens = make([]patternToken, 0, n)
	for i := uint64(0); i < n; i++ {
		kindByte, kindErr := r.ReadByte()
		if kindErr != nil {
			return nil, kindErr
		}

		kind := tokenKind(kindByte)
		if kind > tokenDomainAnchor {
			return nil, errCorruptRule
		}

		tok := patternToken{kind: kind}
		if kind == tokenLiteral {
			if tok.literal, err = readString(r); err != nil {
				return nil, err
			}
		}

		f.tokens = append(f.tokens, tok)
	}

	return f, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (s string, err error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}

	if n > maxSerializedString || int64(n) > int64(r.Len()) {
		return "", errCorruptRule
	}

	b := make([]byte, n)
	if _, err = io.ReadFull(r, b); err != nil {
		return "", err
	}

	return string(b), nil
}

func writeStringList(buf *bytes.Buffer, list []string) {
	writeUvarint(buf, uint64(len(list)))
	for _, s := range list {
		writeString(buf, s)
	}
}

func readStringList(r *bytes.Reader) (list []string, err error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxSerializedList {
		return nil, errCorruptRule
	}

	for i := uint64(0); i < n; i++ {
		s, sErr := readString(r)
		if sErr != nil {
			return nil, sErr
		}

		list = append(list, s)
	}

	return list, nil
}
