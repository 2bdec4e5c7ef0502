package adblock

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/webmacs/adblock/rules"
)

// Serialized format, all integers in the varint parts are unsigned varints:
//
//	magic "ABFI", 4 bytes
//	format version, uint16 little-endian
//	2 partitions, blocking rules then exceptions, each:
//	    rule count, then each rule as written by rules.WriteRuleTo
//	    shortcut bucket count, then each bucket:
//	        key, uint32 little-endian
//	        index count, then each rule index
//	    generic index count, then each rule index
//
// The bloom prefilters are not serialized, they are rebuilt on load.
const (
	fileMagic = "ABFI"

	formatVersion = uint16(1)
)

// Deserialization errors.
const (
	// ErrBadMagic is returned when the data does not start with the
	// expected magic bytes.
	ErrBadMagic errors.Error = "not a filter index file"

	// ErrBadVersion is returned when the format version is not supported.
	ErrBadVersion errors.Error = "unsupported format version"

	// errCorruptIndex is returned when the data is truncated or contains
	// out-of-range values.
	errCorruptIndex errors.Error = "corrupt filter index"
)

// maxSerializedRules bounds the rule and bucket counts read from a file so
// that corrupt data cannot cause huge allocations.
const maxSerializedRules = 1 << 22

// serializeIndex encodes ix into the binary format.
func serializeIndex(ix *index) (data []byte, err error) {
	buf := &bytes.Buffer{}

	buf.WriteString(fileMagic)

	var verBuf [2]byte
	binary.LittleEndian.PutUint16(verBuf[:], formatVersion)
	buf.Write(verBuf[:])

	for i, p := range []*partition{ix.block, ix.exceptions} {
		err = writePartition(buf, p)
		if err != nil {
			return nil, errors.Annotate(err, "partition %d: %w", i)
		}
	}

	return buf.Bytes(), nil
}

// deserializeIndex decodes data into a fresh, finalized index.
func deserializeIndex(data []byte) (ix *index, err error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(fileMagic))
	if _, err = io.ReadFull(r, magic); err != nil || string(magic) != fileMagic {
		return nil, ErrBadMagic
	}

	var verBuf [2]byte
	if _, err = io.ReadFull(r, verBuf[:]); err != nil {
		return nil, ErrBadMagic
	}

	if ver := binary.LittleEndian.Uint16(verBuf[:]); ver != formatVersion {
		return nil, errors.Annotate(ErrBadVersion, "version %d: %w", ver)
	}

	ix = newIndex()
	for i, p := range []*partition{ix.block, ix.exceptions} {
		err = readPartition(r, p)
		if err != nil {
			return nil, errors.Annotate(err, "partition %d: %w", i)
		}
	}

	if r.Len() != 0 {
		return nil, errors.Annotate(errCorruptIndex, "%w: trailing data")
	}

	ix.finalize()

	return ix, nil
}

// writePartition encodes one partition.
func writePartition(buf *bytes.Buffer, p *partition) (err error) {
	writeUvarint(buf, uint64(len(p.rules)))
	for _, f := range p.rules {
		rules.WriteRuleTo(buf, f)
	}

	buckets := p.shortcuts.Buckets()
	writeUvarint(buf, uint64(len(buckets)))
	var keyBuf [4]byte
	for key, idxs := range buckets {
		binary.LittleEndian.PutUint32(keyBuf[:], key)
		buf.Write(keyBuf[:])
		writeIndexes(buf, idxs)
	}

	writeIndexes(buf, p.generic.Indexes())

	return nil
}

// readPartition decodes one partition into p, which must be empty.
func readPartition(r *bytes.Reader, p *partition) (err error) {
	ruleCount, err := readCount(r)
	if err != nil {
		return errors.Annotate(err, "rule count: %w")
	}

	p.rules = make([]*rules.NetworkRule, 0, ruleCount)
	for i := uint64(0); i < ruleCount; i++ {
		f, ruleErr := rules.ReadRuleFrom(r)
		if ruleErr != nil {
			return errors.Annotate(ruleErr, "rule %d: %w", i)
		}

		p.rules = append(p.rules, f)
	}

	bucketCount, err := readCount(r)
	if err != nil {
		return errors.Annotate(err, "bucket count: %w")
	}

	var keyBuf [4]byte
	for i := uint64(0); i < bucketCount; i++ {
		if _, err = io.ReadFull(r, keyBuf[:]); err != nil {
			return errors.Annotate(errCorruptIndex, "%w: bucket key")
		}

		key := binary.LittleEndian.Uint32(keyBuf[:])
		idxs, idxErr := readIndexes(r, len(p.rules))
		if idxErr != nil {
			return errors.Annotate(idxErr, "bucket %d: %w", i)
		}

		p.shortcuts.PutBucket(key, idxs)
	}

	idxs, err := readIndexes(r, len(p.rules))
	if err != nil {
		return errors.Annotate(err, "generic indexes: %w")
	}

	p.generic.PutIndexes(idxs)

	return nil
}

// writeIndexes encodes a rule-index list.
func writeIndexes(buf *bytes.Buffer, idxs []int) {
	writeUvarint(buf, uint64(len(idxs)))
	for _, idx := range idxs {
		writeUvarint(buf, uint64(idx))
	}
}

// readIndexes decodes a rule-index list and validates that every index is
// below ruleCount.
func readIndexes(r *bytes.Reader, ruleCount int) (idxs []int, err error) {
	count, err := readCount(r)
	if err != nil {
		return nil, err
	}

	idxs = make([]int, 0, count)
	for i := uint64(0); i < count; i++ {
		idx, idxErr := binary.ReadUvarint(r)
		if idxErr != nil || idx >= uint64(ruleCount) {
			return nil, errors.Annotate(errCorruptIndex, "%w: rule index")
		}

		idxs = append(idxs, int(idx))
	}

	return idxs, nil
}

// readCount reads a length prefix and validates it against
// maxSerializedRules.
func readCount(r *bytes.Reader) (count uint64, err error) {
	count, err = binary.ReadUvarint(r)
	if err != nil || count > maxSerializedRules {
		return 0, errors.Annotate(errCorruptIndex, "%w: length prefix")
	}

	return count, nil
}

// writeUvarint appends v to buf as an unsigned varint.
func writeUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}
