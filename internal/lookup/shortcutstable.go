package lookup

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/webmacs/adblock/internal/fasthash"
	"github.com/webmacs/adblock/rules"
)

// shortcutLength is the length of the shortcut windows the table is keyed
// by.  Rules whose shortcut is shorter than this are not eligible and fall
// through to the sequential-scan table.
const shortcutLength = 5

// bloomFalsePositiveRate is the target false-positive rate of the bucket-key
// prefilter.  A false positive only costs one extra map lookup.
const bloomFalsePositiveRate = 0.01

// ShortcutsTable is a table that relies on the rule "shortcuts" to quickly
// find matching rules:
//
//  1. The longest substring of the rule pattern without special characters
//     (the "shortcut") is extracted when the rule is parsed.
//  2. A window of length shortcutLength is taken from it and hashed into the
//     bucket map.  Among all possible windows, the one landing in the least
//     populated bucket is chosen, which keeps buckets short.
//  3. To match a request, every substring of that length in the URL is
//     hashed and probed, so any rule whose shortcut occurs in the URL is
//     guaranteed to be found.
//
// A bloom filter over the bucket keys rejects the vast majority of probe
// hashes before they reach the map.
type ShortcutsTable struct {
	// ruleSet resolves the stored rule indexes.
	ruleSet RuleSet

	// buckets maps a window hash to the indexes of the rules filed under
	// it, in insertion order.
	buckets map[uint32][]int

	// histogram tracks bucket sizes to choose the best window for each new
	// rule.
	histogram map[uint32]int

	// prefilter is the bloom filter over bucket keys.  It is nil until
	// Finalize is called and is rebuilt, not serialized.
	prefilter *bloom.BloomFilter
}

// type check
var _ Table = (*ShortcutsTable)(nil)

// NewShortcutsTable creates a new instance of the ShortcutsTable.
func NewShortcutsTable(rs RuleSet) (s *ShortcutsTable) {
	return &ShortcutsTable{
		ruleSet:   rs,
		buckets:   map[uint32][]int{},
		histogram: map[uint32]int{},
	}
}

// TryAdd implements the Table interface for *ShortcutsTable.
func (s *ShortcutsTable) TryAdd(f *rules.NetworkRule, idx int) (ok bool) {
	shortcuts := ruleShortcutWindows(f)
	if len(shortcuts) == 0 {
		return false
	}

	// Find the least used bucket among the candidate windows.
	var bucketHash uint32
	minCount := math.MaxInt
	for _, shortcut := range shortcuts {
		hash := fasthash.String(shortcut)
		if count := s.histogram[hash]; count < minCount {
			minCount = count
			bucketHash = hash
		}
	}

	s.histogram[bucketHash] = minCount + 1
	s.buckets[bucketHash] = append(s.buckets[bucketHash], idx)

	// Invalidate the prefilter, it no longer covers all keys.
	s.prefilter = nil

	return true
}

// MatchAny implements the Table interface for *ShortcutsTable.
func (s *ShortcutsTable) MatchAny(r *rules.Request) (f *rules.NetworkRule, ok bool) {
	url := r.URLLowerCase
	var keyBuf [4]byte
	for i := 0; i <= len(url)-shortcutLength; i++ {
		hash := fasthash.Between(url, i, i+shortcutLength)

		if s.prefilter != nil {
			binary.LittleEndian.PutUint32(keyBuf[:], hash)
			if !s.prefilter.Test(keyBuf[:]) {
				continue
			}
		}

		for _, idx := range s.buckets[hash] {
			rule := s.ruleSet.RetrieveRule(idx)
			if rule != nil && rule.Match(r) {
				return rule, true
			}
		}
	}

	return nil, false
}

// Finalize builds the bloom prefilter over the current bucket keys.  It must
// be called again after any TryAdd for the prefilter to take effect.
func (s *ShortcutsTable) Finalize() {
	if len(s.buckets) == 0 {
		s.prefilter = nil

		return
	}

	filter := bloom.NewWithEstimates(uint(len(s.buckets)), bloomFalsePositiveRate)
	var keyBuf [4]byte
	for hash := range s.buckets {
		binary.LittleEndian.PutUint32(keyBuf[:], hash)
		filter.Add(keyBuf[:])
	}

	s.prefilter = filter
}

// Clone returns a deep copy of the table reading from rs.  The clone shares
// nothing with the original, so the original can keep serving reads while
// the clone is mutated.
func (s *ShortcutsTable) Clone(rs RuleSet) (c *ShortcutsTable) {
	c = NewShortcutsTable(rs)
	for hash, idxs := range s.buckets {
		c.buckets[hash] = append([]int(nil), idxs...)
	}
	for hash, count := range s.histogram {
		c.histogram[hash] = count
	}

	return c
}

// Buckets returns the bucket table for serialization.  The returned map
// must not be modified.
func (s *ShortcutsTable) Buckets() (buckets map[uint32][]int) {
	return s.buckets
}

// PutBucket restores one serialized bucket.
func (s *ShortcutsTable) PutBucket(hash uint32, idxs []int) {
	s.buckets[hash] = idxs
	s.histogram[hash] = len(idxs)
}

// ruleShortcutWindows returns the windows of the rule shortcut that can be
// used as bucket keys.
func ruleShortcutWindows(f *rules.NetworkRule) (shortcuts []string) {
	if len(f.Shortcut) < shortcutLength {
		return nil
	}

	if isAnyURLShortcut(f) {
		return nil
	}

	for i := 0; i <= len(f.Shortcut)-shortcutLength; i++ {
		shortcuts = append(shortcuts, f.Shortcut[i:i+shortcutLength])
	}

	return shortcuts
}

// isAnyURLShortcut checks if the shortcut is a bare scheme prefix and would
// therefore match nearly every URL.  Such rules belong in the sequential
// table.
func isAnyURLShortcut(f *rules.NetworkRule) (ok bool) {
	switch shLen := len(f.Shortcut); {
	case
		shLen < len("ws://")+1 && strings.HasPrefix(f.Shortcut, "ws:"),
		shLen < len("wss://")+1 && strings.HasPrefix(f.Shortcut, "wss:"),
		shLen < len("https://")+1 && strings.HasPrefix(f.Shortcut, "http"):
		return true
	default:
		return false
	}
}
