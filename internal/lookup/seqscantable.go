package lookup

import (
	"github.com/webmacs/adblock/rules"
)

// SeqScanTable is the simplest possible implementation of the lookup table.
// It holds the rules that could not be indexed by shortcut and checks them
// all sequentially on every request.  This table should stay small for the
// engine to remain fast.
type SeqScanTable struct {
	ruleSet RuleSet
	idxs    []int
}

// type check
var _ Table = (*SeqScanTable)(nil)

// NewSeqScanTable creates a new instance of the SeqScanTable.
func NewSeqScanTable(rs RuleSet) (s *SeqScanTable) {
	return &SeqScanTable{
		ruleSet: rs,
	}
}

// TryAdd implements the Table interface for *SeqScanTable.  It accepts
// every rule, duplicates included.
func (s *SeqScanTable) TryAdd(_ *rules.NetworkRule, idx int) (ok bool) {
	s.idxs = append(s.idxs, idx)

	return true
}

// MatchAny implements the Table interface for *SeqScanTable.
func (s *SeqScanTable) MatchAny(r *rules.Request) (f *rules.NetworkRule, ok bool) {
	for _, idx := range s.idxs {
		rule := s.ruleSet.RetrieveRule(idx)
		if rule != nil && rule.Match(r) {
			return rule, true
		}
	}

	return nil, false
}

// Clone returns a deep copy of the table reading from rs.
func (s *SeqScanTable) Clone(rs RuleSet) (c *SeqScanTable) {
	c = NewSeqScanTable(rs)
	c.idxs = append([]int(nil), s.idxs...)

	return c
}

// Indexes returns the stored rule indexes for serialization.  The returned
// slice must not be modified.
func (s *SeqScanTable) Indexes() (idxs []int) {
	return s.idxs
}

// PutIndexes restores the serialized rule indexes.
func (s *SeqScanTable) PutIndexes(idxs []int) {
	s.idxs = idxs
}
