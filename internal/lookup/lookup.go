// Package lookup implements the index structures used to keep per-URL
// matching sub-linear in the rule count.
package lookup

import "github.com/webmacs/adblock/rules"

// RuleSet is the read accessor the lookup tables use to resolve rule
// indexes.  Tables store small integer indexes instead of rule pointers so
// that their bucket contents can be serialized directly.
type RuleSet interface {
	// RetrieveRule returns the rule with the given index, or nil if the
	// index is out of range.
	RetrieveRule(idx int) (f *rules.NetworkRule)
}

// Table is a common interface for all lookup tables.
type Table interface {
	// TryAdd attempts to add the rule to the lookup table.  It returns
	// false if the rule is not eligible for this table.
	TryAdd(f *rules.NetworkRule, idx int) (ok bool)

	// MatchAny finds the first rule in this lookup table matching r.
	// Within a bucket, rules are checked in insertion order; one match is
	// enough since all rules in a partition have the identical effect.
	MatchAny(r *rules.Request) (f *rules.NetworkRule, ok bool)
}
