// Package adblock implements a filtering engine for EasyList-style rule
// lists.  The engine parses network rules, matches request URLs against
// them in sub-linear time, and saves and loads its compiled state in a
// compact binary format.
package adblock

import (
	"github.com/webmacs/adblock/internal/lookup"
	"github.com/webmacs/adblock/rules"
)

// partition holds one class of rules, either blocking rules or exceptions,
// together with the lookup tables that index them.
type partition struct {
	// shortcuts indexes the rules that have a usable shortcut.
	shortcuts *lookup.ShortcutsTable

	// generic holds the rules that could not be indexed by shortcut.
	generic *lookup.SeqScanTable

	// rules holds every rule of the partition in insertion order.  The
	// lookup tables store indexes into this slice.
	rules []*rules.NetworkRule
}

// type check
var _ lookup.RuleSet = (*partition)(nil)

// newPartition creates an empty partition.
func newPartition() (p *partition) {
	p = &partition{}
	p.shortcuts = lookup.NewShortcutsTable(p)
	p.generic = lookup.NewSeqScanTable(p)

	return p
}

// RetrieveRule implements the lookup.RuleSet interface for *partition.
func (p *partition) RetrieveRule(idx int) (f *rules.NetworkRule) {
	if idx < 0 || idx >= len(p.rules) {
		return nil
	}

	return p.rules[idx]
}

// add appends f to the partition and files it into a lookup table.
func (p *partition) add(f *rules.NetworkRule) {
	idx := len(p.rules)
	p.rules = append(p.rules, f)

	if !p.shortcuts.TryAdd(f, idx) {
		p.generic.TryAdd(f, idx)
	}
}

// match returns the first rule of the partition matching r.
func (p *partition) match(r *rules.Request) (f *rules.NetworkRule, ok bool) {
	if f, ok = p.shortcuts.MatchAny(r); ok {
		return f, true
	}

	return p.generic.MatchAny(r)
}

// finalize rebuilds the derived lookup structures after a batch of adds.
func (p *partition) finalize() {
	p.shortcuts.Finalize()
}

// clone returns a deep copy of the partition.
func (p *partition) clone() (c *partition) {
	c = &partition{}
	c.rules = append([]*rules.NetworkRule(nil), p.rules...)
	c.shortcuts = p.shortcuts.Clone(c)
	c.generic = p.generic.Clone(c)

	return c
}

// ruleCount returns the number of rules in the partition.
func (p *partition) ruleCount() (n int) {
	return len(p.rules)
}

// index is an immutable snapshot of the compiled rule set.  Once published
// to the engine it is never mutated, so readers need no locking.
type index struct {
	// block holds the blocking rules.
	block *partition

	// exceptions holds the exception rules.  They take precedence over
	// blocking rules.
	exceptions *partition
}

// newIndex creates an empty index.
func newIndex() (ix *index) {
	return &index{
		block:      newPartition(),
		exceptions: newPartition(),
	}
}

// add files f into the right partition.
func (ix *index) add(f *rules.NetworkRule) {
	if f.Whitelist {
		ix.exceptions.add(f)
	} else {
		ix.block.add(f)
	}
}

// finalize rebuilds the derived structures of both partitions.
func (ix *index) finalize() {
	ix.block.finalize()
	ix.exceptions.finalize()
}

// clone returns a deep copy of the index that can be mutated without
// affecting readers of the original.
func (ix *index) clone() (c *index) {
	return &index{
		block:      ix.block.clone(),
		exceptions: ix.exceptions.clone(),
	}
}

// match checks r against both partitions.  An exception rule overrides any
// blocking rule, so blocked is false when an exception matches even if a
// blocking rule matches too.
func (ix *index) match(r *rules.Request) (blocked bool) {
	if _, ok := ix.exceptions.match(r); ok {
		return false
	}

	_, ok := ix.block.match(r)

	return ok
}

// ruleCount returns the total number of rules in the index.
func (ix *index) ruleCount() (n int) {
	return ix.block.ruleCount() + ix.exceptions.ruleCount()
}
