package lookup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webmacs/adblock/rules"
)

// testRuleSet is a simple slice-backed RuleSet for tests.
type testRuleSet struct {
	rules []*rules.NetworkRule
}

// RetrieveRule implements the RuleSet interface for *testRuleSet.
func (rs *testRuleSet) RetrieveRule(idx int) (f *rules.NetworkRule) {
	if idx < 0 || idx >= len(rs.rules) {
		return nil
	}

	return rs.rules[idx]
}

// add parses the rule text, stores the rule and returns its index.
func (rs *testRuleSet) add(t *testing.T, ruleText string) (f *rules.NetworkRule, idx int) {
	t.Helper()

	f, err := rules.NewNetworkRule(ruleText)
	require.NoError(t, err)

	idx = len(rs.rules)
	rs.rules = append(rs.rules, f)

	return f, idx
}

func TestShortcutsTable_TryAdd(t *testing.T) {
	rs := &testRuleSet{}
	table := NewShortcutsTable(rs)

	f, idx := rs.add(t, "||example.org^")
	assert.True(t, table.TryAdd(f, idx))

	// The shortcut is shorter than a lookup window.
	f, idx = rs.add(t, "/ad.$script")
	assert.False(t, table.TryAdd(f, idx))

	// A bare scheme prefix would match nearly any URL.
	f, idx = rs.add(t, "https://$domain=example.org")
	assert.False(t, table.TryAdd(f, idx))
}

func TestShortcutsTable_MatchAny(t *testing.T) {
	rs := &testRuleSet{}
	table := NewShortcutsTable(rs)

	blocked, idx := rs.add(t, "||tracker.test^")
	require.True(t, table.TryAdd(blocked, idx))

	other, idx := rs.add(t, "||ads.example.org^")
	require.True(t, table.TryAdd(other, idx))

	r := rules.NewRequest("https://tracker.test/collect", "news.test", rules.TypeOther)
	f, ok := table.MatchAny(r)
	require.True(t, ok)
	assert.Same(t, blocked, f)

	r = rules.NewRequest("https://clean.test/", "news.test", rules.TypeOther)
	_, ok = table.MatchAny(r)
	assert.False(t, ok)

	// The prefilter must not change any verdicts.
	table.Finalize()

	r = rules.NewRequest("https://tracker.test/collect", "news.test", rules.TypeOther)
	f, ok = table.MatchAny(r)
	require.True(t, ok)
	assert.Same(t, blocked, f)

	r = rules.NewRequest("https://clean.test/", "news.test", rules.TypeOther)
	_, ok = table.MatchAny(r)
	assert.False(t, ok)
}

func TestShortcutsTable_bucketBalance(t *testing.T) {
	rs := &testRuleSet{}
	table := NewShortcutsTable(rs)

	// All rules share the "xmpl-" prefix, still every one must be
	// findable through its own URL.
	var fs []*rules.NetworkRule
	for i := 0; i < 50; i++ {
		f, idx := rs.add(t, fmt.Sprintf("||xmpl-%03d.test^", i))
		require.True(t, table.TryAdd(f, idx))
		fs = append(fs, f)
	}

	table.Finalize()

	for i, want := range fs {
		url := fmt.Sprintf("https://xmpl-%03d.test/page", i)
		r := rules.NewRequest(url, "news.test", rules.TypeOther)
		f, ok := table.MatchAny(r)
		require.True(t, ok, url)
		assert.Same(t, want, f)
	}
}

func TestShortcutsTable_Clone(t *testing.T) {
	rs := &testRuleSet{}
	table := NewShortcutsTable(rs)

	f, idx := rs.add(t, "||tracker.test^")
	require.True(t, table.TryAdd(f, idx))

	clone := table.Clone(rs)
	f2, idx2 := rs.add(t, "||ads.example.org^")
	require.True(t, clone.TryAdd(f2, idx2))
	clone.Finalize()

	// The clone sees both rules, the original only the first one.
	r := rules.NewRequest("https://ads.example.org/banner", "news.test", rules.TypeOther)
	_, ok := clone.MatchAny(r)
	assert.True(t, ok)

	_, ok = table.MatchAny(r)
	assert.False(t, ok)
}

func TestShortcutsTable_buckets(t *testing.T) {
	rs := &testRuleSet{}
	table := NewShortcutsTable(rs)

	f, idx := rs.add(t, "||tracker.test^")
	require.True(t, table.TryAdd(f, idx))

	restored := NewShortcutsTable(rs)
	for key, idxs := range table.Buckets() {
		restored.PutBucket(key, idxs)
	}
	restored.Finalize()

	r := rules.NewRequest("https://tracker.test/collect", "news.test", rules.TypeOther)
	got, ok := restored.MatchAny(r)
	require.True(t, ok)
	assert.Same(t, f, got)
}
