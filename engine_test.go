package adblock

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webmacs/adblock/rules"
)

// newTestEngine creates an engine that logs into the test output.
func newTestEngine(t *testing.T) (e *Engine) {
	t.Helper()

	return NewEngine(slogutil.NewDiscardLogger())
}

func TestEngine_Parse_empty(t *testing.T) {
	e := newTestEngine(t)

	added, skipped := e.Parse("")
	assert.Zero(t, added)
	assert.Zero(t, skipped)
	assert.Zero(t, e.RuleCount())

	assert.False(t, e.Matches("https://example.org/", "example.org"))
}

func TestEngine_Parse_skipped(t *testing.T) {
	e := newTestEngine(t)

	added, skipped := e.Parse(strings.Join([]string{
		"! a comment",
		"",
		"# hosts-style comment",
		"example.org##.banner",
		"example.org#@#.banner",
		`/regex\d+/`,
		"||",
		"||tracker.test^",
	}, "\n"))

	assert.Equal(t, 1, added)
	assert.Equal(t, 7, skipped)
	assert.Equal(t, 1, e.RuleCount())
}

func TestEngine_Matches(t *testing.T) {
	e := newTestEngine(t)

	added, skipped := e.Parse(strings.Join([]string{
		"||tracker.test^",
		"/banner/img^",
	}, "\n"))
	require.Equal(t, 2, added)
	require.Zero(t, skipped)

	assert.True(t, e.Matches("https://tracker.test/collect?id=1", "news.test"))
	assert.True(t, e.Matches("https://sub.tracker.test/x", "news.test"))
	assert.True(t, e.Matches("https://cdn.test/banner/img?x=1", "news.test"))

	assert.False(t, e.Matches("https://news.test/article", "news.test"))
	assert.False(t, e.Matches("https://cdn.test/banner/imgs", "news.test"))
	assert.False(t, e.Matches("", "news.test"))
}

func TestEngine_exceptionOverride(t *testing.T) {
	e := newTestEngine(t)

	added, _ := e.Parse(strings.Join([]string{
		"||ads.example.org^",
		"@@||ads.example.org/acceptable^",
	}, "\n"))
	require.Equal(t, 2, added)

	assert.True(t, e.Matches("https://ads.example.org/banner.gif", "example.org"))
	assert.False(t, e.Matches("https://ads.example.org/acceptable/ad.gif", "example.org"))
}

func TestEngine_exceptionOrderIndependent(t *testing.T) {
	// The exception wins no matter which line comes first.
	e := newTestEngine(t)
	e.Parse("@@||ads.example.org/acceptable^\n||ads.example.org^")

	assert.True(t, e.Matches("https://ads.example.org/banner.gif", "example.org"))
	assert.False(t, e.Matches("https://ads.example.org/acceptable/ad.gif", "example.org"))
}

func TestEngine_domainScoping(t *testing.T) {
	e := newTestEngine(t)

	added, _ := e.Parse("||ads.example.com^$domain=example.com")
	require.Equal(t, 1, added)

	assert.True(t, e.Matches("https://ads.example.com/banner", "example.com"))
	assert.True(t, e.Matches("https://ads.example.com/banner", "news.example.com"))
	assert.False(t, e.Matches("https://ads.example.com/banner", "other.com"))
	assert.False(t, e.Matches("https://ads.exampleXcom.test/banner", "example.com"))
}

func TestEngine_exactAnchor(t *testing.T) {
	e := newTestEngine(t)

	added, _ := e.Parse("|http://bad.test/|")
	require.Equal(t, 1, added)

	assert.True(t, e.Matches("http://bad.test/", ""))
	assert.False(t, e.Matches("http://bad.test/page", ""))
	assert.False(t, e.Matches("https://bad.test/", ""))
}

func TestEngine_wildcard(t *testing.T) {
	e := newTestEngine(t)

	added, _ := e.Parse("ad*.example.com^")
	require.Equal(t, 1, added)

	assert.True(t, e.Matches("https://adserver.example.com/x", "news.test"))
	assert.True(t, e.Matches("https://cdn.test/ad42.example.com^", "news.test"))
	assert.False(t, e.Matches("https://example.com/ad", "news.test"))
}

func TestEngine_MatchesType(t *testing.T) {
	e := newTestEngine(t)

	added, _ := e.Parse("||example.org^$script")
	require.Equal(t, 1, added)

	assert.True(t, e.MatchesType("https://example.org/lib.js", "", rules.TypeScript))
	assert.False(t, e.MatchesType("https://example.org/pic.png", "", rules.TypeImage))
	assert.False(t, e.Matches("https://example.org/lib.js", ""))
}

func TestEngine_Parse_incremental(t *testing.T) {
	e := newTestEngine(t)

	e.Parse("||tracker.test^")
	e.Parse("||ads.example.org^")

	assert.Equal(t, 2, e.RuleCount())
	assert.True(t, e.Matches("https://tracker.test/x", "news.test"))
	assert.True(t, e.Matches("https://ads.example.org/x", "news.test"))
}

func TestEngine_saveLoadRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, fmt.Sprintf("||rule-%03d.test^", i))
	}
	lines = append(lines,
		"@@||rule-007.test/allowed^",
		"||scoped.test^$domain=example.org",
		"/ad.$domain=example.org",
	)

	added, skipped := e.Parse(strings.Join(lines, "\n"))
	require.Equal(t, len(lines), added)
	require.Zero(t, skipped)

	path := filepath.Join(t.TempDir(), "rules.bin")
	require.True(t, e.Save(path))

	restored := newTestEngine(t)
	require.True(t, restored.Load(path))
	require.Equal(t, e.RuleCount(), restored.RuleCount())

	for i := 0; i < 50; i++ {
		url := fmt.Sprintf("https://rule-%03d.test/page", i)
		assert.Equal(t, e.Matches(url, "news.test"), restored.Matches(url, "news.test"), url)
	}

	for _, url := range []string{
		"https://rule-007.test/allowed/x",
		"https://scoped.test/banner",
		"https://example.org/ad.js",
		"https://clean.test/",
	} {
		assert.Equal(t, e.Matches(url, "example.org"), restored.Matches(url, "example.org"), url)
	}

	assert.False(t, restored.Matches("https://rule-007.test/allowed/x", "news.test"))
	assert.True(t, restored.Matches("https://rule-007.test/blocked", "news.test"))
	assert.False(t, restored.Matches("https://scoped.test/banner", "other.org"))
}

func TestEngine_Save_badPath(t *testing.T) {
	e := newTestEngine(t)
	e.Parse("||tracker.test^")

	assert.False(t, e.Save(filepath.Join(t.TempDir(), "no", "such", "dir", "rules.bin")))
}

func TestEngine_Load_badData(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) (path string) {
		path = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		return path
	}

	e := newTestEngine(t)
	e.Parse("||tracker.test^")

	badVersion := []byte(fileMagic)
	badVersion = binary.LittleEndian.AppendUint16(badVersion, formatVersion+1)

	good, err := serializeIndex(e.idx.Load())
	require.NoError(t, err)

	testCases := []struct {
		name string
		path string
	}{{
		name: "missing",
		path: filepath.Join(dir, "does-not-exist.bin"),
	}, {
		name: "empty",
		path: write("empty.bin", nil),
	}, {
		name: "bad_magic",
		path: write("magic.bin", []byte("NOPE\x01\x00")),
	}, {
		name: "bad_version",
		path: write("version.bin", badVersion),
	}, {
		name: "truncated",
		path: write("truncated.bin", good[:len(good)-1]),
	}, {
		name: "trailing_garbage",
		path: write("trailing.bin", append(append([]byte{}, good...), 0x00)),
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, e.Load(tc.path))

			// A failed load must leave the engine untouched.
			assert.Equal(t, 1, e.RuleCount())
			assert.True(t, e.Matches("https://tracker.test/x", "news.test"))
		})
	}
}

func TestEngine_Load_replaces(t *testing.T) {
	e := newTestEngine(t)
	e.Parse("||old.test^")

	path := filepath.Join(t.TempDir(), "rules.bin")
	require.True(t, e.Save(path))

	e2 := newTestEngine(t)
	e2.Parse("||new.test^")
	require.True(t, e2.Load(path))

	assert.True(t, e2.Matches("https://old.test/x", "news.test"))
	assert.False(t, e2.Matches("https://new.test/x", "news.test"))
}

func TestEngine_concurrency(t *testing.T) {
	e := newTestEngine(t)
	e.Parse("||tracker.test^")

	const goroutines = 8
	const iterations = 200

	wg := &sync.WaitGroup{}
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := 0; i < iterations; i++ {
				// The first rule is always present, so the verdict must
				// hold during concurrent snapshot swaps.
				assert.True(t, e.Matches("https://tracker.test/collect", "news.test"))
				e.Matches("https://clean.test/", "news.test")
			}
		}()
	}

	for i := 0; i < iterations; i++ {
		e.Parse(fmt.Sprintf("||extra-%03d.test^", i))
	}

	wg.Wait()
	assert.Equal(t, 1+iterations, e.RuleCount())
}
