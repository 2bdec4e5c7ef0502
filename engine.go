package adblock

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/renameio/v2"
	"github.com/webmacs/adblock/rules"
)

// Engine matches request URLs against a set of EasyList-style network
// rules.  It is safe for concurrent use: lookups read an immutable snapshot
// of the compiled rules, while Parse and Load build a new snapshot off to
// the side and publish it atomically.
type Engine struct {
	logger *slog.Logger

	// writeMu serializes the snapshot writers, Parse and Load.
	writeMu sync.Mutex

	// idx is the current snapshot.  It is never nil and never mutated
	// after being stored.
	idx atomic.Pointer[index]
}

// NewEngine creates an empty engine logging through l.  If l is nil, logs
// are discarded.
func NewEngine(l *slog.Logger) (e *Engine) {
	if l == nil {
		l = slogutil.NewDiscardLogger()
	}

	e = &Engine{
		logger: l,
	}
	e.idx.Store(newIndex())

	return e
}

// Parse reads filter rules from text, one rule per line, and adds them to
// the engine.  It returns the number of rules added and the number of
// lines skipped.  Blank lines, comments, cosmetic rules, and rules that
// cannot be parsed are skipped, they never fail the whole call.
func (e *Engine) Parse(text string) (added, skipped int) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	next := e.idx.Load().clone()

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(nil, maxRuleLineLength)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || rules.IsComment(line) || rules.IsCosmetic(line) {
			skipped++

			continue
		}

		f, err := rules.NewNetworkRule(line)
		if err != nil {
			e.logger.Debug("skipping rule", "line", line, slogutil.KeyError, err)
			skipped++

			continue
		}

		next.add(f)
		added++
	}

	if err := scanner.Err(); err != nil {
		// Only possible when a single line exceeds the buffer size.
		e.logger.Warn("reached an overlong line, remainder skipped", slogutil.KeyError, err)
		skipped++
	}

	if added > 0 {
		next.finalize()
		e.idx.Store(next)
	}

	return added, skipped
}

// maxRuleLineLength is the longest filter-list line Parse accepts.
const maxRuleLineLength = 64 * 1024

// Matches reports whether the URL should be blocked when requested from a
// page on sourceDomain.  The request type is assumed to be generic, use
// MatchesType to match type-scoped rules like $script.
func (e *Engine) Matches(url, sourceDomain string) (blocked bool) {
	return e.MatchesType(url, sourceDomain, rules.TypeOther)
}

// MatchesType is like Matches but checks the rules against the given
// request type.
func (e *Engine) MatchesType(
	url string,
	sourceDomain string,
	requestType rules.RequestType,
) (blocked bool) {
	if url == "" {
		return false
	}

	r := rules.NewRequest(url, sourceDomain, requestType)

	return e.idx.Load().match(r)
}

// RuleCount returns the number of rules currently loaded.
func (e *Engine) RuleCount() (n int) {
	return e.idx.Load().ruleCount()
}

// Save writes the compiled rules to the file at path and reports whether
// it succeeded.  The file is written atomically, a failed save never
// leaves a truncated file behind.
func (e *Engine) Save(path string) (ok bool) {
	err := e.save(path)
	if err != nil {
		e.logger.Error("saving rules", "path", path, slogutil.KeyError, err)

		return false
	}

	return true
}

// save is the error-returning implementation of Save.
func (e *Engine) save(path string) (err error) {
	defer func() { err = errors.Annotate(err, "saving to %q: %w", path) }()

	ix := e.idx.Load()
	data, err := serializeIndex(ix)
	if err != nil {
		return err
	}

	err = renameio.WriteFile(path, data, 0o644)
	if err != nil {
		return err
	}

	e.logger.Info("saved rules", "path", path, "rules", ix.ruleCount(), "bytes", len(data))

	return nil
}

// Load replaces the engine's rules with the contents of the file at path
// and reports whether it succeeded.  On failure the engine keeps its
// current rules.
func (e *Engine) Load(path string) (ok bool) {
	err := e.load(path)
	if err != nil {
		e.logger.Error("loading rules", "path", path, slogutil.KeyError, err)

		return false
	}

	return true
}

// load is the error-returning implementation of Load.
func (e *Engine) load(path string) (err error) {
	defer func() { err = errors.Annotate(err, "loading from %q: %w", path) }()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ix, err := deserializeIndex(data)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.idx.Store(ix)

	e.logger.Info("loaded rules", "path", path, "rules", ix.ruleCount())

	return nil
}
