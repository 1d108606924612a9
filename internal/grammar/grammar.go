// Package grammar assembles user TagGroups into a buildable trie and
// supplies the default code/expression grammar (spec.md §6 "Region
// syntax recognized by the default grammar").
package grammar

import (
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"pyp/internal/tag"
	"pyp/internal/transform"
	"pyp/internal/trie"
)

// Grammar is a built matcher ready to hand to the scanner, plus the
// flags describing which optional behaviors it encodes.
type Grammar struct {
	Trie          *trie.Group
	Continuations bool
}

// Build runs the trie optimizer over root and wraps any duplicate-tag
// grammar-construction error from the optimizer (spec.md §9's Open
// Questions: two identical tags in one group is a construction error,
// not a runtime assertion).
func Build(root *tag.Group, continuations bool) (*Grammar, error) {
	t, err := trie.Build(root)
	if err != nil {
		return nil, fmt.Errorf("grammar: %w", err)
	}
	return &Grammar{Trie: t, Continuations: continuations}, nil
}

// BuildCached is Build, but records root's structural fingerprint in
// db's trie_cache table via trie.BuildCached (spec.md §9.9). db may be
// nil, in which case this behaves exactly like Build. The serve and
// cron processes, which rebuild the same grammar across many scans, and
// `pyp doctor` call it; the one-shot `run` command, which `watch` also
// re-runs on each change, calls Build directly instead.
func BuildCached(db *sql.DB, root *tag.Group, continuations bool) (*Grammar, error) {
	t, err := trie.BuildCached(db, root)
	if err != nil {
		return nil, fmt.Errorf("grammar: %w", err)
	}
	return &Grammar{Trie: t, Continuations: continuations}, nil
}

// Hooks supplies the evaluator-bound transform callbacks the default
// grammar wires onto its code and expression openers. The core grammar
// package has no opinion on what runs inside them — it only shapes the
// tag structure.
type Hooks struct {
	Block        transform.Func
	Expr         transform.Func
	ChildSuccess transform.Func
	ChildFailure transform.Func
	Continuation transform.Func
}

// Version is the semantic version of the default grammar's wire syntax,
// bumped whenever a custom YAML-defined grammar would need to declare
// compatibility (see config.GrammarSpec.Version).
var Version = semver.MustParse("1.0.0")

// Default builds the built-in `<? ... ?>` / `<?= ... ?>` grammar:
// plain code blocks, expression blocks, optional continuation variants,
// and nested quoted-string escape groups so that a closer appearing
// inside a string literal does not end the region.
func Default(h Hooks, continuations bool) *tag.Group {
	root := tag.NewGroup()

	// Every opener — continuation-flavored or not — shares the same
	// closing and children groups, so that a plain "<?" region can be
	// left open by a continuation closer and a "<?..." opener can close
	// it for real: the trie optimizer's memoization key (childrenGroup,
	// closingGroup) collapses all four openers' nested structure into
	// one shared sub-trie regardless.
	closingTags := tag.NewGroup().Add(tag.New("?>", 0, tag.FlagNone, nil, nil))
	if continuations {
		closingTags.Add(tag.New("...?>", 0, tag.FlagContinuation, nil, nil))
	}
	children := stringEscapeGroup()

	// Hooks are shared by pointer within a family (block vs. expr) so
	// that familyMatches (scanner.go) can tell a continuation closer's
	// family apart from the opener trying to resume it: "<?" and
	// "<?..." must compare equal, "<?" and "<?=..." must not.
	blockHooks := &transform.Hooks{
		Self:         h.Block,
		ChildSuccess: h.ChildSuccess,
		ChildFailure: h.ChildFailure,
		Continuation: h.Continuation,
	}
	exprHooks := &transform.Hooks{
		Self:         h.Expr,
		ChildSuccess: h.ChildSuccess,
		ChildFailure: h.ChildFailure,
		Continuation: h.Continuation,
	}

	block := tag.New("<?", 0, tag.FlagNone, closingTags, children).WithProcessingInfo(blockHooks)
	expr := tag.New("<?=", 0, tag.FlagNone, closingTags, children).WithProcessingInfo(exprHooks)
	root.Add(block)
	root.Add(expr)

	if continuations {
		blockCont := tag.New("<?...", 0, tag.FlagContinuation, closingTags, children).WithProcessingInfo(blockHooks)
		exprCont := tag.New("<?=...", 0, tag.FlagContinuation, closingTags, children).WithProcessingInfo(exprHooks)
		root.Add(blockCont)
		root.Add(exprCont)
	}

	return root
}

// stringEscapeGroup returns the quote groups shared as the children of
// any code region: '...', "...", '''...''' and """...""". Each quote
// opener gets its own closing group and a separate escape group as its
// children (see quoteTag); neither refers back to an enclosing group,
// so the default grammar contains no cycle.
func stringEscapeGroup() *tag.Group {
	g := tag.NewGroup()
	g.Add(quoteTag(`'`, true))
	g.Add(quoteTag(`"`, true))
	g.Add(quoteTag(`'''`, false))
	g.Add(quoteTag(`"""`, false))
	return g
}

// quoteTag builds one quote-delimiter opener. singleLine quotes also
// treat a bare CR or LF as an implicit closer; triple-quoted strings
// may span lines so they don't.
//
// The escape group carries both backslash escapes spec.md §6 names: the
// one-char `\` + any byte (arbitraryChars=1), and the two-char `\<CRLF>`
// line continuation, a literal 3-byte tag ("\", "\r", "\n") that shares
// the `\` node's prefix. The trie optimizer merges them into one Complete
// node with both ArbitraryChars>0 and Children!=nil — the scanner tries
// the longer CRLF continuation first and only falls back to the 1-byte
// wildcard escape if the next two bytes aren't "\r\n" (spec.md §9's
// wildcard design note; see DESIGN.md).
func quoteTag(quote string, singleLine bool) *tag.Tag {
	closing := tag.NewGroup()
	closing.Add(tag.New(quote, 0, tag.FlagNone, nil, nil))
	if singleLine {
		closing.Add(tag.New("\r", 0, tag.FlagNone, nil, nil))
		closing.Add(tag.New("\n", 0, tag.FlagNone, nil, nil))
	}

	children := tag.NewGroup()
	children.Add(tag.New(`\`, 1, tag.FlagNone, nil, nil))
	children.Add(tag.New("\\\r\n", 0, tag.FlagNone, nil, nil))

	return tag.New(quote, 0, tag.FlagNone, closing, children)
}
