package trie

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"pyp/internal/tag"
)

// BuildCached runs Build and records root's structural fingerprint in
// db's trie_cache table. The cached row is bookkeeping, not a stored
// trie: a Group's nodes carry live *transform.Hooks closures bound to a
// particular run's evaluator (jsvm.Runtime.TransformBlock and friends),
// which have no serializable representation — persisting the node graph
// would mean persisting function pointers. What IS cheap to persist and
// useful across the long-lived serve/cron processes this exists
// for is the fingerprint itself: a repeat hash on an unchanged grammar
// confirms the optimizer pass is being re-run against byte-identical
// input, which is the signal an operator needs to decide whether a
// grammar edit actually changed anything. A cache miss or any db error
// here never blocks the build — Build still runs, every time.
func BuildCached(db *sql.DB, root *tag.Group) (*Group, error) {
	t, err := Build(root)
	if err != nil {
		return nil, err
	}

	if db != nil {
		hash, count := Fingerprint(root)
		recordFingerprint(db, hash, count)
	}

	return t, nil
}

// Fingerprint computes a deterministic FNV-1a hash over root's literal
// tag text, arbitraryChars, flags, and nesting shape, plus the total
// number of tags seen. Two grammars built from the same structure hash
// identically regardless of which Hooks closures their openers carry.
func Fingerprint(root *tag.Group) (hash string, tagCount int) {
	h := fnv.New64a()
	count := 0
	var walk func(g *tag.Group)
	walk = func(g *tag.Group) {
		if g == nil {
			return
		}
		tags := make([]*tag.Tag, len(g.Tags))
		copy(tags, g.Tags)
		sort.Slice(tags, func(i, j int) bool {
			return string(tags[i].Text) < string(tags[j].Text)
		})
		for _, t := range tags {
			count++
			fmt.Fprintf(h, "%s|%d|%d;", t.Text, t.ArbitraryChars, t.Flags)
			walk(t.Children)
			walk(t.ClosingGroup)
		}
	}
	walk(root)
	return fmt.Sprintf("%016x", h.Sum64()), count
}

func recordFingerprint(db *sql.DB, hash string, tagCount int) {
	now := time.Now()
	_, _ = db.Exec(`
		INSERT INTO trie_cache (grammar_hash, tag_count, first_built_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(grammar_hash) DO UPDATE SET last_seen_at = excluded.last_seen_at
	`, hash, tagCount, now, now)
}
