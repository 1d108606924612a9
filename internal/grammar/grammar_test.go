package grammar

import (
	"testing"

	"pyp/internal/buffer"
	"pyp/internal/position"
	"pyp/internal/transform"
)

func identity(input *buffer.DataBuffer, locs position.Chain, userData any) (*buffer.DataBuffer, transform.Status, error) {
	return input, transform.OK, nil
}

func TestDefaultGrammarBuildsWithoutError(t *testing.T) {
	h := Hooks{Block: identity, Expr: identity}
	root := Default(h, true)

	g, err := Build(root, true)
	if err != nil {
		t.Fatal(err)
	}
	if g.Trie == nil || len(g.Trie.Nodes) == 0 {
		t.Fatal("expected a non-empty trie")
	}
	if !g.Continuations {
		t.Fatal("expected continuations flag to be carried through")
	}
}

func TestDefaultGrammarWithoutContinuations(t *testing.T) {
	h := Hooks{Block: identity, Expr: identity}
	root := Default(h, false)
	g, err := Build(root, false)
	if err != nil {
		t.Fatal(err)
	}
	if g.Continuations {
		t.Fatal("expected continuations flag false")
	}
}

func TestBuildCachedNilDBBehavesLikeBuild(t *testing.T) {
	h := Hooks{Block: identity, Expr: identity}
	root := Default(h, true)

	g, err := BuildCached(nil, root, true)
	if err != nil {
		t.Fatal(err)
	}
	if g.Trie == nil || len(g.Trie.Nodes) == 0 {
		t.Fatal("expected a non-empty trie")
	}
	if !g.Continuations {
		t.Fatal("expected continuations flag to be carried through")
	}
}

func TestVersionIsParsed(t *testing.T) {
	if Version.Major() != 1 {
		t.Fatalf("expected major version 1, got %d", Version.Major())
	}
}
