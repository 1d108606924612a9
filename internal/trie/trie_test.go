package trie

import (
	"testing"

	"pyp/internal/tag"
)

func noSiblingSharesFirstByte(t *testing.T, g *Group) {
	t.Helper()
	seen := map[byte]bool{}
	for _, n := range g.Nodes {
		b := n.Prefix[0]
		if seen[b] {
			t.Fatalf("two siblings share first byte %q", b)
		}
		seen[b] = true
		if n.Children != nil {
			noSiblingSharesFirstByte(t, n.Children)
		}
	}
}

// collectTexts walks both the pure sibling-extension structure
// (Children) and each node's own nested grammar (Region), recording
// every complete tag text it finds in out.
func collectTexts(g *Group, prefix string, out map[string]bool) {
	for _, n := range g.Nodes {
		text := prefix + string(n.Prefix)
		if n.Complete {
			out[text] = true
		}
		if n.Children != nil {
			collectTexts(n.Children, text, out)
		}
		if n.Region != nil {
			collectTexts(n.Region, "", out)
		}
	}
}

func TestBuildSharedPrefixSplit(t *testing.T) {
	root := tag.NewGroup()
	root.Add(tag.New("<?", 0, tag.FlagNone, nil, nil))
	root.Add(tag.New("<?=", 0, tag.FlagNone, nil, nil))

	trie, err := Build(root)
	if err != nil {
		t.Fatal(err)
	}
	noSiblingSharesFirstByte(t, trie)

	texts := map[string]bool{}
	collectTexts(trie, "", texts)
	if !texts["<?"] || !texts["<?="] {
		t.Fatalf("expected both <? and <?= reachable, got %v", texts)
	}
}

func TestBuildDisjointTagsNoSplit(t *testing.T) {
	root := tag.NewGroup()
	root.Add(tag.New("foo", 0, tag.FlagNone, nil, nil))
	root.Add(tag.New("bar", 0, tag.FlagNone, nil, nil))

	trie, err := Build(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(trie.Nodes) != 2 {
		t.Fatalf("expected 2 top-level nodes, got %d", len(trie.Nodes))
	}
}

func TestBuildDuplicateTagIsConstructionError(t *testing.T) {
	root := tag.NewGroup()
	root.Add(tag.New("foo", 0, tag.FlagNone, nil, nil))
	root.Add(tag.New("foo", 0, tag.FlagNone, nil, nil))

	_, err := Build(root)
	if err == nil {
		t.Fatal("expected duplicate tag error")
	}
	if _, ok := err.(*DuplicateTagError); !ok {
		t.Fatalf("expected *DuplicateTagError, got %T", err)
	}
}

func TestBuildMergesChildrenAndClosingGroups(t *testing.T) {
	closing := tag.NewGroup()
	closing.Add(tag.New("?>", 0, tag.FlagNone, nil, nil))

	children := tag.NewGroup()
	children.Add(tag.New("<?", 0, tag.FlagNone, nil, nil))

	opener := tag.New("<?", 0, tag.FlagNone, closing, children)
	root := tag.NewGroup()
	root.Add(opener)

	trie, err := Build(root)
	if err != nil {
		t.Fatal(err)
	}
	open := trie.firstByte('<')
	if open == nil || !open.Complete {
		t.Fatal("expected completed <? opener node")
	}
	if open.Region == nil {
		t.Fatal("expected merged region group on opener")
	}
	texts := map[string]bool{}
	collectTexts(open.Region, "", texts)
	if !texts["<?"] || !texts["?>"] {
		t.Fatalf("expected both nested <? and closing ?>, got %v", texts)
	}
}

func TestBuildMemoizesCyclicGroups(t *testing.T) {
	// A quote group whose own closing group is itself: the escape tag's
	// children point back at the same group object.
	quote := tag.NewGroup()
	escape := tag.New(`\"`, 0, tag.FlagNone, nil, quote)
	quote.Add(escape)
	quote.Add(tag.New(`"`, 0, tag.FlagNone, nil, nil))

	root := tag.NewGroup()
	root.Add(tag.New(`"`, 0, tag.FlagNone, quote, quote))

	trie, err := Build(root)
	if err != nil {
		t.Fatal(err)
	}
	open := trie.firstByte('"')
	if open == nil || open.Region == nil {
		t.Fatal("expected opener with merged region")
	}
}

func TestBuildDeterministicModuloOrder(t *testing.T) {
	root := tag.NewGroup()
	root.Add(tag.New("ab", 0, tag.FlagNone, nil, nil))
	root.Add(tag.New("ac", 0, tag.FlagNone, nil, nil))
	root.Add(tag.New("xy", 0, tag.FlagNone, nil, nil))

	t1, err := Build(root)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := Build(root)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(t1, t2) {
		t.Fatal("expected two builds of the same grammar to be equal")
	}
}
