// Package trie builds the prefix-merged matcher the scanner drives
// (spec.md §3/§4.B): a user's nested tag groups are optimized into a
// trie whose nodes are shared wherever two tags share a prefix, and
// whose "children" group doubles as the root for the tag's own nested
// content once that tag fires.
package trie

import (
	"bytes"
	"fmt"

	"pyp/internal/tag"
	"pyp/internal/transform"
)

// Node is one trie position: the literal byte prefix shared by every tag
// that passes through it, plus completion metadata.
type Node struct {
	Prefix []byte

	// Complete marks a node that terminates some user tag.
	Complete bool
	// Closing marks a Complete node as a closer variant (only
	// meaningful when Complete is true).
	Closing bool

	ArbitraryChars int
	Flags          tag.Flags
	ProcessingInfo *transform.Hooks

	// Children holds nodes continuing a longer sibling tag's suffix
	// past this node — e.g. "<?" is itself a complete tag but also a
	// strict prefix of "<?=", so matching must keep speculating past a
	// Complete node whenever Children is non-nil.
	Children *Group

	// Region is the merged Children ∪ ClosingGroup trie for this node's
	// own nested content (§4.B), entered only once the node is actually
	// committed as the final match — never consulted while still
	// speculatively matching toward a longer sibling. Keeping this
	// separate from Children matters precisely because a tag and a
	// longer sibling sharing its prefix is common (quote delimiters are
	// the same story: ' is a prefix of '''); without the split, a
	// sibling's disambiguating suffix byte would leak into the set of
	// bytes recognized throughout the region's own content.
	Region *Group
}

// IsContinuation reports whether the completed tag carries the
// continuation flag.
func (n *Node) IsContinuation() bool {
	return n.Flags&tag.FlagContinuation != 0
}

// Group is a set of sibling trie nodes; invariant (i) of spec.md §8: no
// two siblings share a first byte.
type Group struct {
	Nodes []*Node
}

// FirstByte returns the sibling Node in g whose Prefix starts with b,
// or nil if none matches — the scanner's primitive for "is there a
// trie path starting with this byte" (spec.md §4.G step 1).
func (g *Group) FirstByte(b byte) *Node {
	return g.firstByte(b)
}

// firstByte returns the Node in g whose Prefix starts with b, if any.
func (g *Group) firstByte(b byte) *Node {
	for _, n := range g.Nodes {
		if n.Prefix[0] == b {
			return n
		}
	}
	return nil
}

// DuplicateTagError reports two identical user tags registered in the
// same TagGroup — per spec.md §9's Open Questions, this is a
// grammar-construction error rather than an assertion.
type DuplicateTagError struct {
	Text           string
	ArbitraryChars int
}

func (e *DuplicateTagError) Error() string {
	return fmt.Sprintf("trie: duplicate tag %q (arbitraryChars=%d) in the same group", e.Text, e.ArbitraryChars)
}

type groupPair struct {
	children *tag.Group
	closing  *tag.Group
}

// builder runs the optimizer pass. The memo map is keyed by the
// (children, closing) group pointer pair so a cyclic grammar — e.g. a
// quote group whose closing group references itself — resolves to a
// single shared output group instead of diverging (spec.md §9).
type builder struct {
	memo map[groupPair]*Group
}

// Build runs the trie optimizer over a user's top-level TagGroup and
// returns the merged trie (spec.md §4.B). The only error it returns is
// *DuplicateTagError.
func Build(root *tag.Group) (*Group, error) {
	b := &builder{memo: make(map[groupPair]*Group)}
	return b.buildPair(root, nil)
}

func (b *builder) buildPair(children, closing *tag.Group) (*Group, error) {
	key := groupPair{children, closing}
	if out, ok := b.memo[key]; ok {
		return out, nil
	}
	out := &Group{}
	b.memo[key] = out

	if children != nil {
		for _, t := range children.Tags {
			if err := b.insert(out, t, t.Text, false); err != nil {
				return nil, err
			}
		}
	}
	if closing != nil {
		for _, t := range closing.Tags {
			if err := b.insert(out, t, t.Text, true); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// insert places the remaining suffix of t's text into group, walking or
// extending the trie as needed, per the algorithm in spec.md §4.B.
func (b *builder) insert(group *Group, t *tag.Tag, remaining []byte, closingOrigin bool) error {
	if existing := group.firstByte(remaining[0]); existing != nil {
		k := commonPrefixLen(existing.Prefix, remaining)
		if k < len(existing.Prefix) {
			split(existing, k)
		}
		rest := remaining[k:]
		if len(rest) == 0 {
			return b.finalize(existing, t, closingOrigin)
		}
		if existing.Children == nil {
			existing.Children = &Group{}
		}
		return b.insert(existing.Children, t, rest, closingOrigin)
	}

	node := &Node{Prefix: append([]byte(nil), remaining...)}
	group.Nodes = append(group.Nodes, node)
	return b.finalize(node, t, closingOrigin)
}

// finalize attaches a completed user tag's metadata to node and, if the
// tag has nested structure of its own, merges it into node.Region.
func (b *builder) finalize(node *Node, t *tag.Tag, closingOrigin bool) error {
	if node.Complete {
		return &DuplicateTagError{Text: string(t.Text), ArbitraryChars: t.ArbitraryChars}
	}
	node.Complete = true
	node.Closing = closingOrigin
	node.ArbitraryChars = t.ArbitraryChars
	node.Flags = t.Flags
	node.ProcessingInfo = t.ProcessingInfo

	if t.Children == nil && t.ClosingGroup == nil {
		return nil
	}
	merged, err := b.buildPair(t.Children, t.ClosingGroup)
	if err != nil {
		return err
	}
	node.Region = merged
	return nil
}

// split breaks node's prefix at position k < len(node.Prefix): node
// keeps the first k bytes and becomes a pure branch point, while its old
// identity (completion flags, arbitraryChars, region, ...) moves onto a
// new single child holding the remaining suffix.
func split(node *Node, k int) {
	tail := append([]byte(nil), node.Prefix[k:]...)
	child := &Node{
		Prefix:         tail,
		Complete:       node.Complete,
		Closing:        node.Closing,
		ArbitraryChars: node.ArbitraryChars,
		Flags:          node.Flags,
		ProcessingInfo: node.ProcessingInfo,
		Children:       node.Children,
		Region:         node.Region,
	}

	node.Prefix = node.Prefix[:k]
	node.Complete = false
	node.Closing = false
	node.ArbitraryChars = 0
	node.Flags = tag.FlagNone
	node.ProcessingInfo = nil
	node.Region = nil
	node.Children = &Group{Nodes: []*Node{child}}
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Equal reports whether two trie groups spell the same set of
// byte-sequences with the same completion metadata — used by tests to
// check determinism modulo ordering (spec.md §8).
func Equal(a, b *Group) bool {
	if len(a.Nodes) != len(b.Nodes) {
		return false
	}
	used := make([]bool, len(b.Nodes))
	for _, na := range a.Nodes {
		found := false
		for i, nb := range b.Nodes {
			if used[i] || !bytes.Equal(na.Prefix, nb.Prefix) {
				continue
			}
			if na.Complete != nb.Complete || na.Closing != nb.Closing || na.ArbitraryChars != nb.ArbitraryChars {
				continue
			}
			childrenEqual := (na.Children == nil) == (nb.Children == nil)
			if childrenEqual && na.Children != nil {
				childrenEqual = Equal(na.Children, nb.Children)
			}
			if !childrenEqual {
				continue
			}
			regionEqual := (na.Region == nil) == (nb.Region == nil)
			if regionEqual && na.Region != nil {
				regionEqual = Equal(na.Region, nb.Region)
			}
			if !regionEqual {
				continue
			}
			used[i] = true
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}
