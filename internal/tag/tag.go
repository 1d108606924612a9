// Package tag defines the user-facing grammar: literal tags, nested tag
// groups, and the transform bindings an opener carries (spec.md §3).
package tag

import "pyp/internal/transform"

// Flags are per-tag behavior bits.
type Flags uint32

const (
	FlagNone         Flags = 0
	FlagContinuation Flags = 1 << iota
)

// Tag is a literal byte pattern plus an optional wildcard tail and
// nesting references. Only an opener carries ProcessingInfo; closers and
// escapes leave it nil.
type Tag struct {
	Text           []byte
	ArbitraryChars int
	Flags          Flags

	// Children is the group scanned once this tag opens a region — nil
	// for a closer or a plain escape.
	Children *Group
	// ClosingGroup is the set of tags that terminate the region this
	// tag opens — nil for a closer or a plain escape.
	ClosingGroup *Group

	ProcessingInfo *transform.Hooks
}

// IsContinuation reports whether this tag participates in the
// continuation convention (§4.H).
func (t *Tag) IsContinuation() bool {
	return t.Flags&FlagContinuation != 0
}

// New builds a Tag. text must be non-empty.
func New(text string, arbitraryChars int, flags Flags, closingGroup, children *Group) *Tag {
	if text == "" {
		panic("tag: text must be non-empty")
	}
	if arbitraryChars < 0 {
		panic("tag: arbitraryChars must be >= 0")
	}
	return &Tag{
		Text:           []byte(text),
		ArbitraryChars: arbitraryChars,
		Flags:          flags,
		ClosingGroup:   closingGroup,
		Children:       children,
	}
}

// WithProcessingInfo attaches transform hooks and returns the tag for
// chaining. Only meaningful on an opener.
func (t *Tag) WithProcessingInfo(info *transform.Hooks) *Tag {
	t.ProcessingInfo = info
	return t
}

// Group is an ordered pattern alternation at one lexical level.
type Group struct {
	Tags []*Tag
}

// NewGroup returns an empty Group.
func NewGroup() *Group {
	return &Group{}
}

// Add appends t to the group and returns the group for chaining.
func (g *Group) Add(t *Tag) *Group {
	g.Tags = append(g.Tags, t)
	return g
}
