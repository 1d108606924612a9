// Package stack implements the two parallel stacks the scanner drives
// (spec.md §4.E, §4.F, §9 "Two parallel stacks"): the tag stack tracks
// which trie group is active at the current lexical depth, and the
// processing stack tracks which region's bytes are being collected.
// They are deliberately not collapsed into one structure: escapes push
// only to the tag stack, and a continuation closer/opener pair pops and
// re-pushes only the tag stack while the region's processing frame
// stays open; a continuation pushes no processing frame of its own.
package stack

import (
	"pyp/internal/buffer"
	"pyp/internal/pyperr"
	"pyp/internal/position"
	"pyp/internal/transform"
	"pyp/internal/trie"
)

// TagEntry is one frame of the tag stack: it records where in the trie
// the scanner currently is at this lexical depth.
type TagEntry struct {
	TagListFirst *trie.Group
	CurrentTag   *trie.Node
	Parent       *TagEntry

	// ProcessingEntry is non-nil only when this depth was pushed by an
	// opener that also opened a processing-stack frame. A plain
	// syntactic push (e.g. a quoted-string opener) leaves it nil, which
	// is how the scanner tells a "real" region closer from a closer
	// that just ends a nested escape scope (spec.md §4.G).
	ProcessingEntry *Entry
}

// TagStack tracks nesting depth through the trie. Its root entry is
// never popped.
type TagStack struct {
	root *TagEntry
	tail *TagEntry
}

// NewTagStack returns a TagStack rooted at the grammar's top-level trie
// group.
func NewTagStack(root *trie.Group) *TagStack {
	e := &TagEntry{TagListFirst: root}
	return &TagStack{root: e, tail: e}
}

// Tail returns the current (innermost) tag-stack entry.
func (s *TagStack) Tail() *TagEntry { return s.tail }

// Push enters a child group, e.g. because an opener or escape with a
// children group just fired. procEntry is the processing-stack frame
// this push also opened, or nil for a purely syntactic push.
func (s *TagStack) Push(children *trie.Group, procEntry *Entry) *TagEntry {
	e := &TagEntry{TagListFirst: children, Parent: s.tail, ProcessingEntry: procEntry}
	s.tail = e
	return e
}

// Pop leaves the current lexical depth and returns to the parent. It is
// a no-op at the root.
func (s *TagStack) Pop() {
	if s.tail.Parent != nil {
		s.tail = s.tail.Parent
	}
}

// AtRoot reports whether the tail is the (unpoppable) root entry.
func (s *TagStack) AtRoot() bool { return s.tail == s.root }

// Entry is one frame of the processing stack: it owns the in-progress
// payload of one logical region until it is popped.
type Entry struct {
	DataBuffer           *buffer.DataBuffer
	ProcessingInfo       *transform.Hooks
	CustomProcessingInfo *transform.Hooks
	IsContinuation       bool
	ErrorID              pyperr.ErrorID
	TagStackEntryAtPush  *TagEntry
	StreamLocations      position.Chain
	Parent               *Entry
}

// ProcessingStack tracks which region's bytes are currently being
// collected, one frame per open region with a non-nil ProcessingInfo.
type ProcessingStack struct {
	root *Entry
	tail *Entry
}

// NewProcessingStack returns a ProcessingStack with a root entry that
// collects output for the document itself.
func NewProcessingStack() *ProcessingStack {
	root := &Entry{DataBuffer: buffer.New()}
	return &ProcessingStack{root: root, tail: root}
}

// Tail returns the innermost processing entry.
func (s *ProcessingStack) Tail() *Entry { return s.tail }

// Root returns the document-level entry that backs the output stream
// itself (it is never transformed and never popped).
func (s *ProcessingStack) Root() *Entry { return s.root }

// AtRoot reports whether the tail is the unpoppable root entry.
func (s *ProcessingStack) AtRoot() bool { return s.tail == s.root }

// Push opens a new region frame bound to info, recording where the tag
// stack stood at push time. The scanner matches closers through
// TagEntry.ProcessingEntry, not through this record.
func (s *ProcessingStack) Push(info *transform.Hooks, isContinuation bool, tagStackEntryAtPush *TagEntry, loc position.Location) *Entry {
	e := &Entry{
		DataBuffer:          buffer.New(),
		ProcessingInfo:      info,
		IsContinuation:      isContinuation,
		TagStackEntryAtPush: tagStackEntryAtPush,
		StreamLocations:     position.Chain{loc},
		Parent:              s.tail,
	}
	s.tail = e
	return e
}

// Pop closes the current region frame and returns it along with its
// parent, which becomes the new tail. It is a no-op (returns nil, root)
// at the root.
func (s *ProcessingStack) Pop() (popped, parent *Entry) {
	if s.tail.Parent == nil {
		return nil, s.tail
	}
	popped = s.tail
	parent = s.tail.Parent
	s.tail = parent
	return popped, parent
}

// AppendLocation extends the tail entry's location chain in place —
// used when a continuation closer/opener pair keeps one logical region
// open across literal text instead of popping and re-pushing (spec.md
// §4.F).
func (e *Entry) AppendLocation(loc position.Location) {
	e.StreamLocations = e.StreamLocations.Append(loc)
}
