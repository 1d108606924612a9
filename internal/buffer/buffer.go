// Package buffer implements the chunked, append-only byte accumulator
// that the scanner uses to collect a region's payload (spec.md §4.A).
package buffer

import "errors"

// ErrOutOfMemory mirrors the C core's allocation-failure status for
// Unify. Go's allocator panics rather than returning an error on OOM, so
// in practice Unify never produces it; it's kept so callers can match on
// the same error the spec's contract names.
var ErrOutOfMemory = errors.New("buffer: out of memory")

type segment struct {
	data []byte
	next *segment
}

// DataBuffer is a linked chain of byte segments plus a running total
// size. Segments of zero length are never created; segment contents are
// opaque to the buffer itself.
type DataBuffer struct {
	head *segment
	tail *segment
	size int
}

// New returns an empty DataBuffer.
func New() *DataBuffer {
	return &DataBuffer{}
}

// Size returns the total number of bytes accumulated.
func (b *DataBuffer) Size() int {
	return b.size
}

// Empty drops all segments and resets the size to 0.
func (b *DataBuffer) Empty() {
	b.head = nil
	b.tail = nil
	b.size = 0
}

// Extend appends a fresh zero-valued segment of exactly n bytes and
// returns it as a writable handle. n must be > 0.
func (b *DataBuffer) Extend(n int) []byte {
	if n <= 0 {
		panic("buffer: Extend requires n > 0")
	}
	seg := &segment{data: make([]byte, n)}
	b.link(seg)
	return seg.data
}

// ExtendWith copies data into a new trailing segment.
func (b *DataBuffer) ExtendWith(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.link(&segment{data: cp})
}

// ExtendWithString is ExtendWith for a string payload.
func (b *DataBuffer) ExtendWithString(s string) {
	b.ExtendWith([]byte(s))
}

func (b *DataBuffer) link(seg *segment) {
	if b.tail == nil {
		b.head = seg
	} else {
		b.tail.next = seg
	}
	b.tail = seg
	b.size += len(seg.data)
}

// Move splices other's segment chain onto b's tail in O(1). other is
// left empty; it is consumed, not copied.
func (b *DataBuffer) Move(other *DataBuffer) {
	if other == nil || other.head == nil {
		return
	}
	if b.tail == nil {
		b.head = other.head
	} else {
		b.tail.next = other.head
	}
	b.tail = other.tail
	b.size += other.size
	other.head, other.tail, other.size = nil, nil, 0
}

// Unify collapses the chain into at most one segment and returns its
// bytes. An empty buffer stays empty (unless nullTerminate is set, in
// which case a single NUL byte is returned without affecting Size). A
// buffer that is already a single segment is returned as-is.
func (b *DataBuffer) Unify(nullTerminate bool) ([]byte, error) {
	switch {
	case b.head == nil:
		if nullTerminate {
			return []byte{0}, nil
		}
		return nil, nil
	case b.head == b.tail && !nullTerminate:
		return b.head.data, nil
	}

	out := make([]byte, 0, b.size+1)
	for s := b.head; s != nil; s = s.next {
		out = append(out, s.data...)
	}
	unified := &segment{data: out}
	b.head, b.tail = unified, unified
	if nullTerminate {
		out = append(out, 0)
		return out, nil
	}
	return out, nil
}

// Bytes returns a copy of the accumulated contents without unifying the
// underlying chain.
func (b *DataBuffer) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for s := b.head; s != nil; s = s.next {
		out = append(out, s.data...)
	}
	return out
}
