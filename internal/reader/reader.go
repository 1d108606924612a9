// Package reader implements the rollback-capable block reader (spec.md
// §4.C): a circular list of fixed-size blocks that lets the scanner
// speculatively match across block boundaries and roll back to any byte
// still inside the protected window without re-reading the input.
package reader

import "io"

type block struct {
	buf     []byte
	readLen int
	next    *block
	prev    *block
}

// Mark identifies one byte's position within the reader's block window.
// It is only valid to roll back to a Mark while the block it refers to
// is still protected (see Protect) or still the current block.
type Mark struct {
	block *block
	pos   int
}

// Reader pulls bytes from src one at a time through a circular list of
// read blocks, growing the list on demand when a protected rollback
// window would otherwise be overwritten.
type Reader struct {
	src       io.Reader
	blockSize int

	current *block
	pos     int
	// head is the block most recently filled from src; blocks between
	// current and head already hold data to replay after a rollback.
	head *block

	rollbackStart  *block
	rollbackActive bool
}

// New returns a Reader over src using blockCount blocks of blockSize
// bytes each, arranged in a circular list. blockSize and blockCount are
// clamped to at least 1.
func New(src io.Reader, blockSize, blockCount int) *Reader {
	if blockSize < 1 {
		blockSize = 1
	}
	if blockCount < 1 {
		blockCount = 1
	}

	first := &block{buf: make([]byte, blockSize)}
	prev := first
	for i := 1; i < blockCount; i++ {
		b := &block{buf: make([]byte, blockSize)}
		prev.next = b
		b.prev = prev
		prev = b
	}
	prev.next = first
	first.prev = prev

	rd := &Reader{src: src, blockSize: blockSize, current: first, head: first}
	rd.fill(first)
	return rd
}

// fill performs a blocking read into b, accepting a short read as EOF
// rather than an error (io.ReadFull's usual contract).
func (rd *Reader) fill(b *block) error {
	n, err := io.ReadFull(rd.src, b.buf)
	b.readLen = n
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return nil
	}
	return err
}

// ReadByte returns the next byte from the input along with a Mark
// identifying its position. It returns io.EOF once the input is
// exhausted.
func (rd *Reader) ReadByte() (byte, Mark, error) {
	m, err := rd.Peek()
	if err != nil {
		return 0, Mark{}, err
	}
	b := rd.current.buf[rd.pos]
	rd.pos++
	return b, m, nil
}

// Peek returns the Mark of the next byte the reader would return,
// without consuming it — used by the scanner to record a resume point
// for a completed match before it speculatively reads further ahead.
func (rd *Reader) Peek() (Mark, error) {
	for rd.pos >= rd.current.readLen {
		if rd.current.readLen < rd.blockSize {
			return Mark{}, io.EOF
		}
		if err := rd.advance(); err != nil {
			return Mark{}, err
		}
	}
	return Mark{block: rd.current, pos: rd.pos}, nil
}

// advance moves to the next block, inserting a fresh one first if doing
// so would otherwise overwrite the protected rollback window's start
// (spec.md §4.C).
func (rd *Reader) advance() error {
	if rd.current != rd.head {
		rd.current = rd.current.next
		rd.pos = 0
		return nil
	}
	var next *block
	if rd.rollbackActive && rd.current.next == rd.rollbackStart {
		next = &block{buf: make([]byte, rd.blockSize)}
		next.next = rd.current.next
		next.prev = rd.current
		rd.current.next.prev = next
		rd.current.next = next
	} else {
		next = rd.current.next
	}
	rd.current = next
	rd.head = next
	rd.pos = 0
	return rd.fill(next)
}

// Protect marks m's block as the start of a live rollback window: no
// byte at or after m will be overwritten until Unprotect is called.
func (rd *Reader) Protect(m Mark) {
	rd.rollbackStart = m.block
	rd.rollbackActive = true
}

// Unprotect releases the rollback window, allowing blocks to be reused
// as the reader advances.
func (rd *Reader) Unprotect() {
	rd.rollbackStart = nil
	rd.rollbackActive = false
}

// RollbackTo resets the read position to m. m must still be within the
// live window (i.e. protected, or equal to the current block).
func (rd *Reader) RollbackTo(m Mark) {
	rd.current = m.block
	rd.pos = m.pos
}
