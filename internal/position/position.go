// Package position tracks (char, line, column) coordinates over a byte
// stream, collapsing CR/LF pairs into a single line break (spec.md §3/§4.D).
package position

// Position is a single point in the input stream.
type Position struct {
	CharPos int
	Line    int
	Col     int

	// newline is the pending-CRLF state: 0 = none, 1 = just saw a bare
	// or leading CR. It resets to 0 on any byte other than a CR that
	// completes a CRLF pair.
	newline int
}

// Advance mutates p in place to reflect consuming byte b.
func Advance(p *Position, b byte) {
	p.CharPos++
	switch b {
	case '\r':
		p.Line++
		p.Col = 0
		p.newline = 1
		return
	case '\n':
		if p.newline != 1 {
			p.Line++
			p.Col = 0
		}
	default:
		p.Col++
	}
	p.newline = 0
}

// Location is a half-open [Start, End) span: End is the position after
// the last byte consumed.
type Location struct {
	Start Position
	End   Position
}

// Length returns the number of bytes the location spans.
func (l Location) Length() int {
	return l.End.CharPos - l.Start.CharPos
}

// Chain is the ordered set of opener fragments that make up one region —
// more than one entry when continuations link several openers together.
// A Go slice stands in for the source's singly-linked list.
type Chain []Location

// Append returns a new chain with loc appended.
func (c Chain) Append(loc Location) Chain {
	return append(c, loc)
}
