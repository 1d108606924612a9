// Package textenc implements the charset-conversion half of pyp.write's
// contract (spec.md §6: "encodes the interpreter value with the run's
// encoding/error-mode"). It is the Go stand-in for the original's
// reliance on the embedded interpreter's own str.encode(encoding,
// errors) — the original threads --encoding/--encoding-errors straight
// into that call (original_source/src/Main.c:293-301,371-372); pyp has
// no embedded Python to delegate to, so this package does the
// conversion itself against golang.org/x/text/encoding.
package textenc

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Mode is one of the three error-handling modes --encoding-errors
// accepts, mirroring Python's str.encode() error modes.
type Mode string

const (
	Strict  Mode = "strict"
	Replace Mode = "replace"
	Ignore  Mode = "ignore"
)

// Codec converts pyp.write's string arguments from pyp's native UTF-8
// into a target charset, honoring an error mode for characters the
// target charset cannot represent. A nil *Codec is a valid zero value
// meaning "utf-8, strict" — the flags' own defaults — so callers that
// never wire a Codec (the gateway and cron surfaces, which expose no
// --encoding flag of their own) get pyp.write's previous passthrough
// behavior for free.
type Codec struct {
	name string
	enc  encoding.Encoding
	mode Mode
}

// New resolves name (any charset golang.org/x/text/encoding/htmlindex
// recognizes — "utf-8", "us-ascii", "iso-8859-1", "shift_jis", and so
// on) and mode ("strict", "replace", or "ignore") into a ready Codec.
func New(name, mode string) (*Codec, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("textenc: unknown encoding %q: %w", name, err)
	}

	m := Mode(mode)
	switch m {
	case Strict, Replace, Ignore:
	default:
		return nil, fmt.Errorf(`textenc: unknown encoding-errors mode %q (want "strict", "replace", or "ignore")`, mode)
	}

	return &Codec{name: name, enc: enc, mode: m}, nil
}

// Encode converts s into the codec's target charset, producing the raw
// bytes pyp.write should append to the region's output buffer.
func (c *Codec) Encode(s string) ([]byte, error) {
	if c == nil {
		return []byte(s), nil
	}

	enc := c.enc.NewEncoder()
	switch c.mode {
	case Replace:
		out, err := encoding.ReplaceUnsupported(enc).String(s)
		return []byte(out), err
	case Ignore:
		var buf bytes.Buffer
		for _, r := range s {
			piece, err := enc.String(string(r))
			if err != nil {
				continue
			}
			buf.WriteString(piece)
		}
		return buf.Bytes(), nil
	default:
		out, err := enc.String(s)
		if err != nil {
			return nil, fmt.Errorf("textenc: cannot encode as %s: %w", c.name, err)
		}
		return []byte(out), nil
	}
}
