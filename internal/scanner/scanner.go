// Package scanner implements the main preprocessing loop (spec.md
// §4.G/§4.H): it feeds bytes from a reader.Reader into a grammar's
// trie, speculatively matches candidate tags with rollback, and drives
// the tag/processing stacks and transform dispatch as tags fire.
package scanner

import (
	"fmt"
	"html"
	"io"

	"pyp/internal/buffer"
	"pyp/internal/grammar"
	"pyp/internal/position"
	"pyp/internal/pyperr"
	"pyp/internal/reader"
	"pyp/internal/stack"
	"pyp/internal/transform"
	"pyp/internal/trie"
)

// Flags are the reader-level behavior bits from the original grammar's
// PypReaderFlags (spec.md §7 / original_source PypReader.h).
type Flags uint32

const (
	FlagNone Flags = 0

	FlagOnUnclosedTagError Flags = 1 << (iota - 1)
	FlagOnContinuationUnmatchedTagError
	FlagOnContinuationMismatchedTagError
	FlagOnContinuationMismatchedTagContinue
	FlagOnContinuationAllowLateErrorOutput
	FlagTreatSyntaxErrorsAsSuccess
)

// Settings configures one scan run.
type Settings struct {
	Flags Flags
	// ErrorMessages supplies the configured display text for each
	// non-fatal pyperr.ErrorID.
	ErrorMessages map[pyperr.ErrorID]string
	// InlineErrors routes an error's message into the output stream in
	// place of the region; otherwise the message goes to ErrOut and the
	// region's transformed (empty) output takes its place.
	InlineErrors bool
	// InlineErrorHTML HTML-escapes an inlined error message (spec.md §7
	// "optionally HTML-escaped"; CLI flag --inline-error-modifer=html).
	// Meaningless unless InlineErrors is set.
	InlineErrorHTML bool
	// BlockSize and BlockCount size the underlying block reader
	// (spec.md §6 CLI -b/-c flags).
	BlockSize  int
	BlockCount int
}

func DefaultSettings() Settings {
	return Settings{
		BlockSize:  10240,
		BlockCount: 2,
		ErrorMessages: map[pyperr.ErrorID]string{
			pyperr.UnclosedTag:                  "[unclosed tag]",
			pyperr.ContinuationUnmatchedOpening:  "[unmatched continuation]",
			pyperr.ContinuationMismatchedOpening: "[mismatched continuation opening]",
			pyperr.ContinuationMismatchedClosing: "[mismatched continuation closing]",
		},
	}
}

// Scanner drives one preprocessing run over a single input stream.
type Scanner struct {
	rd       *reader.Reader
	out      io.Writer
	errOut   io.Writer
	settings Settings
	userData any

	streamPos position.Position

	tagStack  *stack.TagStack
	procStack *stack.ProcessingStack

	matchGroup *trie.Group
	matchNode  *trie.Node
	matchPos   int
	matchBuf   []byte

	rollbackActive bool
	startByte      byte
	startPos       position.Position
	// startMark/startEndPos identify the reader position and stream
	// position right after startByte was consumed — where scanning
	// resumes if the candidate never completes any node at all (the
	// mostRecentMark below is only ever set once something does).
	startMark      reader.Mark
	startMarkValid bool
	startEndPos    position.Position

	mostRecentNode      *trie.Node
	mostRecentMark      reader.Mark
	mostRecentMarkValid bool
	mostRecentPos       position.Position
	mostRecentMatchLen  int

	wildcardActive    bool
	wildcardNode      *trie.Node
	wildcardRemaining int

	pendingLiteral []byte

	continuationPending *stack.Entry
	continuationGap     *buffer.DataBuffer
}

// New returns a Scanner ready to run g over src, writing transformed
// output to out and non-fatal error text (when not inlined) to errOut.
// userData is threaded verbatim into every transform.Func invocation.
func New(src io.Reader, g *grammar.Grammar, settings Settings, out, errOut io.Writer, userData any) *Scanner {
	blockSize, blockCount := settings.BlockSize, settings.BlockCount
	if blockSize <= 0 {
		blockSize = 10240
	}
	if blockCount <= 0 {
		blockCount = 2
	}
	s := &Scanner{
		rd:        reader.New(src, blockSize, blockCount),
		out:       out,
		errOut:    errOut,
		settings:  settings,
		userData:  userData,
		tagStack:  stack.NewTagStack(g.Trie),
		procStack: stack.NewProcessingStack(),
	}
	s.matchGroup = g.Trie
	return s
}

// Run executes the scan to completion, returning the first fatal error
// encountered, if any.
func (s *Scanner) Run() error {
	for {
		if s.wildcardActive {
			b, _, err := s.rd.ReadByte()
			if err == io.EOF {
				return s.finalizeAtEOF()
			}
			if err != nil {
				return pyperr.ErrRead
			}
			position.Advance(&s.streamPos, b)
			s.matchBuf = append(s.matchBuf, b)
			s.wildcardRemaining--
			if s.wildcardRemaining == 0 {
				s.wildcardActive = false
				s.recordMostRecent(s.wildcardNode)
				if err := s.fireCompletion(); err != nil {
					return err
				}
			}
			continue
		}

		b, _, err := s.rd.ReadByte()
		if err == io.EOF {
			return s.finalizeAtEOF()
		}
		if err != nil {
			return pyperr.ErrRead
		}

		if s.matchNode == nil {
			if next := s.matchGroup.FirstByte(b); next != nil {
				if !s.rollbackActive {
					s.rollbackActive = true
					s.startByte = b
					s.startPos = s.streamPos
					s.mostRecentNode = nil
					s.mostRecentMarkValid = false
					s.matchBuf = s.matchBuf[:0]
				}
				position.Advance(&s.streamPos, b)
				s.matchBuf = append(s.matchBuf, b)
				s.matchNode = next
				s.matchPos = 1
				if len(s.matchBuf) == 1 {
					s.startEndPos = s.streamPos
					if mk, err := s.rd.Peek(); err == nil {
						s.startMark = mk
						s.startMarkValid = true
						s.rd.Protect(mk)
					} else {
						s.startMarkValid = false
					}
				}
				if s.matchPos == len(next.Prefix) {
					if err := s.onNodeMatched(next); err != nil {
						return err
					}
				}
			} else {
				if s.rollbackActive {
					if err := s.rollback(); err != nil {
						return err
					}
				} else {
					position.Advance(&s.streamPos, b)
					s.emitLiteral(b)
				}
			}
			continue
		}

		// Mid-prefix matching against s.matchNode.
		if b == s.matchNode.Prefix[s.matchPos] {
			position.Advance(&s.streamPos, b)
			s.matchBuf = append(s.matchBuf, b)
			s.matchPos++
			if s.matchPos == len(s.matchNode.Prefix) {
				if err := s.onNodeMatched(s.matchNode); err != nil {
					return err
				}
			}
		} else {
			// The mismatching byte hasn't been consumed from the
			// matchBuf/streamPos bookkeeping yet, but it HAS been read
			// from the reader; rollback() restores the reader position
			// so it gets re-read on the next iteration.
			if err := s.rollback(); err != nil {
				return err
			}
		}
	}
}

// onNodeMatched runs the "node completed" step of §4.G: record the
// longest known match, then either fire immediately, enter wildcard
// countdown, or keep speculating into the node's children. A node can
// carry Children alongside ArbitraryChars>0 at once — trie.Build merges
// a wildcard escape with a longer literal sibling that shares its
// prefix (e.g. `\` + arbitraryChars=1 and `\<CRLF>`) into one Complete
// node — so Children, when present, always gets first try; the
// recorded mostRecent (this node's own wildcard completion) is only
// actually entered if that speculative continuation later fails (see
// rollback, spec.md §9's wildcard design note).
func (s *Scanner) onNodeMatched(t *trie.Node) error {
	if t.Complete {
		s.recordMostRecent(t)
	}
	switch {
	case t.Children != nil:
		s.matchGroup = t.Children
		s.matchNode = nil
		return nil
	case t.ArbitraryChars > 0:
		s.wildcardActive = true
		s.wildcardNode = t
		s.wildcardRemaining = t.ArbitraryChars
		s.matchNode = nil
		return nil
	default:
		return s.fireCompletion()
	}
}

func (s *Scanner) recordMostRecent(t *trie.Node) {
	s.mostRecentNode = t
	s.mostRecentPos = s.streamPos
	s.mostRecentMatchLen = len(s.matchBuf)
	if mk, err := s.rd.Peek(); err == nil {
		s.mostRecentMark = mk
		s.mostRecentMarkValid = true
		// The longest known match now starts later than startMark, so
		// the reader no longer needs to keep anything before it.
		s.rd.Protect(mk)
	} else {
		s.mostRecentMarkValid = false
	}
}

// rollback restores the reader/position to the longest known complete
// match and fires it, or — if no prefix ever completed — treats the
// candidate's first byte as ordinary literal text and resumes right
// after it (spec.md §4.G "Rollback"). When the longest known match still
// owes a deferred wildcard countdown (it was recorded as Complete before
// a speculative continuation into its own Children was tried and that
// continuation is what just failed), the countdown runs now instead of
// firing immediately.
func (s *Scanner) rollback() error {
	if s.mostRecentNode == nil {
		s.emitLiteral(s.startByte)
		if s.startMarkValid {
			s.rd.RollbackTo(s.startMark)
		}
		s.streamPos = s.startEndPos
		s.deactivateCandidate()
		return nil
	}
	if t := s.mostRecentNode; t.ArbitraryChars > 0 && t.Children != nil {
		s.enterWildcardFallback(t)
		return nil
	}
	return s.fireCompletion()
}

// enterWildcardFallback restores the reader/position to the end of t's
// own literal prefix — discarding whatever extra bytes were consumed
// while speculatively matching into t.Children — and begins t's
// arbitraryChars countdown, deferred exactly this far so a longer
// sibling completion always gets first chance to win (spec.md §9).
func (s *Scanner) enterWildcardFallback(t *trie.Node) {
	if s.mostRecentMarkValid {
		s.rd.RollbackTo(s.mostRecentMark)
	}
	s.streamPos = s.mostRecentPos
	s.matchBuf = s.matchBuf[:s.mostRecentMatchLen]
	s.matchNode = nil
	s.wildcardActive = true
	s.wildcardNode = t
	s.wildcardRemaining = t.ArbitraryChars
}

func (s *Scanner) deactivateCandidate() {
	s.rd.Unprotect()
	s.rollbackActive = false
	s.matchNode = nil
	s.matchGroup = s.tagStack.Tail().TagListFirst
	s.wildcardActive = false
	s.mostRecentNode = nil
	s.mostRecentMarkValid = false
	s.startMarkValid = false
}

func (s *Scanner) emitLiteral(b byte) {
	s.pendingLiteral = append(s.pendingLiteral, b)
}

func (s *Scanner) flushLiteral() {
	if len(s.pendingLiteral) == 0 {
		return
	}
	s.writeBytes(s.pendingLiteral)
	s.pendingLiteral = s.pendingLiteral[:0]
}

// writeBytes routes content bytes to wherever is currently "live":
// a pending continuation gap, the active processing entry, or straight
// to the output stream when that entry is the document root.
func (s *Scanner) writeBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	if s.continuationPending != nil {
		s.continuationGap.ExtendWith(b)
		return
	}
	tail := s.procStack.Tail()
	if tail == s.procStack.Root() {
		_, _ = s.out.Write(b)
		return
	}
	tail.DataBuffer.ExtendWith(b)
}

// fireCompletion commits to s.mostRecentNode as the final match: it
// restores the reader/position to the match's end and runs the
// completion action (§4.G).
func (s *Scanner) fireCompletion() error {
	t := s.mostRecentNode
	matched := append([]byte(nil), s.matchBuf[:s.mostRecentMatchLen]...)
	loc := position.Location{Start: s.startPos, End: s.mostRecentPos}

	if s.mostRecentMarkValid {
		s.rd.RollbackTo(s.mostRecentMark)
	}
	s.streamPos = s.mostRecentPos
	s.deactivateCandidate()

	return s.applyTag(t, loc, matched)
}

// applyTag implements the completion action: flush preceding literal
// text, then push/pop the stacks and dispatch transforms as the node's
// role (opener, escape, or closer) requires.
func (s *Scanner) applyTag(t *trie.Node, loc position.Location, matched []byte) error {
	s.flushLiteral()

	if t.Closing {
		return s.handleClosing(t, loc, matched)
	}

	if s.continuationPending != nil {
		if t.IsContinuation() && s.familyMatches(t) {
			return s.resolveContinuationMatch(t, loc)
		}
		if t.IsContinuation() && s.settings.Flags&FlagOnContinuationMismatchedTagContinue != 0 {
			return s.resolveContinuationMatch(t, loc)
		}
		if err := s.finalizeContinuationMismatch(pyperr.ContinuationMismatchedOpening); err != nil {
			return err
		}
	}

	if t.ProcessingInfo != nil {
		procEntry := s.procStack.Push(t.ProcessingInfo, false, s.tagStack.Tail(), loc)
		s.tagStack.Push(t.Region, procEntry)
	} else {
		if t.Region != nil {
			s.tagStack.Push(t.Region, nil)
		}
		s.writeBytes(matched)
	}
	s.matchGroup = s.tagStack.Tail().TagListFirst
	return nil
}

func (s *Scanner) familyMatches(t *trie.Node) bool {
	return s.continuationPending != nil && t.ProcessingInfo == s.continuationPending.ProcessingInfo
}

// handleClosing pops the tag stack by one level, then decides whether
// this closer actually ends the region the processing stack is
// currently collecting (a real closer) or merely ends a nested
// syntactic scope such as a quoted string (spec.md §4.G).
func (s *Scanner) handleClosing(t *trie.Node, loc position.Location, matched []byte) error {
	poppedTagEntry := s.tagStack.Tail()
	s.tagStack.Pop()
	s.matchGroup = s.tagStack.Tail().TagListFirst

	e := poppedTagEntry.ProcessingEntry
	if e == nil || e != s.procStack.Tail() {
		s.writeBytes(matched)
		return nil
	}

	if t.IsContinuation() {
		s.continuationPending = e
		s.continuationGap = buffer.New()
		return nil
	}

	s.procStack.Pop()
	return s.popProcessingEntry(e)
}

// resolveContinuationMatch runs the pending gap text through the
// continuation modifier and folds the result back into the reopened
// region, per the continuation rule in §4.H.
func (s *Scanner) resolveContinuationMatch(t *trie.Node, loc position.Location) error {
	e := s.continuationPending
	gap := s.continuationGap
	s.continuationPending = nil
	s.continuationGap = nil

	if e.ProcessingInfo != nil && e.ProcessingInfo.Continuation != nil {
		out, status, err := e.ProcessingInfo.Continuation(gap, position.Chain{loc}, s.userData)
		if err != nil {
			return err
		}
		switch status {
		case transform.OK, transform.ErrCodeExecution:
			e.DataBuffer.Move(out)
		default:
			return fmt.Errorf("pyp: continuation transform aborted with status %s", status)
		}
	} else {
		e.DataBuffer.Move(gap)
	}

	e.AppendLocation(loc)
	pushedTagEntry := s.tagStack.Push(t.Region, e)
	s.matchGroup = pushedTagEntry.TagListFirst
	return nil
}

// finalizeContinuationMismatch ends an unresolved continuation: the gap
// text is kept as literal content of the still-open region, the region
// is marked with errorID if the corresponding flag is set, and it is
// popped for real.
func (s *Scanner) finalizeContinuationMismatch(errorID pyperr.ErrorID) error {
	e := s.continuationPending
	s.continuationPending = nil
	gap := s.continuationGap
	s.continuationGap = nil

	if s.continuationErrorFlagSet(errorID) {
		e.ErrorID = errorID
	}
	e.DataBuffer.Move(gap)
	s.procStack.Pop()
	return s.popProcessingEntry(e)
}

func (s *Scanner) continuationErrorFlagSet(id pyperr.ErrorID) bool {
	switch id {
	case pyperr.ContinuationUnmatchedOpening:
		return s.settings.Flags&FlagOnContinuationUnmatchedTagError != 0
	case pyperr.ContinuationMismatchedOpening, pyperr.ContinuationMismatchedClosing:
		return s.settings.Flags&FlagOnContinuationMismatchedTagError != 0
	default:
		return false
	}
}

// popProcessingEntry runs the §4.H pop pipeline for e and moves its
// result into e's parent (or the output stream, if the parent is the
// document root).
func (s *Scanner) popProcessingEntry(e *stack.Entry) error {
	buf := e.DataBuffer
	status := transform.OK

	if e.ErrorID == pyperr.NoError {
		if e.ProcessingInfo != nil && e.ProcessingInfo.Self != nil {
			out, st, err := e.ProcessingInfo.Self(buf, e.StreamLocations, s.userData)
			if err != nil {
				return err
			}
			switch st {
			case transform.OK:
				buf = out
			case transform.ErrCodeExecution:
				buf = out
				status = transform.ErrCodeExecution
			case transform.ErrMemory:
				return pyperr.ErrMemoryExhausted
			case transform.ErrWrite:
				return pyperr.ErrWrite
			default:
				return fmt.Errorf("pyp: transform aborted")
			}
		}
	} else {
		msg := s.settings.ErrorMessages[e.ErrorID]
		eb := buffer.New()
		if s.settings.InlineErrors {
			if s.settings.InlineErrorHTML {
				msg = html.EscapeString(msg)
			}
			eb.ExtendWithString(msg)
			status = transform.ErrCodeExecution
		} else if s.errOut != nil {
			_, _ = io.WriteString(s.errOut, msg)
		}
		buf = eb
	}

	treatAsSuccess := status == transform.OK || s.settings.Flags&FlagTreatSyntaxErrorsAsSuccess != 0

	parent := e.Parent
	if parent != nil && parent.ProcessingInfo != nil {
		var hook transform.Func
		if treatAsSuccess {
			hook = parent.ProcessingInfo.ChildSuccess
		} else {
			hook = parent.ProcessingInfo.ChildFailure
		}
		if hook != nil {
			out, st, err := hook(buf, e.StreamLocations, s.userData)
			if err != nil {
				return err
			}
			if st != transform.OK && st != transform.ErrCodeExecution {
				return fmt.Errorf("pyp: child transform aborted")
			}
			buf = out
		}
	}

	if parent == s.procStack.Root() {
		_, err := s.out.Write(buf.Bytes())
		if err != nil {
			return pyperr.ErrWrite
		}
		return nil
	}
	parent.DataBuffer.Move(buf)
	return nil
}

// finalizeAtEOF drains any in-flight candidate, pending continuation,
// and still-open regions (each marked UnclosedTag when
// FlagOnUnclosedTagError is set) before flushing
// whatever remains.
func (s *Scanner) finalizeAtEOF() error {
	if s.rollbackActive {
		if t := s.mostRecentNode; t != nil {
			if t.ArbitraryChars > 0 && t.Children != nil {
				// The speculative continuation into t.Children is what
				// just hit EOF; fall back to t's own wildcard exactly as
				// rollback() would, reclaiming whatever bytes the
				// continuation attempt already consumed by re-reading
				// them from the reader (Protect kept them live).
				s.enterWildcardFallback(t)
				for s.wildcardRemaining > 0 {
					b, _, err := s.rd.ReadByte()
					if err != nil {
						break
					}
					position.Advance(&s.streamPos, b)
					s.matchBuf = append(s.matchBuf, b)
					s.wildcardRemaining--
				}
				s.wildcardActive = false
				s.recordMostRecent(t)
			}
			if err := s.fireCompletion(); err != nil {
				return err
			}
		} else {
			s.emitLiteral(s.startByte)
			s.deactivateCandidate()
		}
	}
	s.flushLiteral()

	if s.continuationPending != nil {
		if err := s.finalizeContinuationMismatch(pyperr.ContinuationUnmatchedOpening); err != nil {
			return err
		}
	}

	for !s.procStack.AtRoot() {
		e := s.procStack.Tail()
		if s.settings.Flags&FlagOnUnclosedTagError != 0 {
			e.ErrorID = pyperr.UnclosedTag
		}
		s.procStack.Pop()
		if err := s.popProcessingEntry(e); err != nil {
			return err
		}
	}
	return nil
}
