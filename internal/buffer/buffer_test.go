package buffer

import (
	"bytes"
	"testing"
)

func TestExtendWithAndBytes(t *testing.T) {
	b := New()
	b.ExtendWithString("hello ")
	b.ExtendWithString("world")
	if got := b.Bytes(); !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q", got)
	}
	if b.Size() != 11 {
		t.Fatalf("size = %d, want 11", b.Size())
	}
}

func TestExtendReturnsWritableSegment(t *testing.T) {
	b := New()
	seg := b.Extend(3)
	copy(seg, "abc")
	if got := b.Bytes(); !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("got %q", got)
	}
}

func TestExtendZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for n <= 0")
		}
	}()
	New().Extend(0)
}

func TestEmpty(t *testing.T) {
	b := New()
	b.ExtendWithString("abc")
	b.Empty()
	if b.Size() != 0 || len(b.Bytes()) != 0 {
		t.Fatalf("buffer not empty after Empty()")
	}
}

func TestMoveSplicesAndConsumesOther(t *testing.T) {
	a := New()
	a.ExtendWithString("foo")
	other := New()
	other.ExtendWithString("bar")

	a.Move(other)

	if got := a.Bytes(); !bytes.Equal(got, []byte("foobar")) {
		t.Fatalf("got %q", got)
	}
	if other.Size() != 0 || len(other.Bytes()) != 0 {
		t.Fatalf("other was not consumed: size=%d", other.Size())
	}
}

func TestMoveOntoEmpty(t *testing.T) {
	a := New()
	other := New()
	other.ExtendWithString("bar")
	a.Move(other)
	if got := a.Bytes(); !bytes.Equal(got, []byte("bar")) {
		t.Fatalf("got %q", got)
	}
}

func TestUnifyCollapsesChain(t *testing.T) {
	b := New()
	b.ExtendWithString("ab")
	b.ExtendWithString("cd")
	out, err := b.Unify(false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte("abcd")) {
		t.Fatalf("got %q", out)
	}
	// idempotent: calling again on the now-single segment returns as-is
	out2, err := b.Unify(false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out2, []byte("abcd")) {
		t.Fatalf("got %q", out2)
	}
}

func TestUnifyEmpty(t *testing.T) {
	b := New()
	out, err := b.Unify(false)
	if err != nil || out != nil {
		t.Fatalf("got %q, %v", out, err)
	}
	out, err = b.Unify(true)
	if err != nil || !bytes.Equal(out, []byte{0}) {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestUnifyNullTerminate(t *testing.T) {
	b := New()
	b.ExtendWithString("hi")
	out, err := b.Unify(true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte("hi\x00")) {
		t.Fatalf("got %q", out)
	}
}
