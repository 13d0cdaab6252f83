package pipeline

import "testing"

func TestRingBuffer_CapsAtMaxKeepingTail(t *testing.T) {
	rb := newRingBuffer(5)
	rb.Write([]byte("hello"))
	rb.Write([]byte("world"))
	if got := rb.String(); got != "world" {
		t.Fatalf("String() = %q, want %q", got, "world")
	}
}

func TestRingBuffer_TailLines(t *testing.T) {
	rb := newRingBuffer(1024)
	rb.Write([]byte("line one\nline two\nline three\n"))
	got := rb.TailLines(2)
	want := []string{"line two", "line three"}
	if len(got) != len(want) {
		t.Fatalf("TailLines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TailLines[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRingBuffer_TailLinesOnEmptyBuffer(t *testing.T) {
	rb := newRingBuffer(1024)
	if got := rb.TailLines(3); len(got) != 0 {
		t.Fatalf("TailLines on empty buffer = %v, want none", got)
	}
}
