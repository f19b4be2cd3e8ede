package audio

import (
	"bytes"
	"testing"
)

func TestRingBuffer_WriteRead(t *testing.T) {
	rb := NewRingBuffer(10)

	written := rb.Write([]byte{1, 2, 3, 4, 5})
	if written != 5 {
		t.Errorf("Expected to write 5 bytes, got %d", written)
	}
	if rb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.Available())
	}

	out := make([]byte, 3)
	read := rb.Read(out)
	if read != 3 {
		t.Errorf("Expected to read 3 bytes, got %d", read)
	}
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("Read incorrect data: %v", out)
	}
	if rb.Available() != 2 {
		t.Errorf("Expected available 2 after read, got %d", rb.Available())
	}
}

func TestRingBuffer_WriteTruncatesWhenFull(t *testing.T) {
	rb := NewRingBuffer(5)

	written := rb.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	if written != 5 {
		t.Errorf("Expected to write 5 bytes into full buffer, got %d", written)
	}
	if !rb.IsFull() {
		t.Error("Expected buffer to be full")
	}

	written = rb.Write([]byte{8})
	if written != 0 {
		t.Errorf("Expected to write 0 bytes when full, got %d", written)
	}
}

func TestRingBuffer_ReadEmpty(t *testing.T) {
	rb := NewRingBuffer(10)

	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty initially")
	}

	out := make([]byte, 5)
	if read := rb.Read(out); read != 0 {
		t.Errorf("Expected to read 0 bytes from empty buffer, got %d", read)
	}
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := NewRingBuffer(8)

	rb.Write([]byte{1, 2, 3, 4, 5, 6})
	out := make([]byte, 4)
	rb.Read(out)

	// Write wraps past the end of the underlying slice
	written := rb.Write([]byte{7, 8, 9, 10})
	if written != 4 {
		t.Fatalf("Expected to write 4 bytes, got %d", written)
	}

	got := make([]byte, 6)
	read := rb.Read(got)
	if read != 6 {
		t.Fatalf("Expected to read 6 bytes, got %d", read)
	}
	if !bytes.Equal(got, []byte{5, 6, 7, 8, 9, 10}) {
		t.Errorf("Read incorrect data after wrap: %v", got)
	}
}

func TestRingBuffer_Space(t *testing.T) {
	rb := NewRingBuffer(10)

	if rb.Space() != 10 {
		t.Errorf("Expected space 10, got %d", rb.Space())
	}

	rb.Write([]byte{1, 2, 3})
	if rb.Space() != 7 {
		t.Errorf("Expected space 7, got %d", rb.Space())
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte{1, 2, 3})

	rb.Clear()

	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after clear")
	}
	if rb.Available() != 0 {
		t.Errorf("Expected available 0 after clear, got %d", rb.Available())
	}
}
