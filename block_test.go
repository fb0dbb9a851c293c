package lwm2m

import (
	"errors"
	"testing"
)

func TestBlockManagerAppendSequential(t *testing.T) {
	bm := NewBlockManager()
	key := "server1/tok1"

	if _, complete, err := bm.Append(key, 0, true, 2, []byte("abcd")); err != nil || complete {
		t.Fatalf("block 0: complete=%v err=%v", complete, err)
	}
	if _, complete, err := bm.Append(key, 1, true, 2, []byte("efgh")); err != nil || complete {
		t.Fatalf("block 1: complete=%v err=%v", complete, err)
	}
	body, complete, err := bm.Append(key, 2, false, 2, []byte("ij"))
	if err != nil {
		t.Fatalf("final block: %v", err)
	}
	if !complete {
		t.Fatalf("final block: complete = false, want true")
	}
	if string(body) != "abcdefghij" {
		t.Fatalf("reassembled body = %q, want %q", body, "abcdefghij")
	}
}

func TestBlockManagerRejectsOutOfOrder(t *testing.T) {
	bm := NewBlockManager()
	key := "server1/tok2"
	if _, _, err := bm.Append(key, 0, true, 2, []byte("abcd")); err != nil {
		t.Fatalf("block 0: %v", err)
	}
	if _, _, err := bm.Append(key, 2, false, 2, []byte("xy")); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("out-of-order block: err = %v, want ErrIncomplete", err)
	}
}

func TestBlockManagerRejectsNonZeroStart(t *testing.T) {
	bm := NewBlockManager()
	if _, _, err := bm.Append("server1/tok3", 1, true, 2, []byte("xy")); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("starting at block 1: err = %v, want ErrIncomplete", err)
	}
}

func TestBlockManagerDuplicateBlockIsAckedWithoutDiscarding(t *testing.T) {
	bm := NewBlockManager()
	key := "server1/tok5"
	if _, _, err := bm.Append(key, 0, true, 2, []byte("abcd")); err != nil {
		t.Fatalf("block 0: %v", err)
	}
	if _, _, err := bm.Append(key, 1, true, 2, []byte("efgh")); err != nil {
		t.Fatalf("block 1: %v", err)
	}

	// A retransmitted block 0 is a duplicate, not out-of-order: it must be
	// acked (no error) without resetting or discarding the reassembly.
	body, complete, err := bm.Append(key, 0, true, 2, []byte("abcd"))
	if err != nil {
		t.Fatalf("duplicate block 0: %v", err)
	}
	if complete || body != nil {
		t.Fatalf("duplicate block 0: (body, complete) = (%q, %v), want (nil, false)", body, complete)
	}

	body, complete, err = bm.Append(key, 2, false, 2, []byte("ij"))
	if err != nil {
		t.Fatalf("final block after duplicate: %v", err)
	}
	if !complete {
		t.Fatalf("final block after duplicate: complete = false, want true")
	}
	if string(body) != "abcdefghij" {
		t.Fatalf("reassembled body = %q, want %q (duplicate must not have been re-appended)", body, "abcdefghij")
	}
}

func TestBlockManagerCancel(t *testing.T) {
	bm := NewBlockManager()
	key := "server1/tok4"
	if _, _, err := bm.Append(key, 0, true, 2, []byte("abcd")); err != nil {
		t.Fatalf("block 0: %v", err)
	}
	bm.Cancel(key)
	if _, _, err := bm.Append(key, 1, true, 2, []byte("xy")); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("append after cancel: err = %v, want ErrIncomplete (context was dropped)", err)
	}
}

func TestOutgoingBlockWriterSlicesBody(t *testing.T) {
	ow := NewOutgoingBlockWriter()
	body := make([]byte, 40)
	for i := range body {
		body[i] = byte(i)
	}
	szx := 0 // 16-byte blocks: 16 + 16 + 8 remainder

	chunk0, more0 := ow.Next("server1/tok1", body, 0, szx)
	if !more0 {
		t.Fatalf("block 0: more = false, want true")
	}
	if len(chunk0) != BlockSizeForSZX(szx) {
		t.Fatalf("block 0 length = %d, want %d", len(chunk0), BlockSizeForSZX(szx))
	}

	chunk1, more1 := ow.Next("server1/tok1", body, 1, szx)
	if !more1 {
		t.Fatalf("block 1: more = false, want true")
	}

	chunk2, more2 := ow.Next("server1/tok1", body, 2, szx)
	if more2 {
		t.Fatalf("block 2: more = true, want false")
	}
	if len(chunk2) != 8 {
		t.Fatalf("block 2 length = %d, want 8", len(chunk2))
	}

	want := append(append(append([]byte{}, chunk0...), chunk1...), chunk2...)
	for i, b := range want {
		if b != body[i] {
			t.Fatalf("reassembled byte %d = %d, want %d", i, b, body[i])
		}
	}
}

func TestBlockSizeForSZX(t *testing.T) {
	cases := []struct {
		szx  int
		want int
	}{
		{0, 16},
		{2, 64},
		{6, 1024},
		{99, 1024}, // out-of-range clamps to max
	}
	for _, c := range cases {
		if got := BlockSizeForSZX(c.szx); got != c.want {
			t.Fatalf("BlockSizeForSZX(%d) = %d, want %d", c.szx, got, c.want)
		}
	}
}
