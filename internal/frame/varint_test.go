package frame

import (
	"bytes"
	"testing"
)

func TestVarintVectors(t *testing.T) {
	cases := []struct {
		enc []byte
		val uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7F}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xE8, 0x07}, 1000},
		{[]byte{0x80, 0x80, 0x01}, 16384},
		{[]byte{0xD0, 0x86, 0x03}, 50000},
		{[]byte{0x80, 0x80, 0x80, 0x01}, 2097152},
		{[]byte{0x80, 0xAD, 0xE2, 0x04}, 10000000},
	}

	for _, c := range cases {
		val, n, status := DecodeRemainingLength(c.enc)
		if status != DecodeOk {
			t.Fatalf("decode(%x): status %v, want Ok", c.enc, status)
		}
		if val != c.val || n != len(c.enc) {
			t.Fatalf("decode(%x) = (%d, %d), want (%d, %d)", c.enc, val, n, c.val, len(c.enc))
		}

		buf := make([]byte, 4)
		n2, err := EncodeRemainingLength(c.val, buf)
		if err != nil {
			t.Fatalf("encode(%d): %v", c.val, err)
		}
		if !bytes.Equal(buf[:n2], c.enc) {
			t.Fatalf("encode(%d) = %x, want %x", c.val, buf[:n2], c.enc)
		}
		if got := SizeOfRemainingLength(c.val); got != len(c.enc) {
			t.Fatalf("SizeOfRemainingLength(%d) = %d, want %d", c.val, got, len(c.enc))
		}
	}
}

func TestVarintEdge50000(t *testing.T) {
	val, n, status := DecodeRemainingLength([]byte{0xD0, 0x86, 0x03})
	if status != DecodeOk || val != 50000 || n != 3 {
		t.Fatalf("got (%d, %d, %v), want (50000, 3, Ok)", val, n, status)
	}
}

func TestVarintRoundTripSampleValues(t *testing.T) {
	samples := []uint32{0, 1, 63, 127, 128, 129, 16383, 16384, 65535, 2097151, 2097152, maxRemainingLength}
	for _, n := range samples {
		buf := make([]byte, 4)
		ln, err := EncodeRemainingLength(n, buf)
		if err != nil {
			t.Fatalf("encode(%d): %v", n, err)
		}
		val, consumed, status := DecodeRemainingLength(buf[:ln])
		if status != DecodeOk {
			t.Fatalf("decode round-trip of %d: status %v", n, status)
		}
		if val != n || consumed != ln {
			t.Fatalf("decode round-trip of %d = (%d, %d), want (%d, %d)", n, val, consumed, n, ln)
		}
	}
}

func TestVarintTooLarge(t *testing.T) {
	buf := make([]byte, 4)
	if _, err := EncodeRemainingLength(maxRemainingLength+1, buf); err != ErrValueTooLarge {
		t.Fatalf("got %v, want ErrValueTooLarge", err)
	}
}

func TestVarintNeedMore(t *testing.T) {
	// Continuation bit set with nothing following: NeedMore, not an error.
	_, _, status := DecodeRemainingLength([]byte{0x80})
	if status != DecodeNeedMore {
		t.Fatalf("got %v, want NeedMore", status)
	}
	_, _, status = DecodeRemainingLength([]byte{0x80, 0x80, 0x80})
	if status != DecodeNeedMore {
		t.Fatalf("got %v, want NeedMore", status)
	}
}

func TestVarintMalformedFourthByteContinues(t *testing.T) {
	_, _, status := DecodeRemainingLength([]byte{0x80, 0x80, 0x80, 0x80})
	if status != DecodeMalformed {
		t.Fatalf("got %v, want Malformed", status)
	}
}
