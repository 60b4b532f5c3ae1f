package buffer

import "testing"

func TestPoolGetResetsLength(t *testing.T) {
	p := NewPool(64)
	c := p.Get()
	if len(c.Buf) != 64 {
		t.Fatalf("got Buf len %d, want 64", len(c.Buf))
	}
	if c.Length != 0 {
		t.Fatalf("got Length %d, want 0", c.Length)
	}
}

func TestPoolReleaseAndReuse(t *testing.T) {
	p := NewPool(8)
	c := p.Get()
	c.Length = 8
	copy(c.Buf, []byte("abcdefgh"))
	p.Release(c)

	c2 := p.Get()
	if c2.Length != 0 {
		t.Fatalf("got Length %d, want 0", c2.Length)
	}
}

func TestCellBytes(t *testing.T) {
	c := &Cell{Buf: []byte{1, 2, 3, 4}, Length: 2}
	got := c.Bytes()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}
}
