// Package buffer implements the owned byte-region cells that flow through
// the duplex queues in internal/queue.
package buffer

import "sync"

// Cell is an owned byte region plus a usable-prefix length. Ownership
// transfers to whoever it is enqueued to; the consumer must release it
// exactly once, whether it was written successfully, dropped on a write
// error, or discarded on shutdown.
type Cell struct {
	Buf    []byte
	Length int
}

// Bytes returns the usable prefix of the cell.
func (c *Cell) Bytes() []byte {
	return c.Buf[:c.Length]
}

// Pool rents out fixed-size Cells for outbound writes. Session logic
// above the transport gets cells from here, fills them, and hands them
// to the transport's outbound queue; the transport returns them to the
// pool once written (or on error/shutdown). Inbound cells are never
// pooled: each read allocates a fresh, exactly-sized cell so the decoder
// can hold onto slices handed up from it without an aliasing hazard
// against a buffer the read loop might reuse.
type Pool struct {
	cellSize int
	pool     sync.Pool
}

// NewPool returns a Pool that hands out Cells with a Buf of cellSize
// bytes.
func NewPool(cellSize int) *Pool {
	p := &Pool{cellSize: cellSize}
	p.pool.New = func() any {
		return &Cell{Buf: make([]byte, cellSize)}
	}
	return p
}

// Get rents a Cell with Length reset to 0 and at least cellSize bytes of
// capacity in Buf.
func (p *Pool) Get() *Cell {
	c := p.pool.Get().(*Cell)
	c.Length = 0
	return c
}

// Release returns a Cell to the pool. The caller must not use c again
// after calling Release.
func (p *Pool) Release(c *Cell) {
	c.Length = 0
	p.pool.Put(c)
}
