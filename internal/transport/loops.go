package transport

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/mqttconn/internal/buffer"
	"github.com/RoanBrand/mqttconn/internal/queue"
)

// readLoop moves bytes only; it never frames packets (that is
// internal/frame's job, driven by session logic above the transport). Each
// non-empty read is copied into a freshly allocated, exactly-sized buffer —
// never pooled, so the decoder above can keep slices into it without
// worrying about a read-loop-owned buffer being reused out from under it —
// and enqueued on inbound. On any read error, including a clean io.EOF, the
// loop reports ReadFinished once and exits; it never retries.
func readLoop(ctx context.Context, gen uint64, conn net.Conn, inbound *queue.Queue, mailbox chan<- event, scratchSize uint32) {
	scratch := make([]byte, scratchSize)
	for {
		n, err := conn.Read(scratch)
		if n > 0 {
			cell := &buffer.Cell{Buf: append([]byte(nil), scratch[:n]...), Length: n}
			if werr := inbound.Write(cell); werr != nil {
				// Inbound was Completed out from under us (FullShutdown
				// racing the socket close); the cell is freshly allocated,
				// not pooled, so there is nothing to release.
				return
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				log.WithError(err).Debug("mqttconn: read loop exiting on cancellation")
				err = ErrCancelled
			}
			postEvent(mailbox, ctx, evReadFinished{gen: gen, err: err})
			return
		}
	}
}

// writeLoop drains outbound in enqueue order, writing each cell's usable
// prefix to the socket and releasing it back to the pool exactly once,
// whether the write succeeded or failed. When ReadContext reports ErrClosed
// or ctx cancellation the loop returns without touching the queue further;
// cells still queued at that point are left for the next generation's
// writeLoop or, on shutdown, for Transport.drainOutbound to release.
func writeLoop(ctx context.Context, gen uint64, conn net.Conn, outbound *queue.Queue, pool *buffer.Pool, mailbox chan<- event) {
	for {
		cell, err := outbound.ReadContext(ctx)
		if err != nil {
			return // ctx cancelled (reconnect/shutdown) or queue Completed.
		}

		_, werr := conn.Write(cell.Bytes())
		pool.Release(cell)
		if werr != nil {
			if ctx.Err() != nil {
				werr = ErrCancelled
			}
			postEvent(mailbox, ctx, evWriteError{gen: gen, err: werr})
			return
		}
	}
}

// postEvent posts ev unless ctx is already done, in which case the event
// would be stale (a superseded generation) by the time it was processed
// anyway and run() would discard it.
func postEvent(mailbox chan<- event, ctx context.Context, ev event) {
	select {
	case mailbox <- ev:
	case <-ctx.Done():
	}
}
