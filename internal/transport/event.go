package transport

import (
	"net"
	"time"
)

// event is anything postable into a Transport's mailbox. Every event that
// originates from a loop or an async dial carries the generation number it
// belongs to, so run() can drop it if a reconnect has since moved the
// state machine to a newer generation (spec.md's "shutdown-signal
// hygiene" invariant).
type event interface{}

// evConnect is posted by the caller via Transport.Connect.
type evConnect struct {
	deadline time.Time
}

// evConnectResult is posted by the goroutine running a dial attempt,
// whether the first connect or a reconnect.
type evConnectResult struct {
	gen  uint64
	conn net.Conn
	err  error
}

// evReadFinished is posted by the read loop when conn.Read returns any
// error, including io.EOF on a clean zero-byte read.
type evReadFinished struct {
	gen uint64
	err error
}

// evWriteError is posted by the write loop when conn.Write fails.
type evWriteError struct {
	gen uint64
	err error
}

// evReconnectDue is posted by the reconnect policy's timer once the
// inter-attempt delay has elapsed.
type evReconnectDue struct {
	gen uint64
}

// evClose is posted by the caller via Transport.Close.
type evClose struct{}
