// Package transport implements the connection lifecycle state machine: it
// owns a single socket at a time, drives a read loop and a write loop
// against it, and reconnects on failure up to a configured budget. It
// knows nothing about MQTT packet contents — internal/frame frames the
// bytes it moves, and the session layer above interprets them.
//
// The state machine is a single-goroutine actor in the teacher's session.go
// mold: one owning goroutine (run) serializes every transition by reading
// from a mailbox channel; the read loop and write loop it spawns never
// touch Transport fields directly, they only post events back into the
// mailbox or move cells through the queue.Pair. A context.CancelFunc per
// "generation" (one lifespan of Running) stands in for the teacher's
// ctx/cancel/onlyOnce triple, fixing the one bug class the teacher's shape
// invites: a stale cancellation from a previous generation must never
// reach the loops of the current one, so every event generated by a loop
// or a dial carries the generation number it belongs to and is dropped by
// run() if that generation has since moved on.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/mqttconn/config"
	"github.com/RoanBrand/mqttconn/internal/buffer"
	"github.com/RoanBrand/mqttconn/internal/queue"
)

// Status is a best-effort, non-synchronizing observable of the state
// machine's progress. Callers must not use it to gate behavior; the
// authoritative signals are queue completion and the Terminated channel.
type Status int32

const (
	StatusNotStarted Status = iota
	StatusConnecting
	StatusConnected
	StatusAborted
	StatusFailed
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "NotStarted"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusAborted:
		return "Aborted"
	case StatusFailed:
		return "Failed"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// TerminationReason is the value carried exactly once by the Terminated
// channel, when the state machine reaches Terminated for good.
type TerminationReason int32

const (
	ReasonNormal TerminationReason = iota
	ReasonError
	ReasonCouldNotConnect
	ReasonAborted
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonNormal:
		return "Normal"
	case ReasonError:
		return "Error"
	case ReasonCouldNotConnect:
		return "CouldNotConnect"
	case ReasonAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// terminalStatus maps a TerminationReason to the final Status, per
// FullShutdown's mapping table.
func terminalStatus(r TerminationReason) Status {
	switch r {
	case ReasonError:
		return StatusFailed
	case ReasonNormal:
		return StatusDisconnected
	case ReasonCouldNotConnect:
		return StatusFailed
	case ReasonAborted:
		return StatusAborted
	default:
		return StatusFailed
	}
}

type state uint8

const (
	stateNotStarted state = iota
	stateConnecting
	stateRunning
	stateReconnecting
	stateTerminated
)

// Transport owns one reconnecting connection. Every field below the
// "run()-owned" marker is touched only by the run() goroutine; the fields
// above that marker (cfg, pool, pair, mailbox, status, terminated*) are safe
// to touch from other goroutines because they are immutable after New or
// are themselves concurrency-safe.
type Transport struct {
	cfg  config.Config
	pool *buffer.Pool
	pair *queue.Pair

	mailbox chan event
	status  atomic.Int32

	terminatedCh   chan TerminationReason
	terminatedOnce sync.Once

	// run()-owned.
	st       state
	conn     net.Conn
	gen      uint64
	genCtx   context.Context
	genStop  context.CancelFunc
	attempts uint32
	wg       sync.WaitGroup
}

// New returns a Transport in NotStarted, not yet driving any I/O. pool
// rents outbound cells and pair carries the two duplex byte queues; both
// outlive any number of reconnects and are only ever completed by Close or
// terminal failure.
func New(cfg config.Config, pool *buffer.Pool, pair *queue.Pair) *Transport {
	t := &Transport{
		cfg:          cfg,
		pool:         pool,
		pair:         pair,
		mailbox:      make(chan event, 16),
		terminatedCh: make(chan TerminationReason, 1),
	}
	t.status.Store(int32(StatusNotStarted))
	go t.run()
	return t
}

// Status returns the best-effort current status.
func (t *Transport) Status() Status {
	return Status(t.status.Load())
}

// Terminated fires exactly once, when the state machine reaches Terminated.
func (t *Transport) Terminated() <-chan TerminationReason {
	return t.terminatedCh
}

// Connect posts a Connect event. deadline, if non-zero, bounds the dial
// attempt; a zero deadline means "use cfg.DialTimeoutMS".
func (t *Transport) Connect(deadline time.Time) {
	t.post(evConnect{deadline: deadline})
}

// Close posts a Close event; the caller should await Terminated.
func (t *Transport) Close() {
	t.post(evClose{})
}

func (t *Transport) post(ev event) {
	select {
	case t.mailbox <- ev:
	default:
		// Mailbox is unbounded in spirit (spec §5); in practice we give it
		// real slack (16) and fall back to a blocking send so a burst of
		// externally-posted events is never silently dropped.
		t.mailbox <- ev
	}
}

func (t *Transport) setStatus(s Status) {
	t.status.Store(int32(s))
}

// run is the sole owner of every run()-owned field. It is the mailbox: all
// state transitions happen here, one event at a time, in the order posted.
func (t *Transport) run() {
	t.st = stateNotStarted
	for ev := range t.mailbox {
		if t.st == stateTerminated {
			continue // drain silently; FullShutdown already fired.
		}
		t.handle(ev)
	}
}

func (t *Transport) handle(ev event) {
	switch e := ev.(type) {
	case evConnect:
		t.onConnectRequested(e.deadline)

	case evConnectResult:
		if e.gen != t.gen {
			return // stale dial from a superseded generation.
		}
		if e.err != nil {
			t.onConnectFailed(e.err)
			return
		}
		t.onConnected(e.conn)

	case evReadFinished:
		if e.gen != t.gen {
			return
		}
		t.onLoopExit(e.err)

	case evWriteError:
		if e.gen != t.gen {
			return
		}
		t.onLoopExit(e.err)

	case evReconnectDue:
		if e.gen != t.gen {
			return
		}
		// The one documented non-monotonic status transition: Aborted (or
		// a failed-initial-connect's Failed) moves back to Connecting once
		// the reconnect policy actually starts redialing.
		t.setStatus(StatusConnecting)
		t.dialAsync(t.dialDeadline())

	case evClose:
		t.fullShutdown(ReasonNormal)
	}
}

func (t *Transport) onConnectRequested(deadline time.Time) {
	switch t.st {
	case stateNotStarted, stateConnecting:
		t.st = stateConnecting
		t.setStatus(StatusConnecting)
		if deadline.IsZero() {
			deadline = time.Now().Add(time.Duration(t.cfg.DialTimeoutMS) * time.Millisecond)
		}
		t.dialAsync(deadline)
	default:
		log.WithField("state", t.st).Debug("mqttconn: Connect ignored outside NotStarted/Connecting")
	}
}

func (t *Transport) dialDeadline() time.Time {
	return time.Now().Add(time.Duration(t.cfg.ReconnectIntervalMS) * time.Millisecond)
}

func (t *Transport) dialAsync(deadline time.Time) {
	gen := t.gen
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	go func() {
		defer cancel()
		conn, err := dial(ctx, t.cfg, t.scratchSize())
		// run() drains the mailbox for the lifetime of the process (even
		// past Terminated, see run()'s drain branch), so this send always
		// eventually succeeds.
		t.mailbox <- evConnectResult{gen: gen, conn: conn, err: err}
	}()
}

func (t *Transport) onConnected(conn net.Conn) {
	t.conn = conn
	t.attempts = 0
	t.gen++
	t.genCtx, t.genStop = context.WithCancel(context.Background())
	t.st = stateRunning
	t.setStatus(StatusConnected)

	gen := t.gen
	ctx := t.genCtx
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		readLoop(ctx, gen, conn, t.pair.Inbound, t.mailbox, t.scratchSize())
	}()
	go func() {
		defer t.wg.Done()
		writeLoop(ctx, gen, conn, t.pair.Outbound, t.pool, t.mailbox)
	}()
}

func (t *Transport) onConnectFailed(err error) {
	log.WithError(err).Warn("mqttconn: connect failed")
	t.st = stateReconnecting
	t.setStatus(StatusFailed)
	t.reconnectOrTerminate()
}

// onLoopExit handles both ReadFinished and WriteError: either one means the
// current generation's socket is no longer usable.
func (t *Transport) onLoopExit(err error) {
	if t.st != stateRunning {
		return
	}
	if err != nil {
		if err == ErrCancelled {
			log.WithError(err).Debug("mqttconn: loop exited on cancellation")
		} else {
			log.WithError(err).Warn("mqttconn: connection lost")
		}
	}
	t.disposeSocket()
	t.st = stateReconnecting
	t.setStatus(StatusAborted)
	t.reconnectOrTerminate()
}

// disposeSocket cancels the current generation (the loops will see it on
// their next suspension point, and an in-flight conn.Read/Write unblocks
// immediately because of the Close below) and closes the socket. It is
// idempotent: calling it with no live conn is a no-op.
func (t *Transport) disposeSocket() {
	if t.genStop != nil {
		t.genStop()
		t.genStop = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *Transport) fullShutdown(reason TerminationReason) {
	t.disposeSocket()
	t.st = stateTerminated
	t.setStatus(terminalStatus(reason))
	t.pair.Complete()
	t.drainOutbound()
	t.terminatedOnce.Do(func() {
		t.terminatedCh <- reason
		close(t.terminatedCh)
	})
}

// drainOutbound releases every cell still sitting in the outbound queue
// back to the pool. Complete has already been called by the time this
// runs, so ReadContext yields whatever writeLoop never got to before
// returning ErrClosed; writeLoop itself only ever releases the one cell it
// was holding when it observed cancellation, so without this every cell
// still queued behind it would leak (spec.md §8's "channel-buffer
// conservation" property).
func (t *Transport) drainOutbound() {
	for {
		cell, err := t.pair.Outbound.ReadContext(context.Background())
		if err != nil {
			return
		}
		t.pool.Release(cell)
	}
}

func (t *Transport) scratchSize() uint32 {
	if t.cfg.MaxFrameSize > 0 {
		return t.cfg.MaxFrameSize
	}
	return defaultScratchSize
}

const defaultScratchSize = 4096
