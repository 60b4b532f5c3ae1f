// Package mqttconn is the core of an MQTT 3.1.1 client transport: a wire
// codec (internal/frame) for framing control packets out of a byte stream,
// and a connection lifecycle state machine (internal/transport) that owns
// a TCP, TLS- or WebSocket-wrapped socket, drives reads and writes across
// two in-process queues, and transparently reconnects on failure up to a
// configured budget.
//
// Session-level concerns — CONNECT/CONNACK correlation, SUBSCRIBE/PUBLISH
// acknowledgment tracking, QoS retry queues, keep-alive pings — are
// deliberately out of scope; they belong to a layer built on top of the
// Handle this package returns.
package mqttconn

import (
	"context"
	"time"

	"github.com/RoanBrand/mqttconn/config"
	"github.com/RoanBrand/mqttconn/internal/buffer"
	"github.com/RoanBrand/mqttconn/internal/frame"
	"github.com/RoanBrand/mqttconn/internal/queue"
	"github.com/RoanBrand/mqttconn/internal/transport"
)

// ConnectionStatus is a best-effort, non-synchronizing observable of the
// transport's progress; see Handle.Status.
type ConnectionStatus = transport.Status

const (
	StatusNotStarted   = transport.StatusNotStarted
	StatusConnecting   = transport.StatusConnecting
	StatusConnected    = transport.StatusConnected
	StatusAborted      = transport.StatusAborted
	StatusFailed       = transport.StatusFailed
	StatusDisconnected = transport.StatusDisconnected
)

// TerminationReason is the value carried exactly once by a Handle's
// Terminated channel.
type TerminationReason = transport.TerminationReason

const (
	ReasonNormal          = transport.ReasonNormal
	ReasonError           = transport.ReasonError
	ReasonCouldNotConnect = transport.ReasonCouldNotConnect
	ReasonAborted         = transport.ReasonAborted
)

// Config is a transport's connection configuration, loaded from JSON via
// config.LoadFromFile or built directly by the caller.
type Config = config.Config

// Packet is any decoded or encodable MQTT control packet; re-exported from
// internal/frame so callers feeding the Handle's queues never need to
// import an internal package.
type Packet = frame.Packet

// Handle is the upward API to session logic: the single collaborator above
// the transport core. No socket I/O happens until Connect is called.
type Handle struct {
	t    *transport.Transport
	pool *buffer.Pool
	pair *queue.Pair
}

// NewTransport allocates a Handle in NotStarted: the outbound/inbound
// queues and the outbound buffer pool exist, but nothing has dialed yet.
func NewTransport(cfg Config) (*Handle, error) {
	scratchSize := cfg.MaxFrameSize
	if scratchSize == 0 {
		scratchSize = 4096
	}
	pool := buffer.NewPool(int(scratchSize))
	pair := queue.NewPair()

	return &Handle{
		t:    transport.New(cfg, pool, pair),
		pool: pool,
		pair: pair,
	}, nil
}

// Connect posts a Connect event and returns immediately; the caller learns
// the outcome by observing Status or by reading Terminated once the
// transport eventually gives up. deadline, if set on ctx, bounds the first
// dial attempt.
func (h *Handle) Connect(ctx context.Context) {
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	h.t.Connect(deadline)
}

// Close posts a Close event; the caller should await Terminated to know
// when shutdown has fully completed.
func (h *Handle) Close() {
	h.t.Close()
}

// Status returns the best-effort current status. It is not a
// synchronization primitive and may lag the state machine by one event.
func (h *Handle) Status() ConnectionStatus {
	return h.t.Status()
}

// Outbound is where session logic writes BufferCells to be sent on the
// wire, in order. Cells should be rented from Pool.
func (h *Handle) Outbound() *queue.Queue {
	return h.pair.Outbound
}

// Inbound is where session logic reads BufferCells of raw bytes read off
// the socket, in the order they arrived, to be fed to a frame.Decoder.
func (h *Handle) Inbound() *queue.Queue {
	return h.pair.Inbound
}

// Pool rents the buffer cells session logic should fill and hand to
// Outbound(). Once Outbound().Write accepts a cell, the transport releases
// it back to the pool after writing it (or on error/shutdown). A cell that
// Write rejects with queue.ErrClosed, or that is never handed to Outbound(),
// is still the caller's to Release.
func (h *Handle) Pool() *buffer.Pool {
	return h.pool
}

// Terminated fires exactly once, when the transport reaches its terminal
// state. It is the authoritative outcome of the connection's lifetime.
func (h *Handle) Terminated() <-chan TerminationReason {
	return h.t.Terminated()
}
