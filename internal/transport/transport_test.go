package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/RoanBrand/mqttconn/config"
	"github.com/RoanBrand/mqttconn/internal/buffer"
	"github.com/RoanBrand/mqttconn/internal/queue"
)

func newTestTransport(t *testing.T, addr string, maxReconnect uint32, reconnectMS int64) (*Transport, *buffer.Pool, *queue.Pair) {
	t.Helper()
	cfg := config.Config{
		Address:              addr,
		Scheme:               config.SchemeTCP,
		MaxFrameSize:         1024,
		MaxReconnectAttempts: maxReconnect,
		ReconnectIntervalMS:  reconnectMS,
		DialTimeoutMS:        500,
	}
	pool := buffer.NewPool(1024)
	pair := queue.NewPair()
	return New(cfg, pool, pair), pool, pair
}

func waitForStatus(t *testing.T, tr *Transport, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tr.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %v, got %v", want, tr.Status())
}

// TestTransportConnectAndClose exercises scenario groundwork: a successful
// Connect followed by a caller-initiated Close terminates with Normal and
// Disconnected.
func TestTransportConnectAndClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go io_discard(c)
		}
	}()

	tr, _, pair := newTestTransport(t, ln.Addr().String(), 0, 50)
	tr.Connect(time.Time{})
	waitForStatus(t, tr, StatusConnected, 2*time.Second)

	tr.Close()
	select {
	case reason := <-tr.Terminated():
		if reason != ReasonNormal {
			t.Fatalf("got reason %v, want Normal", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Terminated")
	}
	if tr.Status() != StatusDisconnected {
		t.Fatalf("got status %v, want Disconnected", tr.Status())
	}

	// Channels must have been completed by FullShutdown.
	if _, err := pair.Outbound.ReadContext(context.Background()); err != queue.ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

// TestTransportReconnectAfterForcedDrop covers scenario 4: after a
// successful connect, the server-side socket is forcibly dropped; the
// transport reconnects on its own, observed as a second accept on the
// server.
func TestTransportReconnectAfterForcedDrop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	conns := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- c
			go io_discard(c)
		}
	}()

	tr, _, _ := newTestTransport(t, ln.Addr().String(), 3, 30)
	tr.Connect(time.Time{})
	waitForStatus(t, tr, StatusConnected, 2*time.Second)

	var first net.Conn
	select {
	case first = <-conns:
	case <-time.After(time.Second):
		t.Fatal("server never observed first accept")
	}
	first.Close() // forced drop

	waitForStatus(t, tr, StatusConnected, 2*time.Second)

	select {
	case <-conns:
	case <-time.After(time.Second):
		t.Fatal("server never observed a reconnect accept")
	}

	tr.Close()
	<-tr.Terminated()
}

// TestTransportReconnectExhausted covers scenario 5: the server never
// accepts again after the first drop, and MaxReconnectAttempts=1 means the
// transport terminates with CouldNotConnect once that single retry also
// fails to land a connection.
func TestTransportReconnectExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	tr, _, _ := newTestTransport(t, addr, 1, 20)
	tr.Connect(time.Time{})
	waitForStatus(t, tr, StatusConnected, 2*time.Second)

	var first net.Conn
	select {
	case first = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never observed first accept")
	}
	first.Close()
	ln.Close() // no further accepts possible; every retry dial now fails

	select {
	case reason := <-tr.Terminated():
		if reason != ReasonCouldNotConnect {
			t.Fatalf("got reason %v, want CouldNotConnect", reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Terminated")
	}
	if tr.Status() != StatusFailed {
		t.Fatalf("got status %v, want Failed", tr.Status())
	}
}

// TestTransportServerAbsentThenPresent covers scenario 6: dialing a closed
// port with MaxReconnectAttempts=0 terminates immediately with
// CouldNotConnect/Failed; a fresh Transport against the same address
// succeeds once a listener exists there.
func TestTransportServerAbsentThenPresent(t *testing.T) {
	// Grab a free port, then close the listener so the port is (almost
	// certainly) refused immediately.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := probe.Addr().String()
	probe.Close()

	tr, _, _ := newTestTransport(t, addr, 0, 20)
	tr.Connect(time.Time{})

	select {
	case reason := <-tr.Terminated():
		if reason != ReasonCouldNotConnect {
			t.Fatalf("got reason %v, want CouldNotConnect", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Terminated")
	}
	if tr.Status() != StatusFailed {
		t.Fatalf("got status %v, want Failed", tr.Status())
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			go io_discard(c)
		}
	}()

	tr2, _, _ := newTestTransport(t, addr, 0, 20)
	tr2.Connect(time.Time{})
	waitForStatus(t, tr2, StatusConnected, 2*time.Second)
	tr2.Close()
	<-tr2.Terminated()
}

// TestTransportMidHandshakeDrop covers scenario 7: the first connect
// succeeds; a forced drop triggers a reconnect whose server accepts the
// socket and then closes it immediately, before any bytes cross it
// ("dropped mid-handshake"); the transport reconnects a second time and
// that attempt lands cleanly. attempts must reset to 0 on the final
// success, so a low MaxReconnectAttempts budget is still enough to prove
// the sequence recovers rather than exhausting.
func TestTransportMidHandshakeDrop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	type accept struct {
		conn net.Conn
	}
	accepts := make(chan accept, 8)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepts <- accept{conn: c}
		}
	}()

	tr, _, _ := newTestTransport(t, ln.Addr().String(), 3, 30)
	tr.Connect(time.Time{})
	waitForStatus(t, tr, StatusConnected, 2*time.Second)

	// First accept: the initial successful connect. Keep it open and
	// discard whatever it sends, then force-drop it.
	var a1 accept
	select {
	case a1 = <-accepts:
	case <-time.After(time.Second):
		t.Fatal("server never observed first accept")
	}
	go io_discard(a1.conn)
	a1.conn.Close() // forced drop -> reconnect #1

	// Second accept: the mid-handshake drop. Accept and close right away,
	// without reading or writing anything.
	var a2 accept
	select {
	case a2 = <-accepts:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed second accept")
	}
	a2.conn.Close() // mid-handshake drop -> reconnect #2

	// Third accept: this one stays open, so the transport lands Connected.
	var a3 accept
	select {
	case a3 = <-accepts:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed third accept")
	}
	go io_discard(a3.conn)
	defer a3.conn.Close()

	waitForStatus(t, tr, StatusConnected, 2*time.Second)

	tr.Close()
	select {
	case reason := <-tr.Terminated():
		if reason != ReasonNormal {
			t.Fatalf("got reason %v, want Normal", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Terminated")
	}
}

// TestTransportCloseReleasesQueuedOutboundCells covers the channel-buffer
// conservation property of spec.md §8 on the shutdown path: cells still
// sitting in the outbound queue when Close terminates the transport — never
// touched by a writeLoop because one was never even running — must still be
// released back to the pool, not abandoned in the queue's linked list.
func TestTransportCloseReleasesQueuedOutboundCells(t *testing.T) {
	pool := buffer.NewPool(16)
	pair := queue.NewPair()
	tr := New(config.Config{
		Address:              "127.0.0.1:1",
		MaxFrameSize:         16,
		MaxReconnectAttempts: 0,
		ReconnectIntervalMS:  20,
		DialTimeoutMS:        200,
	}, pool, pair)

	const n = 3
	queued := make(map[*buffer.Cell]bool, n)
	for i := 0; i < n; i++ {
		c := pool.Get()
		queued[c] = true
		if err := pair.Outbound.Write(c); err != nil {
			t.Fatal(err)
		}
	}

	tr.Close()
	select {
	case <-tr.Terminated():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Terminated")
	}

	// Every cell handed back out by the pool now must be one of the ones
	// we queued: if drainOutbound had not released them, the pool would
	// have to allocate fresh ones instead.
	seen := make(map[*buffer.Cell]bool, n)
	for i := 0; i < n; i++ {
		c := pool.Get()
		if !queued[c] {
			t.Fatalf("pool.Get returned a cell never queued/released; got fresh allocation instead of reused cell #%d", i)
		}
		if seen[c] {
			t.Fatalf("pool.Get returned the same cell twice: %p", c)
		}
		seen[c] = true
	}
}

func io_discard(c net.Conn) {
	buf := make([]byte, 512)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}
