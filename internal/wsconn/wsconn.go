// Package wsconn adapts a client-side gorilla/websocket connection to the
// net.Conn shape internal/transport dials and drives. It is the client-side
// mirror of the broker's websocket listener: where the broker upgraded
// incoming HTTP requests and handed the result to its dispatcher, wsconn
// dials out and hands the result to the transport's read/write loops as an
// ordinary stream.
package wsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// DialTimeout bounds how long the initial WebSocket handshake may take.
const DialTimeout = 10 * time.Second

// Dial opens a WebSocket connection to url using the "mqtt" subprotocol
// required by [MQTT-6.0.0-3] and returns it wrapped as a net.Conn.
// tlsConfig is used for wss:// URLs (nil means the dialer's own default) and
// ignored for ws://.
func Dial(ctx context.Context, url string, header http.Header, tlsConfig *tls.Config) (net.Conn, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"mqtt"},
		HandshakeTimeout: DialTimeout,
		TLSClientConfig:  tlsConfig,
	}

	c, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		resp.Body.Close()
	}
	if c.Subprotocol() != "mqtt" { // [MQTT-6.0.0-4]
		c.Close()
		return nil, errors.New("mqttconn: server did not negotiate the mqtt subprotocol")
	}
	return &Conn{Conn: c}, nil
}

// Conn adapts a *websocket.Conn to net.Conn. Each WriteMessage call sends
// one binary WebSocket message; Read transparently spans messages so the
// frame decoder above it sees one continuous byte stream, same as it would
// over a raw TCP socket [MQTT-6.0.0-1].
type Conn struct {
	*websocket.Conn
	r io.Reader
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				return 0, errors.New("mqttconn: websocket peer sent a non-binary message")
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.SetWriteDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetReadDeadline(t)
}
