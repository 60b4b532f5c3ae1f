package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/RoanBrand/mqttconn/config"
	"github.com/RoanBrand/mqttconn/internal/wsconn"
)

// dial connects to cfg.Address. For the tcp scheme it resolves the host,
// applies TCP_NODELAY, SO_LINGER=2s and 2×scratchSize send/recv buffers,
// and optionally wraps the result in TLS, per spec.md §4.4/§6; it tries
// every address DNS returns, in order, until one succeeds or ctx expires
// — the §9 Open Question on multi-address DNS policy, resolved as "try
// all, in order". For the ws scheme it dials through wsconn.Dial, which
// does its own resolution and applies none of these socket options.
func dial(ctx context.Context, cfg config.Config, scratchSize uint32) (net.Conn, error) {
	if cfg.Scheme == config.SchemeWS {
		return dialWS(ctx, cfg)
	}
	return dialTCP(ctx, cfg, scratchSize)
}

func dialTCP(ctx context.Context, cfg config.Config, scratchSize uint32) (net.Conn, error) {
	host, port, err := net.SplitHostPort(cfg.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "mqttconn: invalid address %q", cfg.Address)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Wrap(err, "mqttconn: resolving dns")
	}

	var lastErr error
	d := net.Dialer{}
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip.IP.String(), port))
		if err != nil {
			lastErr = err
			continue
		}

		if tcpConn, ok := raw.(*net.TCPConn); ok {
			tuneSocket(tcpConn, int(scratchSize))
		}

		var conn net.Conn = raw
		if cfg.TLS != nil || cfg.TLSConfig != nil {
			conn, err = wrapTLS(ctx, raw, cfg)
			if err != nil {
				raw.Close()
				lastErr = err
				continue
			}
		}
		return conn, nil
	}

	if lastErr == nil {
		lastErr = errors.New("mqttconn: dns resolution returned no addresses")
	}
	return nil, errors.Wrap(lastErr, "mqttconn: connecting")
}

func tuneSocket(c *net.TCPConn, scratchSize int) {
	c.SetNoDelay(true)
	c.SetLinger(2)
	bufSize := 2 * scratchSize
	c.SetReadBuffer(bufSize)
	c.SetWriteBuffer(bufSize)
}

// wrapTLS never constructs certificate trust itself: InsecureSkipVerify and
// any custom VerifyPeerCertificate/RootCAs a caller wants are carried
// through verbatim via cfg.TLSConfig, cloned so repeated dials/reconnects
// never share or mutate the caller's struct. Only the cert/key pair for
// client-cert auth is assembled here, since that has a JSON form.
func wrapTLS(ctx context.Context, raw net.Conn, cfg config.Config) (net.Conn, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(raw, tlsCfg)
	if deadline, ok := ctx.Deadline(); ok {
		tlsConn.SetDeadline(deadline)
		defer tlsConn.SetDeadline(time.Time{})
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errors.Wrap(err, "mqttconn: TLS handshake")
	}
	return tlsConn, nil
}

func dialWS(ctx context.Context, cfg config.Config) (net.Conn, error) {
	scheme := "ws"
	var tlsCfg *tls.Config
	if cfg.TLS != nil || cfg.TLSConfig != nil {
		scheme = "wss"
		var err error
		tlsCfg, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	url := scheme + "://" + cfg.Address + path
	return wsconn.Dial(ctx, url, nil, tlsCfg)
}

// buildTLSConfig assembles the base *tls.Config a wss:// dial or a TCP TLS
// wrap should use: the caller's TLSConfig if set (cloned so reconnects never
// share or mutate the caller's struct), otherwise one built from the
// JSON-only TLS settings. It never constructs certificate trust itself;
// InsecureSkipVerify and any custom VerifyPeerCertificate/RootCAs a caller
// wants are carried through verbatim via TLSConfig.
func buildTLSConfig(cfg config.Config) (*tls.Config, error) {
	var tlsCfg *tls.Config
	switch {
	case cfg.TLSConfig != nil:
		tlsCfg = cfg.TLSConfig.Clone()
	case cfg.TLS != nil:
		tlsCfg = &tls.Config{InsecureSkipVerify: cfg.TLS.InsecureSkipVerify}
	default:
		tlsCfg = &tls.Config{}
	}

	if cfg.TLS != nil && cfg.TLS.Cert != "" && cfg.TLS.Key != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return nil, errors.Wrap(err, "mqttconn: loading TLS keypair")
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
