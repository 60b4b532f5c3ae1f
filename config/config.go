// Package config loads a transport's ConnectionConfig from a JSON file, the
// same encoding/json + os.Open + validate() idiom the broker used for its
// listener config, trimmed to one client connection instead of four
// listener sections.
package config

import (
	"crypto/tls"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Scheme selects which downward transport dials the server.
type Scheme string

const (
	SchemeTCP Scheme = "tcp"
	SchemeWS  Scheme = "ws"
)

// Config is a transport's connection configuration, as described by
// spec.md's ConnectionConfig.
type Config struct {
	// Address is "host:port" of the server to dial. If it lacks a ":port"
	// suffix, one is appended by validate() based on Scheme and TLS.
	Address string `json:"address"`

	// Scheme picks the downward transport: "tcp" (optionally TLS-wrapped)
	// or "ws" (optionally wss-wrapped, i.e. TLS-wrapped WebSocket).
	Scheme Scheme `json:"scheme"`

	// Path is the HTTP request path used when Scheme is "ws"; ignored
	// for "tcp". Defaults to "/".
	Path string `json:"path"`

	// TLS, if non-nil, wraps the dialed connection in a TLS handshake.
	// We never second-guess the caller's trust settings here.
	TLS *keyPair `json:"tls"`

	// TLSConfig, if set, is used verbatim as the base *tls.Config for the
	// handshake instead of one built from TLS — the only way for a Go
	// caller to wire a custom VerifyPeerCertificate or RootCAs, since
	// those have no JSON representation. Not loaded from JSON; set this
	// after LoadFromFile, or build a Config directly. When both TLSConfig
	// and TLS are set, TLSConfig wins, and TLS.Cert/TLS.Key (if both are
	// given) are still loaded and replace the clone's Certificates.
	TLSConfig *tls.Config `json:"-"`

	// MaxFrameSize sizes the transport's read scratch buffer, the socket's
	// read/write buffers (2×MaxFrameSize) and each pooled outbound
	// buffer.Cell; 0 means 4096. The transport does not frame packets, so it
	// does not enforce this as a packet-size limit; a frame.Decoder caps a
	// packet's declared remaining length only at the size passed to
	// frame.NewDecoder.
	MaxFrameSize uint32 `json:"max_frame_size"`

	// MaxReconnectAttempts bounds how many times the transport redials
	// after the first failed or dropped connection before terminating
	// with CouldNotConnect. 0 means "never reconnect."
	MaxReconnectAttempts uint32 `json:"max_reconnect_attempts"`

	// ReconnectIntervalMS is the fixed delay, in milliseconds, between
	// reconnect attempts. Not exponential backoff.
	ReconnectIntervalMS int64 `json:"reconnect_interval_ms"`

	// DialTimeoutMS bounds the first dial/handshake attempt, TCP or TLS,
	// when Connect is given no deadline. Reconnect dials are bounded by
	// ReconnectIntervalMS instead.
	DialTimeoutMS int64 `json:"dial_timeout_ms"`

	Log struct {
		File  string `json:"file"`
		Level string `json:"level"`
	} `json:"log"`
}

type keyPair struct {
	Cert               string `json:"cert"`
	Key                string `json:"key"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
}

// LoadFromFile reads and validates a Config from a JSON file.
func LoadFromFile(fPath string) (*Config, error) {
	f, err := os.Open(fPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening config file")
	}
	defer f.Close()

	c := &Config{}
	if err := json.NewDecoder(f).Decode(c); err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Address == "" {
		return errors.New("mqttconn: config.Address is required")
	}

	if c.Scheme == "" {
		c.Scheme = SchemeTCP
	}
	if c.Scheme != SchemeTCP && c.Scheme != SchemeWS {
		return errors.Errorf("mqttconn: unknown scheme %q", c.Scheme)
	}

	if !strings.Contains(c.Address, ":") {
		switch {
		case c.TLS != nil:
			c.Address += ":8883"
		case c.Scheme == SchemeWS:
			c.Address += ":80"
		default:
			c.Address += ":1883"
		}
	}

	if c.TLS != nil && c.TLS.Cert == "" && c.TLS.Key == "" && !c.TLS.InsecureSkipVerify {
		return errors.New("mqttconn: TLS config given with no cert/key and InsecureSkipVerify not set")
	}

	if c.ReconnectIntervalMS == 0 {
		c.ReconnectIntervalMS = 5000
	}
	if c.DialTimeoutMS == 0 {
		c.DialTimeoutMS = 10000
	}

	return nil
}
