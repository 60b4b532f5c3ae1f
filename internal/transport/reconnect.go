package transport

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// reconnectOrTerminate implements the reconnect policy (component F):
// a fixed inter-attempt delay, not exponential backoff, and a hard cap.
// Grounded in the shape of other_examples/edgeo-scada-mqtt__client.go's
// reconnect() loop — a counter, a structured warning log, a sleep, a
// retry — but the policy numbers follow spec.md exactly rather than that
// example's exponential-backoff-with-jitter: fixed delay, hard attempt cap.
func (t *Transport) reconnectOrTerminate() {
	if t.attempts >= t.cfg.MaxReconnectAttempts {
		log.WithField("attempts", t.attempts).Warn("mqttconn: reconnect attempts exhausted")
		t.fullShutdown(ReasonCouldNotConnect)
		return
	}

	t.attempts++
	gen := t.gen
	delay := time.Duration(t.cfg.ReconnectIntervalMS) * time.Millisecond
	log.WithFields(log.Fields{
		"attempt": t.attempts,
		"max":     t.cfg.MaxReconnectAttempts,
		"delay":   delay,
	}).Warn("mqttconn: scheduling reconnect")

	time.AfterFunc(delay, func() {
		t.mailbox <- evReconnectDue{gen: gen}
	})
}
