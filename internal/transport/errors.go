package transport

import "github.com/pkg/errors"

// ErrCancelled marks an I/O error that resulted from the state machine
// itself closing the socket (reconnect or shutdown), not from the peer
// or the network. Per spec.md §7 it must never be logged above Debug.
var ErrCancelled = errors.New("mqttconn: operation cancelled")
