package wsession

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")
	// ErrClosedByServer is set as close reason when the peer closes with a normal closure status.
	ErrClosedByServer = errors.New("connection closed by server")

	ErrNotConnected               = errors.New("not connected")
	ErrQueueFull                  = errors.New("message queue is full")
	ErrQueueDisabled              = errors.New("message queue is disabled")
	ErrReconnectAttemptsExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidOptions             = errors.New("invalid options")
	ErrDecodeFrame                = errors.New("cannot decode frame")
)

type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("Unrecoverable connection error: %s to %s", e.err, e.url.String())
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) *ErrUnrecoverableConnection {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}

// isCleanClose reports whether a transport close reason means no reconnect should follow.
func isCleanClose(reason error) bool {
	return reason == nil || errors.Is(reason, ErrTerminated) || errors.Is(reason, ErrClosedByServer)
}
