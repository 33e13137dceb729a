// Package delivery ships detection payloads to a connected consumer.
package delivery

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"svara-stream/internal/models"
)

// ErrSinkClosed reports that the consumer is gone and no further sends can succeed
var ErrSinkClosed = errors.New("sink closed")

// Sink delivers payloads to one consumer
type Sink interface {
	Send(ctx context.Context, payload *models.Payload) error
	Close() error
}

// Listener hands out one Sink per connecting consumer
type Listener interface {
	Accept(ctx context.Context) (Sink, error)
	Addr() net.Addr
	Close() error
}

// isPeerGone reports whether a write error means the connection cannot recover
func isPeerGone(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}
