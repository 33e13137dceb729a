package delivery

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"svara-stream/internal/models"
)

// MaxFrameSize bounds a single length-prefixed frame
const MaxFrameSize = 16 << 20

// SocketSink writes length-prefixed JSON frames to a stream connection.
// Each frame is a 4-byte big-endian length followed by the JSON object.
type SocketSink struct {
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

// NewSocketSink wraps an established connection
func NewSocketSink(conn net.Conn) *SocketSink {
	return &SocketSink{conn: conn}
}

// Send writes one frame. The write deadline follows the context deadline and
// cancellation. A frame cut short closes the sink.
func (s *SocketSink) Send(ctx context.Context, payload *models.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("payload of %d bytes exceeds frame limit", len(body))
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil && isPeerGone(err) {
		return fmt.Errorf("%w: %v", ErrSinkClosed, err)
	}
	// Cancellation interrupts a blocked write the same way a deadline does
	stop := context.AfterFunc(ctx, func() { s.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	n, err := s.conn.Write(frame)
	if err != nil {
		if isPeerGone(err) {
			return fmt.Errorf("%w: %v", ErrSinkClosed, err)
		}
		if n > 0 {
			// The consumer is mid-frame; any further frame would be misread
			s.closed = true
			s.conn.Close()
			return fmt.Errorf("%w: partial frame (%d of %d bytes): %v", ErrSinkClosed, n, len(frame), err)
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once.
func (s *SocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// RemoteAddr returns the consumer's address
func (s *SocketSink) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// ReadFrame reads one length-prefixed frame and decodes it into a payload
func ReadFrame(r io.Reader) (*models.Payload, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	var payload models.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}

// SocketListener accepts raw TCP consumers
type SocketListener struct {
	ln net.Listener
}

// ListenSocket binds a TCP listener on addr
func ListenSocket(addr string) (*SocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	log.Printf("SocketListener: Listening on %s", ln.Addr())
	return &SocketListener{ln: ln}, nil
}

// Accept waits for the next consumer or until ctx is cancelled
func (l *SocketListener) Accept(ctx context.Context) (Sink, error) {
	if d, ok := l.ln.(interface{ SetDeadline(time.Time) error }); ok {
		d.SetDeadline(time.Time{})
		stop := context.AfterFunc(ctx, func() { d.SetDeadline(time.Now()) })
		defer stop()
	}

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrSinkClosed
		}
		return nil, fmt.Errorf("failed to accept consumer: %w", err)
	}

	log.Printf("SocketListener: Consumer connected from %s", conn.RemoteAddr())
	return NewSocketSink(conn), nil
}

// Addr returns the bound address
func (l *SocketListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting consumers
func (l *SocketListener) Close() error {
	return l.ln.Close()
}
