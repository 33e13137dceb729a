package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"svara-stream/internal/models"
)

const closeGracePeriod = time.Second

// WebSocketSink sends one JSON text message per payload
type WebSocketSink struct {
	conn *websocket.Conn

	mu     sync.Mutex // Serialises writers
	closed bool

	gone     chan struct{} // Closed when the read loop sees the peer leave
	goneOnce sync.Once
}

// NewWebSocketSink wraps an upgraded connection and starts draining control frames
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	s := &WebSocketSink{
		conn: conn,
		gone: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// readLoop discards client messages so ping and close frames are processed
func (s *WebSocketSink) readLoop() {
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			s.goneOnce.Do(func() { close(s.gone) })
			return
		}
	}
}

// Send writes one text message. The write deadline follows the context deadline.
func (s *WebSocketSink) Send(ctx context.Context, payload *models.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-s.gone:
		return ErrSinkClosed
	default:
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkClosed, err)
	}
	stop := context.AfterFunc(ctx, func() { s.conn.UnderlyingConn().SetWriteDeadline(time.Now()) })
	defer stop()

	if err := s.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		if isPeerGone(err) || errors.Is(err, websocket.ErrCloseSent) {
			return fmt.Errorf("%w: %v", ErrSinkClosed, err)
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return fmt.Errorf("%w: %v", ErrSinkClosed, err)
		}
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection. Safe to call more than once.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return s.conn.Close()
}

// WebSocketListener upgrades HTTP requests on one path and queues them as consumers
type WebSocketListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	conns     chan *websocket.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

// ListenWebSocket binds addr and serves websocket upgrades on path
func ListenWebSocket(addr, path string) (*WebSocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if path == "" {
		path = "/"
	}

	l := &WebSocketListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:  make(chan *websocket.Conn),
		closed: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("WebSocketListener: Server stopped: %v", err)
		}
	}()

	log.Printf("WebSocketListener: Listening on ws://%s%s", ln.Addr(), path)
	return l, nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketListener: Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	// The connection is hijacked, so it outlives this handler once queued
	select {
	case l.conns <- conn:
	case <-l.closed:
		conn.Close()
	}
}

// Accept waits for the next upgraded consumer or until ctx is cancelled
func (l *WebSocketListener) Accept(ctx context.Context) (Sink, error) {
	select {
	case conn := <-l.conns:
		log.Printf("WebSocketListener: Consumer connected from %s", conn.RemoteAddr())
		return NewWebSocketSink(conn), nil
	case <-l.closed:
		return nil, ErrSinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the bound address
func (l *WebSocketListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the HTTP server and rejects queued consumers
func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		ctx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
		defer cancel()
		err = l.server.Shutdown(ctx)
	})
	return err
}
