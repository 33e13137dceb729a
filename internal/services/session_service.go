package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"svara-stream/internal/aggregator"
	"svara-stream/internal/capture"
	"svara-stream/internal/delivery"
	"svara-stream/internal/models"
	"svara-stream/internal/render"
	"svara-stream/internal/tracker"
)

// ErrResourceInit wraps failures to open the audio input or delivery surface
var ErrResourceInit = errors.New("resource initialization failed")

// State is the lifecycle position of a Session
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SessionConfig holds configuration for a streaming session
type SessionConfig struct {
	SampleRate             int
	Interval               time.Duration // Cadence tick
	SendTimeout            time.Duration // Bound on a single sink send
	MaxConsecutiveFailures int           // Close after this many failed sends in a row, 0 disables
	RenderWindow           time.Duration // History shown in each rendering
	StatsInterval          time.Duration // Period of the capture summary log line, 0 disables
}

// DefaultSessionConfig returns default configuration
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SampleRate:             44100,
		Interval:               100 * time.Millisecond,
		SendTimeout:            time.Second,
		MaxConsecutiveFailures: 3,
		RenderWindow:           5 * time.Second,
		StatsInterval:          10 * time.Second,
	}
}

// Validate checks the session configuration
func (c SessionConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("cadence interval must be positive, got %v", c.Interval)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive, got %v", c.SendTimeout)
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max consecutive failures must not be negative, got %d", c.MaxConsecutiveFailures)
	}
	return nil
}

// Session owns one capture-to-delivery pipeline: Idle, then Capturing, then
// Closed. A closed session cannot be restarted.
type Session struct {
	id     string
	config SessionConfig

	tracker   *tracker.Tracker
	capture   *CaptureService
	sink      delivery.Sink
	renderer  render.Renderer    // Optional
	reference *tracker.Reference // Optional

	mu        sync.Mutex
	state     State
	starting  bool // Capture is being opened outside the lock
	startTime time.Time
	closeErr  error
	cancel    context.CancelFunc // Cancels the cadence loop context

	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the cadence loop
	lastSeq    uint64
	failures   int
	sent       uint64
	sendErrors uint64
}

// SessionOption customises a Session
type SessionOption func(*Session)

// WithRenderer attaches a renderer; without one payloads carry no image
func WithRenderer(r render.Renderer) SessionOption {
	return func(s *Session) { s.renderer = r }
}

// WithReference overlays a scaled offline trace on every rendering
func WithReference(ref *tracker.Reference) SessionOption {
	return func(s *Session) { s.reference = ref }
}

// WithID overrides the generated session ID
func WithID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// NewSession creates an idle session. The tracker must be fresh: its trace
// belongs to this session.
func NewSession(config SessionConfig, t *tracker.Tracker, source capture.Source, sink delivery.Sink, opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		config:  config,
		tracker: t,
		capture: NewCaptureService(source, aggregator.NewBlockBuffer(), DefaultCaptureServiceConfig()),
		sink:    sink,
		state:   StateIdle,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier carried in every payload
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartTime returns when capture began (zero while idle)
func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// Tracker returns the session's tracker
func (s *Session) Tracker() *tracker.Tracker {
	return s.tracker
}

// Window returns a snapshot of trace events with timestamp in [from, to]
func (s *Session) Window(from, to float64) []models.DetectionEvent {
	return s.tracker.Window(from, to)
}

// Done is closed once the session has released its resources
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session closed: nil after Stop or context cancellation
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Start opens the capture source and launches the cadence loop. An open
// failure closes the session and is returned wrapped in ErrResourceInit.
func (s *Session) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateIdle || s.starting {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s cannot start from state %s", s.id, state)
	}
	s.starting = true
	s.mu.Unlock()

	// Opening a device or subscribing may block; State and Stop stay responsive
	if err := s.capture.Start(); err != nil {
		initErr := fmt.Errorf("%w: failed to open audio input: %v", ErrResourceInit, err)
		s.close(initErr)
		return initErr
	}

	loopCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.starting = false
	if s.stopRequested() {
		s.mu.Unlock()
		cancel()
		log.Printf("Session: %s stopped while opening audio input", s.id)
		s.close(nil)
		return nil
	}
	s.cancel = cancel
	s.startTime = time.Now()
	s.state = StateCapturing
	s.mu.Unlock()

	log.Printf("Session: %s capturing at %d Hz, tick every %v", s.id, s.config.SampleRate, s.config.Interval)

	go s.run(loopCtx)
	return nil
}

// Stop ends the session. The cadence loop observes it within one interval;
// an in-flight send is cancelled rather than waited out.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	idle := s.state == StateIdle && !s.starting
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// A session that never started has no loop to close it
	if idle {
		s.close(nil)
	}
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// run is the cadence loop. It exits on Stop, ctx cancellation or an
// unrecoverable sink failure.
func (s *Session) run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	var statsC <-chan time.Time
	if s.config.StatsInterval > 0 {
		statsTicker := time.NewTicker(s.config.StatsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			if s.stopRequested() {
				log.Printf("Session: %s stop requested, shutting down...", s.id)
			} else {
				log.Printf("Session: %s context cancelled, shutting down...", s.id)
			}
			s.close(nil)
			return
		case <-s.stop:
			log.Printf("Session: %s stop requested, shutting down...", s.id)
			s.close(nil)
			return
		case <-statsC:
			s.logStats()
		case <-ticker.C:
			// Both may be ready together; shutdown wins over another send
			if s.stopRequested() || ctx.Err() != nil {
				continue
			}
			if err := s.tick(ctx); err != nil {
				s.close(err)
				return
			}
		}
	}
}

// tick runs one ingest, render and deliver pass. A non-nil error closes the session.
func (s *Session) tick(ctx context.Context) error {
	elapsed := time.Since(s.StartTime()).Seconds()

	block, ok := s.capture.Buffer().Latest()
	if !ok {
		return nil
	}
	if block.Seq != s.lastSeq {
		s.lastSeq = block.Seq
		s.tracker.Ingest(block.Samples, s.config.SampleRate, elapsed)
	}

	latest, ok := s.tracker.Latest()
	if !ok {
		return nil
	}

	payload := models.NewPayload(s.id, latest, s.renderFrame(elapsed, latest))

	sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	err := s.sink.Send(sendCtx, payload)
	cancel()

	if err == nil {
		s.failures = 0
		s.sent++
		return nil
	}

	s.sendErrors++
	if ctx.Err() != nil {
		// Shutdown interrupted the send; the loop will see ctx.Done next
		return nil
	}
	if errors.Is(err, delivery.ErrSinkClosed) {
		log.Printf("Session: %s consumer disconnected: %v", s.id, err)
		return err
	}

	s.failures++
	log.Printf("Session: %s error sending data (%d consecutive): %v", s.id, s.failures, err)
	if s.config.MaxConsecutiveFailures > 0 && s.failures >= s.config.MaxConsecutiveFailures {
		return fmt.Errorf("closing after %d consecutive send failures: %w", s.failures, err)
	}
	return nil
}

// renderFrame draws the current window; a render failure drops only the image
func (s *Session) renderFrame(elapsed float64, latest models.DetectionEvent) []byte {
	if s.renderer == nil {
		return nil
	}

	from := elapsed - s.config.RenderWindow.Seconds()
	in := render.Input{
		Elapsed: elapsed,
		Live:    s.tracker.Window(from, elapsed+1),
		Latest:  latest,
	}
	if s.reference != nil {
		in.Reference = s.reference.Window(from, elapsed)
	}

	img, err := s.renderer.Render(in)
	if err != nil {
		log.Printf("Session: %s render failed: %v", s.id, err)
		return nil
	}
	return img
}

func (s *Session) logStats() {
	stats := s.capture.Stats()
	level := "n/a"
	if block, ok := s.capture.Buffer().Peek(); ok {
		m := aggregator.AnalyzeBlock(block.Samples, aggregator.DefaultAudioConfig())
		level = fmt.Sprintf("%.1f dBFS", m.LevelDB)
		if m.IsClipping {
			level += " (clipping)"
		}
	}
	log.Printf("Session: %s blocks=%d dropped=%d warnings=%d trace=%d sent=%d send_errors=%d level=%s",
		s.id, stats.Blocks, stats.Dropped, stats.Warnings, s.tracker.Len(), s.sent, s.sendErrors, level)
}

// close releases the capture source and the sink exactly once
func (s *Session) close(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.closeErr = reason
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		if err := s.capture.Close(); err != nil {
			log.Printf("Session: %s error releasing audio input: %v", s.id, err)
		}
		if err := s.sink.Close(); err != nil {
			log.Printf("Session: %s error closing sink: %v", s.id, err)
		}

		if reason != nil {
			log.Printf("Session: %s closed: %v", s.id, reason)
		} else {
			log.Printf("Session: %s closed", s.id)
		}
		close(s.done)
	})
}
