package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ReplaySource plays decoded PCM through a handler in real time, one block per
// block duration. It stands in for a microphone when no device is available.
type ReplaySource struct {
	samples []float32
	config  Config
	loop    bool
	tick    time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// ReplayOption customises a ReplaySource
type ReplayOption func(*ReplaySource)

// WithLoop restarts the track from the beginning when it ends
func WithLoop() ReplayOption {
	return func(s *ReplaySource) { s.loop = true }
}

// WithTick overrides the pacing interval (defaults to one block duration)
func WithTick(d time.Duration) ReplayOption {
	return func(s *ReplaySource) { s.tick = d }
}

// NewReplaySource creates a replay source over mono samples recorded at config.SampleRate
func NewReplaySource(samples []float64, config Config, opts ...ReplayOption) *ReplaySource {
	pcm := make([]float32, len(samples))
	for i, v := range samples {
		pcm[i] = float32(v)
	}

	s := &ReplaySource{
		samples: pcm,
		config:  config,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if config.SampleRate > 0 {
		s.tick = time.Duration(float64(config.BlockSize) / float64(config.SampleRate) * float64(time.Second))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins pacing blocks to handler on a background goroutine
func (s *ReplaySource) Start(handler Handler) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.tick <= 0 {
		return errors.New("replay tick must be positive")
	}
	if len(s.samples) < s.config.BlockSize {
		return fmt.Errorf("replay track of %d samples is shorter than one block of %d", len(s.samples), s.config.BlockSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("replay source already closed")
	}
	if s.started {
		return errors.New("replay source already started")
	}
	s.started = true

	go s.run(handler)

	log.Printf("Replay: Playing %d samples at %d Hz in blocks of %d", len(s.samples), s.config.SampleRate, s.config.BlockSize)
	return nil
}

func (s *ReplaySource) run(handler Handler) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	block := make([]float32, s.config.BlockSize)
	pos := 0
	warned := false

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		if pos >= len(s.samples) {
			if !s.loop || len(s.samples) == 0 {
				log.Println("Replay: End of track")
				return
			}
			pos = 0
		}

		n := copy(block, s.samples[pos:])
		pos += n
		if n < len(block) {
			// Short blocks are never padded; the tail is not played
			if !warned {
				log.Printf("Replay: Skipping %d-sample tail shorter than a block", n)
				warned = true
			}
			continue
		}

		handler(block, 0)
	}
}

// Done is closed when playback ends or the source is closed
func (s *ReplaySource) Done() <-chan struct{} {
	return s.done
}

// Close stops playback and waits for the pacing goroutine to exit
func (s *ReplaySource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	close(s.stop)
	s.mu.Unlock()

	if started {
		<-s.done
	}
	return nil
}
