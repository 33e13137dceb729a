// Package device captures audio from local input hardware through PortAudio
// or miniaudio.
package device

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"svara-stream/internal/capture"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures mono float32 blocks from the default input device
type PortAudioSource struct {
	config capture.Config

	mu     sync.Mutex
	stream *portaudio.Stream
	closed bool
}

// NewPortAudioSource creates a source for the default PortAudio input device
func NewPortAudioSource(config capture.Config) *PortAudioSource {
	return &PortAudioSource{config: config}
}

// Start initialises PortAudio and opens the default input stream
func (s *PortAudioSource) Start(handler capture.Handler) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("portaudio source already closed")
	}
	if s.stream != nil {
		return errors.New("portaudio source already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	callback := func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		handler(in, statusFromFlags(flags))
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.config.SampleRate), s.config.BlockSize, callback)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	s.stream = stream
	log.Printf("PortAudio: Capturing %d Hz mono, %d frames per block", s.config.SampleRate, s.config.BlockSize)
	return nil
}

// Close stops the stream and releases PortAudio. Safe to call more than once.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.stream == nil {
		return nil
	}

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop input stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close input stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("failed to terminate portaudio: %w", err))
	}
	s.stream = nil

	log.Println("PortAudio: Capture stopped")
	return errors.Join(errs...)
}

func statusFromFlags(flags portaudio.StreamCallbackFlags) capture.Status {
	var status capture.Status
	if flags&portaudio.InputOverflow != 0 {
		status |= capture.StatusInputOverflow
	}
	if flags&portaudio.InputUnderflow != 0 {
		status |= capture.StatusInputUnderflow
	}
	if flags&portaudio.PrimingOutput != 0 {
		status |= capture.StatusPriming
	}
	return status
}
