package services

import (
	"log"
	"sync"
	"time"

	"svara-stream/internal/aggregator"
	"svara-stream/internal/capture"
)

// CaptureService bridges a capture source into the single-slot block buffer.
// Its handler runs on the audio thread: it copies the block and returns.
type CaptureService struct {
	source capture.Source
	buffer *aggregator.BlockBuffer

	warnInterval time.Duration

	mu         sync.Mutex
	blocks     uint64
	warnings   uint64
	suppressed uint64
	lastWarn   time.Time
}

// CaptureServiceConfig holds configuration for the capture service
type CaptureServiceConfig struct {
	WarnInterval time.Duration // Minimum gap between logged status warnings
}

// DefaultCaptureServiceConfig returns default configuration
func DefaultCaptureServiceConfig() CaptureServiceConfig {
	return CaptureServiceConfig{
		WarnInterval: time.Second,
	}
}

// CaptureStats summarises what the capture handler has seen
type CaptureStats struct {
	Blocks   uint64 // Blocks written to the buffer
	Warnings uint64 // Blocks that arrived with a non-zero status
	Dropped  uint64 // Blocks overwritten before the cadence loop read them
}

// NewCaptureService creates a new capture service writing into buffer
func NewCaptureService(source capture.Source, buffer *aggregator.BlockBuffer, config CaptureServiceConfig) *CaptureService {
	return &CaptureService{
		source:       source,
		buffer:       buffer,
		warnInterval: config.WarnInterval,
	}
}

// Start opens the capture source
func (s *CaptureService) Start() error {
	log.Println("CaptureService: Starting...")
	return s.source.Start(s.handleFrames)
}

// handleFrames is the capture callback: status is a warning, never fatal
func (s *CaptureService) handleFrames(frames []float32, status capture.Status) {
	if len(frames) > 0 {
		s.buffer.Write(frames)
	}

	s.mu.Lock()
	s.blocks++
	if status == 0 {
		s.mu.Unlock()
		return
	}
	s.warnings++
	now := time.Now()
	if now.Sub(s.lastWarn) < s.warnInterval {
		s.suppressed++
		s.mu.Unlock()
		return
	}
	suppressed := s.suppressed
	s.suppressed = 0
	s.lastWarn = now
	s.mu.Unlock()

	if suppressed > 0 {
		log.Printf("CaptureService: Warning - capture status: %s (%d similar warnings suppressed)", status, suppressed)
	} else {
		log.Printf("CaptureService: Warning - capture status: %s", status)
	}
}

// Buffer returns the block buffer the service writes into
func (s *CaptureService) Buffer() *aggregator.BlockBuffer {
	return s.buffer
}

// Stats returns capture counters
func (s *CaptureService) Stats() CaptureStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CaptureStats{
		Blocks:   s.blocks,
		Warnings: s.warnings,
		Dropped:  s.buffer.Dropped(),
	}
}

// Close releases the capture source
func (s *CaptureService) Close() error {
	err := s.source.Close()
	log.Println("CaptureService: Shutdown complete")
	return err
}
