// Package capture adapts audio input devices and streams to a single callback
// contract. Handlers run on the device's own thread and must not block.
package capture

import (
	"fmt"
	"strings"
)

// Status carries per-callback device conditions. Zero means a clean block.
type Status uint32

const (
	StatusInputOverflow Status = 1 << iota
	StatusInputUnderflow
	StatusRateMismatch // A remote frame at a different sample rate was dropped
	StatusPriming
)

func (s Status) String() string {
	if s == 0 {
		return "ok"
	}
	var parts []string
	if s&StatusInputOverflow != 0 {
		parts = append(parts, "input overflow")
	}
	if s&StatusInputUnderflow != 0 {
		parts = append(parts, "input underflow")
	}
	if s&StatusRateMismatch != 0 {
		parts = append(parts, "sample rate mismatch")
	}
	if s&StatusPriming != 0 {
		parts = append(parts, "priming")
	}
	if rest := s &^ (StatusInputOverflow | StatusInputUnderflow | StatusRateMismatch | StatusPriming); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, ", ")
}

// Handler receives one block of mono frames. frames is only valid for the
// duration of the call.
type Handler func(frames []float32, status Status)

// Source is an audio input that pushes blocks to a handler until closed
type Source interface {
	Start(handler Handler) error
	Close() error
}

// Config holds configuration shared by the device backends
type Config struct {
	SampleRate int
	BlockSize  int // Frames per callback
}

// DefaultConfig returns default capture configuration
func DefaultConfig() Config {
	return Config{
		SampleRate: 44100,
		BlockSize:  2048,
	}
}

// Validate checks that a device can be opened with this configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	return nil
}
