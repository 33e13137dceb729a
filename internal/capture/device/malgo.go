package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"svara-stream/internal/capture"

	"github.com/gen2brain/malgo"
)

// MalgoSource captures mono float32 blocks through miniaudio
type MalgoSource struct {
	config capture.Config

	mu      sync.Mutex
	context *malgo.AllocatedContext
	device  *malgo.Device
	closed  bool
}

// NewMalgoSource creates a source for the default miniaudio capture device
func NewMalgoSource(config capture.Config) *MalgoSource {
	return &MalgoSource{config: config}
}

// Start initialises a miniaudio context and starts the capture device
func (s *MalgoSource) Start(handler capture.Handler) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("malgo source already closed")
	}
	if s.device != nil {
		return errors.New("malgo source already started")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Printf("Malgo: %s", message)
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.config.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(s.config.BlockSize)

	var frames []float32
	onData := func(_, input []byte, frameCount uint32) {
		if frameCount == 0 {
			return
		}
		frames = decodeF32(frames[:0], input, int(frameCount))
		handler(frames, 0)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	s.context = ctx
	s.device = device
	log.Printf("Malgo: Capturing %d Hz mono, %d frames per period", s.config.SampleRate, s.config.BlockSize)
	return nil
}

// Close stops the device and frees the context. Safe to call more than once.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.device == nil {
		return nil
	}

	var errs []error
	if err := s.device.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop capture device: %w", err))
	}
	s.device.Uninit()
	if err := s.context.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release audio context: %w", err))
	}
	s.context.Free()
	s.device, s.context = nil, nil

	log.Println("Malgo: Capture stopped")
	return errors.Join(errs...)
}

// decodeF32 converts little-endian float32 frames into dst
func decodeF32(dst []float32, raw []byte, frames int) []float32 {
	if n := len(raw) / 4; frames > n {
		frames = n
	}
	for i := 0; i < frames; i++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return dst
}
