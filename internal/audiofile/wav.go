// Package audiofile decodes recorded tracks into mono PCM for offline analysis,
// replay capture and practice references.
package audiofile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mjibson/go-dsp/wav"
)

// readChunk is the number of interleaved samples requested per read
const readChunk = 8192

// Track is a decoded recording
type Track struct {
	Samples    []float64 // Mono, normalised to [-1, 1]
	SampleRate int
	Channels   int // Channel count of the source file
}

// Duration returns the playback length of the track
func (t *Track) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(t.Samples)) / float64(t.SampleRate) * float64(time.Second))
}

// Seconds returns the playback length in seconds
func (t *Track) Seconds() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(len(t.Samples)) / float64(t.SampleRate)
}

// Load decodes a WAV file from disk
func Load(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	track, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return track, nil
}

// Decode reads a WAV stream and averages its channels down to mono
func Decode(r io.Reader) (*Track, error) {
	w, err := wav.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	channels := int(w.Header.NumChannels)
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if w.Header.SampleRate == 0 {
		return nil, errors.New("invalid sample rate 0")
	}

	// Keep whole frames per read so channel averaging never straddles reads
	chunk := readChunk - readChunk%channels
	if chunk == 0 {
		chunk = channels
	}

	var samples []float64
	for {
		raw, err := w.ReadFloats(chunk)
		samples = appendMono(samples, raw, channels)

		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("failed to read samples: %w", err)
		}
		if len(raw) == 0 {
			break
		}
	}

	return &Track{
		Samples:    samples,
		SampleRate: int(w.Header.SampleRate),
		Channels:   channels,
	}, nil
}

// appendMono averages interleaved frames into dst; a trailing partial frame is dropped
func appendMono(dst []float64, interleaved []float32, channels int) []float64 {
	frames := len(interleaved) / channels
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(interleaved[i*channels+c])
		}
		dst = append(dst, sum/float64(channels))
	}
	return dst
}
