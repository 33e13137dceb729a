// Package spectral estimates the dominant frequency of an audio block.
//
// Each block is analysed on its own: a Welch power spectral density estimate
// (Hann-windowed, mean-removed segments, 50% overlap, averaged periodograms)
// is smoothed with a centred moving average and the bin of maximum smoothed
// power is reported.
// No state is carried between blocks, so there is no pitch continuity or
// octave-jump correction across blocks. Blocks shorter than the configured
// minimum are discarded, never zero-padded.
package spectral

import (
	"fmt"

	"github.com/cwbudde/algo-vecmath"
	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"svara-stream/internal/models"
)

// Config holds configuration for the estimator
type Config struct {
	MinBlockSize   int     // Blocks shorter than this are discarded
	SegmentLength  int     // Welch segment length (nperseg), clamped to the block length
	SmoothingWidth int     // Moving-average width over PSD bins, odd
	MinPower       float64 // Smoothed peak power must exceed this to count as signal
}

// DefaultConfig returns default estimator configuration
func DefaultConfig() Config {
	return Config{
		MinBlockSize:   256,
		SegmentLength:  1024,
		SmoothingWidth: 3,
		MinPower:       0,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MinBlockSize <= 0 {
		return fmt.Errorf("minimum block size must be > 0: %d", c.MinBlockSize)
	}
	if c.SegmentLength <= 0 {
		return fmt.Errorf("segment length must be > 0: %d", c.SegmentLength)
	}
	if c.SmoothingWidth <= 0 || c.SmoothingWidth%2 == 0 {
		return fmt.Errorf("smoothing width must be a positive odd number: %d", c.SmoothingWidth)
	}
	if c.MinPower < 0 {
		return fmt.Errorf("minimum power must be >= 0: %f", c.MinPower)
	}
	return nil
}

// Estimator turns audio blocks into dominant-frequency estimates
type Estimator struct {
	config Config
}

// NewEstimator creates a new estimator
func NewEstimator(config Config) (*Estimator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid estimator config: %w", err)
	}
	return &Estimator{config: config}, nil
}

// Config returns the estimator configuration
func (e *Estimator) Config() Config {
	return e.config
}

// Estimate returns the dominant frequency of block.
// ok is false for short blocks, silence and empty or malformed spectra.
func (e *Estimator) Estimate(block []float64, sampleRate int) (sample models.SpectralSample, ok bool) {
	if len(block) < e.config.MinBlockSize || sampleRate <= 0 {
		return models.SpectralSample{}, false
	}

	nperseg := e.config.SegmentLength
	if nperseg > len(block) {
		nperseg = len(block)
	}

	pxx, freqs := welch(block, float64(sampleRate), nperseg)
	if len(pxx) == 0 || len(freqs) == 0 {
		return models.SpectralSample{}, false
	}

	smoothed := Smooth(pxx, e.config.SmoothingWidth)
	idx := floats.MaxIdx(smoothed)
	if idx < 0 || idx >= len(freqs) {
		return models.SpectralSample{}, false
	}

	power := smoothed[idx]
	if !(power > e.config.MinPower) {
		return models.SpectralSample{}, false
	}

	return models.SpectralSample{
		DominantFrequency: freqs[idx],
		Magnitude:         power,
	}, true
}

// welch averages the Hann periodograms of half-overlapping segments of block.
// Each segment has its mean removed first, so a DC offset does not swamp the
// low bins.
func welch(block []float64, fs float64, nperseg int) (pxx, freqs []float64) {
	step := nperseg - nperseg/2
	opts := &spectral.PwelchOptions{NFFT: nperseg, Window: window.Hann}

	// Pwelch windows its input in place
	segment := make([]float64, nperseg)
	count := 0
	for start := 0; start+nperseg <= len(block); start += step {
		copy(segment, block[start:start+nperseg])
		floats.AddConst(-stat.Mean(segment, nil), segment)

		p, f := spectral.Pwelch(segment, fs, opts)
		if pxx == nil {
			pxx, freqs = make([]float64, len(p)), f
		}
		if len(p) != len(pxx) {
			return nil, nil
		}
		floats.Add(pxx, p)
		count++
	}
	if count == 0 {
		return nil, nil
	}

	floats.Scale(1/float64(count), pxx)
	return pxx, freqs
}

// Smooth applies a centred moving average of the given width with zero
// padding at both ends, matching a "same"-mode convolution with a box kernel.
func Smooth(values []float64, width int) []float64 {
	n := len(values)
	if n == 0 {
		return nil
	}

	out := make([]float64, n)
	if width <= 1 {
		copy(out, values)
		return out
	}

	half := width / 2
	for k := -half; k <= half; k++ {
		switch {
		case k >= n || -k >= n:
			continue
		case k >= 0:
			vecmath.AddBlockInPlace(out[:n-k], values[k:])
		default:
			vecmath.AddBlockInPlace(out[-k:], values[:n+k])
		}
	}
	vecmath.ScaleBlock(out, out, 1/float64(width))

	return out
}
