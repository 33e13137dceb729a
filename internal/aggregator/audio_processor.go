package aggregator

import (
	"encoding/binary"
	"log"
	"math"
)

// AudioConfig holds configuration for audio level analysis
type AudioConfig struct {
	ClippingLevel float64 // Absolute sample value treated as clipping (normalised scale)
	FloorDB       float64 // Lowest reported level; also the level of pure silence
}

// DefaultAudioConfig returns default audio processing configuration
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		ClippingLevel: 32000.0 / 32768.0, // Close to full scale of 16-bit audio
		FloorDB:       -80.0,             // Lower bound for practical silence
	}
}

// BlockMetrics provides basic level metrics for one audio block
type BlockMetrics struct {
	RMS         float64 // RMS on the normalised [-1, 1] scale
	LevelDB     float64 // RMS in dBFS, clamped to [FloorDB, 0]
	Peak        float64 // Largest absolute sample
	IsClipping  bool    // True if any sample reaches the clipping level
	IsSilent    bool    // True if the level sits at the floor
	SampleCount int
}

// DecodePCM16 converts 16-bit little-endian signed PCM to samples in [-1, 1)
func DecodePCM16(data []byte) []float64 {
	if len(data)%2 != 0 {
		log.Printf("Warning: PCM data length (%d) not aligned to sample size (2 bytes), truncating", len(data))
	}

	out := make([]float64, len(data)/2)
	for i := range out {
		sample := int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
		out[i] = float64(sample) / 32768.0
	}
	return out
}

// EncodePCM16 converts samples in [-1, 1] to 16-bit little-endian signed PCM
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Round(s * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// LevelDB returns the RMS level of block in dBFS using the default configuration
func LevelDB(block []float64) float64 {
	return AnalyzeBlock(block, DefaultAudioConfig()).LevelDB
}

// AnalyzeBlock computes level metrics for a normalised audio block
func AnalyzeBlock(block []float64, config AudioConfig) BlockMetrics {
	metrics := BlockMetrics{SampleCount: len(block)}

	if len(block) == 0 {
		metrics.IsSilent = true
		metrics.LevelDB = config.FloorDB
		return metrics
	}

	var sumSquares float64
	for _, s := range block {
		abs := math.Abs(s)
		if abs > metrics.Peak {
			metrics.Peak = abs
		}
		if abs >= config.ClippingLevel {
			metrics.IsClipping = true
		}
		sumSquares += s * s
	}

	metrics.RMS = math.Sqrt(sumSquares / float64(len(block)))
	metrics.LevelDB = calculateDecibels(metrics.RMS, config.FloorDB)
	metrics.IsSilent = metrics.LevelDB <= config.FloorDB

	return metrics
}

// calculateDecibels converts an RMS value to dBFS
// Formula: dB = 20 * log10(RMS / 1.0)
func calculateDecibels(rms, floor float64) float64 {
	if rms <= 0 {
		return floor
	}

	db := 20.0 * math.Log10(rms)
	if db < floor {
		db = floor
	}
	if db > 0.0 {
		db = 0.0 // Upper bound (clipping would occur beyond this)
	}

	return db
}
