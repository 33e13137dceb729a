package models

import (
	"fmt"
	"strconv"
)

// SpectralSample is one analysis result of the spectral estimator
type SpectralSample struct {
	DominantFrequency float64 // Hz
	Magnitude         float64 // Smoothed PSD value at the dominant bin
}

// DetectionEvent represents one point of a detection trace.
// Nil fields mean "no detection" for that tick.
type DetectionEvent struct {
	Timestamp float64  `json:"timestamp"` // Seconds since stream start (or file start)
	Note      *string  `json:"note"`
	Octave    *int     `json:"octave"`
	Frequency *float64 `json:"frequency"` // Dominant frequency in Hz
}

// NewDetection creates an event carrying a detected note
func NewDetection(timestamp float64, note string, octave int, frequency float64) DetectionEvent {
	return DetectionEvent{
		Timestamp: timestamp,
		Note:      &note,
		Octave:    &octave,
		Frequency: &frequency,
	}
}

// NoDetection creates an event with all detection fields absent
func NoDetection(timestamp float64) DetectionEvent {
	return DetectionEvent{Timestamp: timestamp}
}

// Detected reports whether the event carries a note
func (e DetectionEvent) Detected() bool {
	return e.Note != nil && e.Octave != nil
}

// SameNote reports whether both events carry the same (note, octave) pair.
// Two empty events are considered equal.
func (e DetectionEvent) SameNote(other DetectionEvent) bool {
	if e.Detected() != other.Detected() {
		return false
	}
	if !e.Detected() {
		return true
	}
	return *e.Note == *other.Note && *e.Octave == *other.Octave
}

// WithTimestamp returns a copy of the event at a different time
func (e DetectionEvent) WithTimestamp(ts float64) DetectionEvent {
	e.Timestamp = ts
	return e
}

// OctaveLabel returns the octave as the decimal string used on the wire
func (e DetectionEvent) OctaveLabel() *string {
	if e.Octave == nil {
		return nil
	}
	s := strconv.Itoa(*e.Octave)
	return &s
}

func (e DetectionEvent) String() string {
	if !e.Detected() {
		return fmt.Sprintf("%.3fs: -", e.Timestamp)
	}
	freq := 0.0
	if e.Frequency != nil {
		freq = *e.Frequency
	}
	return fmt.Sprintf("%.3fs: %s (%d) %.2f Hz", e.Timestamp, *e.Note, *e.Octave, freq)
}
