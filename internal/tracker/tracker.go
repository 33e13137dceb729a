// Package tracker turns audio blocks into a time-ordered trace of detected notes.
//
// A Tracker owns one live trace. Ingest is called by a single cadence loop;
// Window, Snapshot and Latest may be called concurrently from other goroutines
// and always return copies, never views into the live buffer.
package tracker

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"svara-stream/internal/aggregator"
	"svara-stream/internal/models"
	"svara-stream/internal/scale"
	"svara-stream/internal/spectral"
)

// RecordMode selects which ingested events are appended to the trace
type RecordMode int

const (
	// RecordDetections appends only events that carry a note
	RecordDetections RecordMode = iota
	// RecordEveryTick appends every event, with absent fields for silence
	RecordEveryTick
	// RecordChanges appends a detected event only when its note differs from the last appended one
	RecordChanges
)

func (m RecordMode) String() string {
	switch m {
	case RecordDetections:
		return "detections"
	case RecordEveryTick:
		return "every-tick"
	case RecordChanges:
		return "changes"
	default:
		return fmt.Sprintf("RecordMode(%d)", int(m))
	}
}

// ParseRecordMode parses the configuration spelling of a record mode
func ParseRecordMode(s string) (RecordMode, error) {
	switch s {
	case "", "detections":
		return RecordDetections, nil
	case "every-tick":
		return RecordEveryTick, nil
	case "changes":
		return RecordChanges, nil
	default:
		return RecordDetections, fmt.Errorf("unknown trace record mode %q", s)
	}
}

// Config holds configuration for the tracker
type Config struct {
	Mode           RecordMode
	SilenceFloorDB float64 // Blocks at or below this RMS level (dBFS) count as silence
}

// DefaultConfig returns default tracker configuration
func DefaultConfig() Config {
	return Config{
		Mode:           RecordDetections,
		SilenceFloorDB: aggregator.DefaultAudioConfig().FloorDB,
	}
}

// Tracker combines the estimator and the scale table into a detection trace
type Tracker struct {
	table     *scale.Table
	estimator *spectral.Estimator
	config    Config

	mu        sync.RWMutex
	events    []models.DetectionEvent
	latest    models.DetectionEvent
	hasLatest bool
}

// NewTracker creates a new tracker with an empty trace
func NewTracker(table *scale.Table, estimator *spectral.Estimator, config Config) *Tracker {
	return &Tracker{
		table:     table,
		estimator: estimator,
		config:    config,
	}
}

// Table returns the scale table used for classification
func (t *Tracker) Table() *scale.Table {
	return t.table
}

// Detect classifies one block without touching the trace
func (t *Tracker) Detect(block []float64, sampleRate int, timestamp float64) models.DetectionEvent {
	if aggregator.LevelDB(block) <= t.config.SilenceFloorDB {
		return models.NoDetection(timestamp)
	}

	sample, ok := t.estimator.Estimate(block, sampleRate)
	if !ok {
		return models.NoDetection(timestamp)
	}

	note, ok := t.table.Nearest(sample.DominantFrequency)
	if !ok {
		return models.NoDetection(timestamp)
	}

	return models.NewDetection(timestamp, note.Label, note.Octave, sample.DominantFrequency)
}

// Ingest classifies one block taken at nowS seconds since stream start and
// appends the result to the trace according to the record mode
func (t *Tracker) Ingest(block []float64, sampleRate int, nowS float64) models.DetectionEvent {
	event := t.Detect(block, sampleRate, nowS)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = event
	t.hasLatest = true

	if !t.shouldRecord(event) {
		return event
	}

	if n := len(t.events); n > 0 && !(nowS > t.events[n-1].Timestamp) {
		log.Printf("Tracker: Dropping event at %.3fs, trace already at %.3fs", nowS, t.events[n-1].Timestamp)
		return event
	}

	t.events = append(t.events, event)
	return event
}

// shouldRecord must be called with t.mu held
func (t *Tracker) shouldRecord(event models.DetectionEvent) bool {
	switch t.config.Mode {
	case RecordEveryTick:
		return true
	case RecordChanges:
		if !event.Detected() {
			return false
		}
		if n := len(t.events); n > 0 && t.events[n-1].SameNote(event) {
			return false
		}
		return true
	default:
		return event.Detected()
	}
}

// Window returns a copy of all trace events with timestamp in [from, to]
func (t *Tracker) Window(from, to float64) []models.DetectionEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return window(t.events, from, to)
}

// Snapshot returns a copy of the whole trace
func (t *Tracker) Snapshot() []models.DetectionEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.DetectionEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Latest returns the most recently ingested event, recorded or not
func (t *Tracker) Latest() (models.DetectionEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.hasLatest
}

// Len returns the number of events in the trace
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// window copies the events of a timestamp-sorted slice that fall in [from, to]
func window(events []models.DetectionEvent, from, to float64) []models.DetectionEvent {
	if to < from {
		return nil
	}

	lo := sort.Search(len(events), func(i int) bool { return events[i].Timestamp >= from })
	hi := sort.Search(len(events), func(i int) bool { return events[i].Timestamp > to })
	if lo >= hi {
		return nil
	}

	out := make([]models.DetectionEvent, hi-lo)
	copy(out, events[lo:hi])
	return out
}
