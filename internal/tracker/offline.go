package tracker

import (
	"log"
	"time"

	"svara-stream/internal/models"
)

// OfflineOptions holds configuration for whole-track analysis
type OfflineOptions struct {
	Window   time.Duration          // Nominal analysis window
	MinFill  float64                // Windows shorter than MinFill*Window are discarded
	Progress func(done, total int) // Called after each window, may be nil
}

// DefaultOfflineOptions returns default offline analysis options
func DefaultOfflineOptions() OfflineOptions {
	return OfflineOptions{
		Window:  50 * time.Millisecond,
		MinFill: 0.75,
	}
}

// AnalyzeTrack segments an already decoded track into fixed windows and
// returns one event per window that yields a note. Timestamps are the window
// start in seconds from the beginning of the track. The live trace is not touched.
func (t *Tracker) AnalyzeTrack(pcm []float64, sampleRate int, opts OfflineOptions) []models.DetectionEvent {
	if sampleRate <= 0 || len(pcm) == 0 {
		return nil
	}

	step := int(float64(sampleRate) * opts.Window.Seconds())
	if step <= 0 {
		log.Printf("Tracker: Analysis window %v too short for %d Hz", opts.Window, sampleRate)
		return nil
	}
	minLen := int(float64(step) * opts.MinFill)
	total := (len(pcm) + step - 1) / step

	var events []models.DetectionEvent
	for i, n := 0, 0; i < len(pcm); i, n = i+step, n+1 {
		end := i + step
		if end > len(pcm) {
			end = len(pcm)
		}
		segment := pcm[i:end]

		if len(segment) > minLen {
			event := t.Detect(segment, sampleRate, float64(i)/float64(sampleRate))
			if event.Detected() {
				events = append(events, event)
			}
		} else {
			log.Printf("Tracker: Audio segment too short: %d samples (minimum %d)", len(segment), minLen+1)
		}

		if opts.Progress != nil {
			opts.Progress(n+1, total)
		}
	}

	return events
}

// ScaleToPlayback stretches offline timestamps so the last event lands at
// playbackDuration seconds. Events are returned unscaled when the last
// timestamp is not positive.
func ScaleToPlayback(events []models.DetectionEvent, playbackDuration float64) []models.DetectionEvent {
	out := make([]models.DetectionEvent, len(events))
	copy(out, events)
	if len(out) == 0 {
		return out
	}

	last := out[len(out)-1].Timestamp
	if !(last > 0) || !(playbackDuration > 0) {
		return out
	}

	factor := playbackDuration / last
	for i := range out {
		out[i].Timestamp *= factor
	}
	return out
}
