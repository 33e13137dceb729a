package tracker

import (
	"sort"

	"svara-stream/internal/models"
)

// Reference is an offline trace scaled to playback time, overlaid against a
// live trace while practising along with a recording
type Reference struct {
	events   []models.DetectionEvent
	duration float64
}

// NewReference scales an offline trace to the given playback duration in seconds
func NewReference(events []models.DetectionEvent, playbackDuration float64) *Reference {
	return &Reference{
		events:   ScaleToPlayback(events, playbackDuration),
		duration: playbackDuration,
	}
}

// Duration returns the playback duration the reference was scaled to
func (r *Reference) Duration() float64 {
	return r.duration
}

// Len returns the number of reference events
func (r *Reference) Len() int {
	return len(r.events)
}

// Until returns a copy of the reference events with scaled timestamp <= elapsed
func (r *Reference) Until(elapsed float64) []models.DetectionEvent {
	n := sort.Search(len(r.events), func(i int) bool { return r.events[i].Timestamp > elapsed })
	out := make([]models.DetectionEvent, n)
	copy(out, r.events[:n])
	return out
}

// Window returns a copy of the reference events with timestamp in [from, to]
func (r *Reference) Window(from, to float64) []models.DetectionEvent {
	return window(r.events, from, to)
}

// At returns the latest reference event at or before elapsed
func (r *Reference) At(elapsed float64) (models.DetectionEvent, bool) {
	n := sort.Search(len(r.events), func(i int) bool { return r.events[i].Timestamp > elapsed })
	if n == 0 {
		return models.DetectionEvent{}, false
	}
	return r.events[n-1], true
}
