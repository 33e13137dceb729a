package models

import (
	"encoding/base64"
	"time"
)

// Payload is the record delivered to a consumer once per cadence tick
type Payload struct {
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Elapsed   float64   `json:"elapsed"` // Seconds since stream start
	Note      *string   `json:"note"`
	Octave    *string   `json:"octave"`
	Frequency *float64  `json:"frequency"`
	Image     string    `json:"image,omitempty"` // Base64 encoded PNG
}

// NewPayload builds a delivery payload from the latest event and an optional rendering
func NewPayload(sessionID string, event DetectionEvent, image []byte) *Payload {
	p := &Payload{
		SessionID: sessionID,
		Timestamp: time.Now(),
		Elapsed:   event.Timestamp,
		Note:      event.Note,
		Octave:    event.OctaveLabel(),
		Frequency: event.Frequency,
	}
	if len(image) > 0 {
		p.Image = base64.StdEncoding.EncodeToString(image)
	}
	return p
}
