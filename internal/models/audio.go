package models

import "time"

// AudioFrame represents one block of PCM received from a remote microphone
type AudioFrame struct {
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"device_id"`
	Data       []byte    `json:"-"`           // Raw PCM16 little-endian bytes
	SampleRate int       `json:"sample_rate"` // e.g., 44100 Hz
}

// AudioPayload represents the incoming audio MQTT message structure
type AudioPayload struct {
	Data       []byte `json:"data"` // Base64 encoded PCM16, decoded by json.Unmarshal
	SampleRate int    `json:"sample_rate"`
	Timestamp  string `json:"timestamp,omitempty"`
}
