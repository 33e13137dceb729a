package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"svara-stream/internal/aggregator"
	"svara-stream/internal/capture"
	"svara-stream/internal/models"
)

// Subscriber receives PCM frames from remote microphones and feeds them to a
// capture handler. It implements capture.Source.
type Subscriber struct {
	client mqtt.Client

	// Topic pattern
	audioTopic string // e.g., "svara/+/audio"
	deviceID   string // Only accept frames from this device when set
	sampleRate int    // Rate the detector is configured for

	mu      sync.Mutex
	handler capture.Handler
	closed  bool
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	AudioTopic string // e.g., "svara/+/audio"
	DeviceID   string
	SampleRate int
}

// NewSubscriber creates a new MQTT subscriber
func NewSubscriber(client mqtt.Client, config SubscriberConfig) *Subscriber {
	return &Subscriber{
		client:     client,
		audioTopic: config.AudioTopic,
		deviceID:   config.DeviceID,
		sampleRate: config.SampleRate,
	}
}

// Start subscribes to the audio topic and forwards every frame to handler
func (s *Subscriber) Start(handler capture.Handler) error {
	if s.audioTopic == "" {
		return errors.New("audio topic not configured")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("mqtt subscriber already closed")
	}
	if s.handler != nil {
		s.mu.Unlock()
		return errors.New("mqtt subscriber already started")
	}
	s.handler = handler
	s.mu.Unlock()

	if err := s.subscribeToTopic(s.audioTopic, s.handleAudio); err != nil {
		return fmt.Errorf("failed to subscribe to audio topic: %w", err)
	}
	log.Printf("MQTT Subscriber: Subscribed to audio topic: %s", s.audioTopic)
	return nil
}

// subscribeToTopic is a helper function to subscribe to a topic with a handler
func (s *Subscriber) subscribeToTopic(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// handleAudio decodes a remote PCM frame and passes it to the capture handler
func (s *Subscriber) handleAudio(client mqtt.Client, msg mqtt.Message) {
	// Extract device ID from topic (svara/{device_id}/audio)
	deviceID := extractDeviceID(msg.Topic())
	if deviceID == "" {
		log.Printf("MQTT Subscriber: Could not extract device ID from topic: %s", msg.Topic())
		return
	}
	if s.deviceID != "" && deviceID != s.deviceID {
		return
	}

	frame, err := decodeAudioMessage(deviceID, msg.Payload())
	if err != nil {
		log.Printf("MQTT Subscriber: Error decoding audio from %s: %v", deviceID, err)
		return
	}

	s.mu.Lock()
	handler := s.handler
	closed := s.closed
	s.mu.Unlock()
	if handler == nil || closed {
		return
	}

	// Samples at another rate would be analysed at the wrong frequency scale
	if s.sampleRate > 0 && frame.SampleRate != s.sampleRate {
		handler(nil, capture.StatusRateMismatch)
		return
	}

	handler(pcmFrames(frame.Data), 0)
}

// Close unsubscribes from the audio topic. Safe to call more than once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.handler != nil
	s.mu.Unlock()

	if !started || !s.client.IsConnectionOpen() {
		return nil
	}

	token := s.client.Unsubscribe(s.audioTopic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe from audio topic: %w", token.Error())
	}
	log.Printf("MQTT Subscriber: Unsubscribed from %s", s.audioTopic)
	return nil
}

// decodeAudioMessage parses the JSON envelope; Data arrives base64 encoded
// and is decoded by json.Unmarshal
func decodeAudioMessage(deviceID string, body []byte) (*models.AudioFrame, error) {
	var payload models.AudioPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audio payload: %w", err)
	}
	if payload.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", payload.SampleRate)
	}
	if len(payload.Data) < 2 {
		return nil, errors.New("empty audio frame")
	}

	return &models.AudioFrame{
		Timestamp:  timestampOrNow(payload.Timestamp),
		DeviceID:   deviceID,
		Data:       payload.Data,
		SampleRate: payload.SampleRate,
	}, nil
}

// pcmFrames converts PCM16 little-endian bytes to normalised float32 frames
func pcmFrames(data []byte) []float32 {
	samples := aggregator.DecodePCM16(data)
	frames := make([]float32, len(samples))
	for i, v := range samples {
		frames[i] = float32(v)
	}
	return frames
}

// timestampOrNow parses a device timestamp, falling back to server time
func timestampOrNow(ts string) time.Time {
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	}
	return time.Now()
}

// extractDeviceID extracts device ID from MQTT topic
// Example: "svara/mic-01/audio" -> "mic-01"
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
