package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"svara-stream/internal/delivery"
	"svara-stream/internal/models"
)

// Publisher delivers detection payloads to a broker topic. It implements
// delivery.Sink so a session can publish instead of writing to a socket.
type Publisher struct {
	client mqtt.Client

	// Topic pattern
	detectionTopic string // e.g., "svara/{session_id}/detection"
	qos            byte

	mu     sync.Mutex
	closed bool
	sent   uint64
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	DetectionTopic string // e.g., "svara/{session_id}/detection"
	QoS            byte
}

// DefaultPublisherConfig returns default publisher configuration
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		DetectionTopic: "svara/{session_id}/detection",
		QoS:            1,
	}
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(client mqtt.Client, config PublisherConfig) *Publisher {
	return &Publisher{
		client:         client,
		detectionTopic: config.DetectionTopic,
		qos:            config.QoS,
	}
}

// Send publishes one payload and waits for the broker acknowledgement
// until ctx is done
func (p *Publisher) Send(ctx context.Context, payload *models.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return delivery.ErrSinkClosed
	}

	if !p.client.IsConnectionOpen() {
		// Auto-reconnect may bring the broker back, so this counts as a plain failure
		return fmt.Errorf("failed to publish detection: broker connection not open")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Replace {session_id} placeholder with the session ID
	topic := formatTopic(p.detectionTopic, payload.SessionID)

	token := p.client.Publish(topic, p.qos, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to publish detection to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish detection to %s: %w", topic, err)
	}

	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
	return nil
}

// Sent returns the number of acknowledged publishes
func (p *Publisher) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Close stops accepting payloads. The shared connection stays open.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		log.Printf("MQTT Publisher: Closed after %d payloads", p.sent)
	}
	return nil
}

// formatTopic replaces {session_id} placeholder with actual session ID
func formatTopic(topicPattern, sessionID string) string {
	return strings.ReplaceAll(topicPattern, "{session_id}", sessionID)
}
