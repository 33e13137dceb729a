package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"svara-stream/internal/aggregator"
	"svara-stream/internal/capture"
	"svara-stream/internal/delivery"
	"svara-stream/internal/models"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes and subscriptions; unused methods panic via the nil embed
type fakeClient struct {
	mqtt.Client

	mu          sync.Mutex
	open        bool
	publishErr  error
	stall       bool
	published   []published
	handlers    map[string]mqtt.MessageHandler
	unsubscribe []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{open: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(c.publishErr, !c.stall)
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return newToken(nil, true)
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = append(c.unsubscribe, topics...)
	return newToken(nil, true)
}

func (c *fakeClient) deliver(pattern, topic string, body []byte) {
	c.mu.Lock()
	h := c.handlers[pattern]
	c.mu.Unlock()
	h(c, &fakeMessage{topic: topic, payload: body})
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

func TestPublisher_Send(t *testing.T) {
	client := newFakeClient()
	pub := NewPublisher(client, DefaultPublisherConfig())

	payload := models.NewPayload("abc123", models.NewDetection(2.5, "P", 4, 392.4), nil)
	if err := pub.Send(context.Background(), payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("published: got %d, want 1", len(client.published))
	}
	got := client.published[0]
	if got.topic != "svara/abc123/detection" || got.qos != 1 {
		t.Errorf("topic/qos: got %s/%d", got.topic, got.qos)
	}

	var decoded models.Payload
	if err := json.Unmarshal(got.payload, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Note == nil || *decoded.Note != "P" || decoded.Octave == nil || *decoded.Octave != "4" {
		t.Errorf("payload: got %s", got.payload)
	}
	if pub.Sent() != 1 {
		t.Errorf("Sent: got %d, want 1", pub.Sent())
	}
}

func TestPublisher_Failures(t *testing.T) {
	payload := models.NewPayload("s", models.NoDetection(0), nil)

	client := newFakeClient()
	client.publishErr = errors.New("not authorised")
	if err := NewPublisher(client, DefaultPublisherConfig()).Send(context.Background(), payload); err == nil {
		t.Error("broker error: want error")
	}

	client = newFakeClient()
	client.open = false
	err := NewPublisher(client, DefaultPublisherConfig()).Send(context.Background(), payload)
	if err == nil || errors.Is(err, delivery.ErrSinkClosed) {
		t.Errorf("disconnected broker: got %v, want a retryable error", err)
	}

	client = newFakeClient()
	client.stall = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewPublisher(client, DefaultPublisherConfig()).Send(ctx, payload); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("stalled ack: got %v, want deadline exceeded", err)
	}

	pub := NewPublisher(newFakeClient(), DefaultPublisherConfig())
	pub.Close()
	if err := pub.Send(context.Background(), payload); !errors.Is(err, delivery.ErrSinkClosed) {
		t.Errorf("Send after Close: got %v, want ErrSinkClosed", err)
	}
}

func audioMessage(t *testing.T, samples []float64, sampleRate int) []byte {
	t.Helper()
	body, err := json.Marshal(models.AudioPayload{
		Data:       aggregator.EncodePCM16(samples),
		SampleRate: sampleRate,
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestSubscriber_ForwardsFrames(t *testing.T) {
	client := newFakeClient()
	sub := NewSubscriber(client, SubscriberConfig{AudioTopic: "svara/+/audio", SampleRate: 44100})

	var frames [][]float32
	var statuses []capture.Status
	err := sub.Start(func(f []float32, status capture.Status) {
		frames = append(frames, append([]float32(nil), f...))
		statuses = append(statuses, status)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.deliver("svara/+/audio", "svara/mic-01/audio", audioMessage(t, []float64{0.5, -0.25, 0}, 44100))
	client.deliver("svara/+/audio", "svara/mic-02/audio", audioMessage(t, []float64{0.5, 0.5}, 16000))
	client.deliver("svara/+/audio", "svara/mic-01/audio", []byte("not json"))

	if len(frames) != 2 {
		t.Fatalf("callbacks: got %d, want 2", len(frames))
	}
	if len(frames[0]) != 3 || frames[0][0] != 0.5 || frames[0][1] != -0.25 {
		t.Errorf("frame 0: got %v", frames[0])
	}
	// The 16 kHz frame is reported but its samples are not forwarded
	if len(frames[1]) != 0 {
		t.Errorf("mismatched-rate frame forwarded: got %v", frames[1])
	}
	if statuses[0] != 0 || statuses[1] != capture.StatusRateMismatch {
		t.Errorf("statuses: got %v", statuses)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(client.unsubscribe) != 1 || client.unsubscribe[0] != "svara/+/audio" {
		t.Errorf("unsubscribe: got %v", client.unsubscribe)
	}

	client.deliver("svara/+/audio", "svara/mic-01/audio", audioMessage(t, []float64{0.1}, 44100))
	if len(frames) != 2 {
		t.Error("frame forwarded after Close")
	}
}

func TestSubscriber_DeviceFilter(t *testing.T) {
	client := newFakeClient()
	sub := NewSubscriber(client, SubscriberConfig{AudioTopic: "svara/+/audio", DeviceID: "mic-02"})

	count := 0
	if err := sub.Start(func([]float32, capture.Status) { count++ }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.deliver("svara/+/audio", "svara/mic-01/audio", audioMessage(t, []float64{0.1, 0.2}, 44100))
	client.deliver("svara/+/audio", "svara/mic-02/audio", audioMessage(t, []float64{0.1, 0.2}, 44100))
	if count != 1 {
		t.Errorf("handled frames: got %d, want 1", count)
	}
}

func TestSubscriber_StartErrors(t *testing.T) {
	noop := func([]float32, capture.Status) {}

	if err := NewSubscriber(newFakeClient(), SubscriberConfig{}).Start(noop); err == nil {
		t.Error("no topic: want error")
	}

	sub := NewSubscriber(newFakeClient(), SubscriberConfig{AudioTopic: "a/+/b"})
	if err := sub.Start(noop); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sub.Start(noop); err == nil {
		t.Error("second Start: want error")
	}
}

func TestDecodeAudioMessage(t *testing.T) {
	if _, err := decodeAudioMessage("mic", []byte(`{"data":"AAA=","sample_rate":0}`)); err == nil {
		t.Error("zero sample rate: want error")
	}
	if _, err := decodeAudioMessage("mic", []byte(`{"data":"","sample_rate":44100}`)); err == nil {
		t.Error("empty data: want error")
	}

	frame, err := decodeAudioMessage("mic", []byte(`{"data":"AEA=","sample_rate":8000,"timestamp":"2024-03-01T10:00:00Z"}`))
	if err != nil {
		t.Fatalf("decodeAudioMessage: %v", err)
	}
	if frame.DeviceID != "mic" || frame.SampleRate != 8000 || len(frame.Data) != 2 {
		t.Errorf("frame: got %+v", frame)
	}
	if frame.Timestamp.Year() != 2024 {
		t.Errorf("timestamp: got %v", frame.Timestamp)
	}
}

func TestTopicHelpers(t *testing.T) {
	if got := formatTopic("svara/{session_id}/detection", "s1"); got != "svara/s1/detection" {
		t.Errorf("formatTopic: got %q", got)
	}
	tests := map[string]string{
		"svara/mic-01/audio": "mic-01",
		"svara/x":            "x",
		"single":             "",
	}
	for topic, want := range tests {
		if got := extractDeviceID(topic); got != want {
			t.Errorf("extractDeviceID(%q): got %q, want %q", topic, got, want)
		}
	}
}
