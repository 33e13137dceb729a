package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Capture backends
const (
	CapturePortAudio = "portaudio"
	CaptureMalgo     = "malgo"
	CaptureMQTT      = "mqtt"
	CaptureReplay    = "replay"
)

// Delivery surfaces
const (
	DeliverySocket    = "socket"
	DeliveryWebSocket = "websocket"
	DeliveryMQTT      = "mqtt"
)

type Config struct {
	// Audio
	SampleRate int
	BlockSize  int

	// Spectral estimation
	MinBlockSize   int
	SegmentLength  int
	SmoothingWidth int
	MinPower       float64
	SilenceFloorDB float64

	// Session cadence
	CadenceInterval        time.Duration
	SendTimeout            time.Duration
	MaxConsecutiveFailures int
	TraceRecordMode        string

	// Rendering
	RenderWindow time.Duration
	RenderWidth  int
	RenderHeight int
	RenderImages bool

	// Capture
	CaptureBackend string
	ReplayFile     string
	ReplayLoop     bool

	// Delivery
	Delivery      string
	SocketAddr    string
	WebSocketAddr string
	WebSocketPath string

	// MQTT Configuration
	MQTTBroker         string
	MQTTClientID       string
	MQTTUsername       string
	MQTTPassword       string
	MQTTTopicAudio     string
	MQTTTopicDetection string
	MQTTDeviceID       string
	MQTTConnectTimeout time.Duration

	// Practice reference
	ReferenceFile string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// Audio
		SampleRate: getEnvInt("SAMPLE_RATE", 44100),
		BlockSize:  getEnvInt("BLOCK_SIZE", 2048),

		// Spectral estimation
		MinBlockSize:   getEnvInt("MIN_BLOCK_SIZE", 256),
		SegmentLength:  getEnvInt("SEGMENT_LENGTH", 1024),
		SmoothingWidth: getEnvInt("SMOOTHING_WIDTH", 3),
		MinPower:       getEnvFloat("MIN_POWER", 0),
		SilenceFloorDB: getEnvFloat("SILENCE_FLOOR_DB", -80),

		// Session cadence
		CadenceInterval:        getEnvDuration("CADENCE_INTERVAL", 100*time.Millisecond),
		SendTimeout:            getEnvDuration("SEND_TIMEOUT", time.Second),
		MaxConsecutiveFailures: getEnvInt("MAX_CONSECUTIVE_FAILURES", 3),
		TraceRecordMode:        getEnv("TRACE_RECORD_MODE", "detections"),

		// Rendering
		RenderWindow: getEnvDuration("RENDER_WINDOW", 5*time.Second),
		RenderWidth:  getEnvInt("RENDER_WIDTH", 640),
		RenderHeight: getEnvInt("RENDER_HEIGHT", 360),
		RenderImages: getEnvBool("RENDER_IMAGES", true),

		// Capture
		CaptureBackend: getEnv("CAPTURE_BACKEND", CapturePortAudio),
		ReplayFile:     getEnv("REPLAY_FILE", ""),
		ReplayLoop:     getEnvBool("REPLAY_LOOP", false),

		// Delivery
		Delivery:      getEnv("DELIVERY", DeliverySocket),
		SocketAddr:    getEnv("SOCKET_ADDR", "127.0.0.1:65432"),
		WebSocketAddr: getEnv("WEBSOCKET_ADDR", "0.0.0.0:65431"),
		WebSocketPath: getEnv("WEBSOCKET_PATH", "/"),

		// MQTT Configuration
		MQTTBroker:         getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:       getEnv("MQTT_CLIENT_ID", "svara-stream"),
		MQTTUsername:       getEnv("MQTT_USERNAME", ""),
		MQTTPassword:       getEnv("MQTT_PASSWORD", ""),
		MQTTTopicAudio:     getEnv("MQTT_TOPIC_AUDIO", "svara/+/audio"),
		MQTTTopicDetection: getEnv("MQTT_TOPIC_DETECTION", "svara/{session_id}/detection"),
		MQTTDeviceID:       getEnv("MQTT_DEVICE_ID", ""),
		MQTTConnectTimeout: getEnvDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),

		// Practice reference
		ReferenceFile: getEnv("REFERENCE_FILE", ""),
	}
}

// Validate rejects settings that would fail later inside a device or session
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("BLOCK_SIZE must be positive, got %d", c.BlockSize)
	}
	if c.MinBlockSize <= 0 {
		return fmt.Errorf("MIN_BLOCK_SIZE must be positive, got %d", c.MinBlockSize)
	}
	if c.SegmentLength <= 0 {
		return fmt.Errorf("SEGMENT_LENGTH must be positive, got %d", c.SegmentLength)
	}
	if c.SmoothingWidth <= 0 || c.SmoothingWidth%2 == 0 {
		return fmt.Errorf("SMOOTHING_WIDTH must be a positive odd number, got %d", c.SmoothingWidth)
	}
	if c.CadenceInterval <= 0 {
		return fmt.Errorf("CADENCE_INTERVAL must be positive, got %v", c.CadenceInterval)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive, got %v", c.SendTimeout)
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("MAX_CONSECUTIVE_FAILURES must not be negative, got %d", c.MaxConsecutiveFailures)
	}
	switch c.TraceRecordMode {
	case "detections", "every-tick", "changes":
	default:
		return fmt.Errorf("unknown TRACE_RECORD_MODE %q", c.TraceRecordMode)
	}
	if c.RenderWindow <= 0 || c.RenderWidth <= 0 || c.RenderHeight <= 0 {
		return fmt.Errorf("RENDER_WINDOW, RENDER_WIDTH and RENDER_HEIGHT must be positive")
	}

	switch c.CaptureBackend {
	case CapturePortAudio, CaptureMalgo, CaptureMQTT:
	case CaptureReplay:
		if c.ReplayFile == "" {
			return fmt.Errorf("CAPTURE_BACKEND=%s requires REPLAY_FILE", CaptureReplay)
		}
	default:
		return fmt.Errorf("unknown CAPTURE_BACKEND %q", c.CaptureBackend)
	}

	switch c.Delivery {
	case DeliverySocket:
		if c.SocketAddr == "" {
			return fmt.Errorf("DELIVERY=%s requires SOCKET_ADDR", DeliverySocket)
		}
	case DeliveryWebSocket:
		if c.WebSocketAddr == "" {
			return fmt.Errorf("DELIVERY=%s requires WEBSOCKET_ADDR", DeliveryWebSocket)
		}
	case DeliveryMQTT:
		if c.MQTTTopicDetection == "" {
			return fmt.Errorf("DELIVERY=%s requires MQTT_TOPIC_DETECTION", DeliveryMQTT)
		}
	default:
		return fmt.Errorf("unknown DELIVERY %q", c.Delivery)
	}

	return nil
}

// UsesMQTT reports whether any part of the pipeline needs a broker connection
func (c *Config) UsesMQTT() bool {
	return c.CaptureBackend == CaptureMQTT || c.Delivery == DeliveryMQTT
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	durationValue, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return durationValue
}
