package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"svara-stream/internal/audiofile"
	"svara-stream/internal/capture"
	"svara-stream/internal/capture/device"
	"svara-stream/internal/delivery"
	"svara-stream/internal/mqtt"
	"svara-stream/internal/render"
	"svara-stream/internal/scale"
	"svara-stream/internal/services"
	"svara-stream/internal/spectral"
	"svara-stream/internal/tracker"
	"svara-stream/pkg/config"
)

// pipeline holds everything a new session is built from
type pipeline struct {
	cfg        *config.Config
	sampleRate int // Rate sessions capture and analyse at
	table      *scale.Table
	estimator  *spectral.Estimator
	trackCfg   tracker.Config
	renderer   render.Renderer
	reference  *tracker.Reference
	replay     *audiofile.Track
	broker     *mqtt.Client
}

func main() {
	log.Println("Starting Svara Stream Service...")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// The scale table is fixed; a mismatch here is a build defect
	table := scale.Default()
	if err := table.Validate(); err != nil {
		log.Fatalf("Scale table validation failed: %v", err)
	}

	p, err := newPipeline(cfg, table)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	if p.broker != nil {
		defer p.broker.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down gracefully...")
		cancel()
	}()

	log.Printf("Capture backend: %s, delivery: %s, cadence: %v, record mode: %s",
		cfg.CaptureBackend, cfg.Delivery, cfg.CadenceInterval, p.trackCfg.Mode)

	switch cfg.Delivery {
	case config.DeliveryMQTT:
		sink := mqtt.NewPublisher(p.broker.GetNativeClient(), mqtt.PublisherConfig{
			DetectionTopic: cfg.MQTTTopicDetection,
			QoS:            1,
		})
		if err := p.runSession(ctx, sink); err != nil {
			log.Fatalf("Failed to start session: %v", err)
		}
	default:
		listener, err := p.listen()
		if err != nil {
			log.Fatalf("Failed to open delivery surface: %v", err)
		}
		defer listener.Close()
		p.serve(ctx, listener)
	}

	log.Println("Svara Stream Service stopped")
}

func newPipeline(cfg *config.Config, table *scale.Table) (*pipeline, error) {
	estimator, err := spectral.NewEstimator(spectral.Config{
		MinBlockSize:   cfg.MinBlockSize,
		SegmentLength:  cfg.SegmentLength,
		SmoothingWidth: cfg.SmoothingWidth,
		MinPower:       cfg.MinPower,
	})
	if err != nil {
		return nil, err
	}

	mode, err := tracker.ParseRecordMode(cfg.TraceRecordMode)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:        cfg,
		sampleRate: cfg.SampleRate,
		table:      table,
		estimator:  estimator,
		trackCfg: tracker.Config{
			Mode:           mode,
			SilenceFloorDB: cfg.SilenceFloorDB,
		},
	}

	if cfg.RenderImages {
		renderer, err := render.NewPNGRenderer(table, render.Config{
			Window: cfg.RenderWindow,
			Width:  cfg.RenderWidth,
			Height: cfg.RenderHeight,
		})
		if err != nil {
			return nil, err
		}
		p.renderer = renderer
	}

	if cfg.ReferenceFile != "" {
		ref, err := p.loadReference(cfg.ReferenceFile)
		if err != nil {
			return nil, err
		}
		p.reference = ref
	}

	if cfg.CaptureBackend == config.CaptureReplay {
		track, err := audiofile.Load(cfg.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", services.ErrResourceInit, err)
		}
		if track.SampleRate != cfg.SampleRate {
			log.Printf("Replay file is %d Hz, overriding SAMPLE_RATE=%d", track.SampleRate, cfg.SampleRate)
		}
		log.Printf("Replaying %s (%.1f s, loop=%v)", cfg.ReplayFile, track.Seconds(), cfg.ReplayLoop)
		p.replay = track
		p.sampleRate = track.SampleRate
	}

	if cfg.UsesMQTT() {
		broker, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID,
			Username:       cfg.MQTTUsername,
			Password:       cfg.MQTTPassword,
			ConnectTimeout: cfg.MQTTConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", services.ErrResourceInit, err)
		}
		p.broker = broker
	}

	return p, nil
}

// loadReference analyses a practice track offline and scales it to its own
// playback length
func (p *pipeline) loadReference(path string) (*tracker.Reference, error) {
	track, err := audiofile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference track: %w", err)
	}

	offline := tracker.NewTracker(p.table, p.estimator, p.trackCfg)
	events := offline.AnalyzeTrack(track.Samples, track.SampleRate, tracker.DefaultOfflineOptions())
	log.Printf("Reference %s: %d events over %.1f s", path, len(events), track.Seconds())

	return tracker.NewReference(events, track.Seconds()), nil
}

// newSource builds a fresh capture source for one session
func (p *pipeline) newSource() capture.Source {
	capCfg := capture.Config{SampleRate: p.sampleRate, BlockSize: p.cfg.BlockSize}

	switch p.cfg.CaptureBackend {
	case config.CaptureMalgo:
		return device.NewMalgoSource(capCfg)
	case config.CaptureMQTT:
		return mqtt.NewSubscriber(p.broker.GetNativeClient(), mqtt.SubscriberConfig{
			AudioTopic: p.cfg.MQTTTopicAudio,
			DeviceID:   p.cfg.MQTTDeviceID,
			SampleRate: p.sampleRate,
		})
	case config.CaptureReplay:
		var opts []capture.ReplayOption
		if p.cfg.ReplayLoop {
			opts = append(opts, capture.WithLoop())
		}
		return capture.NewReplaySource(p.replay.Samples, capCfg, opts...)
	default:
		return device.NewPortAudioSource(capCfg)
	}
}

func (p *pipeline) newSession(sink delivery.Sink) *services.Session {
	sessCfg := services.DefaultSessionConfig()
	sessCfg.SampleRate = p.sampleRate
	sessCfg.Interval = p.cfg.CadenceInterval
	sessCfg.SendTimeout = p.cfg.SendTimeout
	sessCfg.MaxConsecutiveFailures = p.cfg.MaxConsecutiveFailures
	sessCfg.RenderWindow = p.cfg.RenderWindow

	var opts []services.SessionOption
	if p.renderer != nil {
		opts = append(opts, services.WithRenderer(p.renderer))
	}
	if p.reference != nil {
		opts = append(opts, services.WithReference(p.reference))
	}

	t := tracker.NewTracker(p.table, p.estimator, p.trackCfg)
	return services.NewSession(sessCfg, t, p.newSource(), sink, opts...)
}

// runSession starts one session on sink and blocks until it closes
func (p *pipeline) runSession(ctx context.Context, sink delivery.Sink) error {
	session := p.newSession(sink)
	if err := session.Start(ctx); err != nil {
		return err
	}
	<-session.Done()

	if err := session.Err(); err != nil {
		log.Printf("Session %s ended: %v", session.ID(), err)
	}
	log.Printf("Session %s recorded %d events", session.ID(), session.Tracker().Len())
	return nil
}

func (p *pipeline) listen() (delivery.Listener, error) {
	var (
		listener delivery.Listener
		err      error
	)
	switch p.cfg.Delivery {
	case config.DeliveryWebSocket:
		listener, err = delivery.ListenWebSocket(p.cfg.WebSocketAddr, p.cfg.WebSocketPath)
	default:
		listener, err = delivery.ListenSocket(p.cfg.SocketAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrResourceInit, err)
	}
	log.Printf("Waiting for a consumer on %s (%s)", listener.Addr(), p.cfg.Delivery)
	return listener, nil
}

// serve accepts one consumer at a time and runs a new session for each
func (p *pipeline) serve(ctx context.Context, listener delivery.Listener) {
	for {
		sink, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, delivery.ErrSinkClosed) {
				return
			}
			log.Printf("Error accepting consumer: %v", err)
			continue
		}

		if err := p.runSession(ctx, sink); err != nil {
			// Input device failures do not go away between consumers
			log.Printf("Failed to start session: %v", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("Waiting for the next consumer on %s", listener.Addr())
	}
}
