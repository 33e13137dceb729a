package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"svara-stream/internal/audiofile"
	"svara-stream/internal/models"
	"svara-stream/internal/scale"
	"svara-stream/internal/spectral"
	"svara-stream/internal/tracker"
	"svara-stream/pkg/config"
)

func main() {
	var (
		file     = flag.String("file", "", "WAV file to analyse")
		asJSON   = flag.Bool("json", false, "print the trace as a JSON array")
		window   = flag.Duration("window", 50*time.Millisecond, "analysis window")
		minFill  = flag.Float64("min-fill", 0.75, "discard windows shorter than this fraction of -window")
		playback = flag.Float64("playback", 0, "scale timestamps so the last event lands at this many seconds (0 keeps file time)")
		quiet    = flag.Bool("quiet", false, "hide the progress bar")
	)
	flag.Parse()

	if *file == "" && flag.NArg() > 0 {
		*file = flag.Arg(0)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze [flags] -file track.wav")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Spectral knobs come from the same environment as the server
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	table := scale.Default()
	if err := table.Validate(); err != nil {
		log.Fatalf("Scale table validation failed: %v", err)
	}

	estimator, err := spectral.NewEstimator(spectral.Config{
		MinBlockSize:   cfg.MinBlockSize,
		SegmentLength:  cfg.SegmentLength,
		SmoothingWidth: cfg.SmoothingWidth,
		MinPower:       cfg.MinPower,
	})
	if err != nil {
		log.Fatalf("Failed to create estimator: %v", err)
	}

	track, err := audiofile.Load(*file)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", *file, err)
	}
	log.Printf("Loaded %s: %d Hz, %d channel(s), %.2f s", *file, track.SampleRate, track.Channels, track.Seconds())

	t := tracker.NewTracker(table, estimator, tracker.Config{
		Mode:           tracker.RecordDetections,
		SilenceFloorDB: cfg.SilenceFloorDB,
	})

	opts := tracker.OfflineOptions{Window: *window, MinFill: *minFill}

	var progress *mpb.Progress
	if !*quiet {
		progress, opts.Progress = newProgress(windowCount(len(track.Samples), track.SampleRate, *window))
	}

	events := t.AnalyzeTrack(track.Samples, track.SampleRate, opts)
	if progress != nil {
		progress.Wait()
	}

	if *playback > 0 {
		events = tracker.ScaleToPlayback(events, *playback)
	}

	if err := printTrace(events, *asJSON); err != nil {
		log.Fatalf("Failed to write trace: %v", err)
	}
	log.Printf("%d events", len(events))
}

// windowCount mirrors the segmentation done by AnalyzeTrack
func windowCount(samples, sampleRate int, window time.Duration) int {
	step := int(float64(sampleRate) * window.Seconds())
	if step <= 0 {
		return 0
	}
	return (samples + step - 1) / step
}

// newProgress draws to stderr so stdout stays a clean trace
func newProgress(total int) (*mpb.Progress, func(done, total int)) {
	p := mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("Analyzing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)

	update := func(done, _ int) {
		bar.SetCurrent(int64(done))
	}
	if total == 0 {
		bar.SetTotal(-1, true)
	}
	return p, update
}

func printTrace(events []models.DetectionEvent, asJSON bool) error {
	if asJSON {
		if events == nil {
			events = []models.DetectionEvent{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	for _, e := range events {
		if _, err := fmt.Println(e); err != nil {
			return err
		}
	}
	return nil
}
