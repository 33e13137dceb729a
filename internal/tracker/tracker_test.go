package tracker

import (
	"sync"
	"testing"

	"svara-stream/internal/scale"
	"svara-stream/internal/spectral"
	"svara-stream/internal/testutil"
)

const testSampleRate = 44100

func newTestTracker(t *testing.T, mode RecordMode) *Tracker {
	t.Helper()
	est, err := spectral.NewEstimator(spectral.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEstimator: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Mode = mode
	return NewTracker(scale.Default(), est, cfg)
}

func sineBlock(freq float64) []float64 {
	return testutil.Sine(freq, testSampleRate, 0.8, 2048)
}

func TestIngest_Detection(t *testing.T) {
	tr := newTestTracker(t, RecordDetections)

	ev := tr.Ingest(sineBlock(440), testSampleRate, 0.1)
	if !ev.Detected() {
		t.Fatal("Ingest(440 Hz): no detection")
	}
	if *ev.Note != "d2" || *ev.Octave != 4 {
		t.Errorf("Ingest(440 Hz): got %s (%d), want d2 (4)", *ev.Note, *ev.Octave)
	}
	if ev.Frequency == nil || *ev.Frequency <= 0 {
		t.Errorf("Ingest(440 Hz): frequency %v", ev.Frequency)
	}
	if ev.Timestamp != 0.1 {
		t.Errorf("Timestamp: got %v, want 0.1", ev.Timestamp)
	}
	if tr.Len() != 1 {
		t.Errorf("Len: got %d, want 1", tr.Len())
	}
}

func TestIngest_DetectionsModeSkipsSilence(t *testing.T) {
	tr := newTestTracker(t, RecordDetections)

	tr.Ingest(sineBlock(440), testSampleRate, 0.1)
	ev := tr.Ingest(testutil.Silence(2048), testSampleRate, 0.2)
	tr.Ingest(testutil.Sine(440, testSampleRate, 0.8, 100), testSampleRate, 0.3)
	tr.Ingest(sineBlock(220), testSampleRate, 0.4)

	if ev.Detected() || ev.Note != nil || ev.Octave != nil || ev.Frequency != nil {
		t.Errorf("silence event: got %+v, want all fields absent", ev)
	}
	if latest, ok := tr.Latest(); !ok || latest.Timestamp != 0.4 {
		t.Errorf("Latest: got %+v, %v", latest, ok)
	}

	trace := tr.Snapshot()
	if len(trace) != 2 {
		t.Fatalf("trace length: got %d, want 2", len(trace))
	}
	for _, e := range trace {
		if !e.Detected() {
			t.Errorf("trace contains a gap at %.2fs", e.Timestamp)
		}
	}
}

func TestIngest_EveryTickMode(t *testing.T) {
	tr := newTestTracker(t, RecordEveryTick)

	tr.Ingest(sineBlock(440), testSampleRate, 0.1)
	tr.Ingest(testutil.Silence(2048), testSampleRate, 0.2)

	trace := tr.Snapshot()
	if len(trace) != 2 {
		t.Fatalf("trace length: got %d, want 2", len(trace))
	}
	if trace[1].Detected() {
		t.Errorf("second event: got %v, want no detection", trace[1])
	}
}

func TestIngest_ChangesMode(t *testing.T) {
	tr := newTestTracker(t, RecordChanges)

	tr.Ingest(sineBlock(440), testSampleRate, 0.1)
	tr.Ingest(sineBlock(440), testSampleRate, 0.2)
	tr.Ingest(testutil.Silence(2048), testSampleRate, 0.3)
	tr.Ingest(sineBlock(440), testSampleRate, 0.4)
	tr.Ingest(sineBlock(262), testSampleRate, 0.5)

	trace := tr.Snapshot()
	if len(trace) != 2 {
		t.Fatalf("trace length: got %d, want 2 (%v)", len(trace), trace)
	}
	if trace[0].Timestamp != 0.1 || trace[1].Timestamp != 0.5 {
		t.Errorf("timestamps: got %v, %v", trace[0].Timestamp, trace[1].Timestamp)
	}
}

func TestIngest_StrictlyIncreasing(t *testing.T) {
	tr := newTestTracker(t, RecordDetections)

	tr.Ingest(sineBlock(440), testSampleRate, 1.0)
	tr.Ingest(sineBlock(440), testSampleRate, 1.0)
	tr.Ingest(sineBlock(440), testSampleRate, 0.5)
	tr.Ingest(sineBlock(440), testSampleRate, 1.5)

	trace := tr.Snapshot()
	if len(trace) != 2 {
		t.Fatalf("trace length: got %d, want 2", len(trace))
	}
	for i := 1; i < len(trace); i++ {
		if !(trace[i].Timestamp > trace[i-1].Timestamp) {
			t.Errorf("timestamps not increasing at %d: %v <= %v", i, trace[i].Timestamp, trace[i-1].Timestamp)
		}
	}
}

func TestWindow(t *testing.T) {
	tr := newTestTracker(t, RecordDetections)
	for i := 1; i <= 10; i++ {
		tr.Ingest(sineBlock(440), testSampleRate, float64(i))
	}

	tests := []struct {
		from, to float64
		want     []float64
	}{
		{3, 5, []float64{3, 4, 5}},
		{2.5, 3.5, []float64{3}},
		{0, 1, []float64{1}},
		{10, 20, []float64{10}},
		{10.5, 20, nil},
		{5, 3, nil},
	}

	for _, tt := range tests {
		got := tr.Window(tt.from, tt.to)
		if len(got) != len(tt.want) {
			t.Errorf("Window(%v, %v): got %d events, want %d", tt.from, tt.to, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if got[i].Timestamp != tt.want[i] {
				t.Errorf("Window(%v, %v)[%d]: got %v, want %v", tt.from, tt.to, i, got[i].Timestamp, tt.want[i])
			}
		}
	}
}

func TestWindow_ReturnsCopy(t *testing.T) {
	tr := newTestTracker(t, RecordDetections)
	tr.Ingest(sineBlock(440), testSampleRate, 1)

	w := tr.Window(0, 2)
	w[0].Timestamp = 99

	if got := tr.Snapshot()[0].Timestamp; got != 1 {
		t.Errorf("live trace changed through window copy: got %v", got)
	}
}

func TestWindow_ConcurrentWithIngest(t *testing.T) {
	tr := newTestTracker(t, RecordDetections)
	block := sineBlock(440)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			tr.Ingest(block, testSampleRate, float64(i)*0.1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			w := tr.Window(0, 1000)
			for j := 1; j < len(w); j++ {
				if !(w[j].Timestamp > w[j-1].Timestamp) {
					t.Errorf("window not ordered at %d", j)
					return
				}
			}
		}
	}()
	wg.Wait()

	if tr.Len() != 200 {
		t.Errorf("Len: got %d, want 200", tr.Len())
	}
}

func TestParseRecordMode(t *testing.T) {
	tests := map[string]RecordMode{
		"":           RecordDetections,
		"detections": RecordDetections,
		"every-tick": RecordEveryTick,
		"changes":    RecordChanges,
	}
	for in, want := range tests {
		got, err := ParseRecordMode(in)
		if err != nil || got != want {
			t.Errorf("ParseRecordMode(%q): got %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseRecordMode("sometimes"); err == nil {
		t.Error("ParseRecordMode(sometimes): want error")
	}
}

func TestDetect_DoesNotRecord(t *testing.T) {
	tr := newTestTracker(t, RecordEveryTick)
	ev := tr.Detect(sineBlock(440), testSampleRate, 0)
	if !ev.Detected() {
		t.Fatal("Detect: no detection")
	}
	if tr.Len() != 0 {
		t.Errorf("Len: got %d, want 0", tr.Len())
	}
	if _, ok := tr.Latest(); ok {
		t.Error("Latest after Detect: want not ok")
	}
}
