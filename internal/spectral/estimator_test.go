package spectral

import (
	"math"
	"testing"

	"svara-stream/internal/testutil"
)

func newTestEstimator(t *testing.T, cfg Config) *Estimator {
	t.Helper()
	e, err := NewEstimator(cfg)
	if err != nil {
		t.Fatalf("NewEstimator: %v", err)
	}
	return e
}

func TestEstimate_ShortBlock(t *testing.T) {
	e := newTestEstimator(t, DefaultConfig())
	minSize := e.Config().MinBlockSize

	for _, sr := range []int{8000, 22050, 44100, 48000, 96000} {
		for _, n := range []int{0, 1, 16, minSize - 1} {
			block := testutil.Sine(440, float64(sr), 1, n)
			if s, ok := e.Estimate(block, sr); ok {
				t.Errorf("Estimate(len=%d, sr=%d): got %+v, want no estimate", n, sr, s)
			}
		}
	}
}

func TestEstimate_Sine440(t *testing.T) {
	const sampleRate = 44100

	for _, nperseg := range []int{512, 1024, 2048} {
		cfg := DefaultConfig()
		cfg.SegmentLength = nperseg
		e := newTestEstimator(t, cfg)

		block := testutil.Sine(440, sampleRate, 0.8, 2048)
		s, ok := e.Estimate(block, sampleRate)
		if !ok {
			t.Fatalf("nperseg=%d: no estimate", nperseg)
		}

		tol := float64(sampleRate) / float64(nperseg)
		if math.Abs(s.DominantFrequency-440) > tol {
			t.Errorf("nperseg=%d: dominant frequency %v not within %v of 440", nperseg, s.DominantFrequency, tol)
		}
		if s.Magnitude <= 0 {
			t.Errorf("nperseg=%d: magnitude %v, want > 0", nperseg, s.Magnitude)
		}
	}
}

func TestEstimate_IgnoresDCOffset(t *testing.T) {
	const sampleRate = 44100
	e := newTestEstimator(t, DefaultConfig())

	for _, offset := range []float64{0.2, -0.5} {
		block := testutil.Sine(440, sampleRate, 0.1, 2048)
		for i := range block {
			block[i] += offset
		}

		s, ok := e.Estimate(block, sampleRate)
		if !ok {
			t.Fatalf("offset=%v: no estimate", offset)
		}
		tol := float64(sampleRate) / float64(e.Config().SegmentLength)
		if math.Abs(s.DominantFrequency-440) > tol {
			t.Errorf("offset=%v: dominant frequency %v not within %v of 440", offset, s.DominantFrequency, tol)
		}
	}
}

func TestEstimate_ConstantBlock(t *testing.T) {
	e := newTestEstimator(t, DefaultConfig())
	block := make([]float64, 2048)
	for i := range block {
		block[i] = 0.25
	}
	if s, ok := e.Estimate(block, 44100); ok {
		t.Errorf("constant block: got %+v, want no estimate", s)
	}
}

func TestEstimate_DoesNotModifyInput(t *testing.T) {
	e := newTestEstimator(t, DefaultConfig())
	block := testutil.Sine(330, 44100, 1, 2048)
	orig := make([]float64, len(block))
	copy(orig, block)

	e.Estimate(block, 44100)

	for i := range block {
		if block[i] != orig[i] {
			t.Fatalf("block modified at %d: got %v, want %v", i, block[i], orig[i])
		}
	}
}

func TestEstimate_Silence(t *testing.T) {
	e := newTestEstimator(t, DefaultConfig())
	if s, ok := e.Estimate(testutil.Silence(2048), 44100); ok {
		t.Errorf("Estimate(silence): got %+v, want no estimate", s)
	}
}

func TestEstimate_InvalidSampleRate(t *testing.T) {
	e := newTestEstimator(t, DefaultConfig())
	block := testutil.Sine(440, 44100, 1, 2048)
	for _, sr := range []int{0, -44100} {
		if _, ok := e.Estimate(block, sr); ok {
			t.Errorf("Estimate(sr=%d): want no estimate", sr)
		}
	}
}

func TestEstimate_MinPower(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPower = 1e6
	e := newTestEstimator(t, cfg)

	if _, ok := e.Estimate(testutil.Sine(440, 44100, 0.01, 2048), 44100); ok {
		t.Error("quiet block above MinPower: want no estimate")
	}
}

func TestEstimate_SegmentLongerThanBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SegmentLength = 4096
	e := newTestEstimator(t, cfg)

	s, ok := e.Estimate(testutil.Sine(880, 44100, 1, 1024), 44100)
	if !ok {
		t.Fatal("no estimate")
	}
	if tol := 44100.0 / 1024; math.Abs(s.DominantFrequency-880) > tol {
		t.Errorf("dominant frequency %v not within %v of 880", s.DominantFrequency, tol)
	}
}

func TestSmooth(t *testing.T) {
	in := []float64{3, 0, 0, 6, 0, 9}
	want := []float64{1, 1, 2, 2, 5, 3}

	got := Smooth(in, 3)
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("Smooth[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSmooth_Degenerate(t *testing.T) {
	if got := Smooth(nil, 3); got != nil {
		t.Errorf("Smooth(nil): got %v, want nil", got)
	}

	got := Smooth([]float64{3}, 3)
	if len(got) != 1 || math.Abs(got[0]-1) > 1e-12 {
		t.Errorf("Smooth([3], 3): got %v, want [1]", got)
	}

	in := []float64{1, 2, 3}
	got = Smooth(in, 1)
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("Smooth(width=1)[%d]: got %v, want %v", i, got[i], in[i])
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero min block", func(c *Config) { c.MinBlockSize = 0 }},
		{"zero segment", func(c *Config) { c.SegmentLength = 0 }},
		{"even smoothing", func(c *Config) { c.SmoothingWidth = 4 }},
		{"negative power", func(c *Config) { c.MinPower = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if _, err := NewEstimator(cfg); err == nil {
				t.Error("NewEstimator: want error")
			}
		})
	}
}
