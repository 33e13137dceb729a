package audiofile

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// pcm16WAV builds a canonical 44-byte-header PCM16 WAV file
func pcm16WAV(sampleRate, channels int, interleaved []int16) []byte {
	var buf bytes.Buffer
	dataLen := len(interleaved) * 2
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, interleaved)
	return buf.Bytes()
}

func TestDecode_Mono(t *testing.T) {
	const n = 20000
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(16384 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}

	track, err := Decode(bytes.NewReader(pcm16WAV(8000, 1, pcm)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if track.SampleRate != 8000 || track.Channels != 1 {
		t.Errorf("header: got %d Hz / %d ch, want 8000 / 1", track.SampleRate, track.Channels)
	}
	if len(track.Samples) != n {
		t.Fatalf("samples: got %d, want %d", len(track.Samples), n)
	}
	for i := 0; i < n; i += 997 {
		want := float64(pcm[i]) / 32768
		if math.Abs(track.Samples[i]-want) > 1e-4 {
			t.Errorf("sample %d: got %v, want %v", i, track.Samples[i], want)
		}
	}
	if got := track.Seconds(); math.Abs(got-2.5) > 1e-9 {
		t.Errorf("Seconds: got %v, want 2.5", got)
	}
}

func TestDecode_StereoAveraged(t *testing.T) {
	pcm := []int16{16384, 0, -16384, -16384, 8192, 24576}

	track, err := Decode(bytes.NewReader(pcm16WAV(44100, 2, pcm)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []float64{0.25, -0.5, 0.5}
	if len(track.Samples) != len(want) {
		t.Fatalf("samples: got %d, want %d", len(track.Samples), len(want))
	}
	for i := range want {
		if math.Abs(track.Samples[i]-want[i]) > 1e-4 {
			t.Errorf("frame %d: got %v, want %v", i, track.Samples[i], want[i])
		}
	}
}

func TestDecode_NotWAV(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("definitely not a riff file"))); err == nil {
		t.Error("Decode(garbage): want error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := os.WriteFile(path, pcm16WAV(16000, 1, make([]int16, 1600)), 0o644); err != nil {
		t.Fatal(err)
	}

	track, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(track.Samples) != 1600 || track.Duration().Milliseconds() != 100 {
		t.Errorf("got %d samples / %v", len(track.Samples), track.Duration())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Load(missing): want error")
	}
}
