package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewPayload_Detection(t *testing.T) {
	p := NewPayload("s1", NewDetection(1.5, "G", 3, 196.2), []byte{0x89, 'P', 'N', 'G'})

	if p.Octave == nil || *p.Octave != "3" {
		t.Errorf("Octave: got %v, want \"3\"", p.Octave)
	}
	if p.Elapsed != 1.5 {
		t.Errorf("Elapsed: got %v, want 1.5", p.Elapsed)
	}
	if p.Image != "iVBORw==" {
		t.Errorf("Image: got %q", p.Image)
	}
}

func TestNewPayload_NoDetectionEncodesNulls(t *testing.T) {
	body, err := json.Marshal(NewPayload("s1", NoDetection(0.2), nil))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	s := string(body)
	for _, want := range []string{`"note":null`, `"octave":null`, `"frequency":null`} {
		if !strings.Contains(s, want) {
			t.Errorf("payload %s: missing %s", s, want)
		}
	}
	if strings.Contains(s, `"image"`) {
		t.Errorf("payload %s: image should be omitted", s)
	}
}

func TestDetectionEvent_SameNote(t *testing.T) {
	a := NewDetection(0, "S", 4, 261.6)
	b := NewDetection(1, "S", 4, 262.0)
	c := NewDetection(2, "S", 5, 523.3)

	if !a.SameNote(b) {
		t.Error("same note and octave: want true")
	}
	if a.SameNote(c) {
		t.Error("different octave: want false")
	}
	if a.SameNote(NoDetection(3)) {
		t.Error("detection vs silence: want false")
	}
	if !NoDetection(0).SameNote(NoDetection(1)) {
		t.Error("two silences: want true")
	}
}

func TestDetectionEvent_String(t *testing.T) {
	if got := NoDetection(0.25).String(); got != "0.250s: -" {
		t.Errorf("silence: got %q", got)
	}
	if got := NewDetection(1, "P", 4, 392.44).String(); got != "1.000s: P (4) 392.44 Hz" {
		t.Errorf("detection: got %q", got)
	}
}
