// Package scale holds the svara frequency table and the nearest-note lookup.
//
// A table covers a contiguous range of octaves. Each octave lists the twelve
// svaras plus the upper tonic S', which aliases the base tonic S of the next
// octave. The table is immutable after construction and safe for concurrent use.
package scale

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// UpperTonic is the label of the alias for the next octave's base tonic
const UpperTonic = "S'"

// BaseTonic is the label of an octave's first note
const BaseTonic = "S"

// Labels is the canonical note order within an octave
var Labels = []string{"S", "r1", "r2", "g1", "g2", "m1", "m2", "P", "d1", "d2", "n1", "n2", UpperTonic}

var (
	// ErrUnknownNote is returned when an (octave, note) pair is not in the table
	ErrUnknownNote = errors.New("unknown note")

	// ErrInvalidTable is returned when a table violates its ordering rules
	ErrInvalidTable = errors.New("invalid scale table")
)

// aliasTolerance is the relative slack allowed between S' of octave N and S of N+1
const aliasTolerance = 1e-4

// Note is one entry of the table
type Note struct {
	Label     string
	Octave    int
	Frequency float64 // Hz
}

// Row lists the frequencies of one octave in canonical label order
type Row struct {
	Octave      int
	Frequencies []float64
}

// Table maps (octave, note) to a frequency
type Table struct {
	octaves []int
	freqs   map[int][]float64
	// scan is the nearest-match iteration order: octaves ascending, labels in
	// canonical order, with every non-final upper tonic left out because it
	// duplicates the next octave's base tonic
	scan []Note
}

var defaultRows = []Row{
	{Octave: 2, Frequencies: []float64{65.41, 69.30, 73.42, 77.78, 82.41, 87.31, 92.50, 98.00, 103.83, 110.00, 116.54, 123.47, 130.81}},
	{Octave: 3, Frequencies: []float64{130.81, 138.59, 146.83, 155.56, 164.81, 174.61, 185.00, 196.00, 207.65, 220.00, 233.08, 246.94, 261.63}},
	{Octave: 4, Frequencies: []float64{261.63, 277.18, 293.66, 311.13, 329.63, 349.23, 369.99, 392.00, 415.30, 440.00, 466.16, 493.88, 523.25}},
	{Octave: 5, Frequencies: []float64{523.25, 554.37, 587.33, 622.25, 659.25, 698.46, 739.99, 783.99, 830.61, 880.00, 932.33, 987.77, 1046.50}},
	{Octave: 6, Frequencies: []float64{1046.50, 1108.73, 1174.66, 1244.51, 1318.51, 1396.91, 1479.98, 1567.98, 1661.22, 1760.00, 1864.66, 1975.53, 2093.00}},
}

// Default returns the five-octave table (octaves 2 to 6) used by the detector
func Default() *Table {
	t, err := New(defaultRows)
	if err != nil {
		panic(fmt.Sprintf("scale: default table: %v", err))
	}
	return t
}

// New builds a table from rows. Rows may be given in any order but must
// cover contiguous octaves.
func New(rows []Row) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no octaves", ErrInvalidTable)
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Octave < sorted[j].Octave })

	t := &Table{freqs: make(map[int][]float64, len(sorted))}
	for i, row := range sorted {
		if len(row.Frequencies) != len(Labels) {
			return nil, fmt.Errorf("%w: octave %d has %d notes, want %d",
				ErrInvalidTable, row.Octave, len(row.Frequencies), len(Labels))
		}
		if i > 0 && row.Octave != sorted[i-1].Octave+1 {
			return nil, fmt.Errorf("%w: octave %d does not follow %d",
				ErrInvalidTable, row.Octave, sorted[i-1].Octave)
		}
		for j, f := range row.Frequencies {
			if !(f > 0) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: octave %d note %s has frequency %v",
					ErrInvalidTable, row.Octave, Labels[j], f)
			}
			if j > 0 && !(f > row.Frequencies[j-1]) {
				return nil, fmt.Errorf("%w: octave %d not strictly increasing at %s",
					ErrInvalidTable, row.Octave, Labels[j])
			}
		}
		if i > 0 {
			prevUpper := sorted[i-1].Frequencies[len(Labels)-1]
			base := row.Frequencies[0]
			if math.Abs(prevUpper-base) > aliasTolerance*base {
				return nil, fmt.Errorf("%w: %s of octave %d (%.2f Hz) != %s of octave %d (%.2f Hz)",
					ErrInvalidTable, UpperTonic, sorted[i-1].Octave, prevUpper, BaseTonic, row.Octave, base)
			}
		}

		freqs := make([]float64, len(row.Frequencies))
		copy(freqs, row.Frequencies)
		t.freqs[row.Octave] = freqs
		t.octaves = append(t.octaves, row.Octave)
	}

	last := len(t.octaves) - 1
	for i, octave := range t.octaves {
		for j, label := range Labels {
			if label == UpperTonic && i != last {
				continue
			}
			t.scan = append(t.scan, Note{Label: label, Octave: octave, Frequency: t.freqs[octave][j]})
		}
	}

	return t, nil
}

// FrequencyOf returns the canonical frequency of a note
func (t *Table) FrequencyOf(octave int, label string) (float64, error) {
	freqs, ok := t.freqs[octave]
	if !ok {
		return 0, fmt.Errorf("%w: octave %d", ErrUnknownNote, octave)
	}
	idx := labelIndex(label)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %q in octave %d", ErrUnknownNote, label, octave)
	}
	return freqs[idx], nil
}

// Nearest returns the table note closest to frequencyHz.
//
// Frequencies <= 0 (silence) return false. Ties go to the first note in scan
// order: octaves ascending, then canonical label order. The upper tonic of
// every octave but the last is never returned; its frequency resolves to the
// next octave's base tonic.
func (t *Table) Nearest(frequencyHz float64) (Note, bool) {
	if !(frequencyHz > 0) || len(t.scan) == 0 {
		return Note{}, false
	}

	best := t.scan[0]
	minDist := math.Abs(frequencyHz - best.Frequency)
	for _, n := range t.scan[1:] {
		dist := math.Abs(frequencyHz - n.Frequency)
		if dist < minDist {
			minDist = dist
			best = n
		}
	}
	return best, true
}

// Canonical maps an upper-tonic alias to the base tonic of the next octave.
// Any other pair is returned unchanged.
func (t *Table) Canonical(octave int, label string) (int, string) {
	if label != UpperTonic {
		return octave, label
	}
	if _, ok := t.freqs[octave+1]; ok {
		return octave + 1, BaseTonic
	}
	return octave, label
}

// Octaves returns the octave indices in ascending order
func (t *Table) Octaves() []int {
	out := make([]int, len(t.octaves))
	copy(out, t.octaves)
	return out
}

// Notes returns every table entry, aliases included, in scan order
func (t *Table) Notes() []Note {
	notes := make([]Note, 0, len(t.octaves)*len(Labels))
	for _, octave := range t.octaves {
		for j, label := range Labels {
			notes = append(notes, Note{Label: label, Octave: octave, Frequency: t.freqs[octave][j]})
		}
	}
	return notes
}

// Range returns the lowest and highest frequency of an octave (S and S')
func (t *Table) Range(octave int) (lo, hi float64, ok bool) {
	freqs, found := t.freqs[octave]
	if !found {
		return 0, 0, false
	}
	return freqs[0], freqs[len(freqs)-1], true
}

// Validate checks that every (octave, label) pair resolves and that the
// nearest lookup maps each canonical note back onto itself
func (t *Table) Validate() error {
	for _, octave := range t.octaves {
		for _, label := range Labels {
			freq, err := t.FrequencyOf(octave, label)
			if err != nil {
				return err
			}
			wantOctave, wantLabel := t.Canonical(octave, label)
			got, ok := t.Nearest(freq)
			if !ok || got.Octave != wantOctave || got.Label != wantLabel {
				return fmt.Errorf("%w: %s (%d) at %.2f Hz resolves to %s (%d)",
					ErrUnknownNote, label, octave, freq, got.Label, got.Octave)
			}
		}
	}
	return nil
}

func labelIndex(label string) int {
	for i, l := range Labels {
		if l == label {
			return i
		}
	}
	return -1
}
