// Package render draws the live detection window as a note-versus-time chart.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"svara-stream/internal/models"
	"svara-stream/internal/scale"
)

// marginHz pads the visible octave above and below
const marginHz = 50

var (
	liveColor      = color.RGBA{R: 0x1f, G: 0x4e, B: 0xd8, A: 0xff}
	referenceColor = color.RGBA{R: 0xd8, G: 0x2a, B: 0x1f, A: 0xff}
	gridColor      = color.Gray{Y: 0xd8}
)

// Input is everything needed to draw one frame
type Input struct {
	Elapsed   float64                 // Seconds since stream start
	Live      []models.DetectionEvent // Live trace events inside the window
	Reference []models.DetectionEvent // Optional practice overlay
	Latest    models.DetectionEvent   // Most recent event, recorded or not
}

// Renderer turns a window of events into image bytes
type Renderer interface {
	Render(in Input) ([]byte, error)
}

// Config holds configuration for the PNG renderer
type Config struct {
	Window time.Duration // Visible history before Elapsed
	Width  int           // Pixels
	Height int           // Pixels
}

// DefaultConfig returns default render configuration
func DefaultConfig() Config {
	return Config{
		Window: 5 * time.Second,
		Width:  640,
		Height: 360,
	}
}

// Validate checks the render configuration
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("render window must be positive, got %v", c.Window)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("render size must be positive, got %dx%d", c.Width, c.Height)
	}
	return nil
}

// PNGRenderer draws frames with gonum/plot and encodes them as PNG
type PNGRenderer struct {
	table  *scale.Table
	config Config
}

// NewPNGRenderer creates a renderer for the given scale table
func NewPNGRenderer(table *scale.Table, config Config) (*PNGRenderer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &PNGRenderer{table: table, config: config}, nil
}

// Config returns the renderer configuration
func (r *PNGRenderer) Config() Config {
	return r.config
}

// XRange returns the visible time span for a frame drawn at elapsed seconds
func (r *PNGRenderer) XRange(elapsed float64) (from, to float64) {
	return math.Max(0, elapsed-r.config.Window.Seconds()), elapsed + 1
}

// YRange returns the visible frequency span: the octave of the most recent
// detection padded by marginHz, or the whole table before any detection
func (r *PNGRenderer) YRange(in Input) (lo, hi float64) {
	if octave, ok := focusOctave(in); ok {
		if lo, hi, ok := r.table.Range(octave); ok {
			return lo - marginHz, hi + marginHz
		}
	}

	octaves := r.table.Octaves()
	lo, _, _ = r.table.Range(octaves[0])
	_, hi, _ = r.table.Range(octaves[len(octaves)-1])
	return lo - marginHz, hi + marginHz
}

func focusOctave(in Input) (int, bool) {
	if in.Latest.Detected() {
		return *in.Latest.Octave, true
	}
	for i := len(in.Live) - 1; i >= 0; i-- {
		if in.Live[i].Detected() {
			return *in.Live[i].Octave, true
		}
	}
	return 0, false
}

// Render draws one frame and returns PNG bytes
func (r *PNGRenderer) Render(in Input) ([]byte, error) {
	xMin, xMax := r.XRange(in.Elapsed)
	yMin, yMax := r.YRange(in)

	p := plot.New()
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Note"
	p.Y.Tick.Marker = plot.ConstantTicks(r.ticks(yMin, yMax))

	grid := plotter.NewGrid()
	grid.Vertical.Color = nil
	grid.Horizontal.Color = gridColor
	p.Add(grid)

	if err := r.addSeries(p, "Live", in.Live, liveColor, xMin, xMax, yMin, yMax); err != nil {
		return nil, err
	}
	if len(in.Reference) > 0 {
		if err := r.addSeries(p, "Reference", in.Reference, referenceColor, xMin, xMax, yMin, yMax); err != nil {
			return nil, err
		}
		p.Legend.Top = true
	}

	p.X.Min, p.X.Max = xMin, xMax
	p.Y.Min, p.Y.Max = yMin, yMax

	canvas := vgimg.NewWith(
		vgimg.UseWH(vg.Length(r.config.Width), vg.Length(r.config.Height)),
		vgimg.UseDPI(72),
	)
	p.Draw(draw.New(canvas))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: canvas}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// ticks labels every table note inside [lo, hi]
func (r *PNGRenderer) ticks(lo, hi float64) []plot.Tick {
	var ticks []plot.Tick
	for _, note := range r.table.Notes() {
		if note.Frequency < lo || note.Frequency > hi {
			continue
		}
		octave, label := r.table.Canonical(note.Octave, note.Label)
		if octave != note.Octave {
			continue
		}
		ticks = append(ticks, plot.Tick{
			Value: note.Frequency,
			Label: fmt.Sprintf("%s %d", label, octave),
		})
	}
	return ticks
}

// addSeries plots detected events at their table frequency, clipped to the frame
func (r *PNGRenderer) addSeries(p *plot.Plot, name string, events []models.DetectionEvent, c color.Color, xMin, xMax, yMin, yMax float64) error {
	points := make(plotter.XYs, 0, len(events))
	for _, e := range events {
		if !e.Detected() || e.Timestamp < xMin || e.Timestamp > xMax {
			continue
		}
		freq, err := r.table.FrequencyOf(*e.Octave, *e.Note)
		if err != nil {
			continue
		}
		if freq < yMin || freq > yMax {
			continue
		}
		points = append(points, plotter.XY{X: e.Timestamp, Y: freq})
	}
	if len(points) == 0 {
		return nil
	}

	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return fmt.Errorf("failed to build %s series: %w", name, err)
	}
	line.Color = c
	scatter.Color = c
	scatter.Shape = draw.CircleGlyph{}
	scatter.Radius = vg.Points(2.5)

	p.Add(line, scatter)
	p.Legend.Add(name, line, scatter)
	return nil
}
