package report

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/comfort.gate/internal/crown"
)

var (
	effectiveColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	rawColor       = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	gainColor      = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	emergencyColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Plot sizes.
const (
	PlotWidth  = 14 * vg.Inch
	PlotHeight = 6 * vg.Inch
)

// NewSessionPlot builds a timeline of effective comfort, raw comfort and
// gain against session time, with emergency ticks marked.
func NewSessionPlot(title string, outputs []crown.Output) (*plot.Plot, error) {
	if len(outputs) == 0 {
		return nil, ErrNoTicks
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Value"
	p.Y.Min = 0
	p.Y.Max = 1.05

	effective := make(plotter.XYs, len(outputs))
	raw := make(plotter.XYs, len(outputs))
	gain := make(plotter.XYs, len(outputs))
	var emergencies plotter.XYs
	t := 0.0
	for i, o := range outputs {
		t += o.Dt
		effective[i] = plotter.XY{X: t, Y: o.EffectiveComfort}
		raw[i] = plotter.XY{X: t, Y: o.RawComfort}
		gain[i] = plotter.XY{X: t, Y: o.Gain}
		if o.Emergency {
			emergencies = append(emergencies, plotter.XY{X: t, Y: 0})
		}
	}

	for _, series := range []struct {
		label string
		pts   plotter.XYs
		color color.Color
		width vg.Length
	}{
		{"raw comfort", raw, rawColor, vg.Points(1)},
		{"gain", gain, gainColor, vg.Points(1)},
		{"effective comfort", effective, effectiveColor, vg.Points(1.5)},
	} {
		line, err := plotter.NewLine(series.pts)
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", series.label, err)
		}
		line.Color = series.color
		line.Width = series.width
		p.Add(line)
		p.Legend.Add(series.label, line)
	}

	if len(emergencies) > 0 {
		marks, err := plotter.NewScatter(emergencies)
		if err != nil {
			return nil, fmt.Errorf("emergency marks: %w", err)
		}
		marks.GlyphStyle.Color = emergencyColor
		marks.GlyphStyle.Shape = draw.CrossGlyph{}
		marks.GlyphStyle.Radius = vg.Points(3)
		p.Add(marks)
		p.Legend.Add("emergency", marks)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Add(plotter.NewGrid())
	return p, nil
}

// WriteSessionPNG renders the session plot as PNG to w.
func WriteSessionPNG(w io.Writer, title string, outputs []crown.Output) error {
	p, err := NewSessionPlot(title, outputs)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveSessionPNG writes the session plot to path.
func SaveSessionPNG(path, title string, outputs []crown.Output) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSessionPNG(f, title, outputs); err != nil {
		f.Close()
		return fmt.Errorf("save session plot: %w", err)
	}
	return f.Close()
}
