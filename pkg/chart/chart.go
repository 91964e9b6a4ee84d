// Package chart renders the static report charts with gonum/plot.
//
// The image format follows the file extension of the output path
// (".png", ".svg", ".pdf", ".jpg", ".eps", ".tif").
package chart

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Palette shared by the report charts
var (
	Red  = color.RGBA{R: 255, G: 0, B: 81, A: 255}
	Blue = color.RGBA{R: 0, G: 139, B: 251, A: 255}
)

// Width is the default chart width
const Width = 8 * vg.Inch

// Bar is one labelled value of a bar chart
type Bar struct {
	Label string
	Value float64
}

// Height returns a chart height that leaves room for rows labelled bars
func Height(rows int) vg.Length {
	return vg.Length(max(rows, 4))*0.4*vg.Inch + 1.5*vg.Inch
}

// HorizontalBars draws bars top to bottom in the given order and saves the chart to path
func HorizontalBars(path, title, xLabel string, bars []Bar, fill color.Color) error {
	if len(bars) == 0 {
		return errors.NewValueError("chart.HorizontalBars", "no bars to draw")
	}
	// plotter places the first value at the bottom
	values := make(plotter.Values, len(bars))
	labels := make([]string, len(bars))
	for r, b := range bars {
		values[len(bars)-1-r] = b.Value
		labels[len(bars)-1-r] = b.Label
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	bc, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return errors.Wrap(err, "build bar chart")
	}
	bc.Horizontal = true
	bc.Color = fill
	bc.LineStyle.Width = 0
	p.Add(bc)
	p.NominalY(labels...)

	return Save(p, Width, Height(len(bars)), path)
}

// Save writes p to path, creating the parent directory when missing
func Save(p *plot.Plot, width, height vg.Length, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create chart directory %s", dir)
		}
	}
	// gonum/plot panics on some degenerate axis ranges
	err := errors.SafeExecute("chart.Save", func() error {
		return p.Save(width, height, path)
	})
	if err != nil {
		return errors.Wrapf(err, "save chart %s", path)
	}
	return nil
}
