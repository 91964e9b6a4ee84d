package shap

import (
	"fmt"
	"image/color"
	"math"
	"sort"

	"github.com/YuminosukeSato/imbalanced/pkg/chart"
	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// MeanAbs returns the mean absolute SHAP value of every column
func MeanAbs(values mat.Matrix) []float64 {
	rows, cols := values.Dims()
	out := make([]float64, cols)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			out[j] += math.Abs(values.At(i, j))
		}
		out[j] /= float64(rows)
	}
	return out
}

// topIndices returns up to n column indices ordered by descending score
func topIndices(scores []float64, n int) []int {
	idx := make([]int, len(scores))
	for j := range idx {
		idx[j] = j
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if n > 0 && n < len(idx) {
		idx = idx[:n]
	}
	return idx
}

// SummaryBarPlot writes a horizontal bar chart of mean |SHAP| per feature,
// largest at the top, showing at most maxDisplay features.
func SummaryBarPlot(values mat.Matrix, featureNames []string, maxDisplay int, path string) error {
	_, nFeatures := values.Dims()
	names, err := resolveNames(featureNames, nFeatures)
	if err != nil {
		return err
	}
	scores := MeanAbs(values)
	top := topIndices(scores, maxDisplay)

	bars := make([]chart.Bar, len(top))
	for r, j := range top {
		bars[r] = chart.Bar{Label: names[j], Value: scores[j]}
	}
	return chart.HorizontalBars(path, "Mean |SHAP value|",
		"mean(|SHAP value|) (average impact on model output)", bars, chart.Blue)
}

// SummaryPlot writes a beeswarm-style scatter: one row per feature, each
// sample placed at its SHAP value and coloured from blue (low feature value)
// to red (high feature value).
func SummaryPlot(values, X mat.Matrix, featureNames []string, maxDisplay int, path string) error {
	nSamples, nFeatures := values.Dims()
	xRows, xCols := X.Dims()
	if xRows != nSamples {
		return errors.NewDimensionError("shap.SummaryPlot", nSamples, xRows, 0)
	}
	if xCols != nFeatures {
		return errors.NewDimensionError("shap.SummaryPlot", nFeatures, xCols, 1)
	}
	names, err := resolveNames(featureNames, nFeatures)
	if err != nil {
		return err
	}
	top := topIndices(MeanAbs(values), maxDisplay)

	p := plot.New()
	p.Title.Text = "SHAP summary"
	p.X.Label.Text = "SHAP value (impact on model output)"
	labels := make([]string, len(top))

	for r, j := range top {
		level := float64(len(top) - 1 - r)
		labels[len(top)-1-r] = names[j]

		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < nSamples; i++ {
			lo = math.Min(lo, X.At(i, j))
			hi = math.Max(hi, X.At(i, j))
		}

		pts := make(plotter.XYs, nSamples)
		shades := make([]float64, nSamples)
		for i := 0; i < nSamples; i++ {
			// Spread points vertically so overlapping values stay visible
			jitter := 0.3 * (float64((i*7919)%101)/100 - 0.5)
			pts[i] = plotter.XY{X: values.At(i, j), Y: level + jitter}
			if hi > lo {
				shades[i] = (X.At(i, j) - lo) / (hi - lo)
			} else {
				shades[i] = 0.5
			}
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return errors.Wrapf(err, "build SHAP scatter for %s", names[j])
		}
		scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			return draw.GlyphStyle{
				Color:  blend(chart.Blue, chart.Red, shades[i]),
				Radius: vg.Points(2),
				Shape:  draw.CircleGlyph{},
			}
		}
		p.Add(scatter)
	}
	p.Add(plotter.NewGrid())
	p.NominalY(labels...)

	return chart.Save(p, chart.Width, chart.Height(len(top)), path)
}

// ForcePlot writes a bar chart of one row's signed contributions, ordered by
// magnitude. Red bars push the prediction up from the base value and blue bars
// push it down.
func ForcePlot(exp *Explanation, maxDisplay int, path string) error {
	if exp == nil {
		return errors.NewValueError("shap.ForcePlot", "explanation is nil")
	}
	magnitude := make([]float64, len(exp.Values))
	for j, v := range exp.Values {
		magnitude[j] = math.Abs(v)
	}
	top := topIndices(magnitude, maxDisplay)

	up := make(plotter.Values, len(top))
	down := make(plotter.Values, len(top))
	labels := make([]string, len(top))
	for r, j := range top {
		pos := len(top) - 1 - r
		if v := exp.Values[j]; v >= 0 {
			up[pos] = v
		} else {
			down[pos] = v
		}
		labels[pos] = fmt.Sprintf("%s = %.4g", exp.FeatureNames[j], exp.Data[j])
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("base value %.4f, f(x) = %.4f", exp.BaseValue, exp.Prediction)
	p.X.Label.Text = "SHAP value"
	for _, series := range []struct {
		values plotter.Values
		color  color.Color
		name   string
	}{
		{up, chart.Red, "higher"},
		{down, chart.Blue, "lower"},
	} {
		bc, err := plotter.NewBarChart(series.values, vg.Points(12))
		if err != nil {
			return errors.Wrap(err, "build force plot")
		}
		bc.Horizontal = true
		bc.Color = series.color
		bc.LineStyle.Width = 0
		p.Add(bc)
		p.Legend.Add(series.name, bc)
	}
	p.Legend.Top = true
	p.NominalY(labels...)

	return chart.Save(p, chart.Width, chart.Height(len(top)), path)
}

func blend(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + t*(float64(y)-float64(x))))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}
