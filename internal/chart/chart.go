// Package chart draws the progress series of a solve run as a PNG.
package chart

import (
	"io"
	"math"

	"github.com/pkg/errors"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kartoza/solver-theatre/internal/results"
)

// ErrNotEnoughPoints is returned for series too short to draw a line.
var ErrNotEnoughPoints = errors.New("chart: need at least two points")

// Default image size in pixels.
const (
	DefaultWidth  = 1024
	DefaultHeight = 512
)

func lineStyle(col drawing.Color) gochart.Style {
	return gochart.Style{
		StrokeWidth: 2,
		StrokeColor: col,
		DotWidth:    3,
		DotColor:    col,
	}
}

// Progress renders both algorithms' best value per iteration to w.
func Progress(w io.Writer, points []results.Point, width, height int) error {
	if len(points) < 2 {
		return errors.Wrapf(ErrNotEnoughPoints, "got %d", len(points))
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	xs := make([]float64, len(points))
	prob := make([]float64, len(points))
	ant := make([]float64, len(points))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, p := range points {
		xs[i] = float64(p.Iteration)
		prob[i] = p.Probabilistic
		ant[i] = p.AntColony
		lo = math.Min(lo, math.Min(p.Probabilistic, p.AntColony))
		hi = math.Max(hi, math.Max(p.Probabilistic, p.AntColony))
	}
	// A flat series has a zero-height range, which go-chart refuses.
	if hi-lo < 1 {
		lo, hi = lo-1, hi+1
	}

	ch := gochart.Chart{
		Title:      "Best value per iteration",
		Width:      width,
		Height:     height,
		Background: gochart.Style{Padding: gochart.Box{Top: 20, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      gochart.XAxis{Name: "Iteration"},
		YAxis: gochart.YAxis{
			Name:  "Best value",
			Range: &gochart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: []gochart.Series{
			gochart.ContinuousSeries{Name: "Probabilistic", XValues: xs, YValues: prob, Style: lineStyle(gochart.ColorBlue)},
			gochart.ContinuousSeries{Name: "Ant colony", XValues: xs, YValues: ant, Style: lineStyle(gochart.ColorGreen)},
		},
	}
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}

	if err := ch.Render(gochart.PNG, w); err != nil {
		return errors.Wrap(err, "rendering progress chart")
	}
	return nil
}
