package analysis

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// MovingAverage smooths the series with a trailing window.
func MovingAverage(series []float64, window int) []float64 {
	if window <= 1 {
		out := make([]float64, len(series))
		copy(out, series)
		return out
	}
	out := make([]float64, len(series))
	for i := range series {
		start := max(0, i-window+1)
		out[i] = stat.Mean(series[start:i+1], nil)
	}
	return out
}

func points(series []float64) plotter.XYs {
	pts := make(plotter.XYs, len(series))
	for i, v := range series {
		pts[i] = plotter.XY{
			X: float64(i),
			Y: v,
		}
	}
	return pts
}

// PlotSeries draws the named series as lines on one plot and saves it as a
// png to savePath.
func PlotSeries(savePath, title, yLabel string, names []string, series [][]float64) error {
	if len(names) != len(series) {
		return fmt.Errorf("analysis: %d names for %d series", len(names), len(series))
	}
	if err := os.MkdirAll(filepath.Dir(savePath), os.ModePerm); err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Step"
	p.Y.Label.Text = yLabel
	for i := range series {
		line, err := plotter.NewLine(points(series[i]))
		if err != nil {
			return fmt.Errorf("analysis: plotting %s: %w", names[i], err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(names[i], line)
	}
	return p.Save(8*vg.Inch, 8*vg.Inch, savePath)
}

// Plot saves the reward curve of the recorder together with its moving
// average.
func (r *Recorder) Plot(savePath string, window int) error {
	rewards := r.Rewards()
	if len(rewards) == 0 {
		return nil
	}
	return PlotSeries(savePath, "Reward", "Reward",
		[]string{"reward", fmt.Sprintf("moving average (%d)", window)},
		[][]float64{rewards, MovingAverage(rewards, window)},
	)
}
