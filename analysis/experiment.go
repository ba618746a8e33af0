package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/zeu5/traffic-rl-signal/logging"
)

// RunFunc runs one experiment and reports every step to the recorder.
type RunFunc func(context.Context, *Recorder) error

type Experiment struct {
	Name     string
	run      RunFunc
	Recorder *Recorder
}

func NewExperiment(name string, run RunFunc) *Experiment {
	return &Experiment{
		Name:     name,
		run:      run,
		Recorder: NewRecorder(""),
	}
}

func (e *Experiment) Run(ctx context.Context) error {
	e.Recorder = NewRecorder("")
	return e.run(ctx, e.Recorder)
}

// DataSet is the series an analyzer extracts from one experiment
type DataSet []float64

type Analyzer func(*Recorder) DataSet

type Comparator func(names []string, datasets []DataSet) error

// RewardAnalyzer returns the moving average of the rewards.
func RewardAnalyzer(window int) Analyzer {
	return func(r *Recorder) DataSet {
		return MovingAverage(r.Rewards(), window)
	}
}

// QueueAnalyzer returns the moving average of the total queue length.
func QueueAnalyzer(window int) Analyzer {
	return func(r *Recorder) DataSet {
		return MovingAverage(r.QueueTotals(), window)
	}
}

// PlotComparator plots all datasets on one chart saved under dir.
func PlotComparator(dir, name, yLabel string) Comparator {
	return func(names []string, datasets []DataSet) error {
		series := make([][]float64, len(datasets))
		for i, d := range datasets {
			series[i] = d
		}
		return PlotSeries(filepath.Join(dir, name+".png"), "Comparison", yLabel, names, series)
	}
}

type analysis struct {
	name       string
	analyzer   Analyzer
	comparator Comparator
}

// Comparison runs a set of experiments one after the other and compares
// them with every registered analysis.
type Comparison struct {
	Experiments []*Experiment
	analyses    []analysis
	logger      *slog.Logger
}

func NewComparison(logger *slog.Logger) *Comparison {
	return &Comparison{
		Experiments: make([]*Experiment, 0),
		analyses:    make([]analysis, 0),
		logger:      logging.OrDefault(logger),
	}
}

func (c *Comparison) AddExperiment(e *Experiment) {
	c.Experiments = append(c.Experiments, e)
}

func (c *Comparison) AddAnalysis(name string, analyzer Analyzer, comparator Comparator) {
	c.analyses = append(c.analyses, analysis{name: name, analyzer: analyzer, comparator: comparator})
}

// Run returns the summary of every experiment in the order they were added.
func (c *Comparison) Run(ctx context.Context) ([]Summary, error) {
	names := make([]string, len(c.Experiments))
	summaries := make([]Summary, len(c.Experiments))
	for i, e := range c.Experiments {
		c.logger.Info("running experiment", "experiment", e.Name, "index", i+1, "total", len(c.Experiments))
		if err := e.Run(ctx); err != nil {
			return nil, fmt.Errorf("experiment %s: %w", e.Name, err)
		}
		names[i] = e.Name
		summaries[i] = e.Recorder.Summary()
		c.logger.Info("experiment done",
			"experiment", e.Name,
			"steps", summaries[i].Steps,
			"mean_reward", summaries[i].MeanReward,
			"mean_queue", summaries[i].MeanQueue,
		)
	}

	for _, a := range c.analyses {
		datasets := make([]DataSet, len(c.Experiments))
		for i, e := range c.Experiments {
			datasets[i] = a.analyzer(e.Recorder)
		}
		if err := a.comparator(names, datasets); err != nil {
			return summaries, fmt.Errorf("analysis %s: %w", a.name, err)
		}
	}
	return summaries, nil
}
