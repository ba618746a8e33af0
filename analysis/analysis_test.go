package analysis

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeu5/traffic-rl-signal/controller"
	"github.com/zeu5/traffic-rl-signal/intersection"
	"github.com/zeu5/traffic-rl-signal/logging"
	"github.com/zeu5/traffic-rl-signal/policies"
)

func result(step uint64, action policies.Action, random bool, queues intersection.Queues) controller.StepResult {
	return controller.StepResult{
		Step:       step,
		Action:     action,
		Random:     random,
		NextQueues: queues,
		Reward:     policies.Reward(queues),
		State:      policies.StateKey{N: 1},
		NextState:  policies.StateKey{N: 2, Phase: 1},
	}
}

func TestRecorderSummary(t *testing.T) {
	r := NewRecorder("")
	assert.Equal(t, Summary{}, r.Summary())

	r.Observe(result(1, policies.Hold, false, intersection.Queues{1, 0, 0, 0}))
	s := r.Summary()
	assert.Equal(t, 1, s.Steps)
	assert.Equal(t, -1.0, s.MeanReward)
	assert.Equal(t, 0.0, s.StdReward)

	r.Observe(result(2, policies.Advance, true, intersection.Queues{1, 1, 1, 0}))
	r.Observe(result(3, policies.Advance, false, intersection.Queues{2, 0, 0, 0}))
	s = r.Summary()
	assert.Equal(t, 3, s.Steps)
	assert.InDelta(t, -8.0/3, s.MeanReward, 1e-12)
	assert.Equal(t, -4.0, s.MinReward)
	assert.InDelta(t, 2.0, s.MeanQueue, 1e-12)
	assert.Equal(t, 3.0, s.MaxQueue)
	assert.Equal(t, 1, s.Holds)
	assert.Equal(t, 2, s.Advances)
	assert.Equal(t, 1, s.Explored)
	assert.Greater(t, s.StdReward, 0.0)
	assert.Equal(t, []float64{-1, -3, -4}, r.Rewards())
}

func TestRecorderTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	r := NewRecorder(path)
	r.Observe(result(1, policies.Hold, false, intersection.Queues{1, 0, 0, 0}))
	r.Observe(result(2, policies.Advance, true, intersection.Queues{0, 2, 0, 0}))
	require.NoError(t, r.Close())
	// closing twice is fine, later steps are not traced
	require.NoError(t, r.Close())
	r.Observe(result(3, policies.Hold, false, intersection.Queues{}))
	assert.Equal(t, 3, r.Len())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines := make([]TraceLine, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		l := TraceLine{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &l))
		lines = append(lines, l)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "Advance", lines[1].Action)
	assert.Equal(t, -4.0, lines[1].Reward)
	assert.Equal(t, "(1, 0, 0, 0 | 0)", lines[1].State)
	assert.Equal(t, 2, lines[1].QueueTotal)
}

func TestRecorderTraceError(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "missing", "trace.jsonl"))
	r.Observe(result(1, policies.Hold, false, intersection.Queues{}))
	// recording goes on without the trace
	r.Observe(result(2, policies.Hold, false, intersection.Queues{}))
	assert.Error(t, r.Close())
	assert.Error(t, r.Err())
	assert.Equal(t, 2, r.Len())
}

func TestRecorderTraceOutlivesTheBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	r := NewRecorder(path)
	n := 3*traceBuffer + 7
	for i := 0; i < n; i++ {
		r.Observe(result(uint64(i+1), policies.Hold, false, intersection.Queues{i % 4, 0, 0, 0}))
	}
	require.NoError(t, r.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	steps := make([]uint64, 0, n)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		l := TraceLine{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &l))
		steps = append(steps, l.Step)
	}
	require.Len(t, steps, n)
	for i, s := range steps {
		assert.Equal(t, uint64(i+1), s)
	}
}

func TestMovingAverage(t *testing.T) {
	assert.Equal(t, []float64{1, 1.5, 2.5, 3.5}, MovingAverage([]float64{1, 2, 3, 4}, 2))
	assert.Equal(t, []float64{1, 2}, MovingAverage([]float64{1, 2}, 0))
	assert.Empty(t, MovingAverage(nil, 3))
}

func TestPlot(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder("")
	// nothing to plot
	require.NoError(t, r.Plot(filepath.Join(dir, "empty.png"), 5))
	assert.NoFileExists(t, filepath.Join(dir, "empty.png"))

	for i := 0; i < 20; i++ {
		r.Observe(result(uint64(i+1), policies.Hold, false, intersection.Queues{i % 3, 0, 0, 0}))
	}
	path := filepath.Join(dir, "plots", "reward.png")
	require.NoError(t, r.Plot(path, 5))
	assert.FileExists(t, path)

	assert.Error(t, PlotSeries(path, "x", "y", []string{"a"}, nil))
}

func TestComparison(t *testing.T) {
	dir := t.TempDir()
	c := NewComparison(logging.Discard())
	for i, name := range []string{"low", "high"} {
		q := i + 1
		c.AddExperiment(NewExperiment(name, func(_ context.Context, r *Recorder) error {
			for s := 0; s < 10; s++ {
				r.Observe(result(uint64(s+1), policies.Hold, false, intersection.Queues{q, 0, 0, 0}))
			}
			return nil
		}))
	}
	got := make(map[string]DataSet)
	c.AddAnalysis("reward", RewardAnalyzer(3), func(names []string, ds []DataSet) error {
		for i := range names {
			got[names[i]] = ds[i]
		}
		return nil
	})
	c.AddAnalysis("queues", QueueAnalyzer(3), PlotComparator(dir, "queues", "Queued vehicles"))

	summaries, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, -1.0, summaries[0].MeanReward)
	assert.Equal(t, -4.0, summaries[1].MeanReward)
	assert.Len(t, got["high"], 10)
	assert.FileExists(t, filepath.Join(dir, "queues.png"))
}

func TestComparisonStopsOnError(t *testing.T) {
	c := NewComparison(logging.Discard())
	c.AddExperiment(NewExperiment("broken", func(context.Context, *Recorder) error {
		return errors.New("boom")
	}))
	_, err := c.Run(context.Background())
	assert.ErrorContains(t, err, "broken")
}
