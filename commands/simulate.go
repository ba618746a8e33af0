package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-rl-signal/analysis"
	"github.com/zeu5/traffic-rl-signal/controller"
	"github.com/zeu5/traffic-rl-signal/policies"
	"github.com/zeu5/traffic-rl-signal/sim"
)

var (
	duration time.Duration
	epsilons []float64
	plotPath string
	window   int
	simTrace string
	noSave   bool
)

// simulation trains one controller against its own simulated world.
func simulation(a *app, epsilon float64, save bool, trace string) analysis.RunFunc {
	return func(ctx context.Context, r *analysis.Recorder) error {
		observers := []func(controller.StepResult){r.Observe}
		if trace != "" {
			tr := analysis.NewRecorder(trace)
			defer func() {
				if err := tr.Close(); err != nil {
					a.logger.Warn("trace is incomplete", "path", trace, "error", err)
				}
			}()
			observers = append(observers, tr.Observe)
		}
		cfg := a.controllerConfig()
		cfg.Epsilon = epsilon
		cfg.SaveOnShutdown = cfg.SaveOnShutdown && save

		seed := a.seed()
		w := sim.NewWorld(a.worldConfig(), nil, seed)
		ctrl, err := controller.New(cfg, controller.Options{
			Sensor:    a.sensor(w),
			Store:     a.store,
			Metrics:   a.metrics,
			Logger:    a.logger,
			Rand:      policies.NewRand(seed),
			Observers: observers,
		})
		if err != nil {
			return err
		}
		w.SetLights(ctrl)
		ctrl.Start(ctx)

		frame := sim.FrameDuration(a.config.Simulation.FrameRate)
		frames := int(duration / frame)
		steps := sim.Drive(ctx, w, ctrl, frames, frame)

		summary := w.Summary()
		a.logger.Info("simulation done",
			"epsilon", epsilon,
			"steps", steps,
			"spawned", summary.Spawned,
			"departed", summary.Departed,
			"max_queues", summary.MaxQueues,
		)
		if err := ctrl.Shutdown(); err != nil {
			a.logger.Warn("table was not saved", "error", err)
		}
		return ctx.Err()
	}
}

// Simulate trains against the built-in world in simulated time. With more
// than one epsilon the runs are compared and nothing is saved.
func Simulate(ctx context.Context, a *app, out io.Writer) error {
	rates := epsilons
	if len(rates) == 0 {
		rates = []float64{a.config.Learning.Epsilon}
	}
	save := len(rates) == 1 && !noSave

	c := analysis.NewComparison(a.logger)
	for i, e := range rates {
		trace := ""
		if simTrace != "" && len(rates) == 1 {
			trace = simTrace
		} else if simTrace != "" {
			trace = simTrace + "." + strconv.Itoa(i)
		}
		c.AddExperiment(analysis.NewExperiment(fmt.Sprintf("epsilon=%.2f", e), simulation(a, e, save, trace)))
	}
	if plotPath != "" {
		c.AddAnalysis("reward", analysis.RewardAnalyzer(window), analysis.PlotComparator(plotPath, "reward", "Reward (moving average)"))
		c.AddAnalysis("queues", analysis.QueueAnalyzer(window), analysis.PlotComparator(plotPath, "queues", "Queued vehicles (moving average)"))
	}

	summaries, err := c.Run(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "experiment\tsteps\tmean reward\tstd reward\tmean queue\tmax queue\texplored")
	for i, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%.3f\t%.3f\t%.3f\t%.0f\t%d\n",
			c.Experiments[i].Name, s.Steps, s.MeanReward, s.StdReward, s.MeanQueue, s.MaxQueue, s.Explored)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if plotPath != "" && len(c.Experiments) == 1 {
		return c.Experiments[0].Recorder.Plot(filepath.Join(plotPath, "reward_curve.png"), window)
	}
	return nil
}

func SimulateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Train the controller against the built-in traffic simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Simulate(ctx, a, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", time.Hour, "Simulated time to run for")
	cmd.Flags().Float64SliceVar(&epsilons, "epsilon", nil, "Exploration rates to compare, defaults to the configured one")
	cmd.Flags().StringVarP(&plotPath, "plots", "p", "", "Save plots in the specified folder")
	cmd.Flags().IntVar(&window, "window", 50, "Moving average window of the plots")
	cmd.Flags().StringVar(&simTrace, "trace", "", "Append every decision step to this jsonl file")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not save the learned table")
	return cmd
}
