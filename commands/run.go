package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-rl-signal/analysis"
	"github.com/zeu5/traffic-rl-signal/api"
	"github.com/zeu5/traffic-rl-signal/controller"
	"github.com/zeu5/traffic-rl-signal/intersection"
	"github.com/zeu5/traffic-rl-signal/policies"
	"github.com/zeu5/traffic-rl-signal/publish"
	"github.com/zeu5/traffic-rl-signal/sim"
	"golang.org/x/sync/errgroup"
)

const (
	worldExternal  = "external"
	worldSimulated = "sim"
)

var (
	world     string
	tracePath string
)

// Run starts the controller in wall clock time until ctx is done, then saves
// the table.
func Run(ctx context.Context, a *app) error {
	var (
		source    intersection.SnapshotSource
		snapshots *intersection.SnapshotBuffer
		w         *sim.World
	)
	switch world {
	case worldSimulated:
		w = sim.NewWorld(a.worldConfig(), nil, a.seed())
		source = w
	case worldExternal:
		snapshots = intersection.NewSnapshotBuffer()
		source = snapshots
	default:
		return fmt.Errorf("unknown world %q, expected %s or %s", world, worldExternal, worldSimulated)
	}

	stream := publish.NewStream(a.logger)
	publishers := publish.Multi{stream}
	if a.config.Redis.Enabled {
		r, client := publish.NewRedis(a.config.Redis.Addr, a.config.Redis.Key, a.config.Redis.Channel)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			a.logger.Warn("redis is not reachable, signals will be retried every step", "addr", a.config.Redis.Addr, "error", err)
		}
		publishers = append(publishers, r)
	}

	observers := make([]func(controller.StepResult), 0)
	if tracePath != "" {
		recorder := analysis.NewRecorder(tracePath)
		defer func() {
			if err := recorder.Close(); err != nil {
				a.logger.Warn("trace is incomplete", "path", tracePath, "error", err)
			}
		}()
		observers = append(observers, recorder.Observe)
	}

	ctrl, err := controller.New(a.controllerConfig(), controller.Options{
		Sensor:    a.sensor(source),
		Store:     a.store,
		Publisher: publishers,
		Metrics:   a.metrics,
		Logger:    a.logger,
		Rand:      policies.NewRand(a.seed()),
		Observers: observers,
	})
	if err != nil {
		return err
	}
	if w != nil {
		w.SetLights(ctrl)
	}
	ctrl.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	frame := sim.FrameDuration(a.config.Simulation.FrameRate)
	g.Go(func() error {
		ctrl.Run(gctx, frame)
		return nil
	})
	if w != nil {
		g.Go(func() error {
			sim.RunRealtime(gctx, w, frame)
			return nil
		})
	}
	if a.config.Server.Enabled {
		server := api.NewServer(a.config.Server.Addr, ctrl, api.Options{
			Snapshots: snapshots,
			Registry:  a.metrics.Registry,
			Stream:    stream,
			RunID:     a.runID,
			Logger:    a.logger,
		})
		g.Go(func() error {
			return server.Serve(gctx)
		})
	}

	runErr := g.Wait()
	stream.Close()
	if err := ctrl.Shutdown(); err != nil {
		a.logger.Warn("table was not saved", "error", err)
	}
	stats := ctrl.Stats()
	a.logger.Info("controller stopped", "steps", stats.Steps, "entries", stats.TableSize, "explored", stats.Explored)
	if w != nil {
		summary := w.Summary()
		a.logger.Info("world", "spawned", summary.Spawned, "departed", summary.Departed, "elapsed", time.Duration(summary.Elapsed*float64(time.Second)))
	}
	return runErr
}

func RunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller in real time until interrupted",
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
			return Run(ctx, a)
		},
	}
	cmd.Flags().StringVarP(&world, "world", "w", worldExternal, "Where vehicles come from: external (POST /snapshot) or sim")
	cmd.Flags().StringVar(&tracePath, "trace", "", "Append every decision step to this jsonl file")
	return cmd
}
