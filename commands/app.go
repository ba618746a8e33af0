package commands

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zeu5/traffic-rl-signal/config"
	"github.com/zeu5/traffic-rl-signal/controller"
	"github.com/zeu5/traffic-rl-signal/intersection"
	"github.com/zeu5/traffic-rl-signal/logging"
	"github.com/zeu5/traffic-rl-signal/metrics"
	"github.com/zeu5/traffic-rl-signal/sim"
	"github.com/zeu5/traffic-rl-signal/store"
)

// app holds what every command builds from the configuration.
type app struct {
	config  config.Config
	runID   string
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   store.Store
	closers []func() error
}

func newApp(cfg config.Config, logOutput io.Writer) (*app, error) {
	logger := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  logging.Format(cfg.Log.Format),
		Output:  logOutput,
		Service: "traffic-signal",
	})
	runID := uuid.NewString()
	a := &app{
		config:  cfg,
		runID:   runID,
		logger:  logger.With("run_id", runID),
		metrics: metrics.New(),
		closers: make([]func() error, 0),
	}
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.store = s
	return a, nil
}

func (a *app) openStore() (store.Store, error) {
	p := a.config.Persistence
	switch p.Backend {
	case config.BackendBadger:
		b, err := store.OpenBadger(p.Path(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		a.closers = append(a.closers, b.Close)
		return b, nil
	default:
		return store.NewFileStore(p.Path()), nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = a.closers[:0]
}

func (a *app) controllerConfig() controller.Config {
	l := a.config.Learning
	return controller.Config{
		Alpha:            l.Alpha,
		Gamma:            l.Gamma,
		Epsilon:          l.Epsilon,
		DecisionInterval: l.DecisionInterval.Std(),
		QueueCap:         l.QueueCap,
		LoadOnStart:      a.config.Persistence.LoadFromFile,
		SaveOnShutdown:   a.config.Persistence.SaveToFile,
	}
}

// seed returns the configured seed, or one from the clock when unset.
func (a *app) seed() uint64 {
	if a.config.Learning.Seed != 0 {
		return a.config.Learning.Seed
	}
	return uint64(time.Now().UnixNano())
}

// stopLines returns the configured stop lines, falling back to the layout of
// the simulator for approaches that are not configured.
func (a *app) stopLines() map[intersection.Approach]intersection.Vec2 {
	lines := sim.StopLines()
	for _, approach := range intersection.Approaches {
		if p, ok := a.config.Sensor.StopLines[approach.String()]; ok {
			lines[approach] = intersection.Vec2{X: p.X, Z: p.Z}
		}
	}
	return lines
}

func (a *app) sensor(source intersection.SnapshotSource) *intersection.RegionSensor {
	return intersection.NewRegionSensor(source, a.stopLines(), a.config.Sensor.MaxQueueDistance, a.config.Sensor.LaneHalfWidth)
}

func (a *app) worldConfig() sim.Config {
	s := a.config.Simulation
	c := sim.DefaultConfig()
	c.SpawnRate = s.SpawnRate
	c.Speed = s.Speed
	c.SafeDistance = s.SafeDistance
	c.DirectionWeights = s.DirectionWeights
	return c
}
