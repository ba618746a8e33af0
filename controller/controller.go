package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeu5/traffic-rl-signal/intersection"
	"github.com/zeu5/traffic-rl-signal/logging"
	"github.com/zeu5/traffic-rl-signal/metrics"
	"github.com/zeu5/traffic-rl-signal/policies"
	"github.com/zeu5/traffic-rl-signal/publish"
	"github.com/zeu5/traffic-rl-signal/store"
	"golang.org/x/time/rate"
)

const publishWarnInterval = 30 * time.Second

var ErrNoSensor = errors.New("controller: a queue sensor is required")

// Config of the learning controller
type Config struct {
	Alpha            float64
	Gamma            float64
	Epsilon          float64
	DecisionInterval time.Duration
	QueueCap         int

	LoadOnStart    bool
	SaveOnShutdown bool
}

// Options are the collaborators of the controller. Only Sensor is required.
type Options struct {
	Sensor    intersection.QueueSensor
	Store     store.Store
	Publisher publish.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Rand drives exploration, seeded from the clock when nil
	Rand  policies.Rand
	Clock Clock
	// Observers are called at the end of every step, on the loop goroutine
	Observers []func(StepResult)
}

// StepResult describes one decision step
type StepResult struct {
	Step       uint64
	Queues     intersection.Queues
	State      policies.StateKey
	Action     policies.Action
	Random     bool
	NextQueues intersection.Queues
	Reward     float64
	NextState  policies.StateKey
	QValue     float64
	Signal     intersection.Signal
}

// Stats is a read-only summary safe to read from any goroutine
type Stats struct {
	Steps      uint64              `json:"steps"`
	Phase      intersection.Phase  `json:"phase"`
	PhaseTimer int                 `json:"phase_timer"`
	LastReward float64             `json:"last_reward"`
	LastAction string              `json:"last_action"`
	Queues     intersection.Queues `json:"queues"`
	TableSize  int                 `json:"table_size"`
	Explored   uint64              `json:"explored"`
	Signal     intersection.Signal `json:"signal"`
}

// Controller is the online Q-learning signal controller. Decision steps are
// strictly sequential; LightFor, Signal and Stats may be called concurrently
// with them.
type Controller struct {
	config    Config
	sensor    intersection.QueueSensor
	store     store.Store
	publisher publish.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     Clock
	observers []func(StepResult)

	encoder  policies.Encoder
	policy   *policies.QLearningPolicy
	actuator *intersection.Actuator

	// guards the policy table and the step sequence
	lock     *sync.Mutex
	elapsed  time.Duration
	explored uint64
	stopped  bool
	saves    int

	stats atomic.Pointer[Stats]

	publishFailures atomic.Uint64
	publishWarn     *rate.Sometimes
}

func New(config Config, opts Options) (*Controller, error) {
	if opts.Sensor == nil {
		return nil, ErrNoSensor
	}
	if config.DecisionInterval <= 0 {
		return nil, fmt.Errorf("controller: decision interval must be positive, got %s", config.DecisionInterval)
	}
	r := opts.Rand
	if r == nil {
		r = policies.NewRand(0)
	}
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}

	c := &Controller{
		config:    config,
		sensor:    opts.Sensor,
		store:     opts.Store,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logging.OrDefault(opts.Logger),
		clock:     clock,
		observers: opts.Observers,
		encoder:   policies.NewEncoder(config.QueueCap),
		policy:    policies.NewQLearningPolicy(config.Alpha, config.Gamma, config.Epsilon, r),
		actuator:  intersection.NewActuator(),
		lock:      new(sync.Mutex),

		publishWarn: &rate.Sometimes{First: 1, Interval: publishWarnInterval},
	}
	c.stats.Store(&Stats{})
	return c, nil
}

// Start loads the persisted table when configured, resets the phase machine
// to phase 0 and publishes the initial lights.
func (c *Controller) Start(ctx context.Context) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.config.LoadOnStart && c.store != nil {
		c.policy.SetTable(store.LoadOrEmpty(c.store, c.logger))
	}
	c.actuator.Reset()
	c.elapsed = 0
	c.stopped = false
	c.metrics.SetTableSize(c.policy.Table().Len())

	signal := c.actuator.Current()
	c.stats.Store(&Stats{Signal: signal, TableSize: c.policy.Table().Len()})
	c.publish(ctx, signal)
	c.logger.Info("controller started",
		"alpha", c.config.Alpha,
		"gamma", c.config.Gamma,
		"epsilon", c.config.Epsilon,
		"decision_interval", c.config.DecisionInterval,
		"queue_cap", c.config.QueueCap,
		"entries", c.policy.Table().Len(),
	)
}

// Tick accumulates elapsed time and runs a decision step once a full
// interval has accumulated, after which the accumulator restarts at zero.
// Returns whether a step ran.
func (c *Controller) Tick(ctx context.Context, dt time.Duration) bool {
	c.lock.Lock()
	if c.stopped {
		c.lock.Unlock()
		return false
	}
	c.elapsed += dt
	if c.elapsed < c.config.DecisionInterval {
		c.lock.Unlock()
		return false
	}
	c.elapsed = 0
	res := c.step()
	c.lock.Unlock()

	c.publish(ctx, res.Signal)
	c.notify(res)
	return true
}

// Step runs one decision step immediately, regardless of the accumulator.
func (c *Controller) Step(ctx context.Context) (StepResult, bool) {
	c.lock.Lock()
	if c.stopped {
		c.lock.Unlock()
		return StepResult{}, false
	}
	res := c.step()
	c.lock.Unlock()

	c.publish(ctx, res.Signal)
	c.notify(res)
	return res, true
}

func (c *Controller) step() StepResult {
	queues := intersection.Sample(c.sensor)
	state := c.encoder.Encode(queues, c.actuator.Phase())

	action, random := c.policy.NextAction(state)
	if random {
		c.explored += 1
	}

	switch action {
	case policies.Advance:
		c.actuator.Advance()
	default:
		c.actuator.Hold()
	}

	nextQueues := intersection.Sample(c.sensor)
	reward := policies.Reward(nextQueues)
	nextState := c.encoder.Encode(nextQueues, c.actuator.Phase())

	qValue := c.policy.Update(state, action, reward, nextState)

	signal := c.actuator.Publish()

	tableSize := c.policy.Table().Len()
	c.stats.Store(&Stats{
		Steps:      signal.Step,
		Phase:      signal.Phase,
		PhaseTimer: signal.PhaseTimer,
		LastReward: reward,
		LastAction: action.String(),
		Queues:     nextQueues,
		TableSize:  tableSize,
		Explored:   c.explored,
		Signal:     signal,
	})
	c.metrics.ObserveStep(action.String(), random, reward, queueLabels(nextQueues), int(signal.Phase), tableSize)
	c.logger.Debug("decision step",
		"step", signal.Step,
		"state", state.Hash(),
		"action", action.String(),
		"random", random,
		"reward", reward,
		"next_state", nextState.Hash(),
		"q", qValue,
	)

	return StepResult{
		Step:       signal.Step,
		Queues:     queues,
		State:      state,
		Action:     action,
		Random:     random,
		NextQueues: nextQueues,
		Reward:     reward,
		NextState:  nextState,
		QValue:     qValue,
		Signal:     signal,
	}
}

func (c *Controller) publish(ctx context.Context, s intersection.Signal) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.Publish(ctx, s)
	if err == nil {
		return
	}
	failures := c.publishFailures.Add(1)
	c.publishWarn.Do(func() {
		c.logger.Warn("failed to publish signal", "step", s.Step, "failures", failures, "error", err)
	})
}

func (c *Controller) notify(res StepResult) {
	for _, o := range c.observers {
		o(res)
	}
}

func queueLabels(q intersection.Queues) map[string]int {
	out := make(map[string]int, intersection.NumApproaches)
	for _, a := range intersection.Approaches {
		out[a.String()] = q[a]
	}
	return out
}

// Run drives Tick from the clock every frame until ctx is done. Frame is the
// polling period and is independent of the decision interval.
func (c *Controller) Run(ctx context.Context, frame time.Duration) {
	if frame <= 0 {
		frame = c.config.DecisionInterval / 10
	}
	ticker := c.clock.NewTicker(frame)
	defer ticker.Stop()

	last := c.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			now := c.clock.Now()
			c.Tick(ctx, now.Sub(last))
			last = now
		}
	}
}

// Shutdown saves the table when configured. It is safe to call more than
// once; every call serializes the same in-memory table and stops further
// decision steps. Failures are logged and returned, never fatal.
func (c *Controller) Shutdown() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.stopped = true

	if !c.config.SaveOnShutdown || c.store == nil {
		return nil
	}
	err := c.store.Save(c.policy.Table())
	c.metrics.ObserveSave(err)
	c.saves += 1
	if err != nil {
		c.logger.Error("failed to save q-table", "error", err)
		return err
	}
	c.logger.Info("saved q-table", "entries", c.policy.Table().Len(), "save", c.saves)
	return nil
}

// LightFor is the query used by vehicle agents.
func (c *Controller) LightFor(d intersection.Direction) intersection.LightColor {
	return c.actuator.LightFor(d)
}

// Signal returns the last published light state.
func (c *Controller) Signal() intersection.Signal {
	return c.actuator.Current()
}

func (c *Controller) Stats() Stats {
	return *c.stats.Load()
}

// Table returns a copy of the learned table.
func (c *Controller) Table() *policies.QTable {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.policy.Table().Copy()
}
