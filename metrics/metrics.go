package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the control loop collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	steps        prometheus.Counter
	actions      *prometheus.CounterVec
	explorations prometheus.Counter
	reward       prometheus.Gauge
	rewards      prometheus.Histogram
	queueLength  *prometheus.GaugeVec
	phase        prometheus.Gauge
	tableSize    prometheus.Gauge
	saves        *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		steps: f.NewCounter(prometheus.CounterOpts{
			Name: "traffic_signal_decision_steps_total",
			Help: "Decision steps executed by the control loop",
		}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_signal_actions_total",
			Help: "Actions chosen by the policy",
		}, []string{"action"}),
		explorations: f.NewCounter(prometheus.CounterOpts{
			Name: "traffic_signal_random_actions_total",
			Help: "Actions chosen at random (epsilon or unseen state)",
		}),
		reward: f.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_signal_reward",
			Help: "Reward observed at the last decision step",
		}),
		rewards: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "traffic_signal_reward_distribution",
			Help:    "Distribution of rewards",
			Buckets: []float64{-256, -128, -64, -32, -16, -8, -4, -2, -1, 0},
		}),
		queueLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "traffic_signal_queue_length",
			Help: "Queue length per approach after the last action",
		}, []string{"approach"}),
		phase: f.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_signal_phase",
			Help: "Index of the approach holding green",
		}),
		tableSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_signal_qtable_entries",
			Help: "Populated rows in the Q-table",
		}),
		saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_signal_qtable_saves_total",
			Help: "Q-table save attempts by result",
		}, []string{"result"}),
	}
}

// ObserveStep records one decision step.
func (m *Metrics) ObserveStep(action string, random bool, reward float64, queues map[string]int, phase int, tableSize int) {
	if m == nil {
		return
	}
	m.steps.Inc()
	m.actions.WithLabelValues(action).Inc()
	if random {
		m.explorations.Inc()
	}
	m.reward.Set(reward)
	m.rewards.Observe(reward)
	for approach, n := range queues {
		m.queueLength.WithLabelValues(approach).Set(float64(n))
	}
	m.phase.Set(float64(phase))
	m.tableSize.Set(float64(tableSize))
}

func (m *Metrics) ObserveSave(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.saves.WithLabelValues("error").Inc()
		return
	}
	m.saves.WithLabelValues("ok").Inc()
}

func (m *Metrics) SetTableSize(n int) {
	if m == nil {
		return
	}
	m.tableSize.Set(float64(n))
}
