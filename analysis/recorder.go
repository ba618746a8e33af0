// Package analysis records decision steps of the controller and summarizes
// and plots how the learner is doing.
package analysis

import (
	"encoding/json"
	"sync"

	"github.com/zeu5/traffic-rl-signal/controller"
	"github.com/zeu5/traffic-rl-signal/policies"
	"github.com/zeu5/traffic-rl-signal/util"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TraceLine is one line of the jsonl step trace
type TraceLine struct {
	Step       uint64  `json:"step"`
	State      string  `json:"state"`
	Action     string  `json:"action"`
	Random     bool    `json:"random"`
	Reward     float64 `json:"reward"`
	NextState  string  `json:"next_state"`
	QValue     float64 `json:"q"`
	QueueTotal int     `json:"queue_total"`
}

// lines the trace writer may fall behind before Observe waits for it
const traceBuffer = 1024

// Recorder collects every step it observes. Use Observe as a controller
// observer.
type Recorder struct {
	lock     *sync.Mutex
	rewards  []float64
	queues   []float64
	actions  map[policies.Action]int
	explored int

	// trace lines are written by a single goroutine owning the file
	trace     chan []byte
	traceDone chan struct{}
	closed    bool
	// guards traceErr, never held while sending on trace
	errLock  *sync.Mutex
	traceErr error
}

// NewRecorder creates a recorder. When tracePath is not empty every step is
// appended to it as a json line. Call Close to flush the trace.
func NewRecorder(tracePath string) *Recorder {
	r := &Recorder{
		lock:    new(sync.Mutex),
		rewards: make([]float64, 0),
		queues:  make([]float64, 0),
		actions: make(map[policies.Action]int),
		errLock: new(sync.Mutex),
	}
	if tracePath != "" {
		r.trace = make(chan []byte, traceBuffer)
		r.traceDone = make(chan struct{})
		go r.writeTrace(tracePath)
	}
	return r
}

// writeTrace keeps draining after an error so Observe never blocks on a
// dead writer.
func (r *Recorder) writeTrace(path string) {
	defer close(r.traceDone)
	w, err := util.OpenAppend(path)
	if err != nil {
		r.fail(err)
		for range r.trace {
		}
		return
	}
	for line := range r.trace {
		if r.Err() != nil {
			continue
		}
		if err := w.WriteLine(line); err != nil {
			r.fail(err)
			continue
		}
		if len(r.trace) == 0 {
			if err := w.Flush(); err != nil {
				r.fail(err)
			}
		}
	}
	if err := w.Close(); err != nil {
		r.fail(err)
	}
}

func (r *Recorder) fail(err error) {
	r.errLock.Lock()
	defer r.errLock.Unlock()
	if r.traceErr == nil {
		r.traceErr = err
	}
}

func (r *Recorder) Observe(res controller.StepResult) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.rewards = append(r.rewards, res.Reward)
	r.queues = append(r.queues, float64(res.NextQueues.Total()))
	r.actions[res.Action] += 1
	if res.Random {
		r.explored += 1
	}

	if r.trace == nil || r.closed || r.Err() != nil {
		return
	}
	line, err := json.Marshal(TraceLine{
		Step:       res.Step,
		State:      res.State.Hash(),
		Action:     res.Action.String(),
		Random:     res.Random,
		Reward:     res.Reward,
		NextState:  res.NextState.Hash(),
		QValue:     res.QValue,
		QueueTotal: res.NextQueues.Total(),
	})
	if err != nil {
		r.fail(err)
		return
	}
	r.trace <- line
}

// Err returns the first error hit while writing the trace. Tracing stops
// after the first error.
func (r *Recorder) Err() error {
	r.errLock.Lock()
	defer r.errLock.Unlock()
	return r.traceErr
}

// Close stops tracing, waits for the pending lines to be written and
// returns the first trace error. Steps observed afterwards are still
// recorded but not traced.
func (r *Recorder) Close() error {
	r.lock.Lock()
	if r.trace == nil || r.closed {
		r.lock.Unlock()
		return r.Err()
	}
	r.closed = true
	close(r.trace)
	r.lock.Unlock()

	<-r.traceDone
	return r.Err()
}

func (r *Recorder) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.rewards)
}

// Rewards returns a copy of the recorded rewards in step order.
func (r *Recorder) Rewards() []float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]float64, len(r.rewards))
	copy(out, r.rewards)
	return out
}

// QueueTotals returns the total queued vehicles after every step.
func (r *Recorder) QueueTotals() []float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]float64, len(r.queues))
	copy(out, r.queues)
	return out
}

type Summary struct {
	Steps      int     `json:"steps"`
	MeanReward float64 `json:"mean_reward"`
	StdReward  float64 `json:"std_reward"`
	MinReward  float64 `json:"min_reward"`
	MeanQueue  float64 `json:"mean_queue"`
	MaxQueue   float64 `json:"max_queue"`
	Holds      int     `json:"holds"`
	Advances   int     `json:"advances"`
	Explored   int     `json:"explored"`
}

func (r *Recorder) Summary() Summary {
	r.lock.Lock()
	defer r.lock.Unlock()

	s := Summary{
		Steps:    len(r.rewards),
		Holds:    r.actions[policies.Hold],
		Advances: r.actions[policies.Advance],
		Explored: r.explored,
	}
	if len(r.rewards) == 0 {
		return s
	}
	s.MeanReward, s.StdReward = stat.MeanStdDev(r.rewards, nil)
	if len(r.rewards) == 1 {
		s.StdReward = 0
	}
	s.MinReward = floats.Min(r.rewards)
	s.MeanQueue = stat.Mean(r.queues, nil)
	s.MaxQueue = floats.Max(r.queues)
	return s
}
