package controller

import (
	"sync"
	"time"
)

// Clock abstracts wall time so the loop can be driven by simulated time.
type Clock interface {
	Now() time.Time
	NewTicker(time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time {
	return r.t.C
}

func (r *realTicker) Stop() {
	r.t.Stop()
}

// ManualClock only moves when Add is called. Every Add fires the tickers
// whose period has elapsed, once per Add.
type ManualClock struct {
	lock    *sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

var _ Clock = &ManualClock{}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{
		lock: new(sync.Mutex),
		now:  start,
	}
}

func (m *ManualClock) Now() time.Time {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.now
}

func (m *ManualClock) NewTicker(d time.Duration) Ticker {
	m.lock.Lock()
	defer m.lock.Unlock()
	t := &manualTicker{
		clock:  m,
		period: d,
		next:   m.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Add moves time forward by d.
func (m *ManualClock) Add(d time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.now = m.now.Add(d)
	for _, t := range m.tickers {
		if t.stopped || m.now.Before(t.next) {
			continue
		}
		for !m.now.Before(t.next) {
			t.next = t.next.Add(t.period)
		}
		// drop the tick if the reader is behind, like time.Ticker
		select {
		case t.ch <- m.now:
		default:
		}
	}
}

type manualTicker struct {
	clock   *ManualClock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time {
	return t.ch
}

func (t *manualTicker) Stop() {
	t.clock.lock.Lock()
	defer t.clock.lock.Unlock()
	t.stopped = true
}
