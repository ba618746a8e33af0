package publish

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeu5/traffic-rl-signal/intersection"
)

// Publisher pushes the light state to consumers outside the process after
// every decision step.
type Publisher interface {
	Publish(context.Context, intersection.Signal) error
}

// Message is the wire form of a published signal
type Message struct {
	Phase      int               `json:"phase"`
	PhaseTimer int               `json:"phase_timer"`
	Step       uint64            `json:"step"`
	Lights     map[string]string `json:"lights"`
	Time       time.Time         `json:"time"`
}

func NewMessage(s intersection.Signal, now time.Time) Message {
	lights := make(map[string]string)
	for d, c := range s.Lights() {
		lights[d.String()] = c.String()
	}
	return Message{
		Phase:      int(s.Phase),
		PhaseTimer: s.PhaseTimer,
		Step:       s.Step,
		Lights:     lights,
		Time:       now,
	}
}

// Multi fans out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, s intersection.Signal) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Memory keeps the history of published signals, mostly for tests and the
// simulator.
type Memory struct {
	lock    *sync.Mutex
	signals []intersection.Signal
}

func NewMemory() *Memory {
	return &Memory{
		lock:    new(sync.Mutex),
		signals: make([]intersection.Signal, 0),
	}
}

func (m *Memory) Publish(_ context.Context, s intersection.Signal) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.signals = append(m.signals, s)
	return nil
}

func (m *Memory) Signals() []intersection.Signal {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make([]intersection.Signal, len(m.signals))
	copy(out, m.signals)
	return out
}

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis stores the latest signal under Key and announces it on Channel.
type Redis struct {
	client  redisClient
	Key     string
	Channel string
	now     func() time.Time
}

var _ Publisher = &Redis{}

func NewRedis(addr, key, channel string) (*Redis, *redis.Client) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return newRedis(cli, key, channel), cli
}

func newRedis(cli redisClient, key, channel string) *Redis {
	return &Redis{
		client:  cli,
		Key:     key,
		Channel: channel,
		now:     time.Now,
	}
}

func (r *Redis) Publish(ctx context.Context, s intersection.Signal) error {
	bs, err := json.Marshal(NewMessage(s, r.now()))
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.Key, bs, 0).Err(); err != nil {
		return err
	}
	if r.Channel == "" {
		return nil
	}
	return r.client.Publish(ctx, r.Channel, bs).Err()
}
