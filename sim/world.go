// Package sim is a coarse scripted traffic world used to train and exercise
// the controller without an external simulator. Vehicles spawn at random on
// the four approaches, drive straight through, stop at the stop line while
// their light is red and keep a safe distance from the vehicle ahead.
package sim

import (
	"sort"
	"sync"

	"github.com/zeu5/traffic-rl-signal/intersection"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Lights is what vehicles consult before crossing their stop line.
type Lights interface {
	LightFor(intersection.Direction) intersection.LightColor
}

type Config struct {
	// SpawnRate is the expected number of vehicles per second over all approaches
	SpawnRate    float64
	Speed        float64
	SafeDistance float64
	// StopThreshold is the speed under which a vehicle counts as stopped
	StopThreshold float64
	// SpawnCheckRadius keeps new vehicles from spawning on top of another
	SpawnCheckRadius float64
	// DirectionWeights skews spawns towards some directions, in the order of
	// intersection.Directions. Nil means uniform.
	DirectionWeights []float64
}

func DefaultConfig() Config {
	return Config{
		SpawnRate:        0.4,
		Speed:            3,
		SafeDistance:     3,
		StopThreshold:    0.1,
		SpawnCheckRadius: 2,
	}
}

const (
	// distance from the center of the intersection to each stop line
	stopOffset = 8.0
	// lateral offset of each lane from the road axis
	laneOffset = 1.5
	// distance from the spawn point to the stop line
	approachLength = 60.0
	// distance past the stop line after which vehicles despawn
	exitLength = 2*stopOffset + 20.0
)

type car struct {
	id        int
	direction intersection.Direction
	// distance travelled from the spawn point
	progress float64
	stopped  bool
}

func (c *car) passed() bool {
	return c.progress > approachLength
}

// World is safe for concurrent use: Update is called by the world driver and
// Vehicles by the sensor.
type World struct {
	config  Config
	lights  Lights
	src     rand.Source
	rand    *rand.Rand
	arrival distuv.Poisson

	lock    *sync.Mutex
	cars    []*car
	nextID  int
	elapsed float64

	spawned   int
	departed  int
	maxQueues intersection.Queues
}

var _ intersection.SnapshotSource = &World{}

func NewWorld(config Config, lights Lights, seed uint64) *World {
	src := rand.NewSource(seed)
	return &World{
		config: config,
		lights: lights,
		src:    src,
		rand:   rand.New(src),
		arrival: distuv.Poisson{
			Lambda: 1,
			Src:    src,
		},
		lock: new(sync.Mutex),
		cars: make([]*car, 0),
	}
}

// SetLights attaches the light source, used when the controller is built
// after the world.
func (w *World) SetLights(l Lights) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.lights = l
}

// StopLines returns the stop line position of every approach, for the sensor.
func StopLines() map[intersection.Approach]intersection.Vec2 {
	return map[intersection.Approach]intersection.Vec2{
		intersection.North: {X: -laneOffset, Z: stopOffset},
		intersection.South: {X: laneOffset, Z: -stopOffset},
		intersection.East:  {X: stopOffset, Z: laneOffset},
		intersection.West:  {X: -stopOffset, Z: -laneOffset},
	}
}

// position maps progress along a lane to the ground plane
func position(d intersection.Direction, progress float64) intersection.Vec2 {
	stop := StopLines()[d.Approach()]
	// signed distance past the stop line
	past := progress - approachLength
	switch d {
	case intersection.NorthToSouth:
		return intersection.Vec2{X: stop.X, Z: stop.Z - past}
	case intersection.SouthToNorth:
		return intersection.Vec2{X: stop.X, Z: stop.Z + past}
	case intersection.EastToWest:
		return intersection.Vec2{X: stop.X - past, Z: stop.Z}
	default:
		return intersection.Vec2{X: stop.X + past, Z: stop.Z}
	}
}

// Update advances the world by dt seconds.
func (w *World) Update(dt float64) {
	if dt <= 0 {
		return
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	w.elapsed += dt
	w.spawn(dt)
	w.move(dt)
	w.trackQueues()
}

func (w *World) spawn(dt float64) {
	if w.config.SpawnRate <= 0 {
		return
	}
	w.arrival.Lambda = w.config.SpawnRate * dt
	n := int(w.arrival.Rand())
	for i := 0; i < n; i++ {
		d, ok := w.pickDirection()
		if !ok || w.spawnBlocked(d) {
			continue
		}
		w.cars = append(w.cars, &car{id: w.nextID, direction: d})
		w.nextID++
		w.spawned++
	}
}

func (w *World) pickDirection() (intersection.Direction, bool) {
	if len(w.config.DirectionWeights) != len(intersection.Directions) {
		return intersection.Directions[w.rand.Intn(len(intersection.Directions))], true
	}
	i, ok := sampleuv.NewWeighted(w.config.DirectionWeights, w.src).Take()
	if !ok {
		return 0, false
	}
	return intersection.Directions[i], true
}

func (w *World) spawnBlocked(d intersection.Direction) bool {
	for _, c := range w.cars {
		if c.direction == d && c.progress < w.config.SpawnCheckRadius+w.config.SafeDistance {
			return true
		}
	}
	return false
}

func (w *World) move(dt float64) {
	lanes := make(map[intersection.Direction][]*car)
	for _, c := range w.cars {
		lanes[c.direction] = append(lanes[c.direction], c)
	}

	remaining := make([]*car, 0, len(w.cars))
	for d, lane := range lanes {
		// leader first
		sort.Slice(lane, func(i, j int) bool { return lane[i].progress > lane[j].progress })
		red := w.lights != nil && w.lights.LightFor(d) != intersection.Green

		var leader *car
		for _, c := range lane {
			step := w.config.Speed * dt
			target := c.progress + step
			if red && !c.passed() && target > approachLength {
				target = approachLength
			}
			if leader != nil {
				target = min(target, leader.progress-w.config.SafeDistance)
			}
			if target < c.progress {
				target = c.progress
			}
			c.stopped = (target-c.progress)/dt < w.config.StopThreshold
			c.progress = target
			leader = c

			if c.progress > approachLength+exitLength {
				w.departed++
				continue
			}
			remaining = append(remaining, c)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].id < remaining[j].id })
	w.cars = remaining
}

func (w *World) trackQueues() {
	q := intersection.Queues{}
	for _, c := range w.cars {
		if c.stopped && !c.passed() {
			q[c.direction.Approach()]++
		}
	}
	for i, v := range q {
		w.maxQueues[i] = max(w.maxQueues[i], v)
	}
}

// Vehicles returns the current snapshot.
func (w *World) Vehicles() []intersection.Vehicle {
	w.lock.Lock()
	defer w.lock.Unlock()
	out := make([]intersection.Vehicle, len(w.cars))
	for i, c := range w.cars {
		out[i] = intersection.Vehicle{
			Position:  position(c.direction, c.progress),
			Direction: c.direction,
			Stopped:   c.stopped,
		}
	}
	return out
}

// Summary of the world since it was created
type Summary struct {
	Elapsed   float64             `json:"elapsed"`
	Spawned   int                 `json:"spawned"`
	Departed  int                 `json:"departed"`
	InFlight  int                 `json:"in_flight"`
	MaxQueues intersection.Queues `json:"max_queues"`
}

func (w *World) Summary() Summary {
	w.lock.Lock()
	defer w.lock.Unlock()
	return Summary{
		Elapsed:   w.elapsed,
		Spawned:   w.spawned,
		Departed:  w.departed,
		InFlight:  len(w.cars),
		MaxQueues: w.maxQueues,
	}
}

// Add places a vehicle at the given progress along its lane, for tests and
// scripted scenarios.
func (w *World) Add(d intersection.Direction, progress float64) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.cars = append(w.cars, &car{id: w.nextID, direction: d, progress: progress})
	w.nextID++
}
