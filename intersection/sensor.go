package intersection

import (
	"math"
	"sync"
)

// Vec2 is a point on the ground plane. X grows towards the east,
// Z grows towards the north.
type Vec2 struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Vehicle is what the sensor needs to know about one vehicle.
type Vehicle struct {
	Position  Vec2      `json:"position"`
	Direction Direction `json:"direction"`
	Stopped   bool      `json:"stopped"`
}

// SnapshotSource yields the current vehicles in the world.
// Implementations must not block.
type SnapshotSource interface {
	Vehicles() []Vehicle
}

// QueueSensor reports the number of stationary vehicles queued on an approach.
// It must be a pure function of the world snapshot.
type QueueSensor interface {
	QueueLength(Approach) int
}

// Sample reads all four approaches from the sensor.
func Sample(s QueueSensor) Queues {
	q := Queues{}
	for _, a := range Approaches {
		n := s.QueueLength(a)
		if n < 0 {
			n = 0
		}
		q[a] = n
	}
	return q
}

// RegionSensor counts stopped vehicles inside a rectangular region behind
// each approach's stop line.
type RegionSensor struct {
	Source SnapshotSource
	// StopLines by approach; an approach without a stop line always reads 0
	StopLines        map[Approach]Vec2
	MaxQueueDistance float64
	LaneHalfWidth    float64
}

var _ QueueSensor = &RegionSensor{}

func NewRegionSensor(source SnapshotSource, stopLines map[Approach]Vec2, maxQueueDistance, laneHalfWidth float64) *RegionSensor {
	return &RegionSensor{
		Source:           source,
		StopLines:        stopLines,
		MaxQueueDistance: maxQueueDistance,
		LaneHalfWidth:    laneHalfWidth,
	}
}

func (r *RegionSensor) QueueLength(a Approach) int {
	if r.Source == nil {
		return 0
	}
	stop, ok := r.StopLines[a]
	if !ok {
		return 0
	}
	count := 0
	for _, v := range r.Source.Vehicles() {
		if !v.Stopped {
			continue
		}
		if !r.InQueueRegion(a, stop, v) {
			continue
		}
		count++
	}
	return count
}

// InQueueRegion checks that the vehicle travels in the approach's direction,
// is at most MaxQueueDistance behind the stop line and within LaneHalfWidth
// of the lane centerline.
func (r *RegionSensor) InQueueRegion(a Approach, stop Vec2, v Vehicle) bool {
	if v.Direction != a.Direction() {
		return false
	}
	pos := v.Position
	var back, lateral float64
	switch a {
	case North:
		back = pos.Z - stop.Z
		lateral = pos.X - stop.X
	case South:
		back = stop.Z - pos.Z
		lateral = pos.X - stop.X
	case East:
		back = pos.X - stop.X
		lateral = pos.Z - stop.Z
	case West:
		back = stop.X - pos.X
		lateral = pos.Z - stop.Z
	default:
		return false
	}
	if back < 0 || back > r.MaxQueueDistance {
		return false
	}
	return math.Abs(lateral) <= r.LaneHalfWidth
}

// SnapshotBuffer is a SnapshotSource fed from outside, for instance by
// vehicle agents posting their state over HTTP.
type SnapshotBuffer struct {
	lock     *sync.Mutex
	vehicles []Vehicle
}

var _ SnapshotSource = &SnapshotBuffer{}

func NewSnapshotBuffer() *SnapshotBuffer {
	return &SnapshotBuffer{
		lock:     new(sync.Mutex),
		vehicles: make([]Vehicle, 0),
	}
}

// Replace swaps the whole snapshot.
func (b *SnapshotBuffer) Replace(vehicles []Vehicle) {
	cp := make([]Vehicle, len(vehicles))
	copy(cp, vehicles)
	b.lock.Lock()
	b.vehicles = cp
	b.lock.Unlock()
}

func (b *SnapshotBuffer) Vehicles() []Vehicle {
	b.lock.Lock()
	defer b.lock.Unlock()
	out := make([]Vehicle, len(b.vehicles))
	copy(out, b.vehicles)
	return out
}
