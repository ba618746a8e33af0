package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeu5/traffic-rl-signal/intersection"
)

type fixedLights map[intersection.Direction]intersection.LightColor

func (f fixedLights) LightFor(d intersection.Direction) intersection.LightColor {
	return f[d]
}

func quietConfig() Config {
	c := DefaultConfig()
	c.SpawnRate = 0
	return c
}

func sensorFor(w *World) *intersection.RegionSensor {
	return intersection.NewRegionSensor(w, StopLines(), 20, 2)
}

func TestStopsAtRedLight(t *testing.T) {
	w := NewWorld(quietConfig(), fixedLights{}, 1)
	w.Add(intersection.NorthToSouth, 50)
	for i := 0; i < 10; i++ {
		w.Update(1)
	}
	vehicles := w.Vehicles()
	require.Len(t, vehicles, 1)
	assert.True(t, vehicles[0].Stopped)
	assert.Equal(t, StopLines()[intersection.North], vehicles[0].Position)
	assert.Equal(t, intersection.Queues{1, 0, 0, 0}, intersection.Sample(sensorFor(w)))
}

func TestQueueKeepsSafeDistance(t *testing.T) {
	w := NewWorld(quietConfig(), fixedLights{}, 1)
	w.Add(intersection.WestToEast, 50)
	w.Add(intersection.WestToEast, 40)
	for i := 0; i < 10; i++ {
		w.Update(1)
	}
	vehicles := w.Vehicles()
	require.Len(t, vehicles, 2)
	stop := StopLines()[intersection.West]
	assert.InDelta(t, stop.X, vehicles[0].Position.X, 1e-9)
	assert.InDelta(t, stop.X-3, vehicles[1].Position.X, 1e-9)
	assert.True(t, vehicles[1].Stopped)
	assert.Equal(t, intersection.Queues{0, 0, 0, 2}, intersection.Sample(sensorFor(w)))
}

func TestGreenLightDrainsQueue(t *testing.T) {
	lights := fixedLights{}
	w := NewWorld(quietConfig(), lights, 1)
	w.Add(intersection.EastToWest, 50)
	w.Add(intersection.EastToWest, 45)
	for i := 0; i < 10; i++ {
		w.Update(1)
	}
	assert.Equal(t, 2, intersection.Sample(sensorFor(w))[intersection.East])

	w.SetLights(fixedLights{intersection.EastToWest: intersection.Green})
	for i := 0; i < 30; i++ {
		w.Update(1)
	}
	assert.Empty(t, w.Vehicles())
	assert.Equal(t, 2, w.Summary().Departed)
	assert.Equal(t, 2, w.Summary().MaxQueues[intersection.East])
}

func TestMovingVehiclesAreNotQueued(t *testing.T) {
	w := NewWorld(quietConfig(), fixedLights{intersection.SouthToNorth: intersection.Green}, 1)
	w.Add(intersection.SouthToNorth, 50)
	w.Update(1)
	assert.False(t, w.Vehicles()[0].Stopped)
	assert.Equal(t, intersection.Queues{}, intersection.Sample(sensorFor(w)))
}

func TestSpawnsAreSeeded(t *testing.T) {
	run := func(seed uint64) Summary {
		cfg := DefaultConfig()
		cfg.SpawnRate = 2
		w := NewWorld(cfg, fixedLights{}, seed)
		for i := 0; i < 500; i++ {
			w.Update(0.1)
		}
		return w.Summary()
	}
	a := run(7)
	assert.Equal(t, a, run(7))
	assert.Positive(t, a.Spawned)
	assert.InDelta(t, 50.0, a.Elapsed, 1e-6)
}

func TestUpdateIgnoresNonPositiveFrames(t *testing.T) {
	w := NewWorld(DefaultConfig(), fixedLights{}, 1)
	w.Update(0)
	w.Update(-1)
	assert.Equal(t, Summary{}, w.Summary())
}

type countingTicker struct {
	every int
	calls int
}

func (c *countingTicker) Tick(context.Context, time.Duration) bool {
	c.calls++
	return c.calls%c.every == 0
}

func TestDrive(t *testing.T) {
	w := NewWorld(quietConfig(), fixedLights{}, 1)
	c := &countingTicker{every: 5}
	steps := Drive(context.Background(), w, c, 50, FrameDuration(50))
	assert.Equal(t, 10, steps)
	assert.Equal(t, 50, c.calls)
	assert.InDelta(t, 1.0, w.Summary().Elapsed, 1e-9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, Drive(ctx, w, c, 50, FrameDuration(50)))
}

func TestDirectionWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpawnRate = 2
	cfg.DirectionWeights = []float64{0, 0, 1, 0}
	w := NewWorld(cfg, fixedLights{intersection.WestToEast: intersection.Green}, 3)
	for i := 0; i < 200; i++ {
		w.Update(0.1)
	}
	require.NotEmpty(t, w.Vehicles())
	for _, v := range w.Vehicles() {
		assert.Equal(t, intersection.WestToEast, v.Direction)
	}
}
