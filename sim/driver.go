package sim

import (
	"context"
	"time"
)

// Ticker is the part of the controller the driver advances.
type Ticker interface {
	Tick(context.Context, time.Duration) bool
}

// Drive advances the world and the controller together in simulated time,
// frames times by dt, and returns the number of decision steps taken.
func Drive(ctx context.Context, w *World, c Ticker, frames int, dt time.Duration) int {
	steps := 0
	for i := 0; i < frames; i++ {
		if ctx.Err() != nil {
			break
		}
		w.Update(dt.Seconds())
		if c.Tick(ctx, dt) {
			steps++
		}
	}
	return steps
}

// RunRealtime updates the world every frame of wall time until ctx is done.
func RunRealtime(ctx context.Context, w *World, frame time.Duration) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Update(now.Sub(last).Seconds())
			last = now
		}
	}
}

// FrameDuration converts a frame rate to the duration of one frame.
func FrameDuration(frameRate int) time.Duration {
	if frameRate <= 0 {
		return 20 * time.Millisecond
	}
	return time.Second / time.Duration(frameRate)
}
